// Package chunk splits extracted page text into embedding-sized pieces.
package chunk

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// DefaultMaxLength is used when Split is called with a non-positive limit.
	DefaultMaxLength = 6000
	// MinLength is the floor a chunk must exceed to be returned.
	MinLength = 100
)

var paragraphBreak = regexp.MustCompile(`\n\n+`)

// Split groups paragraphs greedily into chunks of at most maxLength
// characters. Paragraphs longer than maxLength are cut first. Chunks that are
// MinLength characters or shorter are discarded.
func Split(text string, maxLength int) []string {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}

	var (
		chunks  []string
		current strings.Builder
		size    int
	)
	flush := func() {
		if chunk := strings.TrimSpace(current.String()); utf8.RuneCountInString(chunk) > MinLength {
			chunks = append(chunks, chunk)
		}
		current.Reset()
		size = 0
	}

	for _, paragraph := range paragraphBreak.Split(text, -1) {
		for _, piece := range cut(paragraph, maxLength) {
			n := utf8.RuneCountInString(piece)
			if size > 0 && size+n > maxLength {
				flush()
			}
			current.WriteString(piece)
			current.WriteString("\n\n")
			size += n + 2
		}
	}
	if size > 0 {
		flush()
	}
	return chunks
}

// cut breaks s into pieces of at most limit runes, preferring the last
// whitespace in the back half of each window.
func cut(s string, limit int) []string {
	runes := []rune(s)
	if len(runes) <= limit {
		return []string{s}
	}
	var pieces []string
	for len(runes) > limit {
		end := limit
		for i := limit; i > limit/2; i-- {
			if unicode.IsSpace(runes[i]) {
				end = i
				break
			}
		}
		pieces = append(pieces, string(runes[:end]))
		runes = runes[end:]
		for len(runes) > 0 && unicode.IsSpace(runes[0]) {
			runes = runes[1:]
		}
	}
	if len(runes) > 0 {
		pieces = append(pieces, string(runes))
	}
	return pieces
}
