package chat

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/site-indexer/internal/index"
	"github.com/JakeFAU/site-indexer/internal/store"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

const (
	maxContextChars    = 8000
	maxFallbackChars   = 2000
	fallbackPages      = 3
	historyLines       = 5
	contextSeparator   = "\n\n---\n\n"
	promptInstruction  = "Provide a detailed answer based only on the content above:"
	noContentReplyFmt  = "I don't have any indexed content from %s yet."
	completionErrorFmt = "Error: %s"
)

// Message is one turn of the conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func section(title, content string) string {
	return "### " + title + "\n\n" + content
}

// ContextFromHits joins retrieved chunks into the prompt context.
func ContextFromHits(hits []index.Hit) string {
	parts := make([]string, 0, len(hits))
	for _, h := range hits {
		parts = append(parts, section(h.Title, h.Content))
	}
	return strings.Join(parts, contextSeparator)
}

// ContextFromPages joins the first stored pages, each truncated, into the
// prompt context.
func ContextFromPages(pages []store.StoredPage) string {
	if len(pages) > fallbackPages {
		pages = pages[:fallbackPages]
	}
	parts := make([]string, 0, len(pages))
	for _, p := range pages {
		parts = append(parts, section(p.Title, truncate(p.Content, maxFallbackChars)))
	}
	return strings.Join(parts, contextSeparator)
}

// History renders every message but the last as labeled lines and keeps the
// most recent five.
func History(messages []Message) string {
	if len(messages) <= 1 {
		return ""
	}
	lines := make([]string, 0, len(messages)-1)
	for _, m := range messages[:len(messages)-1] {
		label := "Assistant"
		if m.Role == RoleUser {
			label = "User"
		}
		lines = append(lines, label+": "+m.Content)
	}
	if len(lines) > historyLines {
		lines = lines[len(lines)-historyLines:]
	}
	return strings.Join(lines, "\n")
}

// BuildPrompt assembles the single user prompt sent to the model.
func BuildPrompt(siteURL, siteContext, history, question string) string {
	return fmt.Sprintf("You are analyzing: %s\n\nRELEVANT CONTENT:\n%s\n\nCONVERSATION HISTORY:\n%s\n\nUSER QUESTION:\n%s\n\n%s",
		siteURL, truncate(siteContext, maxContextChars), history, question, promptInstruction)
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
