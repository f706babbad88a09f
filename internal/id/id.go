// Package id generates the identifiers used for vectors, events and requests.
package id

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// ChunkID returns the deterministic identifier of one chunk of a page. The
// same page and index always map to the same id, so re-indexing a page
// overwrites its previous vectors.
func ChunkID(pageURL string, index int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(pageURL+"#"+strconv.Itoa(index))).String()
}

// Generator creates UUID v7 strings.
type Generator struct{}

// NewGenerator creates a new Generator.
func NewGenerator() Generator {
	return Generator{}
}

// NewID returns a UUID7 string.
func (Generator) NewID() (string, error) {
	v, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return v.String(), nil
}
