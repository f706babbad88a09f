// Package vectorstore defines the namespaced vector storage contract used by
// the indexer.
package vectorstore

import (
	"context"
	"errors"
	"time"
)

// ErrDimensionMismatch reports a vector whose length differs from the
// namespace's established dimension.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Metadata travels with every stored vector.
type Metadata struct {
	SourceURL  string    `json:"sourceUrl"`
	PageURL    string    `json:"pageUrl"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	ChunkIndex int       `json:"chunkIndex"`
	Timestamp  time.Time `json:"timestamp"`
}

// Record is one vector to upsert. Upserting an existing ID replaces it.
type Record struct {
	ID       string
	Vector   []float32
	Metadata Metadata
}

// Match is a query hit, highest score first.
type Match struct {
	ID       string
	Score    float32
	Metadata Metadata
}

// Store persists vectors partitioned by namespace.
type Store interface {
	Upsert(ctx context.Context, namespace string, records []Record) error
	Query(ctx context.Context, namespace string, vector []float32, topK int) ([]Match, error)
	DeleteNamespace(ctx context.Context, namespace string) error
	// Stats returns the vector count of every namespace.
	Stats(ctx context.Context) (map[string]uint64, error)
}
