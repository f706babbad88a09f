package store

import (
	"context"
	"time"
)

// StoredPage is the serialized form of one indexed page.
type StoredPage struct {
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	PageType  string    `json:"pageType,omitempty"`
	SourceURL string    `json:"sourceUrl"`
	Timestamp time.Time `json:"timestamp"`
}

// PageStore keeps page text per seed so chat can fall back to it when the
// vector store has nothing.
type PageStore interface {
	// StorePage writes the page and adds it to its seed's page set.
	StorePage(ctx context.Context, page StoredPage) error
	// PagesBySource returns the pages recorded for a seed. Entries whose
	// payload is missing are skipped.
	PagesBySource(ctx context.Context, sourceURL string) ([]StoredPage, error)
	// DeletePages removes a seed's pages and its page set, returning how many
	// pages were removed.
	DeletePages(ctx context.Context, sourceURL string) (int, error)
}

// SeedRegistry tracks the seeds whose homepage has been indexed.
type SeedRegistry interface {
	AddIndexedURL(ctx context.Context, seedURL string) error
	IsIndexed(ctx context.Context, seedURL string) (bool, error)
	IndexedURLs(ctx context.Context) ([]string, error)
	ClearIndexedURLs(ctx context.Context) error
}

// Store bundles every persistence contract a backend provides.
type Store interface {
	StatusStore
	PageStore
	SeedRegistry
	Close() error
}
