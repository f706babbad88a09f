// Package index turns page content into namespaced vectors: it chunks the
// text, embeds every chunk and upserts the results into a vectorstore.Store.
package index

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-indexer/internal/chunk"
	"github.com/JakeFAU/site-indexer/internal/clock"
	"github.com/JakeFAU/site-indexer/internal/id"
	"github.com/JakeFAU/site-indexer/internal/metrics"
	"github.com/JakeFAU/site-indexer/internal/vectorstore"
)

// UpsertBatchSize is the number of vectors sent per store call.
const UpsertBatchSize = 100

// DefaultTopK is used when a query does not ask for a specific count.
const DefaultTopK = 5

// Embedder converts text to a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Hit is a retrieved chunk.
type Hit struct {
	Content string  `json:"content"`
	Title   string  `json:"title"`
	PageURL string  `json:"pageUrl"`
	Score   float32 `json:"score"`
}

// NamespaceStats reports the vectors held for one seed.
type NamespaceStats struct {
	Namespace   string `json:"namespace"`
	VectorCount uint64 `json:"vectorCount"`
}

// Indexer embeds and stores page content.
type Indexer struct {
	embedder Embedder
	store    vectorstore.Store
	clock    clock.Clock
	logger   *zap.Logger
}

// New builds an Indexer. clk may be nil.
func New(embedder Embedder, store vectorstore.Store, clk clock.Clock, logger *zap.Logger) (*Indexer, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if store == nil {
		return nil, errors.New("vector store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{
		embedder: embedder,
		store:    store,
		clock:    clock.OrSystem(clk),
		logger:   logger.Named("indexer"),
	}, nil
}

// Index chunks content, embeds every chunk in order and upserts the vectors
// into sourceURL's namespace. It returns the number of vectors stored. The
// first embedding failure aborts the page before anything is written.
func (ix *Indexer) Index(ctx context.Context, sourceURL, pageURL, title, content string) (int, error) {
	ns := DeriveNamespace(sourceURL)
	chunks := chunk.Split(content, 0)
	if len(chunks) == 0 {
		ix.logger.Debug("no chunks to index", zap.String("page_url", pageURL))
		return 0, nil
	}

	now := ix.clock.Now()
	records := make([]vectorstore.Record, 0, len(chunks))
	for i, text := range chunks {
		vec, err := ix.embedder.Embed(ctx, text)
		if err != nil {
			return 0, fmt.Errorf("embed chunk %d of %s: %w", i, pageURL, err)
		}
		records = append(records, vectorstore.Record{
			ID:     id.ChunkID(pageURL, i),
			Vector: vec,
			Metadata: vectorstore.Metadata{
				SourceURL:  sourceURL,
				PageURL:    pageURL,
				Title:      title,
				Content:    text,
				ChunkIndex: i,
				Timestamp:  now,
			},
		})
	}

	for start := 0; start < len(records); start += UpsertBatchSize {
		end := min(start+UpsertBatchSize, len(records))
		if err := ix.store.Upsert(ctx, ns, records[start:end]); err != nil {
			return 0, fmt.Errorf("upsert vectors for %s: %w", pageURL, err)
		}
	}
	metrics.ObserveVectors(len(records))

	ix.logger.Info("page indexed",
		zap.String("namespace", ns),
		zap.String("page_url", pageURL),
		zap.Int("vectors", len(records)),
	)
	return len(records), nil
}

// Query embeds text and returns the closest chunks in sourceURL's namespace.
func (ix *Indexer) Query(ctx context.Context, sourceURL, text string, topK int) ([]Hit, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	vec, err := ix.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	ns := DeriveNamespace(sourceURL)
	matches, err := ix.store.Query(ctx, ns, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("query namespace %s: %w", ns, err)
	}
	hits := make([]Hit, 0, len(matches))
	for _, m := range matches {
		hits = append(hits, Hit{
			Content: m.Metadata.Content,
			Title:   m.Metadata.Title,
			PageURL: m.Metadata.PageURL,
			Score:   m.Score,
		})
	}
	ix.logger.Debug("namespace queried", zap.String("namespace", ns), zap.Int("hits", len(hits)))
	return hits, nil
}

// DeleteNamespace drops every vector stored for sourceURL.
func (ix *Indexer) DeleteNamespace(ctx context.Context, sourceURL string) error {
	ns := DeriveNamespace(sourceURL)
	if err := ix.store.DeleteNamespace(ctx, ns); err != nil {
		return fmt.Errorf("delete namespace %s: %w", ns, err)
	}
	ix.logger.Info("namespace deleted", zap.String("namespace", ns))
	return nil
}

// DeleteAll drops every namespace the store reports and returns how many
// were removed.
func (ix *Indexer) DeleteAll(ctx context.Context) (int, error) {
	all, err := ix.store.Stats(ctx)
	if err != nil {
		return 0, fmt.Errorf("list namespaces: %w", err)
	}
	for ns := range all {
		if err := ix.store.DeleteNamespace(ctx, ns); err != nil {
			return 0, fmt.Errorf("delete namespace %s: %w", ns, err)
		}
	}
	return len(all), nil
}

// Stats reports the vector count for sourceURL's namespace.
func (ix *Indexer) Stats(ctx context.Context, sourceURL string) (NamespaceStats, error) {
	ns := DeriveNamespace(sourceURL)
	all, err := ix.store.Stats(ctx)
	if err != nil {
		return NamespaceStats{Namespace: ns}, fmt.Errorf("read vector stats: %w", err)
	}
	return NamespaceStats{Namespace: ns, VectorCount: all[ns]}, nil
}

// AllStats reports the vector count of every namespace.
func (ix *Indexer) AllStats(ctx context.Context) (map[string]uint64, error) {
	all, err := ix.store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("read vector stats: %w", err)
	}
	return all, nil
}
