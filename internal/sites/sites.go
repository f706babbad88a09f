// Package sites implements the per-site administrative operations shared by
// the HTTP API and the CLI: status views, forced completion, context
// clearing and debug reports.
package sites

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-indexer/internal/clock"
	"github.com/JakeFAU/site-indexer/internal/index"
	"github.com/JakeFAU/site-indexer/internal/store"
)

const unknown = "Unknown"

// VectorIndex is the part of the indexer the operations need.
type VectorIndex interface {
	AllStats(ctx context.Context) (map[string]uint64, error)
	DeleteAll(ctx context.Context) (int, error)
}

// StatusView is the status document returned to pollers. Missing fields get
// the defaults pollers expect.
type StatusView struct {
	Status          store.State `json:"status"`
	SessionID       string      `json:"sessionId"`
	StartedAt       time.Time   `json:"startedAt"`
	CompletedAt     *time.Time  `json:"completedAt,omitempty"`
	TotalPages      int         `json:"totalPages"`
	NewPagesIndexed int         `json:"newPagesIndexed"`
	Error           string      `json:"error,omitempty"`
	FailedAt        *time.Time  `json:"failedAt,omitempty"`
}

// NamespaceReport describes where a site's vectors live.
type NamespaceReport struct {
	URL               string            `json:"url"`
	ExpectedNamespace string            `json:"expectedNamespace"`
	AllNamespaces     map[string]uint64 `json:"allNamespaces"`
	NamespaceExists   bool              `json:"namespaceExists"`
	VectorCount       uint64            `json:"vectorCount"`
}

// PageSummary is one stored page in a PagesReport.
type PageSummary struct {
	URL           string `json:"url"`
	Title         string `json:"title"`
	PageType      string `json:"pageType"`
	ContentLength int    `json:"contentLength"`
}

// PagesReport lists the pages stored for a site.
type PagesReport struct {
	TotalPages int           `json:"totalPages"`
	Pages      []PageSummary `json:"pages"`
}

// Service runs the operations.
type Service struct {
	store   store.Store
	vectors VectorIndex
	clock   clock.Clock
	logger  *zap.Logger
}

// New builds a Service.
func New(st store.Store, vectors VectorIndex, clk clock.Clock, logger *zap.Logger) (*Service, error) {
	if st == nil || vectors == nil {
		return nil, errors.New("store and vector index are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: st, vectors: vectors, clock: clock.OrSystem(clk), logger: logger.Named("sites")}, nil
}

// Status returns the poller view of a seed's status, or store.ErrNotFound.
func (s *Service) Status(ctx context.Context, seedURL string) (StatusView, error) {
	st, err := s.store.GetStatus(ctx, seedURL)
	if err != nil {
		return StatusView{}, fmt.Errorf("get status: %w", err)
	}
	view := StatusView{
		Status:          st.State,
		SessionID:       st.SessionID,
		CompletedAt:     st.CompletedAt,
		TotalPages:      st.TotalPages,
		NewPagesIndexed: st.NewPagesIndexed,
		Error:           st.Error,
		FailedAt:        st.FailedAt,
	}
	if view.Status == "" {
		view.Status = store.StateCrawling
	}
	if st.StartedAt != nil {
		view.StartedAt = *st.StartedAt
	} else {
		view.StartedAt = s.clock.Now()
	}
	return view, nil
}

// FixStatus forces a seed with a status record to completed and returns the
// updated record.
func (s *Service) FixStatus(ctx context.Context, seedURL string) (store.CrawlStatus, error) {
	if _, err := s.store.GetStatus(ctx, seedURL); err != nil {
		return store.CrawlStatus{}, fmt.Errorf("get status: %w", err)
	}
	if err := s.store.UpdateStatus(ctx, seedURL, store.ForceCompleted(s.clock.Now())); err != nil {
		return store.CrawlStatus{}, fmt.Errorf("force completed: %w", err)
	}
	s.logger.Info("status forced to completed", zap.String("seed", seedURL))
	st, err := s.store.GetStatus(ctx, seedURL)
	if err != nil {
		return store.CrawlStatus{}, fmt.Errorf("get status: %w", err)
	}
	return st, nil
}

// Clear removes every stored page, status record, registry entry and vector
// namespace, and returns the number of seeds cleared.
func (s *Service) Clear(ctx context.Context) (int, error) {
	seeds, err := s.store.IndexedURLs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list indexed urls: %w", err)
	}
	for _, seed := range seeds {
		n, err := s.store.DeletePages(ctx, seed)
		if err != nil {
			return 0, fmt.Errorf("delete pages of %s: %w", seed, err)
		}
		if err := s.store.DeleteStatus(ctx, seed); err != nil {
			return 0, fmt.Errorf("delete status of %s: %w", seed, err)
		}
		s.logger.Debug("seed cleared", zap.String("seed", seed), zap.Int("pages", n))
	}
	if err := s.store.ClearIndexedURLs(ctx); err != nil {
		return 0, fmt.Errorf("clear indexed urls: %w", err)
	}
	namespaces, err := s.vectors.DeleteAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete vectors: %w", err)
	}
	s.logger.Info("context cleared", zap.Int("urls", len(seeds)), zap.Int("namespaces", namespaces))
	return len(seeds), nil
}

// Namespace reports the namespace a site maps to and what the store holds.
func (s *Service) Namespace(ctx context.Context, siteURL string) (NamespaceReport, error) {
	all, err := s.vectors.AllStats(ctx)
	if err != nil {
		return NamespaceReport{}, fmt.Errorf("vector stats: %w", err)
	}
	ns := index.DeriveNamespace(siteURL)
	count, ok := all[ns]
	return NamespaceReport{
		URL:               siteURL,
		ExpectedNamespace: ns,
		AllNamespaces:     all,
		NamespaceExists:   ok,
		VectorCount:       count,
	}, nil
}

// Pages summarizes the pages stored for a site, ordered by URL.
func (s *Service) Pages(ctx context.Context, siteURL string) (PagesReport, error) {
	pages, err := s.store.PagesBySource(ctx, siteURL)
	if err != nil {
		return PagesReport{}, fmt.Errorf("pages by source: %w", err)
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].URL < pages[j].URL })
	out := PagesReport{TotalPages: len(pages), Pages: make([]PageSummary, 0, len(pages))}
	for _, p := range pages {
		out.Pages = append(out.Pages, PageSummary{
			URL:           p.URL,
			Title:         orUnknown(p.Title),
			PageType:      orUnknown(p.PageType),
			ContentLength: len(p.Content),
		})
	}
	return out, nil
}

func orUnknown(s string) string {
	if s == "" {
		return unknown
	}
	return s
}
