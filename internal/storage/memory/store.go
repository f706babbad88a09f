// Package memory keeps crawl status, pages and archived HTML in process for
// development and tests.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/site-indexer/internal/store"
)

// Store implements store.Store with maps guarded by one lock, so every
// status transition check and write happens atomically.
type Store struct {
	mu      sync.RWMutex
	status  map[string]store.CrawlStatus
	pages   map[string]store.StoredPage
	sources map[string]map[string]struct{}
	seeds   map[string]struct{}
}

var _ store.Store = (*Store)(nil)

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		status:  make(map[string]store.CrawlStatus),
		pages:   make(map[string]store.StoredPage),
		sources: make(map[string]map[string]struct{}),
		seeds:   make(map[string]struct{}),
	}
}

// GetStatus implements store.StatusStore.
func (s *Store) GetStatus(_ context.Context, seedURL string) (store.CrawlStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.status[seedURL]
	if !ok {
		return store.CrawlStatus{}, store.ErrNotFound
	}
	return st, nil
}

// UpdateStatus implements store.StatusStore.
func (s *Store) UpdateStatus(_ context.Context, seedURL string, u store.StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var current *store.CrawlStatus
	if st, ok := s.status[seedURL]; ok {
		current = &st
	}
	next, err := store.Merge(current, u)
	if err != nil {
		return err
	}
	s.status[seedURL] = next
	return nil
}

// ResetStatus implements store.StatusStore.
func (s *Store) ResetStatus(_ context.Context, seedURL string, status store.CrawlStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[seedURL] = status
	return nil
}

// DeleteStatus implements store.StatusStore.
func (s *Store) DeleteStatus(_ context.Context, seedURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.status, seedURL)
	return nil
}

// StorePage implements store.PageStore.
func (s *Store) StorePage(_ context.Context, page store.StoredPage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[page.URL] = page
	set, ok := s.sources[page.SourceURL]
	if !ok {
		set = make(map[string]struct{})
		s.sources[page.SourceURL] = set
	}
	set[page.URL] = struct{}{}
	return nil
}

// PagesBySource implements store.PageStore.
func (s *Store) PagesBySource(_ context.Context, sourceURL string) ([]store.StoredPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.sources[sourceURL]
	out := make([]store.StoredPage, 0, len(set))
	for u := range set {
		if page, ok := s.pages[u]; ok {
			out = append(out, page)
		}
	}
	return out, nil
}

// DeletePages implements store.PageStore.
func (s *Store) DeletePages(_ context.Context, sourceURL string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.sources[sourceURL]
	for u := range set {
		delete(s.pages, u)
	}
	delete(s.sources, sourceURL)
	return len(set), nil
}

// AddIndexedURL implements store.SeedRegistry.
func (s *Store) AddIndexedURL(_ context.Context, seedURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seeds[seedURL] = struct{}{}
	return nil
}

// IsIndexed implements store.SeedRegistry.
func (s *Store) IsIndexed(_ context.Context, seedURL string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.seeds[seedURL]
	return ok, nil
}

// IndexedURLs implements store.SeedRegistry.
func (s *Store) IndexedURLs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.seeds))
	for u := range s.seeds {
		out = append(out, u)
	}
	return out, nil
}

// ClearIndexedURLs implements store.SeedRegistry.
func (s *Store) ClearIndexedURLs(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.seeds)
	return nil
}

// Close is a no-op.
func (*Store) Close() error {
	return nil
}
