// Package memory provides an in-process vectorstore.Store for development
// and tests.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/JakeFAU/site-indexer/internal/vectorstore"
)

// Store ranks by cosine similarity over every vector in a namespace.
type Store struct {
	mu         sync.RWMutex
	namespaces map[string]*namespace
}

type namespace struct {
	dim     int
	records map[string]vectorstore.Record
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{namespaces: make(map[string]*namespace)}
}

// Upsert implements vectorstore.Store.
func (s *Store) Upsert(_ context.Context, ns string, records []vectorstore.Record) error {
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	space, ok := s.namespaces[ns]
	if !ok {
		space = &namespace{dim: len(records[0].Vector), records: make(map[string]vectorstore.Record)}
		s.namespaces[ns] = space
	}
	for _, r := range records {
		if len(r.Vector) != space.dim {
			return fmt.Errorf("upsert %s into %s: got %d want %d: %w",
				r.ID, ns, len(r.Vector), space.dim, vectorstore.ErrDimensionMismatch)
		}
	}
	for _, r := range records {
		r.Vector = append([]float32(nil), r.Vector...)
		space.records[r.ID] = r
	}
	return nil
}

// Query implements vectorstore.Store.
func (s *Store) Query(_ context.Context, ns string, vector []float32, topK int) ([]vectorstore.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	space, ok := s.namespaces[ns]
	if !ok || topK <= 0 {
		return nil, nil
	}
	if len(vector) != space.dim {
		return nil, fmt.Errorf("query %s: got %d want %d: %w", ns, len(vector), space.dim, vectorstore.ErrDimensionMismatch)
	}
	matches := make([]vectorstore.Match, 0, len(space.records))
	for id, r := range space.records {
		matches = append(matches, vectorstore.Match{
			ID:       id,
			Score:    cosine(vector, r.Vector),
			Metadata: r.Metadata,
		})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score == matches[j].Score {
			return matches[i].ID < matches[j].ID
		}
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// DeleteNamespace implements vectorstore.Store.
func (s *Store) DeleteNamespace(_ context.Context, ns string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.namespaces, ns)
	return nil
}

// Stats implements vectorstore.Store.
func (s *Store) Stats(context.Context) (map[string]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]uint64, len(s.namespaces))
	for name, space := range s.namespaces {
		out[name] = uint64(len(space.records))
	}
	return out, nil
}

func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
