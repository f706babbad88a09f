// Package qdrant implements vectorstore.Store on Qdrant, one collection per
// namespace.
package qdrant

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/site-indexer/internal/vectorstore"
)

// DefaultCollectionPrefix is prepended to every namespace.
const DefaultCollectionPrefix = "site_"

// Config controls the Qdrant connection.
type Config struct {
	Host             string
	Port             int
	APIKey           string
	UseTLS           bool
	CollectionPrefix string
}

// client is the subset of *qdrant.Client the store needs.
type client interface {
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	ListCollections(ctx context.Context) ([]string, error)
	Count(ctx context.Context, request *qdrant.CountPoints) (uint64, error)
	DeleteCollection(ctx context.Context, collectionName string) error
}

// Store implements vectorstore.Store.
type Store struct {
	client client
	closer func() error
	prefix string
	logger *zap.Logger

	mu    sync.Mutex
	ready map[string]struct{}
}

// New dials Qdrant over gRPC.
func New(cfg Config, logger *zap.Logger) (*Store, error) {
	qcfg := &qdrant.Config{
		Host:                   cfg.Host,
		Port:                   cfg.Port,
		APIKey:                 cfg.APIKey,
		UseTLS:                 cfg.UseTLS,
		SkipCompatibilityCheck: true,
	}
	if !cfg.UseTLS {
		qcfg.GrpcOptions = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	c, err := qdrant.NewClient(qcfg)
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	s := newStore(c, cfg.CollectionPrefix, logger)
	s.closer = c.Close
	return s, nil
}

func newStore(c client, prefix string, logger *zap.Logger) *Store {
	if prefix == "" {
		prefix = DefaultCollectionPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		client: c,
		prefix: prefix,
		logger: logger.Named("qdrant"),
		ready:  make(map[string]struct{}),
	}
}

// Close releases the gRPC connection.
func (s *Store) Close() error {
	if s.closer == nil {
		return nil
	}
	if err := s.closer(); err != nil {
		return fmt.Errorf("close qdrant client: %w", err)
	}
	return nil
}

func (s *Store) collection(ns string) string {
	return s.prefix + ns
}

// ensureCollection creates the namespace's collection on first use, sized to
// the first vector written into it.
func (s *Store) ensureCollection(ctx context.Context, name string, dim int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ready[name]; ok {
		return nil
	}
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("check collection %s: %w", name, err)
	}
	if !exists {
		err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dim),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("create collection %s: %w", name, err)
		}
		s.logger.Info("collection created", zap.String("collection", name), zap.Int("dimension", dim))
	}
	s.ready[name] = struct{}{}
	return nil
}

// Upsert implements vectorstore.Store.
func (s *Store) Upsert(ctx context.Context, ns string, records []vectorstore.Record) error {
	if len(records) == 0 {
		return nil
	}
	name := s.collection(ns)
	if err := s.ensureCollection(ctx, name, len(records[0].Vector)); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, 0, len(records))
	for _, r := range records {
		payload, err := qdrant.TryValueMap(toPayload(r.Metadata))
		if err != nil {
			return fmt.Errorf("encode payload for %s: %w", r.ID, err)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(r.ID),
			Vectors: qdrant.NewVectors(r.Vector...),
			Payload: payload,
		})
	}
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: name,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("upsert %d points into %s: %w", len(points), name, err)
	}
	return nil
}

// Query implements vectorstore.Store. A namespace that does not exist yet
// yields no matches.
func (s *Store) Query(ctx context.Context, ns string, vector []float32, topK int) ([]vectorstore.Match, error) {
	if topK <= 0 {
		return nil, nil
	}
	name := s.collection(ns)
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("check collection %s: %w", name, err)
	}
	if !exists {
		return nil, nil
	}
	limit := uint64(topK)
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: name,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", name, err)
	}
	matches := make([]vectorstore.Match, 0, len(points))
	for _, p := range points {
		matches = append(matches, vectorstore.Match{
			ID:       p.GetId().GetUuid(),
			Score:    p.GetScore(),
			Metadata: fromPayload(p.GetPayload()),
		})
	}
	return matches, nil
}

// DeleteNamespace implements vectorstore.Store.
func (s *Store) DeleteNamespace(ctx context.Context, ns string) error {
	name := s.collection(ns)
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("check collection %s: %w", name, err)
	}
	if exists {
		if err := s.client.DeleteCollection(ctx, name); err != nil {
			return fmt.Errorf("delete collection %s: %w", name, err)
		}
	}
	s.mu.Lock()
	delete(s.ready, name)
	s.mu.Unlock()
	return nil
}

// Stats implements vectorstore.Store. Only collections carrying the store's
// prefix are reported, keyed by namespace.
func (s *Store) Stats(ctx context.Context) (map[string]uint64, error) {
	names, err := s.client.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	out := make(map[string]uint64)
	for _, name := range names {
		ns, ok := strings.CutPrefix(name, s.prefix)
		if !ok {
			continue
		}
		n, err := s.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: name,
			Exact:          qdrant.PtrOf(true),
		})
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", name, err)
		}
		out[ns] = n
	}
	return out, nil
}

func toPayload(m vectorstore.Metadata) map[string]any {
	return map[string]any{
		"sourceUrl":  m.SourceURL,
		"pageUrl":    m.PageURL,
		"title":      m.Title,
		"content":    m.Content,
		"chunkIndex": m.ChunkIndex,
		"timestamp":  m.Timestamp.UTC().Format(time.RFC3339),
	}
}

func fromPayload(p map[string]*qdrant.Value) vectorstore.Metadata {
	ts, _ := time.Parse(time.RFC3339, p["timestamp"].GetStringValue())
	return vectorstore.Metadata{
		SourceURL:  p["sourceUrl"].GetStringValue(),
		PageURL:    p["pageUrl"].GetStringValue(),
		Title:      p["title"].GetStringValue(),
		Content:    p["content"].GetStringValue(),
		ChunkIndex: int(p["chunkIndex"].GetIntegerValue()),
		Timestamp:  ts,
	}
}
