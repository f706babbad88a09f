// Package redis implements store.Store on Redis using the key layout the
// chat front end reads: a crawl-status hash per seed, the indexed-urls set, a
// pages set per seed and one JSON string per page.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-indexer/internal/store"
)

const (
	statusKeyPrefix = "crawl-status:"
	pagesKeyPrefix  = "pages:"
	pageKeyPrefix   = "page:"
	indexedURLsKey  = "indexed-urls"

	// maxTxAttempts bounds optimistic retries when a watched status key
	// changes underneath an update.
	maxTxAttempts = 5
)

// Config controls the Redis connection.
type Config struct {
	Addr     string
	Password string
	DB       int
	// KeyPrefix is prepended to every key, letting several deployments share
	// one database.
	KeyPrefix string
}

// Store implements store.Store.
type Store struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

var _ store.Store = (*Store)(nil)

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewWithClient(client, cfg.KeyPrefix, logger), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, keyPrefix string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{client: client, prefix: keyPrefix, logger: logger.Named("redis_store")}
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	return nil
}

func (s *Store) statusKey(seed string) string { return s.prefix + statusKeyPrefix + seed }
func (s *Store) pagesKey(seed string) string  { return s.prefix + pagesKeyPrefix + seed }
func (s *Store) pageKey(u string) string      { return s.prefix + pageKeyPrefix + u }
func (s *Store) indexedKey() string           { return s.prefix + indexedURLsKey }

// GetStatus implements store.StatusStore.
func (s *Store) GetStatus(ctx context.Context, seedURL string) (store.CrawlStatus, error) {
	fields, err := s.client.HGetAll(ctx, s.statusKey(seedURL)).Result()
	if err != nil {
		return store.CrawlStatus{}, fmt.Errorf("read status %s: %w", seedURL, err)
	}
	if len(fields) == 0 {
		return store.CrawlStatus{}, store.ErrNotFound
	}
	return decodeStatus(fields)
}

// UpdateStatus implements store.StatusStore. The transition check and the
// field write run in one WATCH/MULTI transaction so a stale writer cannot
// move a terminal record.
func (s *Store) UpdateStatus(ctx context.Context, seedURL string, u store.StatusUpdate) error {
	if u.Empty() {
		return nil
	}
	key := s.statusKey(seedURL)
	txf := func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("read status %s: %w", seedURL, err)
		}
		var current *store.CrawlStatus
		if len(fields) > 0 {
			st, err := decodeStatus(fields)
			if err != nil {
				return err
			}
			current = &st
		}
		if err := store.CheckTransition(current, u); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, encodeUpdate(u))
			return nil
		})
		return err
	}

	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			s.logger.Debug("status update raced, retrying", zap.String("seed", seedURL), zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return fmt.Errorf("update status %s: %w", seedURL, err)
		}
		return nil
	}
	return fmt.Errorf("update status %s: %w", seedURL, redis.TxFailedErr)
}

// ResetStatus implements store.StatusStore.
func (s *Store) ResetStatus(ctx context.Context, seedURL string, status store.CrawlStatus) error {
	key := s.statusKey(seedURL)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, encodeUpdate(snapshot(status)))
		return nil
	})
	if err != nil {
		return fmt.Errorf("reset status %s: %w", seedURL, err)
	}
	return nil
}

// DeleteStatus implements store.StatusStore.
func (s *Store) DeleteStatus(ctx context.Context, seedURL string) error {
	if err := s.client.Del(ctx, s.statusKey(seedURL)).Err(); err != nil {
		return fmt.Errorf("delete status %s: %w", seedURL, err)
	}
	return nil
}

// StorePage implements store.PageStore.
func (s *Store) StorePage(ctx context.Context, page store.StoredPage) error {
	payload, err := json.Marshal(page)
	if err != nil {
		return fmt.Errorf("encode page %s: %w", page.URL, err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.pageKey(page.URL), payload, 0)
		pipe.SAdd(ctx, s.pagesKey(page.SourceURL), page.URL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store page %s: %w", page.URL, err)
	}
	return nil
}

// PagesBySource implements store.PageStore.
func (s *Store) PagesBySource(ctx context.Context, sourceURL string) ([]store.StoredPage, error) {
	urls, err := s.client.SMembers(ctx, s.pagesKey(sourceURL)).Result()
	if err != nil {
		return nil, fmt.Errorf("list pages for %s: %w", sourceURL, err)
	}
	pages := make([]store.StoredPage, 0, len(urls))
	for _, u := range urls {
		raw, err := s.client.Get(ctx, s.pageKey(u)).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read page %s: %w", u, err)
		}
		var page store.StoredPage
		if err := json.Unmarshal(raw, &page); err != nil {
			s.logger.Warn("skipping undecodable page", zap.String("page_url", u), zap.Error(err))
			continue
		}
		pages = append(pages, page)
	}
	return pages, nil
}

// DeletePages implements store.PageStore.
func (s *Store) DeletePages(ctx context.Context, sourceURL string) (int, error) {
	urls, err := s.client.SMembers(ctx, s.pagesKey(sourceURL)).Result()
	if err != nil {
		return 0, fmt.Errorf("list pages for %s: %w", sourceURL, err)
	}
	keys := make([]string, 0, len(urls)+1)
	for _, u := range urls {
		keys = append(keys, s.pageKey(u))
	}
	keys = append(keys, s.pagesKey(sourceURL))
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return 0, fmt.Errorf("delete pages for %s: %w", sourceURL, err)
	}
	return len(urls), nil
}

// AddIndexedURL implements store.SeedRegistry.
func (s *Store) AddIndexedURL(ctx context.Context, seedURL string) error {
	if err := s.client.SAdd(ctx, s.indexedKey(), seedURL).Err(); err != nil {
		return fmt.Errorf("add indexed url %s: %w", seedURL, err)
	}
	return nil
}

// IsIndexed implements store.SeedRegistry.
func (s *Store) IsIndexed(ctx context.Context, seedURL string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, s.indexedKey(), seedURL).Result()
	if err != nil {
		return false, fmt.Errorf("check indexed url %s: %w", seedURL, err)
	}
	return ok, nil
}

// IndexedURLs implements store.SeedRegistry.
func (s *Store) IndexedURLs(ctx context.Context) ([]string, error) {
	urls, err := s.client.SMembers(ctx, s.indexedKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list indexed urls: %w", err)
	}
	return urls, nil
}

// ClearIndexedURLs implements store.SeedRegistry.
func (s *Store) ClearIndexedURLs(ctx context.Context) error {
	if err := s.client.Del(ctx, s.indexedKey()).Err(); err != nil {
		return fmt.Errorf("clear indexed urls: %w", err)
	}
	return nil
}

// snapshot turns a full record into an update that writes every set field.
func snapshot(st store.CrawlStatus) store.StatusUpdate {
	u := store.StatusUpdate{
		State:           &st.State,
		SessionID:       &st.SessionID,
		TotalPages:      &st.TotalPages,
		NewPagesIndexed: &st.NewPagesIndexed,
		StartedAt:       st.StartedAt,
		CompletedAt:     st.CompletedAt,
		FailedAt:        st.FailedAt,
	}
	if st.HomepageIndexed {
		u.HomepageIndexed = &st.HomepageIndexed
	}
	if st.Error != "" {
		u.Error = &st.Error
	}
	return u
}

func encodeUpdate(u store.StatusUpdate) map[string]any {
	fields := make(map[string]any)
	if u.State != nil {
		fields["status"] = string(*u.State)
	}
	if u.SessionID != nil {
		fields["sessionId"] = *u.SessionID
	}
	if u.HomepageIndexed != nil {
		fields["homepageIndexed"] = strconv.FormatBool(*u.HomepageIndexed)
	}
	if u.StartedAt != nil {
		fields["startedAt"] = u.StartedAt.UTC().Format(time.RFC3339Nano)
	}
	if u.CompletedAt != nil {
		fields["completedAt"] = u.CompletedAt.UTC().Format(time.RFC3339Nano)
	}
	if u.FailedAt != nil {
		fields["failedAt"] = u.FailedAt.UTC().Format(time.RFC3339Nano)
	}
	if u.TotalPages != nil {
		fields["totalPages"] = strconv.Itoa(*u.TotalPages)
	}
	if u.NewPagesIndexed != nil {
		fields["newPagesIndexed"] = strconv.Itoa(*u.NewPagesIndexed)
	}
	if u.Error != nil {
		fields["error"] = *u.Error
	}
	return fields
}

func decodeStatus(fields map[string]string) (store.CrawlStatus, error) {
	st := store.CrawlStatus{
		State:           store.State(fields["status"]),
		SessionID:       fields["sessionId"],
		HomepageIndexed: fields["homepageIndexed"] == "true",
		Error:           fields["error"],
	}
	var err error
	if st.StartedAt, err = parseTime(fields, "startedAt"); err != nil {
		return store.CrawlStatus{}, err
	}
	if st.CompletedAt, err = parseTime(fields, "completedAt"); err != nil {
		return store.CrawlStatus{}, err
	}
	if st.FailedAt, err = parseTime(fields, "failedAt"); err != nil {
		return store.CrawlStatus{}, err
	}
	if st.TotalPages, err = parseInt(fields, "totalPages"); err != nil {
		return store.CrawlStatus{}, err
	}
	if st.NewPagesIndexed, err = parseInt(fields, "newPagesIndexed"); err != nil {
		return store.CrawlStatus{}, err
	}
	return st, nil
}

func parseTime(fields map[string]string, name string) (*time.Time, error) {
	raw, ok := fields[name]
	if !ok || raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return &t, nil
}

func parseInt(fields map[string]string, name string) (int, error) {
	raw, ok := fields[name]
	if !ok || raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("decode %s: %w", name, err)
	}
	return n, nil
}
