// Package postgres provides a Postgres-backed store.Store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-indexer/internal/store"
)

// Schema creates the tables the store needs.
const Schema = `
CREATE TABLE IF NOT EXISTS crawl_status (
	seed_url          TEXT PRIMARY KEY,
	status            TEXT NOT NULL,
	session_id        TEXT NOT NULL DEFAULT '',
	homepage_indexed  BOOLEAN NOT NULL DEFAULT FALSE,
	started_at        TIMESTAMPTZ,
	completed_at      TIMESTAMPTZ,
	failed_at         TIMESTAMPTZ,
	total_pages       INTEGER NOT NULL DEFAULT 0,
	new_pages_indexed INTEGER NOT NULL DEFAULT 0,
	error             TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS indexed_urls (
	seed_url TEXT PRIMARY KEY,
	added_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS site_pages (
	source_url TEXT NOT NULL,
	url        TEXT NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	content    TEXT NOT NULL DEFAULT '',
	page_type  TEXT NOT NULL DEFAULT '',
	stored_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (source_url, url)
);`

const (
	selectStatusSQL = `SELECT status, session_id, homepage_indexed, started_at, completed_at, failed_at,
	total_pages, new_pages_indexed, error FROM crawl_status WHERE seed_url = $1`

	upsertStatusSQL = `INSERT INTO crawl_status (
	seed_url, status, session_id, homepage_indexed, started_at, completed_at, failed_at,
	total_pages, new_pages_indexed, error
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (seed_url) DO UPDATE SET
	status = EXCLUDED.status,
	session_id = EXCLUDED.session_id,
	homepage_indexed = EXCLUDED.homepage_indexed,
	started_at = EXCLUDED.started_at,
	completed_at = EXCLUDED.completed_at,
	failed_at = EXCLUDED.failed_at,
	total_pages = EXCLUDED.total_pages,
	new_pages_indexed = EXCLUDED.new_pages_indexed,
	error = EXCLUDED.error`
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of *pgxpool.Pool the store needs.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Store implements store.Store.
type Store struct {
	pool   pool
	logger *zap.Logger
}

var _ store.Store = (*Store)(nil)

// New connects to Postgres and creates the schema if needed.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewWithPool(p, logger)
	if err != nil {
		p.Close()
		return nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, logger *zap.Logger) (*Store, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: p, logger: logger.Named("postgres_store")}, nil
}

// EnsureSchema creates missing tables.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// GetStatus implements store.StatusStore.
func (s *Store) GetStatus(ctx context.Context, seedURL string) (store.CrawlStatus, error) {
	st, err := scanStatus(s.pool.QueryRow(ctx, selectStatusSQL, seedURL))
	if errors.Is(err, pgx.ErrNoRows) {
		return store.CrawlStatus{}, store.ErrNotFound
	}
	if err != nil {
		return store.CrawlStatus{}, fmt.Errorf("read status %s: %w", seedURL, err)
	}
	return st, nil
}

// UpdateStatus implements store.StatusStore. The row is locked while the
// transition is checked, so concurrent writers serialize on it.
func (s *Store) UpdateStatus(ctx context.Context, seedURL string, u store.StatusUpdate) error {
	if u.Empty() {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin status update: %w", err)
	}
	if err := s.updateInTx(ctx, tx, seedURL, u); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			s.logger.Warn("status update rollback failed", zap.String("seed", seedURL), zap.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit status update %s: %w", seedURL, err)
	}
	return nil
}

func (s *Store) updateInTx(ctx context.Context, tx pgx.Tx, seedURL string, u store.StatusUpdate) error {
	var current *store.CrawlStatus
	st, err := scanStatus(tx.QueryRow(ctx, selectStatusSQL+" FOR UPDATE", seedURL))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return fmt.Errorf("read status %s: %w", seedURL, err)
	default:
		current = &st
	}
	next, err := store.Merge(current, u)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, upsertStatusSQL, statusArgs(seedURL, next)...); err != nil {
		return fmt.Errorf("write status %s: %w", seedURL, err)
	}
	return nil
}

// ResetStatus implements store.StatusStore.
func (s *Store) ResetStatus(ctx context.Context, seedURL string, status store.CrawlStatus) error {
	if _, err := s.pool.Exec(ctx, upsertStatusSQL, statusArgs(seedURL, status)...); err != nil {
		return fmt.Errorf("reset status %s: %w", seedURL, err)
	}
	return nil
}

// DeleteStatus implements store.StatusStore.
func (s *Store) DeleteStatus(ctx context.Context, seedURL string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM crawl_status WHERE seed_url = $1`, seedURL); err != nil {
		return fmt.Errorf("delete status %s: %w", seedURL, err)
	}
	return nil
}

// StorePage implements store.PageStore.
func (s *Store) StorePage(ctx context.Context, page store.StoredPage) error {
	query := `
INSERT INTO site_pages (source_url, url, title, content, page_type, stored_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (source_url, url) DO UPDATE SET
	title = EXCLUDED.title,
	content = EXCLUDED.content,
	page_type = EXCLUDED.page_type,
	stored_at = EXCLUDED.stored_at`
	_, err := s.pool.Exec(ctx, query,
		page.SourceURL, page.URL, page.Title, page.Content, page.PageType, page.Timestamp)
	if err != nil {
		return fmt.Errorf("store page %s: %w", page.URL, err)
	}
	return nil
}

// PagesBySource implements store.PageStore.
func (s *Store) PagesBySource(ctx context.Context, sourceURL string) ([]store.StoredPage, error) {
	rows, err := s.pool.Query(ctx, `
SELECT url, title, content, page_type, stored_at
FROM site_pages WHERE source_url = $1 ORDER BY stored_at, url`, sourceURL)
	if err != nil {
		return nil, fmt.Errorf("list pages for %s: %w", sourceURL, err)
	}
	defer rows.Close()

	var pages []store.StoredPage
	for rows.Next() {
		page := store.StoredPage{SourceURL: sourceURL}
		if err := rows.Scan(&page.URL, &page.Title, &page.Content, &page.PageType, &page.Timestamp); err != nil {
			return nil, fmt.Errorf("scan page row: %w", err)
		}
		pages = append(pages, page)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages for %s: %w", sourceURL, err)
	}
	return pages, nil
}

// DeletePages implements store.PageStore.
func (s *Store) DeletePages(ctx context.Context, sourceURL string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM site_pages WHERE source_url = $1`, sourceURL)
	if err != nil {
		return 0, fmt.Errorf("delete pages for %s: %w", sourceURL, err)
	}
	return int(tag.RowsAffected()), nil
}

// AddIndexedURL implements store.SeedRegistry.
func (s *Store) AddIndexedURL(ctx context.Context, seedURL string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO indexed_urls (seed_url) VALUES ($1) ON CONFLICT (seed_url) DO NOTHING`, seedURL)
	if err != nil {
		return fmt.Errorf("add indexed url %s: %w", seedURL, err)
	}
	return nil
}

// IsIndexed implements store.SeedRegistry.
func (s *Store) IsIndexed(ctx context.Context, seedURL string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM indexed_urls WHERE seed_url = $1)`, seedURL).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check indexed url %s: %w", seedURL, err)
	}
	return exists, nil
}

// IndexedURLs implements store.SeedRegistry.
func (s *Store) IndexedURLs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT seed_url FROM indexed_urls ORDER BY added_at, seed_url`)
	if err != nil {
		return nil, fmt.Errorf("list indexed urls: %w", err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan indexed url: %w", err)
		}
		urls = append(urls, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate indexed urls: %w", err)
	}
	return urls, nil
}

// ClearIndexedURLs implements store.SeedRegistry.
func (s *Store) ClearIndexedURLs(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM indexed_urls`); err != nil {
		return fmt.Errorf("clear indexed urls: %w", err)
	}
	return nil
}

func scanStatus(row pgx.Row) (store.CrawlStatus, error) {
	var (
		st    store.CrawlStatus
		state string
	)
	err := row.Scan(
		&state,
		&st.SessionID,
		&st.HomepageIndexed,
		&st.StartedAt,
		&st.CompletedAt,
		&st.FailedAt,
		&st.TotalPages,
		&st.NewPagesIndexed,
		&st.Error,
	)
	if err != nil {
		return store.CrawlStatus{}, err
	}
	st.State = store.State(state)
	return st, nil
}

func statusArgs(seedURL string, st store.CrawlStatus) []any {
	return []any{
		seedURL,
		string(st.State),
		st.SessionID,
		st.HomepageIndexed,
		st.StartedAt,
		st.CompletedAt,
		st.FailedAt,
		st.TotalPages,
		st.NewPagesIndexed,
		st.Error,
	}
}
