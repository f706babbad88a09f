// Package quickindex indexes a site's homepage synchronously so a first
// visit can be answered before the background crawl finishes.
package quickindex

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-indexer/internal/clock"
	"github.com/JakeFAU/site-indexer/internal/crawler"
	"github.com/JakeFAU/site-indexer/internal/extract"
	"github.com/JakeFAU/site-indexer/internal/metrics"
	"github.com/JakeFAU/site-indexer/internal/store"
)

// Fetch timeouts for the single homepage request.
const (
	DefaultStaticTimeout = 10 * time.Second
	DefaultRenderTimeout = 15 * time.Second
)

// PageIndexer chunks, embeds and upserts one page.
type PageIndexer interface {
	Index(ctx context.Context, sourceURL, pageURL, title, content string) (int, error)
}

// Result is the outcome of a quick index. Success is false whenever the page
// could not be fetched, was too thin, or failed to index.
type Result struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Success bool   `json:"success"`
}

// Config tunes fetch timeouts.
type Config struct {
	StaticTimeout time.Duration
	RenderTimeout time.Duration
}

// Service performs quick indexing and first-visit handling. Browser and
// Submitter may be nil.
type Service struct {
	static    crawler.Fetcher
	browser   crawler.Browser
	store     store.Store
	indexer   PageIndexer
	stats     VectorStats
	submitter Submitter
	jsHosts   []string
	clock     clock.Clock
	cfg       Config
	logger    *zap.Logger
}

// Deps are the collaborators of a Service.
type Deps struct {
	Static    crawler.Fetcher
	Browser   crawler.Browser
	Store     store.Store
	Indexer   PageIndexer
	Stats     VectorStats
	Submitter Submitter
	JSHosts   []string
	Clock     clock.Clock
}

// New builds a Service.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Service, error) {
	if deps.Static == nil {
		return nil, errors.New("static fetcher is required")
	}
	if deps.Store == nil {
		return nil, errors.New("store is required")
	}
	if deps.Indexer == nil {
		return nil, errors.New("indexer is required")
	}
	if cfg.StaticTimeout <= 0 {
		cfg.StaticTimeout = DefaultStaticTimeout
	}
	if cfg.RenderTimeout <= 0 {
		cfg.RenderTimeout = DefaultRenderTimeout
	}
	if deps.JSHosts == nil {
		deps.JSHosts = crawler.DefaultJSHosts
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		static:    deps.Static,
		browser:   deps.Browser,
		store:     deps.Store,
		indexer:   deps.Indexer,
		stats:     deps.Stats,
		submitter: deps.Submitter,
		jsHosts:   deps.JSHosts,
		clock:     clock.OrSystem(deps.Clock),
		cfg:       cfg,
		logger:    logger.Named("quickindex"),
	}, nil
}

// QuickIndex fetches, extracts, stores and indexes a single page. Errors are
// logged and reported only through Result.Success.
func (s *Service) QuickIndex(ctx context.Context, pageURL string, useJavaScript bool) Result {
	res := Result{URL: pageURL}
	logger := s.logger.With(zap.String("url", pageURL), zap.Bool("javascript", useJavaScript))

	body, err := s.fetch(ctx, pageURL, useJavaScript)
	if err != nil {
		logger.Warn("quick index fetch failed", zap.Error(err))
		return res
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		logger.Warn("quick index parse failed", zap.Error(err))
		return res
	}
	q := extract.Quick(doc, pageURL)
	res.Title = q.Title
	res.Content = q.Content
	logger.Info("quick extraction", zap.Int("chars", len(q.Content)))
	if !extract.Accepted(q.Content) {
		return res
	}

	site := metrics.SanitizeSite(pageURL)
	err = s.store.StorePage(ctx, store.StoredPage{
		URL:       pageURL,
		Title:     q.Title,
		Content:   q.Content,
		PageType:  extract.PageType(pageURL),
		SourceURL: pageURL,
		Timestamp: s.clock.Now(),
	})
	if err != nil {
		metrics.ObservePageIndexed(site, "error")
		logger.Warn("quick index store failed", zap.Error(err))
		return res
	}
	vectors, err := s.indexer.Index(ctx, pageURL, pageURL, q.Title, q.Content)
	if err != nil {
		metrics.ObservePageIndexed(site, "error")
		logger.Warn("quick index embedding failed", zap.Error(err))
		return res
	}
	metrics.ObservePageIndexed(site, "ok")
	logger.Info("homepage indexed", zap.String("title", q.Title), zap.Int("vectors", vectors))
	res.Success = true
	return res
}

// fetch falls back to the static fetcher when no browser is configured.
func (s *Service) fetch(ctx context.Context, pageURL string, useJavaScript bool) ([]byte, error) {
	if useJavaScript && s.browser == nil {
		s.logger.Warn("rendered fetch unavailable, using static fetch", zap.String("url", pageURL))
		useJavaScript = false
	}
	if !useJavaScript {
		resp, err := s.static.Fetch(ctx, crawler.FetchRequest{URL: pageURL, Timeout: s.cfg.StaticTimeout})
		if err != nil {
			return nil, fmt.Errorf("static fetch: %w", err)
		}
		return resp.Body, nil
	}
	session, err := s.browser.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open browser session: %w", err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			s.logger.Warn("browser session close failed", zap.Error(cerr))
		}
	}()
	resp, err := session.Fetch(ctx, crawler.FetchRequest{
		URL:        pageURL,
		Timeout:    s.cfg.RenderTimeout,
		BlockMedia: true,
	})
	if err != nil {
		return nil, fmt.Errorf("rendered fetch: %w", err)
	}
	return resp.Body, nil
}
