// Package orchestrator runs one background crawl job end to end: status
// bookkeeping, the crawl itself, and per-page storage and indexing.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/site-indexer/internal/clock"
	"github.com/JakeFAU/site-indexer/internal/crawler"
	"github.com/JakeFAU/site-indexer/internal/events"
	"github.com/JakeFAU/site-indexer/internal/metrics"
	"github.com/JakeFAU/site-indexer/internal/store"
)

// DefaultBatchSize is the number of pages stored and indexed concurrently.
const DefaultBatchSize = 5

// Job is one crawl request.
type Job struct {
	SeedURL   string               `json:"url"`
	SessionID string               `json:"sessionId"`
	Options   crawler.CrawlOptions `json:"options"`
}

// Crawler walks a site.
type Crawler interface {
	Crawl(ctx context.Context, seedURL string, opts crawler.CrawlOptions) (crawler.CrawlResult, error)
}

// PageIndexer chunks, embeds and upserts one page.
type PageIndexer interface {
	Index(ctx context.Context, sourceURL, pageURL, title, content string) (int, error)
}

// Archiver snapshots raw HTML.
type Archiver interface {
	Archive(ctx context.Context, sourceURL, pageURL string, html []byte) (string, error)
}

// Deps are the collaborators of an Orchestrator. Archiver, Publisher and
// Clock are optional.
type Deps struct {
	Crawler   Crawler
	Pages     store.PageStore
	Status    store.StatusStore
	Indexer   PageIndexer
	Archiver  Archiver
	Publisher events.Publisher
	Clock     clock.Clock
	BatchSize int
}

// Orchestrator executes crawl jobs.
type Orchestrator struct {
	deps   Deps
	logger *zap.Logger
}

// New validates deps and builds an Orchestrator.
func New(deps Deps, logger *zap.Logger) (*Orchestrator, error) {
	switch {
	case deps.Crawler == nil:
		return nil, errors.New("crawler is required")
	case deps.Pages == nil:
		return nil, errors.New("page store is required")
	case deps.Status == nil:
		return nil, errors.New("status store is required")
	case deps.Indexer == nil:
		return nil, errors.New("indexer is required")
	}
	if deps.Publisher == nil {
		deps.Publisher = events.Nop{}
	}
	deps.Clock = clock.OrSystem(deps.Clock)
	if deps.BatchSize <= 0 {
		deps.BatchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{deps: deps, logger: logger.Named("orchestrator")}, nil
}

// Run executes job synchronously. Every observable effect is recorded in the
// seed's crawl status; the returned error only mirrors a failed status.
func (o *Orchestrator) Run(ctx context.Context, job Job) (err error) {
	if job.SeedURL == "" {
		return errors.New("seed url is required")
	}
	seed := job.SeedURL
	logger := o.logger.With(zap.String("seed", seed), zap.String("session_id", job.SessionID))

	opts := job.Options.WithDefaults()
	opts.SameDomainOnly = true

	if err := o.deps.Status.ResetStatus(ctx, seed, store.Crawling(job.SessionID, o.deps.Clock.Now())); err != nil {
		return fmt.Errorf("mark crawling: %w", err)
	}
	metrics.IncActiveCrawls()
	defer metrics.DecActiveCrawls()
	defer func() {
		if r := recover(); r != nil {
			err = o.fail(ctx, logger, job, fmt.Errorf("crawl job panicked: %v", r))
		}
	}()
	o.publish(ctx, logger, o.event(events.CrawlStarted, job))
	logger.Info("crawl job started",
		zap.Int("max_depth", opts.MaxDepth),
		zap.Int("max_pages", opts.MaxPages),
		zap.Bool("javascript", opts.UseJavaScript),
	)

	result, err := o.deps.Crawler.Crawl(ctx, seed, opts)
	if err != nil {
		return o.fail(ctx, logger, job, fmt.Errorf("crawl: %w", err))
	}

	pages := excludeSeed(seed, result.Pages)
	total := len(result.Pages)
	indexed := 0
	for start := 0; start < len(pages); start += o.deps.BatchSize {
		if err := ctx.Err(); err != nil {
			return o.fail(ctx, logger, job, fmt.Errorf("crawl job canceled: %w", err))
		}
		end := min(start+o.deps.BatchSize, len(pages))
		indexed += o.processBatch(ctx, logger, seed, pages[start:end])
		if err := o.deps.Status.UpdateStatus(ctx, seed, store.Progress(total, indexed)); err != nil {
			logger.Warn("progress update failed", zap.Int("new_pages_indexed", indexed), zap.Error(err))
		}
	}

	if err := ctx.Err(); err != nil {
		return o.fail(ctx, logger, job, fmt.Errorf("crawl job canceled: %w", err))
	}

	// The final write must land even if ctx is canceled after the check above.
	writeCtx := context.WithoutCancel(ctx)
	err = o.deps.Status.UpdateStatus(writeCtx, seed, store.Completed(o.deps.Clock.Now(), total, indexed))
	switch {
	case errors.Is(err, store.ErrTerminalStatus):
		logger.Info("crawl status already terminal, keeping it", zap.Error(err))
	case err != nil:
		return o.fail(ctx, logger, job, fmt.Errorf("mark completed: %w", err))
	}
	metrics.ObserveJob(string(store.StateCompleted))

	ev := o.event(events.CrawlCompleted, job)
	ev.TotalPages = total
	ev.NewPagesIndexed = indexed
	o.publish(writeCtx, logger, ev)
	logger.Info("crawl job completed",
		zap.Int("total_pages", total),
		zap.Int("new_pages", len(pages)),
		zap.Int("new_pages_indexed", indexed),
	)
	return nil
}

// processBatch stores and indexes pages concurrently and returns the number
// that succeeded. Individual failures are logged only.
func (o *Orchestrator) processBatch(ctx context.Context, logger *zap.Logger, seed string, batch []crawler.PageRecord) int {
	var ok atomic.Int32
	var g errgroup.Group
	g.SetLimit(o.deps.BatchSize)
	for _, page := range batch {
		g.Go(func() error {
			site := metrics.SanitizeSite(page.URL)
			if err := o.indexPage(ctx, seed, page); err != nil {
				metrics.ObservePageIndexed(site, "error")
				logger.Warn("page indexing failed", zap.String("url", page.URL), zap.Error(err))
				return nil
			}
			metrics.ObservePageIndexed(site, "ok")
			n := ok.Add(1)
			logger.Debug("page indexed", zap.String("url", page.URL), zap.String("title", page.Title), zap.Int32("indexed", n))
			return nil
		})
	}
	_ = g.Wait()
	return int(ok.Load())
}

func (o *Orchestrator) indexPage(ctx context.Context, seed string, page crawler.PageRecord) error {
	if o.deps.Archiver != nil && len(page.RawHTML) > 0 {
		if uri, err := o.deps.Archiver.Archive(ctx, seed, page.URL, page.RawHTML); err != nil {
			o.logger.Warn("html archive failed", zap.String("url", page.URL), zap.Error(err))
		} else {
			o.logger.Debug("html archived", zap.String("url", page.URL), zap.String("uri", uri))
		}
	}
	stored := store.StoredPage{
		URL:       page.URL,
		Title:     page.Title,
		Content:   page.Content,
		PageType:  page.PageType,
		SourceURL: seed,
		Timestamp: o.deps.Clock.Now(),
	}
	if err := o.deps.Pages.StorePage(ctx, stored); err != nil {
		return fmt.Errorf("store page: %w", err)
	}
	if _, err := o.deps.Indexer.Index(ctx, seed, page.URL, page.Title, page.Content); err != nil {
		return fmt.Errorf("index page: %w", err)
	}
	return nil
}

// fail records the failed state. The write ignores cancellation of ctx so a
// canceled job still leaves a terminal record behind.
func (o *Orchestrator) fail(ctx context.Context, logger *zap.Logger, job Job, cause error) error {
	writeCtx := context.WithoutCancel(ctx)
	metrics.ObserveJob(string(store.StateFailed))
	logger.Error("crawl job failed", zap.Error(cause))
	err := o.deps.Status.UpdateStatus(writeCtx, job.SeedURL, store.Failed(o.deps.Clock.Now(), cause.Error()))
	switch {
	case errors.Is(err, store.ErrTerminalStatus):
		logger.Info("crawl status already terminal, not marking failed", zap.Error(err))
	case err != nil:
		logger.Error("failed status update failed", zap.Error(err))
	}
	ev := o.event(events.CrawlFailed, job)
	ev.Error = cause.Error()
	o.publish(writeCtx, logger, ev)
	return cause
}

func (o *Orchestrator) event(t events.Type, job Job) events.Event {
	ev, err := events.New(t, job.SeedURL, job.SessionID, o.deps.Clock.Now())
	if err != nil {
		o.logger.Warn("event id generation failed", zap.Error(err))
		ev = events.Event{Type: t, SeedURL: job.SeedURL, SessionID: job.SessionID, At: o.deps.Clock.Now()}
	}
	return ev
}

func (o *Orchestrator) publish(ctx context.Context, logger *zap.Logger, ev events.Event) {
	if err := o.deps.Publisher.Publish(ctx, ev); err != nil {
		logger.Warn("event publish failed", zap.String("type", string(ev.Type)), zap.Error(err))
	}
}

// excludeSeed drops the seed page, which the quick index already covered.
func excludeSeed(seed string, pages []crawler.PageRecord) []crawler.PageRecord {
	normalized, err := crawler.NormalizeURL(seed)
	if err != nil {
		normalized = seed
	}
	out := make([]crawler.PageRecord, 0, len(pages))
	for _, p := range pages {
		if p.URL == seed || p.URL == normalized {
			continue
		}
		out = append(out, p)
	}
	return out
}
