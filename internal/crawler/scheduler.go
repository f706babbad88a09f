package crawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/site-indexer/internal/extract"
	"github.com/JakeFAU/site-indexer/internal/metrics"
)

const (
	staticBatchSize     = 5
	renderedBatchSize   = 2
	staticConcurrency   = 2
	renderedConcurrency = 1
)

// Scheduler runs depth- and count-bounded breadth-first crawls.
type Scheduler struct {
	static  Fetcher
	browser Browser
	logger  *zap.Logger
}

// NewScheduler builds a Scheduler. browser may be nil when rendered crawls
// are not supported.
func NewScheduler(static Fetcher, browser Browser, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		static:  static,
		browser: browser,
		logger:  logger,
	}
}

// Crawl walks the site reachable from seedURL and returns every accepted page.
// Per-page failures never abort the crawl; only invalid input, a browser that
// cannot be launched, or context cancellation produce an error.
func (s *Scheduler) Crawl(ctx context.Context, seedURL string, opts CrawlOptions) (CrawlResult, error) {
	seed, err := ParseSeed(seedURL)
	if err != nil {
		return CrawlResult{}, err
	}
	if opts.MaxPages <= 0 {
		return CrawlResult{}, errors.New("max pages must be > 0")
	}
	if opts.MaxDepth < 0 {
		opts.MaxDepth = 0
	}

	fetcher := s.static
	if opts.UseJavaScript {
		if s.browser == nil {
			return CrawlResult{}, ErrRendererDisabled
		}
		session, err := s.browser.Open(ctx)
		if err != nil {
			return CrawlResult{}, fmt.Errorf("open browser session: %w", err)
		}
		defer func() {
			if cerr := session.Close(); cerr != nil {
				s.logger.Warn("browser session close failed", zap.String("seed", seedURL), zap.Error(cerr))
			}
		}()
		fetcher = session
	}
	if fetcher == nil {
		return CrawlResult{}, errors.New("no fetcher configured")
	}

	run := newCrawlRun(seed, opts, fetcher, s.logger.With(zap.String("seed", seedURL)))
	run.seedFrontier(ctx)

	for run.frontier.pending() > 0 && !run.full() {
		if err := ctx.Err(); err != nil {
			return run.result(), fmt.Errorf("crawl canceled: %w", err)
		}
		run.processBatch(ctx, run.frontier.take(run.batchSize()))
	}

	result := run.result()
	s.logger.Info("crawl finished",
		zap.String("seed", seedURL),
		zap.Int("pages_visited", result.Stats.PagesVisited),
		zap.Int("pages_indexed", result.Stats.PagesIndexed),
		zap.Int("total_characters", result.Stats.TotalCharacters),
		zap.Any("page_types", result.Stats.PageTypes),
	)
	return result, nil
}

type crawlRun struct {
	seed     *url.URL
	opts     CrawlOptions
	fetcher  Fetcher
	logger   *zap.Logger
	frontier *frontier
	limiter  *rate.Limiter

	accepted atomic.Int32
	pages    []PageRecord

	mu         sync.Mutex
	prefetched map[string]FetchResponse
}

type taskResult struct {
	target CrawlTarget
	page   *PageRecord
	links  []string
}

func newCrawlRun(seed *url.URL, opts CrawlOptions, fetcher Fetcher, logger *zap.Logger) *crawlRun {
	limit := rate.Inf
	if opts.Delay > 0 {
		limit = rate.Every(opts.Delay)
	}
	return &crawlRun{
		seed:       seed,
		opts:       opts,
		fetcher:    fetcher,
		logger:     logger,
		frontier:   newFrontier(),
		limiter:    rate.NewLimiter(limit, 1),
		prefetched: make(map[string]FetchResponse),
	}
}

func (r *crawlRun) batchSize() int {
	if r.opts.UseJavaScript {
		return renderedBatchSize
	}
	return staticBatchSize
}

func (r *crawlRun) concurrency() int {
	if r.opts.UseJavaScript {
		return renderedConcurrency
	}
	return staticConcurrency
}

func (r *crawlRun) full() bool {
	return int(r.accepted.Load()) >= r.opts.MaxPages
}

// seedFrontier queues the seed and every navigation link at depth zero.
func (r *crawlRun) seedFrontier(ctx context.Context) {
	seedKey := normalize(r.seed)
	nav := r.navigationLinks(ctx, seedKey)
	r.frontier.offer(CrawlTarget{URL: seedKey, Depth: 0})
	for _, link := range nav {
		r.frontier.offer(CrawlTarget{URL: link, Depth: 0})
	}
	r.logger.Info("frontier seeded", zap.Int("navigation_links", len(nav)), zap.Int("pending", r.frontier.pending()))
}

func (r *crawlRun) navigationLinks(ctx context.Context, seedKey string) []string {
	resp, err := r.fetch(ctx, seedKey)
	if err != nil {
		r.logger.Warn("navigation discovery failed", zap.Error(err))
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		r.logger.Warn("navigation parse failed", zap.Error(err))
		return nil
	}
	r.mu.Lock()
	r.prefetched[seedKey] = resp
	r.mu.Unlock()
	return NavigationLinks(doc, seedKey, r.seed)
}

// processBatch runs one batch through the rate-limited task pool. Tasks hand
// their discoveries back over a channel; only this goroutine applies them.
func (r *crawlRun) processBatch(ctx context.Context, batch []CrawlTarget) {
	results := make(chan taskResult, len(batch))
	go func() {
		var g errgroup.Group
		g.SetLimit(r.concurrency())
		for _, target := range batch {
			g.Go(func() error {
				if err := r.limiter.Wait(ctx); err != nil {
					results <- taskResult{target: target}
					return nil
				}
				results <- r.process(ctx, target)
				return nil
			})
		}
		_ = g.Wait()
		close(results)
	}()
	for res := range results {
		r.apply(res)
	}
}

func (r *crawlRun) process(ctx context.Context, target CrawlTarget) taskResult {
	res := taskResult{target: target}
	if target.Depth > r.opts.MaxDepth || r.full() {
		return res
	}
	if !r.frontier.claim(target.URL) {
		return res
	}
	site := metrics.SanitizeSite(target.URL)

	resp, err := r.fetch(ctx, target.URL)
	if err != nil {
		metrics.ObserveFetch(site, "error", 0)
		r.logger.Warn("page fetch failed", zap.String("url", target.URL), zap.Int("depth", target.Depth), zap.Error(err))
		return res
	}
	metrics.ObserveFetch(site, "ok", len(resp.Body))

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		r.logger.Warn("page parse failed", zap.String("url", target.URL), zap.Error(err))
		return res
	}
	res.links = DiscoverLinks(doc, target.URL, r.seed, r.opts.SameDomainOnly)

	ex := extract.Extract(doc, target.URL)
	if !ex.Accepted() {
		r.logger.Debug("page below content threshold", zap.String("url", target.URL), zap.Int("chars", len(ex.Content)))
		return res
	}
	res.page = &PageRecord{
		URL:       target.URL,
		Title:     ex.Title,
		Content:   ex.Content,
		PageType:  ex.PageType,
		SourceURL: r.seed.String(),
		Depth:     target.Depth,
		Links:     res.links,
		RawHTML:   resp.Body,
	}
	return res
}

// apply records a task's page and queues its links. Links are only queued
// while the next hop stays within MaxDepth.
func (r *crawlRun) apply(res taskResult) {
	if res.page != nil && len(r.pages) < r.opts.MaxPages {
		r.pages = append(r.pages, *res.page)
		r.accepted.Add(1)
		r.logger.Info("page accepted",
			zap.String("url", res.page.URL),
			zap.String("page_type", res.page.PageType),
			zap.String("title", res.page.Title),
			zap.Int("chars", len(res.page.Content)),
		)
	}
	if res.target.Depth >= r.opts.MaxDepth {
		return
	}
	for _, link := range res.links {
		r.frontier.offer(CrawlTarget{URL: link, Depth: res.target.Depth + 1})
	}
}

func (r *crawlRun) fetch(ctx context.Context, target string) (FetchResponse, error) {
	r.mu.Lock()
	resp, ok := r.prefetched[target]
	delete(r.prefetched, target)
	r.mu.Unlock()
	if ok {
		return resp, nil
	}

	resp, err := r.fetcher.Fetch(ctx, FetchRequest{URL: target, Timeout: r.opts.Timeout})
	if err != nil {
		return FetchResponse{}, fmt.Errorf("fetch %s: %w", target, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return FetchResponse{}, fmt.Errorf("fetch %s: status %d: %w", target, resp.StatusCode, ErrNotOK)
	}
	return resp, nil
}

func (r *crawlRun) result() CrawlResult {
	pages := make([]PageRecord, len(r.pages))
	copy(pages, r.pages)
	stats := CrawlStats{
		PagesVisited: r.frontier.visitedCount(),
		PagesIndexed: len(pages),
		PageTypes:    make(map[string]int),
	}
	for _, p := range pages {
		stats.TotalCharacters += len(p.Content)
		stats.PageTypes[p.PageType]++
	}
	return CrawlResult{Pages: pages, Stats: stats}
}
