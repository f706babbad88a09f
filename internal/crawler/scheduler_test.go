package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePage struct {
	status int
	body   string
	err    error
}

type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]fakePage
	calls map[string]int
	reqs  []FetchRequest
}

func newFakeFetcher(pages map[string]fakePage) *fakeFetcher {
	return &fakeFetcher{pages: pages, calls: make(map[string]int)}
}

func (f *fakeFetcher) Fetch(_ context.Context, req FetchRequest) (FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[req.URL]++
	f.reqs = append(f.reqs, req)
	page, ok := f.pages[req.URL]
	if !ok {
		return FetchResponse{URL: req.URL, StatusCode: http.StatusNotFound}, nil
	}
	if page.err != nil {
		return FetchResponse{}, page.err
	}
	status := page.status
	if status == 0 {
		status = http.StatusOK
	}
	return FetchResponse{URL: req.URL, StatusCode: status, Body: []byte(page.body)}, nil
}

func (f *fakeFetcher) callCount(u string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[u]
}

type fakeSession struct {
	*fakeFetcher
	closed int
}

func (s *fakeSession) Close() error {
	s.closed++
	return nil
}

type fakeBrowser struct {
	session *fakeSession
	err     error
}

func (b *fakeBrowser) Open(context.Context) (Session, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.session, nil
}

// htmlPage renders a page whose main content clears the acceptance floor
// and which links to every entry of links.
func htmlPage(title string, links ...string) string {
	var b strings.Builder
	b.WriteString("<html><head><title>" + title + "</title></head><body><main>")
	b.WriteString("<p>" + title + " has a paragraph that is long enough to be kept by the extractor walk.</p>")
	for _, l := range links {
		fmt.Fprintf(&b, `<a href="%s">%s</a>`, l, l)
	}
	b.WriteString("</main></body></html>")
	return b.String()
}

func pageURLs(result CrawlResult) []string {
	urls := make([]string, 0, len(result.Pages))
	for _, p := range result.Pages {
		urls = append(urls, p.URL)
	}
	return urls
}

func TestCrawlHomepagePlusDiscoveredPages(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string]fakePage{
		"https://example.com/":  {body: htmlPage("Home", "/a", "/b", "/c")},
		"https://example.com/a": {body: htmlPage("A", "/a/deeper")},
		"https://example.com/b": {body: htmlPage("B")},
		"https://example.com/c": {body: htmlPage("C")},
	})
	s := NewScheduler(fetcher, nil, zap.NewNop())

	result, err := s.Crawl(context.Background(), "https://example.com", CrawlOptions{MaxDepth: 1, MaxPages: 5})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{
		"https://example.com/", "https://example.com/a", "https://example.com/b", "https://example.com/c",
	}, pageURLs(result))
	require.Zero(t, fetcher.callCount("https://example.com/a/deeper"))
	require.Equal(t, 1, fetcher.callCount("https://example.com/"))
	require.Equal(t, 4, result.Stats.PagesIndexed)
	require.Equal(t, 4, result.Stats.PagesVisited)
	require.Equal(t, 1, result.Stats.PageTypes["Homepage"])
	require.Equal(t, 3, result.Stats.PageTypes["Page"])

	for _, p := range result.Pages {
		require.Equal(t, "https://example.com", p.SourceURL)
		require.True(t, p.Depth <= 1)
	}
}

func TestCrawlFailedPageIsVisitedButExcluded(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string]fakePage{
		"https://example.com/":       {body: htmlPage("Home", "/broken", "/gone", "/ok")},
		"https://example.com/broken": {status: http.StatusInternalServerError, body: htmlPage("Broken")},
		"https://example.com/gone":   {err: errors.New("connection reset")},
		"https://example.com/ok":     {body: htmlPage("OK")},
	})
	s := NewScheduler(fetcher, nil, zap.NewNop())

	result, err := s.Crawl(context.Background(), "https://example.com/", CrawlOptions{MaxDepth: 2, MaxPages: 10})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"https://example.com/", "https://example.com/ok"}, pageURLs(result))
	require.Equal(t, 1, fetcher.callCount("https://example.com/broken"))
	require.Equal(t, 4, result.Stats.PagesVisited)
}

func TestCrawlRespectsMaxPages(t *testing.T) {
	t.Parallel()

	pages := map[string]fakePage{}
	var links []string
	for i := range 10 {
		path := fmt.Sprintf("/p%d", i)
		links = append(links, path)
		pages["https://example.com"+path] = fakePage{body: htmlPage(path)}
	}
	pages["https://example.com/"] = fakePage{body: htmlPage("Home", links...)}
	fetcher := newFakeFetcher(pages)
	s := NewScheduler(fetcher, nil, zap.NewNop())

	result, err := s.Crawl(context.Background(), "https://example.com", CrawlOptions{MaxDepth: 3, MaxPages: 3})
	require.NoError(t, err)
	require.Len(t, result.Pages, 3)
	require.Equal(t, "https://example.com/", result.Pages[0].URL)
}

func TestCrawlVisitsEachURLOnce(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string]fakePage{
		"https://example.com/":  {body: htmlPage("Home", "/a", "/b", "/a", "https://example.com/b")},
		"https://example.com/a": {body: htmlPage("A", "/", "/b")},
		"https://example.com/b": {body: htmlPage("B", "/a", "/")},
	})
	s := NewScheduler(fetcher, nil, zap.NewNop())

	result, err := s.Crawl(context.Background(), "https://example.com", CrawlOptions{MaxDepth: 5, MaxPages: 50})
	require.NoError(t, err)
	require.Len(t, result.Pages, 3)
	for u, n := range fetcher.calls {
		require.Equal(t, 1, n, u)
	}
}

func TestCrawlNavigationLinksSeedAtDepthZero(t *testing.T) {
	t.Parallel()

	home := `<html><body><nav><a href="/docs">Docs</a><a href="https://other.com/x">Away</a></nav><main>
		<p>The homepage paragraph is definitely long enough to be retained by the walk.</p>
		<a href="/inline">Inline</a></main></body></html>`
	fetcher := newFakeFetcher(map[string]fakePage{
		"https://example.com/":     {body: home},
		"https://example.com/docs": {body: htmlPage("Docs", "/docs/child")},
	})
	s := NewScheduler(fetcher, nil, zap.NewNop())

	result, err := s.Crawl(context.Background(), "https://example.com", CrawlOptions{MaxDepth: 0, MaxPages: 10})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"https://example.com/", "https://example.com/docs"}, pageURLs(result))
	for _, p := range result.Pages {
		require.Zero(t, p.Depth)
	}
	require.Zero(t, fetcher.callCount("https://example.com/inline"))
	require.Zero(t, fetcher.callCount("https://example.com/docs/child"))
	require.Zero(t, fetcher.callCount("https://other.com/x"))
}

func TestCrawlShortPagesStillContributeLinks(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string]fakePage{
		"https://example.com/":        {body: `<html><body><a href="/landing">go</a></body></html>`},
		"https://example.com/landing": {body: htmlPage("Landing")},
	})
	s := NewScheduler(fetcher, nil, zap.NewNop())

	result, err := s.Crawl(context.Background(), "https://example.com", CrawlOptions{MaxDepth: 1, MaxPages: 10})
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/landing"}, pageURLs(result))
	require.Equal(t, 1, result.Pages[0].Depth)
}

func TestCrawlSameDomainOnlyOff(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string]fakePage{
		"https://example.com/":   {body: htmlPage("Home", "https://other.com/page")},
		"https://other.com/page": {body: htmlPage("Other")},
	})
	s := NewScheduler(fetcher, nil, zap.NewNop())

	result, err := s.Crawl(context.Background(), "https://example.com", CrawlOptions{MaxDepth: 1, MaxPages: 10})
	require.NoError(t, err)
	require.Len(t, result.Pages, 2)

	fetcher = newFakeFetcher(fetcher.pages)
	s = NewScheduler(fetcher, nil, zap.NewNop())
	result, err = s.Crawl(context.Background(), "https://example.com", CrawlOptions{MaxDepth: 1, MaxPages: 10, SameDomainOnly: true})
	require.NoError(t, err)
	require.Len(t, result.Pages, 1)
}

func TestCrawlRenderedUsesSessionAndClosesIt(t *testing.T) {
	t.Parallel()

	session := &fakeSession{fakeFetcher: newFakeFetcher(map[string]fakePage{
		"https://example.com/": {body: htmlPage("Home")},
	})}
	static := newFakeFetcher(nil)
	s := NewScheduler(static, &fakeBrowser{session: session}, zap.NewNop())

	result, err := s.Crawl(context.Background(), "https://example.com", CrawlOptions{
		MaxDepth: 1, MaxPages: 2, UseJavaScript: true, Timeout: DefaultRenderTimeout,
	})
	require.NoError(t, err)
	require.Len(t, result.Pages, 1)
	require.Equal(t, 1, session.closed)
	require.Empty(t, static.calls)
	require.Equal(t, DefaultRenderTimeout, session.reqs[0].Timeout)
}

func TestCrawlRenderedErrors(t *testing.T) {
	t.Parallel()

	s := NewScheduler(newFakeFetcher(nil), nil, zap.NewNop())
	_, err := s.Crawl(context.Background(), "https://example.com", CrawlOptions{MaxPages: 1, UseJavaScript: true})
	require.ErrorIs(t, err, ErrRendererDisabled)

	launchErr := errors.New("no chrome")
	s = NewScheduler(newFakeFetcher(nil), &fakeBrowser{err: launchErr}, zap.NewNop())
	_, err = s.Crawl(context.Background(), "https://example.com", CrawlOptions{MaxPages: 1, UseJavaScript: true})
	require.ErrorIs(t, err, launchErr)
}

func TestCrawlRejectsBadInput(t *testing.T) {
	t.Parallel()

	s := NewScheduler(newFakeFetcher(nil), nil, nil)
	_, err := s.Crawl(context.Background(), "not a url", CrawlOptions{MaxPages: 1})
	require.ErrorIs(t, err, ErrInvalidURL)

	_, err = s.Crawl(context.Background(), "https://example.com", CrawlOptions{})
	require.Error(t, err)
}

func TestCrawlCanceledContext(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string]fakePage{
		"https://example.com/": {body: htmlPage("Home")},
	})
	s := NewScheduler(fetcher, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := s.Crawl(ctx, "https://example.com", CrawlOptions{MaxPages: 5})
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, result.Pages)
}

// gaugeFetcher records how many fetches overlap and when each one starts.
type gaugeFetcher struct {
	inner Fetcher
	hold  time.Duration

	mu       sync.Mutex
	inFlight int
	peak     int
	starts   []time.Time
}

func (g *gaugeFetcher) Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error) {
	g.mu.Lock()
	g.starts = append(g.starts, time.Now())
	g.inFlight++
	g.peak = max(g.peak, g.inFlight)
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		g.inFlight--
		g.mu.Unlock()
	}()

	time.Sleep(g.hold)
	return g.inner.Fetch(ctx, req)
}

func (g *gaugeFetcher) Close() error { return nil }

func (g *gaugeFetcher) sortedStarts() []time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := append([]time.Time(nil), g.starts...)
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

type gaugeBrowser struct{ fetcher *gaugeFetcher }

func (b gaugeBrowser) Open(context.Context) (Session, error) { return b.fetcher, nil }

func wideSite() map[string]fakePage {
	pages := map[string]fakePage{
		"https://example.com/": {body: htmlPage("Home", "/p1", "/p2", "/p3", "/p4", "/p5")},
	}
	for i := 1; i <= 5; i++ {
		pages[fmt.Sprintf("https://example.com/p%d", i)] = fakePage{body: htmlPage(fmt.Sprintf("P%d", i))}
	}
	return pages
}

func TestCrawlConcurrencyWidth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		js    bool
		width int
	}{
		{name: "static", js: false, width: staticConcurrency},
		{name: "rendered", js: true, width: renderedConcurrency},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			gauge := &gaugeFetcher{inner: newFakeFetcher(wideSite()), hold: 20 * time.Millisecond}
			s := NewScheduler(gauge, gaugeBrowser{fetcher: gauge}, zap.NewNop())

			result, err := s.Crawl(context.Background(), "https://example.com", CrawlOptions{
				MaxDepth: 1, MaxPages: 10, UseJavaScript: tc.js,
			})
			require.NoError(t, err)
			require.Len(t, result.Pages, 6)
			require.Equal(t, tc.width, gauge.peak)
		})
	}
}

func TestCrawlDelaySpacesTaskStarts(t *testing.T) {
	t.Parallel()

	const delay = 40 * time.Millisecond
	// Timer wake-ups and goroutine hand-off can shave a little off each gap.
	const slack = 10 * time.Millisecond

	gauge := &gaugeFetcher{inner: newFakeFetcher(wideSite())}
	s := NewScheduler(gauge, nil, zap.NewNop())

	result, err := s.Crawl(context.Background(), "https://example.com", CrawlOptions{
		MaxDepth: 1, MaxPages: 10, Delay: delay,
	})
	require.NoError(t, err)
	require.Len(t, result.Pages, 6)

	starts := gauge.sortedStarts()
	require.Len(t, starts, 6)
	for i := 1; i < len(starts); i++ {
		require.GreaterOrEqual(t, starts[i].Sub(starts[i-1]), delay-slack, "fetch %d started too early", i)
	}
	require.GreaterOrEqual(t, starts[len(starts)-1].Sub(starts[0]), 5*delay-slack)
}
