package quickindex

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-indexer/internal/clock"
	"github.com/JakeFAU/site-indexer/internal/crawler"
	"github.com/JakeFAU/site-indexer/internal/index"
	"github.com/JakeFAU/site-indexer/internal/orchestrator"
	"github.com/JakeFAU/site-indexer/internal/storage/memory"
	"github.com/JakeFAU/site-indexer/internal/store"
)

var homepage = `<html><head><title>Example Blog</title>
<meta name="description" content="Notes about distributed systems."></head>
<body><nav>Home About</nav><main><h1>Welcome</h1><p>` + strings.Repeat("Readable homepage text. ", 10) + `</p></main>
<footer>footer</footer></body></html>`

type fakeFetcher struct {
	mu       sync.Mutex
	body     string
	err      error
	requests []crawler.FetchRequest
}

func (f *fakeFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return crawler.FetchResponse{}, f.err
	}
	return crawler.FetchResponse{URL: req.URL, StatusCode: 200, Body: []byte(f.body)}, nil
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
}

func (b *fakeBrowser) Open(context.Context) (crawler.Session, error) {
	return b.session, nil
}

type fakeIndexer struct {
	err   error
	calls []string
}

func (f *fakeIndexer) Index(_ context.Context, sourceURL, pageURL, _, _ string) (int, error) {
	f.calls = append(f.calls, sourceURL+"|"+pageURL)
	return 2, f.err
}

type fakeSubmitter struct {
	jobs []orchestrator.Job
	err  error
}

func (f *fakeSubmitter) Enqueue(_ context.Context, job orchestrator.Job) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

type fakeStats struct {
	count uint64
}

func (f fakeStats) Stats(_ context.Context, sourceURL string) (index.NamespaceStats, error) {
	return index.NamespaceStats{Namespace: index.DeriveNamespace(sourceURL), VectorCount: f.count}, nil
}

type fixture struct {
	static    *fakeFetcher
	browser   *fakeBrowser
	store     *memory.Store
	indexer   *fakeIndexer
	submitter *fakeSubmitter
	svc       *Service
}

func newFixture(t *testing.T, stats VectorStats) *fixture {
	t.Helper()
	f := &fixture{
		static:    &fakeFetcher{body: homepage},
		browser:   &fakeBrowser{session: &fakeSession{fakeFetcher: &fakeFetcher{body: homepage}}},
		store:     memory.NewStore(),
		indexer:   &fakeIndexer{},
		submitter: &fakeSubmitter{},
	}
	svc, err := New(Deps{
		Static:    f.static,
		Browser:   f.browser,
		Store:     f.store,
		Indexer:   f.indexer,
		Stats:     stats,
		Submitter: f.submitter,
		Clock:     clock.Fixed(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)),
	}, Config{}, zap.NewNop())
	require.NoError(t, err)
	f.svc = svc
	return f
}

func TestQuickIndexStaticStoresAndIndexes(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	ctx := context.Background()
	res := f.svc.QuickIndex(ctx, "https://blog.example", false)

	require.True(t, res.Success)
	require.Equal(t, "Example Blog", res.Title)
	require.True(t, strings.HasPrefix(res.Content, "Notes about distributed systems.\n\nWelcome"))
	require.NotContains(t, res.Content, "footer")
	require.Equal(t, []string{"https://blog.example|https://blog.example"}, f.indexer.calls)
	require.Equal(t, DefaultStaticTimeout, f.static.requests[0].Timeout)

	pages, err := f.store.PagesBySource(ctx, "https://blog.example")
	require.NoError(t, err)
	require.Len(t, pages, 1)
	require.Equal(t, "Homepage", pages[0].PageType)
}

func TestQuickIndexRenderedUsesDedicatedSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	res := f.svc.QuickIndex(context.Background(), "https://app.vercel.app", true)

	require.True(t, res.Success)
	session := f.browser.session
	require.Equal(t, 1, session.closed)
	require.Len(t, session.requests, 1)
	require.True(t, session.requests[0].BlockMedia)
	require.Equal(t, DefaultRenderTimeout, session.requests[0].Timeout)
	require.Empty(t, f.static.requests)
}

func TestQuickIndexFailuresNeverEscape(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.static.err = errors.New("connection refused")
	res := f.svc.QuickIndex(context.Background(), "https://down.example", false)
	require.False(t, res.Success)
	require.Equal(t, "https://down.example", res.URL)

	f = newFixture(t, nil)
	f.static.body = "<html><body><p>tiny</p></body></html>"
	res = f.svc.QuickIndex(context.Background(), "https://thin.example", false)
	require.False(t, res.Success)
	require.Empty(t, f.indexer.calls)

	f = newFixture(t, nil)
	f.indexer.err = errors.New("embedding down")
	res = f.svc.QuickIndex(context.Background(), "https://blog.example", false)
	require.False(t, res.Success)
}

func TestVisitFirstTimeIndexesAndQueuesCrawl(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.svc.Visit(ctx, "dev.to/someone")
	require.NoError(t, err)
	require.Equal(t, "https://dev.to/someone", res.URL)
	require.Equal(t, "session_https___dev_to_someone", res.SessionID)
	require.True(t, res.FirstVisit)
	require.True(t, res.HomepageIndexed)
	require.True(t, res.CrawlQueued)
	require.Equal(t, RoleAssistant, res.Role)
	require.Contains(t, res.Message, "indexed the homepage of Example Blog")

	indexed, err := f.store.IsIndexed(ctx, res.URL)
	require.NoError(t, err)
	require.True(t, indexed)

	st, err := f.store.GetStatus(ctx, res.URL)
	require.NoError(t, err)
	require.Equal(t, store.StatePending, st.State)
	require.True(t, st.HomepageIndexed)
	require.Equal(t, res.SessionID, st.SessionID)

	require.Len(t, f.submitter.jobs, 1)
	job := f.submitter.jobs[0]
	require.Equal(t, VisitMaxDepth, job.Options.MaxDepth)
	require.Equal(t, VisitMaxPages, job.Options.MaxPages)
	require.True(t, job.Options.UseJavaScript, "dev.to is a JavaScript-heavy host")
}

func TestVisitHomepageFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.static.err = errors.New("timeout")

	res, err := f.svc.Visit(context.Background(), "https://blog.example")
	require.NoError(t, err)
	require.Equal(t, RoleSystem, res.Role)
	require.Contains(t, res.Message, "Could not extract content from homepage")
	require.False(t, res.CrawlQueued)
	require.Empty(t, f.submitter.jobs)

	indexed, err := f.store.IsIndexed(context.Background(), "https://blog.example")
	require.NoError(t, err)
	require.False(t, indexed)
}

func TestVisitSubmissionFailureStillGreets(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.submitter.err = errors.New("queue full")

	res, err := f.svc.Visit(context.Background(), "https://blog.example")
	require.NoError(t, err)
	require.True(t, res.HomepageIndexed)
	require.False(t, res.CrawlQueued)
}

func TestVisitReturningMessages(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	const site = "https://blog.example"
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		stats   VectorStats
		status  *store.CrawlStatus
		update  *store.StatusUpdate
		message string
	}{
		{name: "no record", message: "Hello! I have information about " + site},
		{name: "crawling", status: ptr(store.Crawling("s", at)), message: "Still crawling"},
		{
			name:    "completed with vectors",
			stats:   fakeStats{count: 42},
			status:  ptr(store.Crawling("s", at)),
			update:  ptr(store.Completed(at, 7, 6)),
			message: "I have indexed 42 pages",
		},
		{
			name:    "completed falls back to total pages",
			stats:   fakeStats{},
			status:  ptr(store.Crawling("s", at)),
			update:  ptr(store.Completed(at, 7, 6)),
			message: "I have indexed 7 pages",
		},
		{
			name:    "completed without counts",
			status:  ptr(store.Crawling("s", at)),
			update:  ptr(store.ForceCompleted(at)),
			message: "I have indexed multiple pages",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, tc.stats)
			require.NoError(t, f.store.AddIndexedURL(ctx, site))
			if tc.status != nil {
				require.NoError(t, f.store.ResetStatus(ctx, site, *tc.status))
			}
			if tc.update != nil {
				require.NoError(t, f.store.UpdateStatus(ctx, site, *tc.update))
			}

			res, err := f.svc.Visit(ctx, site)
			require.NoError(t, err)
			require.False(t, res.FirstVisit)
			require.Contains(t, res.Message, tc.message)
			require.Empty(t, f.submitter.jobs)
			require.Empty(t, f.static.requests)
		})
	}
}

func TestVisitRejectsAssetPaths(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	_, err := f.svc.Visit(context.Background(), "favicon.ico")
	require.ErrorIs(t, err, crawler.ErrInvalidURL)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(Deps{}, Config{}, nil)
	require.Error(t, err)
	_, err = New(Deps{Static: &fakeFetcher{}}, Config{}, nil)
	require.Error(t, err)
	_, err = New(Deps{Static: &fakeFetcher{}, Store: memory.NewStore()}, Config{}, nil)
	require.Error(t, err)
}

func ptr[T any](v T) *T {
	return &v
}
