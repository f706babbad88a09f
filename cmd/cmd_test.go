package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-indexer/internal/config"
	"github.com/JakeFAU/site-indexer/internal/orchestrator"
	"github.com/JakeFAU/site-indexer/internal/quickindex"
	"github.com/JakeFAU/site-indexer/internal/sites"
	"github.com/JakeFAU/site-indexer/internal/store"
)

type mockApp struct {
	mock.Mock
	closed bool
}

func (m *mockApp) Close()               { m.closed = true }
func (m *mockApp) Logger() *zap.Logger  { return zap.NewNop() }
func (m *mockApp) Jobs() JobRunner      { return m }
func (m *mockApp) Indexer() PageIndexer { return m }
func (m *mockApp) Admin() SiteAdmin     { return m }

func (m *mockApp) Serve(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockApp) Run(ctx context.Context, job orchestrator.Job) error {
	return m.Called(ctx, job).Error(0)
}

func (m *mockApp) QuickIndex(ctx context.Context, pageURL string, useJavaScript bool) quickindex.Result {
	return m.Called(ctx, pageURL, useJavaScript).Get(0).(quickindex.Result)
}

func (m *mockApp) Status(ctx context.Context, seedURL string) (sites.StatusView, error) {
	args := m.Called(ctx, seedURL)
	return args.Get(0).(sites.StatusView), args.Error(1)
}

func (m *mockApp) Clear(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

// runCommand executes the root command against m and returns stdout.
func runCommand(t *testing.T, m *mockApp, args ...string) (string, error) {
	t.Helper()
	orig := newApp
	newApp = func(context.Context, config.Config, *zap.Logger) (App, error) { return m, nil }
	t.Cleanup(func() {
		newApp = orig
		cfgFile = ""
	})

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestCrawlCommandRunsJob(t *testing.T) {
	m := &mockApp{}
	m.On("Run", mock.Anything, mock.MatchedBy(func(job orchestrator.Job) bool {
		return job.SeedURL == "https://example.com" &&
			job.SessionID == "session_https___example_com" &&
			job.Options.MaxPages == 10 &&
			job.Options.MaxDepth == 2 &&
			job.Options.UseJavaScript &&
			job.Options.SameDomainOnly
	})).Return(nil)
	m.On("Status", mock.Anything, "https://example.com").
		Return(sites.StatusView{Status: store.StateCompleted, TotalPages: 10, NewPagesIndexed: 9}, nil)

	out, err := runCommand(t, m, "crawl", "https://example.com", "--max-pages", "10", "--js")
	require.NoError(t, err)
	m.AssertExpectations(t)
	require.True(t, m.closed)

	var view sites.StatusView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	require.Equal(t, store.StateCompleted, view.Status)
	require.Equal(t, 9, view.NewPagesIndexed)
}

func TestCrawlCommandRejectsBadURL(t *testing.T) {
	m := &mockApp{}
	_, err := runCommand(t, m, "crawl", "ftp://example.com")
	require.Error(t, err)
	m.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestCrawlCommandPropagatesFailure(t *testing.T) {
	m := &mockApp{}
	m.On("Run", mock.Anything, mock.Anything).Return(errors.New("crawl: browser launch failed"))

	_, err := runCommand(t, m, "crawl", "https://example.com")
	require.ErrorContains(t, err, "browser launch failed")
}

func TestQuickIndexCommand(t *testing.T) {
	m := &mockApp{}
	m.On("QuickIndex", mock.Anything, "https://example.com", false).
		Return(quickindex.Result{URL: "https://example.com", Title: "Example", Success: true})

	out, err := runCommand(t, m, "quick-index", "https://example.com")
	require.NoError(t, err)
	require.Contains(t, out, `"title": "Example"`)

	m2 := &mockApp{}
	m2.On("QuickIndex", mock.Anything, "https://example.com", true).
		Return(quickindex.Result{URL: "https://example.com"})
	_, err = runCommand(t, m2, "quick-index", "--js", "https://example.com")
	require.ErrorContains(t, err, "quick index of https://example.com failed")
}

func TestStatusCommandWaitsForTerminalState(t *testing.T) {
	m := &mockApp{}
	m.On("Status", mock.Anything, "https://example.com").
		Return(sites.StatusView{Status: store.StateCrawling, TotalPages: 3}, nil).Twice()
	m.On("Status", mock.Anything, "https://example.com").
		Return(sites.StatusView{Status: store.StateCompleted, TotalPages: 7, NewPagesIndexed: 6}, nil).Once()

	out, err := runCommand(t, m, "status", "https://example.com", "--wait", "--interval", time.Millisecond.String())
	require.NoError(t, err)
	require.Contains(t, out, `"status": "completed"`)
	m.AssertNumberOfCalls(t, "Status", 3)
}

func TestStatusCommandGivesUp(t *testing.T) {
	m := &mockApp{}
	m.On("Status", mock.Anything, "https://example.com").
		Return(sites.StatusView{Status: store.StateCrawling}, nil)

	_, err := runCommand(t, m, "status", "https://example.com", "--wait", "--interval", "1ms", "--attempts", "2")
	require.ErrorContains(t, err, "still crawling after 2 polls")
}

func TestStatusCommandRejectsBadPollFlags(t *testing.T) {
	m := &mockApp{}

	_, err := runCommand(t, m, "status", "https://example.com", "--wait", "--interval", "0s")
	require.ErrorContains(t, err, "--interval must be positive")
	_, err = runCommand(t, m, "status", "https://example.com", "--wait", "--interval=-1s")
	require.ErrorContains(t, err, "--interval must be positive")
	_, err = runCommand(t, m, "status", "https://example.com", "--wait", "--attempts", "0")
	require.ErrorContains(t, err, "--attempts must be positive")
	m.AssertNotCalled(t, "Status", mock.Anything, mock.Anything)
}

func TestStatusCommandNotFound(t *testing.T) {
	m := &mockApp{}
	m.On("Status", mock.Anything, "https://example.com").Return(sites.StatusView{}, store.ErrNotFound)

	_, err := runCommand(t, m, "status", "https://example.com")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestClearCommand(t *testing.T) {
	m := &mockApp{}
	m.On("Clear", mock.Anything).Return(4, nil)

	out, err := runCommand(t, m, "clear")
	require.NoError(t, err)
	require.Contains(t, out, `"urlsCleared": 4`)
}

func TestServeCommand(t *testing.T) {
	m := &mockApp{}
	m.On("Serve", mock.Anything).Return(nil)

	_, err := runCommand(t, m, "serve")
	require.NoError(t, err)
	m.AssertExpectations(t)
}

func TestRootCommandFailsOnBadConfig(t *testing.T) {
	m := &mockApp{}
	_, err := runCommand(t, m, "--config", "/does/not/exist.yaml", "clear")
	require.ErrorContains(t, err, "load config")
	m.AssertNotCalled(t, "Clear", mock.Anything)
}
