package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-indexer/internal/crawler"
)

func TestFetchSendsBrowserHeaders(t *testing.T) {
	t.Parallel()

	var gotUA, gotAccept, gotTrace string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.UserAgent()
		gotAccept = r.Header.Get("Accept")
		gotTrace = r.Header.Get("X-Trace")
		_, _ = w.Write([]byte("<html><body>ok</body></html>"))
	}))
	defer srv.Close()

	f := New(Config{})
	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{
		URL:     srv.URL + "/page",
		Headers: http.Header{"X-Trace": {"yes"}},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(resp.Body), "ok")
	require.False(t, resp.UsedHeadless)
	require.Equal(t, DefaultUserAgent, gotUA)
	require.Equal(t, DefaultAccept, gotAccept)
	require.Equal(t, "yes", gotTrace)
}

func TestFetchNonOKStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			http.NotFound(w, r)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	f := New(Config{})
	for _, path := range []string{"/missing", "/empty"} {
		resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + path})
		require.ErrorIs(t, err, crawler.ErrNotOK, path)
		require.NotZero(t, resp.StatusCode, path)
	}
}

func TestFetchRevisitsSameURL(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("again"))
	}))
	defer srv.Close()

	f := New(Config{})
	for range 2 {
		_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL})
		require.NoError(t, err)
	}
	require.EqualValues(t, 2, hits.Load())
}

func TestFetchFollowsBoundedRedirects(t *testing.T) {
	t.Parallel()

	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var n int
		_, _ = fmt.Sscanf(r.URL.Query().Get("n"), "%d", &n)
		if r.URL.Path == "/chain" && n < 3 {
			http.Redirect(w, r, fmt.Sprintf("%s/chain?n=%d", srv.URL, n+1), http.StatusFound)
			return
		}
		if r.URL.Path == "/loop" {
			http.Redirect(w, r, fmt.Sprintf("%s/loop?n=%d", srv.URL, n+1), http.StatusFound)
			return
		}
		_, _ = w.Write([]byte("landed"))
	}))
	defer srv.Close()

	f := New(Config{MaxRedirects: 5})

	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/chain"})
	require.NoError(t, err)
	require.Contains(t, resp.URL, "n=3")

	_, err = f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/loop"})
	require.Error(t, err)
}

func TestFetchHonorsRequestTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	f := New(Config{})
	start := time.Now()
	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL, Timeout: 100 * time.Millisecond})
	require.Error(t, err)
	require.Less(t, time.Since(start), 3*time.Second)
}

func TestFetchAllowsTimeoutsBeyondCollyDefault(t *testing.T) {
	t.Parallel()

	f := New(Config{Timeout: 30 * time.Second})
	require.Equal(t, 30*time.Second, f.requestTimeout(crawler.FetchRequest{}))
	require.Equal(t, 45*time.Second, f.requestTimeout(crawler.FetchRequest{Timeout: 45 * time.Second}))
	require.Equal(t, DefaultMaxTimeout, f.requestTimeout(crawler.FetchRequest{Timeout: time.Hour}))

	f = New(Config{Timeout: 3 * time.Minute})
	require.Equal(t, 3*time.Minute, f.requestTimeout(crawler.FetchRequest{}))
}

func TestFetchClientTimeoutFollowsConfig(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	f := New(Config{Timeout: 50 * time.Millisecond, MaxTimeout: 100 * time.Millisecond})
	start := time.Now()
	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL, Timeout: time.Minute})
	require.Error(t, err)
	require.Less(t, time.Since(start), 3*time.Second)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	req := crawler.FetchRequest{
		URL:     "https://example.com",
		Headers: http.Header{"X-Trace": {"yes"}},
	}
	var result crawler.FetchResponse
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, req, time.Unix(0, 0), &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))
	require.Equal(t, DefaultAccept, collyReq.Headers.Get("Accept"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com/final")},
	})
	require.Equal(t, "https://example.com/final", result.URL)
	require.Equal(t, "body", string(result.Body))
	require.Equal(t, "ok", result.Headers.Get("X-Resp"))

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
