package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	if pagesFetchedTotal == nil || fetchBytesTotal == nil || pagesIndexedTotal == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveFetch(t *testing.T) {
	ObserveFetch("https://Fetch.Example.com/a", "ok", 128)
	ObserveFetch("https://fetch.example.com/b", "error", 0)

	if val := testutil.ToFloat64(pagesFetchedTotal.WithLabelValues("fetch.example.com", "ok")); val != 1 {
		t.Errorf("expected 1 ok fetch, got %f", val)
	}
	if val := testutil.ToFloat64(pagesFetchedTotal.WithLabelValues("fetch.example.com", "error")); val != 1 {
		t.Errorf("expected 1 failed fetch, got %f", val)
	}
	if val := testutil.ToFloat64(fetchBytesTotal.WithLabelValues("fetch.example.com")); val != 128 {
		t.Errorf("expected 128 bytes, got %f", val)
	}
}

func TestObserveIndexing(t *testing.T) {
	ObservePageIndexed("https://index.example.com/p", "indexed")
	ObserveVectors(3)
	ObserveVectors(0)
	ObserveEmbedding(20 * time.Millisecond)
	ObserveJob("completed")
	IncActiveCrawls()
	IncActiveCrawls()
	DecActiveCrawls()

	if val := testutil.ToFloat64(pagesIndexedTotal.WithLabelValues("index.example.com", "indexed")); val != 1 {
		t.Errorf("expected 1 indexed page, got %f", val)
	}
	if val := testutil.ToFloat64(vectorsUpsertedTotal); val != 3 {
		t.Errorf("expected 3 vectors, got %f", val)
	}
	if val := testutil.ToFloat64(crawlJobsTotal.WithLabelValues("completed")); val != 1 {
		t.Errorf("expected 1 completed job, got %f", val)
	}
	if val := testutil.ToFloat64(activeCrawls); val != 1 {
		t.Errorf("expected 1 active crawl, got %f", val)
	}
	if val := testutil.CollectAndCount(embeddingDurationSeconds); val != 1 {
		t.Errorf("expected embedding histogram to be collected, got %d", val)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
