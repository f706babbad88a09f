package crawler

import (
	"net/http"
	"time"
)

// CrawlTarget is a frontier entry. Depth counts hops from the seed.
type CrawlTarget struct {
	URL   string `json:"url"`
	Depth int    `json:"depth"`
}

// PageRecord is one successfully extracted page.
type PageRecord struct {
	URL       string   `json:"url"`
	Title     string   `json:"title"`
	Content   string   `json:"content"`
	PageType  string   `json:"pageType"`
	SourceURL string   `json:"sourceUrl"`
	Depth     int      `json:"depth"`
	Links     []string `json:"links,omitempty"`
	// RawHTML is the fetched document, kept only for archiving.
	RawHTML []byte `json:"-"`
}

// CrawlOptions is the immutable per-job configuration.
type CrawlOptions struct {
	MaxDepth       int           `json:"maxDepth"`
	MaxPages       int           `json:"maxPages"`
	Delay          time.Duration `json:"delay"`
	Timeout        time.Duration `json:"timeout"`
	SameDomainOnly bool          `json:"sameDomainOnly"`
	UseJavaScript  bool          `json:"useJavaScript"`
}

// Defaults applied to background crawls when the caller leaves a field unset.
const (
	DefaultMaxDepth      = 2
	DefaultMaxPages      = 30
	DefaultStaticDelay   = 500 * time.Millisecond
	DefaultRenderedDelay = 1000 * time.Millisecond
	DefaultStaticTimeout = 5 * time.Second
	DefaultRenderTimeout = 15 * time.Second
)

// WithDefaults fills zero-valued fields with the background crawl defaults.
func (o CrawlOptions) WithDefaults() CrawlOptions {
	if o.MaxDepth <= 0 {
		o.MaxDepth = DefaultMaxDepth
	}
	if o.MaxPages <= 0 {
		o.MaxPages = DefaultMaxPages
	}
	if o.Delay <= 0 {
		o.Delay = DefaultStaticDelay
		if o.UseJavaScript {
			o.Delay = DefaultRenderedDelay
		}
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultStaticTimeout
		if o.UseJavaScript {
			o.Timeout = DefaultRenderTimeout
		}
	}
	return o
}

// CrawlStats summarizes one crawl.
type CrawlStats struct {
	PagesVisited    int            `json:"pagesVisited"`
	PagesIndexed    int            `json:"pagesIndexed"`
	TotalCharacters int            `json:"totalCharacters"`
	PageTypes       map[string]int `json:"pageTypes"`
}

// CrawlResult is the output of a scheduler run.
type CrawlResult struct {
	Pages []PageRecord `json:"pages"`
	Stats CrawlStats   `json:"stats"`
}

// FetchRequest captures a single fetch.
type FetchRequest struct {
	URL     string
	Timeout time.Duration
	Headers http.Header
	// BlockMedia asks rendered fetchers to drop image, font and media requests.
	BlockMedia bool
}

// FetchResponse holds fetch output and metadata.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}
