package crawler

import (
	"context"
	"errors"
)

var (
	// ErrNotOK reports a response that was reachable but not a 200.
	ErrNotOK = errors.New("response status not OK")
	// ErrRendererDisabled is returned when a rendered crawl is requested without a browser.
	ErrRendererDisabled = errors.New("rendered fetch requested but no browser is configured")
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Session is a browser session owned by one crawl job. Each Fetch opens and
// closes its own tab.
type Session interface {
	Fetcher
	Close() error
}

// Browser launches browser sessions.
type Browser interface {
	Open(ctx context.Context) (Session, error)
}
