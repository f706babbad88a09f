package chat

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-indexer/internal/crawler"
	"github.com/JakeFAU/site-indexer/internal/index"
	"github.com/JakeFAU/site-indexer/internal/store"
)

// TopK is the number of chunks retrieved per question.
const TopK = 5

var (
	// ErrInvalidSession reports a session id that does not name a site.
	ErrInvalidSession = errors.New("invalid session id")
	// ErrNoMessages reports a request without a question.
	ErrNoMessages = errors.New("messages must not be empty")
)

// Retriever finds the chunks of a site most similar to a question.
type Retriever interface {
	Query(ctx context.Context, sourceURL, text string, topK int) ([]index.Hit, error)
}

// Completer streams a model answer for a prompt.
type Completer interface {
	Stream(ctx context.Context, prompt string, w io.Writer) error
}

// SiteReader reads stored pages and the registry of indexed seeds.
type SiteReader interface {
	PagesBySource(ctx context.Context, sourceURL string) ([]store.StoredPage, error)
	IndexedURLs(ctx context.Context) ([]string, error)
}

// Service answers chat questions.
type Service struct {
	retriever Retriever
	pages     SiteReader
	completer Completer
	logger    *zap.Logger
}

// NewService builds a Service.
func NewService(retriever Retriever, pages SiteReader, completer Completer, logger *zap.Logger) (*Service, error) {
	if retriever == nil || pages == nil || completer == nil {
		return nil, errors.New("retriever, page reader and completer are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{retriever: retriever, pages: pages, completer: completer, logger: logger.Named("chat")}, nil
}

// ResolveSite maps a session id to the seed it belongs to.
func (s *Service) ResolveSite(ctx context.Context, sessionID string) (string, error) {
	seeds, err := s.pages.IndexedURLs(ctx)
	if err != nil {
		return "", fmt.Errorf("list indexed urls: %w", err)
	}
	site, ok := crawler.ResolveSession(sessionID, seeds)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidSession, sessionID)
	}
	return site, nil
}

// Answer streams the reply to the last message in messages. Errors returned
// before anything is written leave w untouched. A failed retrieval falls back
// to the site's stored pages and a failed completion is reported inline.
func (s *Service) Answer(ctx context.Context, sessionID string, messages []Message, w io.Writer) error {
	if len(messages) == 0 {
		return ErrNoMessages
	}
	site, err := s.ResolveSite(ctx, sessionID)
	if err != nil {
		return err
	}
	question := messages[len(messages)-1].Content
	logger := s.logger.With(zap.String("site", site), zap.String("session_id", sessionID))

	// A retrieval outage degrades to the stored pages below.
	hits, err := s.retriever.Query(ctx, site, question, TopK)
	if err != nil {
		logger.Warn("context retrieval failed, using stored pages", zap.Error(err))
		hits = nil
	}
	logger.Debug("context retrieved", zap.Int("hits", len(hits)))

	siteContext := ContextFromHits(hits)
	if len(hits) == 0 {
		pages, err := s.pages.PagesBySource(ctx, site)
		if err != nil {
			return fmt.Errorf("load stored pages: %w", err)
		}
		if len(pages) == 0 {
			_, err := fmt.Fprintf(w, noContentReplyFmt, site)
			return err
		}
		logger.Info("answering from stored pages", zap.Int("pages", len(pages)))
		siteContext = ContextFromPages(pages)
	}

	prompt := BuildPrompt(site, siteContext, History(messages), question)
	cw := &countingWriter{w: w}
	if err := s.completer.Stream(ctx, prompt, cw); err != nil {
		if cw.n > 0 {
			return fmt.Errorf("completion interrupted: %w", err)
		}
		logger.Error("completion failed", zap.Error(err))
		_, werr := fmt.Fprintf(w, completionErrorFmt, err.Error())
		return werr
	}
	return nil
}

type countingWriter struct {
	w io.Writer
	n int
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += n
	return n, err
}

// Flush forwards to the wrapped writer so streaming survives the wrapper.
func (c *countingWriter) Flush() {
	if f, ok := c.w.(flusher); ok {
		f.Flush()
	}
}
