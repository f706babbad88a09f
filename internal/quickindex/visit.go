package quickindex

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-indexer/internal/crawler"
	"github.com/JakeFAU/site-indexer/internal/index"
	"github.com/JakeFAU/site-indexer/internal/orchestrator"
	"github.com/JakeFAU/site-indexer/internal/store"
)

// Options used for the background crawl that follows a first visit.
const (
	VisitMaxDepth = 2
	VisitMaxPages = 30
)

// Message roles returned to the chat UI.
const (
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Submitter queues a background crawl.
type Submitter interface {
	Enqueue(ctx context.Context, job orchestrator.Job) error
}

// VectorStats reports how many vectors a site has.
type VectorStats interface {
	Stats(ctx context.Context, sourceURL string) (index.NamespaceStats, error)
}

// VisitResult is the greeting for a visit to a site.
type VisitResult struct {
	URL             string      `json:"url"`
	SessionID       string      `json:"sessionId"`
	FirstVisit      bool        `json:"firstVisit"`
	HomepageIndexed bool        `json:"homepageIndexed"`
	CrawlQueued     bool        `json:"crawlQueued"`
	Status          store.State `json:"status,omitempty"`
	Role            string      `json:"role"`
	Message         string      `json:"message"`
}

// Visit resolves a site reference and greets the visitor. Sites seen for the
// first time get their homepage indexed and a background crawl queued.
func (s *Service) Visit(ctx context.Context, rawURL string) (VisitResult, error) {
	seed, ok := crawler.ReconstructURL(rawURL)
	if !ok {
		return VisitResult{}, fmt.Errorf("%w: %q is not a site", crawler.ErrInvalidURL, rawURL)
	}
	if _, err := crawler.ParseSeed(seed); err != nil {
		return VisitResult{}, err
	}
	res := VisitResult{URL: seed, SessionID: crawler.SessionID(seed), Role: RoleAssistant}

	indexed, err := s.store.IsIndexed(ctx, seed)
	if err != nil {
		return VisitResult{}, fmt.Errorf("check indexed: %w", err)
	}
	if indexed {
		return s.returnVisit(ctx, res)
	}
	return s.firstVisit(ctx, res)
}

func (s *Service) firstVisit(ctx context.Context, res VisitResult) (VisitResult, error) {
	res.FirstVisit = true
	needsJS := crawler.NeedsJavaScript(res.URL, s.jsHosts)
	logger := s.logger.With(zap.String("seed", res.URL), zap.Bool("javascript", needsJS))
	logger.Info("quick indexing homepage")

	home := s.QuickIndex(ctx, res.URL, needsJS)
	if !home.Success {
		res.Role = RoleSystem
		res.Message = "⚠️ Error: Could not extract content from homepage"
		return res, nil
	}
	res.HomepageIndexed = true

	if err := s.store.AddIndexedURL(ctx, res.URL); err != nil {
		return VisitResult{}, fmt.Errorf("register seed: %w", err)
	}
	pending := store.Pending(res.SessionID).Apply(store.CrawlStatus{})
	if err := s.store.ResetStatus(ctx, res.URL, pending); err != nil {
		return VisitResult{}, fmt.Errorf("mark pending: %w", err)
	}
	res.Status = store.StatePending

	if s.submitter != nil {
		job := orchestrator.Job{
			SeedURL:   res.URL,
			SessionID: res.SessionID,
			Options: crawler.CrawlOptions{
				MaxDepth:      VisitMaxDepth,
				MaxPages:      VisitMaxPages,
				UseJavaScript: needsJS,
			},
		}
		if err := s.submitter.Enqueue(ctx, job); err != nil {
			logger.Error("background crawl submission failed", zap.Error(err))
		} else {
			res.CrawlQueued = true
		}
	}

	res.Message = fmt.Sprintf("✅ I've indexed the homepage of %s and you can start asking questions now!\n\n"+
		"🔄 I'm crawling the rest of the site in the background to gather more information.\n\n"+
		"📍 Current site: %s", home.Title, res.URL)
	return res, nil
}

func (s *Service) returnVisit(ctx context.Context, res VisitResult) (VisitResult, error) {
	res.Message = fmt.Sprintf("Hello! I have information about %s. What would you like to know?", res.URL)

	st, err := s.store.GetStatus(ctx, res.URL)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return res, nil
	case err != nil:
		return VisitResult{}, fmt.Errorf("get status: %w", err)
	}
	res.Status = st.State

	switch st.State {
	case store.StateCompleted:
		count := "multiple"
		var vectors uint64
		if s.stats != nil {
			ns, err := s.stats.Stats(ctx, res.URL)
			if err != nil {
				s.logger.Warn("vector stats failed", zap.String("seed", res.URL), zap.Error(err))
			}
			vectors = ns.VectorCount
		}
		switch {
		case vectors > 0:
			count = strconv.FormatUint(vectors, 10)
		case st.TotalPages > 0:
			count = strconv.Itoa(st.TotalPages)
		}
		res.Message = fmt.Sprintf("📚 I have indexed %s pages from this site. Ask me anything!\n\n📍 Site: %s", count, res.URL)
	case store.StateCrawling:
		res.Message = fmt.Sprintf("🔄 Still crawling and indexing pages in the background...\n\n📍 Site: %s", res.URL)
	}
	return res, nil
}
