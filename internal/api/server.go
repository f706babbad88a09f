package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-indexer/internal/chat"
	"github.com/JakeFAU/site-indexer/internal/config"
	"github.com/JakeFAU/site-indexer/internal/crawler"
	"github.com/JakeFAU/site-indexer/internal/metrics"
	"github.com/JakeFAU/site-indexer/internal/orchestrator"
	"github.com/JakeFAU/site-indexer/internal/queue"
	"github.com/JakeFAU/site-indexer/internal/quickindex"
	"github.com/JakeFAU/site-indexer/internal/sites"
	"github.com/JakeFAU/site-indexer/internal/store"
)

const enqueueTimeout = 5 * time.Second

// Indexer handles homepage visits and one-off page indexing.
type Indexer interface {
	Visit(ctx context.Context, rawURL string) (quickindex.VisitResult, error)
	QuickIndex(ctx context.Context, pageURL string, useJavaScript bool) quickindex.Result
}

// Submitter queues background crawls.
type Submitter interface {
	Enqueue(ctx context.Context, job orchestrator.Job) error
}

// Answerer streams chat replies.
type Answerer interface {
	Answer(ctx context.Context, sessionID string, messages []chat.Message, w io.Writer) error
}

// SiteAdmin runs the per-site status and maintenance operations.
type SiteAdmin interface {
	Status(ctx context.Context, seedURL string) (sites.StatusView, error)
	FixStatus(ctx context.Context, seedURL string) (store.CrawlStatus, error)
	Clear(ctx context.Context) (int, error)
	Namespace(ctx context.Context, siteURL string) (sites.NamespaceReport, error)
	Pages(ctx context.Context, siteURL string) (sites.PagesReport, error)
}

// Deps lists the services the handlers call.
type Deps struct {
	Indexer   Indexer
	Submitter Submitter
	Chat      Answerer
	Sites     SiteAdmin
}

// Server wires HTTP handlers to the indexing services.
type Server struct {
	router chi.Router
	deps   Deps
	cfg    config.Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg config.Config, logger *zap.Logger) (*Server, error) {
	if deps.Indexer == nil || deps.Submitter == nil || deps.Chat == nil || deps.Sites == nil {
		return nil, errors.New("indexer, submitter, chat and sites are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{deps: deps, cfg: cfg, logger: logger.Named("api")}

	timeout := cfg.RequestTimeout()
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(echoRequestID)
	r.Use(loggingMiddleware(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		// Streaming replies must not sit behind http.TimeoutHandler, which
		// buffers the whole response.
		r.Post("/chat", s.chat)

		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(timeout))
			r.Post("/visit", s.visit)
			r.Post("/quick-index", s.quickIndex)
			r.Route("/crawls", func(r chi.Router) {
				r.Post("/", s.submitCrawl)
				r.Get("/status", s.crawlStatus)
				r.Post("/fix-status", s.fixStatus)
			})
			r.Post("/context/clear", s.clearContext)
			r.Get("/debug/namespace", s.debugNamespace)
			r.Get("/debug/pages", s.debugPages)
		})
	})

	s.router = r
	return s, nil
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type urlRequest struct {
	URL string `json:"url"`
}

type quickIndexRequest struct {
	URL           string `json:"url"`
	UseJavaScript bool   `json:"useJavaScript"`
}

// crawlOptionsRequest treats zero and negative numbers as unset, so they take
// the configured or per-mode defaults. SameDomainOnly is a pointer because
// its default is true.
type crawlOptionsRequest struct {
	MaxDepth       int   `json:"maxDepth"`
	MaxPages       int   `json:"maxPages"`
	DelayMS        int   `json:"delayMs"`
	TimeoutMS      int   `json:"timeoutMs"`
	SameDomainOnly *bool `json:"sameDomainOnly"`
	UseJavaScript  bool  `json:"useJavaScript"`
}

type crawlRequest struct {
	URL       string               `json:"url"`
	SessionID string               `json:"sessionId"`
	Options   *crawlOptionsRequest `json:"options"`
}

type chatRequest struct {
	SessionID string         `json:"sessionId"`
	Messages  []chat.Message `json:"messages"`
}

func (s *Server) visit(w http.ResponseWriter, r *http.Request) {
	var req urlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "URL required")
		return
	}
	res, err := s.deps.Indexer.Visit(r.Context(), req.URL)
	if err != nil {
		if errors.Is(err, crawler.ErrInvalidURL) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("visit failed", zap.String("url", req.URL), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to process visit")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) quickIndex(w http.ResponseWriter, r *http.Request) {
	var req quickIndexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "URL required")
		return
	}
	if _, err := crawler.ParseSeed(req.URL); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Indexer.QuickIndex(r.Context(), req.URL, req.UseJavaScript))
}

func (s *Server) submitCrawl(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.URL == "" || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "Missing required fields")
		return
	}
	if _, err := crawler.ParseSeed(req.URL); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	job := orchestrator.Job{
		SeedURL:   req.URL,
		SessionID: req.SessionID,
		Options:   s.toCrawlOptions(req.Options),
	}

	ctx, cancel := context.WithTimeout(r.Context(), enqueueTimeout)
	defer cancel()
	if err := s.deps.Submitter.Enqueue(ctx, job); err != nil {
		s.logger.Error("enqueue crawl failed", zap.String("url", req.URL), zap.Error(err))
		status := http.StatusInternalServerError
		if errors.Is(err, queue.ErrClosed) || errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, "Failed to start background crawl")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"success": true, "message": "Background crawl started"})
}

func (s *Server) toCrawlOptions(req *crawlOptionsRequest) crawler.CrawlOptions {
	opts := crawler.CrawlOptions{
		MaxDepth:       s.cfg.Crawler.MaxDepthDefault,
		MaxPages:       s.cfg.Crawler.MaxPagesDefault,
		SameDomainOnly: true,
	}
	if req == nil {
		return opts
	}
	if req.MaxDepth > 0 {
		opts.MaxDepth = req.MaxDepth
	}
	if req.MaxPages > 0 {
		opts.MaxPages = req.MaxPages
	}
	if req.SameDomainOnly != nil {
		opts.SameDomainOnly = *req.SameDomainOnly
	}
	opts.UseJavaScript = req.UseJavaScript
	if req.DelayMS > 0 {
		opts.Delay = time.Duration(req.DelayMS) * time.Millisecond
	}
	if req.TimeoutMS > 0 {
		opts.Timeout = time.Duration(req.TimeoutMS) * time.Millisecond
	}
	return opts
}

func (s *Server) crawlStatus(w http.ResponseWriter, r *http.Request) {
	seed := r.URL.Query().Get("url")
	if seed == "" {
		writeError(w, http.StatusBadRequest, "URL parameter required")
		return
	}
	view, err := s.deps.Sites.Status(r.Context(), seed)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "No crawl found for this URL")
			return
		}
		s.logger.Error("status lookup failed", zap.String("url", seed), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to get status")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) fixStatus(w http.ResponseWriter, r *http.Request) {
	var req urlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "URL required")
		return
	}
	st, err := s.deps.Sites.FixStatus(r.Context(), req.URL)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "No data found")
			return
		}
		s.logger.Error("fix status failed", zap.String("url", req.URL), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Status fixed to completed",
		"data":    st,
	})
}

func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
	ww.Header().Set("Content-Type", "text/plain; charset=utf-8")
	ww.Header().Set("Cache-Control", "no-cache")
	err := s.deps.Chat.Answer(r.Context(), req.SessionID, req.Messages, ww)
	if err == nil {
		return
	}
	// Once bytes are out the status line is gone; a late error only truncates.
	if ww.BytesWritten() > 0 {
		s.logger.Warn("chat stream ended early", zap.String("session_id", req.SessionID), zap.Error(err))
		return
	}
	switch {
	case errors.Is(err, chat.ErrInvalidSession):
		writeError(w, http.StatusBadRequest, "Invalid session ID")
	case errors.Is(err, chat.ErrNoMessages):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("chat failed", zap.String("session_id", req.SessionID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to answer")
	}
}

func (s *Server) clearContext(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Sites.Clear(r.Context())
	if err != nil {
		s.logger.Error("clear context failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to clear data")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"message":     "All data cleared successfully",
		"urlsCleared": n,
	})
}

func (s *Server) debugNamespace(w http.ResponseWriter, r *http.Request) {
	siteURL := r.URL.Query().Get("url")
	if siteURL == "" {
		writeError(w, http.StatusBadRequest, "URL required")
		return
	}
	report, err := s.deps.Sites.Namespace(r.Context(), siteURL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) debugPages(w http.ResponseWriter, r *http.Request) {
	siteURL := r.URL.Query().Get("url")
	if siteURL == "" {
		writeError(w, http.StatusBadRequest, "URL required")
		return
	}
	report, err := s.deps.Sites.Pages(r.Context(), siteURL)
	if err != nil {
		s.logger.Error("debug pages failed", zap.String("url", siteURL), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
