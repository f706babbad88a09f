// Package app builds the long-lived services of the site indexer and owns
// their shutdown. Both the CLI commands and the HTTP server run on top of it.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-indexer/internal/api"
	"github.com/JakeFAU/site-indexer/internal/archive"
	"github.com/JakeFAU/site-indexer/internal/chat"
	"github.com/JakeFAU/site-indexer/internal/clock"
	"github.com/JakeFAU/site-indexer/internal/config"
	"github.com/JakeFAU/site-indexer/internal/crawler"
	"github.com/JakeFAU/site-indexer/internal/dispatcher"
	"github.com/JakeFAU/site-indexer/internal/embedding"
	"github.com/JakeFAU/site-indexer/internal/events"
	memoryevents "github.com/JakeFAU/site-indexer/internal/events/memory"
	pubsubevents "github.com/JakeFAU/site-indexer/internal/events/pubsub"
	collyfetcher "github.com/JakeFAU/site-indexer/internal/fetcher/colly"
	"github.com/JakeFAU/site-indexer/internal/fetcher/headless"
	"github.com/JakeFAU/site-indexer/internal/index"
	"github.com/JakeFAU/site-indexer/internal/metrics"
	"github.com/JakeFAU/site-indexer/internal/orchestrator"
	queueMemory "github.com/JakeFAU/site-indexer/internal/queue/memory"
	"github.com/JakeFAU/site-indexer/internal/quickindex"
	"github.com/JakeFAU/site-indexer/internal/sites"
	gcsstorage "github.com/JakeFAU/site-indexer/internal/storage/gcs"
	localstorage "github.com/JakeFAU/site-indexer/internal/storage/local"
	memoryStorage "github.com/JakeFAU/site-indexer/internal/storage/memory"
	pgstore "github.com/JakeFAU/site-indexer/internal/storage/postgres"
	redisstore "github.com/JakeFAU/site-indexer/internal/storage/redis"
	"github.com/JakeFAU/site-indexer/internal/store"
	"github.com/JakeFAU/site-indexer/internal/vectorstore"
	memoryvectors "github.com/JakeFAU/site-indexer/internal/vectorstore/memory"
	"github.com/JakeFAU/site-indexer/internal/vectorstore/qdrant"
	"github.com/JakeFAU/site-indexer/internal/worker"
)

type closer struct {
	name string
	fn   func() error
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  clock.Clock

	store        store.Store
	indexer      *index.Indexer
	scheduler    *crawler.Scheduler
	orchestrator *orchestrator.Orchestrator
	queue        *queueMemory.Queue
	dispatch     *dispatcher.Dispatcher
	quick        *quickindex.Service
	chat         *chat.Service
	sites        *sites.Service
	publisher    events.Publisher

	closers []closer
}

// Build creates the application's dependencies. On error everything opened
// so far is closed again.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	a := &App{cfg: cfg, logger: logger, clock: clock.System{}}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.logger.Info("building application dependencies",
		zap.String("store", cfg.Store.Driver),
		zap.String("vector", cfg.Vector.Driver),
		zap.String("archive", cfg.Archive.Driver),
		zap.String("events", cfg.Events.Driver),
	)

	if a.store, err = a.setupStore(ctx); err != nil {
		return nil, err
	}
	vectors, err := a.setupVectors()
	if err != nil {
		return nil, err
	}
	embedder := embedding.New(embedding.Config{
		BaseURL: cfg.Embedding.BaseURL,
		APIKey:  cfg.Embedding.APIKey,
		Model:   cfg.Embedding.Model,
		Timeout: seconds(cfg.Embedding.TimeoutSeconds),
	}, nil, logger)
	if a.indexer, err = index.New(embedder, vectors, a.clock, logger); err != nil {
		return nil, fmt.Errorf("indexer init failed: %w", err)
	}

	archiver, err := a.setupArchive(ctx)
	if err != nil {
		return nil, err
	}
	if a.publisher, err = a.setupEvents(ctx); err != nil {
		return nil, err
	}

	static := collyfetcher.New(collyfetcher.Config{
		UserAgent:    cfg.HTTP.UserAgent,
		Timeout:      seconds(cfg.HTTP.TimeoutSeconds),
		MaxRedirects: cfg.HTTP.MaxRedirects,
	})
	var browser crawler.Browser
	if cfg.Headless.Enabled {
		browser = headless.New(headless.Config{
			UserAgent:         cfg.Headless.UserAgent,
			NavigationTimeout: seconds(cfg.Headless.NavTimeoutSeconds),
			Settle:            time.Duration(cfg.Headless.SettleMS) * time.Millisecond,
			NoSandbox:         cfg.Headless.NoSandbox,
			MaxParallel:       cfg.Headless.MaxParallel,
		}, logger)
		a.logger.Info("headless browser enabled", zap.Bool("no_sandbox", cfg.Headless.NoSandbox))
	}
	a.scheduler = crawler.NewScheduler(static, browser, logger.Named("scheduler"))

	orchDeps := orchestrator.Deps{
		Crawler:   a.scheduler,
		Pages:     a.store,
		Status:    a.store,
		Indexer:   a.indexer,
		Publisher: a.publisher,
		Clock:     a.clock,
	}
	if archiver != nil {
		orchDeps.Archiver = archiver
	}
	if a.orchestrator, err = orchestrator.New(orchDeps, logger); err != nil {
		return nil, fmt.Errorf("orchestrator init failed: %w", err)
	}

	a.queue = queueMemory.NewQueue(cfg.Crawler.QueueDepth)
	a.dispatch = dispatcher.NewPool(a.queue, a.orchestrator, cfg.Crawler.Workers,
		worker.Config{JobTimeout: cfg.JobTimeout()}, logger)

	var jsHosts []string
	if len(cfg.Crawler.JSHosts) > 0 {
		jsHosts = cfg.Crawler.JSHosts
	}
	if a.quick, err = quickindex.New(quickindex.Deps{
		Static:    static,
		Browser:   browser,
		Store:     a.store,
		Indexer:   a.indexer,
		Stats:     a.indexer,
		Submitter: a.dispatch,
		JSHosts:   jsHosts,
		Clock:     a.clock,
	}, quickindex.Config{}, logger); err != nil {
		return nil, fmt.Errorf("quick index init failed: %w", err)
	}

	completer := chat.NewClient(chat.Config{
		BaseURL: cfg.Chat.BaseURL,
		APIKey:  cfg.Chat.APIKey,
		Model:   cfg.Chat.Model,
		Timeout: seconds(cfg.Chat.TimeoutSeconds),
	}, nil, logger)
	if a.chat, err = chat.NewService(a.indexer, a.store, completer, logger); err != nil {
		return nil, fmt.Errorf("chat init failed: %w", err)
	}
	if a.sites, err = sites.New(a.store, a.indexer, a.clock, logger); err != nil {
		return nil, fmt.Errorf("sites init failed: %w", err)
	}

	a.logger.Info("application dependencies ready",
		zap.Int("workers", cfg.Crawler.Workers),
		zap.Int("queue_depth", cfg.Crawler.QueueDepth),
	)
	return a, nil
}

func (a *App) addCloser(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

func (a *App) setupStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch a.cfg.Store.Driver {
	case config.DriverRedis:
		st, err = redisstore.New(ctx, redisstore.Config{
			Addr:      a.cfg.Store.Redis.Addr,
			Password:  a.cfg.Store.Redis.Password,
			DB:        a.cfg.Store.Redis.DB,
			KeyPrefix: a.cfg.Store.Redis.KeyPrefix,
		}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("redis store init failed: %w", err)
		}
		a.logger.Info("using redis store", zap.String("addr", a.cfg.Store.Redis.Addr))
	case config.DriverPostgres:
		st, err = pgstore.New(ctx, pgstore.Config{
			DSN:      a.cfg.Store.Postgres.DSN,
			MaxConns: a.cfg.Store.Postgres.MaxConns,
		}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("postgres store init failed: %w", err)
		}
		a.logger.Info("using postgres store")
	default:
		a.logger.Info("using in-memory store")
		st = memoryStorage.NewStore()
	}
	a.addCloser("store", st.Close)
	return st, nil
}

func (a *App) setupVectors() (vectorstore.Store, error) {
	if a.cfg.Vector.Driver != config.DriverQdrant {
		a.logger.Info("using in-memory vector store")
		return memoryvectors.NewStore(), nil
	}
	q, err := qdrant.New(qdrant.Config{
		Host:             a.cfg.Vector.Qdrant.Host,
		Port:             a.cfg.Vector.Qdrant.Port,
		APIKey:           a.cfg.Vector.Qdrant.APIKey,
		UseTLS:           a.cfg.Vector.Qdrant.UseTLS,
		CollectionPrefix: a.cfg.Vector.Qdrant.CollectionPrefix,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("qdrant init failed: %w", err)
	}
	a.addCloser("qdrant", q.Close)
	a.logger.Info("using qdrant vector store",
		zap.String("host", a.cfg.Vector.Qdrant.Host),
		zap.Int("port", a.cfg.Vector.Qdrant.Port),
	)
	return q, nil
}

// setupArchive returns nil when snapshots are disabled.
func (a *App) setupArchive(ctx context.Context) (*archive.Archiver, error) {
	var blobs archive.BlobStore
	switch a.cfg.Archive.Driver {
	case config.DriverGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		gcs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Archive.GCSBucket})
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.addCloser("gcs", gcs.Close)
		blobs = gcs
		a.logger.Info("archiving snapshots to GCS", zap.String("bucket", a.cfg.Archive.GCSBucket))
	case config.DriverLocal:
		local, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Archive.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		blobs = local
		a.logger.Info("archiving snapshots locally", zap.String("path", a.cfg.Archive.BaseDir))
	case config.DriverMemory:
		blobs = memoryStorage.NewBlobStore()
		a.logger.Info("archiving snapshots in memory")
	default:
		a.logger.Info("snapshot archive disabled")
		return nil, nil
	}
	arch, err := archive.New(blobs, a.cfg.Archive.Prefix, a.logger)
	if err != nil {
		return nil, fmt.Errorf("archiver init failed: %w", err)
	}
	return arch, nil
}

func (a *App) setupEvents(ctx context.Context) (events.Publisher, error) {
	switch a.cfg.Events.Driver {
	case config.DriverPubSub:
		p, err := pubsubevents.New(ctx, pubsubevents.Config{
			ProjectID: a.cfg.Events.ProjectID,
			Topic:     a.cfg.Events.Topic,
		}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		a.addCloser("pubsub", p.Close)
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", a.cfg.Events.ProjectID),
			zap.String("topic", a.cfg.Events.Topic),
		)
		return p, nil
	case config.DriverMemory:
		a.logger.Info("using in-memory event publisher")
		return memoryevents.New(), nil
	default:
		return events.Nop{}, nil
	}
}

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Orchestrator runs crawl jobs synchronously.
func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orchestrator }

// QuickIndex returns the homepage indexing service.
func (a *App) QuickIndex() *quickindex.Service { return a.quick }

// Sites returns the per-site administrative service.
func (a *App) Sites() *sites.Service { return a.sites }

// Dispatcher returns the background crawl pool.
func (a *App) Dispatcher() *dispatcher.Dispatcher { return a.dispatch }

// Publisher returns the lifecycle event publisher.
func (a *App) Publisher() events.Publisher { return a.publisher }

// APIServer builds the HTTP handler tree over the app's services.
func (a *App) APIServer() (*api.Server, error) {
	srv, err := api.NewServer(api.Deps{
		Indexer:   a.quick,
		Submitter: a.dispatch,
		Chat:      a.chat,
		Sites:     a.sites,
	}, a.cfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("api server init failed: %w", err)
	}
	return srv, nil
}

// Serve runs the dispatcher and the HTTP server until ctx is canceled, then
// drains both.
func (a *App) Serve(ctx context.Context) error {
	apiServer, err := a.APIServer()
	if err != nil {
		return err
	}

	ctx, stop := context.WithCancel(ctx)
	defer stop()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.ShutdownTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.queue.Close()
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("dispatcher did not stop before shutdown deadline")
	}

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close releases every backend opened by Build, in reverse order.
func (a *App) Close() {
	if a.queue != nil {
		a.queue.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
		}
	}
	a.closers = nil
	a.logger.Info("shutdown complete")
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
