// Package worker consumes queued crawl jobs and executes them one at a time.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-indexer/internal/orchestrator"
	"github.com/JakeFAU/site-indexer/internal/queue"
)

// Runner executes a crawl job.
type Runner interface {
	Run(ctx context.Context, job orchestrator.Job) error
}

// Config controls Worker behavior.
type Config struct {
	// JobTimeout bounds a single job. Zero means no limit.
	JobTimeout time.Duration
}

// Worker consumes queue items and hands them to the runner.
type Worker struct {
	queue  queue.Queue
	runner Runner
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(q queue.Queue, runner Runner, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:  q,
		runner: runner,
		cfg:    cfg,
		logger: logger.Named("worker"),
	}
}

// Run blocks, consuming jobs until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("seed", job.SeedURL))
		w.processJob(ctx, job)
	}
}

func (w *Worker) processJob(ctx context.Context, job orchestrator.Job) {
	if w.runner == nil {
		w.logger.Error("no runner configured", zap.String("seed", job.SeedURL))
		return
	}
	jobCtx := ctx
	if w.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, w.cfg.JobTimeout)
		defer cancel()
	}
	start := time.Now()
	if err := w.runner.Run(jobCtx, job); err != nil {
		w.logger.Error("crawl job failed",
			zap.String("seed", job.SeedURL),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return
	}
	w.logger.Info("crawl job finished", zap.String("seed", job.SeedURL), zap.Duration("elapsed", time.Since(start)))
}
