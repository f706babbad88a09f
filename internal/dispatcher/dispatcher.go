// Package dispatcher manages worker fan-out over the crawl job queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-indexer/internal/orchestrator"
	"github.com/JakeFAU/site-indexer/internal/queue"
	"github.com/JakeFAU/site-indexer/internal/worker"
)

// Dispatcher fans out queued crawl jobs to a pool of workers.
type Dispatcher struct {
	queue   queue.Queue
	workers []*worker.Worker
	logger  *zap.Logger
}

// New creates a Dispatcher.
func New(q queue.Queue, workers []*worker.Worker, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:   q,
		workers: workers,
		logger:  logger.Named("dispatcher"),
	}
}

// NewPool creates a Dispatcher with n identical workers sharing runner.
func NewPool(q queue.Queue, runner worker.Runner, n int, cfg worker.Config, logger *zap.Logger) *Dispatcher {
	if n < 1 {
		n = 1
	}
	workers := make([]*worker.Worker, 0, n)
	for range n {
		workers = append(workers, worker.New(q, runner, cfg, logger))
	}
	return New(q, workers, logger)
}

// Run starts all workers and blocks until the context finishes and every
// worker has returned.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("dispatcher started", zap.Int("workers", len(d.workers)))
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
	d.logger.Info("dispatcher stopped")
}

// Enqueue submits a job for background execution.
func (d *Dispatcher) Enqueue(ctx context.Context, job orchestrator.Job) error {
	if err := d.queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	d.logger.Debug("crawl job queued", zap.String("seed", job.SeedURL), zap.String("session_id", job.SessionID))
	return nil
}
