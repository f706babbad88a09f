// Package queue defines the hand-off between job submission and the workers
// that execute crawl jobs.
package queue

import (
	"context"
	"errors"

	"github.com/JakeFAU/site-indexer/internal/orchestrator"
)

// ErrClosed is returned by Dequeue once the queue has been closed and drained.
var ErrClosed = errors.New("queue closed")

// Queue buffers crawl jobs.
type Queue interface {
	Enqueue(ctx context.Context, job orchestrator.Job) error
	Dequeue(ctx context.Context) (orchestrator.Job, error)
}
