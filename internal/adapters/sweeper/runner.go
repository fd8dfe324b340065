// Package sweeper runs the periodic stuck-pending reconciliation loop.
package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/procdoc/procdoc-go/internal/service"
)

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	Queue    *service.JobQueue
	Logger   *slog.Logger
	Interval time.Duration
}

// Runner periodically invokes the dispatcher's stuck-pending sweep. A pending
// row whose broker enqueue was lost is otherwise indistinguishable from one
// merely queued; the sweep is the operational cleanup for that gap.
type Runner struct {
	queue    *service.JobQueue
	logger   *slog.Logger
	interval time.Duration
}

// NewRunner creates a sweeper runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Queue == nil {
		return nil, errors.New("job queue is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	return &Runner{
		queue:    opts.Queue,
		logger:   logger.With("component", "sweeper"),
		interval: interval,
	}, nil
}

// Run sweeps on the configured interval until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting stuck-pending sweeper", "interval", r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			count, err := r.queue.SweepStuckPending(ctx)
			if err != nil {
				r.logger.ErrorContext(ctx, "sweep failed", "error", err)
				continue
			}
			if count > 0 {
				r.logger.InfoContext(ctx, "sweep requeued jobs", "count", count)
			}
		}
	}
}
