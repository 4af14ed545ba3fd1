package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron"
)

// Runner runs background tasks on cron schedules. A task whose previous run is
// still in progress is skipped.
type Runner struct {
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
}

// NewRunner creates a runner; every run gets a context limited to timeout.
func NewRunner(timeout time.Duration) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Runner{cron: cron.New(), ctx: ctx, cancel: cancel, timeout: timeout}
}

// Add schedules task under spec, e.g. "@every 1m".
func (r *Runner) Add(name, spec string, task func(ctx context.Context) error) error {
	var running atomic.Bool
	err := r.cron.AddFunc(spec, func() {
		if !running.CompareAndSwap(false, true) {
			slog.Warn("skipping task, previous run still active", "task", name)
			return
		}
		defer running.Store(false)

		ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
		defer cancel()
		start := time.Now()
		if err := task(ctx); err != nil {
			slog.Error("background task failed", "task", name, "error", err)
			return
		}
		slog.Debug("background task completed", "task", name, "duration_ms", time.Since(start).Milliseconds())
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q for task %s: %w", spec, name, err)
	}
	slog.Info("scheduled background task", "task", name, "schedule", spec)
	return nil
}

func (r *Runner) Start() {
	r.cron.Start()
}

// Stop stops scheduling and cancels runs in progress.
func (r *Runner) Stop() {
	r.cron.Stop()
	r.cancel()
}
