// Package runner schedules background tasks with cron expressions and
// guards each task against overlapping invocations.
package runner

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
)

// Runner executes registered tasks on their cron schedules.
type Runner struct {
	cron     *cron.Cron
	registry *TaskRegistry
	logger   *log.Logger
	wg       sync.WaitGroup
}

// RunnerOption customizes a Runner.
type RunnerOption func(*Runner)

// WithRunnerLogger overrides the runner's logger.
func WithRunnerLogger(logger *log.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRunner creates a runner over the registry.
func NewRunner(registry *TaskRegistry, opts ...RunnerOption) *Runner {
	r := &Runner{
		cron:     cron.New(cron.WithSeconds()),
		registry: registry,
		logger:   log.New(os.Stdout, "[runner] ", log.LstdFlags),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Start schedules every registered task and blocks until the context is
// cancelled or a termination signal arrives. A task whose previous
// invocation is still running skips the tick instead of running twice.
func (r *Runner) Start(ctx context.Context) error {
	for _, task := range r.registry.All() {
		task := task
		var running atomic.Bool
		r.logger.Printf("scheduling task %s (%s)", task.Name(), task.Schedule())

		_, err := r.cron.AddFunc(task.Schedule(), func() {
			if !running.CompareAndSwap(false, true) {
				r.logger.Printf("task %s still running, skipping tick", task.Name())
				return
			}
			defer running.Store(false)
			r.executeTask(ctx, task)
		})
		if err != nil {
			return fmt.Errorf("schedule task %s: %w", task.Name(), err)
		}
	}

	r.cron.Start()
	r.logger.Printf("runner started with %d task(s)", len(r.registry.All()))
	return r.waitForShutdown(ctx)
}

func (r *Runner) executeTask(ctx context.Context, task Task) {
	r.wg.Add(1)
	defer r.wg.Done()

	taskCtx, cancel := context.WithTimeout(ctx, task.Timeout())
	defer cancel()

	start := time.Now()
	if err := task.Run(taskCtx); err != nil {
		r.logger.Printf("task %s failed after %v: %v", task.Name(), time.Since(start), err)
		return
	}
	r.logger.Printf("task %s finished in %v", task.Name(), time.Since(start))
}

// Stop stops scheduling new invocations and waits for running tasks.
func (r *Runner) Stop() {
	stopCtx := r.cron.Stop()
	r.wg.Wait()
	<-stopCtx.Done()
	r.logger.Printf("runner stopped")
}

func (r *Runner) waitForShutdown(ctx context.Context) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		r.logger.Printf("received signal %v", sig)
		r.Stop()
		return nil
	case <-ctx.Done():
		r.Stop()
		return ctx.Err()
	}
}
