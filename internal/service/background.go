package service

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/clark-center/change-object-author/internal/security"
	"golang.org/x/sync/semaphore"
)

// Task is one unit of fire-and-forget work.
type Task func(ctx context.Context) error

// Dispatcher runs background tasks on a bounded pool. Tasks outlive the
// request that started them; each gets its own timeout. Failures and panics
// are logged and counted here so callers never have to await them.
type Dispatcher struct {
	sem     *semaphore.Weighted
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewDispatcher creates a Dispatcher running at most concurrency tasks at once.
func NewDispatcher(concurrency int, timeout time.Duration) *Dispatcher {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Dispatcher{
		sem:     semaphore.NewWeighted(int64(concurrency)),
		timeout: timeout,
	}
}

// Go schedules fn. It never blocks the caller. ctx supplies values only;
// its cancellation does not reach fn. keyvals are added to failure logs.
func (d *Dispatcher) Go(ctx context.Context, task string, fn Task, keyvals ...any) {
	d.wg.Add(1)
	security.AddBackgroundInFlight(1)
	taskCtx := context.WithoutCancel(ctx)

	go func() {
		defer d.wg.Done()
		defer security.AddBackgroundInFlight(-1)

		if err := d.sem.Acquire(taskCtx, 1); err != nil {
			d.finish(task, err, keyvals)
			return
		}
		defer d.sem.Release(1)

		d.finish(task, d.run(taskCtx, fn), keyvals)
	}()
}

func (d *Dispatcher) run(ctx context.Context, fn Task) (err error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: debug.Stack()}
		}
	}()
	return fn(ctx)
}

func (d *Dispatcher) finish(task string, err error, keyvals []any) {
	if err == nil {
		security.CountBackgroundTask(task, "ok")
		return
	}
	outcome := "error"
	kv := append([]any{"task", task, "err", err}, keyvals...)
	if pe, ok := err.(*panicError); ok {
		outcome = "panic"
		kv = append(kv, "stack", string(pe.stack))
	}
	security.CountBackgroundTask(task, outcome)
	log.Error("Background task failed", kv...)
}

// Wait blocks until every scheduled task has finished or ctx ends.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type panicError struct {
	value any
	stack []byte
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}
