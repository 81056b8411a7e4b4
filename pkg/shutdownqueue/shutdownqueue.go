// Package shutdownqueue provides a LIFO queue of named cleanup tasks.
//
// A command builds one Queue, registers a task for every resource it opens
// and drains the queue once at the end of run:
//
//	q := shutdownqueue.New()
//	defer func() { err = errors.Join(err, q.Shutdown(ctx)) }()
//	q.Add("http server", srv.Shutdown)
//
// Tasks run once, most recent first. Panics are recovered. Shutdown is
// idempotent and returns the task errors joined with errors.Join.
package shutdownqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Task is a shutdown function. It should honor ctx and return an error
// if it can't finish (or ctx is canceled).
type Task func(ctx context.Context) error

// Closer adapts a plain Close func to a Task.
func Closer(fn func() error) Task {
	return func(context.Context) error { return fn() }
}

type entry struct {
	name string
	task Task
}

type Queue struct {
	mu      sync.Mutex
	entries []entry
	closed  bool
}

func New() *Queue {
	return &Queue{entries: make([]entry, 0, 8)}
}

// Add registers t under name. Nil tasks and tasks added after Shutdown has
// started are ignored.
func (q *Queue) Add(name string, t Task) {
	if t == nil {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		slog.Warn("shutdown task registered too late, ignored", "task", name)
		return
	}

	q.entries = append(q.entries, entry{name: name, task: t})
}

// Shutdown drains all registered tasks in LIFO order.
//
// If ctx is canceled or times out mid-drain, Shutdown stops early and returns
// an error that includes both the context error and any task errors so far.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closed && len(q.entries) == 0 {
		q.mu.Unlock()
		return nil
	}

	q.closed = true
	entries := q.entries
	q.entries = nil
	q.mu.Unlock()

	var errs []error

	for i := len(entries) - 1; i >= 0; i-- {
		select {
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("shutdown canceled before %q: %w", entries[i].name, ctx.Err()))
			return errors.Join(errs...)
		default:
		}

		err := run(ctx, entries[i])
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func run(ctx context.Context, e entry) (err error) {
	start := time.Now()

	defer func() {
		r := recover()
		if r != nil {
			err = fmt.Errorf("panic in shutdown task %q: %v", e.name, r)
		}

		if err != nil {
			slog.Error("shutdown task failed", "task", e.name, "error", err)
			return
		}

		slog.Info("shutdown task done", "task", e.name, "duration", time.Since(start))
	}()

	err = e.task(ctx)
	if err != nil {
		return fmt.Errorf("shutdown %s: %w", e.name, err)
	}

	return nil
}
