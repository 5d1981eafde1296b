package bridge

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/semaphore"

	xerrors "ExtractBridge/internal/errors"
)

// Executor runs blocking foreign calls on dedicated goroutines, bounded by a
// weighted semaphore so slow callbacks cannot exhaust the process.
type Executor struct {
	sem   *semaphore.Weighted
	limit int64
}

// NewExecutor returns an executor allowing limit concurrent calls. A
// non-positive limit uses GOMAXPROCS*4.
func NewExecutor(limit int) *Executor {
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0) * 4
	}
	return &Executor{sem: semaphore.NewWeighted(int64(limit)), limit: int64(limit)}
}

// Limit returns the concurrency bound.
func (e *Executor) Limit() int { return int(e.limit) }

// Do waits for a free slot, runs fn on its own goroutine and waits for it.
//
// Cancelling ctx stops the wait and Do returns ctx.Err(), but a call that has
// already started runs to completion in the background and keeps its slot
// until then. Foreign calls cannot be preempted.
func (e *Executor) Do(ctx context.Context, fn func() error) error {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() {
		defer e.sem.Release(1)
		done <- runRecovered(fn)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func runRecovered(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = xerrors.Wrap(xerrors.CodeForeignPanic, fmt.Errorf("%v", rec), "foreign call panicked")
		}
	}()
	return fn()
}

var (
	defaultMu   sync.Mutex
	defaultExec *Executor
)

// DefaultExecutor returns the process-wide executor, created on first use.
func DefaultExecutor() *Executor {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultExec == nil {
		defaultExec = NewExecutor(0)
	}
	return defaultExec
}

// SetDefaultExecutor replaces the process-wide executor. Calls already
// running on the previous one are unaffected.
func SetDefaultExecutor(e *Executor) {
	if e == nil {
		return
	}
	defaultMu.Lock()
	defaultExec = e
	defaultMu.Unlock()
}
