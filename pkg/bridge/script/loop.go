// Package script hosts plugin objects written in JavaScript on an embedded
// goja runtime. A goja runtime must only be touched by one goroutine, so each
// Loop owns a runtime on a dedicated goroutine and every interaction is a
// closure scheduled onto it.
package script

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"

	xerrors "ExtractBridge/internal/errors"
	"ExtractBridge/pkg/logger"
)

// ErrLoopClosed is returned for work submitted after Close.
var ErrLoopClosed = xerrors.New(xerrors.CodeBridgeClosed, "script loop closed")

var loopIDs atomic.Uint64

type job func(vm *goja.Runtime)

// Loop owns one goja runtime and the goroutine it runs on.
type Loop struct {
	id     uint64
	jobs   chan job
	stop   chan struct{}
	done   chan struct{}
	closed atomic.Bool
	once   sync.Once
	log    *slog.Logger
}

// NewLoop starts a loop with console.log and setTimeout installed.
func NewLoop() *Loop {
	l := &Loop{
		id:   loopIDs.Add(1),
		jobs: make(chan job, 64),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	l.log = logger.Named("script").With(slog.Uint64("loop", l.id))
	ready := make(chan struct{})
	go l.run(ready)
	<-ready
	return l
}

func (l *Loop) run(ready chan<- struct{}) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(l.done)

	vm := goja.New()
	l.installBuiltins(vm)
	close(ready)
	for {
		select {
		case j := <-l.jobs:
			j(vm)
		case <-l.stop:
			return
		}
	}
}

func (l *Loop) installBuiltins(vm *goja.Runtime) {
	console := vm.NewObject()
	_ = console.Set("log", func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		l.log.Info(strings.Join(parts, " "))
		return goja.Undefined()
	})
	_ = vm.Set("console", console)

	_ = vm.Set("setTimeout", func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(vm.NewTypeError("setTimeout requires a function"))
		}
		delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
		time.AfterFunc(delay, func() {
			l.post(func(vm *goja.Runtime) {
				if _, err := fn(goja.Undefined()); err != nil {
					l.log.Warn("timer callback failed", slog.Any("error", err))
				}
			})
		})
		return goja.Undefined()
	})
}

// post schedules j without waiting for it. It is dropped once the loop stops.
func (l *Loop) post(j job) bool {
	select {
	case l.jobs <- j:
		return true
	case <-l.stop:
		return false
	}
}

// Do runs fn on the loop and waits for it. Synchronous script code is
// interrupted when ctx is done.
func (l *Loop) Do(ctx context.Context, fn func(vm *goja.Runtime) error) error {
	if l.closed.Load() {
		return ErrLoopClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	result := make(chan error, 1)
	accepted := l.post(func(vm *goja.Runtime) {
		result <- l.runJob(ctx, vm, fn)
	})
	if !accepted {
		return ErrLoopClosed
	}
	select {
	case err := <-result:
		return err
	case <-l.done:
		return ErrLoopClosed
	}
}

func (l *Loop) runJob(ctx context.Context, vm *goja.Runtime, fn func(vm *goja.Runtime) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	finished := make(chan struct{})
	var watcher sync.WaitGroup
	watcher.Add(1)
	go func() {
		defer watcher.Done()
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-finished:
		}
	}()
	defer func() {
		close(finished)
		watcher.Wait()
		vm.ClearInterrupt()
	}()
	defer func() {
		if rec := recover(); rec != nil {
			err = xerrors.New(xerrors.CodeForeignPanic, fmt.Sprintf("script job panicked: %v", rec))
		}
	}()
	return unwrapInterrupt(fn(vm))
}

// Close stops the loop. Pending timers are abandoned.
func (l *Loop) Close() error {
	l.once.Do(func() {
		l.closed.Store(true)
		close(l.stop)
		<-l.done
	})
	return nil
}

func unwrapInterrupt(err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if cause, ok := interrupted.Value().(error); ok {
			return cause
		}
		return context.Canceled
	}
	return err
}
