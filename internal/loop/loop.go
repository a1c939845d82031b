// Package loop provides the single-goroutine executor that drives an Atlas
// session. Every state mutation and timer callback of a session runs on its
// loop, so components built on top of it need no locks.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrClosed is returned when work is submitted to a stopped loop.
var ErrClosed = errors.New("loop closed")

// Timer is a cancellable pending callback.
type Timer interface {
	// Stop prevents the callback from running. It reports whether the call
	// stopped the timer, false if it already fired or was stopped.
	Stop() bool
}

// Scheduler is the time and execution source for loop-confined components.
type Scheduler interface {
	Now() time.Time
	// AfterFunc runs fn on the loop once d has elapsed.
	AfterFunc(d time.Duration, fn func()) Timer
	// Do runs fn on the loop and waits for it to return.
	Do(ctx context.Context, fn func()) error
}

// Loop executes tasks one at a time on a dedicated goroutine.
type Loop struct {
	tasks  chan func()
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

// New creates a loop. Call Run to start processing.
func New(logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		tasks:  make(chan func(), 64),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Run processes tasks until ctx is cancelled or Close is called.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			l.Close()
			return
		case <-l.done:
			return
		case task := <-l.tasks:
			l.exec(task)
		}
	}
}

// Close stops the loop. Pending timers are dropped.
func (l *Loop) Close() {
	l.once.Do(func() { close(l.done) })
}

// Now returns the wall clock.
func (l *Loop) Now() time.Time { return time.Now() }

// Do posts fn and blocks until it has run. It must not be called from the
// loop goroutine itself.
//
// When ctx ends or the loop closes first, fn is abandoned and never runs;
// Do then returns the error. Once fn has started, Do waits for it and
// returns nil.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	var state atomic.Int32
	finished := make(chan struct{})
	task := func() {
		if !state.CompareAndSwap(taskPending, taskRunning) {
			return
		}
		defer close(finished)
		fn()
	}
	select {
	case l.tasks <- task:
	case <-l.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	var err error
	select {
	case <-finished:
		return nil
	case <-l.done:
		err = ErrClosed
	case <-ctx.Done():
		err = ctx.Err()
	}
	if state.CompareAndSwap(taskPending, taskAbandoned) {
		return err
	}
	<-finished
	return nil
}

const (
	taskPending int32 = iota
	taskRunning
	taskAbandoned
)

// AfterFunc schedules fn on the loop after d.
func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	t := &loopTimer{}
	t.timer = time.AfterFunc(d, func() {
		l.post(func() {
			// Stop may have won the race after expiry was queued.
			if !t.fired.CompareAndSwap(false, true) {
				return
			}
			fn()
		})
	})
	return t
}

func (l *Loop) post(task func()) {
	select {
	case l.tasks <- task:
	case <-l.done:
	}
}

func (l *Loop) exec(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("loop task panicked", "panic", fmt.Sprint(r))
		}
	}()
	task()
}

type loopTimer struct {
	timer *time.Timer
	// fired is set by whichever of Stop or the expiry task runs first.
	fired atomic.Bool
}

func (t *loopTimer) Stop() bool {
	t.timer.Stop()
	return t.fired.CompareAndSwap(false, true)
}
