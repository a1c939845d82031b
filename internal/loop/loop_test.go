package loop

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-atlas/internal/logger"
)

func startLoop(t *testing.T) *Loop {
	t.Helper()
	l := New(logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	t.Cleanup(cancel)
	return l
}

func TestLoopDo(t *testing.T) {
	l := startLoop(t)
	ctx := context.Background()

	var got []int
	for i := range 5 {
		require.NoError(t, l.Do(ctx, func() { got = append(got, i) }))
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestLoopRecoversPanic(t *testing.T) {
	l := startLoop(t)
	ctx := context.Background()

	require.NoError(t, l.Do(ctx, func() { panic("boom") }))
	ran := false
	require.NoError(t, l.Do(ctx, func() { ran = true }))
	assert.True(t, ran)
}

func TestLoopAfterFunc(t *testing.T) {
	l := startLoop(t)

	fired := make(chan struct{})
	l.AfterFunc(5*time.Millisecond, func() { close(fired) })
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}

	var stopped atomic.Bool
	timer := l.AfterFunc(time.Hour, func() { stopped.Store(true) })
	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())
	assert.False(t, stopped.Load())
}

func TestLoopClosed(t *testing.T) {
	l := New(logger.Discard())
	l.Close()
	l.Close()

	err := l.Do(context.Background(), func() {})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestLoopDoContext(t *testing.T) {
	// Not running: the task is queued but never executed.
	l := New(logger.Discard())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.Do(ctx, func() {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLoopDoAbandonsQueuedTask(t *testing.T) {
	l := startLoop(t)

	release := make(chan struct{})
	blocked := make(chan struct{})
	go l.Do(context.Background(), func() {
		close(blocked)
		<-release
	})
	<-blocked

	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Bool
	errc := make(chan error, 1)
	go func() { errc <- l.Do(ctx, func() { ran.Store(true) }) }()

	// Give the second Do time to queue behind the blocked task.
	time.Sleep(10 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	close(release)
	require.NoError(t, l.Do(context.Background(), func() {}))
	assert.False(t, ran.Load(), "an abandoned task must not run")
}

func TestLoopDoWaitsForStartedTask(t *testing.T) {
	l := startLoop(t)

	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Bool
	err := l.Do(ctx, func() {
		cancel()
		time.Sleep(5 * time.Millisecond)
		ran.Store(true)
	})
	assert.NoError(t, err)
	assert.True(t, ran.Load())
}

func TestLoopRunStopsOnCancel(t *testing.T) {
	l := New(logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.ErrorIs(t, l.Do(context.Background(), func() {}), ErrClosed)
}

func TestManualAdvance(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m := NewManual(start)

	var order []string
	m.AfterFunc(30*time.Millisecond, func() { order = append(order, "c") })
	m.AfterFunc(10*time.Millisecond, func() {
		order = append(order, "a")
		// Armed during the advance and still inside the window.
		m.AfterFunc(5*time.Millisecond, func() { order = append(order, "a2") })
	})
	m.AfterFunc(10*time.Millisecond, func() { order = append(order, "b") })
	late := m.AfterFunc(time.Second, func() { order = append(order, "late") })
	assert.Equal(t, 4, m.Pending())

	m.Advance(50 * time.Millisecond)
	assert.Equal(t, []string{"a", "b", "a2", "c"}, order)
	assert.Equal(t, start.Add(50*time.Millisecond), m.Now())
	assert.Equal(t, 1, m.Pending())

	assert.True(t, late.Stop())
	assert.False(t, late.Stop())
	assert.Equal(t, 0, m.Pending())
	m.Advance(time.Hour)
	assert.NotContains(t, order, "late")
}

func TestManualDo(t *testing.T) {
	m := NewManual(time.Time{})
	ran := false
	require.NoError(t, m.Do(context.Background(), func() { ran = true }))
	assert.True(t, ran)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, m.Do(ctx, func() {}), context.Canceled)
}
