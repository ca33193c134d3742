package loop

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startLoop(t *testing.T) *Loop {
	t.Helper()
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	t.Cleanup(cancel)
	return l
}

func TestPostRunsInOrder(t *testing.T) {
	l := startLoop(t)

	var got []int
	for i := range 5 {
		require.True(t, l.Post(func() { got = append(got, i) }))
	}
	require.True(t, l.Do(func() {}))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestPostFromLoopDoesNotBlock(t *testing.T) {
	l := startLoop(t)

	done := make(chan struct{})
	l.Post(func() {
		for range 1000 {
			l.Post(func() {})
		}
		l.Post(func() { close(done) })
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("nested posts never completed")
	}
}

func TestStopRejectsPosts(t *testing.T) {
	l := startLoop(t)
	l.Stop()
	l.Stop()

	assert.False(t, l.Post(func() {}))
	assert.False(t, l.Do(func() {}))
	<-l.Done()
}

func TestAfterFuncStopCancels(t *testing.T) {
	l := startLoop(t)

	var fired atomic.Int32
	tm := l.AfterFunc(20*time.Millisecond, func() { fired.Add(1) })
	tm.Stop()
	tm.Stop()

	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, fired.Load())
}

func TestAfterFuncFiresOnce(t *testing.T) {
	l := startLoop(t)

	var fired atomic.Int32
	tm := l.AfterFunc(5*time.Millisecond, func() { fired.Add(1) })

	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
	tm.Stop()
	assert.EqualValues(t, 1, fired.Load())
}

func TestEveryRepeatsUntilStopped(t *testing.T) {
	l := startLoop(t)

	var ticks atomic.Int32
	tm := l.Every(5*time.Millisecond, func() { ticks.Add(1) })

	require.Eventually(t, func() bool { return ticks.Load() >= 3 }, time.Second, 5*time.Millisecond)
	l.Do(tm.Stop)
	n := ticks.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, ticks.Load())
}
