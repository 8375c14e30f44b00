package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// source is a fetch function whose result and blocking can be steered by the test.
type source struct {
	mu    sync.Mutex
	value int
	err   error
	calls int
	gate  chan struct{}
	start chan struct{}
}

func (s *source) fetch(ctx context.Context, _ string) (int, error) {
	s.mu.Lock()
	s.calls++
	gate, start := s.gate, s.start
	s.mu.Unlock()

	if gate != nil {
		start <- struct{}{}
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.err
}

func (s *source) set(v int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value, s.err = v, err
}

func TestViewCacheServesFreshSnapshots(t *testing.T) {
	src := &source{value: 1}
	c := NewViewCache("test", time.Minute, src.fetch, zap.NewNop())

	snap, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Value)
	assert.False(t, snap.Speculative)

	src.set(2, nil)
	snap, err = c.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Value, "served from cache within ttl")
	assert.Equal(t, 1, src.calls)
}

func TestViewCachePatchIsSupersededNotMerged(t *testing.T) {
	src := &source{value: 10}
	c := NewViewCache("test", time.Minute, src.fetch, zap.NewNop())
	_, err := c.Get(context.Background(), "k")
	require.NoError(t, err)

	assert.True(t, c.Patch("k", func(v int) int { return v + 5 }))
	snap, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, 15, snap.Value)
	assert.True(t, snap.Speculative)

	src.set(11, nil)
	snap, err = c.Refresh(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, 11, snap.Value)
	assert.False(t, snap.Speculative)

	assert.False(t, c.Patch("missing", func(v int) int { return v }))
}

func TestViewCacheKeepsSnapshotWhenRefetchFails(t *testing.T) {
	src := &source{value: 3}
	c := NewViewCache("test", time.Minute, src.fetch, zap.NewNop())
	_, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	c.Patch("k", func(v int) int { return 4 })

	boom := errors.New("node down")
	src.set(0, boom)
	_, err = c.Refresh(context.Background(), "k")
	assert.ErrorIs(t, err, boom)

	snap, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, 4, snap.Value)
	assert.True(t, snap.Speculative)
}

func TestViewCacheRefetchesStalePatchAfterFailedRefresh(t *testing.T) {
	var clock atomic.Int64
	clock.Store(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).UnixNano())
	src := &source{value: 1}
	c := NewViewCache("test", time.Minute, src.fetch, zap.NewNop())
	c.now = func() time.Time { return time.Unix(0, clock.Load()) }

	_, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	c.Patch("k", func(int) int { return 99 })

	src.set(0, errors.New("node down"))
	c.ScheduleRefresh("k")
	c.Wait()

	snap, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, 99, snap.Value, "patch served within ttl")
	assert.True(t, snap.Speculative)

	src.set(2, nil)
	clock.Add(int64(2 * time.Minute))
	snap, err = c.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Value)
	assert.False(t, snap.Speculative)
	assert.Equal(t, 3, src.calls)
}

func TestViewCacheDiscardsRefetchStartedBeforePatch(t *testing.T) {
	src := &source{value: 1}
	c := NewViewCache("test", time.Minute, src.fetch, zap.NewNop())
	_, err := c.Get(context.Background(), "k")
	require.NoError(t, err)

	src.mu.Lock()
	src.gate = make(chan struct{})
	src.start = make(chan struct{})
	src.value = 2
	gate, start := src.gate, src.start
	src.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Refresh(context.Background(), "k")
	}()
	<-start
	c.Patch("k", func(v int) int { return 100 })
	close(gate)
	<-done

	snap, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, 100, snap.Value, "stale refetch must not overwrite a newer patch")
	assert.True(t, snap.Speculative)
}

func TestViewCacheScheduleRefreshAndReset(t *testing.T) {
	src := &source{value: 7}
	c := NewViewCache("test", time.Minute, src.fetch, zap.NewNop())
	c.ScheduleRefresh("k")
	c.Wait()

	snap, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, 7, snap.Value)
	assert.Equal(t, 1, src.calls)

	c.Reset()
	_, err = c.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)

	c.Invalidate("k")
	_, err = c.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, 3, src.calls)
}

func TestKeyedMutexSerializesPerKey(t *testing.T) {
	k := newKeyedMutex()
	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("alice-123")
			defer unlock()
			n := inside.Add(1)
			if n > maxInside.Load() {
				maxInside.Store(n)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside.Load())
	assert.Empty(t, k.locks, "unused entries are dropped")
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	k := newKeyedMutex()
	unlockA := k.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := k.Lock("b")
		unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
}
