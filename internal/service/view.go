package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const backgroundRefreshTimeout = 30 * time.Second

// Snapshot is a cached view of contract or store state. A speculative snapshot carries a
// local patch that no refetch has confirmed yet.
type Snapshot[T any] struct {
	Value       T         `json:"value"`
	Speculative bool      `json:"speculative"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// ViewCache holds read-through snapshots keyed by string. A patch is applied immediately
// and is replaced, never merged, by the next refetch that started after it.
type ViewCache[T any] struct {
	name  string
	fetch func(ctx context.Context, key string) (T, error)
	ttl   time.Duration
	log   *zap.Logger
	now   func() time.Time

	mu      sync.Mutex
	seq     uint64
	entries map[string]*viewEntry[T]

	refreshes sync.WaitGroup
}

type viewEntry[T any] struct {
	snap Snapshot[T]
	// seq of the last write; a refetch started before it is discarded
	seq     uint64
	written time.Time
}

func NewViewCache[T any](name string, ttl time.Duration, fetch func(ctx context.Context, key string) (T, error), log *zap.Logger) *ViewCache[T] {
	return &ViewCache[T]{
		name:    name,
		fetch:   fetch,
		ttl:     ttl,
		log:     log,
		now:     time.Now,
		entries: make(map[string]*viewEntry[T]),
	}
}

// Get returns the cached snapshot while it was written less than ttl ago, otherwise
// refetches. Speculative snapshots age like fetched ones, so a patch whose background
// refresh failed is reconciled by a later Get.
func (c *ViewCache[T]) Get(ctx context.Context, key string) (Snapshot[T], error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	c.mu.Unlock()
	if ok && c.now().Sub(e.written) < c.ttl {
		return e.snap, nil
	}
	return c.Refresh(ctx, key)
}

// Refresh refetches key. On failure the previous snapshot is kept and the error returned.
func (c *ViewCache[T]) Refresh(ctx context.Context, key string) (Snapshot[T], error) {
	c.mu.Lock()
	c.seq++
	started := c.seq
	c.mu.Unlock()

	v, err := c.fetch(ctx, key)
	if err != nil {
		var zero Snapshot[T]
		return zero, err
	}

	now := c.now()
	snap := Snapshot[T]{Value: v, FetchedAt: now}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok && e.seq > started {
		// a patch or a newer refetch landed while this one was in flight
		return e.snap, nil
	}
	c.seq++
	c.entries[key] = &viewEntry[T]{snap: snap, seq: c.seq, written: now}
	return snap, nil
}

// Patch applies fn to the cached value as a speculative update. It is a no-op when the key
// has never been fetched. fn must not modify its argument in place.
func (c *ViewCache[T]) Patch(key string, fn func(T) T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	c.seq++
	c.entries[key] = &viewEntry[T]{
		snap:    Snapshot[T]{Value: fn(e.snap.Value), Speculative: true, FetchedAt: e.snap.FetchedAt},
		seq:     c.seq,
		written: c.now(),
	}
	return true
}

// ScheduleRefresh reconciles key in the background.
func (c *ViewCache[T]) ScheduleRefresh(key string) {
	c.refreshes.Add(1)
	go func() {
		defer c.refreshes.Done()
		ctx, cancel := context.WithTimeout(context.Background(), backgroundRefreshTimeout)
		defer cancel()
		if _, err := c.Refresh(ctx, key); err != nil {
			c.log.Warn("background view refresh failed",
				zap.String("view", c.name),
				zap.String("key", key),
				zap.Error(err),
			)
		}
	}()
}

func (c *ViewCache[T]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Reset drops every snapshot, e.g. when the signed-in principal changes.
func (c *ViewCache[T]) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*viewEntry[T])
}

// Wait blocks until scheduled refreshes finish.
func (c *ViewCache[T]) Wait() {
	c.refreshes.Wait()
}
