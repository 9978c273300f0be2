package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

type entry[V any] struct {
	value   V
	expires time.Time
}

type load[V any] struct {
	done  chan struct{}
	value V
	err   error
}

// Cache is an in-memory TTL cache filled through a loader. Concurrent
// misses on the same key share one load, and failed loads are not cached.
type Cache[V any] struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	entries  map[string]entry[V]
	inflight map[string]*load[V]

	stop     chan struct{}
	stopOnce sync.Once
}

// New returns a cache that keeps values for ttl and sweeps expired entries
// in the background until Stop is called.
func New[V any](ttl time.Duration) *Cache[V] {
	c := &Cache[V]{
		ttl:      ttl,
		now:      time.Now,
		entries:  make(map[string]entry[V]),
		inflight: make(map[string]*load[V]),
		stop:     make(chan struct{}),
	}
	sweep := ttl / 2
	if sweep <= 0 {
		sweep = time.Second
	}
	go c.sweep(sweep)
	return c
}

// Get returns the cached value for key, calling fn on a miss.
func (c *Cache[V]) Get(ctx context.Context, key string, fn func(context.Context) (V, error)) (V, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && c.now().Before(e.expires) {
		c.mu.Unlock()
		return e.value, nil
	}
	if l, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		select {
		case <-l.done:
			return l.value, l.err
		case <-ctx.Done():
			var zero V
			return zero, ctx.Err()
		}
	}
	l := &load[V]{done: make(chan struct{})}
	c.inflight[key] = l
	c.mu.Unlock()

	l.value, l.err = fn(ctx)

	c.mu.Lock()
	delete(c.inflight, key)
	if l.err == nil && c.ttl > 0 {
		c.entries[key] = entry[V]{value: l.value, expires: c.now().Add(c.ttl)}
	}
	c.mu.Unlock()
	close(l.done)

	return l.value, l.err
}

// Invalidate drops every entry whose key starts with prefix. Loads already
// in flight still complete and are stored.
func (c *Cache[V]) Invalidate(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
}

func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stop ends the background sweep. It is safe to call more than once.
func (c *Cache[V]) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Cache[V]) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.stop:
			return
		}
	}
}

func (c *Cache[V]) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for key, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, key)
		}
	}
}
