package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mrlokans/skyferry/internal/entities"
)

// Factory constructs a Provider bound to one user's credentials.
type Factory func(ctx context.Context, provider entities.ProviderName, userID uint) (Provider, error)

type clientKey struct {
	provider entities.ProviderName
	userID   uint
}

type clientEntry struct {
	client   Provider
	lastUsed time.Time
}

// ClientCache pools provider clients per (provider, user) pair within one
// worker process. Purely a connection-reuse optimization: eviction never
// affects correctness, a fresh client is built on the next resolve.
type ClientCache struct {
	mu       sync.Mutex
	factory  Factory
	capacity int
	entries  map[clientKey]*clientEntry
}

var _ Resolver = (*ClientCache)(nil)

// NewClientCache creates a cache bounded to capacity entries.
func NewClientCache(capacity int, factory Factory) *ClientCache {
	if capacity < 1 {
		capacity = 1
	}
	return &ClientCache{
		factory:  factory,
		capacity: capacity,
		entries:  make(map[clientKey]*clientEntry),
	}
}

// Resolve returns a cached client for the pair, building one if needed.
func (c *ClientCache) Resolve(ctx context.Context, provider entities.ProviderName, userID uint) (Provider, error) {
	key := clientKey{provider: provider, userID: userID}

	c.mu.Lock()
	if entry, ok := c.entries[key]; ok {
		entry.lastUsed = time.Now()
		client := entry.client
		c.mu.Unlock()
		return client, nil
	}
	c.mu.Unlock()

	// Build outside the lock: factories do I/O (token decryption, endpoint
	// setup) and must not serialize unrelated resolves.
	client, err := c.factory(ctx, provider, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s client for user %d: %w", provider, userID, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[key]; ok {
		// Lost a race to another resolve; reuse theirs.
		existing.lastUsed = time.Now()
		return existing.client, nil
	}
	c.entries[key] = &clientEntry{client: client, lastUsed: time.Now()}
	c.evictLocked()
	return client, nil
}

// Recycle drops least-recently-used entries beyond the capacity bound and
// returns how many were evicted. The worker heartbeat calls this.
func (c *ClientCache) Recycle() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictLocked()
}

// Len returns the current number of pooled clients.
func (c *ClientCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *ClientCache) evictLocked() int {
	evicted := 0
	for len(c.entries) > c.capacity {
		var oldestKey clientKey
		var oldest time.Time
		first := true
		for key, entry := range c.entries {
			if first || entry.lastUsed.Before(oldest) {
				oldestKey = key
				oldest = entry.lastUsed
				first = false
			}
		}
		delete(c.entries, oldestKey)
		evicted++
	}
	return evicted
}
