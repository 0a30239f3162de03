// ABOUTME: Thread-safe TTL cache of client idempotency keys for message sends
// ABOUTME: Remembers in-flight and completed requests so retries are not delivered twice

package dedupe

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

// State is what the cache knows about a key.
type State int

const (
	// StateNew means the key was unknown and is now claimed by the caller.
	StateNew State = iota
	// StatePending means another request holding the key has not finished.
	StatePending
	// StateDone means a request with the key completed; the result is returned.
	StateDone
	// StateMismatch means the key is held by a request with a different
	// fingerprint, so the client reused a key for a different request.
	StateMismatch
)

type cacheEntry struct {
	timestamp   time.Time
	element     *list.Element
	fingerprint string
	done        bool
	result      string
}

// Cache is a TTL-based, size-limited map of idempotency keys. Insertion order
// is kept in a linked list so the oldest key is evicted in O(1) when full.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	order   *list.List // keys, oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a cache with the given TTL and maximum size.
// A background goroutine periodically removes expired keys.
func New(ttl time.Duration, maxSize int) *Cache {
	return newWithClock(ttl, maxSize, time.Now)
}

func newWithClock(ttl time.Duration, maxSize int, now func() time.Time) *Cache {
	if maxSize <= 0 {
		maxSize = 1
	}
	c := &Cache{
		entries: make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     now,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Key builds a cache key scoped to a user so clients cannot collide with
// each other's idempotency keys.
func Key(username, idempotencyKey string) string {
	return strings.Join([]string{username, idempotencyKey}, "\x00")
}

// Claim atomically looks up key and claims it if it is unknown or expired.
// fingerprint identifies the request body; a live key claimed with another
// fingerprint yields StateMismatch. For StateDone the stored result is returned.
func (c *Cache) Claim(key, fingerprint string) (State, string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if entry, ok := c.entries[key]; ok {
		if now.Sub(entry.timestamp) < c.ttl {
			if entry.fingerprint != fingerprint {
				return StateMismatch, ""
			}
			if entry.done {
				return StateDone, entry.result
			}
			return StatePending, ""
		}
		c.removeLocked(key, entry)
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	c.entries[key] = &cacheEntry{
		timestamp:   now,
		element:     c.order.PushBack(key),
		fingerprint: fingerprint,
	}
	return StateNew, ""
}

// Complete records the result for a claimed key and restarts its TTL.
func (c *Cache) Complete(key, result string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return
	}
	entry.done = true
	entry.result = result
	entry.timestamp = c.now()
	c.order.MoveToBack(entry.element)
}

// Release forgets a claimed key so the client can retry after a failure.
func (c *Cache) Release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[key]; ok {
		c.removeLocked(key, entry)
	}
}

// Len returns the number of keys currently held, including expired keys not
// yet cleaned up.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) removeLocked(key string, entry *cacheEntry) {
	c.order.Remove(entry.element)
	delete(c.entries, key)
}

// evictOldest must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.entries, key)
}

func (c *Cache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.done:
			return
		}
	}
}

func (c *Cache) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, entry := range c.entries {
		if now.Sub(entry.timestamp) >= c.ttl {
			c.removeLocked(key, entry)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
