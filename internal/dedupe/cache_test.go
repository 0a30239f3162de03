// ABOUTME: Tests for the idempotency key cache used on message sends
// ABOUTME: Validates claim states, TTL expiration, eviction, release and concurrency safety

package dedupe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests move time without sleeping.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

func newTestCache(t *testing.T, ttl time.Duration, maxSize int) (*Cache, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := newWithClock(ttl, maxSize, clock.Now)
	t.Cleanup(c.Close)
	return c, clock
}

func TestCache_Claim_New(t *testing.T) {
	cache, _ := newTestCache(t, time.Minute, 100)

	state, result := cache.Claim("k1", "")
	assert.Equal(t, StateNew, state)
	assert.Empty(t, result)
	assert.Equal(t, 1, cache.Len())
}

func TestCache_Claim_Pending(t *testing.T) {
	cache, _ := newTestCache(t, time.Minute, 100)

	cache.Claim("k1", "")
	state, _ := cache.Claim("k1", "")
	assert.Equal(t, StatePending, state)
}

func TestCache_Claim_Done(t *testing.T) {
	cache, _ := newTestCache(t, time.Minute, 100)

	cache.Claim("k1", "")
	cache.Complete("k1", "conversation-1")

	state, result := cache.Claim("k1", "")
	assert.Equal(t, StateDone, state)
	assert.Equal(t, "conversation-1", result)
}

func TestCache_Claim_Expired(t *testing.T) {
	cache, clock := newTestCache(t, time.Minute, 100)

	cache.Claim("k1", "")
	cache.Complete("k1", "conversation-1")

	clock.Advance(2 * time.Minute)

	state, result := cache.Claim("k1", "")
	assert.Equal(t, StateNew, state, "expired keys can be claimed again")
	assert.Empty(t, result)
}

func TestCache_Complete_RestartsTTL(t *testing.T) {
	cache, clock := newTestCache(t, time.Minute, 100)

	cache.Claim("k1", "")
	clock.Advance(50 * time.Second)
	cache.Complete("k1", "c")
	clock.Advance(50 * time.Second)

	state, _ := cache.Claim("k1", "")
	assert.Equal(t, StateDone, state)
}

func TestCache_Complete_UnknownKey(t *testing.T) {
	cache, _ := newTestCache(t, time.Minute, 100)

	cache.Complete("never-claimed", "c")
	assert.Equal(t, 0, cache.Len())
}

func TestCache_Release(t *testing.T) {
	cache, _ := newTestCache(t, time.Minute, 100)

	cache.Claim("k1", "")
	cache.Release("k1")
	cache.Release("k1")

	state, _ := cache.Claim("k1", "")
	assert.Equal(t, StateNew, state)
}

func TestCache_EvictsOldest(t *testing.T) {
	cache, _ := newTestCache(t, time.Minute, 3)

	for i := range 4 {
		cache.Claim(fmt.Sprintf("k%d", i), "")
	}
	assert.Equal(t, 3, cache.Len())

	state, _ := cache.Claim("k0", "")
	assert.Equal(t, StateNew, state, "oldest key should have been evicted")

	state, _ = cache.Claim("k3", "")
	assert.Equal(t, StatePending, state)
}

func TestCache_RunCleanup(t *testing.T) {
	cache, clock := newTestCache(t, time.Minute, 100)

	cache.Claim("old", "")
	clock.Advance(30 * time.Second)
	cache.Claim("new", "")
	clock.Advance(45 * time.Second)

	cache.runCleanup()
	assert.Equal(t, 1, cache.Len())

	state, _ := cache.Claim("new", "")
	assert.Equal(t, StatePending, state)
}

func TestKey_ScopedByUser(t *testing.T) {
	assert.NotEqual(t, Key("alice", "k"), Key("bob", "k"))
	assert.NotEqual(t, Key("a", "bc"), Key("ab", "c"))
	assert.Equal(t, Key("alice", "k"), Key("alice", "k"))
}

func TestCache_Claim_FingerprintMismatch(t *testing.T) {
	cache, clock := newTestCache(t, time.Minute, 100)

	cache.Claim("k1", "send:bob:hi")
	state, _ := cache.Claim("k1", "send:carol:hi")
	assert.Equal(t, StateMismatch, state, "pending key reused for another request")

	cache.Complete("k1", "conv-1")
	state, result := cache.Claim("k1", "send:carol:hi")
	assert.Equal(t, StateMismatch, state, "completed key reused for another request")
	assert.Empty(t, result)

	state, result = cache.Claim("k1", "send:bob:hi")
	assert.Equal(t, StateDone, state)
	assert.Equal(t, "conv-1", result)

	// Once expired the key is free for any request
	clock.Advance(2 * time.Minute)
	state, _ = cache.Claim("k1", "send:carol:hi")
	assert.Equal(t, StateNew, state)
}

func TestCache_ConcurrentClaim(t *testing.T) {
	cache, _ := newTestCache(t, time.Minute, 100)

	var wg sync.WaitGroup
	var winners atomic.Int32
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if state, _ := cache.Claim("shared", ""); state == StateNew {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), winners.Load(), "exactly one claimer should win")
}

func TestCache_Close_Idempotent(t *testing.T) {
	cache := New(time.Minute, 10)
	cache.Close()
	cache.Close()
}
