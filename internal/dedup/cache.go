// Package dedup implements the Deduplication Cache of spec.md §4.3: at most
// one concurrent execution per idempotency key, a time-windowed completed
// result cache, and LRU eviction at a hard capacity bound.
//
// In-flight coalescing reuses golang.org/x/sync/singleflight.Group — the
// same primitive the teacher codebase uses to coalesce concurrent
// reconnection attempts (internal/client/mcp_conn.go#getOrReconnect) — so
// that only the first caller for a live key executes body_fn and every
// other concurrent caller observes its exact result. A second,
// insertion-ordered map holds the result for the remainder of the window
// after the singleflight call returns, since singleflight itself forgets
// the result the instant the call completes.
package dedup

import (
	"container/list"
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mcp-tx/rmcp-go/internal/metrics"
	"github.com/mcp-tx/rmcp-go/internal/types"
)

// Role reports whether the caller became the leader (responsible for
// computing the result) or a follower (awaiting the leader's result).
type Role string

const (
	RoleLeader   Role = "leader"
	RoleFollower Role = "follower"
)

// entry is the windowed, post-completion cache record.
type entry struct {
	key       string
	result    types.Result
	insertAt  time.Time
	elem      *list.Element // position in the LRU list
}

// Stats exposes counters for the internal/metrics wiring and for tests.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
}

// Cache is the Deduplication Cache. Safe for concurrent use.
type Cache struct {
	window   time.Duration
	capacity int

	group singleflight.Group

	mu      sync.Mutex
	entries map[string]*entry
	order   *list.List // front = most recently inserted

	statsMu sync.Mutex
	stats   Stats
}

// New creates a Cache. capacity <= 0 means unbounded.
func New(window time.Duration, capacity int) *Cache {
	return &Cache{
		window:   window,
		capacity: capacity,
		entries:  make(map[string]*entry),
		order:    list.New(),
	}
}

// Lookup returns a live, previously-completed result for key, if any. It
// never triggers execution; callers use Execute for the leader/follower
// path.
func (c *Cache) Lookup(key string) (types.Result, bool) {
	c.mu.Lock()
	e, ok := c.liveEntryLocked(key)
	c.mu.Unlock()

	c.recordLookup(ok)
	if !ok {
		return types.Result{}, false
	}
	return e.result, true
}

// Execute runs fn under the deduplication discipline for key: the first
// caller becomes leader and runs fn; concurrent callers become followers
// and block on the shared singleflight call, observing the exact Result
// the leader produced. On leader success the Result is pinned in the
// window cache; on leader terminal failure nothing is cached, so a later
// retry with the same key is not poisoned; on leader cancellation the
// entry is removed and followers receive ctx's cancellation error via fn's
// own error return.
func (c *Cache) Execute(ctx context.Context, key string, fn func(ctx context.Context) (types.Result, error)) (types.Result, Role, error) {
	if r, ok := c.Lookup(key); ok {
		return r, RoleFollower, nil
	}

	// Do reports shared=true to the leader too whenever followers joined, so
	// leadership is tracked by whether this caller's own closure executed fn.
	// The closure re-checks the window cache first: a caller whose Lookup
	// missed can reach Do after the previous leader's call already completed.
	leader := false
	v, err, _ := c.group.Do(key, func() (any, error) {
		c.mu.Lock()
		e, ok := c.liveEntryLocked(key)
		c.mu.Unlock()
		if ok {
			return e.result, nil
		}
		leader = true
		res, ferr := fn(ctx)
		if ferr != nil {
			return types.Result{}, ferr
		}
		c.pin(key, res)
		return res, nil
	})

	role := RoleFollower
	if leader {
		role = RoleLeader
	}

	if err != nil {
		return types.Result{}, role, err
	}
	return v.(types.Result), role, nil
}

// pin stores a successful result for the remainder of the window,
// evicting the oldest entry if at capacity.
func (c *Cache) pin(key string, result types.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[key]; ok {
		c.order.Remove(old.elem)
		delete(c.entries, key)
	}

	e := &entry{key: key, result: result, insertAt: time.Now()}
	e.elem = c.order.PushFront(e)
	c.entries[key] = e

	if c.capacity > 0 {
		for len(c.entries) > c.capacity {
			oldest := c.order.Back()
			if oldest == nil {
				break
			}
			oe := oldest.Value.(*entry)
			c.order.Remove(oldest)
			delete(c.entries, oe.key)
			c.statsMu.Lock()
			c.stats.Evictions++
			c.statsMu.Unlock()
			metrics.DedupEvictions.Inc()
		}
	}
}

// liveEntryLocked returns the entry for key if present and still within
// the window, evicting it in place if it has expired. Caller holds c.mu.
func (c *Cache) liveEntryLocked(key string) (*entry, bool) {
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.window > 0 && time.Since(e.insertAt) > c.window {
		c.order.Remove(e.elem)
		delete(c.entries, key)
		return nil, false
	}
	return e, true
}

func (c *Cache) recordLookup(hit bool) {
	c.statsMu.Lock()
	if hit {
		c.stats.Hits++
	} else {
		c.stats.Misses++
	}
	c.statsMu.Unlock()

	if hit {
		metrics.DedupHits.Inc()
	} else {
		metrics.DedupMisses.Inc()
	}
}

// Stats returns a copy of the current hit/miss/eviction counters.
func (c *Cache) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

// Len reports the number of live entries currently pinned (ignores
// singleflight in-flight calls that have not yet completed).
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
