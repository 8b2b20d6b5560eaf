// Package cache memoizes busy-time computations per organizer, date, and
// active-provider set.
//
// Entries expire after a short TTL because external calendars change at any
// time; the TTL trades staleness for latency and is not a correctness
// guarantee. Mutations of schedule, break, override, or meeting data call
// Invalidate for the organizer before they report success.
//
// At most one computation per key runs at a time: concurrent callers for the
// same key share the in-flight result (golang.org/x/sync/singleflight). A
// caller whose context is cancelled stops waiting immediately; the
// computation itself carries on so its result can still warm the cache.
package cache

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/tbourn/go-availability-engine/internal/domain"
)

// Key identifies one cached busy set.
type Key struct {
	OrganizerID string
	Date        string // YYYY-MM-DD in the organizer's zone
	Fingerprint string // see Fingerprint
}

func (k Key) String() string {
	return k.OrganizerID + "|" + k.Date + "|" + k.Fingerprint
}

// ComputeFunc produces the value for a key on a cache miss.
type ComputeFunc[V any] func(ctx context.Context) (V, error)

type entry[V any] struct {
	val        V
	computedAt time.Time
}

// Cache is a TTL cache with per-key single-flight. It is safe for
// concurrent use. Cached values are shared between callers and must be
// treated as read-only.
type Cache[V any] struct {
	// Keep, when set, decides whether a computed value is stored. Values it
	// rejects are still returned to the callers that waited for them.
	Keep func(V) bool

	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	mu      sync.Mutex
	entries map[Key]entry[V]
	// gens is bumped on every invalidation so results computed before it are
	// discarded instead of stored. An organizer is only tracked while it has
	// callers waiting in GetOrCompute (holders); otherwise its generation is
	// implicitly zero.
	gens    map[string]uint64
	holders map[string]int
	group   singleflight.Group
}

// New returns a cache. Zero ttl/maxEntries fall back to 30s / 4096.
func New[V any](ttl time.Duration, maxEntries int, now func() time.Time) *Cache[V] {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	if now == nil {
		now = time.Now
	}
	return &Cache[V]{
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        now,
		entries:    make(map[Key]entry[V]),
		gens:       make(map[string]uint64),
		holders:    make(map[string]int),
	}
}

// Get returns a fresh entry for key, if any.
func (c *Cache[V]) Get(key Key) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(key)
}

func (c *Cache[V]) getLocked(key Key) (V, bool) {
	var zero V
	e, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	if c.now().Sub(e.computedAt) >= c.ttl {
		delete(c.entries, key)
		return zero, false
	}
	return e.val, true
}

// GetOrCompute returns the cached value for key or computes it.
//
// compute receives a context detached from ctx's cancellation. When ctx is
// done before the computation finishes, GetOrCompute returns ctx.Err() and
// the computation still populates the cache on success.
func (c *Cache[V]) GetOrCompute(ctx context.Context, key Key, compute ComputeFunc[V]) (V, error) {
	var zero V
	c.mu.Lock()
	if v, ok := c.getLocked(key); ok {
		c.mu.Unlock()
		requests.WithLabelValues("hit").Inc()
		return v, nil
	}
	gen := c.gens[key.OrganizerID]
	c.holders[key.OrganizerID]++
	c.mu.Unlock()

	flightKey := key.String() + "#" + strconv.FormatUint(gen, 10)
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(flightKey, func() (any, error) {
		v, err := compute(detached)
		if err != nil {
			return nil, err
		}
		if c.Keep == nil || c.Keep(v) {
			c.store(key, gen, v)
		}
		return v, nil
	})

	select {
	case res := <-ch:
		c.release(key.OrganizerID)
		if res.Shared {
			requests.WithLabelValues("shared").Inc()
		} else {
			requests.WithLabelValues("miss").Inc()
		}
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	case <-ctx.Done():
		requests.WithLabelValues("abandoned").Inc()
		go func() {
			<-ch
			c.release(key.OrganizerID)
		}()
		return zero, ctx.Err()
	}
}

// release drops a caller's hold on organizerID and forgets its generation
// once nobody is waiting on a computation for it.
func (c *Cache[V]) release(organizerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.holders[organizerID]--; c.holders[organizerID] > 0 {
		return
	}
	delete(c.holders, organizerID)
	delete(c.gens, organizerID)
}

func (c *Cache[V]) store(key Key, gen uint64, v V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[key.OrganizerID] != gen {
		return
	}
	if len(c.entries) >= c.maxEntries {
		c.evictLocked()
	}
	c.entries[key] = entry[V]{val: v, computedAt: c.now()}
}

// Invalidate drops every entry for organizerID and discards results of
// computations already in flight for it.
func (c *Cache[V]) Invalidate(organizerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bumpLocked(organizerID)
	for k := range c.entries {
		if k.OrganizerID == organizerID {
			delete(c.entries, k)
		}
	}
}

// InvalidateAll empties the cache.
func (c *Cache[V]) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for org := range c.holders {
		c.gens[org]++
	}
	clear(c.entries)
}

// bumpLocked invalidates in-flight results for organizerID. Without a
// computation in flight there is nothing to discard.
func (c *Cache[V]) bumpLocked(organizerID string) {
	if c.holders[organizerID] > 0 {
		c.gens[organizerID]++
		return
	}
	delete(c.gens, organizerID)
}

// Len returns the number of stored entries, fresh or not.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictLocked drops expired entries, then the oldest one if still full.
func (c *Cache[V]) evictLocked() {
	now := c.now()
	for k, e := range c.entries {
		if now.Sub(e.computedAt) >= c.ttl {
			delete(c.entries, k)
		}
	}
	if len(c.entries) < c.maxEntries {
		return
	}
	var (
		oldestKey Key
		oldestAt  time.Time
		first     = true
	)
	for k, e := range c.entries {
		if first || e.computedAt.Before(oldestAt) {
			oldestKey, oldestAt, first = k, e.computedAt, false
		}
	}
	delete(c.entries, oldestKey)
}

// Fingerprint hashes the set of active integrations (id + provider), so
// adding or removing an integration changes the cache key.
func Fingerprint(integs []domain.CalendarIntegration) string {
	ids := make([]string, 0, len(integs))
	for _, in := range integs {
		if in.Active {
			ids = append(ids, in.Provider+":"+in.ID)
		}
	}
	sort.Strings(ids)
	return strconv.FormatUint(xxhash.Sum64String(strings.Join(ids, ",")), 16)
}

var requests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "availability_cache_requests_total",
		Help: "Availability cache lookups by result (hit, miss, shared, abandoned).",
	},
	[]string{"result"},
)

func init() {
	prometheus.MustRegister(requests)
}
