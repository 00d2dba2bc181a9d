// Package cache implements the Computation Cache: a bounded, weighted
// store of results that are a pure function of (repository identity,
// revision or revision pair, query or pattern or tree pair). It wraps
// ristretto exactly as the teacher's pkg/serve/odb.CacheDB wraps it, but
// keyed on a structural Key instead of a bare object id, and fronted by a
// striped get-or-compute lock so that concurrent misses on the same key
// do not stampede the backing computation.
package cache

import (
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/dgraph-io/ristretto/v2"
)

// Key is a structural-equality cacheable lookup key. Every field that
// participates in identity must be comparable so Key itself can be used
// as a ristretto map key once rendered to a string via String.
type Key struct {
	Repository string
	// Revision addresses a single-revision result (find, get). Zero when
	// the key instead addresses a revision pair or tree pair.
	Revision int64
	// FromRevision/ToRevision address a diff/history result over a range.
	FromRevision int64
	ToRevision   int64
	// Pattern is the path-pattern argument, when the result depends on one.
	Pattern string
	// Query disambiguates same-revision lookups by operation and any
	// operation-specific argument (e.g. "GET:JSON:/a.json").
	Query string
}

// String renders the key to the flat string ristretto stores entries
// under, mirroring the teacher's cacheKey(rid, oid) composition.
func (k Key) String() string {
	return fmt.Sprintf("%s@%d[%d,%d]/%s/%s", k.Repository, k.Revision, k.FromRevision, k.ToRevision, k.Pattern, k.Query)
}

// stripe returns a shard index for k's string form, used to select one of
// a fixed number of locks so concurrent misses on unrelated keys are spread
// across them; unrelated keys that land on the same stripe share its lock.
func (k Key) stripe(n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(k.String()))
	return int(h.Sum32()) % n
}

// Stats reports the cache's running operation counters.
type Stats struct {
	Hits   uint64
	Misses uint64
	Weight int64
}

const numStripes = 64

// Cache is the Computation Cache. It is safe for concurrent use.
type Cache struct {
	backing *ristretto.Cache[string, any]
	stripes [numStripes]sync.Mutex

	mu     sync.Mutex
	hits   uint64
	misses uint64
}

// Spec configures the backing ristretto instance. MaxCostBytes bounds the
// cache's total admitted weight; entries are weighted by Put's cost
// argument (the teacher weighs blobs/trees by object count, here callers
// weigh by estimated serialized size).
type Spec struct {
	NumCounters  int64
	MaxCostBytes int64
	BufferItems  int64
}

// DefaultSpec mirrors the teacher's NewCacheDB defaults, scaled down from
// a git object cache to a derived-query-result cache.
func DefaultSpec() Spec {
	return Spec{NumCounters: 1e6, MaxCostBytes: 64 << 20, BufferItems: 64}
}

// New constructs a Cache from spec.
func New(spec Spec) (*Cache, error) {
	backing, err := ristretto.NewCache(&ristretto.Config[string, any]{
		NumCounters: spec.NumCounters,
		MaxCost:     spec.MaxCostBytes,
		BufferItems: spec.BufferItems,
		Metrics:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("dogma: unable to initialize computation cache: %w", err)
	}
	return &Cache{backing: backing}, nil
}

// Get returns the cached value for key, if present.
func (c *Cache) Get(key Key) (any, bool) {
	v, ok := c.backing.Get(key.String())
	c.mu.Lock()
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	c.mu.Unlock()
	return v, ok
}

// Put inserts value under key with the given weight (cost). Ristretto's
// admission policy may decline it; callers must not depend on a
// subsequent Get succeeding.
func (c *Cache) Put(key Key, value any, cost int64) {
	c.backing.Set(key.String(), value, cost)
}

// GetOrCompute returns the cached value for key, computing and storing it
// via compute on a miss. Concurrent misses on the same key serialize on a
// per-stripe lock and re-check the cache after acquiring it, so compute
// runs at most once per key per miss window; misses on different keys
// that hash to different stripes proceed fully in parallel.
func (c *Cache) GetOrCompute(key Key, cost int64, compute func() (any, error)) (any, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	stripe := &c.stripes[key.stripe(numStripes)]
	stripe.Lock()
	defer stripe.Unlock()
	if v, ok := c.backing.Get(key.String()); ok {
		c.mu.Lock()
		c.hits++
		c.mu.Unlock()
		return v, nil
	}
	v, err := compute()
	if err != nil {
		return nil, err
	}
	c.backing.Set(key.String(), v, cost)
	c.backing.Wait()
	return v, nil
}

// Invalidate removes key's entry, if present. Invalidation is normally
// implicit (keys embed a revision or tree id so newer results produce new
// keys), so this is reserved for administrative cache clears.
func (c *Cache) Invalidate(key Key) {
	c.backing.Del(key.String())
}

// Stats returns a snapshot of the cache's running hit/miss counters and
// current admitted weight.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	metrics := c.backing.Metrics
	var weight int64
	if metrics != nil {
		weight = int64(metrics.CostAdded()) - int64(metrics.CostEvicted())
	}
	return Stats{Hits: c.hits, Misses: c.misses, Weight: weight}
}

// Close releases the backing ristretto cache's goroutines.
func (c *Cache) Close() {
	c.backing.Close()
}
