// Package resultcache implements the C6 result cache: a weight-bounded
// memoization layer in front of expensive repository read/diff/history
// operations, shared across watchers and direct callers alike.
package resultcache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/outcaste-io/ristretto"
	"golang.org/x/sync/singleflight"
)

// ComputeFunc produces the value for a cache miss. cost is the weight
// ristretto uses for eviction accounting — bytes of content plus
// path/query string lengths, per the operation being memoized.
type ComputeFunc func(ctx context.Context) (value any, cost int64, err error)

// Cache is the C6 result cache. The zero value is not usable; build one
// with New.
type Cache struct {
	values *ristretto.Cache
	group  singleflight.Group
	gens   sync.Map // uuid.UUID -> *atomic.Int64
}

// entry is what's actually stored in the ristretto cache: the computed
// value plus enough to decide, lazily and without touching the repository,
// whether it's still valid.
type entry struct {
	value      any
	relative   bool
	generation int64
}

// New returns a Cache whose ristretto backing store admits up to maxCost
// total weight.
func New(maxCost int64) (*Cache, error) {
	rc, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxCost * 10, // ristretto's own sizing heuristic: ~10x the expected item count.
		MaxCost:     maxCost,
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{values: rc}, nil
}

// Get returns the cached value for fingerprint if present and still valid,
// otherwise calls compute — at most once concurrently across every caller
// sharing the same fingerprint — and caches its result.
//
// relative must be true when the operation fingerprint includes a
// HEAD-relative revision; such entries are invalidated lazily the next
// time repositoryID's generation counter advances (see
// InvalidateRepository), rather than being actively evicted. relative must
// be false for operations pinned to an explicit absolute revision, whose
// result never changes and is therefore never invalidated.
func (c *Cache) Get(ctx context.Context, repositoryID uuid.UUID, fingerprint uint64, relative bool, compute ComputeFunc) (any, error) {
	if v, ok := c.values.Get(fingerprint); ok {
		e := v.(entry)
		if !e.relative || e.generation == c.generation(repositoryID) {
			return e.value, nil
		}
	}

	type result struct {
		value any
		cost  int64
	}
	v, err, _ := c.group.Do(fmt.Sprintf("%d:%x", repositoryID, fingerprint), func() (any, error) {
		// Re-check: another caller may have already populated the entry
		// while this one waited to enter the singleflight group.
		if v, ok := c.values.Get(fingerprint); ok {
			e := v.(entry)
			if !e.relative || e.generation == c.generation(repositoryID) {
				return result{value: e.value}, nil
			}
		}
		value, cost, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		e := entry{value: value, relative: relative}
		if relative {
			e.generation = c.generation(repositoryID)
		}
		c.values.Set(fingerprint, e, cost)
		return result{value: value, cost: cost}, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(result).value, nil
}

// InvalidateRepository implements repository.Invalidator: it bumps
// repositoryID's generation counter, lazily invalidating every cached
// HEAD-relative entry for that repository on their next Get. Entries
// computed against an explicit absolute revision are untouched.
func (c *Cache) InvalidateRepository(repositoryID uuid.UUID) {
	g, _ := c.gens.LoadOrStore(repositoryID, new(atomic.Int64))
	g.(*atomic.Int64).Add(1)
}

func (c *Cache) generation(repositoryID uuid.UUID) int64 {
	g, _ := c.gens.LoadOrStore(repositoryID, new(atomic.Int64))
	return g.(*atomic.Int64).Load()
}

// Metrics exposes ristretto's built-in hit/miss counters, satisfying the
// "hit-rate counter" requirement without a hand-rolled one.
func (c *Cache) Metrics() *ristretto.Metrics {
	return c.values.Metrics
}

// Wait blocks until every pending Set from prior Get calls has been
// processed by ristretto's internal buffers. Intended for tests, which
// would otherwise race ristretto's asynchronous admission policy.
func (c *Cache) Wait() {
	c.values.Wait()
}
