// Package viewcache memoizes the filtered item list shown to the user.
//
// The cache holds a single entry: the last filter key and its result. Every
// mutation of the item set must call Invalidate before the next Get.
package viewcache

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/starford/refdraft/internal/models"
	"github.com/starford/refdraft/internal/refgraph"
)

// Source returns the current item snapshot. The returned slice must not be
// mutated afterwards.
type Source func(ctx context.Context) ([]models.SavedItem, error)

// Recorder receives cache metrics. A nil Recorder is ignored.
type Recorder interface {
	RecordViewCacheHit()
	RecordViewCacheMiss()
	RecordViewComputation(elapsed time.Duration)
}

// Cache is a single-entry memo of the filtered list.
type Cache struct {
	source   Source
	debounce time.Duration
	recorder Recorder
	now      func() time.Time

	mu            sync.Mutex
	key           string
	result        []models.SavedItem
	valid         bool
	generation    uint64
	invalidatedAt time.Time
	// burstStart is the first invalidation after a quiet debounce window.
	burstStart time.Time

	group        singleflight.Group
	computations atomic.Int64
}

// maxWaitFactor bounds how long a Get waits for a burst of invalidations to
// end, in multiples of the debounce window.
const maxWaitFactor = 4

// New creates a Cache over source. Gets issued within debounce of the last
// Invalidate wait for the window to go quiet before recomputing, but never
// longer than maxWaitFactor debounce windows after the burst started.
func New(source Source, debounce time.Duration, recorder Recorder) *Cache {
	return &Cache{
		source:   source,
		debounce: debounce,
		recorder: recorder,
		now:      time.Now,
	}
}

// Get returns the items matching f. The result is a copy the caller may
// modify.
func (c *Cache) Get(ctx context.Context, f Filter) ([]models.SavedItem, error) {
	key := f.Key()

	if res, ok := c.lookup(key); ok {
		c.hit()
		return res, nil
	}
	if c.recorder != nil {
		c.recorder.RecordViewCacheMiss()
	}

	gen, err := c.settle(ctx)
	if err != nil {
		return nil, err
	}
	// Another caller may have filled the entry while we waited.
	if res, ok := c.lookup(key); ok {
		return res, nil
	}

	v, err, _ := c.group.Do(strconv.FormatUint(gen, 10)+"|"+key, func() (any, error) {
		return c.compute(ctx, f, key, gen)
	})
	if err != nil {
		return nil, err
	}
	return models.CloneItems(v.([]models.SavedItem)), nil
}

// Invalidate drops the cached entry. Computations that started before the
// call never store their result.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.key = ""
	c.result = nil
	c.generation++
	now := c.now()
	if c.invalidatedAt.IsZero() || now.Sub(c.invalidatedAt) >= c.debounce {
		c.burstStart = now
	}
	c.invalidatedAt = now
	c.mu.Unlock()
}

// Computations returns how many times the filtered list has been recomputed.
func (c *Cache) Computations() int64 {
	return c.computations.Load()
}

func (c *Cache) lookup(key string) ([]models.SavedItem, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.valid || c.key != key {
		return nil, false
	}
	return models.CloneItems(c.result), true
}

func (c *Cache) hit() {
	if c.recorder != nil {
		c.recorder.RecordViewCacheHit()
	}
}

// settle waits until no invalidation happened for the debounce window, or
// until the current burst has lasted maxWaitFactor windows, and returns the
// generation observed at that point.
func (c *Cache) settle(ctx context.Context) (uint64, error) {
	for {
		c.mu.Lock()
		gen := c.generation
		var wait time.Duration
		if c.debounce > 0 && !c.invalidatedAt.IsZero() {
			now := c.now()
			wait = c.debounce - now.Sub(c.invalidatedAt)
			if capped := maxWaitFactor*c.debounce - now.Sub(c.burstStart); capped < wait {
				wait = capped
			}
		}
		c.mu.Unlock()

		if wait <= 0 {
			return gen, nil
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (c *Cache) compute(ctx context.Context, f Filter, key string, gen uint64) ([]models.SavedItem, error) {
	start := time.Now()
	items, err := c.source(ctx)
	if err != nil {
		return nil, err
	}
	c.computations.Add(1)

	var g *refgraph.Graph
	if f.needsGraph() {
		g = refgraph.New(items)
	}
	tokens := f.SearchTokens()

	out := make([]models.SavedItem, 0, len(items))
	for i := range items {
		if f.match(&items[i], tokens, g) {
			out = append(out, items[i].Clone())
		}
	}

	c.mu.Lock()
	if c.generation == gen {
		c.key = key
		c.result = out
		c.valid = true
	}
	c.mu.Unlock()

	if c.recorder != nil {
		c.recorder.RecordViewComputation(time.Since(start))
	}
	return out, nil
}
