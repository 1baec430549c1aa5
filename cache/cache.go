package cache

import (
	"bytes"
	"expvar"
	"fmt"
	"sync"

	"github.com/google/btree"

	"github.com/INLOpen/strata/core"
)

const itemTreeDegree = 16

// RangeCache is a fixed-capacity item cache tracking which key ranges are
// fully resolved. A Get inside a covered range that finds no item is an
// authoritative negative: the key does not exist in any segment.
type RangeCache struct {
	mu       sync.Mutex
	capacity int
	items    *btree.BTreeG[core.Item]
	covered  []keyRange

	hits   *expvar.Int
	misses *expvar.Int
}

type keyRange struct {
	start []byte
	end   []byte // nil means unbounded
}

// NewRangeCache creates a RangeCache holding at most capacity items.
func NewRangeCache(capacity int) *RangeCache {
	return &RangeCache{
		capacity: capacity,
		items: btree.NewG[core.Item](itemTreeDegree, func(a, b core.Item) bool {
			return bytes.Compare(a.Key, b.Key) < 0
		}),
	}
}

// SetMetrics wires optional hit/miss counters.
func (c *RangeCache) SetMetrics(hits, misses *expvar.Int) {
	c.hits = hits
	c.misses = misses
}

// InsertBatch stores items and marks [start,end] covered.
func (c *RangeCache) InsertBatch(items []core.Item, start, end []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capacity > 0 && c.items.Len()+len(items) > c.capacity {
		return fmt.Errorf("batch of %d items over capacity %d: %w", len(items), c.capacity, core.ErrNoSpace)
	}
	for _, it := range items {
		c.items.ReplaceOrInsert(core.Item{Key: core.CloneKey(it.Key), Value: core.CloneKey(it.Value)})
	}
	c.covered = append(c.covered, keyRange{start: core.CloneKey(start), end: core.CloneKey(end)})
	return nil
}

// Get looks key up. ok reports a cached value; covered reports that the key
// lies in a resolved range, so ok=false with covered=true is an
// authoritative "key absent".
func (c *RangeCache) Get(key []byte) (value []byte, ok bool, covered bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if it, found := c.items.Get(core.Item{Key: key}); found {
		if c.hits != nil {
			c.hits.Add(1)
		}
		return it.Value, true, true
	}
	for _, r := range c.covered {
		if bytes.Compare(r.start, key) <= 0 && core.CompareToEnd(key, r.end) <= 0 {
			if c.hits != nil {
				c.hits.Add(1)
			}
			return nil, false, true
		}
	}
	if c.misses != nil {
		c.misses.Add(1)
	}
	return nil, false, false
}

// Len returns the number of cached items.
func (c *RangeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items.Len()
}

// Clear drops all items and covered ranges.
func (c *RangeCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.Clear(false)
	c.covered = nil
}

var _ Interface = (*RangeCache)(nil)
