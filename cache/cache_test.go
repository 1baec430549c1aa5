package cache

import (
	"expvar"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/strata/core"
)

func TestRangeCacheInsertAndGet(t *testing.T) {
	c := NewRangeCache(16)
	items := []core.Item{
		{Key: []byte("b"), Value: []byte("1")},
		{Key: []byte("d"), Value: []byte("2")},
	}
	require.NoError(t, c.InsertBatch(items, []byte("a"), []byte("e")))

	v, ok, covered := c.Get([]byte("d"))
	assert.True(t, ok)
	assert.True(t, covered)
	assert.Equal(t, []byte("2"), v)
}

func TestRangeCacheNegativeCaching(t *testing.T) {
	c := NewRangeCache(16)
	require.NoError(t, c.InsertBatch([]core.Item{{Key: []byte("b"), Value: []byte("1")}}, []byte("a"), []byte("e")))

	// "c" is inside the covered range but has no item: authoritative absence.
	_, ok, covered := c.Get([]byte("c"))
	assert.False(t, ok)
	assert.True(t, covered)

	// "f" is outside every covered range: unresolved.
	_, ok, covered = c.Get([]byte("f"))
	assert.False(t, ok)
	assert.False(t, covered)
}

func TestRangeCacheUnboundedEnd(t *testing.T) {
	c := NewRangeCache(16)
	require.NoError(t, c.InsertBatch(nil, []byte("x"), nil))

	_, ok, covered := c.Get([]byte("zzz"))
	assert.False(t, ok)
	assert.True(t, covered, "nil end covers everything past the start")
}

func TestRangeCacheCapacity(t *testing.T) {
	c := NewRangeCache(2)
	items := []core.Item{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("b"), Value: []byte("2")},
		{Key: []byte("c"), Value: []byte("3")},
	}
	err := c.InsertBatch(items, []byte("a"), []byte("c"))
	require.ErrorIs(t, err, core.ErrNoSpace)
	assert.Zero(t, c.Len(), "failed batch admits nothing")
}

func TestRangeCacheMetrics(t *testing.T) {
	c := NewRangeCache(16)
	hits, misses := new(expvar.Int), new(expvar.Int)
	c.SetMetrics(hits, misses)
	require.NoError(t, c.InsertBatch([]core.Item{{Key: []byte("a"), Value: []byte("1")}}, []byte("a"), []byte("b")))

	c.Get([]byte("a"))
	c.Get([]byte("z"))
	assert.Equal(t, int64(1), hits.Value())
	assert.Equal(t, int64(1), misses.Value())
}
