package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func refSegnos(refs []*ref) []uint64 {
	segnos := make([]uint64, 0, len(refs))
	for _, r := range refs {
		segnos = append(segnos, r.segno)
	}
	return segnos
}

func TestRangesIntersect(t *testing.T) {
	tests := []struct {
		name                    string
		start, end, first, last string
		endUnbounded            bool
		want                    bool
	}{
		{name: "contained", start: "d", end: "f", first: "a", last: "z", want: true},
		{name: "touching at last", start: "m", end: "z", first: "a", last: "m", want: true},
		{name: "touching at first", start: "a", end: "f", first: "f", last: "m", want: true},
		{name: "entirely before", start: "n", end: "z", first: "a", last: "m", want: false},
		{name: "entirely after", start: "a", end: "e", first: "f", last: "m", want: false},
		{name: "unbounded end", start: "a", first: "zz", last: "zzz", endUnbounded: true, want: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var end []byte
			if !tc.endUnbounded {
				end = []byte(tc.end)
			}
			got := rangesIntersect([]byte(tc.start), end, []byte(tc.first), []byte(tc.last))
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestZeroRefs(t *testing.T) {
	f := newFixture(t, nil)

	require.NoError(t, f.m.Add(newTestEntry(0, 10, 1, "a", "m")))
	require.NoError(t, f.m.Add(newTestEntry(0, 11, 2, "d", "z")))
	require.NoError(t, f.m.Add(newTestEntry(0, 12, 3, "q", "z")))
	// Non-zero entries share the map but must never surface here.
	require.NoError(t, f.m.Add(newTestEntry(1, 20, 1, "a", "z")))

	refs, err := f.m.zeroRefs(f.root(), []byte("c"), []byte("e"), nil)
	require.NoError(t, err)
	assert.Equal(t, []uint64{11, 10}, refSegnos(refs), "intersecting entries, newest first")

	refs, err = f.m.zeroRefs(f.root(), []byte("n"), []byte("p"), nil)
	require.NoError(t, err)
	assert.Equal(t, []uint64{11}, refSegnos(refs), "only segment 11 spans the range")

	refs, err = f.m.zeroRefs(f.root(), []byte("a"), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []uint64{12, 11, 10}, refSegnos(refs), "nil end is unbounded")
}

func TestNonzeroRefs(t *testing.T) {
	f := newFixture(t, nil)

	require.NoError(t, f.m.Add(newTestEntry(1, 10, 1, "a", "f")))
	require.NoError(t, f.m.Add(newTestEntry(1, 11, 1, "g", "z")))
	require.NoError(t, f.m.Add(newTestEntry(2, 20, 1, "c", "p")))

	t.Run("containing entry per level", func(t *testing.T) {
		refs, err := f.m.nonzeroRefs(f.root(), []byte("d"), []byte("z"), nil)
		require.NoError(t, err)
		assert.Equal(t, []uint64{10, 20}, refSegnos(refs))
	})

	t.Run("key in a gap picks the following entry", func(t *testing.T) {
		// "f5" sorts between segment 10's range and segment 11's; the level 1
		// candidate is the entry after the gap.
		refs, err := f.m.nonzeroRefs(f.root(), []byte("f5"), []byte("z"), nil)
		require.NoError(t, err)
		assert.Equal(t, []uint64{11, 20}, refSegnos(refs))
	})

	t.Run("entry starting beyond end is skipped", func(t *testing.T) {
		refs, err := f.m.nonzeroRefs(f.root(), []byte("f5"), []byte("f9"), nil)
		require.NoError(t, err)
		assert.Equal(t, []uint64{20}, refSegnos(refs), "segment 11 starts past the range end")
	})

	t.Run("key past every entry", func(t *testing.T) {
		refs, err := f.m.nonzeroRefs(f.root(), []byte("zz"), nil, nil)
		require.NoError(t, err)
		assert.Empty(t, refs)
	})
}

func TestPrevOverlapOrNext(t *testing.T) {
	f := newFixture(t, nil)

	require.NoError(t, f.m.Add(newTestEntry(1, 10, 1, "c", "f")))
	require.NoError(t, f.m.Add(newTestEntry(2, 20, 1, "a", "z")))

	// The previous entry at level 2 relative to "m" is segment 20, whose
	// range reaches back over the search key.
	it, err := f.m.prevOverlapOrNext(f.root(), 2, []byte("m"))
	require.NoError(t, err)
	e, err := DecodeEntry(it.Key, it.Value)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), e.SegmentID)

	// At level 1 the previous entry ends before "m"; the walk falls through
	// to the next entry, which is segment 20 at the wrong level. The caller
	// filters that.
	it, err = f.m.prevOverlapOrNext(f.root(), 1, []byte("m"))
	require.NoError(t, err)
	e, err = DecodeEntry(it.Key, it.Value)
	require.NoError(t, err)
	assert.Equal(t, 2, e.Level)

	// Before any level 1 entry the previous item is a level 0 sort key zone
	// miss; the next entry is segment 10 itself.
	it, err = f.m.prevOverlapOrNext(f.root(), 1, []byte("a"))
	require.NoError(t, err)
	e, err = DecodeEntry(it.Key, it.Value)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), e.SegmentID)
}

func TestClampRange(t *testing.T) {
	mkRef := func(first, last string) *ref {
		return &ref{first: []byte(first), last: []byte(last)}
	}

	t.Run("no refs leaves range alone", func(t *testing.T) {
		cs, ce := clampRange(nil, []byte("f"), []byte("a"), []byte("z"))
		assert.Equal(t, []byte("a"), cs)
		assert.Equal(t, []byte("z"), ce)
	})

	t.Run("shrinks to ref bounds", func(t *testing.T) {
		cs, ce := clampRange([]*ref{mkRef("c", "m")}, []byte("f"), []byte("a"), []byte("z"))
		assert.Equal(t, []byte("c"), cs)
		assert.Equal(t, []byte("m"), ce)
	})

	t.Run("never shrinks past the search key", func(t *testing.T) {
		// The ref starts beyond the key: clamping the start to it would
		// exclude the key from the published range.
		cs, ce := clampRange([]*ref{mkRef("g", "m")}, []byte("f5"), []byte("a"), []byte("z"))
		assert.Equal(t, []byte("a"), cs)
		assert.Equal(t, []byte("m"), ce)
	})

	t.Run("nil end stays unbounded without a bounding ref", func(t *testing.T) {
		cs, ce := clampRange(nil, []byte("f"), []byte("a"), nil)
		assert.Equal(t, []byte("a"), cs)
		assert.Nil(t, ce)
	})

	t.Run("ref bounds an unbounded end", func(t *testing.T) {
		_, ce := clampRange([]*ref{mkRef("a", "m")}, []byte("f"), []byte("a"), nil)
		assert.Equal(t, []byte("m"), ce)
	})
}
