package manifest

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/INLOpen/strata/faultpoint"
	"github.com/INLOpen/strata/internal/testutil"
	"github.com/INLOpen/strata/omap"
	"github.com/INLOpen/strata/segment"
)

// fixture wires a Manifest to in-memory collaborators.
type fixture struct {
	t      *testing.T
	tree   *omap.Tree
	store  *segment.MemStore
	cache  *testutil.CaptureCache
	faults *faultpoint.Set
	m      *Manifest
}

func newFixture(t *testing.T, tweak func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		t:      t,
		tree:   omap.NewTree(),
		store:  segment.NewMemStore(segment.MemStoreOptions{Compress: true}),
		cache:  &testutil.CaptureCache{},
		faults: faultpoint.NewSet(),
	}
	opts := Options{
		Fanout:         4,
		MaxLevels:      6,
		MaxRootRetries: 4,
		MaxBatchItems:  64,
		Map:            f.tree,
		Roots:          f.tree,
		Segments:       f.store,
		Cache:          f.cache,
		Faults:         f.faults,
		Tracer:         trace.NewNoopTracerProvider().Tracer("test"),
	}
	if tweak != nil {
		tweak(&opts)
	}
	m, err := Open(opts, nil)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	f.m = m
	return f
}

func newTestEntry(level int, segno, seq uint64, first, last string) Entry {
	return Entry{
		Level:     level,
		SegmentID: segno,
		Sequence:  seq,
		FirstKey:  []byte(first),
		LastKey:   []byte(last),
	}
}

func kv(key, value string) segment.Item {
	return segment.Item{Key: []byte(key), Value: []byte(value)}
}

func del(key string) segment.Item {
	return segment.Item{Key: []byte(key), Flags: segment.FlagDeletion}
}

// addSegment stores items as a segment and registers its manifest entry,
// with the entry range spanning the items.
func (f *fixture) addSegment(level int, segno, seq uint64, items ...segment.Item) Entry {
	f.t.Helper()
	require.NotEmpty(f.t, items)
	require.NoError(f.t, f.store.Put(segno, seq, items))
	e := Entry{
		Level:     level,
		SegmentID: segno,
		Sequence:  seq,
		FirstKey:  items[0].Key,
		LastKey:   items[len(items)-1].Key,
	}
	require.NoError(f.t, f.m.Add(e))
	return e
}

// addEntry registers a manifest entry whose range is given explicitly,
// backed by a segment holding items.
func (f *fixture) addEntry(e Entry, items ...segment.Item) Entry {
	f.t.Helper()
	require.NoError(f.t, f.store.Put(e.SegmentID, e.Sequence, items))
	require.NoError(f.t, f.m.Add(e))
	return e
}

// reopen opens a second Manifest over the fixture's collaborators, for
// tests that swap one of them out or start from persisted counts.
func (f *fixture) reopen(counts []uint64, tweak func(*Options)) *Manifest {
	f.t.Helper()
	opts := Options{
		Fanout:         4,
		MaxLevels:      6,
		MaxRootRetries: 4,
		MaxBatchItems:  64,
		Map:            f.tree,
		Roots:          f.tree,
		Segments:       f.store,
		Cache:          f.cache,
		Faults:         f.faults,
	}
	if tweak != nil {
		tweak(&opts)
	}
	m, err := Open(opts, counts)
	require.NoError(f.t, err)
	f.t.Cleanup(func() { m.Close() })
	return m
}

func (f *fixture) root() omap.Root {
	f.t.Helper()
	root, err := f.tree.CurrentRoot()
	require.NoError(f.t, err)
	return root
}

// recordingExecutor captures the candidate handoff of one compaction.
type recordingExecutor struct {
	candidates []Entry
	level      int
	maxLevel   int
	sticky     bool
	described  bool
	failWith   error
}

func (e *recordingExecutor) AddCandidate(entry Entry) error {
	if e.failWith != nil {
		err := e.failWith
		e.failWith = nil
		return err
	}
	e.candidates = append(e.candidates, entry)
	return nil
}

func (e *recordingExecutor) Describe(level, maxLevel int, sticky bool) {
	e.level, e.maxLevel, e.sticky, e.described = level, maxLevel, sticky, true
}
