package manifest

import (
	"errors"
	"fmt"

	"github.com/INLOpen/strata/core"
	"github.com/INLOpen/strata/omap"
	"github.com/INLOpen/strata/segment"
)

// ref is a resolver-local reference to one segment named by the manifest: a
// point-in-time sample of an entry plus the read state the merge needs. The
// manifest and segments may change while a resolution uses its refs; the
// segment store keeps referenced contents immutable until release.
type ref struct {
	level  int
	segno  uint64
	seq    uint64
	first  []byte
	last   []byte
	handle segment.Handle
	off    int
	// foundCtr marks refs whose current item tied the merge pass's least
	// key, so they advance together.
	foundCtr int
}

func newRef(e Entry) *ref {
	return &ref{
		level: e.Level,
		segno: e.SegmentID,
		seq:   e.Sequence,
		first: core.CloneKey(e.FirstKey),
		last:  core.CloneKey(e.LastKey),
	}
}

// releaseRefs drops every held segment handle. Safe to call repeatedly; runs
// on every exit path of a resolution.
func releaseRefs(refs []*ref) {
	for _, r := range refs {
		if r.handle != nil {
			r.handle.Release()
			r.handle = nil
		}
	}
}

// rangesIntersect reports whether entry range [first,last] intersects the
// search range [start,end], where a nil end is unbounded.
func rangesIntersect(start, end, first, last []byte) bool {
	if core.Compare(last, start) < 0 {
		return false
	}
	return core.CompareToEnd(first, end) <= 0
}

// zeroRefs collects references to every level 0 segment whose range
// intersects [start,end]. The walk runs backward from the top of the level 0
// zone, so refs append in descending sequence order, newest first.
//
// Propagates core.ErrStale from reads through superseded blocks.
func (m *Manifest) zeroRefs(view omap.View, start, end []byte, refs []*ref) ([]*ref, error) {
	it, err := view.Prev(maxLevel0SortKey())
	for err == nil {
		var e Entry
		e, err = DecodeEntry(it.Key, it.Value)
		if err != nil {
			return refs, err
		}
		if e.Level != 0 {
			break
		}
		if rangesIntersect(start, end, e.FirstKey, e.LastKey) {
			refs = append(refs, newRef(e))
		}
		it, err = view.Before(it.Key)
	}
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return refs, fmt.Errorf("level 0 walk: %w", err)
	}
	return refs, nil
}

// nonzeroRefs collects at most one reference per non-zero level: the entry
// containing key, or failing that the nearest entry following it — the key
// may fall in a gap between a level's disjoint ranges. Entries starting
// beyond end cannot corroborate the range and are skipped.
//
// Propagates core.ErrStale from reads through superseded blocks.
func (m *Manifest) nonzeroRefs(view omap.View, key, end []byte, refs []*ref) ([]*ref, error) {
	for level := 1; level < m.NrLevels(); level++ {
		it, err := m.prevOverlapOrNext(view, level, key)
		if errors.Is(err, core.ErrNotFound) {
			continue
		}
		if err != nil {
			return refs, fmt.Errorf("level %d lookup: %w", level, err)
		}
		e, err := DecodeEntry(it.Key, it.Value)
		if err != nil {
			return refs, err
		}
		if e.Level != level || core.CompareToEnd(e.FirstKey, end) > 0 {
			continue
		}
		refs = append(refs, newRef(e))
	}
	return refs, nil
}

// prevOverlapOrNext finds the entry at level whose range covers start: the
// previous entry if it is in the right level and its last key reaches back
// to start, otherwise the next entry after start, untested — the caller
// checks its level and position.
func (m *Manifest) prevOverlapOrNext(view omap.View, level int, start []byte) (omap.Item, error) {
	key := encodeSortKey(level, 0, start)

	it, err := view.Prev(key)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return omap.Item{}, err
	}
	if err == nil {
		e, derr := DecodeEntry(it.Key, it.Value)
		if derr != nil {
			return omap.Item{}, derr
		}
		if e.Level == level && core.Compare(e.LastKey, start) >= 0 {
			return it, nil
		}
	}
	return view.Next(key)
}

// clampRange shrinks [start,end] to the bounds of the collected non-zero
// refs so level 0 lookups are not wasted on ranges no non-zero segment can
// corroborate. It never shrinks past key itself: the key may be outside
// every segment and still wants negative caching.
func clampRange(refs []*ref, key, start, end []byte) (cs, ce []byte) {
	cs, ce = start, end
	for _, r := range refs {
		if core.Compare(r.first, cs) > 0 && core.Compare(r.first, key) <= 0 {
			cs = r.first
		}
		if core.CompareToEnd(r.last, ce) < 0 && core.Compare(r.last, key) >= 0 {
			ce = r.last
		}
	}
	return cs, ce
}
