package manifest

import (
	"context"
	"errors"
	"fmt"

	"github.com/INLOpen/strata/core"
	"github.com/INLOpen/strata/omap"
)

// Compaction is the immutable candidate set for one compaction: the upper
// input segment and the overlapping segments in the level below, gathered
// up to the fanout. Sticky means a fanout-plus-first overlap existed, so not
// all of the upper entry's lower data is included and the upper entry must
// be retained rather than deleted when the compaction commits.
type Compaction struct {
	Level    int // upper input's level
	MaxLevel int // highest populated level index at selection time
	Sticky   bool
	Upper    Entry
	Lower    []Entry
}

// Inputs returns every input entry, upper first.
func (c *Compaction) Inputs() []Entry {
	return append([]Entry{c.Upper}, c.Lower...)
}

// NextCompaction selects the segments involved in the next compaction and
// hands them to exec, upper input first. Levels are scanned from highest to
// lowest for the first whose entry count exceeds its limit; level 0's limit
// is zero, so any non-empty level 0 qualifies. Within level 0 the oldest
// entry is chosen; within higher levels a per-level resume cursor sweeps the
// key space like a clock hand, wrapping at the end, so repeated compactions
// round-robin through the level.
//
// Returns (nil, nil) when no level is over its limit. exec may be nil to
// select without a handoff.
func (m *Manifest) NextCompaction(ctx context.Context, exec CompactionExecutor) (*Compaction, error) {
	_, span := m.startSpan(ctx, "Manifest.NextCompaction")
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()

	level := -1
	for l := int(m.nrLevels.Load()) - 1; l >= 0; l-- {
		if m.levelCounts[l] > m.levelLimits[l] {
			level = l
			break
		}
	}
	if level < 0 {
		return nil, nil
	}

	upper, err := m.pickUpperLocked(level)
	if err != nil {
		return nil, err
	}
	if upper == nil {
		return nil, nil
	}

	lower, sticky, err := m.gatherLowerLocked(level, *upper)
	if err != nil {
		return nil, err
	}

	// Resume the next sweep of this level just past the chosen entry.
	m.compactCursors[level] = core.NextKey(upper.LastKey)

	c := &Compaction{
		Level:    level,
		MaxLevel: int(m.nrLevels.Load()) - 1,
		Sticky:   sticky,
		Upper:    *upper,
		Lower:    lower,
	}
	if exec != nil {
		for _, e := range c.Inputs() {
			if err := exec.AddCandidate(e); err != nil {
				return nil, fmt.Errorf("hand segment %d to compaction executor: %w", e.SegmentID, err)
			}
		}
		exec.Describe(c.Level, c.MaxLevel, c.Sticky)
	}
	m.metrics.CompactionsSelected.Add(1)
	m.logger.Debug("compaction selected",
		"level", c.Level, "sticky", c.Sticky, "inputs", 1+len(c.Lower))
	return c, nil
}

// pickUpperLocked chooses the upper input at level: the oldest entry for
// level 0, or the first entry at or after the level's cursor, wrapping to
// the level start when the cursor has swept past the last entry. A nil
// entry without error means the level turned out empty.
func (m *Manifest) pickUpperLocked(level int) (*Entry, error) {
	var it omap.Item
	var err error
	if level == 0 {
		it, err = m.omap.Next(encodeSortKey(0, 0, nil))
	} else {
		it, err = m.omap.Next(encodeSortKey(level, 0, m.compactCursors[level]))
		if err == nil {
			var e Entry
			if e, err = DecodeEntry(it.Key, it.Value); err != nil {
				return nil, err
			} else if e.Level != level {
				err = core.ErrNotFound
			}
		}
		if errors.Is(err, core.ErrNotFound) {
			it, err = m.omap.Next(encodeSortKey(level, 0, nil))
		}
	}
	if errors.Is(err, core.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("level %d upper lookup: %w", level, err)
	}

	e, err := DecodeEntry(it.Key, it.Value)
	if err != nil {
		return nil, err
	}
	if e.Level != level {
		// The level's count said it was populated. Nothing mutates the map
		// outside this lock, so a mismatch is an invariant violation.
		return nil, fmt.Errorf("level %d count %d but found entry at level %d: %w",
			level, m.levelCounts[level], e.Level, core.ErrCorrupt)
	}
	return &e, nil
}

// gatherLowerLocked collects the entries in the level below upper whose
// ranges intersect it, stopping at the fanout. Needing a fanout-plus-first
// entry marks the compaction sticky instead of including it.
func (m *Manifest) gatherLowerLocked(level int, upper Entry) ([]Entry, bool, error) {
	if level+1 >= m.maxLevels {
		return nil, false, nil
	}

	var lower []Entry
	it, err := m.prevOverlapOrNext(m.omap, level+1, upper.FirstKey)
	for i := 0; err == nil && i < m.fanout+1; i++ {
		var e Entry
		if e, err = DecodeEntry(it.Key, it.Value); err != nil {
			return nil, false, err
		}
		if e.Level != level+1 || !e.Overlaps(upper.FirstKey, upper.LastKey) {
			break
		}
		if i == m.fanout {
			return lower, true, nil
		}
		lower = append(lower, e)
		it, err = m.omap.After(it.Key)
	}
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return nil, false, fmt.Errorf("level %d overlap walk: %w", level+1, err)
	}
	return lower, false, nil
}

// ApplyCompaction commits one compaction's manifest mutations atomically
// under the exclusive lock: the outputs the executor produced are inserted
// first, then the inputs are deleted — all of them, or only the lower
// entries when the compaction was sticky. A failed insert unwinds cleanly;
// a failed delete after the inserts landed cannot happen under correct
// locking and is surfaced as corruption.
func (m *Manifest) ApplyCompaction(c *Compaction, outputs []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, e := range outputs {
		if err := m.addLocked(e); err != nil {
			for _, u := range outputs[:i] {
				if uerr := m.deleteLocked(u); uerr != nil {
					return fmt.Errorf("unwind of output %s failed: %v: %w", u, uerr, core.ErrCorrupt)
				}
			}
			return err
		}
	}

	inputs := c.Lower
	if !c.Sticky {
		inputs = c.Inputs()
	}
	for _, e := range inputs {
		if err := m.deleteLocked(e); err != nil {
			m.logger.Error("compaction input vanished during commit", "entry", e.String())
			return fmt.Errorf("delete compaction input %s: %v: %w", e, err, core.ErrCorrupt)
		}
	}
	return nil
}
