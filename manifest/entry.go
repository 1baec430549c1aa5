// Package manifest implements the leveled manifest at the heart of the
// storage tiering: an index mapping levels and key ranges to immutable
// segments, the merged read-resolution path over those segments, and the
// compaction candidate selector that bounds read amplification.
//
// Entries live in an ordered persistent map (package omap). Level 0 entries
// hold unmerged recent writes and may overlap arbitrarily; their sort order
// is by sequence so the most recent write is found first. Entries at level 1
// and above hold disjoint ranges and sort by first key so they are
// searchable by key.
package manifest

import (
	"fmt"

	"github.com/INLOpen/strata/core"
)

// MaxLevel is the highest level number the entry encoding can represent.
const MaxLevel = 255

// Entry describes one segment's place in the manifest: its level, identity,
// recency, and the inclusive key range it holds. Entries are immutable once
// written; a logical update is delete-old plus insert-new.
type Entry struct {
	Level     int
	SegmentID uint64
	Sequence  uint64
	FirstKey  []byte
	LastKey   []byte
}

// Validate checks the fields an entry must have before it can be encoded.
func (e Entry) Validate() error {
	if e.Level < 0 || e.Level > MaxLevel {
		return fmt.Errorf("entry level %d out of range [0,%d]", e.Level, MaxLevel)
	}
	if e.FirstKey == nil || e.LastKey == nil {
		return fmt.Errorf("entry for segment %d has nil range keys", e.SegmentID)
	}
	if len(e.FirstKey) > maxKeyLen || len(e.LastKey) > maxKeyLen {
		return fmt.Errorf("entry for segment %d has oversized range keys (%d/%d bytes)",
			e.SegmentID, len(e.FirstKey), len(e.LastKey))
	}
	if core.Compare(e.FirstKey, e.LastKey) > 0 {
		return fmt.Errorf("entry for segment %d has inverted range %q > %q",
			e.SegmentID, e.FirstKey, e.LastKey)
	}
	return nil
}

// Overlaps reports whether the entry's range intersects [first,last].
func (e Entry) Overlaps(first, last []byte) bool {
	return core.CompareRanges(first, last, e.FirstKey, e.LastKey) == 0
}

func (e Entry) String() string {
	return fmt.Sprintf("{level %d seg %d seq %d [%q,%q]}",
		e.Level, e.SegmentID, e.Sequence, e.FirstKey, e.LastKey)
}
