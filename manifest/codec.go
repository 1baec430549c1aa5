package manifest

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/INLOpen/strata/core"
)

// Entry encoding in the ordered map.
//
// Sort key: one level byte, then a level-dependent tail. Level 0 embeds the
// sequence big-endian so entries sort by recency (their ranges overlap and
// cannot be ordered by key). Levels >= 1 embed the first key, so entries
// sort by range start. Either way the level byte keeps levels in separate
// zones of the map.
//
// Value: segment id and sequence (little-endian u64), the two key lengths
// (little-endian u16), then the keys the sort key does not already carry:
// both keys for level 0, only the last key for levels >= 1, whose first key
// is reconstructed from the sort key on decode.

const (
	maxKeyLen      = math.MaxUint16
	valueHeaderLen = 8 + 8 + 2 + 2
)

// EncodeEntry converts an entry to its ordered-map key/value pair.
func EncodeEntry(e Entry) (sortKey, value []byte, err error) {
	if err := e.Validate(); err != nil {
		return nil, nil, err
	}
	sortKey = encodeSortKey(e.Level, e.Sequence, e.FirstKey)

	n := valueHeaderLen + len(e.LastKey)
	if e.Level == 0 {
		n += len(e.FirstKey)
	}
	value = make([]byte, 0, n)
	value = binary.LittleEndian.AppendUint64(value, e.SegmentID)
	value = binary.LittleEndian.AppendUint64(value, e.Sequence)
	value = binary.LittleEndian.AppendUint16(value, uint16(len(e.FirstKey)))
	value = binary.LittleEndian.AppendUint16(value, uint16(len(e.LastKey)))
	if e.Level == 0 {
		value = append(value, e.FirstKey...)
	}
	value = append(value, e.LastKey...)
	return sortKey, value, nil
}

// DecodeEntry reconstructs an entry from its ordered-map pair. Malformed
// pairs are corruption: the map only ever holds what EncodeEntry produced.
func DecodeEntry(sortKey, value []byte) (Entry, error) {
	if len(sortKey) < 1 || len(value) < valueHeaderLen {
		return Entry{}, fmt.Errorf("manifest entry truncated (key %d, value %d bytes): %w",
			len(sortKey), len(value), core.ErrCorrupt)
	}
	e := Entry{
		Level:     int(sortKey[0]),
		SegmentID: binary.LittleEndian.Uint64(value[0:8]),
		Sequence:  binary.LittleEndian.Uint64(value[8:16]),
	}
	firstLen := int(binary.LittleEndian.Uint16(value[16:18]))
	lastLen := int(binary.LittleEndian.Uint16(value[18:20]))
	body := value[valueHeaderLen:]

	if e.Level == 0 {
		if len(sortKey) != 1+8 || len(body) != firstLen+lastLen {
			return Entry{}, fmt.Errorf("level 0 entry for segment %d malformed: %w",
				e.SegmentID, core.ErrCorrupt)
		}
		if seq := binary.BigEndian.Uint64(sortKey[1:]); seq != e.Sequence {
			return Entry{}, fmt.Errorf("level 0 entry for segment %d: sort seq %d != value seq %d: %w",
				e.SegmentID, seq, e.Sequence, core.ErrCorrupt)
		}
		e.FirstKey = core.CloneKey(body[:firstLen])
		e.LastKey = core.CloneKey(body[firstLen:])
	} else {
		if len(sortKey)-1 != firstLen || len(body) != lastLen {
			return Entry{}, fmt.Errorf("level %d entry for segment %d malformed: %w",
				e.Level, e.SegmentID, core.ErrCorrupt)
		}
		e.FirstKey = core.CloneKey(sortKey[1:])
		e.LastKey = core.CloneKey(body)
	}
	return e, nil
}

// encodeSortKey builds a search or storage key for the given level. For
// level 0 the tail is the big-endian sequence; otherwise it is first, which
// may be empty to address the start of the level's zone.
func encodeSortKey(level int, seq uint64, first []byte) []byte {
	if level == 0 {
		k := make([]byte, 1+8)
		k[0] = 0
		binary.BigEndian.PutUint64(k[1:], seq)
		return k
	}
	k := make([]byte, 0, 1+len(first))
	k = append(k, byte(level))
	return append(k, first...)
}

// maxLevel0SortKey addresses the upper end of the level 0 zone; walking
// backward from it visits level 0 entries in descending sequence order.
func maxLevel0SortKey() []byte {
	return encodeSortKey(0, math.MaxUint64, nil)
}
