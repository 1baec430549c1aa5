// Package segment defines the contract the manifest needs from the segment
// store: asynchronous reads of immutable, sorted segments and offset-based
// iteration over their items. The physical segment format is out of scope;
// MemStore provides an in-memory reference implementation.
package segment

import "context"

// Flags annotate a segment item.
type Flags uint8

const (
	// FlagDeletion marks a deletion item: the key shadows any staler value
	// but must never be surfaced to readers.
	FlagDeletion Flags = 1 << 0
)

// Item is one key/value record inside a segment.
type Item struct {
	Key   []byte
	Value []byte
	Flags Flags
}

// Handle is an open reference to one immutable segment's contents. A held
// handle keeps the segment's storage available even if the segment is
// concurrently superseded in the manifest; Release must be called on every
// exit path.
type Handle interface {
	// FindOffset returns the offset of the first item with key >= k, or a
	// negative offset when no such item exists.
	FindOffset(k []byte) int

	// ItemAt returns the item at off. ok is false past the end.
	// The returned slices stay valid until Release.
	ItemAt(off int) (it Item, ok bool)

	// NextOffset advances past off, returning a negative offset at the end.
	NextOffset(off int) int

	// Release drops the reference. The handle must not be used afterwards.
	Release()
}

// Store supplies segment contents. Reads are two-phase: SubmitRead starts
// the I/O and returns immediately; Wait blocks until the read completes and
// validates that the loaded segment matches the expected identity.
type Store interface {
	SubmitRead(segno uint64) (Handle, error)
	Wait(ctx context.Context, h Handle, segno, seq uint64) error
}
