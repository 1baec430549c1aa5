// Package omap defines the ordered persistent map the manifest stores its
// entries in, and provides an in-memory copy-on-write implementation with
// versioned roots.
package omap

// Item is a single key/value pair stored in the map.
type Item struct {
	Key   []byte
	Value []byte
}

// View is the read surface shared by the live map and by immutable root
// snapshots. Lookups return core.ErrNotFound when no entry qualifies and may
// return core.ErrStale when the view was read through a superseded block.
type View interface {
	// Next returns the first item with key >= k.
	Next(k []byte) (Item, error)
	// Prev returns the last item with key <= k.
	Prev(k []byte) (Item, error)
	// After returns the first item with key strictly greater than k.
	After(k []byte) (Item, error)
	// Before returns the last item with key strictly less than k.
	Before(k []byte) (Item, error)
}

// Map is the live, mutable ordered map. Mutations are serialized by the
// caller (the manifest's exclusive lock).
type Map interface {
	View
	// Insert adds a new pair. It returns core.ErrExists if the key is
	// already present and core.ErrNoSpace when storage cannot be allocated.
	Insert(key, value []byte) error
	// Delete removes the pair for key, returning core.ErrNotFound if absent.
	Delete(key []byte) error
}

// Root is an immutable snapshot of the map's state, identified by a
// freshness sequence. Readers resolve against a Root so that concurrent
// mutation cannot tear their view.
type Root interface {
	View
	// Seq is the freshness witness: it changes whenever the underlying map
	// has been mutated since the snapshot was taken.
	Seq() uint64
}
