package core

// Item is a single key/value pair produced by read resolution and handed to
// the item cache. Deletion markers never appear in Items; they are filtered
// during the merge.
type Item struct {
	Key   []byte
	Value []byte
}
