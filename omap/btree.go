package omap

import (
	"bytes"
	"sync"

	"github.com/google/btree"

	"github.com/INLOpen/strata/core"
)

const treeDegree = 16

func itemLess(a, b Item) bool {
	return bytes.Compare(a.Key, b.Key) < 0
}

// Tree is an in-memory ordered map with cheap immutable snapshots. Every
// mutation bumps the sequence; CurrentRoot clones the tree copy-on-write, so
// a held Root is frozen while the live Tree moves on.
type Tree struct {
	mu  sync.RWMutex
	bt  *btree.BTreeG[Item]
	seq uint64
}

// NewTree creates an empty Tree at sequence 1.
func NewTree() *Tree {
	return &Tree{
		bt:  btree.NewG[Item](treeDegree, itemLess),
		seq: 1,
	}
}

// Insert adds a new pair, failing with core.ErrExists on a duplicate key.
func (t *Tree) Insert(key, value []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.bt.Get(Item{Key: key}); ok {
		return core.ErrExists
	}
	t.bt.ReplaceOrInsert(Item{Key: core.CloneKey(key), Value: core.CloneKey(value)})
	t.seq++
	return nil
}

// Delete removes the pair for key, failing with core.ErrNotFound if absent.
func (t *Tree) Delete(key []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.bt.Delete(Item{Key: key}); !ok {
		return core.ErrNotFound
	}
	t.seq++
	return nil
}

// CurrentRoot returns an immutable snapshot of the current state. It
// implements the root-authority contract consumed by the manifest.
func (t *Tree) CurrentRoot() (Root, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	// Clone is copy-on-write: both trees share nodes until either writes.
	return &treeRoot{bt: t.bt.Clone(), seq: t.seq}, nil
}

func (t *Tree) Next(k []byte) (Item, error)   { return t.view().Next(k) }
func (t *Tree) Prev(k []byte) (Item, error)   { return t.view().Prev(k) }
func (t *Tree) After(k []byte) (Item, error)  { return t.view().After(k) }
func (t *Tree) Before(k []byte) (Item, error) { return t.view().Before(k) }

func (t *Tree) view() *treeRoot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return &treeRoot{bt: t.bt, seq: t.seq}
}

// Len returns the number of live pairs.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.bt.Len()
}

var (
	_ Map  = (*Tree)(nil)
	_ Root = (*treeRoot)(nil)
)

// treeRoot is a frozen snapshot of a Tree.
type treeRoot struct {
	bt  *btree.BTreeG[Item]
	seq uint64
}

func (r *treeRoot) Seq() uint64 { return r.seq }

func (r *treeRoot) Next(k []byte) (Item, error) {
	var found Item
	ok := false
	r.bt.AscendGreaterOrEqual(Item{Key: k}, func(it Item) bool {
		found, ok = it, true
		return false
	})
	if !ok {
		return Item{}, core.ErrNotFound
	}
	return found, nil
}

func (r *treeRoot) Prev(k []byte) (Item, error) {
	var found Item
	ok := false
	r.bt.DescendLessOrEqual(Item{Key: k}, func(it Item) bool {
		found, ok = it, true
		return false
	})
	if !ok {
		return Item{}, core.ErrNotFound
	}
	return found, nil
}

func (r *treeRoot) After(k []byte) (Item, error) {
	var found Item
	ok := false
	r.bt.AscendGreaterOrEqual(Item{Key: k}, func(it Item) bool {
		if bytes.Equal(it.Key, k) {
			return true
		}
		found, ok = it, true
		return false
	})
	if !ok {
		return Item{}, core.ErrNotFound
	}
	return found, nil
}

func (r *treeRoot) Before(k []byte) (Item, error) {
	var found Item
	ok := false
	r.bt.DescendLessOrEqual(Item{Key: k}, func(it Item) bool {
		if bytes.Equal(it.Key, k) {
			return true
		}
		found, ok = it, true
		return false
	})
	if !ok {
		return Item{}, core.ErrNotFound
	}
	return found, nil
}
