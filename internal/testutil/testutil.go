// Package testutil holds shared fakes for exercising the manifest core:
// stale-injecting root authorities, a capturing item cache, and a segment
// store with controllable failures.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/INLOpen/strata/core"
	"github.com/INLOpen/strata/omap"
	"github.com/INLOpen/strata/segment"
)

// RootAuthority mirrors the manifest's root-authority contract without
// importing it, so manifest-internal tests can use these fakes.
type RootAuthority interface {
	CurrentRoot() (omap.Root, error)
}

// StaleAuthority wraps a RootAuthority so that the first StaleReads map
// lookups performed through its roots report core.ErrStale, as reads
// through superseded blocks would.
type StaleAuthority struct {
	Inner  RootAuthority
	budget atomic.Int64
}

// NewStaleAuthority injects staleness into the next staleReads lookups.
func NewStaleAuthority(inner RootAuthority, staleReads int) *StaleAuthority {
	a := &StaleAuthority{Inner: inner}
	a.budget.Store(int64(staleReads))
	return a
}

func (a *StaleAuthority) CurrentRoot() (omap.Root, error) {
	root, err := a.Inner.CurrentRoot()
	if err != nil {
		return nil, err
	}
	return &staleRoot{Root: root, budget: &a.budget}, nil
}

type staleRoot struct {
	omap.Root
	budget *atomic.Int64
}

func (r *staleRoot) stale() bool {
	return r.budget.Add(-1) >= 0
}

func (r *staleRoot) Next(k []byte) (omap.Item, error) {
	if r.stale() {
		return omap.Item{}, fmt.Errorf("read through superseded block: %w", core.ErrStale)
	}
	return r.Root.Next(k)
}

func (r *staleRoot) Prev(k []byte) (omap.Item, error) {
	if r.stale() {
		return omap.Item{}, fmt.Errorf("read through superseded block: %w", core.ErrStale)
	}
	return r.Root.Prev(k)
}

func (r *staleRoot) After(k []byte) (omap.Item, error) {
	if r.stale() {
		return omap.Item{}, fmt.Errorf("read through superseded block: %w", core.ErrStale)
	}
	return r.Root.After(k)
}

func (r *staleRoot) Before(k []byte) (omap.Item, error) {
	if r.stale() {
		return omap.Item{}, fmt.Errorf("read through superseded block: %w", core.ErrStale)
	}
	return r.Root.Before(k)
}

// CapturedBatch is one InsertBatch call observed by a CaptureCache.
type CapturedBatch struct {
	Items []core.Item
	Start []byte
	End   []byte
}

// CaptureCache records every published batch and can inject a failure.
type CaptureCache struct {
	mu       sync.Mutex
	Batches  []CapturedBatch
	FailWith error // returned (once) by the next InsertBatch when set
}

func (c *CaptureCache) InsertBatch(items []core.Item, start, end []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailWith != nil {
		err := c.FailWith
		c.FailWith = nil
		return err
	}
	c.Batches = append(c.Batches, CapturedBatch{
		Items: append([]core.Item(nil), items...),
		Start: core.CloneKey(start),
		End:   core.CloneKey(end),
	})
	return nil
}

// Last returns the most recently captured batch.
func (c *CaptureCache) Last() CapturedBatch {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Batches[len(c.Batches)-1]
}

// Len returns the number of captured batches.
func (c *CaptureCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Batches)
}

// FlakyStore delegates to Inner but fails Wait for one segment.
type FlakyStore struct {
	Inner     segment.Store
	FailSegno uint64
	Err       error
}

func (s *FlakyStore) SubmitRead(segno uint64) (segment.Handle, error) {
	return s.Inner.SubmitRead(segno)
}

func (s *FlakyStore) Wait(ctx context.Context, h segment.Handle, segno, seq uint64) error {
	if segno == s.FailSegno {
		return s.Err
	}
	return s.Inner.Wait(ctx, h, segno, seq)
}
