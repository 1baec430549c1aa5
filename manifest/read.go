package manifest

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/INLOpen/strata/core"
	"github.com/INLOpen/strata/omap"
	"github.com/INLOpen/strata/segment"
)

// TriggerHardStale forces the persistent-corruption branch of the stale-root
// protocol, for testing.
const TriggerHardStale = "manifest_hard_stale"

// errRootChanged is the internal retry signal: the attempt saw a stale block
// but the root has moved, so a fresh resolution may succeed.
var errRootChanged = errors.New("manifest root changed")

// ReadItems resolves a hole in the item cache. The caller missed key and may
// trust items within [start,end] (they hold a lock on that range); the
// resolution reads every segment that can speak for the range, merges their
// items by recency, and publishes a batch plus the range it covers.
//
// On success the cache gained a range that starts at the clamped range start
// and, absent backpressure, reaches the search key or beyond — enough for
// the caller to resolve key from the cache on retry. On failure the cache is
// unchanged.
func (m *Manifest) ReadItems(ctx context.Context, key, start, end []byte) error {
	ctx, span := m.startSpan(ctx, "Manifest.ReadItems")
	defer span.End()

	return m.withFreshRoots(ctx, func(ctx context.Context, root omap.Root) error {
		return m.readItemsOnce(ctx, root, key, start, end)
	})
}

// withFreshRoots runs one resolution attempt per fetched root, retrying on
// transient staleness per the stale-root protocol: staleness with a changed
// root sequence retries; staleness repeating against an unchanged sequence
// is persistent corruption.
func (m *Manifest) withFreshRoots(ctx context.Context, attempt func(context.Context, omap.Root) error) error {
	var lastSeq uint64
	for tries := 1; ; tries++ {
		root, err := m.roots.CurrentRoot()
		if err != nil {
			return fmt.Errorf("fetch manifest root: %w", err)
		}
		err = m.resolveStale(root, lastSeq, attempt(ctx, root))
		if !errors.Is(err, errRootChanged) {
			return err
		}
		if tries >= m.maxRootRetries {
			return fmt.Errorf("resolution retried %d times against changing roots: %w",
				tries, core.ErrTooStale)
		}
		m.metrics.StaleRetries.Add(1)
		lastSeq = root.Seq()
	}
}

// resolveStale classifies the outcome of one attempt. lastSeq is the
// sequence of the previous attempt's root, zero on the first attempt; root
// sequences are never zero once the map exists, so a first staleness always
// earns a retry.
func (m *Manifest) resolveStale(root omap.Root, lastSeq uint64, err error) error {
	forced := m.faults.IsForced(TriggerHardStale)
	if errors.Is(err, core.ErrStale) || forced {
		if lastSeq != root.Seq() && !forced {
			return errRootChanged
		}
		m.metrics.HardStaleErrors.Add(1)
		m.logger.Error("stale read repeated against unchanged manifest root",
			"root_seq", root.Seq())
		return fmt.Errorf("stale read repeated at root seq %d: %w", root.Seq(), core.ErrCorrupt)
	}
	return err
}

func (m *Manifest) readItemsOnce(ctx context.Context, root omap.Root, key, start, end []byte) (err error) {
	var refs []*ref
	defer func() { releaseRefs(refs) }()

	// Non-zero segments that can speak for the missed key, then clamp the
	// range to their bounds before collecting overlapping level 0 segments.
	refs, err = m.nonzeroRefs(root, key, end, refs)
	if err != nil {
		return err
	}
	cs, ce := clampRange(refs, key, start, end)
	refs, err = m.zeroRefs(root, cs, ce, refs)
	if err != nil {
		return err
	}

	if err := m.submitAndWait(ctx, refs); err != nil {
		return err
	}

	sortByRecency(refs)
	for _, r := range refs {
		r.off = r.handle.FindOffset(cs)
	}

	batch, batchEnd, err := m.mergeItems(refs, ce)
	if err != nil {
		return err
	}

	if core.Compare(key, batchEnd) > 0 {
		m.metrics.ReadExcludedKey.Add(1)
	}
	if err := m.cache.InsertBatch(batch, cs, batchEnd); err != nil {
		return fmt.Errorf("publish batch of %d items: %w", len(batch), err)
	}
	return nil
}

// submitAndWait starts reads for every referenced segment and waits for all
// of them. Submission goes in segment order to issue advancing reads; a
// single failure aborts the resolution with that segment's error.
func (m *Manifest) submitAndWait(ctx context.Context, refs []*ref) error {
	sort.Slice(refs, func(i, j int) bool { return refs[i].segno < refs[j].segno })

	for _, r := range refs {
		h, err := m.segments.SubmitRead(r.segno)
		if err != nil {
			return fmt.Errorf("submit read of segment %d: %w", r.segno, err)
		}
		r.handle = h
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, r := range refs {
		r := r
		g.Go(func() error {
			if err := m.segments.Wait(ctx, r.handle, r.segno, r.seq); err != nil {
				return fmt.Errorf("read segment %d: %w", r.segno, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// sortByRecency orders refs from most to least recent item contents: lowest
// level first, and within level 0 by descending sequence.
func sortByRecency(refs []*ref) {
	sort.SliceStable(refs, func(i, j int) bool {
		a, b := refs[i], refs[j]
		if a.level == 0 && b.level == 0 {
			return a.seq > b.seq
		}
		return a.level < b.level
	})
}

// mergeItems walks all segments from their current offsets and produces the
// recency-merged batch for the clamped range ending at ce. refs must be in
// recency order. Deletion items are skipped but still consume their key so
// no staler duplicate is considered, and they still extend the covered
// range. The returned batchEnd is the inclusive end of the range the batch
// is authoritative for.
func (m *Manifest) mergeItems(refs []*ref, ce []byte) ([]core.Item, []byte, error) {
	batch := []core.Item{}
	var batchEnd []byte
	foundCtr := 0
	added := false

	for {
		found := false
		var foundItem segment.Item
		foundCtr++

		// Find the least key across the segments. The first ref in recency
		// order wins ties; tied refs are marked to advance unused.
		for _, r := range refs {
			if r.off < 0 {
				continue
			}
			it, ok := r.handle.ItemAt(r.off)
			if !ok || core.CompareToEnd(it.Key, ce) > 0 {
				r.off = -1
				continue
			}
			if found {
				cmp := core.Compare(it.Key, foundItem.Key)
				if cmp >= 0 {
					if cmp == 0 {
						r.foundCtr = foundCtr
					}
					continue
				}
			}
			foundItem = it
			foundCtr++
			r.foundCtr = foundCtr
			found = true
		}

		// Ran out of keys: the batch speaks for everything up to the
		// clamped end, enabling negative caching of the empty tail.
		if !found {
			batchEnd = core.CloneKey(ce)
			break
		}

		if foundItem.Flags&segment.FlagDeletion == 0 {
			if len(batch) >= m.maxBatchItems {
				// Downstream backpressure. With items already batched this
				// is a successful partial result ending at the last
				// processed key; with none, the resolution failed outright.
				if added {
					break
				}
				return nil, nil, fmt.Errorf("batch limit %d hit before any item: %w",
					m.maxBatchItems, core.ErrNoSpace)
			}
			batch = append(batch, core.Item{
				Key:   core.CloneKey(foundItem.Key),
				Value: core.CloneKey(foundItem.Value),
			})
			added = true
		}

		// The last processed key bounds the batch, whether it was inserted
		// or consumed as a deletion.
		batchEnd = core.CloneKey(foundItem.Key)

		if core.CompareToEnd(foundItem.Key, ce) == 0 {
			break
		}
		for _, r := range refs {
			if r.foundCtr == foundCtr {
				r.off = r.handle.NextOffset(r.off)
			}
		}
	}
	return batch, batchEnd, nil
}

// NextKey hints at the next key a caller will find after key: the smallest
// item at or after it in any intersecting segment, or the nearest non-zero
// segment limit when the segments show no item. The hint may name a deleted
// item or stop short at a segment boundary; callers iterate with it, they do
// not trust it blindly. Returns core.ErrNotFound when key is past every
// segment in the manifest.
func (m *Manifest) NextKey(ctx context.Context, key []byte) ([]byte, error) {
	ctx, span := m.startSpan(ctx, "Manifest.NextKey")
	defer span.End()

	var next []byte
	err := m.withFreshRoots(ctx, func(ctx context.Context, root omap.Root) error {
		var err error
		next, err = m.nextKeyOnce(ctx, root, key)
		return err
	})
	return next, err
}

func (m *Manifest) nextKeyOnce(ctx context.Context, root omap.Root, key []byte) (_ []byte, err error) {
	var refs []*ref
	defer func() { releaseRefs(refs) }()

	refs, err = m.zeroRefs(root, key, nil, refs)
	if err != nil {
		return nil, err
	}
	refs, err = m.nonzeroRefs(root, key, nil, refs)
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, core.ErrNotFound
	}

	if err := m.submitAndWait(ctx, refs); err != nil {
		return nil, err
	}

	// Default to the nearest non-zero segment limit, then let any nearer
	// item in the segments win.
	var next []byte
	found := false
	for _, r := range refs {
		if r.level > 0 && (!found || core.Compare(r.last, next) < 0) {
			next = r.last
			found = true
		}
		r.off = r.handle.FindOffset(key)
	}
	for _, r := range refs {
		if r.off < 0 {
			continue
		}
		it, ok := r.handle.ItemAt(r.off)
		if !ok {
			continue
		}
		if !found || core.Compare(it.Key, next) < 0 {
			next = it.Key
			found = true
		}
	}
	if !found {
		return nil, core.ErrNotFound
	}
	return core.CloneKey(next), nil
}
