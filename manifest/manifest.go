package manifest

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"

	"github.com/INLOpen/strata/cache"
	"github.com/INLOpen/strata/core"
	"github.com/INLOpen/strata/faultpoint"
	"github.com/INLOpen/strata/omap"
	"github.com/INLOpen/strata/segment"
)

const (
	defaultFanout         = 10
	defaultMaxLevels      = 8
	defaultMaxRootRetries = 8
	defaultMaxBatchItems  = 4096
)

// Options configures a Manifest. Map, Roots, Segments and Cache are
// required; zero tuning fields fall back to defaults.
type Options struct {
	// Fanout is the per-level capacity multiplier and the compaction
	// grouping width.
	Fanout int
	// MaxLevels bounds the number of levels.
	MaxLevels int
	// MaxRootRetries caps fresh-root retries during read resolution.
	MaxRootRetries int
	// MaxBatchItems bounds one resolution's output batch; a full batch is
	// treated as downstream backpressure.
	MaxBatchItems int

	Map      omap.Map
	Roots    RootAuthority
	Segments segment.Store
	Cache    cache.Interface
	Faults   *faultpoint.Set
	Logger   *slog.Logger
	Tracer   trace.Tracer
}

// Manifest is the leveled index over immutable segments for one filesystem
// instance. All mutation of the ordered map and the level counts happens
// under the exclusive lock; read resolution works against externally
// obtained root snapshots and never takes it.
type Manifest struct {
	mu sync.RWMutex

	omap     omap.Map
	roots    RootAuthority
	segments segment.Store
	cache    cache.Interface
	faults   *faultpoint.Set
	logger   *slog.Logger
	tracer   trace.Tracer

	fanout         int
	maxLevels      int
	maxRootRetries int
	maxBatchItems  int

	// levelCounts and compactCursors are guarded by mu. levelLimits is
	// computed at open and const thereafter.
	levelCounts    []uint64
	levelLimits    []uint64
	compactCursors [][]byte

	// nrLevels and level0Full are written under mu but readable without it:
	// the bit is advisory, callers re-check under the lock before blocking.
	nrLevels   atomic.Int32
	level0Full atomic.Bool

	metrics Metrics
	closed  bool
}

// Open creates a Manifest from its persisted per-level entry counts, as
// recorded at last unmount. Limits grow exponentially: limit[0] is 0 so a
// non-empty level 0 is always compaction-eligible, limit[1] is the fanout,
// and each further level multiplies by the fanout again.
func Open(opts Options, persistedCounts []uint64) (*Manifest, error) {
	if opts.Map == nil || opts.Roots == nil || opts.Segments == nil || opts.Cache == nil {
		return nil, fmt.Errorf("manifest requires Map, Roots, Segments and Cache collaborators")
	}
	if opts.Fanout == 0 {
		opts.Fanout = defaultFanout
	}
	if opts.MaxLevels == 0 {
		opts.MaxLevels = defaultMaxLevels
	}
	if opts.MaxRootRetries == 0 {
		opts.MaxRootRetries = defaultMaxRootRetries
	}
	if opts.MaxBatchItems == 0 {
		opts.MaxBatchItems = defaultMaxBatchItems
	}
	if opts.Fanout < 2 {
		return nil, fmt.Errorf("fanout must be at least 2, got %d", opts.Fanout)
	}
	if opts.MaxLevels < 2 || opts.MaxLevels > MaxLevel+1 {
		return nil, fmt.Errorf("max levels must be in [2,%d], got %d", MaxLevel+1, opts.MaxLevels)
	}
	if len(persistedCounts) > opts.MaxLevels {
		return nil, fmt.Errorf("persisted counts span %d levels, max is %d",
			len(persistedCounts), opts.MaxLevels)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	m := &Manifest{
		omap:           opts.Map,
		roots:          opts.Roots,
		segments:       opts.Segments,
		cache:          opts.Cache,
		faults:         opts.Faults,
		logger:         logger.With("component", "manifest"),
		tracer:         opts.Tracer,
		fanout:         opts.Fanout,
		maxLevels:      opts.MaxLevels,
		maxRootRetries: opts.MaxRootRetries,
		maxBatchItems:  opts.MaxBatchItems,
		levelCounts:    make([]uint64, opts.MaxLevels),
		levelLimits:    make([]uint64, opts.MaxLevels),
		compactCursors: make([][]byte, opts.MaxLevels),
	}
	copy(m.levelCounts, persistedCounts)

	m.levelLimits[0] = 0
	m.levelLimits[1] = uint64(opts.Fanout)
	for i := 2; i < opts.MaxLevels; i++ {
		m.levelLimits[i] = m.levelLimits[i-1] * uint64(opts.Fanout)
	}
	for i := range m.compactCursors {
		m.compactCursors[i] = []byte{}
	}
	for i := len(m.levelCounts) - 1; i >= 0; i-- {
		if m.levelCounts[i] > 0 {
			m.nrLevels.Store(int32(i + 1))
			break
		}
	}
	m.level0Full.Store(m.levelCounts[0] > 0)

	m.logger.Info("manifest opened",
		"fanout", m.fanout, "max_levels", m.maxLevels, "nr_levels", m.nrLevels.Load())
	return m, nil
}

// Close shuts the manifest down. Entries stay in the ordered map; the
// caller persists the level counts alongside it.
func (m *Manifest) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("manifest already closed")
	}
	m.closed = true
	return nil
}

// Add inserts a new manifest entry and bumps its level's count. The level
// state is untouched when the map insert fails.
func (m *Manifest) Add(e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addLocked(e)
}

func (m *Manifest) addLocked(e Entry) error {
	if e.Level >= m.maxLevels {
		return fmt.Errorf("entry level %d beyond max %d", e.Level, m.maxLevels-1)
	}
	sortKey, value, err := EncodeEntry(e)
	if err != nil {
		return err
	}
	if err := m.omap.Insert(sortKey, value); err != nil {
		return fmt.Errorf("insert manifest entry %s: %w", e, err)
	}
	m.addLevelCountLocked(e.Level, 1)
	return nil
}

// Delete removes a manifest entry and drops its level's count.
func (m *Manifest) Delete(e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(e)
}

func (m *Manifest) deleteLocked(e Entry) error {
	sortKey, _, err := EncodeEntry(e)
	if err != nil {
		return err
	}
	if err := m.omap.Delete(sortKey); err != nil {
		return fmt.Errorf("delete manifest entry %s: %w", e, err)
	}
	m.addLevelCountLocked(e.Level, -1)
	return nil
}

func (m *Manifest) addLevelCountLocked(level, delta int) {
	if delta < 0 {
		m.levelCounts[level] -= uint64(-delta)
	} else {
		m.levelCounts[level] += uint64(delta)
	}
	if level == 0 {
		m.level0Full.Store(m.levelCounts[0] > 0)
	}
	if delta > 0 && int32(level+1) > m.nrLevels.Load() {
		m.nrLevels.Store(int32(level + 1))
	}
}

// Level0Full reports whether level 0 holds any segments, without taking the
// lock. It is safe as a wait condition because it never blocks, but it is
// advisory: writers deciding to sleep on it must re-check under the
// exclusive lock to avoid missed wakeups.
func (m *Manifest) Level0Full() bool {
	return m.level0Full.Load()
}

// LevelCount returns the number of live entries at level.
func (m *Manifest) LevelCount(level int) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if level < 0 || level >= m.maxLevels {
		return 0
	}
	return m.levelCounts[level]
}

// NrLevels returns the number of populated levels (highest populated + 1).
func (m *Manifest) NrLevels() int {
	return int(m.nrLevels.Load())
}

// Fanout returns the configured per-level multiplier.
func (m *Manifest) Fanout() int {
	return m.fanout
}

// Metrics exposes the manifest's counters.
func (m *Manifest) Metrics() *Metrics {
	return &m.metrics
}

// VerifyConsistency walks every non-zero level in view and reports ordering
// or overlap violations of the disjoint-range invariant.
func (m *Manifest) VerifyConsistency(view omap.View) []error {
	var errs []error
	for level := 1; level < m.NrLevels(); level++ {
		var prev *Entry
		key := encodeSortKey(level, 0, nil)
		for {
			it, err := view.Next(key)
			if errors.Is(err, core.ErrNotFound) {
				break
			}
			if err != nil {
				errs = append(errs, fmt.Errorf("level %d walk: %w", level, err))
				break
			}
			e, err := DecodeEntry(it.Key, it.Value)
			if err != nil {
				errs = append(errs, err)
				break
			}
			if e.Level != level {
				break
			}
			if err := e.Validate(); err != nil {
				errs = append(errs, err)
			}
			if prev != nil && core.CompareRanges(prev.FirstKey, prev.LastKey, e.FirstKey, e.LastKey) == 0 {
				errs = append(errs, fmt.Errorf("level %d: segment %d range overlaps segment %d",
					level, prev.SegmentID, e.SegmentID))
			}
			prev = &e
			key = core.NextKey(it.Key)
		}
	}
	return errs
}
