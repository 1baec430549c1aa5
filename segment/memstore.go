package segment

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/golang/snappy"

	"github.com/INLOpen/strata/core"
)

// MemStore is an in-memory Store. Segment payloads are kept as a single
// snappy-compressed block and decoded on read, so the submit/wait split does
// real deferred work. Segments are reference counted: Remove only reclaims
// the payload once the last reader releases its handle.
type MemStore struct {
	mu       sync.Mutex
	segments map[uint64]*memSegment
	compress bool
	logger   *slog.Logger
}

// MemStoreOptions configures a MemStore.
type MemStoreOptions struct {
	// Compress controls whether payloads are snappy-compressed at rest.
	Compress bool
	Logger   *slog.Logger
}

// NewMemStore creates an empty MemStore.
func NewMemStore(opts MemStoreOptions) *MemStore {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &MemStore{
		segments: make(map[uint64]*memSegment),
		compress: opts.Compress,
		logger:   logger.With("component", "segment.MemStore"),
	}
}

type memSegment struct {
	segno   uint64
	seq     uint64
	block   []byte // encoded items, possibly snappy-compressed
	refs    int
	removed bool
}

// Put stores a segment's items. Items must already be sorted by key.
func (s *MemStore) Put(segno, seq uint64, items []Item) error {
	for i := 1; i < len(items); i++ {
		if bytes.Compare(items[i-1].Key, items[i].Key) >= 0 {
			return fmt.Errorf("segment %d: items not strictly sorted at index %d", segno, i)
		}
	}
	block, err := encodeBlock(items)
	if err != nil {
		return err
	}
	if s.compress {
		block = snappy.Encode(nil, block)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.segments[segno]; ok {
		return fmt.Errorf("segment %d: %w", segno, core.ErrExists)
	}
	s.segments[segno] = &memSegment{segno: segno, seq: seq, block: block}
	return nil
}

// Remove marks a segment logically deleted. Its payload stays readable for
// handles acquired before the removal and is reclaimed on the last release.
func (s *MemStore) Remove(segno uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	seg, ok := s.segments[segno]
	if !ok {
		return fmt.Errorf("segment %d: %w", segno, core.ErrNotFound)
	}
	seg.removed = true
	if seg.refs == 0 {
		delete(s.segments, segno)
	}
	return nil
}

// SubmitRead acquires a reference and starts decoding the segment block.
func (s *MemStore) SubmitRead(segno uint64) (Handle, error) {
	s.mu.Lock()
	seg, ok := s.segments[segno]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("segment %d: %w", segno, core.ErrNotFound)
	}
	seg.refs++
	s.mu.Unlock()

	h := &memHandle{store: s, seg: seg, done: make(chan struct{})}
	go h.decode(s.compress)
	return h, nil
}

// Wait blocks until the handle's read completes and validates identity.
func (s *MemStore) Wait(ctx context.Context, h Handle, segno, seq uint64) error {
	mh, ok := h.(*memHandle)
	if !ok {
		return fmt.Errorf("foreign handle passed to MemStore.Wait")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-mh.done:
	}
	if mh.err != nil {
		return mh.err
	}
	if mh.seg.segno != segno || mh.seg.seq != seq {
		return fmt.Errorf("segment %d seq %d: loaded %d seq %d: %w",
			segno, seq, mh.seg.segno, mh.seg.seq, core.ErrCorrupt)
	}
	return nil
}

func (s *MemStore) release(seg *memSegment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seg.refs--
	if seg.refs == 0 && seg.removed {
		delete(s.segments, seg.segno)
		s.logger.Debug("reclaimed removed segment", "segno", seg.segno)
	}
}

// Len returns the number of live (not fully reclaimed) segments.
func (s *MemStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.segments)
}

var _ Store = (*MemStore)(nil)

type memHandle struct {
	store    *MemStore
	seg      *memSegment
	items    []Item
	err      error
	done     chan struct{}
	released bool
}

func (h *memHandle) decode(compressed bool) {
	defer close(h.done)
	block := h.seg.block
	if compressed {
		var err error
		block, err = snappy.Decode(nil, block)
		if err != nil {
			h.err = fmt.Errorf("segment %d: decompress: %w", h.seg.segno, err)
			return
		}
	}
	h.items, h.err = decodeBlock(block)
	if h.err != nil {
		h.err = fmt.Errorf("segment %d: %w", h.seg.segno, h.err)
	}
}

func (h *memHandle) FindOffset(k []byte) int {
	off := sort.Search(len(h.items), func(i int) bool {
		return bytes.Compare(h.items[i].Key, k) >= 0
	})
	if off == len(h.items) {
		return -1
	}
	return off
}

func (h *memHandle) ItemAt(off int) (Item, bool) {
	if off < 0 || off >= len(h.items) {
		return Item{}, false
	}
	return h.items[off], true
}

func (h *memHandle) NextOffset(off int) int {
	if off < 0 || off+1 >= len(h.items) {
		return -1
	}
	return off + 1
}

func (h *memHandle) Release() {
	if h.released {
		return
	}
	h.released = true
	h.store.release(h.seg)
}

func encodeBlock(items []Item) ([]byte, error) {
	var buf bytes.Buffer
	for _, it := range items {
		if len(it.Key) > int(^uint16(0)) {
			return nil, fmt.Errorf("key too long (%d bytes)", len(it.Key))
		}
		if err := binary.Write(&buf, binary.LittleEndian, uint8(it.Flags)); err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, binary.LittleEndian, uint16(len(it.Key))); err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, binary.LittleEndian, uint32(len(it.Value))); err != nil {
			return nil, err
		}
		buf.Write(it.Key)
		buf.Write(it.Value)
	}
	return buf.Bytes(), nil
}

func decodeBlock(block []byte) ([]Item, error) {
	var items []Item
	r := bytes.NewReader(block)
	for r.Len() > 0 {
		var flags uint8
		var keyLen uint16
		var valLen uint32
		if err := binary.Read(r, binary.LittleEndian, &flags); err != nil {
			return nil, fmt.Errorf("item header: %w", err)
		}
		if err := binary.Read(r, binary.LittleEndian, &keyLen); err != nil {
			return nil, fmt.Errorf("item header: %w", err)
		}
		if err := binary.Read(r, binary.LittleEndian, &valLen); err != nil {
			return nil, fmt.Errorf("item header: %w", err)
		}
		key := make([]byte, keyLen)
		if _, err := io.ReadFull(r, key); err != nil {
			return nil, fmt.Errorf("item key (expected %d bytes): %w", keyLen, err)
		}
		val := make([]byte, valLen)
		if _, err := io.ReadFull(r, val); err != nil {
			return nil, fmt.Errorf("item value (expected %d bytes): %w", valLen, err)
		}
		items = append(items, Item{Key: key, Value: val, Flags: Flags(flags)})
	}
	return items, nil
}
