package region

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/google/uuid"

	"github.com/hupe1980/svdag/internal/mmap"
	"github.com/hupe1980/svdag/model"
)

var (
	// ErrRegionFull is returned when no slot of the requested class is free
	// or the index is at its load limit.
	ErrRegionFull = errors.New("region: full")
	// ErrInvalidOffset is returned when freeing an offset that is not allocated.
	ErrInvalidOffset = errors.New("region: invalid offset")
	// ErrInvalidSize is returned for sizes no slot class can hold.
	ErrInvalidSize = errors.New("region: invalid size")
	// ErrInvalidLayout is returned for unusable capacity or page size.
	ErrInvalidLayout = errors.New("region: invalid layout")
	// ErrNotResident is returned when a key has no slot.
	ErrNotResident = errors.New("region: node not resident")
	// ErrCorrupt is returned when mapped bytes do not describe a region.
	ErrCorrupt = errors.New("region: corrupt")
	// ErrBusy is returned by readers that could not obtain a consistent view.
	ErrBusy = errors.New("region: writer busy")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("region: closed")
)

// Region is the writable shared arena holding encoded resident nodes.
// One Region has exactly one writer; external readers map the same file
// read-only through Reader.
type Region struct {
	mu     sync.Mutex
	m      *mmap.Mapping
	path   string
	id     uuid.UUID
	layout Layout
	logger *slog.Logger

	header []byte
	seq    *atomic.Uint64
	index  *index
	arena  []byte
	slab   *slab
	dirty  *dirtySet

	dyn       Header
	slotBytes uint64
	closed    bool
}

// Option configures a Region.
type Option func(*options)

type options struct {
	pageSize uint32
	logger   *slog.Logger
}

// WithPageSize sets the slab page size (power of two, at least 128). By
// default the page size shrinks from DefaultPageSize for small capacities.
func WithPageSize(size uint32) Option {
	return func(o *options) {
		o.pageSize = size
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Create maps a new region whose index and arena fit in capacity bytes;
// the file adds one header page.
// With a non-empty path the region is backed by that file and can be mapped
// by other processes; an existing file is overwritten. An empty path
// creates an anonymous in-process region.
func Create(path string, capacity uint64, opts ...Option) (*Region, error) {
	o := options{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&o)
	}

	layout, err := NewLayout(capacity, o.pageSize)
	if err != nil {
		return nil, err
	}

	var m *mmap.Mapping
	if path == "" {
		m, err = mmap.MapAnon(int(layout.FileSize()))
	} else {
		m, err = mmap.OpenShared(path, int(layout.FileSize()))
	}
	if err != nil {
		return nil, fmt.Errorf("map region: %w", err)
	}

	data := m.Bytes()
	// A reused file may carry old contents.
	clear(data[:layout.ArenaOffset])

	idx, err := m.Region(int(layout.IndexOffset), int(layout.IndexSlots*IndexEntrySize))
	if err != nil {
		_ = m.Close()
		return nil, fmt.Errorf("map region index: %w", err)
	}
	arena, err := m.Region(int(layout.ArenaOffset), int(layout.ArenaSize))
	if err != nil {
		_ = m.Close()
		return nil, fmt.Errorf("map region arena: %w", err)
	}

	r := &Region{
		m:      m,
		path:   path,
		id:     uuid.New(),
		layout: layout,
		logger: o.logger,
		header: data[:HeaderSize],
		seq:    (*atomic.Uint64)(unsafe.Pointer(&data[offSeq])),
		index:  newIndex(idx.Bytes(), layout.IndexSlots),
		arena:  arena.Bytes(),
		slab:   newSlab(layout.Pages, layout.PageSize),
		dirty:  newDirtySet(layout.PageSize),
		dyn:    Header{RootOffset: model.InvalidOffset},
	}
	writeStaticHeader(r.header, layout, r.id)
	writeDynamicHeader(r.header, r.dyn)
	// Every lookup probes the index; nodes are touched in walk order.
	_ = idx.Advise(mmap.AccessWillNeed)
	_ = arena.Advise(mmap.AccessRandom)

	r.logger.Debug("region created",
		"path", path,
		"capacity", capacity,
		"pages", layout.Pages,
		"index_slots", layout.IndexSlots,
		"file_size", layout.FileSize())
	return r, nil
}

// beginWrite makes the sequence odd; readers retry until it is even again.
func (r *Region) beginWrite() { r.seq.Add(1) }

func (r *Region) endWrite() {
	writeDynamicHeader(r.header, r.dyn)
	r.seq.Add(1)
}

// Allocate reserves a slot for size bytes. It does not touch the index.
func (r *Region) Allocate(size int) (model.Offset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, ErrClosed
	}

	off, slot, err := r.slab.allocate(size)
	if err != nil {
		return 0, err
	}
	r.slotBytes += uint64(slot)
	return off, nil
}

// Free returns a slot obtained from Allocate.
func (r *Region) Free(off model.Offset) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	return r.free(off)
}

func (r *Region) free(off model.Offset) error {
	slot, err := r.slab.release(off)
	if err != nil {
		return err
	}
	r.slotBytes -= uint64(slot)
	return nil
}

// CanAllocate reports whether a node of size bytes could be inserted
// after the nodes at freed were removed: a slot must be free and the
// index must stay within MaxEntries.
func (r *Region) CanAllocate(size int, freed []model.Offset) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if uint64(r.index.count+1) > r.layout.MaxEntries()+uint64(len(freed)) {
		return false
	}
	return r.slab.canAllocate(size, freed)
}

// Insert encodes n under key into a fresh slot and indexes it.
// Inserting a key that is already present returns its existing offset.
func (r *Region) Insert(key model.NodeKey, n model.Node) (model.Offset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, ErrClosed
	}
	if off, ok := r.index.get(key); ok {
		return off, nil
	}

	if uint64(r.index.count) >= r.layout.MaxEntries() {
		return 0, fmt.Errorf("%w: index holds %d entries", ErrRegionFull, r.index.count)
	}

	size := n.EncodedSize()
	off, slot, err := r.slab.allocate(size)
	if err != nil {
		return 0, err
	}

	r.beginWrite()
	defer r.endWrite()

	dst := r.arena[off : uint64(off)+uint64(size)]
	n.AppendEncoded(dst[:0], key)
	if !r.index.put(key, off) {
		_, _ = r.slab.release(off)
		return 0, fmt.Errorf("%w: index full", ErrRegionFull)
	}

	r.slotBytes += uint64(slot)
	r.dyn.Used += uint64(size)
	r.dyn.Resident++
	if key == r.dyn.RootKey {
		r.dyn.RootOffset = off
	}
	r.dirty.mark(uint64(off), uint64(size))
	return off, nil
}

// Remove drops key from the index and frees its slot.
func (r *Region) Remove(key model.NodeKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}

	off, ok := r.index.get(key)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotResident, key)
	}
	size, err := model.EncodedSizeAt(r.arena[off:])
	if err != nil {
		return fmt.Errorf("%w: slot %d: %w", ErrCorrupt, off, err)
	}

	r.beginWrite()
	defer r.endWrite()

	r.index.remove(key)
	if err := r.free(off); err != nil {
		return err
	}
	// Scrub so a stale offset never decodes as the old node.
	clear(r.arena[off : uint64(off)+uint64(size)])

	r.dyn.Used -= uint64(size)
	r.dyn.Resident--
	if key == r.dyn.RootKey {
		r.dyn.RootOffset = model.InvalidOffset
	}
	r.dirty.mark(uint64(off), uint64(size))
	return nil
}

// Lookup returns the offset of a resident key.
func (r *Region) Lookup(key model.NodeKey) (model.Offset, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, false
	}
	return r.index.get(key)
}

// Read decodes the node stored at off.
func (r *Region) Read(off model.Offset) (model.Node, model.NodeKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return model.Node{}, model.NullKey, ErrClosed
	}
	if uint64(off) >= uint64(len(r.arena)) || !r.slab.live.Test(uint(off/8)) {
		return model.Node{}, model.NullKey, fmt.Errorf("%w: %d", ErrInvalidOffset, off)
	}
	return model.DecodeNode(r.arena[off:])
}

// Bytes returns the encoded bytes of the resident node at off. The slice
// aliases the mapping and is only valid while the node stays resident.
func (r *Region) Bytes(off model.Offset) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if uint64(off) >= uint64(len(r.arena)) || !r.slab.live.Test(uint(off/8)) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidOffset, off)
	}
	size, err := model.EncodedSizeAt(r.arena[off:])
	if err != nil {
		return nil, err
	}
	return r.arena[off : uint64(off)+uint64(size)], nil
}

// Publish records the root readers should start from.
func (r *Region) Publish(root model.NodeKey, extent, depth uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	r.beginWrite()
	defer r.endWrite()

	r.dyn.RootKey = root
	r.dyn.Extent = extent
	r.dyn.Depth = depth
	r.dyn.Generation++
	r.dyn.RootOffset = model.InvalidOffset
	if off, ok := r.index.get(root); ok {
		r.dyn.RootOffset = off
	}
}

// Header returns the current dynamic header.
func (r *Region) Header() Header {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dyn
}

// Keys calls fn for every resident key.
func (r *Region) Keys(fn func(model.NodeKey, model.Offset)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.index.entries(fn)
}

// Stage hands every arena range modified since the previous Stage to fn,
// in ascending order with adjacent pages coalesced, then clears the dirty
// set. When fn fails the dirty set is kept.
func (r *Region) Stage(fn func(rng Range, data []byte) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	for _, rng := range r.dirty.ranges() {
		if err := fn(rng, r.arena[rng.Offset:rng.Offset+rng.Length]); err != nil {
			return err
		}
	}
	r.dirty.reset()
	return nil
}

// Stats is a point-in-time summary of region usage.
type Stats struct {
	Capacity uint64
	// Used is the sum of encoded sizes of resident nodes.
	Used uint64
	// SlotBytes is the sum of slot sizes handed out by the slab.
	SlotBytes  uint64
	Resident   uint64
	Pages      uint32
	FreePages  int
	DirtyPages uint64
}

// Stats returns usage statistics.
func (r *Region) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		Capacity:   r.layout.Capacity,
		Used:       r.dyn.Used,
		SlotBytes:  r.slotBytes,
		Resident:   r.dyn.Resident,
		Pages:      r.layout.Pages,
		FreePages:  r.slab.freePageCount(),
		DirtyPages: r.dirty.count(),
	}
}

// Layout returns the region geometry.
func (r *Region) Layout() Layout { return r.layout }

// ID returns the random identity written into the header.
func (r *Region) ID() uuid.UUID { return r.id }

// Path returns the backing file, or "" for anonymous regions.
func (r *Region) Path() string { return r.path }

// Sync flushes a file-backed region.
func (r *Region) Sync() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	return r.m.Sync()
}

// Close unmaps the region. The backing file is left in place for readers.
func (r *Region) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.m.Close()
}
