package region

import (
	"fmt"
	"math/bits"
	"runtime"
	"sync/atomic"
	"unsafe"

	"github.com/google/uuid"

	"github.com/hupe1980/svdag/internal/mmap"
	"github.com/hupe1980/svdag/model"
)

// maxReadAttempts bounds how often a reader retries while the writer is
// mid-update.
const maxReadAttempts = 1 << 12

// Reader maps a region file read-only. It needs nothing but the file: the
// header describes where the index and arena live.
type Reader struct {
	m      *mmap.Mapping
	layout Layout
	id     uuid.UUID
	header []byte
	seq    *atomic.Uint64
	index  []byte
	mask   uint64
	shift  uint
	arena  []byte
}

// OpenReader maps the region file at path.
func OpenReader(path string) (*Reader, error) {
	m, err := mmap.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := newReader(m)
	if err != nil {
		_ = m.Close()
		return nil, err
	}
	return r, nil
}

func newReader(m *mmap.Mapping) (*Reader, error) {
	data := m.Bytes()
	layout, id, err := readStaticHeader(data)
	if err != nil {
		return nil, err
	}
	if uint64(len(data)) < layout.FileSize() {
		return nil, fmt.Errorf("%w: file is %d bytes, layout needs %d", ErrCorrupt, len(data), layout.FileSize())
	}
	if layout.IndexSlots == 0 || layout.IndexSlots&(layout.IndexSlots-1) != 0 {
		return nil, fmt.Errorf("%w: index slots %d", ErrCorrupt, layout.IndexSlots)
	}

	return &Reader{
		m:      m,
		layout: layout,
		id:     id,
		header: data[:HeaderSize],
		seq:    (*atomic.Uint64)(unsafe.Pointer(&data[offSeq])),
		index:  data[layout.IndexOffset : layout.IndexOffset+layout.IndexSlots*IndexEntrySize],
		mask:   layout.IndexSlots - 1,
		shift:  uint(64 - bits.TrailingZeros64(layout.IndexSlots)),
		arena:  data[layout.ArenaOffset:layout.FileSize()],
	}, nil
}

// consistent runs fn until it observes no concurrent writer.
func (r *Reader) consistent(fn func() error) error {
	for attempt := 0; attempt < maxReadAttempts; attempt++ {
		before := r.seq.Load()
		if before&1 == 1 {
			runtime.Gosched()
			continue
		}
		err := fn()
		if r.seq.Load() == before {
			return err
		}
	}
	return ErrBusy
}

// Layout returns the geometry recorded in the header.
func (r *Reader) Layout() Layout { return r.layout }

// ID returns the region identity.
func (r *Reader) ID() uuid.UUID { return r.id }

// Header returns a consistent snapshot of the dynamic header.
func (r *Reader) Header() (Header, error) {
	var h Header
	err := r.consistent(func() error {
		h = readDynamicHeader(r.header)
		return nil
	})
	return h, err
}

// Lookup resolves a key to its arena offset.
func (r *Reader) Lookup(key model.NodeKey) (model.Offset, error) {
	var (
		off model.Offset
		ok  bool
	)
	err := r.consistent(func() error {
		off, ok = lookup(r.index, r.mask, r.shift, key)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotResident, key)
	}
	return off, nil
}

// Node resolves and decodes a resident node.
func (r *Reader) Node(key model.NodeKey) (model.Node, error) {
	var n model.Node
	err := r.consistent(func() error {
		off, ok := lookup(r.index, r.mask, r.shift, key)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotResident, key)
		}
		if uint64(off) >= uint64(len(r.arena)) {
			return fmt.Errorf("%w: offset %d outside arena", ErrCorrupt, off)
		}
		dec, got, err := model.DecodeNode(r.arena[off:])
		if err != nil {
			return err
		}
		if got != key {
			return fmt.Errorf("%w: slot %d holds %s, want %s", ErrCorrupt, off, got, key)
		}
		n = dec
		return nil
	})
	return n, err
}

// Root returns the published root node.
func (r *Reader) Root() (model.NodeKey, model.Node, error) {
	h, err := r.Header()
	if err != nil {
		return model.NullKey, model.Node{}, err
	}
	if h.RootKey == model.NullKey {
		return model.NullKey, model.Node{}, fmt.Errorf("%w: no root published", ErrNotResident)
	}
	n, err := r.Node(h.RootKey)
	return h.RootKey, n, err
}

// Close unmaps the file.
func (r *Reader) Close() error {
	return r.m.Close()
}
