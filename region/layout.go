package region

import (
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/google/uuid"

	"github.com/hupe1980/svdag/internal/hash"
	"github.com/hupe1980/svdag/model"
)

const (
	// Magic identifies a region file ("SVDR" little-endian).
	Magic uint32 = 0x52445653
	// Version is the layout version written by this package.
	Version uint32 = 1
	// HeaderSize is the size of the header page.
	HeaderSize = 4096
	// DefaultPageSize is the default slab page size.
	DefaultPageSize = 4096
	// IndexEntrySize is the size of one index slot: key u64, offset u64.
	IndexEntrySize = 16

	minPageSize = 128
	// minPages is the page count an automatic page size aims for: one page
	// per slot class twice over.
	minPages = 2 * numClasses
	// The index gets this share of the capacity, rounded down to a power
	// of two slots.
	indexShareNum, indexShareDen = 2, 5
)

// Header field offsets. The static part [0, offStaticCRC) is written once
// and covered by a CRC32C. The dynamic part is guarded by the sequence
// counter at offSeq: odd while the writer mutates the region.
const (
	offMagic       = 0
	offVersion     = 4
	offHeaderSize  = 8
	offPageSize    = 12
	offCapacity    = 16
	offIndexOffset = 24
	offIndexSlots  = 32
	offArenaOffset = 40
	offArenaSize   = 48
	offID          = 56
	offNodeHeader  = 72
	offChildStride = 74
	offPages       = 76
	offStaticCRC   = 80

	offSeq        = 128
	offRootKey    = 136
	offRootOffset = 144
	offExtent     = 152
	offDepth      = 156
	offResident   = 160
	offUsed       = 168
	offGeneration = 176
)

// SlotClasses are the slab slot sizes. Every encoded node size is one of them.
var SlotClasses = [...]int{16, 24, 32, 40, 48, 56, 64, 72, 80}

const numClasses = len(SlotClasses)

func classFor(size int) (int, bool) {
	if size <= 0 || size > model.MaxEncodedSize {
		return 0, false
	}
	if size < SlotClasses[0] {
		size = SlotClasses[0]
	}
	return (size - SlotClasses[0] + 7) / 8, true
}

// Layout is the geometry of a region file: a header page, the index and
// the arena. Index and arena together never exceed Capacity.
type Layout struct {
	// Capacity is the byte budget of the region.
	Capacity    uint64
	PageSize    uint32
	Pages       uint32
	IndexOffset uint64
	IndexSlots  uint64
	ArenaOffset uint64
	ArenaSize   uint64
}

// FileSize returns the total mapped size.
func (l Layout) FileSize() uint64 {
	return l.ArenaOffset + l.ArenaSize
}

// BodySize returns the bytes of index and arena, the part charged against
// Capacity.
func (l Layout) BodySize() uint64 {
	return l.IndexSlots*IndexEntrySize + l.ArenaSize
}

// MaxEntries returns how many nodes the index holds before inserts fail
// with ErrRegionFull. The load factor stays at or below 3/4.
func (l Layout) MaxEntries() uint64 {
	if l.IndexSlots < 4 {
		return l.IndexSlots
	}
	return l.IndexSlots - l.IndexSlots/4
}

// NewLayout computes the geometry for a byte budget. The index takes up to
// 2/5 of capacity and the arena gets the whole pages that fit in the rest,
// so the mapped file is capacity plus the header page at most. A zero
// pageSize picks the largest power of two up to DefaultPageSize that still
// yields minPages pages, but never less than 128.
//
// Slab pages of different classes do not share space, so the arena may
// report ErrRegionFull before the encoded bytes reach capacity.
func NewLayout(capacity uint64, pageSize uint32) (Layout, error) {
	if capacity < IndexEntrySize {
		return Layout{}, fmt.Errorf("%w: capacity %d below %d bytes", ErrInvalidLayout, capacity, IndexEntrySize)
	}
	auto := pageSize == 0
	if auto {
		pageSize = DefaultPageSize
	}
	if pageSize < minPageSize || pageSize&(pageSize-1) != 0 {
		return Layout{}, fmt.Errorf("%w: page size %d must be a power of two >= %d", ErrInvalidLayout, pageSize, minPageSize)
	}

	slots := uint64(1)
	if n := capacity * indexShareNum / indexShareDen / IndexEntrySize; n > 1 {
		slots = 1 << (bits.Len64(n) - 1)
	}
	arenaBytes := capacity - slots*IndexEntrySize
	if auto {
		for pageSize > minPageSize && arenaBytes/uint64(pageSize) < uint64(minPages) {
			pageSize >>= 1
		}
	}
	pages := arenaBytes / uint64(pageSize)
	if pages > 1<<31 {
		return Layout{}, fmt.Errorf("%w: capacity %d too large", ErrInvalidLayout, capacity)
	}

	indexOffset := uint64(HeaderSize)
	return Layout{
		Capacity:    capacity,
		PageSize:    pageSize,
		Pages:       uint32(pages),
		IndexOffset: indexOffset,
		IndexSlots:  slots,
		ArenaOffset: indexOffset + slots*IndexEntrySize,
		ArenaSize:   pages * uint64(pageSize),
	}, nil
}

func writeStaticHeader(hdr []byte, l Layout, id uuid.UUID) {
	le := binary.LittleEndian
	le.PutUint32(hdr[offMagic:], Magic)
	le.PutUint32(hdr[offVersion:], Version)
	le.PutUint32(hdr[offHeaderSize:], HeaderSize)
	le.PutUint32(hdr[offPageSize:], l.PageSize)
	le.PutUint64(hdr[offCapacity:], l.Capacity)
	le.PutUint64(hdr[offIndexOffset:], l.IndexOffset)
	le.PutUint64(hdr[offIndexSlots:], l.IndexSlots)
	le.PutUint64(hdr[offArenaOffset:], l.ArenaOffset)
	le.PutUint64(hdr[offArenaSize:], l.ArenaSize)
	copy(hdr[offID:offID+16], id[:])
	le.PutUint16(hdr[offNodeHeader:], model.NodeHeaderSize)
	le.PutUint16(hdr[offChildStride:], model.ChildStride)
	le.PutUint32(hdr[offPages:], l.Pages)
	le.PutUint32(hdr[offStaticCRC:], hash.CRC32C(hdr[:offStaticCRC]))
}

func readStaticHeader(hdr []byte) (Layout, uuid.UUID, error) {
	if len(hdr) < HeaderSize {
		return Layout{}, uuid.Nil, fmt.Errorf("%w: short header", ErrCorrupt)
	}
	le := binary.LittleEndian
	if m := le.Uint32(hdr[offMagic:]); m != Magic {
		return Layout{}, uuid.Nil, fmt.Errorf("%w: bad magic %#x", ErrCorrupt, m)
	}
	if v := le.Uint32(hdr[offVersion:]); v != Version {
		return Layout{}, uuid.Nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, v)
	}
	if want, got := le.Uint32(hdr[offStaticCRC:]), hash.CRC32C(hdr[:offStaticCRC]); want != got {
		return Layout{}, uuid.Nil, fmt.Errorf("%w: header checksum %#x != %#x", ErrCorrupt, got, want)
	}
	if le.Uint16(hdr[offNodeHeader:]) != model.NodeHeaderSize || le.Uint16(hdr[offChildStride:]) != model.ChildStride {
		return Layout{}, uuid.Nil, fmt.Errorf("%w: unsupported node encoding", ErrCorrupt)
	}

	l := Layout{
		Capacity:    le.Uint64(hdr[offCapacity:]),
		PageSize:    le.Uint32(hdr[offPageSize:]),
		Pages:       le.Uint32(hdr[offPages:]),
		IndexOffset: le.Uint64(hdr[offIndexOffset:]),
		IndexSlots:  le.Uint64(hdr[offIndexSlots:]),
		ArenaOffset: le.Uint64(hdr[offArenaOffset:]),
		ArenaSize:   le.Uint64(hdr[offArenaSize:]),
	}
	var id uuid.UUID
	copy(id[:], hdr[offID:offID+16])
	return l, id, nil
}

// Header is a consistent snapshot of the dynamic header fields.
type Header struct {
	RootKey    model.NodeKey
	RootOffset model.Offset
	Extent     uint32
	Depth      uint32
	Resident   uint64
	Used       uint64
	// Generation increases every time a new root is published.
	Generation uint64
}

func readDynamicHeader(hdr []byte) Header {
	le := binary.LittleEndian
	return Header{
		RootKey:    model.NodeKey(le.Uint64(hdr[offRootKey:])),
		RootOffset: model.Offset(le.Uint64(hdr[offRootOffset:])),
		Extent:     le.Uint32(hdr[offExtent:]),
		Depth:      le.Uint32(hdr[offDepth:]),
		Resident:   le.Uint64(hdr[offResident:]),
		Used:       le.Uint64(hdr[offUsed:]),
		Generation: le.Uint64(hdr[offGeneration:]),
	}
}

func writeDynamicHeader(hdr []byte, h Header) {
	le := binary.LittleEndian
	le.PutUint64(hdr[offRootKey:], uint64(h.RootKey))
	le.PutUint64(hdr[offRootOffset:], uint64(h.RootOffset))
	le.PutUint32(hdr[offExtent:], h.Extent)
	le.PutUint32(hdr[offDepth:], h.Depth)
	le.PutUint64(hdr[offResident:], h.Resident)
	le.PutUint64(hdr[offUsed:], h.Used)
	le.PutUint64(hdr[offGeneration:], h.Generation)
}
