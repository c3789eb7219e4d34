package region

import (
	"encoding/binary"
	"math/bits"

	"github.com/hupe1980/svdag/model"
)

// index is an open-addressing hash table from NodeKey to arena offset stored
// in mapped memory. Slot layout: key u64, offset u64; key 0 marks an empty
// slot. Probing is linear from a Fibonacci hash of the key. Deletion shifts
// later entries back, so the table never holds tombstones and readers can
// stop at the first empty slot.
type index struct {
	buf   []byte
	mask  uint64
	shift uint
	count int
}

func newIndex(buf []byte, slots uint64) *index {
	return &index{
		buf:   buf,
		mask:  slots - 1,
		shift: uint(64 - bits.TrailingZeros64(slots)),
	}
}

// home returns the preferred slot of k.
func home(k model.NodeKey, shift uint) uint64 {
	return (uint64(k) * 0x9E3779B97F4A7C15) >> shift
}

func (ix *index) key(i uint64) model.NodeKey {
	return model.NodeKey(binary.LittleEndian.Uint64(ix.buf[i*IndexEntrySize:]))
}

func (ix *index) offset(i uint64) model.Offset {
	return model.Offset(binary.LittleEndian.Uint64(ix.buf[i*IndexEntrySize+8:]))
}

func (ix *index) set(i uint64, k model.NodeKey, off model.Offset) {
	binary.LittleEndian.PutUint64(ix.buf[i*IndexEntrySize+8:], uint64(off))
	binary.LittleEndian.PutUint64(ix.buf[i*IndexEntrySize:], uint64(k))
}

func (ix *index) clear(i uint64) {
	clear(ix.buf[i*IndexEntrySize : (i+1)*IndexEntrySize])
}

func (ix *index) get(k model.NodeKey) (model.Offset, bool) {
	return lookup(ix.buf, ix.mask, ix.shift, k)
}

// lookup probes an index buffer. Shared with Reader.
func lookup(buf []byte, mask uint64, shift uint, k model.NodeKey) (model.Offset, bool) {
	if k == model.NullKey {
		return 0, false
	}
	for i, n := home(k, shift), uint64(0); n <= mask; i, n = (i+1)&mask, n+1 {
		cur := model.NodeKey(binary.LittleEndian.Uint64(buf[i*IndexEntrySize:]))
		if cur == model.NullKey {
			return 0, false
		}
		if cur == k {
			return model.Offset(binary.LittleEndian.Uint64(buf[i*IndexEntrySize+8:])), true
		}
	}
	return 0, false
}

// put inserts or updates k. It reports false when the table is full.
func (ix *index) put(k model.NodeKey, off model.Offset) bool {
	for i, n := home(k, ix.shift), uint64(0); n <= ix.mask; i, n = (i+1)&ix.mask, n+1 {
		cur := ix.key(i)
		if cur == k {
			ix.set(i, k, off)
			return true
		}
		if cur == model.NullKey {
			ix.set(i, k, off)
			ix.count++
			return true
		}
	}
	return false
}

func (ix *index) remove(k model.NodeKey) bool {
	i := home(k, ix.shift)
	for n := uint64(0); ; i, n = (i+1)&ix.mask, n+1 {
		if n > ix.mask {
			return false
		}
		cur := ix.key(i)
		if cur == model.NullKey {
			return false
		}
		if cur == k {
			break
		}
	}

	// Backward shift: move later members of the cluster into the hole when
	// their home slot does not lie cyclically in (hole, j].
	hole := i
	for j := (hole + 1) & ix.mask; ; j = (j + 1) & ix.mask {
		kj := ix.key(j)
		if kj == model.NullKey {
			break
		}
		h := home(kj, ix.shift)
		if (j-h)&ix.mask >= (j-hole)&ix.mask {
			ix.set(hole, kj, ix.offset(j))
			hole = j
		}
	}
	ix.clear(hole)
	ix.count--
	return true
}

// entries calls fn for every occupied slot.
func (ix *index) entries(fn func(model.NodeKey, model.Offset)) {
	for i := uint64(0); i <= ix.mask; i++ {
		if k := ix.key(i); k != model.NullKey {
			fn(k, ix.offset(i))
		}
	}
}
