package source

import "github.com/hupe1980/svdag/model"

// MaxMortonBits is the number of bits per axis a Morton code can hold.
const MaxMortonBits = 21

func spread(v uint32) uint64 {
	x := uint64(v) & 0x1fffff
	x = (x | x<<32) & 0x1f00000000ffff
	x = (x | x<<16) & 0x1f0000ff0000ff
	x = (x | x<<8) & 0x100f00f00f00f00f
	x = (x | x<<4) & 0x10c30c30c30c30c3
	x = (x | x<<2) & 0x1249249249249249
	return x
}

func compact(x uint64) uint32 {
	x &= 0x1249249249249249
	x = (x ^ x>>2) & 0x10c30c30c30c30c3
	x = (x ^ x>>4) & 0x100f00f00f00f00f
	x = (x ^ x>>8) & 0x1f0000ff0000ff
	x = (x ^ x>>16) & 0x1f00000000ffff
	x = (x ^ x>>32) & 0x1fffff
	return uint32(x)
}

// Morton interleaves the low 21 bits of each axis, X in the lowest bit.
// Octree cells map to contiguous code ranges, and octant order matches
// model.AABB.Child numbering.
func Morton(c model.Coord) uint64 {
	return spread(c.X) | spread(c.Y)<<1 | spread(c.Z)<<2
}

// FromMorton is the inverse of Morton.
func FromMorton(code uint64) model.Coord {
	return model.Coord{X: compact(code), Y: compact(code >> 1), Z: compact(code >> 2)}
}

// MortonRange returns the inclusive code range covered by an aligned box.
// ok is false when box is not aligned to its own size.
func MortonRange(box model.AABB) (lo, hi uint64, ok bool) {
	s := box.Size
	if s == 0 || s&(s-1) != 0 {
		return 0, 0, false
	}
	if box.Min.X%s != 0 || box.Min.Y%s != 0 || box.Min.Z%s != 0 {
		return 0, 0, false
	}
	lo = Morton(box.Min)
	vol := uint64(s) * uint64(s) * uint64(s)
	return lo, lo + vol - 1, true
}
