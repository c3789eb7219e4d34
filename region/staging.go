package region

import (
	"github.com/RoaringBitmap/roaring/v2"
)

// Range is a byte range inside the arena.
type Range struct {
	Offset uint64
	Length uint64
}

// dirtySet records which arena pages changed since the last Stage.
type dirtySet struct {
	pageSize uint64
	pages    *roaring.Bitmap
}

func newDirtySet(pageSize uint32) *dirtySet {
	return &dirtySet{pageSize: uint64(pageSize), pages: roaring.New()}
}

func (d *dirtySet) mark(off, length uint64) {
	first := off / d.pageSize
	last := (off + length - 1) / d.pageSize
	d.pages.AddRange(first, last+1)
}

// ranges coalesces dirty pages into contiguous byte ranges.
func (d *dirtySet) ranges() []Range {
	var out []Range
	it := d.pages.Iterator()
	for it.HasNext() {
		p := uint64(it.Next())
		if n := len(out); n > 0 && out[n-1].Offset+out[n-1].Length == p*d.pageSize {
			out[n-1].Length += d.pageSize
			continue
		}
		out = append(out, Range{Offset: p * d.pageSize, Length: d.pageSize})
	}
	return out
}

func (d *dirtySet) count() uint64 {
	return d.pages.GetCardinality()
}

func (d *dirtySet) reset() {
	d.pages.Clear()
}
