package source

import (
	"slices"
	"sort"

	"github.com/hupe1980/svdag/model"
)

// Point is one occupied voxel.
type Point struct {
	Code uint64
	Attr model.Attribute
}

// PointSet is an immutable, Morton-sorted set of voxels.
type PointSet struct {
	points []Point
}

// NewPointSet collects a stream into a PointSet. Coordinates beyond 21 bits
// per axis are truncated by the Morton encoding.
func NewPointSet(s Stream) *PointSet {
	var pts []Point
	for c, a := range s {
		pts = append(pts, Point{Code: Morton(c), Attr: a})
	}
	return newSorted(pts)
}

// Points returns a PointSet built from explicit coordinates and a constant attribute.
func Points(attr model.Attribute, coords ...model.Coord) *PointSet {
	pts := make([]Point, len(coords))
	for i, c := range coords {
		pts[i] = Point{Code: Morton(c), Attr: attr}
	}
	return newSorted(pts)
}

func newSorted(pts []Point) *PointSet {
	// Stable sort keeps stream order among duplicates; the last one wins.
	slices.SortStableFunc(pts, func(a, b Point) int {
		switch {
		case a.Code < b.Code:
			return -1
		case a.Code > b.Code:
			return 1
		}
		return 0
	})
	out := pts[:0]
	for _, p := range pts {
		if n := len(out); n > 0 && out[n-1].Code == p.Code {
			out[n-1] = p
			continue
		}
		out = append(out, p)
	}
	return &PointSet{points: out}
}

// Len returns the number of distinct voxels.
func (p *PointSet) Len() int { return len(p.points) }

// All iterates voxels in Morton order.
func (p *PointSet) All() Stream {
	return func(yield func(model.Coord, model.Attribute) bool) {
		for _, pt := range p.points {
			if !yield(FromMorton(pt.Code), pt.Attr) {
				return
			}
		}
	}
}

// Sorted returns the underlying Morton-ordered points. Callers must not modify it.
func (p *PointSet) Sorted() []Point { return p.points }

func (p *PointSet) first(lo uint64) int {
	return sort.Search(len(p.points), func(i int) bool { return p.points[i].Code >= lo })
}

// Occupied implements Source.
func (p *PointSet) Occupied(box model.AABB) bool {
	lo, hi, ok := MortonRange(box)
	if !ok {
		for _, pt := range p.points {
			if box.Contains(FromMorton(pt.Code)) {
				return true
			}
		}
		return false
	}
	i := p.first(lo)
	return i < len(p.points) && p.points[i].Code <= hi
}

// Sample implements Source. For cells larger than one voxel the attribute
// of the lowest Morton code inside the cell is used.
func (p *PointSet) Sample(cell model.AABB) (model.Attribute, bool) {
	lo, hi, ok := MortonRange(cell)
	if !ok {
		for _, pt := range p.points {
			if cell.Contains(FromMorton(pt.Code)) {
				return pt.Attr, true
			}
		}
		return 0, false
	}
	i := p.first(lo)
	if i < len(p.points) && p.points[i].Code <= hi {
		return p.points[i].Attr, true
	}
	return 0, false
}
