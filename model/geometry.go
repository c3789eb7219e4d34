package model

import "fmt"

// Coord is an integer voxel coordinate.
type Coord struct {
	X, Y, Z uint32
}

// String returns a string representation of the coordinate.
func (c Coord) String() string {
	return fmt.Sprintf("(%d,%d,%d)", c.X, c.Y, c.Z)
}

// AABB is an octree-aligned cube: Min is its lowest corner, Size its side length.
type AABB struct {
	Min  Coord
	Size uint32
}

// Cube returns the cube of the given side anchored at the origin.
func Cube(size uint32) AABB {
	return AABB{Size: size}
}

// Max returns the exclusive upper corner.
func (b AABB) Max() Coord {
	return Coord{X: b.Min.X + b.Size, Y: b.Min.Y + b.Size, Z: b.Min.Z + b.Size}
}

// Child returns the sub-cube for octant o (0..7).
func (b AABB) Child(o int) AABB {
	half := b.Size / 2
	c := AABB{Min: b.Min, Size: half}
	if o&1 != 0 {
		c.Min.X += half
	}
	if o&2 != 0 {
		c.Min.Y += half
	}
	if o&4 != 0 {
		c.Min.Z += half
	}
	return c
}

// Octant returns which child of b contains c. c must lie inside b.
func (b AABB) Octant(c Coord) int {
	half := b.Size / 2
	o := 0
	if c.X-b.Min.X >= half {
		o |= 1
	}
	if c.Y-b.Min.Y >= half {
		o |= 2
	}
	if c.Z-b.Min.Z >= half {
		o |= 4
	}
	return o
}

// Contains reports whether c lies inside b.
func (b AABB) Contains(c Coord) bool {
	return c.X >= b.Min.X && c.X-b.Min.X < b.Size &&
		c.Y >= b.Min.Y && c.Y-b.Min.Y < b.Size &&
		c.Z >= b.Min.Z && c.Z-b.Min.Z < b.Size
}

// Intersects reports whether b and o overlap.
func (b AABB) Intersects(o AABB) bool {
	bm, om := b.Max(), o.Max()
	return b.Min.X < om.X && o.Min.X < bm.X &&
		b.Min.Y < om.Y && o.Min.Y < bm.Y &&
		b.Min.Z < om.Z && o.Min.Z < bm.Z
}

// Covers reports whether o lies entirely inside b.
func (b AABB) Covers(o AABB) bool {
	bm, om := b.Max(), o.Max()
	return o.Min.X >= b.Min.X && om.X <= bm.X &&
		o.Min.Y >= b.Min.Y && om.Y <= bm.Y &&
		o.Min.Z >= b.Min.Z && om.Z <= bm.Z
}

// Center returns the cube center in voxel units.
func (b AABB) Center() Vec3 {
	h := float64(b.Size) / 2
	return Vec3{X: float64(b.Min.X) + h, Y: float64(b.Min.Y) + h, Z: float64(b.Min.Z) + h}
}

// String returns a string representation of the box.
func (b AABB) String() string {
	return fmt.Sprintf("[%s+%d]", b.Min, b.Size)
}

// Vec3 is a point or direction in continuous voxel space.
type Vec3 struct {
	X, Y, Z float64
}

// Sub returns v - o.
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }

// Dot returns the dot product.
func (v Vec3) Dot(o Vec3) float64 { return v.X*o.X + v.Y*o.Y + v.Z*o.Z }

// DistanceSquaredToBox returns the squared distance from p to the closest point of b.
func DistanceSquaredToBox(p Vec3, b AABB) float64 {
	axis := func(v float64, lo uint32, size uint32) float64 {
		l, h := float64(lo), float64(lo)+float64(size)
		switch {
		case v < l:
			return l - v
		case v > h:
			return v - h
		}
		return 0
	}
	dx := axis(p.X, b.Min.X, b.Size)
	dy := axis(p.Y, b.Min.Y, b.Size)
	dz := axis(p.Z, b.Min.Z, b.Size)
	return dx*dx + dy*dy + dz*dz
}
