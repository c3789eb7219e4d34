package source

import "github.com/hupe1980/svdag/model"

// Sphere is a solid ball of one attribute. A cell is occupied when its
// center lies inside the ball.
type Sphere struct {
	Center model.Vec3
	Radius float64
	Attr   model.Attribute
}

// Occupied implements Source.
func (s Sphere) Occupied(box model.AABB) bool {
	return model.DistanceSquaredToBox(s.Center, box) <= s.Radius*s.Radius
}

// Sample implements Source.
func (s Sphere) Sample(cell model.AABB) (model.Attribute, bool) {
	d := cell.Center().Sub(s.Center)
	if d.Dot(d) <= s.Radius*s.Radius {
		return s.Attr, true
	}
	return 0, false
}

// Uniform implements Uniform: the ball is convex, so all cells are inside
// when every corner is.
func (s Sphere) Uniform(box model.AABB) (model.Attribute, bool) {
	r2 := s.Radius * s.Radius
	lo := box.Min
	size := float64(box.Size)
	for o := 0; o < 8; o++ {
		p := model.Vec3{X: float64(lo.X), Y: float64(lo.Y), Z: float64(lo.Z)}
		if o&1 != 0 {
			p.X += size
		}
		if o&2 != 0 {
			p.Y += size
		}
		if o&4 != 0 {
			p.Z += size
		}
		d := p.Sub(s.Center)
		if d.Dot(d) > r2 {
			return 0, false
		}
	}
	return s.Attr, true
}

// Box is a solid axis-aligned cuboid covering [Min, Max) of one attribute.
type Box struct {
	Min, Max model.Coord
	Attr     model.Attribute
}

func (b Box) overlaps(box model.AABB) bool {
	m := box.Max()
	return box.Min.X < b.Max.X && b.Min.X < m.X &&
		box.Min.Y < b.Max.Y && b.Min.Y < m.Y &&
		box.Min.Z < b.Max.Z && b.Min.Z < m.Z
}

// Occupied implements Source.
func (b Box) Occupied(box model.AABB) bool {
	return b.overlaps(box)
}

// Sample implements Source.
func (b Box) Sample(cell model.AABB) (model.Attribute, bool) {
	c := cell.Center()
	if c.X >= float64(b.Min.X) && c.X < float64(b.Max.X) &&
		c.Y >= float64(b.Min.Y) && c.Y < float64(b.Max.Y) &&
		c.Z >= float64(b.Min.Z) && c.Z < float64(b.Max.Z) {
		return b.Attr, true
	}
	return 0, false
}

// Uniform implements Uniform.
func (b Box) Uniform(box model.AABB) (model.Attribute, bool) {
	m := box.Max()
	if box.Min.X >= b.Min.X && m.X <= b.Max.X &&
		box.Min.Y >= b.Min.Y && m.Y <= b.Max.Y &&
		box.Min.Z >= b.Min.Z && m.Z <= b.Max.Z {
		return b.Attr, true
	}
	return 0, false
}
