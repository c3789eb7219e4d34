package model

// Plane is the half-space Normal·p + D >= 0.
type Plane struct {
	Normal Vec3
	D      float64
}

// Frustum is a convex view volume bounded by inward-facing planes.
type Frustum struct {
	Planes []Plane
}

// IntersectsBox reports whether b is at least partially inside the frustum.
// The test is conservative: boxes near edges may report true.
func (f Frustum) IntersectsBox(b AABB) bool {
	lo := Vec3{X: float64(b.Min.X), Y: float64(b.Min.Y), Z: float64(b.Min.Z)}
	s := float64(b.Size)
	for _, pl := range f.Planes {
		// Positive vertex: the corner furthest along the plane normal.
		pv := lo
		if pl.Normal.X >= 0 {
			pv.X += s
		}
		if pl.Normal.Y >= 0 {
			pv.Y += s
		}
		if pl.Normal.Z >= 0 {
			pv.Z += s
		}
		if pl.Normal.Dot(pv)+pl.D < 0 {
			return false
		}
	}
	return true
}

// Sphere is a viewer-centered region of interest.
type Sphere struct {
	Center Vec3
	Radius float64
}

// IntersectsBox reports whether b overlaps the sphere.
func (s Sphere) IntersectsBox(b AABB) bool {
	return DistanceSquaredToBox(s.Center, b) <= s.Radius*s.Radius
}
