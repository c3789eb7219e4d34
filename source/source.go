package source

import (
	"iter"

	"github.com/hupe1980/svdag/model"
)

// Source describes voxel occupancy for the builder.
type Source interface {
	// Occupied reports whether any voxel inside box may be occupied.
	// false must be exact; true may be conservative.
	Occupied(box model.AABB) bool
	// Sample returns the attribute of a leaf cell and whether it is occupied.
	Sample(cell model.AABB) (model.Attribute, bool)
}

// Uniform is implemented by sources that can prove a box is completely
// filled with a single attribute. The builder uses it to skip sampling.
type Uniform interface {
	Uniform(box model.AABB) (model.Attribute, bool)
}

// Stream is a finite sequence of occupied voxels. Later duplicates of a
// coordinate replace earlier ones.
type Stream = iter.Seq2[model.Coord, model.Attribute]

// Empty is a source without voxels.
type Empty struct{}

// Occupied implements Source.
func (Empty) Occupied(model.AABB) bool { return false }

// Sample implements Source.
func (Empty) Sample(model.AABB) (model.Attribute, bool) { return 0, false }

// UniformOf returns the uniform attribute of box if s can prove it.
func UniformOf(s Source, box model.AABB) (model.Attribute, bool) {
	if u, ok := s.(Uniform); ok {
		return u.Uniform(box)
	}
	return 0, false
}
