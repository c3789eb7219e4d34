package builder

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/hupe1980/svdag/model"
	"github.com/hupe1980/svdag/source"
)

// MaxDepth is the deepest supported DAG. Leaf cells are addressed by 21-bit
// Morton coordinates.
const MaxDepth = source.MaxMortonBits

// ErrInvalidGeometry is returned when extent and depth do not describe an
// octree.
var ErrInvalidGeometry = errors.New("builder: invalid geometry")

// GeometryError reports an unusable extent/depth pair.
type GeometryError struct {
	Extent uint32
	Depth  int
	Reason string
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("builder: invalid geometry extent=%d depth=%d: %s", e.Extent, e.Depth, e.Reason)
}

// Unwrap returns ErrInvalidGeometry.
func (e *GeometryError) Unwrap() error { return ErrInvalidGeometry }

// LeafSize validates extent == 2^depth * leafSize and returns leafSize.
// extent must be a power of two no larger than 2^MaxDepth.
func LeafSize(extent uint32, depth int) (uint32, error) {
	switch {
	case extent == 0 || extent&(extent-1) != 0:
		return 0, &GeometryError{Extent: extent, Depth: depth, Reason: "extent is not a power of two"}
	case extent > 1<<MaxDepth:
		return 0, &GeometryError{Extent: extent, Depth: depth, Reason: fmt.Sprintf("extent exceeds %d", 1<<MaxDepth)}
	case depth < 0 || depth > MaxDepth:
		return 0, &GeometryError{Extent: extent, Depth: depth, Reason: fmt.Sprintf("depth outside [0, %d]", MaxDepth)}
	case depth > bits.TrailingZeros32(extent):
		return 0, &GeometryError{Extent: extent, Depth: depth, Reason: "leaf size would be below one voxel"}
	}
	return extent >> depth, nil
}

// DAG is a built scene: a root key plus the cube it spans. It owns one
// reference to Root; a NullKey root is an empty scene.
type DAG struct {
	Root     model.NodeKey
	Extent   uint32
	Depth    int
	LeafSize uint32
}

// Bounds returns the root cube.
func (d DAG) Bounds() model.AABB { return model.Cube(d.Extent) }

// Empty reports whether the scene has no voxels.
func (d DAG) Empty() bool { return d.Root == model.NullKey }

// String returns a string representation of the DAG.
func (d DAG) String() string {
	return fmt.Sprintf("DAG(root=%s extent=%d depth=%d leaf=%d)", d.Root, d.Extent, d.Depth, d.LeafSize)
}
