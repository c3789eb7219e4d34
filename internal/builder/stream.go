package builder

import (
	"context"
	"math/bits"
	"time"

	"github.com/hupe1980/svdag/model"
	"github.com/hupe1980/svdag/source"
)

// cancelCheckInterval is how many cells are folded between context checks.
const cancelCheckInterval = 1 << 10

// BuildStream builds a DAG from a stream of voxels. The stream is sorted
// into Morton order and folded bottom-up, keeping one partial node per
// level. When several voxels fall into one leaf cell the one with the
// lowest Morton code supplies the attribute. Voxels outside the extent are
// skipped. The result equals Build over the same voxels as a PointSet.
func (b *Builder) BuildStream(ctx context.Context, s source.Stream, extent uint32, depth int) (DAG, error) {
	leaf, err := LeafSize(extent, depth)
	if err != nil {
		return DAG{}, err
	}

	start := time.Now()
	points := source.NewPointSet(s).Sorted()

	f := &folder{b: b, depth: depth, frames: make([][8]model.NodeKey, depth)}
	cellShift := 3 * uint(bits.TrailingZeros32(leaf))
	extentBits := 3 * uint(bits.TrailingZeros32(extent))

	var (
		prevCell uint64
		have     bool
		skipped  int
	)
	for i, p := range points {
		if i%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				f.abort()
				return DAG{}, err
			}
		}
		if extentBits < 64 && p.Code>>extentBits != 0 {
			skipped++
			continue
		}
		cell := p.Code >> cellShift
		if have && cell == prevCell {
			continue
		}
		if err := f.add(cell, p.Attr, prevCell, have); err != nil {
			f.abort()
			return DAG{}, err
		}
		prevCell, have = cell, true
	}

	root, err := f.finish(prevCell, have)
	if err != nil {
		f.abort()
		return DAG{}, err
	}

	if skipped > 0 {
		b.logger.Warn("voxels outside extent skipped", "count", skipped, "extent", extent)
	}
	b.logger.Info("dag built from stream",
		"root", root,
		"extent", extent,
		"depth", depth,
		"voxels", len(points)-skipped,
		"table_entries", b.table.Len(),
		"elapsed", time.Since(start))
	return DAG{Root: root, Extent: extent, Depth: depth, LeafSize: leaf}, nil
}

// folder keeps, for every level above the leaves, the children collected
// so far for the node on the current Morton path.
type folder struct {
	b      *Builder
	depth  int
	frames [][8]model.NodeKey
	root   model.NodeKey
}

// digit returns the octant of cell below the node at level l.
func (f *folder) digit(cell uint64, l int) int {
	return int(cell>>(3*uint(f.depth-1-l))) & 7
}

func (f *folder) add(cell uint64, attr model.Attribute, prev uint64, have bool) error {
	if f.depth == 0 {
		if have {
			return nil
		}
		k, err := f.b.intern(model.Leaf(attr))
		f.root = k
		return err
	}

	if have {
		// Close every level below the highest digit where cell leaves the
		// previous path.
		top := (bits.Len64(prev^cell) - 1) / 3
		if err := f.close(prev, f.depth-1-top); err != nil {
			return err
		}
	}

	k, err := f.b.intern(model.Leaf(attr))
	if err != nil {
		return err
	}
	f.frames[f.depth-1][f.digit(cell, f.depth-1)] = k
	return nil
}

// close interns the frames deeper than level stop along prev's path and
// stores each result in its parent frame.
func (f *folder) close(prev uint64, stop int) error {
	for l := f.depth - 1; l > stop; l-- {
		k, err := f.b.join(f.frames[l])
		f.frames[l] = [8]model.NodeKey{}
		if err != nil {
			return err
		}
		f.frames[l-1][f.digit(prev, l-1)] = k
	}
	return nil
}

func (f *folder) finish(prev uint64, have bool) (model.NodeKey, error) {
	if f.depth == 0 || !have {
		return f.root, nil
	}
	if err := f.close(prev, 0); err != nil {
		return model.NullKey, err
	}
	k, err := f.b.join(f.frames[0])
	f.frames[0] = [8]model.NodeKey{}
	return k, err
}

// abort releases every partial node.
func (f *folder) abort() {
	for l := range f.frames {
		_ = f.b.releaseAll(f.frames[l][:])
	}
	if f.root != model.NullKey {
		_ = f.b.table.Release(f.root)
		f.root = model.NullKey
	}
}
