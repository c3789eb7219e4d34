package builder

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/svdag/model"
	"github.com/hupe1980/svdag/source"
)

// Op is an edit operation.
type Op int

const (
	// Link adds the voxels of a shape; the shape's attribute wins where it
	// overlaps existing voxels.
	Link Op = iota + 1
	// Unlink removes the voxels of a shape.
	Unlink
)

func (o Op) String() string {
	switch o {
	case Link:
		return "link"
	case Unlink:
		return "unlink"
	default:
		return fmt.Sprintf("Op(%d)", int(o))
	}
}

// Edit applies op with shape to d and returns a new DAG owning its own
// root reference. d is left untouched; subtrees the shape does not reach
// are shared between both.
func (b *Builder) Edit(ctx context.Context, d DAG, op Op, shape source.Source) (DAG, error) {
	if op != Link && op != Unlink {
		return DAG{}, fmt.Errorf("builder: unknown edit op %d", int(op))
	}
	if _, err := LeafSize(d.Extent, d.Depth); err != nil {
		return DAG{}, err
	}

	start := time.Now()
	root, err := b.edit(ctx, d.Root, op, shape, d.Bounds(), 0, d.Depth)
	if err != nil {
		return DAG{}, err
	}

	out := d
	out.Root = root
	b.logger.Info("dag edited",
		"op", op,
		"from", d.Root,
		"to", root,
		"elapsed", time.Since(start))
	return out, nil
}

func (b *Builder) edit(ctx context.Context, key model.NodeKey, op Op, shape source.Source, box model.AABB, level, depth int) (model.NodeKey, error) {
	if err := ctx.Err(); err != nil {
		return model.NullKey, err
	}
	if !shape.Occupied(box) {
		return b.share(key)
	}

	if level == depth {
		attr, ok := shape.Sample(box)
		switch {
		case !ok:
			return b.share(key)
		case op == Link:
			return b.intern(model.Leaf(attr))
		default:
			return model.NullKey, nil
		}
	}

	if attr, ok := source.UniformOf(shape, box); ok {
		if op == Link {
			return b.uniform(attr, depth-level)
		}
		return model.NullKey, nil
	}

	var cur model.Node
	if key != model.NullKey {
		n, err := b.table.Get(key)
		if err != nil {
			return model.NullKey, err
		}
		if n.IsLeaf() {
			return model.NullKey, fmt.Errorf("%w: leaf %s above max depth", ErrInvalidGeometry, key)
		}
		cur = n
	}

	var kids [8]model.NodeKey
	for o := range kids {
		k, err := b.edit(ctx, cur.Children[o], op, shape, box.Child(o), level+1, depth)
		if err != nil {
			_ = b.releaseAll(kids[:])
			return model.NullKey, err
		}
		kids[o] = k
	}
	return b.join(kids)
}

// share takes a new reference to an unchanged subtree.
func (b *Builder) share(key model.NodeKey) (model.NodeKey, error) {
	if key == model.NullKey {
		return model.NullKey, nil
	}
	if err := b.table.Retain(key); err != nil {
		return model.NullKey, err
	}
	return key, nil
}
