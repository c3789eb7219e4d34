package builder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/svdag/internal/resource"
	"github.com/hupe1980/svdag/model"
	"github.com/hupe1980/svdag/source"
)

// Table is the node store the builder interns into.
type Table interface {
	Intern(n model.Node) (model.NodeKey, error)
	Get(k model.NodeKey) (model.Node, error)
	Retain(k model.NodeKey) error
	Release(k model.NodeKey) error
	Len() int
}

// Builder builds DAGs into a Table. It is safe for concurrent use.
type Builder struct {
	table         Table
	rc            *resource.Controller
	logger        *slog.Logger
	parallelDepth int
}

// Option configures a Builder.
type Option func(*Builder)

// WithController bounds build concurrency by the controller's worker slots.
func WithController(rc *resource.Controller) Option {
	return func(b *Builder) {
		b.rc = rc
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithParallelDepth sets how many levels below the root fan out into
// goroutines. 0 builds sequentially.
func WithParallelDepth(levels int) Option {
	return func(b *Builder) {
		if levels >= 0 {
			b.parallelDepth = levels
		}
	}
}

// New creates a Builder.
func New(t Table, opts ...Option) *Builder {
	b := &Builder{
		table:         t,
		logger:        slog.New(slog.DiscardHandler),
		parallelDepth: 2,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build subdivides the cube [0, extent)^3 depth times and interns every
// occupied subtree. The returned DAG owns one reference to its root. On
// error or cancellation everything interned by this call is released.
func (b *Builder) Build(ctx context.Context, src source.Source, extent uint32, depth int) (DAG, error) {
	leaf, err := LeafSize(extent, depth)
	if err != nil {
		return DAG{}, err
	}

	start := time.Now()
	root, err := b.subtree(ctx, src, model.Cube(extent), 0, depth)
	if err != nil {
		return DAG{}, err
	}

	dag := DAG{Root: root, Extent: extent, Depth: depth, LeafSize: leaf}
	b.logger.Info("dag built",
		"root", root,
		"extent", extent,
		"depth", depth,
		"table_entries", b.table.Len(),
		"elapsed", time.Since(start))
	return dag, nil
}

// Release drops the DAG's reference to its root.
func (b *Builder) Release(d DAG) error {
	if d.Root == model.NullKey {
		return nil
	}
	return b.table.Release(d.Root)
}

func (b *Builder) subtree(ctx context.Context, src source.Source, box model.AABB, level, depth int) (model.NodeKey, error) {
	if err := ctx.Err(); err != nil {
		return model.NullKey, err
	}
	if !src.Occupied(box) {
		return model.NullKey, nil
	}
	if level == depth {
		attr, ok := src.Sample(box)
		if !ok {
			return model.NullKey, nil
		}
		return b.intern(model.Leaf(attr))
	}
	if attr, ok := source.UniformOf(src, box); ok {
		return b.uniform(attr, depth-level)
	}

	var kids [8]model.NodeKey
	var err error
	if level < b.parallelDepth {
		err = b.parallelChildren(ctx, src, box, level, depth, &kids)
	} else {
		for o := range kids {
			if kids[o], err = b.subtree(ctx, src, box.Child(o), level+1, depth); err != nil {
				break
			}
		}
	}
	if err != nil {
		_ = b.releaseAll(kids[:])
		return model.NullKey, err
	}
	return b.join(kids)
}

// parallelChildren builds the octants of box concurrently when worker
// slots are free and inline otherwise, so nested fan-out never waits on
// a slot held by its own ancestor.
func (b *Builder) parallelChildren(ctx context.Context, src source.Source, box model.AABB, level, depth int, kids *[8]model.NodeKey) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	for o := range kids {
		child := box.Child(o)
		if !b.rc.TryAcquireWorker() {
			k, err := b.subtree(gctx, src, child, level+1, depth)
			kids[o] = k
			if err != nil {
				// Stop running siblings and wait so their keys can be released.
				cancel()
				_ = g.Wait()
				return err
			}
			continue
		}
		g.Go(func() error {
			defer b.rc.ReleaseWorker()
			k, err := b.subtree(gctx, src, child, level+1, depth)
			kids[o] = k
			return err
		})
	}
	return g.Wait()
}

// join interns the parent of kids and hands the caller's child references
// over to it. All-absent kids yield NullKey.
func (b *Builder) join(kids [8]model.NodeKey) (model.NodeKey, error) {
	empty := true
	for _, k := range kids {
		if k != model.NullKey {
			empty = false
			break
		}
	}
	if empty {
		return model.NullKey, nil
	}

	parent, err := b.intern(model.Internal(kids))
	// The parent holds its own child references now.
	relErr := b.releaseAll(kids[:])
	if err != nil {
		return model.NullKey, err
	}
	if relErr != nil {
		_ = b.table.Release(parent)
		return model.NullKey, relErr
	}
	return parent, nil
}

// uniform interns a completely filled subtree of the given height.
func (b *Builder) uniform(attr model.Attribute, height int) (model.NodeKey, error) {
	k, err := b.intern(model.Leaf(attr))
	if err != nil {
		return model.NullKey, err
	}
	for range height {
		var kids [8]model.NodeKey
		for o := range kids {
			kids[o] = k
		}
		parent, err := b.intern(model.Internal(kids))
		_ = b.table.Release(k)
		if err != nil {
			return model.NullKey, err
		}
		k = parent
	}
	return k, nil
}

func (b *Builder) intern(n model.Node) (model.NodeKey, error) {
	k, err := b.table.Intern(n)
	if err != nil {
		return model.NullKey, fmt.Errorf("intern %s: %w", n.Kind, err)
	}
	return k, nil
}

func (b *Builder) releaseAll(keys []model.NodeKey) error {
	var errs []error
	for i, k := range keys {
		if k == model.NullKey {
			continue
		}
		if err := b.table.Release(k); err != nil {
			errs = append(errs, err)
		}
		keys[i] = model.NullKey
	}
	return errors.Join(errs...)
}
