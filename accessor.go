package svdag

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/hupe1980/svdag/model"
)

// Accessor is the read interface of one DAG. Every read makes the node
// resident first, evicting others if the budget requires it, and decodes
// it from the shared region, so callers never see whether a node was
// already paged in.
//
// Offsets are not exposed. A slot is only valid while its node stays
// resident.
type Accessor struct {
	scene *Scene
	dag   DAG
}

// DAG returns the DAG the accessor reads.
func (a *Accessor) DAG() DAG { return a.dag }

// Root returns the root key, or model.NullKey for an empty scene.
func (a *Accessor) Root() model.NodeKey { return a.dag.Root }

// ChildrenOf returns the children of key in octant order. Absent octants
// are model.NullKey; a leaf has none.
func (a *Accessor) ChildrenOf(key model.NodeKey) ([8]model.NodeKey, error) {
	a.scene.residency.BeginQuery()
	n, err := a.read(key)
	if err != nil {
		return [8]model.NodeKey{}, err
	}
	if n.IsLeaf() {
		return [8]model.NodeKey{}, nil
	}
	return n.Children, nil
}

// LeafPayload returns the attribute of a leaf. Internal nodes fail with
// ErrNotLeaf.
func (a *Accessor) LeafPayload(key model.NodeKey) (model.Attribute, error) {
	a.scene.residency.BeginQuery()
	n, err := a.read(key)
	if err != nil {
		return 0, err
	}
	if !n.IsLeaf() {
		return 0, fmt.Errorf("%w: %s", ErrNotLeaf, key)
	}
	return n.Attr, nil
}

// Node returns the decoded content of key.
func (a *Accessor) Node(key model.NodeKey) (model.Node, error) {
	a.scene.residency.BeginQuery()
	return a.read(key)
}

// read decodes key from its resident slot. key is pinned between
// admission and decoding so that a concurrent admission cannot reuse the
// slot in between.
func (a *Accessor) read(key model.NodeKey) (model.Node, error) {
	if key == model.NullKey {
		return model.Node{}, fmt.Errorf("%w: null key", ErrNotFound)
	}
	m := a.scene.residency
	m.Pin(key)
	defer m.Unpin(key)

	off, err := m.EnsureResident(key)
	if err != nil {
		return model.Node{}, translateError(err)
	}
	n, got, err := a.scene.region.Read(off)
	if err != nil {
		return model.Node{}, translateError(err)
	}
	if got != key {
		return model.Node{}, fmt.Errorf("slot %d holds %s, want %s", off, got, key)
	}
	return n, nil
}

// Walk returns a lazy depth-first walk over the DAG. Nodes are visited in
// octant order with their depth and cell. A node for which accept returns
// false is neither yielded nor descended; a nil accept accepts everything.
// Shared subtrees are visited once per path that reaches them.
//
// Each range over the sequence starts a fresh walk from the root. Every
// accepted node is its own residency access, so eviction under pressure
// follows visit order. The path from the root to the current node stays
// pinned until the walk moves past it. The walk stops early when the
// consumer breaks, and yields ctx.Err() once if ctx is cancelled between
// visits. After an error no further nodes are yielded.
func (a *Accessor) Walk(ctx context.Context, accept func(model.Visit) bool) iter.Seq2[model.Visit, error] {
	return func(yield func(model.Visit, error) bool) {
		if a.dag.Empty() {
			return
		}
		s := a.scene

		var (
			start   = time.Now()
			visited int
			walkErr error
		)
		defer func() {
			s.metrics.RecordWalk(visited, time.Since(start), walkErr)
			s.logger.LogWalk(ctx, a.dag.Root, visited, walkErr)
		}()

		fail := func(v model.Visit, err error) bool {
			walkErr = err
			yield(v, err)
			return false
		}

		var visit func(v model.Visit) bool
		visit = func(v model.Visit) bool {
			if err := ctx.Err(); err != nil {
				return fail(v, err)
			}
			if accept != nil && !accept(v) {
				return true
			}

			s.residency.BeginQuery()
			s.residency.Pin(v.Key)
			defer s.residency.Unpin(v.Key)

			n, err := a.read(v.Key)
			if err != nil {
				return fail(v, err)
			}
			visited++
			if !yield(v, nil) {
				return false
			}
			if n.IsLeaf() {
				return true
			}
			for o, c := range n.Children {
				if c == model.NullKey {
					continue
				}
				if !visit(model.Visit{Key: c, Depth: v.Depth + 1, Box: v.Box.Child(o)}) {
					return false
				}
			}
			return true
		}
		visit(model.Visit{Key: a.dag.Root, Box: a.dag.Bounds()})
	}
}

// Leaves is Walk restricted to leaf visits.
func (a *Accessor) Leaves(ctx context.Context, accept func(model.Visit) bool) iter.Seq2[model.Visit, error] {
	return func(yield func(model.Visit, error) bool) {
		for v, err := range a.Walk(ctx, accept) {
			if err != nil {
				yield(v, err)
				return
			}
			if v.Depth == a.dag.Depth && !yield(v, nil) {
				return
			}
		}
	}
}
