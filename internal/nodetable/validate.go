package nodetable

import (
	"errors"
	"fmt"

	"github.com/hupe1980/svdag/model"
)

// ErrCorrupt is returned by Validate when the graph below a root is not a
// well-formed DAG of the given depth.
var ErrCorrupt = errors.New("nodetable: corrupt dag")

// Validate checks the structure reachable from root: every key is live,
// leaves appear exactly at depth, internal nodes have children, a key is
// never reachable at two different levels, and every child holds at least
// as many references as it has parent edges inside this DAG.
func (t *Table) Validate(root model.NodeKey, depth int) error {
	if root == model.NullKey {
		return nil
	}

	level := map[model.NodeKey]int{root: 0}
	edges := map[model.NodeKey]int64{}
	queue := []model.NodeKey{root}

	for len(queue) > 0 {
		k := queue[0]
		queue = queue[1:]
		l := level[k]

		n, err := t.Get(k)
		if err != nil {
			return fmt.Errorf("%w: level %d: %w", ErrCorrupt, l, err)
		}

		if n.Kind == model.KindLeaf {
			if l != depth {
				return fmt.Errorf("%w: leaf %s at level %d, want %d", ErrCorrupt, k, l, depth)
			}
			continue
		}
		if l >= depth {
			return fmt.Errorf("%w: internal node %s at leaf level %d", ErrCorrupt, k, l)
		}
		if n.ChildMask() == 0 {
			return fmt.Errorf("%w: internal node %s without children", ErrCorrupt, k)
		}

		for _, c := range n.Children {
			if c == model.NullKey {
				continue
			}
			edges[c]++
			if cl, seen := level[c]; seen {
				if cl != l+1 {
					return fmt.Errorf("%w: node %s reachable at levels %d and %d", ErrCorrupt, c, cl, l+1)
				}
				continue
			}
			level[c] = l + 1
			queue = append(queue, c)
		}
	}

	for k, want := range edges {
		refs, err := t.Refs(k)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if refs < want {
			return fmt.Errorf("%w: node %s has %d refs but %d parent edges", ErrCorrupt, k, refs, want)
		}
	}
	return nil
}

// LevelStats summarizes one level of a DAG.
type LevelStats struct {
	Level int
	// Unique is the number of distinct nodes at this level.
	Unique int
	// Tree is the number of nodes this level would hold without sharing.
	Tree uint64
}

// DAGStats summarizes the sharing achieved below a root.
type DAGStats struct {
	Levels      []LevelStats
	UniqueNodes int
	TreeNodes   uint64
	// Voxels is the number of occupied leaf cells.
	Voxels       uint64
	EncodedBytes int
}

// CompressionRatio returns TreeNodes / UniqueNodes.
func (s DAGStats) CompressionRatio() float64 {
	if s.UniqueNodes == 0 {
		return 0
	}
	return float64(s.TreeNodes) / float64(s.UniqueNodes)
}

// Describe computes per-level statistics for the DAG under root.
func (t *Table) Describe(root model.NodeKey, depth int) (DAGStats, error) {
	stats := DAGStats{Levels: make([]LevelStats, depth+1)}
	for i := range stats.Levels {
		stats.Levels[i].Level = i
	}
	if root == model.NullKey {
		return stats, nil
	}

	// multiplicity[k] is how many times k appears in the expanded tree.
	multiplicity := map[model.NodeKey]uint64{root: 1}
	current := []model.NodeKey{root}

	for l := 0; l <= depth && len(current) > 0; l++ {
		next := map[model.NodeKey]struct{}{}
		var order []model.NodeKey
		for _, k := range current {
			n, err := t.Get(k)
			if err != nil {
				return DAGStats{}, err
			}
			m := multiplicity[k]
			stats.Levels[l].Unique++
			stats.Levels[l].Tree += m
			stats.UniqueNodes++
			stats.TreeNodes += m
			stats.EncodedBytes += n.EncodedSize()
			if n.Kind == model.KindLeaf {
				stats.Voxels += m
				continue
			}
			for _, c := range n.Children {
				if c == model.NullKey {
					continue
				}
				multiplicity[c] += m
				if _, ok := next[c]; !ok {
					next[c] = struct{}{}
					order = append(order, c)
				}
			}
		}
		current = order
	}
	return stats, nil
}
