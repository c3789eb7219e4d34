package svdag

import (
	"iter"

	"github.com/hupe1980/svdag/internal/queue"
	"github.com/hupe1980/svdag/model"
)

type nodeGetter interface {
	Get(k model.NodeKey) (model.Node, error)
}

// nearestFirst yields the distinct keys of d in order of the distance of
// their cell from viewer, shallower cells first on ties. A parent is
// always yielded before its children. Keys are read from the table, so
// nothing is admitted while ordering.
func nearestFirst(t nodeGetter, d DAG, viewer model.Vec3) iter.Seq[model.NodeKey] {
	return func(yield func(model.NodeKey) bool) {
		if d.Empty() {
			return
		}
		seen := make(map[model.NodeKey]struct{})
		pq := queue.NewMin(64)
		root := model.Visit{Key: d.Root, Box: d.Bounds()}
		pq.Push(queue.Item{Visit: root, Distance: model.DistanceSquaredToBox(viewer, root.Box)})

		for pq.Len() > 0 {
			it, _ := pq.Pop()
			v := it.Visit
			if _, ok := seen[v.Key]; ok {
				continue
			}
			seen[v.Key] = struct{}{}
			if !yield(v.Key) {
				return
			}

			n, err := t.Get(v.Key)
			if err != nil || n.IsLeaf() {
				continue
			}
			for o, c := range n.Children {
				if c == model.NullKey {
					continue
				}
				if _, ok := seen[c]; ok {
					continue
				}
				child := model.Visit{Key: c, Depth: v.Depth + 1, Box: v.Box.Child(o)}
				// A child is never nearer than its parent's cell.
				dist := max(model.DistanceSquaredToBox(viewer, child.Box), it.Distance)
				pq.Push(queue.Item{Visit: child, Distance: dist})
			}
		}
	}
}
