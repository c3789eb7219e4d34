package residency

import (
	"cmp"
	"container/list"
	"iter"
	"slices"

	"github.com/hupe1980/svdag/model"
)

type lruEntry struct {
	key   model.NodeKey
	size  int
	epoch uint64
}

// LRU evicts nodes with the oldest access epoch first. Callers advance the
// epoch per access: one lookup or one visit of a walk. Nodes sharing an
// epoch were touched by the same access; among those the smaller node goes
// first.
//
// The list is kept sorted by epoch: the front holds the oldest entry.
// Epochs never decrease, so moving a touched entry to the back keeps the
// order.
type LRU struct {
	items map[model.NodeKey]*list.Element
	order *list.List
}

// NewLRU creates an empty LRU policy.
func NewLRU() *LRU {
	return &LRU{
		items: make(map[model.NodeKey]*list.Element),
		order: list.New(),
	}
}

// Admit implements Policy.
func (p *LRU) Admit(key model.NodeKey, size int, epoch uint64) {
	if e, ok := p.items[key]; ok {
		ent := e.Value.(*lruEntry)
		ent.size = size
		ent.epoch = epoch
		p.order.MoveToBack(e)
		return
	}
	p.items[key] = p.order.PushBack(&lruEntry{key: key, size: size, epoch: epoch})
}

// Touch implements Policy.
func (p *LRU) Touch(key model.NodeKey, epoch uint64) {
	if e, ok := p.items[key]; ok {
		e.Value.(*lruEntry).epoch = epoch
		p.order.MoveToBack(e)
	}
}

// Remove implements Policy.
func (p *LRU) Remove(key model.NodeKey) {
	if e, ok := p.items[key]; ok {
		p.order.Remove(e)
		delete(p.items, key)
	}
}

// Evicted implements Policy.
func (p *LRU) Evicted(key model.NodeKey) { p.Remove(key) }

// Len implements Policy.
func (p *LRU) Len() int { return p.order.Len() }

// Victims implements Policy. Each run of equal epochs is sorted by size,
// then key, so the order is deterministic.
func (p *LRU) Victims() iter.Seq2[model.NodeKey, int] {
	return func(yield func(model.NodeKey, int) bool) {
		var run []*lruEntry
		flush := func() bool {
			slices.SortFunc(run, func(a, b *lruEntry) int {
				if c := cmp.Compare(a.size, b.size); c != 0 {
					return c
				}
				return cmp.Compare(a.key, b.key)
			})
			for _, ent := range run {
				if !yield(ent.key, ent.size) {
					return false
				}
			}
			run = run[:0]
			return true
		}

		for e := p.order.Front(); e != nil; e = e.Next() {
			ent := e.Value.(*lruEntry)
			if len(run) > 0 && run[0].epoch != ent.epoch {
				if !flush() {
					return
				}
			}
			run = append(run, ent)
		}
		flush()
	}
}
