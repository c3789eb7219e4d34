package residency

import (
	"container/list"
	"iter"

	"github.com/hupe1980/svdag/model"
)

type clockEntry struct {
	key  model.NodeKey
	size int
	ref  bool
}

// Clock is a second-chance policy. Entries sit on a ring; an access sets
// the reference bit. The hand passes over referenced entries once, clearing
// their bit, and evicts the first unreferenced one.
type Clock struct {
	items map[model.NodeKey]*list.Element
	ring  *list.List
	hand  *list.Element
}

// NewClock creates an empty clock policy.
func NewClock() *Clock {
	return &Clock{
		items: make(map[model.NodeKey]*list.Element),
		ring:  list.New(),
	}
}

func (p *Clock) next(e *list.Element) *list.Element {
	if n := e.Next(); n != nil {
		return n
	}
	return p.ring.Front()
}

// Admit implements Policy. New entries are inserted just behind the hand
// with the reference bit set.
func (p *Clock) Admit(key model.NodeKey, size int, _ uint64) {
	if e, ok := p.items[key]; ok {
		ent := e.Value.(*clockEntry)
		ent.size = size
		ent.ref = true
		return
	}
	ent := &clockEntry{key: key, size: size, ref: true}
	if p.hand == nil {
		p.hand = p.ring.PushBack(ent)
		p.items[key] = p.hand
		return
	}
	p.items[key] = p.ring.InsertBefore(ent, p.hand)
}

// Touch implements Policy.
func (p *Clock) Touch(key model.NodeKey, _ uint64) {
	if e, ok := p.items[key]; ok {
		e.Value.(*clockEntry).ref = true
	}
}

// Remove implements Policy.
func (p *Clock) Remove(key model.NodeKey) {
	e, ok := p.items[key]
	if !ok {
		return
	}
	if p.hand == e {
		p.hand = p.next(e)
	}
	p.ring.Remove(e)
	delete(p.items, key)
	if p.ring.Len() == 0 {
		p.hand = nil
	}
}

// Evicted implements Policy. The hand sweeps to the evicted entry,
// clearing reference bits on the way, and stops just past it.
func (p *Clock) Evicted(key model.NodeKey) {
	e, ok := p.items[key]
	if !ok {
		return
	}
	if e.Value.(*clockEntry).ref {
		// Every entry got its second chance on a full turn.
		for cur := p.ring.Front(); cur != nil; cur = cur.Next() {
			cur.Value.(*clockEntry).ref = false
		}
	}
	for cur := p.hand; cur != nil && cur != e; cur = p.next(cur) {
		cur.Value.(*clockEntry).ref = false
	}
	p.hand = e
	p.Remove(key)
}

// Len implements Policy.
func (p *Clock) Len() int { return p.ring.Len() }

// Victims implements Policy: unreferenced entries from the hand onwards,
// then the referenced ones in the same order.
func (p *Clock) Victims() iter.Seq2[model.NodeKey, int] {
	return func(yield func(model.NodeKey, int) bool) {
		if p.hand == nil {
			return
		}
		for _, wantRef := range [...]bool{false, true} {
			e := p.hand
			for range p.ring.Len() {
				ent := e.Value.(*clockEntry)
				if ent.ref == wantRef && !yield(ent.key, ent.size) {
					return
				}
				e = p.next(e)
			}
		}
	}
}
