package residency

import (
	"fmt"
	"iter"

	"github.com/hupe1980/svdag/model"
)

// Policy orders resident nodes for eviction. Implementations are not safe
// for concurrent use; the Manager serializes all calls.
type Policy interface {
	// Admit records a newly resident node.
	Admit(key model.NodeKey, size int, epoch uint64)
	// Touch records an access to a resident node.
	Touch(key model.NodeKey, epoch uint64)
	// Remove forgets a node evicted on request.
	Remove(key model.NodeKey)
	// Victims yields resident nodes in eviction order. It must not modify
	// the policy.
	Victims() iter.Seq2[model.NodeKey, int]
	// Evicted forgets a node that was chosen from Victims and evicted.
	Evicted(key model.NodeKey)
	// Len returns the number of tracked nodes.
	Len() int
}

// PolicyKind names a built-in policy.
type PolicyKind string

const (
	// PolicyLRU evicts the least recently used node first, smaller nodes
	// first among equally recent ones.
	PolicyLRU PolicyKind = "lru"
	// PolicyClock approximates LRU with a second-chance clock.
	PolicyClock PolicyKind = "clock"
)

// NewPolicy returns a fresh policy of the given kind.
func NewPolicy(kind PolicyKind) (Policy, error) {
	switch kind {
	case PolicyLRU, "":
		return NewLRU(), nil
	case PolicyClock:
		return NewClock(), nil
	default:
		return nil, fmt.Errorf("residency: unknown policy %q", kind)
	}
}
