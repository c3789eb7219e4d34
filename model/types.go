package model

import "fmt"

// NodeKey identifies an interned node. Equal content always maps to the same key.
type NodeKey uint64

// NullKey marks an absent child.
const NullKey NodeKey = 0

// IsNull reports whether k is the absent marker.
func (k NodeKey) IsNull() bool { return k == NullKey }

// String returns a fixed-width hex representation of the key.
func (k NodeKey) String() string {
	return fmt.Sprintf("%016x", uint64(k))
}

// Offset is an arena-relative byte offset of a resident node.
// It is valid only while the node stays resident.
type Offset uint64

// InvalidOffset marks a node that is not resident.
const InvalidOffset Offset = ^Offset(0)

// Attribute is the payload carried by a leaf.
type Attribute uint32

// Visit is one step of a depth-first walk.
type Visit struct {
	Key   NodeKey
	Depth int
	Box   AABB
}

// String returns a string representation of the visit.
func (v Visit) String() string {
	return fmt.Sprintf("Visit(%s depth=%d %s)", v.Key, v.Depth, v.Box)
}
