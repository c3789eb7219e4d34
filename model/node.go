package model

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"
)

// Kind distinguishes leaves from internal nodes.
type Kind uint8

const (
	// KindLeaf is a node at maximum depth carrying an attribute.
	KindLeaf Kind = 1
	// KindInternal is a node with one to eight children.
	KindInternal Kind = 2
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindLeaf:
		return "leaf"
	case KindInternal:
		return "internal"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

const (
	// NodeHeaderSize is the fixed prefix of every encoded node.
	NodeHeaderSize = 16
	// ChildStride is the encoded size of one child key.
	ChildStride = 8
	// MaxEncodedSize is the size of an internal node with eight children.
	MaxEncodedSize = NodeHeaderSize + 8*ChildStride
)

var (
	// ErrInvalidNode is returned when decoding malformed node bytes.
	ErrInvalidNode = errors.New("invalid node encoding")
)

// Node is the immutable content of a DAG node.
type Node struct {
	Kind     Kind
	Children [8]NodeKey
	Attr     Attribute
}

// Leaf returns leaf content carrying attr.
func Leaf(attr Attribute) Node {
	return Node{Kind: KindLeaf, Attr: attr}
}

// Internal returns internal content with the given children.
func Internal(children [8]NodeKey) Node {
	return Node{Kind: KindInternal, Children: children}
}

// ChildMask returns a bitmask of present children.
func (n Node) ChildMask() uint8 {
	var m uint8
	for i, c := range n.Children {
		if c != NullKey {
			m |= 1 << i
		}
	}
	return m
}

// ChildCount returns the number of present children.
func (n Node) ChildCount() int {
	return bits.OnesCount8(n.ChildMask())
}

// IsLeaf reports whether n is a leaf.
func (n Node) IsLeaf() bool { return n.Kind == KindLeaf }

// EncodedSize returns the number of bytes AppendEncoded writes.
func (n Node) EncodedSize() int {
	if n.Kind == KindLeaf {
		return NodeHeaderSize
	}
	return NodeHeaderSize + n.ChildCount()*ChildStride
}

// AppendEncoded appends the wire encoding of n with its key to dst.
func (n Node) AppendEncoded(dst []byte, key NodeKey) []byte {
	mask := n.ChildMask()
	var hdr [NodeHeaderSize]byte
	hdr[0] = byte(n.Kind)
	if n.Kind == KindInternal {
		hdr[1] = mask
		hdr[2] = byte(bits.OnesCount8(mask))
	} else {
		binary.LittleEndian.PutUint32(hdr[4:8], uint32(n.Attr))
	}
	binary.LittleEndian.PutUint64(hdr[8:16], uint64(key))
	dst = append(dst, hdr[:]...)
	if n.Kind == KindInternal {
		for _, c := range n.Children {
			if c != NullKey {
				dst = binary.LittleEndian.AppendUint64(dst, uint64(c))
			}
		}
	}
	return dst
}

// EncodedSizeAt returns the size of the node encoded at the start of b
// without decoding it.
func EncodedSizeAt(b []byte) (int, error) {
	if len(b) < NodeHeaderSize {
		return 0, ErrInvalidNode
	}
	switch Kind(b[0]) {
	case KindLeaf:
		return NodeHeaderSize, nil
	case KindInternal:
		return NodeHeaderSize + int(b[2])*ChildStride, nil
	default:
		return 0, fmt.Errorf("%w: unknown kind %d", ErrInvalidNode, b[0])
	}
}

// DecodeNode decodes a node and its key from the start of b.
func DecodeNode(b []byte) (Node, NodeKey, error) {
	size, err := EncodedSizeAt(b)
	if err != nil {
		return Node{}, NullKey, err
	}
	if len(b) < size {
		return Node{}, NullKey, fmt.Errorf("%w: short buffer %d < %d", ErrInvalidNode, len(b), size)
	}

	key := NodeKey(binary.LittleEndian.Uint64(b[8:16]))
	n := Node{Kind: Kind(b[0])}

	if n.Kind == KindLeaf {
		n.Attr = Attribute(binary.LittleEndian.Uint32(b[4:8]))
		return n, key, nil
	}

	mask := b[1]
	if int(b[2]) != bits.OnesCount8(mask) || mask == 0 {
		return Node{}, NullKey, fmt.Errorf("%w: mask %08b does not match count %d", ErrInvalidNode, mask, b[2])
	}
	p := NodeHeaderSize
	for i := 0; i < 8; i++ {
		if mask&(1<<i) == 0 {
			continue
		}
		n.Children[i] = NodeKey(binary.LittleEndian.Uint64(b[p : p+ChildStride]))
		p += ChildStride
	}
	return n, key, nil
}
