package snapshot

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hupe1980/svdag/internal/builder"
	"github.com/hupe1980/svdag/internal/hash"
	"github.com/hupe1980/svdag/model"
)

// File layout:
//
//	[0:4)   magic "SVDS"
//	[4:6)   version
//	[6]     compression
//	[7]     reserved
//	[8:12)  CRC32C of the stored body
//	[12:16) stored body length
//	[16:)   body, a sequence of blocks
//
// The decompressed body is a run of uvarints: extent, depth, node count,
// root index + 1 (0 for an empty scene), then the nodes children-first.
// A leaf is kind, attr. An internal node is kind, child mask, and the
// index of each present child, which is always below its own index.
const (
	Magic      = "SVDS"
	Version    = 1
	HeaderSize = 16
)

// Reader resolves node content during Encode.
type Reader interface {
	Get(k model.NodeKey) (model.Node, error)
}

// Interner receives decoded nodes.
type Interner interface {
	Intern(n model.Node) (model.NodeKey, error)
	Release(k model.NodeKey) error
}

// validator is implemented by tables that can check a decoded DAG.
type validator interface {
	Validate(root model.NodeKey, depth int) error
}

// Info summarizes an encoded snapshot.
type Info struct {
	Nodes       int
	RawBytes    int64
	StoredBytes int64
	Compression Compression
}

// Header is the fixed prefix of a snapshot.
type Header struct {
	Version     uint16
	Compression Compression
	Checksum    uint32
	BodyLength  uint32
}

// ParseHeader checks the header in b against the total blob size.
func ParseHeader(b []byte, size int64) (Header, error) {
	if len(b) < HeaderSize || string(b[0:4]) != Magic {
		return Header{}, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	h := Header{
		Version:     binary.LittleEndian.Uint16(b[4:]),
		Compression: Compression(b[6]),
		Checksum:    binary.LittleEndian.Uint32(b[8:]),
		BodyLength:  binary.LittleEndian.Uint32(b[12:]),
	}
	if h.Version != Version {
		return Header{}, fmt.Errorf("%w: version %d", ErrUnsupported, h.Version)
	}
	if h.Compression > CompressionZSTD {
		return Header{}, fmt.Errorf("%w: %s", ErrUnsupported, h.Compression)
	}
	if size != HeaderSize+int64(h.BodyLength) {
		return Header{}, fmt.Errorf("%w: body is %d bytes, header says %d", ErrCorrupt, size-HeaderSize, h.BodyLength)
	}
	return h, nil
}

// Encode writes d in snapshot format. Each distinct node is written once.
func Encode(w io.Writer, r Reader, d builder.DAG, c Compression, blockSize int) (Info, error) {
	var raw []byte
	raw = binary.AppendUvarint(raw, uint64(d.Extent))
	raw = binary.AppendUvarint(raw, uint64(d.Depth))

	var (
		index = make(map[model.NodeKey]uint64)
		nodes []byte
	)
	var visit func(k model.NodeKey) (uint64, error)
	visit = func(k model.NodeKey) (uint64, error) {
		if i, ok := index[k]; ok {
			return i, nil
		}
		n, err := r.Get(k)
		if err != nil {
			return 0, fmt.Errorf("encode %s: %w", k, err)
		}
		var kids [8]uint64
		if !n.IsLeaf() {
			for o, c := range n.Children {
				if c == model.NullKey {
					continue
				}
				if kids[o], err = visit(c); err != nil {
					return 0, err
				}
			}
		}
		nodes = append(nodes, byte(n.Kind))
		if n.IsLeaf() {
			nodes = binary.AppendUvarint(nodes, uint64(n.Attr))
		} else {
			nodes = append(nodes, n.ChildMask())
			for o, c := range n.Children {
				if c != model.NullKey {
					nodes = binary.AppendUvarint(nodes, kids[o])
				}
			}
		}
		i := uint64(len(index))
		index[k] = i
		return i, nil
	}

	var root uint64
	if d.Root != model.NullKey {
		i, err := visit(d.Root)
		if err != nil {
			return Info{}, err
		}
		root = i + 1
	}
	raw = binary.AppendUvarint(raw, uint64(len(index)))
	raw = binary.AppendUvarint(raw, root)
	raw = append(raw, nodes...)

	var body bytes.Buffer
	bw := newBlockWriter(&body, c, blockSize)
	if _, err := bw.Write(raw); err != nil {
		return Info{}, err
	}
	if err := bw.flush(); err != nil {
		return Info{}, err
	}

	var hdr [HeaderSize]byte
	copy(hdr[0:4], Magic)
	binary.LittleEndian.PutUint16(hdr[4:], Version)
	hdr[6] = byte(c)
	binary.LittleEndian.PutUint32(hdr[8:], checksum(hdr[:8], body.Bytes()))
	binary.LittleEndian.PutUint32(hdr[12:], uint32(body.Len()))

	if _, err := w.Write(hdr[:]); err != nil {
		return Info{}, err
	}
	if _, err := w.Write(body.Bytes()); err != nil {
		return Info{}, err
	}
	return Info{
		Nodes:       len(index),
		RawBytes:    int64(len(raw)),
		StoredBytes: int64(HeaderSize + body.Len()),
		Compression: c,
	}, nil
}

// checksum covers the header fields before it and the stored body.
func checksum(prefix, body []byte) uint32 {
	return hash.UpdateCRC32C(hash.CRC32C(prefix), body)
}

// Decode re-interns a snapshot bottom-up. The returned DAG owns one
// reference to its root; on error nothing stays interned.
func Decode(data []byte, t Interner) (builder.DAG, Info, error) {
	h, err := ParseHeader(data, int64(len(data)))
	if err != nil {
		return builder.DAG{}, Info{}, err
	}
	c := h.Compression
	body := data[HeaderSize:]
	if checksum(data[:8], body) != h.Checksum {
		return builder.DAG{}, Info{}, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	raw, err := decompressBlocks(nil, body, c)
	if err != nil {
		return builder.DAG{}, Info{}, err
	}

	p := parser{buf: raw}
	extent, depth := p.uvarint(), p.uvarint()
	count, root := p.uvarint(), p.uvarint()
	if p.err != nil {
		return builder.DAG{}, Info{}, p.err
	}
	if extent > 1<<builder.MaxDepth || depth > builder.MaxDepth {
		return builder.DAG{}, Info{}, fmt.Errorf("%w: extent %d depth %d", ErrCorrupt, extent, depth)
	}
	leaf, err := builder.LeafSize(uint32(extent), int(depth))
	if err != nil {
		return builder.DAG{}, Info{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	// Every node takes at least two bytes.
	if count > uint64(len(raw))/2 || root > count || (count > 0 && root == 0) {
		return builder.DAG{}, Info{}, fmt.Errorf("%w: %d nodes, root %d", ErrCorrupt, count, root)
	}

	keys := make([]model.NodeKey, 0, count)
	release := func() {
		for _, k := range keys {
			_ = t.Release(k)
		}
	}
	for range count {
		n, err := p.node(keys)
		if err != nil {
			release()
			return builder.DAG{}, Info{}, err
		}
		k, err := t.Intern(n)
		if err != nil {
			release()
			return builder.DAG{}, Info{}, fmt.Errorf("intern node %d: %w", len(keys), err)
		}
		keys = append(keys, k)
	}
	if len(p.buf) != 0 {
		release()
		return builder.DAG{}, Info{}, fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, len(p.buf))
	}

	dag := builder.DAG{Extent: uint32(extent), Depth: int(depth), LeafSize: leaf}
	if root > 0 {
		dag.Root = keys[root-1]
		// Parents hold their children now; keep only the root's reference.
		for i, k := range keys {
			if uint64(i) != root-1 {
				_ = t.Release(k)
			}
		}
		if v, ok := t.(validator); ok {
			if err := v.Validate(dag.Root, dag.Depth); err != nil {
				_ = t.Release(dag.Root)
				return builder.DAG{}, Info{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
			}
		}
	}

	return dag, Info{
		Nodes:       int(count),
		RawBytes:    int64(len(raw)),
		StoredBytes: int64(len(data)),
		Compression: c,
	}, nil
}

type parser struct {
	buf []byte
	err error
}

func (p *parser) uvarint() uint64 {
	if p.err != nil {
		return 0
	}
	v, n := binary.Uvarint(p.buf)
	if n <= 0 {
		p.err = fmt.Errorf("%w: bad varint", ErrCorrupt)
		return 0
	}
	p.buf = p.buf[n:]
	return v
}

func (p *parser) next() byte {
	if p.err != nil {
		return 0
	}
	if len(p.buf) == 0 {
		p.err = fmt.Errorf("%w: truncated node", ErrCorrupt)
		return 0
	}
	b := p.buf[0]
	p.buf = p.buf[1:]
	return b
}

// node parses one node whose children are among keys.
func (p *parser) node(keys []model.NodeKey) (model.Node, error) {
	switch kind := model.Kind(p.next()); kind {
	case model.KindLeaf:
		attr := p.uvarint()
		if p.err == nil && attr > uint64(^model.Attribute(0)) {
			p.err = fmt.Errorf("%w: attribute overflow", ErrCorrupt)
		}
		return model.Leaf(model.Attribute(attr)), p.err
	case model.KindInternal:
		mask := p.next()
		if p.err == nil && mask == 0 {
			return model.Node{}, fmt.Errorf("%w: internal node %d has no children", ErrCorrupt, len(keys))
		}
		var children [8]model.NodeKey
		for o := range children {
			if mask&(1<<o) == 0 {
				continue
			}
			i := p.uvarint()
			if p.err != nil {
				break
			}
			if i >= uint64(len(keys)) {
				return model.Node{}, fmt.Errorf("%w: node %d references %d", ErrCorrupt, len(keys), i)
			}
			children[o] = keys[i]
		}
		return model.Internal(children), p.err
	default:
		if p.err != nil {
			return model.Node{}, p.err
		}
		return model.Node{}, fmt.Errorf("%w: node kind %d", ErrCorrupt, kind)
	}
}
