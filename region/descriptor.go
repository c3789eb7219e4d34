package region

import (
	"fmt"
	"os"

	"github.com/hupe1980/svdag/codec"
	"github.com/hupe1980/svdag/model"
)

// Descriptor documents the binary layout of a region file for tools that
// do not link this package.
type Descriptor struct {
	Codec       string          `json:"codec"`
	ID          string          `json:"id"`
	Magic       uint32          `json:"magic"`
	Version     uint32          `json:"version"`
	Endianness  string          `json:"endianness"`
	HeaderSize  uint64          `json:"header_size"`
	Capacity    uint64          `json:"capacity"`
	PageSize    uint32          `json:"page_size"`
	Pages       uint32          `json:"pages"`
	SlotClasses []int           `json:"slot_classes"`
	Index       IndexDescriptor `json:"index"`
	Arena       ArenaDescriptor `json:"arena"`
	Header      map[string]int  `json:"header_fields"`
	Node        NodeDescriptor  `json:"node"`
}

// IndexDescriptor describes the key-to-offset table.
type IndexDescriptor struct {
	Offset    uint64 `json:"offset"`
	Slots     uint64 `json:"slots"`
	EntrySize int    `json:"entry_size"`
	Probe     string `json:"probe"`
	Hash      string `json:"hash"`
	Empty     uint64 `json:"empty_key"`
}

// ArenaDescriptor describes the node arena.
type ArenaDescriptor struct {
	Offset uint64 `json:"offset"`
	Size   uint64 `json:"size"`
}

// NodeDescriptor describes the encoded node.
type NodeDescriptor struct {
	HeaderSize  int            `json:"header_size"`
	ChildStride int            `json:"child_stride"`
	Kinds       map[string]int `json:"kinds"`
	Fields      map[string]int `json:"fields"`
}

// Describe returns the descriptor of r, encoded with c when written.
func (r *Region) Describe(c codec.Codec) Descriptor {
	if c == nil {
		c = codec.Default
	}
	l := r.layout
	return Descriptor{
		Codec:       c.Name(),
		ID:          r.id.String(),
		Magic:       Magic,
		Version:     Version,
		Endianness:  "little",
		HeaderSize:  HeaderSize,
		Capacity:    l.Capacity,
		PageSize:    l.PageSize,
		Pages:       l.Pages,
		SlotClasses: SlotClasses[:],
		Index: IndexDescriptor{
			Offset:    l.IndexOffset,
			Slots:     l.IndexSlots,
			EntrySize: IndexEntrySize,
			Probe:     "linear",
			Hash:      "fibonacci: (key * 0x9E3779B97F4A7C15) >> (64 - log2(slots))",
			Empty:     uint64(model.NullKey),
		},
		Arena: ArenaDescriptor{Offset: l.ArenaOffset, Size: l.ArenaSize},
		Header: map[string]int{
			"seq":         offSeq,
			"root_key":    offRootKey,
			"root_offset": offRootOffset,
			"extent":      offExtent,
			"depth":       offDepth,
			"resident":    offResident,
			"used":        offUsed,
			"generation":  offGeneration,
		},
		Node: NodeDescriptor{
			HeaderSize:  model.NodeHeaderSize,
			ChildStride: model.ChildStride,
			Kinds:       map[string]int{"leaf": int(model.KindLeaf), "internal": int(model.KindInternal)},
			Fields:      map[string]int{"kind": 0, "child_mask": 1, "child_count": 2, "attribute": 4, "key": 8, "children": 16},
		},
	}
}

// WriteDescriptor writes the descriptor next to the region file as
// "<path>.json". Anonymous regions have nowhere to write it.
func (r *Region) WriteDescriptor(c codec.Codec) (string, error) {
	if r.path == "" {
		return "", fmt.Errorf("%w: anonymous region has no descriptor path", ErrInvalidLayout)
	}
	if c == nil {
		c = codec.Default
	}
	data, err := c.Marshal(r.Describe(c))
	if err != nil {
		return "", err
	}
	path := r.path + ".json"
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
