package nodetable

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"github.com/hupe1980/svdag/model"
)

// HashFunc derives the probe-th candidate key for content. Implementations
// must be pure: the same content and probe always produce the same key.
type HashFunc func(n model.Node, probe uint32) uint64

// ContentHash hashes the canonical encoding of n. Children contribute their
// keys only, so hashing is constant time per node.
func ContentHash(n model.Node, probe uint32) uint64 {
	var buf [model.MaxEncodedSize + 4]byte
	b := n.AppendEncoded(buf[:0], model.NullKey)
	b = binary.LittleEndian.AppendUint32(b, probe)
	return xxhash.Sum64(b)
}

// candidate returns the probe-th key for content whose base key is base.
// All candidates share the shard bits of base so a probe chain never
// leaves its shard.
func candidate(h HashFunc, n model.Node, base model.NodeKey, probe uint32) model.NodeKey {
	if probe == 0 {
		return base
	}
	k := (h(n, probe) &^ shardMask) | (uint64(base) & shardMask)
	return model.NodeKey(k)
}

// baseKey returns the first candidate, avoiding the reserved null key.
func baseKey(h HashFunc, n model.Node) model.NodeKey {
	k := h(n, 0)
	if k == uint64(model.NullKey) {
		k = shardMask + 1
	}
	return model.NodeKey(k)
}
