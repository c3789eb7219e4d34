// Package nodetable implements the content-addressed interning store for
// DAG nodes.
//
// Keys are derived from a 64-bit hash of a node's canonical encoding. Child
// identity enters the hash only through child keys, so a parent can be
// interned in constant time once its children are. The table is split into
// shards selected by the low key bits; collision probes keep those bits, so
// every candidate for a piece of content lives in one shard and interning
// is serialized per shard.
//
// Reference counting: Intern hands the caller one reference. A newly stored
// internal node holds one reference per present child. Release at zero
// removes the entry and releases the children, iteratively.
package nodetable
