// Package snapshot persists a DAG as a compact, checksummed blob and loads
// it back by re-interning its nodes.
//
// A snapshot lists every distinct node once, children before parents, so
// loading is a single forward pass. Bodies are split into blocks that are
// compressed with LZ4 or ZSTD; blocks that do not shrink are stored raw.
package snapshot
