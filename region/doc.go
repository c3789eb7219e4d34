// Package region implements the shared, fixed-capacity arena that holds the
// encoded form of resident DAG nodes.
//
// # File Layout
//
//	+--------------------+ 0
//	| header (4 KiB)     |  magic, version, geometry, uuid, crc,
//	|                    |  seq, root key / offset, extent, depth, counters
//	+--------------------+ IndexOffset
//	| index              |  IndexSlots x {key u64, offset u64}
//	+--------------------+ ArenaOffset
//	| arena              |  Pages x PageSize slab pages
//	+--------------------+
//
// Index and arena together fit in the capacity given to Create, so a
// consumer maps the budget plus one header page. The index is filled to at
// most 3/4 of its slots.
//
// All integers are little-endian. Offsets stored in the index and in the
// header are relative to the arena start. A reader locates the root by
// reading root_offset from the header, or by looking root_key up in the
// index, and then follows child keys through the index. Nodes store child
// keys rather than child offsets: an offset goes stale when the child is
// evicted, a key never does.
//
// # Concurrency
//
// Region has a single writer. Every mutation of the index or the dynamic
// header happens between two increments of the sequence counter, so the
// counter is odd while the region is being changed. Reader retries a read
// whenever the counter was odd or changed during the read.
//
// An offset is only meaningful while its node is resident: a freed slot is
// zeroed and may be handed to another node.
package region
