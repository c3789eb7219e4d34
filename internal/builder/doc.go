// Package builder turns voxel sources into DAGs interned in a node table.
//
// Nodes are always interned bottom-up: a parent is interned only after all
// eight of its children have keys, so interning hashes child keys and never
// whole subtrees. Sibling octants near the root are built concurrently.
package builder
