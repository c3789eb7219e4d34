// Package model defines the value types shared by every svdag package.
//
// # Identity Types
//
//   - NodeKey: content-derived identifier of an interned node (uint64, 0 = absent)
//   - Offset: byte offset of a resident node inside the shared region arena
//   - Attribute: leaf payload (material or color index)
//
// # Geometry
//
//   - Coord: integer voxel coordinate
//   - AABB: octree-aligned cube (minimum corner plus power-of-two side)
//   - Frustum, Sphere: view volumes used as walk predicates
//
// # Node Encoding
//
// Node is the in-process form of a DAG node. Its encoded form is the stable
// little-endian wire layout stored in the shared region:
//
//	offset  size  field
//	0       1     kind (1 = leaf, 2 = internal)
//	1       1     child mask (bit i set when octant i is present)
//	2       1     child count
//	3       1     reserved
//	4       4     attribute (leaves only)
//	8       8     node key
//	16      8*n   child keys in octant order
//
// Octant i has bit 0 for +X, bit 1 for +Y and bit 2 for +Z.
package model
