// Package source provides voxel sources for the DAG builder.
//
// A Source answers two questions: is anything occupied inside an octree
// cell, and what is stored in a leaf cell. Occupied may over-report, but a
// false answer is trusted and prunes the whole subtree, which is what keeps
// building proportional to the surface of a scene rather than its volume.
//
// Streamed sources (a sequence of coordinates with attributes) are
// collected into a PointSet, which answers occupancy with a binary search
// over Morton codes.
package source
