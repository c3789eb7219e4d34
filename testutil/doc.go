// Package testutil provides testing utilities for svdag.
//
// This package is intended for use in tests and benchmarks only.
//
// # Random Voxel Clouds
//
//	rng := testutil.NewRNG(seed)
//	coords := rng.Coords(1000, 64)         // uniform in [0, 64)^3
//	stream := rng.Cloud(1000, 64, 4)       // with attributes in [1, 4]
//
// # Mirrored Scenes
//
// Mirrored produces a cloud repeated in every octant of the extent, which
// guarantees structural sharing in the built DAG.
package testutil
