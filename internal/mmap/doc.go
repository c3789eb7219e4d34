// Package mmap provides memory mappings for the shared node region.
//
// # Usage
//
//	// Writer side: create or resize a shared file and map it read-write.
//	m, err := mmap.OpenShared("/dev/shm/scene.svdr", size)
//
//	// Reader side, possibly another process: map the same file read-only.
//	r, err := mmap.Open("/dev/shm/scene.svdr")
//
//	// In-process only.
//	a, err := mmap.MapAnon(size)
//
// Writes through a shared mapping are visible to every other mapping of the
// same file without copying. Views created with Region share the parent's
// memory and become invalid when it is closed.
//
// # Platform Support
//
//   - Unix: mmap(2) with MAP_SHARED, madvise(2) and msync(2)
//   - Windows: CreateFileMapping / MapViewOfFile (Advise is a no-op)
package mmap
