// Package svdag builds and serves Sparse Voxel Directed Acyclic Graphs.
//
// An SVDAG is an octree in which structurally identical subtrees are
// merged into one shared node. svdag builds such DAGs from voxel sources,
// interns their nodes in a content-addressed table and serves them to a
// consumer through a shared memory region under a hard byte budget.
//
// # Quick Start
//
//	ctx := context.Background()
//	scene, _ := svdag.Open(svdag.WithBudget(16 << 20))
//	defer scene.Close()
//
//	sphere := source.Sphere{Center: model.Vec3{X: 512, Y: 512, Z: 512}, Radius: 300, Attr: 1}
//	dag, _ := scene.Build(ctx, sphere, 1024, 10)
//	defer scene.Release(dag)
//
//	acc := scene.Accessor(dag)
//	for v, err := range acc.Walk(ctx, nil) {
//	    if err != nil {
//	        break
//	    }
//	    fmt.Println(v.Key, v.Depth, v.Box)
//	}
//
// # Structural Sharing
//
// Every node is interned by its content: a leaf by its attribute, an
// internal node by the keys of its eight children. Equal subtrees anywhere
// in a scene, or in other DAGs of the same Scene, resolve to one key and
// one stored node. Reference counts are taken by DAGs and by parents;
// Release cascades down to nodes nothing else references.
//
// # Residency
//
// The node table may be much larger than the budget. Accessor reads make
// nodes resident on demand, evicting the least recently used unpinned
// nodes (smaller ones first among equally recent). The path from the root
// to the node a walk is examining is pinned. A node larger than the whole
// budget fails with ErrOutOfBudget; a failed admission changes nothing.
//
// # Shared Region
//
// With WithRegionPath the resident nodes live in a file that other
// processes map read-only through region.OpenReader. The file is
// self-describing: a header page with the published root, an
// open-addressing index from key to offset, and a slab arena of encoded
// nodes. Consumers must not cache offsets across reads that may evict.
//
// # Snapshots
//
// Save and Load store DAGs as compressed snapshots in a blobstore.BlobStore
// (local disk, memory, S3 or MinIO). A blobstore.CommitStore tracks the
// current snapshot of a scene.
//
// # Errors
//
// Errors are ErrInvalidGeometry, ErrNotFound and ErrOutOfBudget, wrapped
// with context; use errors.Is. *InvalidGeometryError and *OutOfBudgetError
// carry details and unwrap to the sentinels.
package svdag
