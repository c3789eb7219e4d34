// Package blobstore provides storage abstraction for svdag snapshots.
//
// BlobStore is the interface for reading and writing snapshot blobs.
// Implementations must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - LocalStore: Local filesystem with mmap support
//   - MemoryStore: In-process, for tests
//   - minio.Store: MinIO and other S3-compatible storage
//   - s3.Store: Amazon S3 with range reads and multipart uploads
//
// # Commit pointers
//
// Object stores cannot atomically swap "the current snapshot". CommitStore
// fills that gap:
//
//	type CommitStore interface {
//	    Current(ctx, scene) (Commit, error)
//	    Commit(ctx, scene, prev, name) (Commit, error) // ErrConflict on a lost race
//	}
//
// MemoryCommitStore serves a single process; s3.DDBCommitStore uses
// DynamoDB conditional writes.
package blobstore
