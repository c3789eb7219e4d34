// Package s3 provides an S3 implementation of the blobstore.BlobStore
// interface and a DynamoDB-backed blobstore.CommitStore.
//
// # Usage
//
//	cfg, err := config.LoadDefaultConfig(ctx)
//	client := s3.NewFromConfig(cfg)
//	store := s3blob.NewStore(client, "my-bucket", "scenes/")
//	commits := s3blob.NewDDBCommitStore(dynamodb.NewFromConfig(cfg), "svdag-commits", "s3://my-bucket/scenes")
//
// Opened snapshots are pinned to the ETag seen by HEAD, so a snapshot
// overwritten while it loads fails with ErrChanged instead of mixing two
// versions. Whole-snapshot reads issue a single GET; header probes use
// ranged GETs. Uploads carry CRC32C checksums and switch to multipart
// above UploadConfig.PartSize.
package s3
