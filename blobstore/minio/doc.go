// Package minio stores snapshots in MinIO and other S3-compatible object
// stores (Ceph, SeaweedFS, Garage) through the MinIO client, without the
// AWS SDK.
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds: credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	})
//	store := minioblob.NewStore(client, "voxels", "scenes/")
//	scene, err := svdag.Open(svdag.WithBlobStore(store))
//
// Like the S3 store, an opened snapshot is pinned to its ETag and read
// whole with a single GET.
package minio
