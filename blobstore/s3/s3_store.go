package s3

import (
	"context"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/hupe1980/svdag/blobstore"
)

// Store keeps snapshots as objects in an S3 bucket under a key prefix.
type Store struct {
	client   Client
	bucket   string
	prefix   string
	cfg      UploadConfig
	uploader *manager.Uploader
}

// NewStore returns a Store for bucket. Object keys are rootPrefix joined
// with the blob name, e.g. "scenes/terrain/v3.svds".
func NewStore(client Client, bucket, rootPrefix string, opts ...func(*UploadConfig)) *Store {
	cfg := DefaultUploadConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Store{
		client:   client,
		bucket:   bucket,
		prefix:   strings.Trim(rootPrefix, "/"),
		cfg:      cfg,
		uploader: newUploader(client, cfg),
	}
}

func (s *Store) key(name string) (string, error) {
	if err := blobstore.CheckName(name); err != nil {
		return "", err
	}
	return path.Join(s.prefix, name), nil
}

// Open heads the object and pins its ETag. Reads through the returned
// blob fail with ErrChanged if the object is replaced meanwhile.
func (s *Store) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	key, err := s.key(name)
	if err != nil {
		return nil, err
	}
	return head(ctx, s.client, s.bucket, key)
}

// Create streams through the multipart uploader.
func (s *Store) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	key, err := s.key(name)
	if err != nil {
		return nil, err
	}
	return newUploadWriter(ctx, s.uploader, s.bucket, key, s.cfg.EnableChecksum), nil
}

// Put uploads data in one request with a CRC32C checksum, or through the
// multipart uploader when it exceeds one part.
func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	key, err := s.key(name)
	if err != nil {
		return err
	}
	if int64(len(data)) <= s.cfg.PartSize {
		return putObject(ctx, s.client, s.bucket, key, data)
	}

	w := newUploadWriter(ctx, s.uploader, s.bucket, key, s.cfg.EnableChecksum)
	if _, err := w.Write(data); err != nil {
		_ = w.Abort()
		return err
	}
	return w.Close()
}

// Delete removes an object. A missing object is not an error.
func (s *Store) Delete(ctx context.Context, name string) error {
	key, err := s.key(name)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if code := errorCode(err); code == "NotFound" || code == "NoSuchKey" {
		return nil
	}
	return err
}

// List returns the blob names below the store prefix that start with
// prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	full := s.prefix
	if prefix != "" {
		full = path.Join(s.prefix, prefix)
		if strings.HasSuffix(prefix, "/") {
			full += "/"
		}
	}
	return list(ctx, s.client, s.bucket, s.prefix, full)
}
