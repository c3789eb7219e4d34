package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hupe1980/svdag/blobstore"
	miniostore "github.com/hupe1980/svdag/blobstore/minio"
	s3store "github.com/hupe1980/svdag/blobstore/s3"
)

// location is a parsed store URI.
type location struct {
	scheme string
	host   string
	bucket string
	prefix string
	secure bool
	path   string
}

// parseLocation accepts a plain path, file://path, mem://, s3://bucket/prefix
// and minio://host[:port]/bucket/prefix[?secure=false].
func parseLocation(raw string) (location, error) {
	if raw == "" {
		return location{}, fmt.Errorf("empty store location")
	}
	if !strings.Contains(raw, "://") {
		return location{scheme: "file", path: raw}, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return location{}, fmt.Errorf("parse store location %q: %w", raw, err)
	}

	loc := location{scheme: u.Scheme}
	switch u.Scheme {
	case "file":
		loc.path = u.Host + u.Path
		if loc.path == "" {
			return location{}, fmt.Errorf("store location %q has no path", raw)
		}
	case "mem":
	case "s3", "ddb":
		loc.bucket = u.Host
		loc.prefix = strings.Trim(u.Path, "/")
		if loc.bucket == "" {
			return location{}, fmt.Errorf("store location %q has no bucket", raw)
		}
	case "minio":
		loc.host = u.Host
		parts := strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 2)
		loc.bucket = parts[0]
		if len(parts) == 2 {
			loc.prefix = strings.Trim(parts[1], "/")
		}
		if loc.host == "" || loc.bucket == "" {
			return location{}, fmt.Errorf("store location %q needs host and bucket", raw)
		}
		loc.secure = u.Query().Get("secure") != "false"
	default:
		return location{}, fmt.Errorf("unsupported store scheme %q", u.Scheme)
	}
	return loc, nil
}

func openStore(ctx context.Context, raw string) (blobstore.BlobStore, error) {
	loc, err := parseLocation(raw)
	if err != nil {
		return nil, err
	}

	switch loc.scheme {
	case "file":
		if err := os.MkdirAll(loc.path, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
		return blobstore.NewLocalStore(loc.path), nil
	case "mem":
		return blobstore.NewMemoryStore(), nil
	case "s3":
		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return s3store.NewStore(awss3.NewFromConfig(cfg), loc.bucket, loc.prefix), nil
	case "minio":
		client, err := minio.New(loc.host, &minio.Options{
			Creds:  credentials.NewStaticV4(os.Getenv("MINIO_ACCESS_KEY"), os.Getenv("MINIO_SECRET_KEY"), ""),
			Secure: loc.secure,
		})
		if err != nil {
			return nil, fmt.Errorf("create minio client: %w", err)
		}
		return miniostore.NewStore(client, loc.bucket, loc.prefix), nil
	default:
		return nil, fmt.Errorf("scheme %q is not a blob store", loc.scheme)
	}
}

// openCommitStore opens ddb://table or mem://. DynamoDB commits are
// partitioned by the blob store URI.
func openCommitStore(ctx context.Context, raw, base string) (blobstore.CommitStore, error) {
	loc, err := parseLocation(raw)
	if err != nil {
		return nil, err
	}

	switch loc.scheme {
	case "mem":
		return blobstore.NewMemoryCommitStore(), nil
	case "ddb":
		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return s3store.NewDDBCommitStore(dynamodb.NewFromConfig(cfg), loc.bucket, base), nil
	default:
		return nil, fmt.Errorf("scheme %q is not a commit store", loc.scheme)
	}
}
