package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/hupe1980/svdag/blobstore"
)

// Client is the subset of *s3.Client the store uses.
type Client interface {
	manager.UploadAPIClient
	s3.HeadObjectAPIClient
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// ErrChanged is returned when an object is overwritten while a blob
// opened on its previous version is still being read.
var ErrChanged = errors.New("s3: object changed during read")

// errorCode returns the S3 error code of err. HEAD responses carry no
// body, so a missing key on HEAD only reports the generic "NotFound".
func errorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

func translate(err error, key string) error {
	switch errorCode(err) {
	case "NotFound", "NoSuchKey":
		return fmt.Errorf("s3 object %s: %w", key, blobstore.ErrNotFound)
	case "PreconditionFailed":
		return fmt.Errorf("s3 object %s: %w", key, ErrChanged)
	}
	return err
}

// object is a snapshot object pinned to the ETag seen when it was opened.
// Snapshots are read whole, so Bytes fetches the body with one GET and
// keeps it; ReadAt serves header probes with ranged GETs.
type object struct {
	client Client
	bucket string
	key    string
	etag   string
	size   int64

	once sync.Once
	body []byte
	err  error
}

func (o *object) get(ctx context.Context, rng string) (io.ReadCloser, error) {
	in := &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(o.key),
	}
	if rng != "" {
		in.Range = aws.String(rng)
	}
	if o.etag != "" {
		in.IfMatch = aws.String(o.etag)
	}
	resp, err := o.client.GetObject(ctx, in)
	if err != nil {
		return nil, translate(err, o.key)
	}
	return resp.Body, nil
}

func (o *object) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off < 0 || off >= o.size {
		return 0, io.EOF
	}
	if o.body != nil {
		n := copy(p, o.body[off:])
		if n < len(p) {
			return n, io.EOF
		}
		return n, nil
	}

	end := min(off+int64(len(p)), o.size)
	body, err := o.get(ctx, fmt.Sprintf("bytes=%d-%d", off, end-1))
	if err != nil {
		return 0, err
	}
	defer body.Close()

	n, err := io.ReadFull(body, p[:end-off])
	if err == nil && n < len(p) {
		err = io.EOF
	}
	return n, err
}

// Bytes implements blobstore.Mappable.
func (o *object) Bytes() ([]byte, error) {
	o.once.Do(func() {
		body, err := o.get(context.Background(), "")
		if err != nil {
			o.err = err
			return
		}
		defer body.Close()

		buf := make([]byte, o.size)
		if _, err := io.ReadFull(body, buf); err != nil {
			o.err = fmt.Errorf("read s3 object %s: %w", o.key, err)
			return
		}
		o.body = buf
	})
	return o.body, o.err
}

func (o *object) Size() int64 { return o.size }

func (o *object) Close() error {
	o.body = nil
	return nil
}

func head(ctx context.Context, c Client, bucket, key string) (*object, error) {
	out, err := c.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, translate(err, key)
	}
	return &object{
		client: c,
		bucket: bucket,
		key:    key,
		etag:   aws.ToString(out.ETag),
		size:   aws.ToInt64(out.ContentLength),
	}, nil
}

// list returns the keys under prefix relative to root, sorted.
func list(ctx context.Context, c s3.ListObjectsV2APIClient, bucket, root, prefix string) ([]string, error) {
	var names []string
	pages := s3.NewListObjectsV2Paginator(c, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(strings.TrimPrefix(aws.ToString(obj.Key), root), "/")
			if name != "" {
				names = append(names, name)
			}
		}
	}
	slices.Sort(names)
	return names, nil
}
