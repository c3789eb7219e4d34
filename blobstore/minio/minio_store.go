package minio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"

	"github.com/hupe1980/svdag/blobstore"
)

// ErrChanged is returned when an object is overwritten while a blob
// opened on its previous version is still being read.
var ErrChanged = errors.New("minio: object changed during read")

// Store keeps snapshots in a MinIO or S3-compatible bucket under a key
// prefix.
type Store struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewStore returns a Store for bucket. Object keys are rootPrefix joined
// with the blob name.
func NewStore(client *minio.Client, bucket, rootPrefix string) *Store {
	return &Store{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(rootPrefix, "/"),
	}
}

func (s *Store) key(name string) (string, error) {
	if err := blobstore.CheckName(name); err != nil {
		return "", err
	}
	return path.Join(s.prefix, name), nil
}

func translate(err error, key string) error {
	if err == nil {
		return nil
	}
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return fmt.Errorf("minio object %s: %w", key, blobstore.ErrNotFound)
	case "PreconditionFailed":
		return fmt.Errorf("minio object %s: %w", key, ErrChanged)
	}
	return err
}

// Open stats the object and pins its ETag.
func (s *Store) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	key, err := s.key(name)
	if err != nil {
		return nil, err
	}
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, translate(err, key)
	}
	return &object{store: s, key: key, etag: info.ETag, size: info.Size}, nil
}

func (s *Store) putOptions() minio.PutObjectOptions {
	return minio.PutObjectOptions{
		ContentType:    blobstore.ContentType,
		SendContentMd5: true,
	}
}

// Put uploads data in one request.
func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	key, err := s.key(name)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), s.putOptions())
	return err
}

// Create streams an upload of unknown size; the client switches to a
// multipart upload as the data grows.
func (s *Store) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	key, err := s.key(name)
	if err != nil {
		return nil, err
	}
	pr, pw := io.Pipe()
	w := &uploadWriter{pw: pw, result: make(chan error, 1)}

	opts := s.putOptions()
	opts.SendContentMd5 = false
	go func() {
		_, err := s.client.PutObject(ctx, s.bucket, key, pr, -1, opts)
		_ = pr.CloseWithError(err)
		w.result <- err
	}()
	return w, nil
}

// Delete removes an object. A missing object is not an error.
func (s *Store) Delete(ctx context.Context, name string) error {
	key, err := s.key(name)
	if err != nil {
		return err
	}
	err = s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	if errors.Is(translate(err, key), blobstore.ErrNotFound) {
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

	var names []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: full, Recursive: true}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		if name := strings.TrimPrefix(strings.TrimPrefix(obj.Key, s.prefix), "/"); name != "" {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, nil
}

// object reads one version of a snapshot object. Bytes fetches the whole
// body once; ReadAt uses ranged GETs until then.
type object struct {
	store *Store
	key   string
	etag  string
	size  int64

	once sync.Once
	body []byte
	err  error
}

func (o *object) open(ctx context.Context, off, end int64) (*minio.Object, error) {
	opts := minio.GetObjectOptions{}
	if o.etag != "" {
		if err := opts.SetMatchETag(o.etag); err != nil {
			return nil, err
		}
	}
	if end > 0 {
		if err := opts.SetRange(off, end-1); err != nil {
			return nil, err
		}
	}
	obj, err := o.store.client.GetObject(ctx, o.store.bucket, o.key, opts)
	return obj, translate(err, o.key)
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
	obj, err := o.open(ctx, off, end)
	if err != nil {
		return 0, err
	}
	defer obj.Close()

	n, err := io.ReadFull(obj, p[:end-off])
	if err != nil {
		return n, translate(err, o.key)
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Bytes implements blobstore.Mappable.
func (o *object) Bytes() ([]byte, error) {
	o.once.Do(func() {
		obj, err := o.open(context.Background(), 0, 0)
		if err != nil {
			o.err = err
			return
		}
		defer obj.Close()

		buf := make([]byte, o.size)
		if _, err := io.ReadFull(obj, buf); err != nil {
			o.err = translate(err, o.key)
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

type uploadWriter struct {
	pw     *io.PipeWriter
	result chan error

	mu       sync.Mutex
	finished bool
}

func (w *uploadWriter) finish() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	was := w.finished
	w.finished = true
	return was
}

func (w *uploadWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	done := w.finished
	w.mu.Unlock()
	if done {
		return 0, blobstore.ErrClosed
	}
	return w.pw.Write(p)
}

func (w *uploadWriter) Close() error {
	if w.finish() {
		return blobstore.ErrClosed
	}
	if err := w.pw.Close(); err != nil {
		return err
	}
	return <-w.result
}

func (w *uploadWriter) Abort() error {
	if w.finish() {
		return nil
	}
	_ = w.pw.CloseWithError(errors.New("minio: upload aborted"))
	<-w.result
	return nil
}
