package s3

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/hupe1980/svdag/blobstore"
	"github.com/hupe1980/svdag/internal/hash"
)

// UploadConfig configures multipart uploads.
type UploadConfig struct {
	// PartSize is the multipart part size and the largest blob Put sends
	// in a single request. Default: 8 MiB.
	PartSize int64
	// Concurrency is the number of parts uploaded in parallel. Default: 5.
	Concurrency int
	// EnableChecksum asks S3 to verify CRC32C checksums. Default: true.
	EnableChecksum bool
	// LeavePartsOnError keeps the parts of a failed multipart upload.
	LeavePartsOnError bool
}

// DefaultUploadConfig returns the defaults used by NewStore.
func DefaultUploadConfig() UploadConfig {
	return UploadConfig{
		PartSize:       8 << 20,
		Concurrency:    5,
		EnableChecksum: true,
	}
}

func newUploader(client manager.UploadAPIClient, cfg UploadConfig) *manager.Uploader {
	return manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = cfg.PartSize
		u.Concurrency = cfg.Concurrency
		u.LeavePartsOnError = cfg.LeavePartsOnError
	})
}

// checksumCRC32C encodes a checksum the way S3 expects it: base64 of the
// big-endian bytes.
func checksumCRC32C(data []byte) string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], hash.CRC32C(data))
	return base64.StdEncoding.EncodeToString(b[:])
}

func putObject(ctx context.Context, client Client, bucket, key string, data []byte) error {
	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:         aws.String(bucket),
		Key:            aws.String(key),
		Body:           bytes.NewReader(data),
		ContentLength:  aws.Int64(int64(len(data))),
		ContentType:    aws.String(blobstore.ContentType),
		ChecksumCRC32C: aws.String(checksumCRC32C(data)),
	})
	return err
}

var errAborted = errors.New("s3: upload aborted")

// uploadWriter pipes writes into a multipart upload running in the
// background. Cancelling the upload context makes the uploader abort the
// multipart upload.
type uploadWriter struct {
	pw     *io.PipeWriter
	cancel context.CancelFunc
	result chan error

	mu       sync.Mutex
	finished bool
}

func newUploadWriter(ctx context.Context, uploader *manager.Uploader, bucket, key string, checksum bool) *uploadWriter {
	ctx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()

	in := &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        pr,
		ContentType: aws.String(blobstore.ContentType),
	}
	if checksum {
		in.ChecksumAlgorithm = types.ChecksumAlgorithmCrc32c
	}

	w := &uploadWriter{pw: pw, cancel: cancel, result: make(chan error, 1)}
	go func() {
		_, err := uploader.Upload(ctx, in)
		_ = pr.CloseWithError(err)
		w.result <- err
	}()
	return w
}

func (w *uploadWriter) done() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.finished
}

// finish marks the writer finished and reports whether it already was.
func (w *uploadWriter) finish() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	was := w.finished
	w.finished = true
	return was
}

func (w *uploadWriter) Write(p []byte) (int, error) {
	if w.done() {
		return 0, blobstore.ErrClosed
	}
	return w.pw.Write(p)
}

func (w *uploadWriter) Close() error {
	if w.finish() {
		return blobstore.ErrClosed
	}
	defer w.cancel()

	if err := w.pw.Close(); err != nil {
		return err
	}
	return <-w.result
}

func (w *uploadWriter) Abort() error {
	if w.finish() {
		return nil
	}
	w.cancel()
	_ = w.pw.CloseWithError(errAborted)
	<-w.result
	return nil
}
