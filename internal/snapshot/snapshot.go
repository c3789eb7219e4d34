package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/hupe1980/svdag/blobstore"
	"github.com/hupe1980/svdag/internal/builder"
	"github.com/hupe1980/svdag/internal/resource"
)

var (
	// ErrCorrupt is returned when a snapshot fails validation.
	ErrCorrupt = errors.New("snapshot: corrupt")
	// ErrUnsupported is returned for unknown versions or codecs.
	ErrUnsupported = errors.New("snapshot: unsupported")
	// ErrInvalidOption is returned for bad option values.
	ErrInvalidOption = errors.New("snapshot: invalid option")
)

type options struct {
	compression Compression
	blockSize   int
	rc          *resource.Controller
	logger      *slog.Logger
}

// Option configures Save and Load.
type Option func(*options)

// WithCompression sets the block codec used by Save.
func WithCompression(c Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithBlockSize sets the uncompressed block size used by Save.
func WithBlockSize(n int) Option {
	return func(o *options) {
		o.blockSize = n
	}
}

// WithController throttles blob IO through rc.
func WithController(rc *resource.Controller) Option {
	return func(o *options) {
		o.rc = rc
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func apply(opts []Option) options {
	o := options{
		compression: CompressionZSTD,
		blockSize:   defaultBlockSize,
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Save encodes d and streams it into store under name. The blob appears
// only if the whole write succeeds.
func Save(ctx context.Context, store blobstore.BlobStore, name string, r Reader, d builder.DAG, opts ...Option) (Info, error) {
	o := apply(opts)
	if o.compression > CompressionZSTD {
		return Info{}, fmt.Errorf("%w: %s", ErrInvalidOption, o.compression)
	}
	start := time.Now()

	var buf bytes.Buffer
	info, err := Encode(&buf, r, d, o.compression, o.blockSize)
	if err != nil {
		return Info{}, err
	}

	w, err := store.Create(ctx, name)
	if err != nil {
		return Info{}, fmt.Errorf("create %s: %w", name, err)
	}
	if _, err := io.Copy(resource.NewThrottledWriter(ctx, w, o.rc), &buf); err != nil {
		_ = w.Abort()
		return Info{}, fmt.Errorf("write %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return Info{}, fmt.Errorf("commit %s: %w", name, err)
	}

	o.logger.Info("snapshot saved",
		"name", name,
		"nodes", info.Nodes,
		"raw_bytes", info.RawBytes,
		"stored_bytes", info.StoredBytes,
		"compression", info.Compression.String(),
		"elapsed", time.Since(start))
	return info, nil
}

// Load reads name from store and interns its nodes into t.
func Load(ctx context.Context, store blobstore.BlobStore, name string, t Interner, opts ...Option) (builder.DAG, Info, error) {
	o := apply(opts)
	start := time.Now()

	b, err := store.Open(ctx, name)
	if err != nil {
		return builder.DAG{}, Info{}, fmt.Errorf("open %s: %w", name, err)
	}
	defer b.Close()

	var data []byte
	if o.rc.IOLimited() {
		data, err = io.ReadAll(resource.NewThrottledReader(ctx, blobstore.NewReader(ctx, b), o.rc))
	} else {
		data, err = blobstore.ReadAll(ctx, b)
	}
	if err != nil {
		return builder.DAG{}, Info{}, fmt.Errorf("read %s: %w", name, err)
	}

	dag, info, err := Decode(data, t)
	if err != nil {
		return builder.DAG{}, Info{}, fmt.Errorf("load %s: %w", name, err)
	}

	o.logger.Info("snapshot loaded",
		"name", name,
		"root", dag.Root,
		"nodes", info.Nodes,
		"stored_bytes", info.StoredBytes,
		"elapsed", time.Since(start))
	return dag, info, nil
}

// Inspect decodes only the header.
func Inspect(ctx context.Context, store blobstore.BlobStore, name string) (Header, error) {
	b, err := store.Open(ctx, name)
	if err != nil {
		return Header{}, fmt.Errorf("open %s: %w", name, err)
	}
	defer b.Close()

	var hdr [HeaderSize]byte
	n, err := b.ReadAt(ctx, hdr[:], 0)
	if n < HeaderSize {
		if err == nil || errors.Is(err, io.EOF) {
			err = fmt.Errorf("%w: short header", ErrCorrupt)
		}
		return Header{}, err
	}
	return ParseHeader(hdr[:], b.Size())
}
