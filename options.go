package svdag

import (
	"log/slog"
	"runtime"

	"github.com/hupe1980/svdag/blobstore"
	"github.com/hupe1980/svdag/codec"
	"github.com/hupe1980/svdag/internal/residency"
	"github.com/hupe1980/svdag/internal/snapshot"
	"github.com/hupe1980/svdag/model"
)

// DefaultBudget is the residency budget used when WithBudget is not given.
const DefaultBudget = 64 << 20

// Policy names an eviction policy.
type Policy = residency.PolicyKind

const (
	// PolicyLRU evicts the least recently used node, smaller nodes first
	// among equally recent ones.
	PolicyLRU Policy = residency.PolicyLRU
	// PolicyClock approximates LRU with a second-chance clock.
	PolicyClock Policy = residency.PolicyClock
)

// Compression selects the snapshot block codec.
type Compression = snapshot.Compression

const (
	CompressionNone = snapshot.CompressionNone
	CompressionLZ4  = snapshot.CompressionLZ4
	CompressionZSTD = snapshot.CompressionZSTD
)

type options struct {
	budget           int64
	regionPath       string
	pageSize         uint32
	policy           Policy
	workers          int
	codec            codec.Codec
	store            blobstore.BlobStore
	commits          blobstore.CommitStore
	scene            string
	compression      Compression
	ioLimit          int64
	viewer           model.Vec3
	metricsCollector MetricsCollector
	logger           *Logger
}

// Option configures Open.
type Option func(*options)

// WithBudget sets the residency budget in bytes: the most encoded node
// bytes that may be resident in the shared region at once.
func WithBudget(bytes int64) Option {
	return func(o *options) {
		o.budget = bytes
	}
}

// WithRegionPath backs the shared region with a file that other processes
// can map read-only. A layout descriptor is written next to it as
// path + ".json".
//
// Without a path the region is anonymous and only visible in-process.
func WithRegionPath(path string) Option {
	return func(o *options) {
		o.regionPath = path
	}
}

// WithPageSize sets the slab page size of the shared region. Zero picks a
// size that gives the arena several pages per size class.
func WithPageSize(size uint32) Option {
	return func(o *options) {
		o.pageSize = size
	}
}

// WithPolicy selects the eviction policy.
func WithPolicy(p Policy) Option {
	return func(o *options) {
		o.policy = p
	}
}

// WithWorkers bounds the goroutines used by a build.
// The default is GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// WithCodec configures the codec used for the region layout descriptor.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithBlobStore sets where Save and Load keep snapshots.
// The default is an in-memory store.
//
// Example:
//
//	scene, _ := svdag.Open(
//	    svdag.WithBlobStore(blobstore.NewLocalStore("./scenes")),
//	    svdag.WithCommitStore(blobstore.NewMemoryCommitStore()),
//	)
func WithBlobStore(s blobstore.BlobStore) Option {
	return func(o *options) {
		o.store = s
	}
}

// WithCommitStore makes Save publish each snapshot as the scene's current
// version and lets Load resolve the current version by an empty name.
func WithCommitStore(c blobstore.CommitStore) Option {
	return func(o *options) {
		o.commits = c
	}
}

// WithSceneName sets the name commits are recorded under.
func WithSceneName(name string) Option {
	return func(o *options) {
		o.scene = name
	}
}

// WithCompression sets the snapshot block codec. The default is ZSTD.
func WithCompression(c Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithIOLimit throttles snapshot reads and writes to bytesPerSec.
func WithIOLimit(bytesPerSec int64) Option {
	return func(o *options) {
		o.ioLimit = bytesPerSec
	}
}

// WithViewer sets the viewer position Warm orders nodes by.
func WithViewer(p model.Vec3) Option {
	return func(o *options) {
		o.viewer = p
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &svdag.BasicMetricsCollector{}
//	scene, _ := svdag.Open(svdag.WithMetricsCollector(metrics))
//	// ... build and walk ...
//	stats := metrics.GetStats()
//	fmt.Printf("hit ratio: %.2f\n", stats.HitRatio)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := svdag.NewJSONLogger(slog.LevelInfo)
//	scene, _ := svdag.Open(svdag.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		budget:           DefaultBudget,
		policy:           PolicyLRU,
		workers:          runtime.GOMAXPROCS(0),
		codec:            codec.Default,
		scene:            "default",
		compression:      CompressionZSTD,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	if o.store == nil {
		o.store = blobstore.NewMemoryStore()
	}
	return o
}
