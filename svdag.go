package svdag

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/svdag/blobstore"
	"github.com/hupe1980/svdag/internal/builder"
	"github.com/hupe1980/svdag/internal/nodetable"
	"github.com/hupe1980/svdag/internal/residency"
	"github.com/hupe1980/svdag/internal/resource"
	"github.com/hupe1980/svdag/internal/snapshot"
	"github.com/hupe1980/svdag/model"
	"github.com/hupe1980/svdag/region"
	"github.com/hupe1980/svdag/source"
)

// DAG is a built scene: a root key plus the cube it spans. It owns one
// reference to its root until released with Scene.Release.
type DAG = builder.DAG

// EditOp is an edit operation applied by Scene.Edit.
type EditOp = builder.Op

const (
	// Link adds the voxels of a shape.
	Link = builder.Link
	// Unlink removes the voxels of a shape.
	Unlink = builder.Unlink
)

// MaxDepth is the deepest supported DAG.
const MaxDepth = builder.MaxDepth

type (
	// TableStats summarizes the node table.
	TableStats = nodetable.Stats
	// ResidencyStats summarizes the resident working set.
	ResidencyStats = residency.Stats
	// DAGStats describes one DAG level by level.
	DAGStats = nodetable.DAGStats
)

// Stats is a point-in-time summary of a Scene.
type Stats struct {
	Table     TableStats
	Residency ResidencyStats
	Region    region.Stats
}

// SnapshotInfo describes a saved or loaded snapshot.
type SnapshotInfo struct {
	Name string
	// Version is the commit version, or 0 without a commit store.
	Version     uint64
	Nodes       int
	RawBytes    int64
	StoredBytes int64
	Compression Compression
}

// Scene owns the node table of one process together with its shared
// region and residency manager. DAGs built in the same Scene share
// structure with each other.
//
// Build, Edit, Save and Load are safe for concurrent use. Traversal
// through Accessors may run concurrently with them.
type Scene struct {
	opts    options
	logger  *Logger
	metrics MetricsCollector

	table     *nodetable.Table
	rc        *resource.Controller
	region    *region.Region
	residency *residency.Manager
	builder   *builder.Builder

	mu         sync.Mutex
	published  model.NodeKey
	descriptor string
	closed     bool
}

// Open creates a Scene.
func Open(optFns ...Option) (*Scene, error) {
	o := applyOptions(optFns)

	if o.budget <= 0 {
		return nil, fmt.Errorf("%w: budget must be positive, got %d", ErrInvalidOption, o.budget)
	}
	if o.workers <= 0 {
		return nil, fmt.Errorf("%w: workers must be positive, got %d", ErrInvalidOption, o.workers)
	}
	if o.compression > CompressionZSTD {
		return nil, fmt.Errorf("%w: compression %s", ErrInvalidOption, o.compression)
	}
	policy, err := residency.NewPolicy(o.policy)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOption, err)
	}

	logger := o.logger.Logger
	rc := resource.NewController(resource.Config{
		BudgetBytes:   o.budget,
		BuildWorkers:  int64(o.workers),
		IOBytesPerSec: o.ioLimit,
	})

	reg, err := region.Create(o.regionPath, uint64(o.budget), region.WithPageSize(o.pageSize), region.WithLogger(logger))
	if err != nil {
		if errors.Is(err, region.ErrInvalidLayout) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidOption, err)
		}
		return nil, err
	}

	table := nodetable.New(nodetable.WithLogger(logger))
	s := &Scene{
		opts:    o,
		logger:  o.logger,
		metrics: o.metricsCollector,
		table:   table,
		rc:      rc,
		region:  reg,
		residency: residency.New(table, reg, rc,
			residency.WithPolicy(policy),
			residency.WithLogger(logger),
			residency.WithObserver(residencyObserver{mc: o.metricsCollector}),
		),
		builder: builder.New(table,
			builder.WithController(rc),
			builder.WithLogger(logger),
		),
	}

	if o.regionPath != "" {
		path, err := reg.WriteDescriptor(o.codec)
		if err != nil {
			_ = reg.Close()
			return nil, fmt.Errorf("write region descriptor: %w", err)
		}
		s.descriptor = path
	}
	return s, nil
}

func (s *Scene) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Build subdivides the cube [0, extent)^3 depth times and interns every
// occupied subtree of src. extent must equal 2^depth times a power-of-two
// leaf size; otherwise ErrInvalidGeometry is returned and nothing is
// interned. An empty source yields a DAG whose Root is model.NullKey.
func (s *Scene) Build(ctx context.Context, src source.Source, extent uint32, depth int) (DAG, error) {
	if err := s.checkOpen(); err != nil {
		return DAG{}, err
	}
	start := time.Now()
	d, err := s.builder.Build(ctx, src, extent, depth)
	return s.finishBuild(ctx, "build", d, extent, depth, start, err)
}

// BuildStream builds from a stream of occupied voxels. It yields the same
// root as Build over the equivalent point set. Voxels outside the extent
// are skipped.
func (s *Scene) BuildStream(ctx context.Context, stream source.Stream, extent uint32, depth int) (DAG, error) {
	if err := s.checkOpen(); err != nil {
		return DAG{}, err
	}
	start := time.Now()
	d, err := s.builder.BuildStream(ctx, stream, extent, depth)
	return s.finishBuild(ctx, "build stream", d, extent, depth, start, err)
}

// Edit applies op with shape to d and returns a new DAG. d stays valid and
// shares every subtree the shape does not reach.
func (s *Scene) Edit(ctx context.Context, d DAG, op EditOp, shape source.Source) (DAG, error) {
	if err := s.checkOpen(); err != nil {
		return DAG{}, err
	}
	start := time.Now()
	out, err := s.builder.Edit(ctx, d, op, shape)
	return s.finishBuild(ctx, "edit "+op.String(), out, d.Extent, d.Depth, start, err)
}

func (s *Scene) finishBuild(ctx context.Context, op string, d DAG, extent uint32, depth int, start time.Time, err error) (DAG, error) {
	elapsed := time.Since(start)
	nodes := s.table.Len()
	s.metrics.RecordBuild(op, nodes, elapsed, err)
	if err != nil {
		s.logger.LogBuild(ctx, op, DAG{Extent: extent, Depth: depth}, nodes, elapsed, err)
		return DAG{}, translateError(err)
	}
	s.logger.LogBuild(ctx, op, d, nodes, elapsed, nil)
	return d, nil
}

// Retain adds a reference to d's root, for handing d to a second owner
// that will Release it independently.
func (s *Scene) Retain(d DAG) error {
	if d.Empty() {
		return nil
	}
	return translateError(s.table.Retain(d.Root))
}

// Release drops d's reference to its root. Nodes reachable only through d
// are removed from the table and evicted from the region; nodes shared
// with a live DAG remain. d must not be used afterwards.
func (s *Scene) Release(d DAG) error {
	if d.Empty() {
		return nil
	}

	s.mu.Lock()
	if s.published == d.Root {
		refs, err := s.table.Refs(d.Root)
		if err == nil && refs == 1 {
			s.residency.Unpin(s.published)
			s.published = model.NullKey
			s.region.Publish(model.NullKey, 0, 0)
		}
	}
	s.mu.Unlock()

	if err := s.builder.Release(d); err != nil {
		return translateError(err)
	}
	if _, err := s.residency.Prune(s.table.Contains); err != nil {
		return translateError(err)
	}
	return nil
}

// Publish makes d's root resident and records it in the region header, so
// an external reader of the region file can start from it. The root stays
// pinned until another DAG is published or d is released.
func (s *Scene) Publish(ctx context.Context, d DAG) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if !d.Empty() {
		s.residency.Pin(d.Root)
		if _, err := s.residency.EnsureResident(d.Root); err != nil {
			s.residency.Unpin(d.Root)
			err = translateError(err)
			s.logger.LogPublish(ctx, d, err)
			return err
		}
	}
	if s.published != model.NullKey {
		s.residency.Unpin(s.published)
	}
	s.published = d.Root
	s.region.Publish(d.Root, d.Extent, uint32(d.Depth))
	s.logger.LogPublish(ctx, d, nil)
	return nil
}

// Accessor returns the read interface for d.
func (s *Scene) Accessor(d DAG) *Accessor {
	return &Accessor{scene: s, dag: d}
}

// Validate checks the structure of d: every reachable key is interned,
// internal nodes have children and leaves sit exactly at the bottom level.
func (s *Scene) Validate(d DAG) error {
	return translateError(s.table.Validate(d.Root, d.Depth))
}

// Describe returns per-level node counts of d and its compression ratio
// against the equivalent octree.
func (s *Scene) Describe(d DAG) (DAGStats, error) {
	st, err := s.table.Describe(d.Root, d.Depth)
	return st, translateError(err)
}

// Warm admits the nodes of d nearest the viewer first, breadth-first by
// distance, until fraction of the budget is used. It never evicts.
// It returns the number of admitted nodes.
func (s *Scene) Warm(ctx context.Context, d DAG, fraction float64) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	if fraction <= 0 || fraction > 1 {
		return 0, fmt.Errorf("%w: warm fraction %v outside (0, 1]", ErrInvalidOption, fraction)
	}
	n, err := s.residency.Warm(ctx, nearestFirst(s.table, d, s.opts.viewer), fraction)
	return n, translateError(err)
}

// Save writes d to the blob store under name. With a commit store, the
// snapshot then becomes the scene's current version; a concurrent Save
// that committed first makes this one fail with ErrConflict, leaving the
// blob in place.
func (s *Scene) Save(ctx context.Context, name string, d DAG) (SnapshotInfo, error) {
	if err := s.checkOpen(); err != nil {
		return SnapshotInfo{}, err
	}
	start := time.Now()
	info, err := s.save(ctx, name, d)
	s.metrics.RecordSnapshot("save", info.StoredBytes, time.Since(start), err)
	s.logger.LogSnapshot(ctx, "save", name, info.Version, err)
	return info, translateError(err)
}

func (s *Scene) save(ctx context.Context, name string, d DAG) (SnapshotInfo, error) {
	if name == "" {
		return SnapshotInfo{}, fmt.Errorf("%w: empty snapshot name", ErrInvalidOption)
	}

	var prev uint64
	if s.opts.commits != nil {
		cur, err := s.opts.commits.Current(ctx, s.opts.scene)
		switch {
		case err == nil:
			prev = cur.Version
		case !errors.Is(err, blobstore.ErrNotFound):
			return SnapshotInfo{}, err
		}
	}

	si, err := snapshot.Save(ctx, s.opts.store, name, s.table, d,
		snapshot.WithCompression(s.opts.compression),
		snapshot.WithController(s.rc),
		snapshot.WithLogger(s.logger.Logger),
	)
	if err != nil {
		return SnapshotInfo{}, err
	}
	info := snapshotInfo(name, si)

	if s.opts.commits != nil {
		c, err := s.opts.commits.Commit(ctx, s.opts.scene, prev, name)
		if err != nil {
			return info, err
		}
		info.Version = c.Version
	}
	return info, nil
}

// Load reads a snapshot into the scene's table. Nodes already interned
// are shared, so loading a scene twice costs no extra nodes. An empty
// name loads the scene's current version from the commit store.
func (s *Scene) Load(ctx context.Context, name string) (DAG, SnapshotInfo, error) {
	if err := s.checkOpen(); err != nil {
		return DAG{}, SnapshotInfo{}, err
	}
	start := time.Now()
	d, info, err := s.load(ctx, name)
	s.metrics.RecordSnapshot("load", info.StoredBytes, time.Since(start), err)
	s.logger.LogSnapshot(ctx, "load", info.Name, info.Version, err)
	return d, info, translateError(err)
}

func (s *Scene) load(ctx context.Context, name string) (DAG, SnapshotInfo, error) {
	var version uint64
	if name == "" {
		if s.opts.commits == nil {
			return DAG{}, SnapshotInfo{}, fmt.Errorf("%w: empty snapshot name without a commit store", ErrInvalidOption)
		}
		c, err := s.opts.commits.Current(ctx, s.opts.scene)
		if err != nil {
			return DAG{}, SnapshotInfo{}, fmt.Errorf("resolve current snapshot of %q: %w", s.opts.scene, err)
		}
		name, version = c.Name, c.Version
	}

	d, si, err := snapshot.Load(ctx, s.opts.store, name, s.table,
		snapshot.WithController(s.rc),
		snapshot.WithLogger(s.logger.Logger),
	)
	if err != nil {
		return DAG{}, SnapshotInfo{Name: name}, err
	}
	info := snapshotInfo(name, si)
	info.Version = version
	return d, info, nil
}

func snapshotInfo(name string, si snapshot.Info) SnapshotInfo {
	return SnapshotInfo{
		Name:        name,
		Nodes:       si.Nodes,
		RawBytes:    si.RawBytes,
		StoredBytes: si.StoredBytes,
		Compression: si.Compression,
	}
}

// Stats returns a snapshot of table, residency and region statistics.
func (s *Scene) Stats() Stats {
	return Stats{
		Table:     s.table.Stats(),
		Residency: s.residency.Stats(),
		Region:    s.region.Stats(),
	}
}

// Region returns the shared region. External consumers read it through
// region.OpenReader on RegionPath.
func (s *Scene) Region() *region.Region { return s.region }

// RegionPath returns the region file, or "" for an anonymous region.
func (s *Scene) RegionPath() string { return s.region.Path() }

// DescriptorPath returns the layout descriptor written next to the region
// file, or "".
func (s *Scene) DescriptorPath() string { return s.descriptor }

// Close unmaps the region. The region file stays on disk. DAGs of the
// scene must not be used afterwards.
func (s *Scene) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var firstErr error
	if s.published != model.NullKey {
		s.residency.Unpin(s.published)
		s.published = model.NullKey
	}
	if s.region.Path() != "" {
		if err := s.region.Sync(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := s.region.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
