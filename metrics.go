package svdag

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems; the
// metrics/prometheus package provides a Prometheus implementation.
//
// Residency callbacks run while the residency lock is held and must not
// call back into the Scene.
type MetricsCollector interface {
	// RecordBuild is called after each Build, BuildStream or Edit.
	// nodes is the table size afterwards.
	RecordBuild(op string, nodes int, duration time.Duration, err error)

	// RecordHit is called when an accessed node was already resident.
	RecordHit()

	// RecordMiss is called when an accessed node had to be admitted.
	RecordMiss()

	// RecordEviction is called for each evicted node with its encoded size.
	RecordEviction(size int)

	// RecordAdmissionFailure is called when a node could not be admitted.
	RecordAdmissionFailure()

	// RecordWalk is called when a walk ends. visited counts yielded nodes.
	RecordWalk(visited int, duration time.Duration, err error)

	// RecordSnapshot is called after each Save or Load.
	RecordSnapshot(op string, bytes int64, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordBuild(string, int, time.Duration, error)      {}
func (NoopMetricsCollector) RecordHit()                                         {}
func (NoopMetricsCollector) RecordMiss()                                        {}
func (NoopMetricsCollector) RecordEviction(int)                                 {}
func (NoopMetricsCollector) RecordAdmissionFailure()                            {}
func (NoopMetricsCollector) RecordWalk(int, time.Duration, error)               {}
func (NoopMetricsCollector) RecordSnapshot(string, int64, time.Duration, error) {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and tests without external dependencies.
type BasicMetricsCollector struct {
	BuildCount        atomic.Int64
	BuildErrors       atomic.Int64
	BuildTotalNanos   atomic.Int64
	Hits              atomic.Int64
	Misses            atomic.Int64
	Evictions         atomic.Int64
	EvictedBytes      atomic.Int64
	AdmissionFailures atomic.Int64
	WalkCount         atomic.Int64
	WalkErrors        atomic.Int64
	WalkVisited       atomic.Int64
	WalkTotalNanos    atomic.Int64
	SnapshotCount     atomic.Int64
	SnapshotErrors    atomic.Int64
	SnapshotBytes     atomic.Int64
}

// RecordBuild implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBuild(_ string, _ int, duration time.Duration, err error) {
	b.BuildCount.Add(1)
	b.BuildTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.BuildErrors.Add(1)
	}
}

// RecordHit implements MetricsCollector.
func (b *BasicMetricsCollector) RecordHit() { b.Hits.Add(1) }

// RecordMiss implements MetricsCollector.
func (b *BasicMetricsCollector) RecordMiss() { b.Misses.Add(1) }

// RecordEviction implements MetricsCollector.
func (b *BasicMetricsCollector) RecordEviction(size int) {
	b.Evictions.Add(1)
	b.EvictedBytes.Add(int64(size))
}

// RecordAdmissionFailure implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAdmissionFailure() { b.AdmissionFailures.Add(1) }

// RecordWalk implements MetricsCollector.
func (b *BasicMetricsCollector) RecordWalk(visited int, duration time.Duration, err error) {
	b.WalkCount.Add(1)
	b.WalkVisited.Add(int64(visited))
	b.WalkTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.WalkErrors.Add(1)
	}
}

// RecordSnapshot implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSnapshot(_ string, bytes int64, _ time.Duration, err error) {
	b.SnapshotCount.Add(1)
	b.SnapshotBytes.Add(bytes)
	if err != nil {
		b.SnapshotErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		BuildCount:        b.BuildCount.Load(),
		BuildErrors:       b.BuildErrors.Load(),
		BuildAvgNanos:     avg(b.BuildTotalNanos.Load(), b.BuildCount.Load()),
		Hits:              b.Hits.Load(),
		Misses:            b.Misses.Load(),
		HitRatio:          b.hitRatio(),
		Evictions:         b.Evictions.Load(),
		EvictedBytes:      b.EvictedBytes.Load(),
		AdmissionFailures: b.AdmissionFailures.Load(),
		WalkCount:         b.WalkCount.Load(),
		WalkErrors:        b.WalkErrors.Load(),
		WalkVisited:       b.WalkVisited.Load(),
		WalkAvgNanos:      avg(b.WalkTotalNanos.Load(), b.WalkCount.Load()),
		SnapshotCount:     b.SnapshotCount.Load(),
		SnapshotErrors:    b.SnapshotErrors.Load(),
		SnapshotBytes:     b.SnapshotBytes.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

func (b *BasicMetricsCollector) hitRatio() float64 {
	hits, misses := b.Hits.Load(), b.Misses.Load()
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	BuildCount        int64
	BuildErrors       int64
	BuildAvgNanos     int64
	Hits              int64
	Misses            int64
	HitRatio          float64
	Evictions         int64
	EvictedBytes      int64
	AdmissionFailures int64
	WalkCount         int64
	WalkErrors        int64
	WalkVisited       int64
	WalkAvgNanos      int64
	SnapshotCount     int64
	SnapshotErrors    int64
	SnapshotBytes     int64
}

// residencyObserver forwards residency events to a MetricsCollector.
type residencyObserver struct {
	mc MetricsCollector
}

func (o residencyObserver) OnHit()              { o.mc.RecordHit() }
func (o residencyObserver) OnMiss()             { o.mc.RecordMiss() }
func (o residencyObserver) OnEvict(size int)    { o.mc.RecordEviction(size) }
func (o residencyObserver) OnAdmissionFailure() { o.mc.RecordAdmissionFailure() }
