// Package prometheus exports scene metrics to Prometheus.
//
//	c := prometheus.NewCollector("svdag")
//	if err := c.Register(promclient.DefaultRegisterer); err != nil { ... }
//	scene, _ := svdag.Open(svdag.WithMetricsCollector(c))
//	c.WatchScene(scene)
package prometheus

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/svdag"
)

// Collector implements svdag.MetricsCollector with Prometheus metrics.
type Collector struct {
	namespace string

	opLatency   *prometheus.HistogramVec
	residency   *prometheus.CounterVec
	evictedSize prometheus.Counter
	walkVisits  prometheus.Histogram
	snapshot    *prometheus.CounterVec

	collectors []prometheus.Collector
	reg        prometheus.Registerer
}

var _ svdag.MetricsCollector = (*Collector)(nil)

// NewCollector creates the metrics under namespace. They are exported
// once Register is called.
func NewCollector(namespace string) *Collector {
	c := &Collector{
		namespace: namespace,
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_latency_seconds",
			Help:      "Latency of builds, walks and snapshot IO.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op", "status"}),
		residency: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "residency_events_total",
			Help:      "Residency hits, misses, evictions and admission failures.",
		}, []string{"event"}),
		evictedSize: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evicted_bytes_total",
			Help:      "Encoded bytes evicted from the shared region.",
		}),
		walkVisits: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "walk_visited_nodes",
			Help:      "Nodes yielded per walk.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 12),
		}),
		snapshot: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_bytes_total",
			Help:      "Stored snapshot bytes written and read.",
		}, []string{"op"}),
	}
	c.collectors = []prometheus.Collector{c.opLatency, c.residency, c.evictedSize, c.walkVisits, c.snapshot}
	return c
}

// Register registers all metrics with reg.
func (c *Collector) Register(reg prometheus.Registerer) error {
	for _, m := range c.collectors {
		if err := reg.Register(m); err != nil {
			return err
		}
	}
	c.reg = reg
	return nil
}

// WatchScene exports gauges that read s.Stats on every scrape. It must be
// called after Register.
func (c *Collector) WatchScene(s *svdag.Scene) error {
	if c.reg == nil {
		return errors.New("prometheus: collector not registered")
	}
	gauge := func(name, help string, fn func(svdag.Stats) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: c.namespace,
			Name:      name,
			Help:      help,
		}, func() float64 { return fn(s.Stats()) })
	}
	gauges := []prometheus.Collector{
		gauge("resident_bytes", "Encoded bytes resident in the shared region.",
			func(st svdag.Stats) float64 { return float64(st.Residency.Used) }),
		gauge("budget_bytes", "Residency budget.",
			func(st svdag.Stats) float64 { return float64(st.Residency.Budget) }),
		gauge("resident_nodes", "Nodes resident in the shared region.",
			func(st svdag.Stats) float64 { return float64(st.Residency.Resident) }),
		gauge("pinned_nodes", "Nodes currently pinned.",
			func(st svdag.Stats) float64 { return float64(st.Residency.Pinned) }),
		gauge("table_nodes", "Interned nodes.",
			func(st svdag.Stats) float64 { return float64(st.Table.Entries) }),
		gauge("region_free_pages", "Unused slab pages of the shared region.",
			func(st svdag.Stats) float64 { return float64(st.Region.FreePages) }),
	}
	for _, g := range gauges {
		if err := c.reg.Register(g); err != nil {
			return err
		}
	}
	return nil
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordBuild implements svdag.MetricsCollector.
func (c *Collector) RecordBuild(op string, _ int, d time.Duration, err error) {
	c.opLatency.WithLabelValues(op, status(err)).Observe(d.Seconds())
}

// RecordHit implements svdag.MetricsCollector.
func (c *Collector) RecordHit() { c.residency.WithLabelValues("hit").Inc() }

// RecordMiss implements svdag.MetricsCollector.
func (c *Collector) RecordMiss() { c.residency.WithLabelValues("miss").Inc() }

// RecordEviction implements svdag.MetricsCollector.
func (c *Collector) RecordEviction(size int) {
	c.residency.WithLabelValues("evict").Inc()
	c.evictedSize.Add(float64(size))
}

// RecordAdmissionFailure implements svdag.MetricsCollector.
func (c *Collector) RecordAdmissionFailure() {
	c.residency.WithLabelValues("admission_failure").Inc()
}

// RecordWalk implements svdag.MetricsCollector.
func (c *Collector) RecordWalk(visited int, d time.Duration, err error) {
	c.opLatency.WithLabelValues("walk", status(err)).Observe(d.Seconds())
	c.walkVisits.Observe(float64(visited))
}

// RecordSnapshot implements svdag.MetricsCollector.
func (c *Collector) RecordSnapshot(op string, bytes int64, d time.Duration, err error) {
	c.opLatency.WithLabelValues("snapshot_"+op, status(err)).Observe(d.Seconds())
	if err == nil {
		c.snapshot.WithLabelValues(op).Add(float64(bytes))
	}
}
