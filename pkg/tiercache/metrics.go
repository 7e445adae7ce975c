package tiercache

// metrics.go contains a thin abstraction over Prometheus so a Cache can be
// used with or without metrics. When the caller passes a
// *prometheus.Registry via WithMetrics, labeled metrics are created and
// registered; otherwise a no-op sink is used and the hot path does not pay
// for metric updates.
//
// Grounded on the teacher's pkg/metrics.go (metricsSink interface,
// noopMetrics/promMetrics pair, atomic mirrors for gauge deltas), extended
// with ghost/promotion/sweep counters specific to the GDSF admission engine.
//
// © 2025 tiercache authors. MIT License.

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metricsSink abstracts away the concrete backend (Prometheus vs noop). Not
// exposed outside the package.
type metricsSink interface {
	incHit()
	incMiss()
	incGhostInstall()
	incPromotion()
	incEviction()
	incEvictionToGhost()
	incCoalesced()
	setMemoryBytes(v int64)
	setUsage(v float64)
}

type noopMetrics struct{}

func (noopMetrics) incHit()                {}
func (noopMetrics) incMiss()               {}
func (noopMetrics) incGhostInstall()       {}
func (noopMetrics) incPromotion()          {}
func (noopMetrics) incEviction()           {}
func (noopMetrics) incEvictionToGhost()    {}
func (noopMetrics) incCoalesced()          {}
func (noopMetrics) setMemoryBytes(int64)   {}
func (noopMetrics) setUsage(float64)       {}

type promMetrics struct {
	hits           prometheus.Counter
	misses         prometheus.Counter
	ghostInstalls  prometheus.Counter
	promotions     prometheus.Counter
	evictions      prometheus.Counter
	evictToGhost   prometheus.Counter
	coalesced      prometheus.Counter
	memoryBytes    prometheus.Gauge
	usage          prometheus.Gauge
}

func newPromMetrics(name string, reg *prometheus.Registry) *promMetrics {
	label := prometheus.Labels{"cache": name}

	pm := &promMetrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tiercache", Name: "hits_total",
			Help: "Number of L1 cache hits.", ConstLabels: label,
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tiercache", Name: "misses_total",
			Help: "Number of L1 cache misses (origin fetch attempted).", ConstLabels: label,
		}),
		ghostInstalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tiercache", Name: "ghost_installs_total",
			Help: "Number of ghost slots installed or refreshed.", ConstLabels: label,
		}),
		promotions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tiercache", Name: "promotions_total",
			Help: "Number of ghosts promoted to real entries.", ConstLabels: label,
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tiercache", Name: "evictions_total",
			Help: "Number of real entries evicted entirely (no ghost installed).", ConstLabels: label,
		}),
		evictToGhost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tiercache", Name: "evictions_to_ghost_total",
			Help: "Number of real entries demoted to a ghost candidate.", ConstLabels: label,
		}),
		coalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tiercache", Name: "writes_coalesced_total",
			Help: "Number of write-through calls that rode a concurrent identical write.", ConstLabels: label,
		}),
		memoryBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tiercache", Name: "memory_bytes",
			Help: "Live bytes charged to this cache's memory accounting counter.", ConstLabels: label,
		}),
		usage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tiercache", Name: "memory_usage_ratio",
			Help: "memory_bytes / max_memory, or 0 when disabled.", ConstLabels: label,
		}),
	}

	reg.MustRegister(pm.hits, pm.misses, pm.ghostInstalls, pm.promotions,
		pm.evictions, pm.evictToGhost, pm.coalesced, pm.memoryBytes, pm.usage)
	return pm
}

func (m *promMetrics) incHit()             { m.hits.Inc() }
func (m *promMetrics) incMiss()            { m.misses.Inc() }
func (m *promMetrics) incGhostInstall()    { m.ghostInstalls.Inc() }
func (m *promMetrics) incPromotion()       { m.promotions.Inc() }
func (m *promMetrics) incEviction()        { m.evictions.Inc() }
func (m *promMetrics) incEvictionToGhost() { m.evictToGhost.Inc() }
func (m *promMetrics) incCoalesced()       { m.coalesced.Inc() }
func (m *promMetrics) setMemoryBytes(v int64) { m.memoryBytes.Set(float64(v)) }
func (m *promMetrics) setUsage(v float64)     { m.usage.Set(v) }

func newMetricsSink(name string, reg *prometheus.Registry) metricsSink {
	if reg == nil {
		return noopMetrics{}
	}
	return newPromMetrics(name, reg)
}
