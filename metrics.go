package abfall

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// metricsCollector holds the Prometheus instruments a heap reports through.
// It is never a package-level global — RegisterMetrics takes an explicit
// prometheus.Registerer, the same pattern moby-moby's server packages use
// so a single process can host more than one heap without collector name
// collisions.
type metricsCollector struct {
	phase atomic.Uint32

	bytesAllocated   prometheus.GaugeFunc
	phaseGauge       prometheus.GaugeFunc
	collections      prometheus.Counter
	bytesFreed       prometheus.Counter
	objectsFreed     prometheus.Counter
	allocatedTotal   prometheus.Counter
	markDuration     prometheus.Histogram
	sweepDuration    prometheus.Histogram
}

// RegisterMetrics builds a Prometheus collector bound to h and registers it
// with reg. It returns an error if any metric name collides with one
// already registered on reg (spec.md §6, SPEC_FULL.md "Metrics").
func (h *Heap) RegisterMetrics(reg prometheus.Registerer, namespace string) error {
	m := &metricsCollector{}

	m.bytesAllocated = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "abfall",
		Name:      "bytes_allocated",
		Help:      "Current live bytes tracked by the heap.",
	}, func() float64 { return float64(h.bytesAllocated.Load()) })

	m.phaseGauge = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "abfall",
		Name:      "phase",
		Help:      "Current collector phase (0=Idle, 1=Marking, 2=Sweeping).",
	}, func() float64 { return float64(m.phase.Load()) })

	m.collections = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "abfall",
		Name:      "collections_total",
		Help:      "Completed collection cycles.",
	})

	m.bytesFreed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "abfall",
		Name:      "bytes_freed_total",
		Help:      "Bytes reclaimed across all sweeps.",
	})

	m.objectsFreed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "abfall",
		Name:      "objects_freed_total",
		Help:      "Objects reclaimed across all sweeps.",
	})

	m.allocatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "abfall",
		Name:      "bytes_allocated_total",
		Help:      "Cumulative bytes ever allocated.",
	})

	m.markDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "abfall",
		Name:      "mark_duration_seconds",
		Help:      "Wall time spent in the mark phase per cycle.",
		Buckets:   prometheus.DefBuckets,
	})

	m.sweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "abfall",
		Name:      "sweep_duration_seconds",
		Help:      "Wall time spent in the sweep phase per cycle.",
		Buckets:   prometheus.DefBuckets,
	})

	collectors := []prometheus.Collector{
		m.bytesAllocated, m.phaseGauge, m.collections, m.bytesFreed,
		m.objectsFreed, m.allocatedTotal, m.markDuration, m.sweepDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}

	h.metrics = m
	return nil
}

func (m *metricsCollector) setPhase(p Phase) {
	m.phase.Store(uint32(p))
}

func (m *metricsCollector) observeAllocation(size uintptr) {
	m.allocatedTotal.Add(float64(size))
}

func (m *metricsCollector) observeCycle(mark, sweep time.Duration) {
	m.collections.Inc()
	m.markDuration.Observe(mark.Seconds())
	m.sweepDuration.Observe(sweep.Seconds())
}

func (m *metricsCollector) observeSweep(freedBytes, freedObjects uint64) {
	m.bytesFreed.Add(float64(freedBytes))
	m.objectsFreed.Add(float64(freedObjects))
}
