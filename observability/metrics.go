package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics tracks the ingestion queue and the single-writer apply loop.
type EngineMetrics struct {
	applied       *prometheus.CounterVec
	violations    *prometheus.CounterVec
	applyLatency  prometheus.Histogram
	appendLatency prometheus.Histogram
	queueDepth    prometheus.Gauge
	sequence      prometheus.Gauge
	blockNumber   prometheus.Gauge
	snapshots     *prometheus.CounterVec
	storageErrors *prometheus.CounterVec
	halted        prometheus.Gauge
}

var (
	engineMetricsOnce sync.Once
	engineRegistry    *EngineMetrics
)

// Engine returns the lazily-initialised engine metrics registered with the
// default Prometheus registry.
func Engine() *EngineMetrics {
	engineMetricsOnce.Do(func() {
		engineRegistry = &EngineMetrics{
			applied: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "channeld",
				Subsystem: "engine",
				Name:      "state_changes_total",
				Help:      "State changes applied and durably logged, by variant.",
			}, []string{"type"}),
			violations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "channeld",
				Subsystem: "engine",
				Name:      "violations_total",
				Help:      "Rejected external input, by violation code.",
			}, []string{"code"}),
			applyLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "channeld",
				Subsystem: "engine",
				Name:      "apply_duration_seconds",
				Help:      "Time spent inside the single-writer section per state change.",
				Buckets:   prometheus.DefBuckets,
			}),
			appendLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "channeld",
				Subsystem: "engine",
				Name:      "append_duration_seconds",
				Help:      "Durable log append latency.",
				Buckets:   prometheus.DefBuckets,
			}),
			queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "channeld",
				Subsystem: "engine",
				Name:      "queue_depth",
				Help:      "State changes waiting in the ingestion queue.",
			}),
			sequence: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "channeld",
				Subsystem: "engine",
				Name:      "sequence",
				Help:      "Sequence number of the last applied state change.",
			}),
			blockNumber: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "channeld",
				Subsystem: "engine",
				Name:      "block_number",
				Help:      "Chain head known to the state machine.",
			}),
			snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "channeld",
				Subsystem: "engine",
				Name:      "snapshots_total",
				Help:      "Snapshot attempts by outcome.",
			}, []string{"outcome"}),
			storageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "channeld",
				Subsystem: "engine",
				Name:      "storage_errors_total",
				Help:      "Failed store operations by operation.",
			}, []string{"op"}),
			halted: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "channeld",
				Subsystem: "engine",
				Name:      "halted",
				Help:      "1 once the engine stopped after an invariant violation.",
			}),
		}
		prometheus.MustRegister(
			engineRegistry.applied,
			engineRegistry.violations,
			engineRegistry.applyLatency,
			engineRegistry.appendLatency,
			engineRegistry.queueDepth,
			engineRegistry.sequence,
			engineRegistry.blockNumber,
			engineRegistry.snapshots,
			engineRegistry.storageErrors,
			engineRegistry.halted,
		)
	})
	return engineRegistry
}

// RecordApplied notes a logged state change and the resulting head.
func (m *EngineMetrics) RecordApplied(stateChange string, sequence uint64, block uint64, took time.Duration) {
	if m == nil {
		return
	}
	if stateChange == "" {
		stateChange = "unknown"
	}
	m.applied.WithLabelValues(stateChange).Inc()
	m.sequence.Set(float64(sequence))
	m.blockNumber.Set(float64(block))
	m.applyLatency.Observe(took.Seconds())
}

// RecordViolation counts one rejected input.
func (m *EngineMetrics) RecordViolation(code string) {
	if m == nil {
		return
	}
	if code == "" {
		code = "unspecified"
	}
	m.violations.WithLabelValues(code).Inc()
}

// ObserveAppend records the latency of one durable append.
func (m *EngineMetrics) ObserveAppend(took time.Duration) {
	if m == nil {
		return
	}
	m.appendLatency.Observe(took.Seconds())
}

// SetQueueDepth publishes the current ingestion queue length.
func (m *EngineMetrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

// RecordSnapshot counts a snapshot attempt.
func (m *EngineMetrics) RecordSnapshot(err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.snapshots.WithLabelValues(outcome).Inc()
}

// RecordStorageError counts a failed store operation such as "append".
func (m *EngineMetrics) RecordStorageError(op string) {
	if m == nil {
		return
	}
	m.storageErrors.WithLabelValues(op).Inc()
}

// SetHalted flags the engine as stopped by an invariant violation.
func (m *EngineMetrics) SetHalted() {
	if m == nil {
		return
	}
	m.halted.Set(1)
}
