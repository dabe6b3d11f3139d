// Copyright (C) 2025-2026, Plenum Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package metrics wires the ambient Prometheus surface this module
// carries regardless of spec.md's "no dashboards" Non-goal (SPEC_FULL
// 4.14): the library itself — structured counters, gauges, and
// histograms — is exercised; no export server or dashboard is built.
// Metrics covers stash occupancy/eviction (spec 4.5/5), quorum-reached
// latency, monitor EMAs (spec 4.8), per-ledger ordered-batch counts,
// and view-change counts.
//
// Grounded on the teacher's metrics.Metrics/NewMetrics wrapper over
// prometheus.Registerer (github.com/luxfi/consensus/metrics), here
// using real prometheus collector types directly rather than the
// teacher's hand-rolled Counter/Gauge/Averager indirection, since this
// module has no need to swap the prometheus dependency out later.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every collector this module registers, mirroring the
// teacher's single-struct-of-collectors shape.
type Metrics struct {
	StashSize     *prometheus.GaugeVec
	StashDropped  *prometheus.CounterVec
	QuorumLatency *prometheus.HistogramVec
	MonitorEMA    *prometheus.GaugeVec
	OrderedBatch  *prometheus.CounterVec
	ViewChanges   prometheus.Counter
}

// New creates and registers every collector against reg, grounded on
// the teacher's Metrics.Register-on-construction pattern.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		StashSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "plenum",
			Name:      "stash_size",
			Help:      "Current number of stashed messages, by stash kind.",
		}, []string{"kind"}),
		StashDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plenum",
			Name:      "stash_dropped_total",
			Help:      "Messages dropped after a stash reached its configured limit.",
		}, []string{"kind"}),
		QuorumLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "plenum",
			Name:      "quorum_latency_seconds",
			Help:      "Time from a slot's first vote to its strong quorum, by phase.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"phase"}),
		MonitorEMA: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "plenum",
			Name:      "monitor_ema",
			Help:      "Monitor's exponential moving averages, by instance and series (throughput/latency).",
		}, []string{"instance", "series"}),
		OrderedBatch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plenum",
			Name:      "ordered_batches_total",
			Help:      "Ordered batches applied to a ledger, by ledger_id.",
		}, []string{"ledger_id"}),
		ViewChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "plenum",
			Name:      "view_changes_total",
			Help:      "Completed view changes.",
		}),
	}
	for _, c := range []prometheus.Collector{
		m.StashSize, m.StashDropped, m.QuorumLatency, m.MonitorEMA, m.OrderedBatch, m.ViewChanges,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// SetStashSize records kind's current occupancy.
func (m *Metrics) SetStashSize(kind string, n int) {
	m.StashSize.WithLabelValues(kind).Set(float64(n))
}

// IncStashDropped records one message dropped from kind's stash.
func (m *Metrics) IncStashDropped(kind string) {
	m.StashDropped.WithLabelValues(kind).Inc()
}

// ObserveQuorumLatency records how long phase took to reach its strong
// quorum, in seconds.
func (m *Metrics) ObserveQuorumLatency(phase string, seconds float64) {
	m.QuorumLatency.WithLabelValues(phase).Observe(seconds)
}

// SetMonitorEMA records instance's current throughput or latency
// moving average (series is "throughput" or "latency", spec 4.8).
func (m *Metrics) SetMonitorEMA(instance, series string, value float64) {
	m.MonitorEMA.WithLabelValues(instance, series).Set(value)
}

// IncOrderedBatch records one batch ordered onto ledgerID.
func (m *Metrics) IncOrderedBatch(ledgerID string) {
	m.OrderedBatch.WithLabelValues(ledgerID).Inc()
}

// IncViewChange records one completed view change.
func (m *Metrics) IncViewChange() {
	m.ViewChanges.Inc()
}
