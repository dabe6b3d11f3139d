// Copyright (C) 2025-2026, Plenum Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package monitor implements the Monitor (spec 4.8, C8): an
// advisory master-degradation detector. It tracks per-instance
// throughput and latency as exponential moving averages and, when the
// master instance falls behind the backup instances' median by more
// than the configured tolerance for a sustained period, proposes an
// InstanceChange. Firing is advisory only — the View-Change Service
// ([[viewchange]]) still requires its own quorum before a view
// actually changes.
package monitor

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/plenum-bft/plenum/config"
	"github.com/plenum-bft/plenum/metrics"
	"github.com/plenum-bft/plenum/plog"
)

// ema is a revival-spike-resistant exponential moving average:
// samples are only folded in when the observing interval actually
// produced activity, so an instance coming back from an idle period
// (e.g. recovering from a view change) does not register its first
// burst as a throughput spike against a stale zero baseline. window
// sets the smoothing factor (alpha = 2/(window+1), the standard EMA
// derivation); minSamples gates ready so a freshly started monitor
// does not evaluate degradation against a near-empty average.
type ema struct {
	alpha      float64
	value      float64
	samples    int
	minSamples int
}

func newEMA(window, minSamples int) *ema {
	return &ema{alpha: 2.0 / (float64(window) + 1.0), minSamples: minSamples}
}

func (e *ema) update(x float64) {
	if e.samples == 0 {
		e.value = x
	} else {
		e.value = e.alpha*x + (1-e.alpha)*e.value
	}
	e.samples++
}

func (e *ema) ready() bool {
	return e.samples >= e.minSamples
}

const (
	throughputWindow     = 15
	throughputMinSamples = 16
	latencyWindow        = 15
	latencyMinSamples    = 20
)

// InstanceChange is the Monitor's advisory output (spec 4.8: "Firing
// publishes an InstanceChange").
type InstanceChange struct {
	ViewNo           uint64
	DegradedInstance int
	Reason           string
}

type instanceStats struct {
	throughput *ema
	latency    *ema

	pendingCount int
}

// Monitor tracks per-instance throughput/latency EMAs and fires
// InstanceChange proposals on sustained master degradation.
type Monitor struct {
	mu sync.Mutex

	master  int
	params  config.Parameters
	log     plog.Logger
	metrics *metrics.Metrics

	stats map[int]*instanceStats

	degradedSince time.Time
	lastCheck     time.Time
	viewNo        uint64
}

// Config bundles a Monitor's dependencies.
type Config struct {
	Master  int
	Params  config.Parameters
	Log     plog.Logger
	Metrics *metrics.Metrics
}

// New creates a Monitor. master identifies the master instance (0 in
// a single-ledger-master deployment); backup instances are whichever
// other instance IDs are reported to RecordOrdered/RecordLatency.
func New(cfg Config) *Monitor {
	return &Monitor{
		master:  cfg.Master,
		params:  cfg.Params,
		log:     plog.OrNoOp(cfg.Log),
		metrics: cfg.Metrics,
		stats:   make(map[int]*instanceStats),
	}
}

func (m *Monitor) statsFor(instance int) *instanceStats {
	s, ok := m.stats[instance]
	if !ok {
		s = &instanceStats{
			throughput: newEMA(throughputWindow, throughputMinSamples),
			latency:    newEMA(latencyWindow, latencyMinSamples),
		}
		m.stats[instance] = s
	}
	return s
}

// ViewChanged resets degradation tracking after a view change installs
// a new primary: the instance that was degraded is no longer
// necessarily the master, and a fresh observation window should start
// clean rather than carry over a stale degraded-since timestamp.
func (m *Monitor) ViewChanged(newView uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.viewNo = newView
	m.degradedSince = time.Time{}
}

// RecordOrdered records that one batch of reqCount requests was
// ordered on instance since the last CheckPerformance call; throughput
// is derived from the accumulated count at the next check.
func (m *Monitor) RecordOrdered(instance, reqCount int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statsFor(instance).pendingCount += reqCount
}

// RecordLatency folds one request's ordering latency into instance's
// latency EMA directly (spec 4.8: "per-client latency (EMA, min
// samples 20)").
func (m *Monitor) RecordLatency(instance int, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.statsFor(instance)
	s.latency.update(latency.Seconds())
	if m.metrics != nil {
		m.metrics.SetMonitorEMA(m.instanceLabel(instance), "latency", s.latency.value)
	}
}

// CheckPerformance folds each instance's accumulated ordered-request
// count since the last check into its throughput EMA, compares the
// master against the backup median, and reports an InstanceChange if
// the degradation condition (spec 4.8) has now been sustained for
// PerfCheckFreq — the config surface collapses ACC_MONITOR_TIMEOUT
// into the same field as the check cadence (see DESIGN.md).
func (m *Monitor) CheckPerformance(now time.Time) (*InstanceChange, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var elapsed time.Duration
	if !m.lastCheck.IsZero() {
		elapsed = now.Sub(m.lastCheck)
	}
	m.lastCheck = now

	for instance, s := range m.stats {
		if s.pendingCount > 0 && elapsed > 0 {
			s.throughput.update(float64(s.pendingCount) / elapsed.Seconds())
			if m.metrics != nil {
				m.metrics.SetMonitorEMA(m.instanceLabel(instance), "throughput", s.throughput.value)
			}
		}
		s.pendingCount = 0
	}

	masterStats, ok := m.stats[m.master]
	if !ok || !masterStats.throughput.ready() || !masterStats.latency.ready() {
		m.degradedSince = time.Time{}
		return nil, false
	}

	backupThroughput, backupLatency, ok := m.backupMedians()
	if !ok {
		m.degradedSince = time.Time{}
		return nil, false
	}

	throughputDegraded := masterStats.throughput.value < backupThroughput*(1-m.params.Delta)
	latencyDegraded := masterStats.latency.value > backupLatency+m.params.Lambda.Seconds()

	if !throughputDegraded && !latencyDegraded {
		m.degradedSince = time.Time{}
		return nil, false
	}

	if m.degradedSince.IsZero() {
		m.degradedSince = now
		return nil, false
	}

	if now.Sub(m.degradedSince) < m.params.PerfCheckFreq {
		return nil, false
	}

	reason := "throughput"
	if latencyDegraded && !throughputDegraded {
		reason = "latency"
	} else if latencyDegraded {
		reason = "throughput+latency"
	}
	m.degradedSince = time.Time{}
	return &InstanceChange{ViewNo: m.viewNo, DegradedInstance: m.master, Reason: reason}, true
}

// backupMedians computes the median throughput and latency EMA across
// every non-master instance with a ready sample count. ok is false if
// no backup instance has enough samples to compare against yet.
func (m *Monitor) backupMedians() (throughput, latency float64, ok bool) {
	var throughputs, latencies []float64
	for instance, s := range m.stats {
		if instance == m.master {
			continue
		}
		if s.throughput.ready() {
			throughputs = append(throughputs, s.throughput.value)
		}
		if s.latency.ready() {
			latencies = append(latencies, s.latency.value)
		}
	}
	if len(throughputs) == 0 || len(latencies) == 0 {
		return 0, 0, false
	}
	return median(throughputs), median(latencies), true
}

func median(xs []float64) float64 {
	sorted := append([]float64{}, xs...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func (m *Monitor) instanceLabel(instance int) string {
	if instance == m.master {
		return "master"
	}
	return fmt.Sprintf("backup-%d", instance)
}
