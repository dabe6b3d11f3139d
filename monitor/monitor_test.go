// Copyright (C) 2025-2026, Plenum Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/plenum-bft/plenum/config"
)

func warmUp(t *testing.T, m *Monitor, instance int, throughput, latencySecs float64, samples int) {
	t.Helper()
	m.mu.Lock()
	s := m.statsFor(instance)
	for i := 0; i < samples; i++ {
		s.throughput.update(throughput)
		s.latency.update(latencySecs)
	}
	m.mu.Unlock()
}

func TestCheckPerformanceRequiresReadySamples(t *testing.T) {
	params := config.Local()
	m := New(Config{Master: 0, Params: params})
	change, fired := m.CheckPerformance(time.Now())
	require.False(t, fired)
	require.Nil(t, change)
}

func TestCheckPerformanceFiresOnSustainedThroughputDegradation(t *testing.T) {
	params := config.Local()
	params.PerfCheckFreq = 10 * time.Second
	params.Delta = 0.1
	m := New(Config{Master: 0, Params: params})

	warmUp(t, m, 0, 1.0, 0.01, latencyMinSamples+1)
	warmUp(t, m, 1, 100.0, 0.01, latencyMinSamples+1)
	warmUp(t, m, 2, 100.0, 0.01, latencyMinSamples+1)

	now := time.Now()
	_, fired := m.CheckPerformance(now)
	require.False(t, fired, "first observation only arms degradedSince")

	_, fired = m.CheckPerformance(now.Add(5 * time.Second))
	require.False(t, fired, "not yet sustained for PerfCheckFreq")

	change, fired := m.CheckPerformance(now.Add(11 * time.Second))
	require.True(t, fired)
	require.Equal(t, 0, change.DegradedInstance)
	require.Equal(t, "throughput", change.Reason)
}

func TestCheckPerformanceFiresOnSustainedLatencyDegradation(t *testing.T) {
	params := config.Local()
	params.PerfCheckFreq = 10 * time.Second
	params.Lambda = 1 * time.Second
	m := New(Config{Master: 0, Params: params})

	warmUp(t, m, 0, 50.0, 5.0, latencyMinSamples+1)
	warmUp(t, m, 1, 50.0, 0.1, latencyMinSamples+1)
	warmUp(t, m, 2, 50.0, 0.1, latencyMinSamples+1)

	now := time.Now()
	m.CheckPerformance(now)
	change, fired := m.CheckPerformance(now.Add(11 * time.Second))
	require.True(t, fired)
	require.Equal(t, "latency", change.Reason)
}

func TestCheckPerformanceRecoversBeforeSustainWindow(t *testing.T) {
	params := config.Local()
	params.PerfCheckFreq = 10 * time.Second
	m := New(Config{Master: 0, Params: params})

	warmUp(t, m, 0, 1.0, 0.01, latencyMinSamples+1)
	warmUp(t, m, 1, 100.0, 0.01, latencyMinSamples+1)
	warmUp(t, m, 2, 100.0, 0.01, latencyMinSamples+1)

	now := time.Now()
	m.CheckPerformance(now)

	m.mu.Lock()
	m.stats[0].throughput.value = 100.0
	m.mu.Unlock()

	_, fired := m.CheckPerformance(now.Add(5 * time.Second))
	require.False(t, fired)

	_, fired = m.CheckPerformance(now.Add(20 * time.Second))
	require.False(t, fired, "recovered before the degradation was ever sustained long enough to fire")
}

func TestRecordOrderedFeedsThroughputAtNextCheck(t *testing.T) {
	params := config.Local()
	m := New(Config{Master: 0, Params: params})

	now := time.Now()
	m.CheckPerformance(now) // establishes lastCheck baseline

	for i := 0; i < throughputMinSamples; i++ {
		m.RecordOrdered(0, 10)
		now = now.Add(time.Second)
		m.CheckPerformance(now)
	}

	m.mu.Lock()
	ready := m.stats[0].throughput.ready()
	m.mu.Unlock()
	require.True(t, ready)
}

func TestViewChangedResetsDegradationTimer(t *testing.T) {
	params := config.Local()
	params.PerfCheckFreq = 10 * time.Second
	m := New(Config{Master: 0, Params: params})

	warmUp(t, m, 0, 1.0, 0.01, latencyMinSamples+1)
	warmUp(t, m, 1, 100.0, 0.01, latencyMinSamples+1)
	warmUp(t, m, 2, 100.0, 0.01, latencyMinSamples+1)

	now := time.Now()
	m.CheckPerformance(now)
	m.ViewChanged(7)

	_, fired := m.CheckPerformance(now.Add(11 * time.Second))
	require.False(t, fired, "view change clears the degraded-since timestamp")
}
