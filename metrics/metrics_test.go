// Copyright (C) 2025-2026, Plenum Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func gaugeValue(t *testing.T, vec *prometheus.GaugeVec, labels ...string) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, vec.WithLabelValues(labels...).Write(m))
	return m.GetGauge().GetValue()
}

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, vec.WithLabelValues(labels...).Write(m))
	return m.GetCounter().GetValue()
}

func TestNewRegistersEveryCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)
	require.NotNil(t, m)

	// A Vec collector only gathers once it has a child, so create one
	// child per Vec before gathering.
	m.StashSize.WithLabelValues("replica")
	m.StashDropped.WithLabelValues("replica")
	m.QuorumLatency.WithLabelValues("prepare")
	m.MonitorEMA.WithLabelValues("master", "throughput")
	m.OrderedBatch.WithLabelValues("domain")

	families, err := reg.Gather()
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(families), 5)
}

func TestSetStashSizeAndDropped(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)

	m.SetStashSize("replica", 42)
	require.Equal(t, float64(42), gaugeValue(t, m.StashSize, "replica"))

	m.IncStashDropped("replica")
	m.IncStashDropped("replica")
	require.Equal(t, float64(2), counterValue(t, m.StashDropped, "replica"))
}

func TestOrderedBatchAndViewChangeCounters(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)

	m.IncOrderedBatch("domain")
	m.IncOrderedBatch("domain")
	m.IncOrderedBatch("pool")
	require.Equal(t, float64(2), counterValue(t, m.OrderedBatch, "domain"))
	require.Equal(t, float64(1), counterValue(t, m.OrderedBatch, "pool"))

	m.IncViewChange()
	dtoMetric := &dto.Metric{}
	require.NoError(t, m.ViewChanges.Write(dtoMetric))
	require.Equal(t, float64(1), dtoMetric.GetCounter().GetValue())
}

func TestMonitorEMATracksSeriesIndependently(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)

	m.SetMonitorEMA("master", "throughput", 12.5)
	m.SetMonitorEMA("master", "latency", 0.3)
	require.Equal(t, 12.5, gaugeValue(t, m.MonitorEMA, "master", "throughput"))
	require.Equal(t, 0.3, gaugeValue(t, m.MonitorEMA, "master", "latency"))
}
