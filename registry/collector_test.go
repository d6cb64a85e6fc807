package registry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescribeEmitsEveryDesc(t *testing.T) {
	reg := New()
	collector := NewMetricsCollector(reg)

	descs := make(chan *prometheus.Desc, 16)
	collector.Describe(descs)
	close(descs)

	count := 0
	for range descs {
		count++
	}
	assert.Equal(t, 7, count)
}

func TestCollectEmitsOneMetricSetPerRunningConnection(t *testing.T) {
	reg := New()
	c, _ := newTestConnection(t, "client_1", nil)
	reg.Add(c)
	collector := NewMetricsCollector(reg)

	metrics := make(chan prometheus.Metric, 64)
	collector.Collect(metrics)
	close(metrics)

	count := 0
	for range metrics {
		count++
	}
	// connected_clients + 6 per-connection gauges/counters for the one
	// running connection.
	require.Equal(t, 7, count)
}

func TestCollectSkipsClosedConnections(t *testing.T) {
	reg := New()
	c, _ := newTestConnection(t, "client_1", nil)
	reg.Add(c)
	c.Close()
	collector := NewMetricsCollector(reg)

	metrics := make(chan prometheus.Metric, 64)
	collector.Collect(metrics)
	close(metrics)

	count := 0
	for range metrics {
		count++
	}
	assert.Equal(t, 1, count, "only connected_clients, no per-connection metrics for a closed connection")
}
