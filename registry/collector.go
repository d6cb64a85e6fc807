package registry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector exports one gauge family per live connection's
// congestion state, the pattern lifted from a TCP-info Prometheus
// exporter: per-connection labelled gauges rebuilt from a live collection
// on every scrape rather than cached between scrapes.
type MetricsCollector struct {
	registry *Registry

	connectedClients *prometheus.Desc
	congestionWindow *prometheus.Desc
	ssthresh         *prometheus.Desc
	rtoSeconds       *prometheus.Desc
	inFlight         *prometheus.Desc
	retransmissions  *prometheus.Desc
	checksumErrors   *prometheus.Desc
}

// NewMetricsCollector returns a collector reading live state from reg on
// every Collect call.
func NewMetricsCollector(reg *Registry) *MetricsCollector {
	return &MetricsCollector{
		registry:         reg,
		connectedClients: prometheus.NewDesc("chatrelay_connected_clients", "Number of registered connections.", nil, nil),
		congestionWindow: prometheus.NewDesc("chatrelay_client_congestion_window", "Current cwnd for a client's send pipeline.", []string{"client_id"}, nil),
		ssthresh:         prometheus.NewDesc("chatrelay_client_ssthresh", "Current slow-start threshold for a client.", []string{"client_id"}, nil),
		rtoSeconds:       prometheus.NewDesc("chatrelay_client_rto_seconds", "Current retransmission timeout for a client.", []string{"client_id"}, nil),
		inFlight:         prometheus.NewDesc("chatrelay_client_in_flight", "Size of a client's unacknowledged set.", []string{"client_id"}, nil),
		retransmissions:  prometheus.NewDesc("chatrelay_client_retransmissions_total", "Cumulative timeout-driven resends for a client.", []string{"client_id"}, nil),
		checksumErrors:   prometheus.NewDesc("chatrelay_client_checksum_errors_total", "Cumulative decode/checksum failures for a client.", []string{"client_id"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (m *MetricsCollector) Describe(descs chan<- *prometheus.Desc) {
	descs <- m.connectedClients
	descs <- m.congestionWindow
	descs <- m.ssthresh
	descs <- m.rtoSeconds
	descs <- m.inFlight
	descs <- m.retransmissions
	descs <- m.checksumErrors
}

// Collect implements prometheus.Collector.
func (m *MetricsCollector) Collect(metrics chan<- prometheus.Metric) {
	conns := m.registry.Snapshot()
	metrics <- prometheus.MustNewConstMetric(m.connectedClients, prometheus.GaugeValue, float64(len(conns)))

	for _, c := range conns {
		if !c.Running() {
			continue
		}
		stats := c.Stats()
		metrics <- prometheus.MustNewConstMetric(m.congestionWindow, prometheus.GaugeValue, c.Controller.Cwnd, c.ID)
		metrics <- prometheus.MustNewConstMetric(m.ssthresh, prometheus.GaugeValue, c.Controller.SSThresh, c.ID)
		metrics <- prometheus.MustNewConstMetric(m.rtoSeconds, prometheus.GaugeValue, c.Controller.RTO().Seconds(), c.ID)
		metrics <- prometheus.MustNewConstMetric(m.inFlight, prometheus.GaugeValue, float64(c.SendPipe.PendingCount()), c.ID)
		metrics <- prometheus.MustNewConstMetric(m.retransmissions, prometheus.CounterValue, float64(stats.Retransmissions), c.ID)
		metrics <- prometheus.MustNewConstMetric(m.checksumErrors, prometheus.CounterValue, float64(stats.ChecksumErrors), c.ID)
	}
}
