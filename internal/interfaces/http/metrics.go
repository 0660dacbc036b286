package http

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	io_prometheus_client "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog/log"
)

// MetricsRegistry holds all Prometheus metrics for regimescan.
type MetricsRegistry struct {
	registry *prometheus.Registry

	// Scan pipeline metrics
	ScanDuration *prometheus.HistogramVec
	ScansTotal   *prometheus.CounterVec
	Detections   *prometheus.CounterVec

	// Provider metrics, fed through the client's metrics callback
	ProviderRequests  *prometheus.CounterVec
	ProviderLatency   *prometheus.HistogramVec
	ProviderCacheHits prometheus.Counter
}

// NewMetricsRegistry creates the regimescan metrics registry.
func NewMetricsRegistry() *MetricsRegistry {
	m := &MetricsRegistry{
		registry: prometheus.NewRegistry(),
		ScanDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "regimescan_scan_duration_seconds",
				Help:    "Duration of one full MDL scan pass",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"source"},
		),
		ScansTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regimescan_scans_total",
				Help: "Completed scans by source and outcome",
			},
			[]string{"source", "outcome"},
		),
		Detections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regimescan_detections_total",
				Help: "Scans that reported a regime change",
			},
			[]string{"source"},
		),
		ProviderRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regimescan_provider_requests_total",
				Help: "Upstream market-data requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),
		ProviderLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "regimescan_provider_request_duration_ms",
				Help:    "Upstream market-data request latency in milliseconds",
				Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
			},
			[]string{"endpoint"},
		),
		ProviderCacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "regimescan_provider_cache_hits_total",
				Help: "Close-series fetches served from the warm cache",
			},
		),
	}

	m.registry.MustRegister(m.ScanDuration, m.ScansTotal, m.Detections,
		m.ProviderRequests, m.ProviderLatency, m.ProviderCacheHits)
	return m
}

// RecordScan observes one completed scan.
func (m *MetricsRegistry) RecordScan(source string, seconds float64, detected bool) {
	m.ScanDuration.WithLabelValues(source).Observe(seconds)
	outcome := "no_change"
	if detected {
		outcome = "change_detected"
		m.Detections.WithLabelValues(source).Inc()
	}
	m.ScansTotal.WithLabelValues(source, outcome).Inc()
}

// ProviderCallback adapts the registry to the provider's metrics hook.
func (m *MetricsRegistry) ProviderCallback(metric string, value float64, tags map[string]string) {
	switch metric {
	case "alphavantage_requests_total":
		m.ProviderRequests.WithLabelValues(tags["endpoint"], tags["status"]).Add(value)
	case "alphavantage_request_duration_ms":
		m.ProviderLatency.WithLabelValues(tags["endpoint"]).Observe(value)
	case "alphavantage_cache_hits_total":
		m.ProviderCacheHits.Add(value)
	}
}

// Handler returns the Prometheus exposition handler for this registry.
func (m *MetricsRegistry) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ScanCounts reads the scan counters back out of the registry for the
// JSON summary endpoint.
func (m *MetricsRegistry) ScanCounts(source string) (detected, total float64) {
	var metric io_prometheus_client.Metric

	for _, outcome := range []string{"change_detected", "no_change"} {
		counter, err := m.ScansTotal.GetMetricWithLabelValues(source, outcome)
		if err != nil {
			log.Warn().Err(err).Msg("failed to read scan counter")
			continue
		}
		if err := counter.Write(&metric); err != nil {
			continue
		}
		total += metric.GetCounter().GetValue()
		if outcome == "change_detected" {
			detected += metric.GetCounter().GetValue()
		}
	}
	return detected, total
}
