// Package observability provides metrics and tracing for the server
// core: Prometheus counters and histograms over the inbound dispatch
// path, and OpenTelemetry spans around every handled request.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsConfig configures the metrics provider.
type MetricsConfig struct {
	// Namespace is the Prometheus namespace (default: mcp).
	Namespace string

	// Subsystem is the Prometheus subsystem.
	Subsystem string

	// ConstLabels are added to every metric.
	ConstLabels prometheus.Labels

	// Registerer receives the collectors. Defaults to the global
	// registerer.
	Registerer prometheus.Registerer

	// HistogramBuckets overrides the latency buckets.
	HistogramBuckets []float64
}

// Metrics records the server-side dispatch metrics.
type Metrics struct {
	requestDuration  *prometheus.HistogramVec
	requestTotal     *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec
	notificationIn   *prometheus.CounterVec
	errorTotal       *prometheus.CounterVec
	activeSessions   prometheus.Gauge
}

// NewMetrics creates and registers the dispatch metrics.
func NewMetrics(config MetricsConfig) (*Metrics, error) {
	if config.Namespace == "" {
		config.Namespace = "mcp"
	}
	if config.Registerer == nil {
		config.Registerer = prometheus.DefaultRegisterer
	}
	buckets := config.HistogramBuckets
	if buckets == nil {
		buckets = []float64{.001, .005, .01, .05, .1, .5, 1, 5, 30}
	}

	m := &Metrics{
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "request_duration_seconds",
			Help:        "Latency of inbound requests by method and status.",
			Buckets:     buckets,
			ConstLabels: config.ConstLabels,
		}, []string{"method", "status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "requests_total",
			Help:        "Inbound requests by method and status.",
			ConstLabels: config.ConstLabels,
		}, []string{"method", "status"}),
		toolCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "tool_call_duration_seconds",
			Help:        "Latency of tool invocations by tool and status.",
			Buckets:     buckets,
			ConstLabels: config.ConstLabels,
		}, []string{"tool", "status"}),
		notificationIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "notifications_received_total",
			Help:        "Inbound notifications by method.",
			ConstLabels: config.ConstLabels,
		}, []string{"method"}),
		errorTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "errors_total",
			Help:        "Error responses by method and JSON-RPC code.",
			ConstLabels: config.ConstLabels,
		}, []string{"method", "code"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "active_sessions",
			Help:        "Sessions currently in the Ready state.",
			ConstLabels: config.ConstLabels,
		}),
	}

	collectors := []prometheus.Collector{
		m.requestDuration, m.requestTotal, m.toolCallDuration,
		m.notificationIn, m.errorTotal, m.activeSessions,
	}
	for _, c := range collectors {
		if err := config.Registerer.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}

	return m, nil
}

// RecordRequest records one dispatched request.
func (m *Metrics) RecordRequest(method, status string, duration time.Duration) {
	m.requestTotal.WithLabelValues(method, status).Inc()
	m.requestDuration.WithLabelValues(method, status).Observe(duration.Seconds())
}

// RecordToolCall records one tool invocation.
func (m *Metrics) RecordToolCall(tool, status string, duration time.Duration) {
	m.toolCallDuration.WithLabelValues(tool, status).Observe(duration.Seconds())
}

// RecordNotification records one inbound notification.
func (m *Metrics) RecordNotification(method string) {
	m.notificationIn.WithLabelValues(method).Inc()
}

// RecordError records one error response.
func (m *Metrics) RecordError(method string, code int) {
	m.errorTotal.WithLabelValues(method, fmt.Sprintf("%d", code)).Inc()
}

// SessionStarted marks a session as Ready.
func (m *Metrics) SessionStarted() {
	m.activeSessions.Inc()
}

// SessionEnded marks a session as Closed.
func (m *Metrics) SessionEnded() {
	m.activeSessions.Dec()
}

// ServeMetrics exposes the default registry over HTTP until the context
// is canceled. Intended for deployments that scrape the server process.
func ServeMetrics(ctx context.Context, addr, path string) error {
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
