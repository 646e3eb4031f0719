package service

import (
	"net/http"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/qubelab/qube-monitor/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation for the link and the
// aggregator. All observers are nil-safe so instrumentation stays optional.
type MetricsService struct {
	registry      *prometheus.Registry
	handler       http.Handler
	linesReceived prometheus.Counter
	linesRejected *prometheus.CounterVec
	statusChanges *prometheus.CounterVec
	reconnects    prometheus.Counter
	linkState     prometheus.Gauge
}

// NewMetricsService registers the core collectors on a private registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	linesReceived := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "serial_lines_received_total",
		Help: "Total lines received on the serial link",
	})

	linesRejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "serial_lines_rejected_total",
		Help: "Total protocol lines rejected by the codec",
	}, []string{"reason"})

	statusChanges := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "student_status_changes_total",
		Help: "Total accepted student status changes",
	}, []string{"code"})

	reconnects := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "serial_reconnect_attempts_total",
		Help: "Total serial reconnection attempts",
	})

	linkState := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "serial_link_state",
		Help: "Current link state (0 disconnected, 1 connecting, 2 connected, 3 reconnecting)",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(linesReceived, linesRejected, statusChanges, reconnects, linkState, goroutines)

	return &MetricsService{
		registry:      registry,
		handler:       promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		linesReceived: linesReceived,
		linesRejected: linesRejected,
		statusChanges: statusChanges,
		reconnects:    reconnects,
		linkState:     linkState,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveLineReceived counts one received line.
func (m *MetricsService) ObserveLineReceived() {
	if m == nil {
		return
	}
	m.linesReceived.Inc()
}

// ObserveLineRejected counts one rejected line by reason.
func (m *MetricsService) ObserveLineRejected(reason string) {
	if m == nil {
		return
	}
	m.linesRejected.WithLabelValues(reason).Inc()
}

// ObserveStatusChange counts one accepted status change by code.
func (m *MetricsService) ObserveStatusChange(code models.StatusCode) {
	if m == nil {
		return
	}
	m.statusChanges.WithLabelValues(string(code)).Inc()
}

// ObserveReconnect counts one reconnection attempt.
func (m *MetricsService) ObserveReconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// ObserveLinkState records the current link state.
func (m *MetricsService) ObserveLinkState(state models.LinkState) {
	if m == nil {
		return
	}
	var v float64
	switch state {
	case models.LinkConnecting:
		v = 1
	case models.LinkConnected:
		v = 2
	case models.LinkReconnecting:
		v = 3
	}
	m.linkState.Set(v)
}
