// Package metrics exports run and HTTP metrics to Prometheus.
package metrics

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/songzhibin97/graph-engine/events"
)

// Run outcomes recorded by RunsFinishedTotal.
const (
	OutcomeCompleted = "completed"
	OutcomeGuard     = "guard"
)

var (
	nodeDurationBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}
	httpDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
)

// Metrics holds the Prometheus instruments of the service.
type Metrics struct {
	RunsStartedTotal  *prometheus.CounterVec
	RunsFinishedTotal *prometheus.CounterVec
	RunsFailedTotal   *prometheus.CounterVec
	NodeExecutions    *prometheus.CounterVec
	NodeDuration      *prometheus.HistogramVec

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// InitMetrics creates the instruments and registers them with reg.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsStartedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "graphengine_runs_started_total",
			Help: "Total number of runs started.",
		}, []string{"graph_id"}),
		RunsFinishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "graphengine_runs_finished_total",
			Help: "Total number of runs finished, by outcome.",
		}, []string{"graph_id", "outcome"}),
		RunsFailedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "graphengine_runs_failed_total",
			Help: "Total number of runs aborted by an error.",
		}, []string{"graph_id"}),
		NodeExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "graphengine_node_executions_total",
			Help: "Total number of node executions.",
		}, []string{"graph_id", "node"}),
		NodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "graphengine_node_duration_seconds",
			Help:    "Operation duration per node in seconds.",
			Buckets: nodeDurationBuckets,
		}, []string{"graph_id", "node"}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "graphengine_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "graphengine_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
	}

	reg.MustRegister(
		m.RunsStartedTotal,
		m.RunsFinishedTotal,
		m.RunsFailedTotal,
		m.NodeExecutions,
		m.NodeDuration,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)
	return m
}

// Subscriber is anything that delivers engine events.
type Subscriber interface {
	SubscribeEvent(eventType string, handler events.EventHandler)
}

// Subscribe records every run event delivered by s.
func (m *Metrics) Subscribe(s Subscriber) {
	for _, t := range []string{events.RunStarted, events.NodeExecuted, events.RunFinished, events.RunFailed} {
		s.SubscribeEvent(t, m)
	}
}

// Handle implements events.EventHandler.
func (m *Metrics) Handle(ctx context.Context, event events.Event) error {
	switch event.Type {
	case events.RunStarted:
		m.RunsStartedTotal.WithLabelValues(event.GraphID).Inc()
	case events.NodeExecuted:
		m.NodeExecutions.WithLabelValues(event.GraphID, event.Node).Inc()
		if d, ok := event.Data["duration"].(time.Duration); ok {
			m.NodeDuration.WithLabelValues(event.GraphID, event.Node).Observe(d.Seconds())
		}
	case events.RunFinished:
		outcome := OutcomeCompleted
		if guard, _ := event.Data["guard_trip"].(bool); guard {
			outcome = OutcomeGuard
		}
		m.RunsFinishedTotal.WithLabelValues(event.GraphID, outcome).Inc()
	case events.RunFailed:
		m.RunsFailedTotal.WithLabelValues(event.GraphID).Inc()
	}
	return nil
}

// Middleware records request metrics under chi's route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		pattern := routePattern(r)
		m.HTTPRequestsTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(sw.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor serves the metrics gathered by g.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// routePattern falls back to the raw path outside a chi route.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.TrimSuffix(strings.Join(rctx.RoutePatterns, ""), "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

type statusWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.written = true
	return w.ResponseWriter.Write(b)
}

// Hijack lets websocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.written = true
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
