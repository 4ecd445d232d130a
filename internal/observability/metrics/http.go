package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	analysesTotal    *prometheus.CounterVec
	analysisDuration *prometheus.HistogramVec
	analysisScores   prometheus.Histogram
	togglesTotal     *prometheus.CounterVec
	syncFailures     prometheus.Counter
	watchSessions    prometheus.Gauge
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "healthscore",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "healthscore",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "healthscore",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	analysesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "healthscore",
			Subsystem: "analysis",
			Name:      "runs_total",
			Help:      "Total report analyses by outcome.",
		},
		[]string{"service", "status"},
	)
	analysisDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "healthscore",
			Subsystem: "analysis",
			Name:      "duration_seconds",
			Help:      "Report analysis duration in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 45, 90, 180},
		},
		[]string{"service"},
	)
	analysisScores := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "healthscore",
			Subsystem: "analysis",
			Name:      "initial_score",
			Help:      "Distribution of scores assigned by completed analyses.",
			Buckets:   []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	togglesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "healthscore",
			Subsystem: "plan",
			Name:      "toggles_total",
			Help:      "Total checklist item toggles by item kind.",
		},
		[]string{"service", "kind"},
	)
	syncFailures := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "healthscore",
			Subsystem: "plan",
			Name:      "sync_failures_total",
			Help:      "Toggles applied locally whose store write failed.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	watchSessions := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "healthscore",
			Subsystem: "watch",
			Name:      "active_sessions",
			Help:      "Open document watch streams.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		analysesTotal,
		analysisDuration,
		analysisScores,
		togglesTotal,
		syncFailures,
		watchSessions,
	)

	return &HTTPServerMetrics{
		registry:         registry,
		requestTotal:     requestTotal,
		requestDuration:  requestDuration,
		requestInFlight:  requestInFlight,
		analysesTotal:    analysesTotal,
		analysisDuration: analysisDuration,
		analysisScores:   analysisScores,
		togglesTotal:     togglesTotal,
		syncFailures:     syncFailures,
		watchSessions:    watchSessions,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/health-data/plan/") && strings.Contains(path, "/tasks/"):
		return "/v1/health-data/plan/{day_index}/tasks/{task_index}/toggle"
	case strings.HasPrefix(path, "/v1/health-data/plan/"):
		return "/v1/health-data/plan/{day_index}"
	case strings.HasPrefix(path, "/v1/health-data/suggestions/"):
		return "/v1/health-data/suggestions/{index}/toggle"
	default:
		return path
	}
}

func (m *HTTPServerMetrics) RecordAnalysis(service, status string, score int, duration time.Duration) {
	if status == "" {
		status = "unknown"
	}
	m.analysesTotal.WithLabelValues(service, status).Inc()
	m.analysisDuration.WithLabelValues(service).Observe(duration.Seconds())
	if status == "ok" {
		m.analysisScores.Observe(float64(score))
	}
}

func (m *HTTPServerMetrics) RecordToggle(service, kind string) {
	if kind == "" {
		kind = "unknown"
	}
	m.togglesTotal.WithLabelValues(service, kind).Inc()
}

func (m *HTTPServerMetrics) RecordSyncFailure() {
	m.syncFailures.Inc()
}

func (m *HTTPServerMetrics) WatchSessionStarted() {
	m.watchSessions.Inc()
}

func (m *HTTPServerMetrics) WatchSessionEnded() {
	m.watchSessions.Dec()
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}

func (w *statusRecorder) Push(target string, opts *http.PushOptions) error {
	pusher, ok := w.ResponseWriter.(http.Pusher)
	if !ok {
		return http.ErrNotSupported
	}
	return pusher.Push(target, opts)
}
