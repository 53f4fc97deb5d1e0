package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lushonline/moodle-mod-externalcontent/internal/lrs"
)

// Metrics holds the LRS collectors on their own registry.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	statementsTotal     *prometheus.CounterVec
	statementDuration   prometheus.Histogram
	updatesTotal        *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lrs_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"route", "method", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lrs_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		statementsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lrs_statements_total",
				Help: "Statements processed, by resolution outcome",
			},
			[]string{"outcome"},
		),
		statementDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "lrs_statement_duration_seconds",
				Help:    "Time to resolve and reconcile one statement",
				Buckets: prometheus.DefBuckets,
			},
		),
		updatesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lrs_state_updates_total",
				Help: "State transitions applied by reconciliation",
			},
			[]string{"kind"},
		),
	}
	m.registry.MustRegister(
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.statementsTotal,
		m.statementDuration,
		m.updatesTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StatementProcessed implements lrs.Recorder.
func (m *Metrics) StatementProcessed(outcome lrs.Outcome, resp *lrs.Response, elapsed time.Duration) {
	m.statementsTotal.WithLabelValues(outcome.String()).Inc()
	m.statementDuration.Observe(elapsed.Seconds())
	if resp == nil {
		return
	}
	if resp.ViewedUpdated {
		m.updatesTotal.WithLabelValues("viewed").Inc()
	}
	if resp.CompletionUpdated {
		m.updatesTotal.WithLabelValues("completion").Inc()
	}
	if resp.ScoreUpdated {
		m.updatesTotal.WithLabelValues("score").Inc()
	}
	if !resp.Status {
		m.updatesTotal.WithLabelValues("none").Inc()
	}
}

// Instrument records request count and latency per chi route pattern.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
		m.httpRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
	})
}
