package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/playsem-core/internal/activity"
	"github.com/nerrad567/playsem-core/internal/effect"
	"github.com/nerrad567/playsem-core/internal/engine"
	"github.com/nerrad567/playsem-core/internal/timeline"
)

const namespace = "playsem"

// Ingest results.
const (
	ResultAccepted  = "accepted"
	ResultInvalid   = "invalid"
	ResultDuplicate = "duplicate"
	ResultOverflow  = "overflow"
	ResultError     = "error"
)

// Metrics owns a private Prometheus registry and the PlaySEM collectors.
type Metrics struct {
	registry *prometheus.Registry

	outcomes    *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	attempts    prometheus.Histogram
	ingested    *prometheus.CounterVec
	transitions *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them, plus the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "outcomes_total",
			Help:      "Terminal effect outcomes per target device.",
		}, []string{"outcome", "reason"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "latency_seconds",
			Help:      "Time from an effect becoming due to its terminal outcome.",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"effect_type", "outcome"}),
		attempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "attempts",
			Help:      "Send attempts per dispatched effect and device.",
			Buckets:   []float64{1, 2, 3, 4, 5, 8},
		}),
		ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingress",
			Name:      "effects_total",
			Help:      "Effects offered by adapters, by protocol and result.",
		}, []string{"protocol", "result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "timeline",
			Name:      "transitions_total",
			Help:      "Timeline play state changes and seeks.",
		}, []string{"action"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	m.registry.MustRegister(
		m.outcomes,
		m.latency,
		m.attempts,
		m.ingested,
		m.transitions,
		m.httpRequests,
		m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveEngine registers gauges read from stats at every scrape.
func (m *Metrics) ObserveEngine(stats func() engine.Stats) {
	m.registry.MustRegister(&engineCollector{stats: stats})
}

// Record implements activity.Sink.
func (m *Metrics) Record(rec activity.Record) {
	m.outcomes.WithLabelValues(string(rec.Outcome), rec.Reason).Inc()
	if rec.Outcome == activity.OutcomeDropped {
		return
	}
	m.latency.WithLabelValues(rec.EffectType, string(rec.Outcome)).Observe(rec.Latency.Seconds())
	if rec.Attempts > 0 {
		m.attempts.Observe(float64(rec.Attempts))
	}
}

// Transition counts a timeline transition.
func (m *Metrics) Transition(t timeline.Transition) {
	m.transitions.WithLabelValues(t.Action).Inc()
}

// Ingested counts one adapter ingest call and its result.
func (m *Metrics) Ingested(protocol string, err error) {
	m.ingested.WithLabelValues(protocol, IngestResult(err)).Inc()
}

// IngestResult classifies an Ingest error for the result label.
func IngestResult(err error) string {
	switch {
	case err == nil:
		return ResultAccepted
	case errors.Is(err, effect.ErrValidation):
		return ResultInvalid
	case errors.Is(err, timeline.ErrDuplicateEffect):
		return ResultDuplicate
	case errors.Is(err, timeline.ErrSchedulerOverflow):
		return ResultOverflow
	default:
		return ResultError
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records request counts and latency, labelled by chi route
// pattern to keep cardinality bounded.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
