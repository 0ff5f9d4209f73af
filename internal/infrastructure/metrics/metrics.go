// Package metrics exposes pipeline counters to Prometheus.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stockflow/internal/core/apperror"
	"stockflow/internal/domain/audit"
	"stockflow/internal/infrastructure/messaging"
)

const namespace = "stockflow"

// Registry owns the service collectors. Safe for concurrent use.
type Registry struct {
	registry *prometheus.Registry

	transitions    *prometheus.CounterVec
	auditFailures  prometheus.Counter
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	outboxMessages *prometheus.CounterVec
	jobRuns        *prometheus.CounterVec
}

// New creates a registry with Go runtime and process collectors.
func New() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Recorded state transitions by entity type and action.",
		}, []string{"entity", "action"}),
		auditFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_write_failures_total",
			Help:      "Audit entries that could not be written.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		outboxMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "messages_total",
			Help:      "Outbox messages handled by the relay.",
		}, []string{"event_type", "result"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "job_runs_total",
			Help:      "Background job runs by job and result.",
		}, []string{"job", "result"}),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.transitions,
		r.auditFailures,
		r.httpRequests,
		r.httpDuration,
		r.outboxMessages,
		r.jobRuns,
	)
	return r
}

// PoolStats is the database pool usage exported as gauges.
type PoolStats struct {
	Total    int32
	Acquired int32
	Idle     int32
	Max      int32
}

// RegisterPool exports pool usage, reading stats on every scrape.
func (r *Registry) RegisterPool(stats func() PoolStats) {
	gauge := func(name, help string, pick func(PoolStats) int32) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "db_pool",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(pick(stats())) })
	}
	r.registry.MustRegister(
		gauge("connections", "Open connections.", func(s PoolStats) int32 { return s.Total }),
		gauge("acquired_connections", "Connections in use.", func(s PoolStats) int32 { return s.Acquired }),
		gauge("idle_connections", "Idle connections.", func(s PoolStats) int32 { return s.Idle }),
		gauge("max_connections", "Configured pool size.", func(s PoolStats) int32 { return s.Max }),
	)
}

// Handler serves the /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Gatherer exposes the underlying registry. Used in tests.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.registry }

// AuditOptions hooks the registry into an audit.Recorder.
func (r *Registry) AuditOptions() []audit.Option {
	return []audit.Option{
		audit.WithObserver(func(e audit.Entry) {
			r.transitions.WithLabelValues(e.EntityType, e.Action).Inc()
		}),
		audit.WithFailureHook(func(_ error, entries []audit.Entry) {
			r.auditFailures.Add(float64(len(entries)))
		}),
	}
}

// ObserveHTTP records one served request.
func (r *Registry) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	r.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	r.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ObserveOutbox is a messaging.Relay result hook.
func (r *Registry) ObserveOutbox(msg *messaging.Message, err error) {
	result := "published"
	if err != nil {
		result = "failed"
	}
	r.outboxMessages.WithLabelValues(msg.EventType, result).Inc()
}

// ObserveJob records a job run.
func (r *Registry) ObserveJob(job string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.As(err, new(*apperror.AppError)):
		result = apperror.Code(err)
	default:
		result = "error"
	}
	r.jobRuns.WithLabelValues(job, result).Inc()
}
