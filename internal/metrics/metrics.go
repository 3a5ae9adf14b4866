// Package metrics exposes Prometheus counters for authentication outcomes,
// HTTP traffic and identity event processing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/benvon/portal-identity/internal/autherr"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Authentication methods, used as the "method" label.
const (
	MethodDeveloperPassword = "developer_password"
	MethodAdminPassword     = "admin_password"
	MethodOIDCLogin         = "oidc_login"
	MethodOIDCBind          = "oidc_bind"
	MethodJWTBearer         = "jwt_bearer"
)

const resultSuccess = "success"

// Outcomes of identity event processing, used as the "outcome" label.
const (
	OutcomeRecorded     = "recorded"
	OutcomeRetried      = "retried"
	OutcomeDeadLettered = "dead_lettered"
)

// Metrics holds the service's collectors on a private registry.
// A nil *Metrics records nothing.
type Metrics struct {
	registry     *prometheus.Registry
	authAttempts *prometheus.CounterVec
	revocations  prometheus.Counter
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	events       *prometheus.CounterVec
	dlqPurged    prometheus.Counter
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_auth_attempts_total",
			Help: "Authentication attempts by method and result (success or error kind).",
		}, []string{"method", "result"}),
		revocations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portal_tokens_revoked_total",
			Help: "Tokens revoked by logout.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_http_requests_total",
			Help: "HTTP requests by method, route template and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "portal_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route template.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_identity_events_total",
			Help: "Identity events consumed by type and outcome.",
		}, []string{"type", "outcome"}),
		dlqPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portal_identity_events_dlq_purged_total",
			Help: "Dead-lettered identity events removed after the retention window.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.authAttempts,
		m.revocations,
		m.httpRequests,
		m.httpDuration,
		m.events,
		m.dlqPurged,
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// AuthResult counts one authentication attempt.
func (m *Metrics) AuthResult(method string, err error) {
	if m == nil {
		return
	}
	result := resultSuccess
	if err != nil {
		result = string(autherr.KindOf(err))
	}
	m.authAttempts.WithLabelValues(method, result).Inc()
}

// TokenRevoked counts a logout.
func (m *Metrics) TokenRevoked() {
	if m == nil {
		return
	}
	m.revocations.Inc()
}

// EventProcessed counts one consumed identity event.
func (m *Metrics) EventProcessed(eventType, outcome string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(eventType, outcome).Inc()
}

// DLQPurged counts dead-lettered events removed by the garbage collector.
func (m *Metrics) DLQPurged(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.dlqPurged.Add(float64(n))
}

// Middleware records request counts and latency per route template.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if cr := mux.CurrentRoute(r); cr != nil {
			if tpl, err := cr.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
