package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sushazhi/fnos-logmanager/audit"
	"github.com/sushazhi/fnos-logmanager/internal/clock"
)

const metricsNamespace = "logmanager"

// Gate names used as the "gate" label.
const (
	gateRateLimit = "rate_limit"
	gateLogin     = "login"
	gateSession   = "session"
	gateCSRF      = "csrf"
	gatePath      = "path"
)

// apiMetrics holds the Prometheus collectors for one API instance. Each API
// owns its registry so tests can build many instances side by side.
type apiMetrics struct {
	registry *prometheus.Registry

	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	gates       *prometheus.CounterVec
	auditEvents *prometheus.CounterVec
}

func newAPIMetrics(reg *prometheus.Registry, a *API) *apiMetrics {
	m := &apiMetrics{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests processed, by route pattern and status.",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		gates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "gate_decisions_total",
			Help:      "Security gate outcomes.",
		}, []string{"gate", "outcome"}),
		auditEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "audit_events_total",
			Help:      "Audit events recorded, by action.",
		}, []string{"action"}),
	}
	reg.MustRegister(
		m.requests, m.duration, m.gates, m.auditEvents,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_active",
			Help:      "Sessions currently held in memory.",
		}, func() float64 { return float64(a.sessions.Count()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "csrf_bindings_active",
			Help:      "CSRF tokens currently bound to sessions.",
		}, func() float64 { return float64(a.csrf.Count()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "login_throttle_addresses",
			Help:      "Client addresses with failed login state.",
		}, func() float64 { return float64(a.loginThrottle.Len()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "rate_limit_addresses",
			Help:      "Client addresses tracked by the request rate limiter.",
		}, func() float64 { return float64(a.limiter.Len()) }),
	)
	return m
}

func (m *apiMetrics) gate(name string, allowed bool) {
	outcome := "rejected"
	if allowed {
		outcome = "allowed"
	}
	m.gates.WithLabelValues(name, outcome).Inc()
}

func (m *apiMetrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// instrument records request counts and latency by chi route pattern so
// path parameters do not explode label cardinality.
func (m *apiMetrics) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.duration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// defaultMetricsRegistry includes the Go runtime and process collectors.
func defaultMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// AlertType identifies the kind of anomaly detected.
type AlertType string

const AlertLoginFailureSpike AlertType = "login_failure_spike"

// AlertEvent describes an anomaly that triggered an alert.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is the callback invoked when an anomaly is detected.
type AlertFunc func(AlertEvent)

const (
	defaultLoginFailureWindow    = 1 * time.Minute
	defaultLoginFailureThreshold = 50
)

// alertCollector watches audit actions for bursts of failed logins across
// all clients, which per-address throttling alone does not surface.
type alertCollector struct {
	mu    sync.Mutex
	clock clock.Clock

	loginFailures  []time.Time
	loginWindow    time.Duration
	loginThreshold int

	alertFn AlertFunc
}

func newAlertCollector(c clock.Clock, alertFn AlertFunc) *alertCollector {
	return &alertCollector{
		clock:          clock.OrReal(c),
		loginWindow:    defaultLoginFailureWindow,
		loginThreshold: defaultLoginFailureThreshold,
		alertFn:        alertFn,
	}
}

// logAlert is the default AlertFunc.
func logAlert(logger *slog.Logger) AlertFunc {
	return func(e AlertEvent) {
		logger.Warn("security alert",
			slog.String("type", string(e.Type)),
			slog.String("message", e.Message),
			slog.Int("count", e.Count),
			slog.Int("threshold", e.Threshold))
	}
}

func (c *alertCollector) observe(action audit.Action) {
	if c == nil || c.alertFn == nil {
		return
	}
	if action == audit.ActionLoginFailed || action == audit.ActionLoginLocked {
		c.recordLoginFailure()
	}
}

func (c *alertCollector) recordLoginFailure() {
	c.mu.Lock()
	now := c.clock.Now()
	c.loginFailures = append(c.loginFailures, now)
	c.loginFailures = trimWindow(c.loginFailures, now, c.loginWindow)

	var fire *AlertEvent
	if len(c.loginFailures) >= c.loginThreshold {
		fire = &AlertEvent{
			Type:      AlertLoginFailureSpike,
			Message:   "login failure rate exceeds threshold",
			Count:     len(c.loginFailures),
			Threshold: c.loginThreshold,
			Timestamp: now,
		}
		// Reset to avoid repeated alerts within the same spike.
		c.loginFailures = c.loginFailures[:0]
	}
	c.mu.Unlock()

	if fire != nil {
		c.alertFn(*fire)
	}
}

// trimWindow removes entries older than (now - window) from the sorted slice.
func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	return times[start:]
}
