// Package api is the HTTP surface of the log manager: the request gate
// (security headers, rate limiting, session and CSRF checks) and the REST
// handlers behind it.
package api

import (
	"context"
	_ "embed"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-openapi/runtime/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sushazhi/fnos-logmanager/audit"
	"github.com/sushazhi/fnos-logmanager/credential"
	"github.com/sushazhi/fnos-logmanager/csrf"
	"github.com/sushazhi/fnos-logmanager/docker"
	"github.com/sushazhi/fnos-logmanager/internal/clock"
	"github.com/sushazhi/fnos-logmanager/logfiles"
	"github.com/sushazhi/fnos-logmanager/redact"
	"github.com/sushazhi/fnos-logmanager/session"
	"github.com/sushazhi/fnos-logmanager/throttle"
)

// DefaultSweepInterval is how often expired sessions, CSRF bindings and
// throttle records are reclaimed.
const DefaultSweepInterval = time.Minute

// API holds the dependencies needed by the REST handlers.
type API struct {
	logger *slog.Logger
	clock  clock.Clock

	creds         *credential.Store
	files         *logfiles.Service
	docker        *docker.Client
	filter        *redact.Filter
	sessions      *session.Registry
	csrf          *csrf.Registry
	loginThrottle *throttle.LoginThrottle
	limiter       *throttle.WindowLimiter
	audit         *audit.Recorder
	metrics       *apiMetrics
	alerts        *alertCollector

	trustedProxies []netip.Prefix
	forceSecure    bool
	version        string
	sweepInterval  time.Duration

	// Construction-time settings consumed by New.
	sessionTTL time.Duration
	csrfTTL    time.Duration
	loginCfg   throttle.LoginConfig
	windowCfg  throttle.WindowConfig
	auditSink  audit.Sink
	webhook    *audit.Webhook
	alertFn    AlertFunc
	metricsReg *prometheus.Registry
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for request and audit logging.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) { a.logger = logger }
}

// WithClock sets the time source for every TTL in the request path.
func WithClock(c clock.Clock) Option {
	return func(a *API) { a.clock = c }
}

// WithSessionTTL sets the sliding session idle timeout.
func WithSessionTTL(d time.Duration) Option {
	return func(a *API) { a.sessionTTL = d }
}

// WithCSRFTTL sets the fixed CSRF token lifetime.
func WithCSRFTTL(d time.Duration) Option {
	return func(a *API) { a.csrfTTL = d }
}

// WithLoginThrottle configures failed-login lockout.
func WithLoginThrottle(cfg throttle.LoginConfig) Option {
	return func(a *API) { a.loginCfg = cfg }
}

// WithRateLimit configures the per-address request limiter.
func WithRateLimit(cfg throttle.WindowConfig) Option {
	return func(a *API) { a.windowCfg = cfg }
}

// WithAuditSink sets where audit events are stored. The default keeps
// audit.DefaultMaxRecords events in memory.
func WithAuditSink(s audit.Sink) Option {
	return func(a *API) { a.auditSink = s }
}

// WithAuditWebhook forwards every audit event to an HTTP endpoint.
func WithAuditWebhook(w *audit.Webhook) Option {
	return func(a *API) { a.webhook = w }
}

// WithDocker sets the docker CLI client.
func WithDocker(c *docker.Client) Option {
	return func(a *API) { a.docker = c }
}

// WithFilter sets the sensitive-content filter applied to log output.
func WithFilter(f *redact.Filter) Option {
	return func(a *API) { a.filter = f }
}

// WithTrustedProxies sets the peers whose forwarding headers are believed
// when determining the client address. The default trusts loopback only.
func WithTrustedProxies(prefixes []netip.Prefix) Option {
	return func(a *API) {
		a.trustedProxies = prefixes
	}
}

// WithForceSecureCookie marks the session cookie Secure even on plain HTTP
// requests, for deployments behind a TLS proxy that sends no forwarding
// headers.
func WithForceSecureCookie(on bool) Option {
	return func(a *API) { a.forceSecure = on }
}

// WithVersion sets the version reported by /health.
func WithVersion(v string) Option {
	return func(a *API) { a.version = v }
}

// WithAlertFunc is called when a burst of failed logins is detected. The
// default logs a warning.
func WithAlertFunc(fn AlertFunc) Option {
	return func(a *API) { a.alertFn = fn }
}

// WithMetricsRegistry registers the API's collectors on reg instead of a
// private registry.
func WithMetricsRegistry(reg *prometheus.Registry) Option {
	return func(a *API) { a.metricsReg = reg }
}

// WithSweepInterval sets how often Run reclaims expired state.
func WithSweepInterval(d time.Duration) Option {
	return func(a *API) { a.sweepInterval = d }
}

// New creates a new API instance.
func New(creds *credential.Store, files *logfiles.Service, opts ...Option) *API {
	a := &API{
		creds:          creds,
		files:          files,
		version:        "dev",
		sweepInterval:  DefaultSweepInterval,
		trustedProxies: []netip.Prefix{netip.MustParsePrefix("127.0.0.0/8"), netip.MustParsePrefix("::1/128")},
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	a.clock = clock.OrReal(a.clock)
	if a.docker == nil {
		a.docker = docker.NewClient()
	}
	if a.filter == nil {
		a.filter = redact.New(true)
	}
	if a.auditSink == nil {
		a.auditSink = audit.NewMemorySink(audit.DefaultMaxRecords)
	}
	if a.alertFn == nil {
		a.alertFn = logAlert(a.logger)
	}
	if a.metricsReg == nil {
		a.metricsReg = defaultMetricsRegistry()
	}

	a.sessions = session.NewRegistry(a.sessionTTL, a.clock)
	a.csrf = csrf.NewRegistry(a.sessions, a.csrfTTL, a.clock)
	a.sessions.OnDestroy(a.csrf.Revoke)
	a.loginThrottle = throttle.NewLoginThrottle(a.loginCfg, a.clock)
	a.limiter = throttle.NewWindowLimiter(a.windowCfg, a.clock)
	a.alerts = newAlertCollector(a.clock, a.alertFn)
	a.metrics = newAPIMetrics(a.metricsReg, a)

	recOpts := []audit.RecorderOption{
		audit.WithLogger(a.logger),
		audit.WithClock(a.clock),
		audit.WithObserver(a.observeAudit),
	}
	if a.webhook != nil {
		recOpts = append(recOpts, audit.WithWebhook(a.webhook))
	}
	a.audit = audit.NewRecorder(a.auditSink, recOpts...)
	return a
}

func (a *API) observeAudit(action audit.Action) {
	a.metrics.auditEvents.WithLabelValues(string(action)).Inc()
	a.alerts.observe(action)
}

// record appends an audit event attributed to the request's client.
func (a *API) record(r *http.Request, action audit.Action, details map[string]any) {
	a.audit.Record(r.Context(), action, details, a.clientIP(r), r.UserAgent())
}

// Run reclaims expired sessions, CSRF bindings and throttle records until
// ctx is cancelled.
func (a *API) Run(ctx context.Context) {
	go a.sessions.Run(ctx, a.sweepInterval)
	go a.csrf.Run(ctx, a.sweepInterval)
	go a.loginThrottle.Run(ctx, a.sweepInterval)
	a.limiter.Run(ctx, a.sweepInterval)
}

// Handler returns the complete HTTP handler: the global middleware chain,
// the API under /api and static as the fallback for everything else.
func (a *API) Handler(static http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(SecurityHeaders)
	r.Use(a.Recoverer)
	r.Use(chimw.RequestLogger(&accessLogFormatter{chimw.DefaultLogFormatter{
		Logger:  slog.NewLogLogger(a.logger.Handler(), slog.LevelInfo),
		NoColor: true,
	}}))
	r.Use(a.metrics.instrument)
	r.Use(a.RateLimit)

	r.Mount("/api", a.Router())
	if static != nil {
		r.Handle("/*", static)
	}
	return r
}

// Router returns a chi.Router with all API routes.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(w, errNotFound)
	})

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/openapi.yaml",
		Path:    "api/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/api/openapi.yaml",
		Path:    "api/redoc",
	}, nil))

	r.Get("/health", a.Health)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/setup", a.Setup)
		r.Post("/login", a.Login)
		r.Post("/logout", a.Logout)
		r.Get("/status", a.Status)
		r.Get("/csrf-token", a.CSRFToken)
		r.With(a.RequireSession, a.RequireCSRF).Post("/password", a.ChangePassword)
	})

	r.Group(func(r chi.Router) {
		r.Use(a.RequireSession)
		r.Use(a.RequireCSRF)

		r.Get("/dirs", a.ListDirs)
		r.Get("/logs/list", a.ListLogs)
		r.Get("/logs/large", a.LargeLogs)
		r.Get("/logs/search", a.SearchLogs)
		r.Get("/logs/stats", a.LogStats)
		r.Post("/logs/clean", a.CleanLogs)
		r.Get("/log/content", a.LogContent)
		r.Post("/log/truncate", a.TruncateLog)
		r.Post("/log/delete", a.DeleteLog)
		r.Get("/archives/list", a.ListArchives)
		r.Get("/archive/content", a.ArchiveContent)
		r.Post("/archives/delete", a.DeleteArchive)

		r.Get("/settings/filter", a.GetFilter)
		r.Post("/settings/filter", a.SetFilter)

		r.Get("/docker/containers", a.ListContainers)
		r.Get("/docker/logs", a.ContainerLogs)

		r.Get("/audit/log", a.ListAuditLog)
		r.Get("/metrics", a.Metrics)
	})

	return r
}

// Health handles GET /health.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Version: a.version})
}

// Metrics handles GET /metrics.
func (a *API) Metrics(w http.ResponseWriter, r *http.Request) {
	a.metrics.handler().ServeHTTP(w, r)
}
