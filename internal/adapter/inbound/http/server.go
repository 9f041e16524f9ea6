package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Ident-Gate/Identgate/internal/domain/ratelimit"
	"github.com/Ident-Gate/Identgate/internal/domain/token"
	"github.com/Ident-Gate/Identgate/internal/service"
)

// Handler groups the services behind the HTTP surface.
type Handler struct {
	auth    *service.AuthService
	users   *service.ScimUserService
	groups  *service.ScimGroupService
	authz   *service.AuthzService
	metrics *Metrics
}

// NewHandler creates the Handler over the given services.
func NewHandler(auth *service.AuthService, users *service.ScimUserService, groups *service.ScimGroupService, authz *service.AuthzService) *Handler {
	return &Handler{
		auth:   auth,
		users:  users,
		groups: groups,
		authz:  authz,
	}
}

// Server is the inbound HTTP adapter. It owns the listener lifecycle and the
// middleware chain; handlers only see domain services.
type Server struct {
	handler *Handler
	tokens  *token.Service
	server  *http.Server
	addr    string

	limiter     ratelimit.Limiter
	limitConfig ratelimit.Config

	healthChecker *HealthChecker
	logger        *slog.Logger
}

// Option is a functional option for configuring Server.
type Option func(*Server)

// WithAddr sets the listen address. Default is ":8000".
func WithAddr(addr string) Option {
	return func(s *Server) {
		s.addr = addr
	}
}

// WithLogger sets the logger for the HTTP server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithRateLimiter enables per-IP rate limiting on every route.
func WithRateLimiter(limiter ratelimit.Limiter, config ratelimit.Config) Option {
	return func(s *Server) {
		s.limiter = limiter
		s.limitConfig = config
	}
}

// WithHealthChecker sets the health checker for the liveness endpoints.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(s *Server) {
		s.healthChecker = hc
	}
}

// NewServer creates the HTTP server over the given handler and token
// service. The token service backs the bearer-auth middleware.
func NewServer(handler *Handler, tokens *token.Service, opts ...Option) *Server {
	s := &Server{
		handler: handler,
		tokens:  tokens,
		addr:    ":8000",
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes builds the full route table with the middleware chain applied.
// Exposed separately from Start so tests can drive it with httptest.
func (s *Server) Routes() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.handler.metrics = NewMetrics(reg)

	// Pull-through gauges read the live components at scrape time.
	if s.healthChecker != nil {
		if audits := s.healthChecker.auditService; audits != nil {
			reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: "identgate",
				Name:      "audit_drops_total",
				Help:      "Total audit records dropped due to backpressure",
			}, func() float64 { return float64(audits.DroppedRecords()) }))
		}
		if limiter := s.healthChecker.rateLimiter; limiter != nil {
			reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: "identgate",
				Name:      "rate_limit_keys",
				Help:      "Number of active rate limit keys",
			}, func() float64 { return float64(limiter.Size()) }))
		}
	}

	h := s.handler
	bearer := BearerAuthMiddleware(s.tokens)

	mux := http.NewServeMux()

	mux.HandleFunc("POST /auth/token", h.handleToken)
	mux.Handle("GET /auth/me", bearer(http.HandlerFunc(h.handleMe)))

	mux.HandleFunc("POST /scim/v2/Users", h.handleCreateUser)
	mux.HandleFunc("GET /scim/v2/Users", h.handleListUsers)
	mux.HandleFunc("GET /scim/v2/Users/{id}", h.handleGetUser)
	mux.HandleFunc("PATCH /scim/v2/Users/{id}", h.handlePatchUser)
	mux.HandleFunc("DELETE /scim/v2/Users/{id}", h.handleDeleteUser)

	mux.HandleFunc("POST /scim/v2/Groups", h.handleCreateGroup)
	mux.HandleFunc("GET /scim/v2/Groups", h.handleListGroups)
	mux.HandleFunc("GET /scim/v2/Groups/{id}", h.handleGetGroup)
	mux.HandleFunc("PATCH /scim/v2/Groups/{id}", h.handlePatchGroup)
	mux.HandleFunc("DELETE /scim/v2/Groups/{id}", h.handleDeleteGroup)
	mux.HandleFunc("POST /scim/v2/Groups/{id}/members", h.handleAddMember)
	mux.HandleFunc("DELETE /scim/v2/Groups/{id}/members/{userId}", h.handleRemoveMember)

	mux.Handle("POST /authz/evaluate", bearer(http.HandlerFunc(h.handleEvaluate)))
	mux.Handle("POST /authz/policies/reload", bearer(http.HandlerFunc(h.handleReloadPolicies)))

	var health http.Handler
	if s.healthChecker != nil {
		health = s.healthChecker.Handler()
	} else {
		health = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
		})
	}
	mux.Handle("GET /auth/health", health)
	mux.Handle("GET /authz/health", health)

	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		Registry: reg,
	}))

	// Middleware order (outermost first):
	// 1. Metrics - record duration and status for the whole chain
	// 2. CorrelationID - extract/generate id and enrich logger
	// 3. RequestLog - per-request line with the enriched logger
	// 4. RateLimit - per-IP GCRA, after the id so 429s carry it
	var handler http.Handler = mux
	if s.limiter != nil {
		handler = RateLimitMiddleware(s.limiter, s.limitConfig)(handler)
	}
	handler = RequestLogMiddleware()(handler)
	handler = CorrelationIDMiddleware(s.logger)(handler)
	handler = MetricsMiddleware(s.handler.metrics)(handler)
	return handler
}

// Start begins accepting HTTP connections. It blocks until the context is
// cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down HTTP server")
		return s.shutdown()
	case err := <-errCh:
		return err
	}
}

// shutdown performs graceful shutdown of the HTTP server.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("error during server shutdown", "error", err)
		return err
	}
	s.logger.Info("HTTP server shutdown complete")
	return nil
}

// Close gracefully shuts down the server.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	return s.shutdown()
}
