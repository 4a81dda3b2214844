// Package api provides the HTTP API server and handlers for the ezhuthu collaboration service.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ezhuthuapp/ezhuthu-server/internal/auth"
	"github.com/ezhuthuapp/ezhuthu-server/internal/presence"
	"github.com/ezhuthuapp/ezhuthu-server/internal/ratelimit"
	"github.com/ezhuthuapp/ezhuthu-server/internal/service"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services groups the business logic used by the API server.
type Services struct {
	Invite      *service.InviteService
	Join        *service.JoinService
	Entitlement *service.EntitlementService
	Tokens      *auth.TokenService
}

// Options configures routing and limits.
type Options struct {
	AllowedOrigins []string
	PresencePath   string

	// RequestsPerMinute limits each client IP across all routes.
	RequestsPerMinute int
	// InvitesPerMinute limits invite issuance per user.
	InvitesPerMinute int
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	db       Pinger
	services *Services
	gateway  *presence.Gateway
	router   *chi.Mux
	api      huma.API
	logger   *slog.Logger

	ipLimiter     *ratelimit.KeyedRateLimiter
	inviteLimiter *ratelimit.KeyedRateLimiter
}

// NewServer creates a new HTTP server with all routes configured.
// presenceHandler is mounted at opts.PresencePath when non-nil.
func NewServer(db Pinger, services *Services, gateway *presence.Gateway, presenceHandler http.Handler, opts Options, logger *slog.Logger) *Server {
	if opts.RequestsPerMinute <= 0 {
		opts.RequestsPerMinute = 300
	}
	if opts.InvitesPerMinute <= 0 {
		opts.InvitesPerMinute = 10
	}

	s := &Server{
		db:            db,
		services:      services,
		gateway:       gateway,
		router:        chi.NewRouter(),
		logger:        logger,
		ipLimiter:     ratelimit.New(ratelimit.PerInterval(opts.RequestsPerMinute, time.Minute), opts.RequestsPerMinute/2+1),
		inviteLimiter: ratelimit.New(ratelimit.PerInterval(opts.InvitesPerMinute, time.Minute), opts.InvitesPerMinute),
	}

	s.setupMiddleware(opts)

	humaConfig := huma.DefaultConfig("Ezhuthu Collaboration API", "1.0.0")
	humaConfig.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"bearer": {
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "PASETO",
		},
	}
	humaConfig.Transformers = append(humaConfig.Transformers, EnvelopeTransformer)

	s.api = humachi.New(s.router, humaConfig)
	RegisterErrorHandler()

	s.registerHealthRoutes()
	s.registerJoinRoutes()
	s.registerInviteRoutes()
	s.registerEntitlementRoutes()

	if presenceHandler != nil && opts.PresencePath != "" {
		s.router.Handle(opts.PresencePath, presenceHandler)
	}

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// API returns the huma API, for OpenAPI export and tests.
func (s *Server) API() huma.API {
	return s.api
}

// Close stops the rate limiter sweepers.
func (s *Server) Close() {
	s.ipLimiter.Stop()
	s.inviteLimiter.Stop()
}

// setupMiddleware configures the middleware stack.
func (s *Server) setupMiddleware(opts Options) {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Retry-After", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	s.router.Use(RateLimitMiddleware(s.ipLimiter, s.logger))

	var verifier *auth.TokenService
	if s.services != nil {
		verifier = s.services.Tokens
	}
	s.router.Use(authMiddleware(verifier))
}
