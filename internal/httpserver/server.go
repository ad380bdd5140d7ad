// Package httpserver exposes the relay's JSON API.
package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/al-bashkir/ipo-result-relay/internal/config"
	"github.com/al-bashkir/ipo-result-relay/internal/ipo"
	"github.com/al-bashkir/ipo-result-relay/internal/ratelimit"
	"github.com/al-bashkir/ipo-result-relay/internal/upstream"
)

// CaptchaSessions refreshes the shared upstream session.
type CaptchaSessions interface {
	Refresh(ctx context.Context) (*upstream.Captcha, error)
}

// ResultChecker runs allotment lookups.
type ResultChecker interface {
	CheckWithCaptcha(ctx context.Context, req ipo.BulkRequest) (*ipo.BulkOutcome, error)
	CheckCached(ctx context.Context, req ipo.BulkRequest) (*ipo.BulkOutcome, error)
	Lookup(ctx context.Context, boid, companyID string) (ipo.Result, error)
}

// Deps are the components the handlers delegate to.
type Deps struct {
	Sessions CaptchaSessions
	Checker  ResultChecker
	Limiter  *ratelimit.FixedWindow // nil disables rate limiting
	Stats    ratelimit.StatsStore   // optional
}

// Server is the HTTP server for the relay API
type Server struct {
	cfg        *config.Config
	httpServer *http.Server
	router     *mux.Router
	handler    http.Handler
	sessions   CaptchaSessions
	checker    ResultChecker
}

// NewServer creates a new HTTP server
func NewServer(cfg *config.Config, deps Deps) (*Server, error) {
	s := &Server{
		cfg:      cfg,
		router:   mux.NewRouter(),
		sessions: deps.Sessions,
		checker:  deps.Checker,
	}

	// Register routes
	s.router.HandleFunc("/", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api := s.router.PathPrefix("/ipo").Subrouter()
	api.HandleFunc("/companies", s.handleCompanies).Methods(http.MethodGet)
	api.HandleFunc("/get-captcha", s.handleGetCaptcha).Methods(http.MethodGet)
	api.HandleFunc("/bulk-check", s.handleBulkCheck).Methods(http.MethodPost)
	api.HandleFunc("/check", s.handleCheck).Methods(http.MethodGet)
	s.router.NotFoundHandler = http.HandlerFunc(handleNotFound)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(handleMethodNotAllowed)

	// Wrap with middleware
	handler := ratelimit.Middleware(ratelimit.Options{
		Limiter:  deps.Limiter,
		Stats:    deps.Stats,
		RouteKey: s.routeTemplate,
	})(s.router)
	handler = loggingMiddleware(handler)
	handler = recoveryMiddleware(handler)
	handler = requestIDMiddleware(handler)
	handler = corsMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	s.handler = handler

	// Create HTTP server
	s.httpServer = &http.Server{
		Addr:              cfg.Listen.HTTP,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// No WriteTimeout: a bulk check makes one bounded upstream call per BOID.
		IdleTimeout: 60 * time.Second,
	}

	return s, nil
}

// routeTemplate returns the path template of the route r matches, or ""
// for anything the router would answer with 404 or 405.
func (s *Server) routeTemplate(r *http.Request) string {
	var m mux.RouteMatch
	if !s.router.Match(r, &m) || m.MatchErr != nil || m.Route == nil {
		return ""
	}
	tpl, err := m.Route.GetPathTemplate()
	if err != nil {
		return ""
	}
	return tpl
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	slog.Info("starting HTTP server",
		"addr", s.cfg.Listen.HTTP,
		"protocol", s.cfg.Upstream.Protocol,
	)

	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
