package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/phonebell/phonebell/internal/api/middleware"
	"github.com/phonebell/phonebell/internal/config"
)

// Doorbell is the state behind the doorbell HTTP endpoints.
type Doorbell interface {
	Ringing() bool
	Ring() error
}

// Handlers are the WebSocket endpoints mounted by the server. A nil handler
// leaves its route unmounted.
type Handlers struct {
	PhoneOutside http.Handler
	PhoneInside  http.Handler
	Signaling    http.Handler
	Doorbell     http.Handler
	ChatBot      http.Handler
	ChatBoard    http.Handler
}

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router   *chi.Mux
	cfg      *config.Config
	logger   *slog.Logger
	ws       Handlers
	bell     Doorbell
	gatherer prometheus.Gatherer

	upgradeLimiter *middleware.IPLimiter
	ringLimiter    *middleware.IPLimiter
}

// NewServer creates the HTTP handler with all routes mounted. gatherer backs
// /metrics and may be nil to leave it unmounted.
func NewServer(cfg *config.Config, ws Handlers, bell Doorbell, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	s := &Server{
		router:         chi.NewRouter(),
		cfg:            cfg,
		logger:         logger,
		ws:             ws,
		bell:           bell,
		gatherer:       gatherer,
		upgradeLimiter: middleware.NewIPLimiter(middleware.UpgradeLimits(), logger),
		ringLimiter:    middleware.NewIPLimiter(middleware.RingLimits(), logger),
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// RateLimited returns the number of requests each limiter has refused, keyed
// by scope.
func (s *Server) RateLimited() map[string]uint64 {
	return map[string]uint64{
		s.upgradeLimiter.Scope(): s.upgradeLimiter.Rejected(),
		s.ringLimiter.Scope():    s.ringLimiter.Rejected(),
	}
}

// Close stops the rate limiters' background cleanup.
func (s *Server) Close() {
	s.upgradeLimiter.Stop()
	s.ringLimiter.Stop()
}

// routes configures all middleware and mounts all route groups.
func (s *Server) routes() {
	r := s.router

	// Global middleware stack.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger(s.logger))
	r.Use(middleware.Recoverer(s.logger))
	r.Use(middleware.SecurityHeaders(s.cfg.TLSEnabled()))
	r.Use(middleware.CORS(middleware.ParseCORSOrigins(s.cfg.CORSOrigins)))

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	upgrades := middleware.Throttle(s.upgradeLimiter)

	r.Route("/phonebell", func(r chi.Router) {
		r.Use(upgrades)
		mountGet(r, "/outside", s.ws.PhoneOutside)
		mountGet(r, "/inside", s.ws.PhoneInside)
		mountGet(r, "/signaling", s.ws.Signaling)
	})

	r.Route("/doorbell", func(r chi.Router) {
		r.With(upgrades).Get("/", s.wsOrNotFound(s.ws.Doorbell))
		if s.bell != nil {
			r.Get("/status", s.handleDoorbellStatus)
			r.With(middleware.Throttle(s.ringLimiter)).Post("/ring", s.handleDoorbellRing)
		}
	})

	r.Route("/discord", func(r chi.Router) {
		r.Use(upgrades)
		mountGet(r, "/bot", s.ws.ChatBot)
		mountGet(r, "/dashboard", s.ws.ChatBoard)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	s.logger.Info("api routes mounted")
}

func mountGet(r chi.Router, pattern string, h http.Handler) {
	if h != nil {
		r.Method(http.MethodGet, pattern, h)
	}
}

func (s *Server) wsOrNotFound(h http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h == nil {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		h.ServeHTTP(w, r)
	}
}
