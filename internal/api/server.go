package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/osprey-verify/internal/domain"
	"github.com/opensource-finance/osprey-verify/internal/metrics"
)

// Server is the verification API.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer wires the handler into a router with the standard middleware.
func NewServer(cfg domain.ServerConfig, deps Dependencies, version string) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		handler: NewHandler(deps, version),
		config:  cfg,
	}

	s.router.Use(CORS(cfg.AllowedOrigins))
	s.router.Use(RecoverMiddleware)
	s.router.Use(TracingMiddleware)
	s.router.Use(LoggingMiddleware)
	s.router.Use(MetricsMiddleware)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Compress(5))

	s.routes()
	return s
}

func (s *Server) routes() {
	h := s.handler

	s.router.Get("/health", h.Health)
	s.router.Get("/ready", h.Ready)
	s.router.Handle("/metrics", metrics.Handler())

	s.router.Route("/api/test", func(r chi.Router) {
		r.Post("/pacs008", h.SendPacs008)
		r.Post("/quick-status", h.QuickStatus)
		r.Post("/full-transaction", h.FullTransaction)

		r.Post("/velocity", h.Velocity)
		r.Post("/velocity-creditor", h.VelocityCreditor)
		r.Post("/attack-scenario", h.AttackScenario)
		r.Post("/fraud-simulation", h.FraudSimulation)

		r.Get("/history", h.History)
		r.Get("/runs/{id}", h.GetRun)
		r.Get("/rules", h.ListRules)
		r.Get("/logs/{source}", h.FetchLogs)
	})
}

// Addr is the listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
}

// Start listens until Shutdown. A fraud simulation holds its request open
// for the whole run, so the write timeout applies per simulation.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout:      time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the router for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}
