package mocktms

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/osprey-verify/internal/api"
	"github.com/opensource-finance/osprey-verify/internal/domain"
	"github.com/opensource-finance/osprey-verify/internal/metrics"
)

// Server exposes the stand-in over HTTP, shaped like the real engine's
// evaluation endpoint plus a log endpoint for rule processor output.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates the stand-in server. It shares the verifier's
// middleware so both processes log and count requests the same way.
func NewServer(cfg domain.ServerConfig, handler *Handler) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		handler: handler,
		config:  cfg,
	}

	s.router.Use(api.RecoverMiddleware)
	s.router.Use(api.TracingMiddleware)
	s.router.Use(api.LoggingMiddleware)
	s.router.Use(api.MetricsMiddleware)
	s.router.Use(middleware.RealIP)

	s.routes()
	return s
}

func (s *Server) routes() {
	h := s.handler

	s.router.Get("/", h.Health)
	s.router.Post("/v1/evaluate/iso20022/{messageType}", h.Evaluate)
	s.router.Get("/logs/{source}", h.FetchLogs)
	s.router.Post("/admin/reset", h.Reset)
	s.router.Handle("/metrics", metrics.Handler())
}

// Addr is the listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
}

// Start listens until Shutdown.
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
