package service

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

// RouteRegistrar is implemented by components that add routes to the
// server's router.
type RouteRegistrar interface {
	RegisterRoutes(r chi.Router)
}

// HTTPServerConfig contains the parameters of the HTTP server.
type HTTPServerConfig struct {
	ListenAddr string
	Log        logrus.FieldLogger

	AllowedOrigins []string

	// DrainDuration is the time to wait after marking the server not ready
	// before shutting down, so that load balancers notice.
	DrainDuration time.Duration
	// GracefulShutdownDuration bounds the wait for in-flight requests.
	GracefulShutdownDuration time.Duration

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server runs the HTTP API with health and readiness endpoints.
type Server struct {
	cfg     *HTTPServerConfig
	isReady atomic.Bool
	log     logrus.FieldLogger
	srv     *http.Server
}

// NewServer returns a Server serving the routes of registrars.
func NewServer(cfg *HTTPServerConfig, registrars ...RouteRegistrar) *Server {
	s := &Server{
		cfg: cfg,
		log: cfg.Log,
	}

	s.srv = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.createRouter(registrars),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	s.isReady.Store(true)

	return s
}

func (s *Server) createRouter(registrars []RouteRegistrar) http.Handler {
	mux := chi.NewRouter()

	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(RequestLogger(s.log))
	mux.Use(middleware.Recoverer)

	if len(s.cfg.AllowedOrigins) > 0 {
		mux.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	for _, registrar := range registrars {
		registrar.RegisterRoutes(mux)
	}

	mux.Get("/health", s.handleHealth)
	mux.Get("/ready", s.handleReady)

	return mux
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// SetReady toggles the readiness endpoint.
func (s *Server) SetReady(ready bool) {
	s.isReady.Store(ready)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"alive"}`))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !s.isReady.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"not ready"}`))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}

// RunInBackground starts listening in a separate goroutine. Errors other
// than a regular shutdown are sent on the returned channel.
func (s *Server) RunInBackground() <-chan error {
	errc := make(chan error, 1)
	go func() {
		s.log.WithField("listenAddress", s.cfg.ListenAddr).Info("Starting HTTP server")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("HTTP server failed")
			errc <- err
		}
		close(errc)
	}()
	return errc
}

// Shutdown marks the server not ready, waits for the drain period and then
// stops it gracefully.
func (s *Server) Shutdown() {
	s.isReady.Store(false)
	if s.cfg.DrainDuration > 0 {
		s.log.WithField("duration", s.cfg.DrainDuration).Info("Draining")
		time.Sleep(s.cfg.DrainDuration)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.GracefulShutdownDuration)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		s.log.WithError(err).Error("Graceful HTTP server shutdown failed")
	} else {
		s.log.Info("HTTP server gracefully stopped")
	}
}
