// Package apiserver is the operator control surface: a small chi router
// exposing health, safety metrics, and the breaker reset/recovery-clear
// actions an operator needs without touching the process directly
// (spec.md §7's "safety supervisor" needs an externally reachable
// override, since its only other escape hatch is restarting the binary).
//
// Grounded on aristath-sentinel/trader/internal/server.Server: the same
// chi middleware stack (Recoverer, RequestID, RealIP, a logging
// middleware wrapping middleware.NewWrapResponseWriter, Timeout, CORS),
// the same Config/New/Start/Shutdown shape, and the same
// handleHealth/writeJSON pair. Routes are this module's own — the
// teacher's dozens of portfolio/trading/universe routes have no
// equivalent here.
package apiserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/halvard/chainsentinel/internal/safety"
)

// Config configures one Server.
type Config struct {
	Log        zerolog.Logger
	Supervisor *safety.Supervisor
	Port       int
	DevMode    bool
}

// Server is the operator-facing HTTP control surface.
type Server struct {
	router     *chi.Mux
	server     *http.Server
	log        zerolog.Logger
	supervisor *safety.Supervisor
}

// New builds and wires the router, but does not start listening.
func New(cfg Config) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		log:        cfg.Log.With().Str("component", "apiserver").Logger(),
		supervisor: cfg.Supervisor,
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Route("/breakers", func(r chi.Router) {
		r.Get("/", s.handleBreakersStatus)
		r.Post("/reset", s.handleBreakersReset)
	})
	s.router.Get("/metrics", s.handleMetrics)
	s.router.Route("/recovery", func(r chi.Router) {
		r.Get("/", s.handleRecoveryStatus)
		r.Post("/clear", s.handleRecoveryClear)
	})
}

// Start begins serving. Blocks until Shutdown is called or the listener
// fails.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("starting control surface")
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down control surface")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("failed to encode JSON response")
	}
}
