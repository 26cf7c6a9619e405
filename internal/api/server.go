// Package api serves the local control and query HTTP API.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/goodtune/keytrack/internal/clock"
	"github.com/goodtune/keytrack/internal/lights"
	"github.com/goodtune/keytrack/internal/session"
	"github.com/goodtune/keytrack/internal/stats"
	"github.com/goodtune/keytrack/internal/storage"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
)

// StatsSource exposes the in-memory statistics.
type StatsSource interface {
	Snapshot(ctx context.Context, now time.Time) (*stats.Snapshot, error)
}

// SessionSource exposes the practice session window.
type SessionSource interface {
	Status(now time.Time) session.Window
}

// Clearer resets today's statistics after flushing them.
type Clearer interface {
	Clear(ctx context.Context) error
}

// Lights is the light engine surface the API controls.
type Lights interface {
	Status() lights.Status
	Enable()
	Disable()
	Apply(p lights.Preset) error
	TestPattern(ctx context.Context) error
}

// Config holds the API server configuration.
type Config struct {
	ListenAddr string
	PresetPath string        // written on PUT /api/lights/preset when set
	CacheTTL   time.Duration // lifetime of cached history lookups
	CacheSize  int
}

// Deps are the pipeline components behind the API. Lights may be nil.
type Deps struct {
	Stats   StatsSource
	Session SessionSource
	Sync    Clearer
	Lights  Lights
	MIDI    MIDI
	Store   storage.Store
	Clock   clock.Clock
}

// Server is the control API HTTP server.
type Server struct {
	config   Config
	deps     Deps
	cache    *expirable.LRU[string, any]
	router   *mux.Router
	server   *http.Server
	listener net.Listener
	started  time.Time
	logger   zerolog.Logger
}

// NewServer creates the API server.
func NewServer(cfg Config, deps Deps, logger zerolog.Logger) *Server {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 20 * time.Second
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 128
	}
	if deps.Clock == nil {
		deps.Clock = clock.RealClock{}
	}

	s := &Server{
		config:  cfg,
		deps:    deps,
		cache:   expirable.NewLRU[string, any](cfg.CacheSize, nil, cfg.CacheTTL),
		router:  mux.NewRouter(),
		started: deps.Clock.Now(),
		logger:  logger.With().Str("component", "api").Logger(),
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(loggingMiddleware(s.logger))

	r := s.router.PathPrefix("/api").Subrouter()
	r.HandleFunc("/status", s.handleStatus).Methods("GET")
	r.HandleFunc("/stats/today", s.handleToday).Methods("GET")
	r.HandleFunc("/stats/daily/{date}", s.handleDaily).Methods("GET")
	r.HandleFunc("/stats/hourly/{date}", s.handleHourly).Methods("GET")
	r.HandleFunc("/stats/notes/{date}", s.handleNotes).Methods("GET")
	r.HandleFunc("/stats/sessions/{date}", s.handleSessions).Methods("GET")
	r.HandleFunc("/session/clear", s.handleClear).Methods("POST")

	r.HandleFunc("/lights", s.handleLights).Methods("GET")
	r.HandleFunc("/lights/enable", s.handleLightsEnable).Methods("POST")
	r.HandleFunc("/lights/disable", s.handleLightsDisable).Methods("POST")
	r.HandleFunc("/lights/test", s.handleLightsTest).Methods("POST")
	r.HandleFunc("/lights/preset", s.handlePreset).Methods("PUT")

	r.HandleFunc("/midi/status", s.handleMIDIStatus).Methods("GET")
	r.HandleFunc("/midi/devices", s.handleMIDIDevices).Methods("GET")
	r.HandleFunc("/midi/rescan", s.handleMIDIRescan).Methods("POST")
	r.HandleFunc("/midi/select", s.handleMIDISelect).Methods("POST")
}

// Handler returns the API router with panic recovery.
func (s *Server) Handler() http.Handler {
	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{s.logger}),
		handlers.PrintRecoveryStack(true),
	)(s.router)
}

// recoveryLogger reports recovered handler panics through zerolog.
type recoveryLogger struct {
	logger zerolog.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.logger.Error().Msg(fmt.Sprint(v...))
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start serves the API in the background.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.config.ListenAddr).Msg("Starting API server")

	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated API listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()

	return nil
}

// Stop gracefully stops the API server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping API server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	return nil
}

func loggingMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("remote_addr", r.RemoteAddr).
				Int("status", wrapped.statusCode).
				Dur("duration", time.Since(start)).
				Msg("API request")
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
