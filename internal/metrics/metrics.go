package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Ingestion metrics
	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keytrack_events_total",
			Help: "Total classified input events",
		},
		[]string{"kind"},
	)

	EventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "keytrack_events_dropped_total",
			Help: "Events dropped because the aggregation queue was full",
		},
	)

	InputConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "keytrack_input_connected",
			Help: "Whether a MIDI input port is connected",
		},
	)

	// Aggregation metrics
	ActiveNotes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "keytrack_active_notes",
			Help: "Notes currently tracked as sounding",
		},
	)

	SessionActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "keytrack_session_active",
			Help: "Whether a practice session is active",
		},
	)

	// Persistence metrics
	FlushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keytrack_flushes_total",
			Help: "Persistence flushes by result",
		},
		[]string{"result"},
	)

	FlushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "keytrack_flush_duration_seconds",
			Help:    "Persistence flush duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	WriteRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keytrack_write_retries_total",
			Help: "Storage writes retried after transient contention",
		},
		[]string{"table"},
	)

	HourlyQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "keytrack_hourly_queue_depth",
			Help: "Hourly buckets waiting to be written",
		},
	)

	HourlyDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "keytrack_hourly_dropped_total",
			Help: "Hourly buckets discarded after failed or rejected writes",
		},
	)

	// Light metrics
	AnimationTicks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "keytrack_animation_ticks_total",
			Help: "Animation frames rendered",
		},
	)

	LightsEnabled = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "keytrack_lights_enabled",
			Help: "Whether light feedback is enabled",
		},
	)

	StripErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "keytrack_strip_errors_total",
			Help: "Errors reported by the light strip sink",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		EventsTotal,
		EventsDropped,
		InputConnected,
		ActiveNotes,
		SessionActive,
		FlushesTotal,
		FlushDuration,
		WriteRetries,
		HourlyQueueDepth,
		HourlyDropped,
		AnimationTicks,
		LightsEnabled,
		StripErrors,
	)
}

// BoolGauge converts a flag to a gauge value.
func BoolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
