package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodtune/keytrack/internal/api"
	"github.com/goodtune/keytrack/internal/config"
	"github.com/goodtune/keytrack/internal/lights"
	"github.com/goodtune/keytrack/internal/metrics"
	"github.com/goodtune/keytrack/internal/midiin"
	"github.com/goodtune/keytrack/internal/persist"
	"github.com/goodtune/keytrack/internal/systemd"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the KeyTrack daemon",
	Long:  `Start the MIDI listener, statistics pipeline, light feedback engine, control API and metrics endpoint.`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting KeyTrack")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	p, err := newPipeline(cfg, true, logger)
	if err != nil {
		return err
	}
	p.start()

	// Lights
	var watcher *lights.PresetWatcher
	if p.engine != nil {
		metrics.LightsEnabled.Set(metrics.BoolGauge(p.engine.Enabled()))
		if !p.engine.HardwareAvailable() {
			logger.Info().Msg("No LED strip attached, light engine running without output")
		}

		if cfg.Lights.WatchPreset && cfg.Lights.PresetPath != "" {
			watcher, err = lights.NewPresetWatcher(cfg.Lights.PresetPath, p.engine.Apply, logger)
			if err != nil {
				logger.Warn().Err(err).Msg("Failed to create preset watcher")
			} else if err := watcher.Start(context.Background()); err != nil {
				logger.Warn().Err(err).Msg("Failed to start preset watcher")
				watcher = nil
			}
		}
	}

	// MIDI input, session pause checks and the watchdog share one lifetime
	inputCtx, stopInput := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(inputCtx)

	g.Go(func() error {
		p.tracker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		systemd.RunWatchdog(gctx, logger)
		return nil
	})

	listener, err := midiin.NewListener(midiin.Config{
		Port:           cfg.MIDI.Port,
		Preferred:      cfg.MIDI.Preferred,
		Excluded:       cfg.MIDI.Excluded,
		RescanInterval: parseDuration(cfg.MIDI.RescanInterval, time.Second),
	}, p.bus, p.clock, logger)
	if err != nil {
		logger.Error().Err(err).Msg("MIDI input unavailable, serving stored statistics only")
	} else {
		g.Go(func() error {
			return listener.Run(gctx)
		})
	}

	// Initialize API Server
	var apiServer *api.Server
	if cfg.Server.APIEnabled {
		deps := api.Deps{
			Stats:   p.stats,
			Session: p.tracker,
			Sync:    p.sync,
			Store:   p.store,
			Clock:   p.clock,
		}
		if p.engine != nil {
			deps.Lights = p.engine
		}
		if listener != nil {
			deps.MIDI = listener
		}

		apiAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.APIPort)
		apiServer = api.NewServer(api.Config{
			ListenAddr: apiAddr,
			PresetPath: cfg.Lights.PresetPath,
			CacheTTL:   parseDuration(cfg.Persistence.FlushInterval, persist.DefaultInterval),
		}, deps, logger)

		if sdListeners.Activated && sdListeners.API != nil {
			apiServer.SetListener(sdListeners.API)
		}

		if err := apiServer.Start(); err != nil {
			return fmt.Errorf("failed to start API Server: %w", err)
		}
	}

	// Initialize Metrics Server
	var metricsServer *metrics.Server
	if cfg.Server.MetricsPort > 0 || (sdListeners.Activated && sdListeners.Metrics != nil) {
		metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
		metricsServer = metrics.NewServer(metricsAddr, logger)

		// Use systemd socket-activated listener if available
		if sdListeners.Activated && sdListeners.Metrics != nil {
			metricsServer.SetListener(sdListeners.Metrics)
		}

		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start Metrics Server: %w", err)
		}
	}

	logger.Info().Msg("KeyTrack startup complete")
	if cfg.Server.APIEnabled {
		logger.Info().Msgf("API: http://%s:%d/api/status", cfg.Server.BindAddress, cfg.Server.APIPort)
	}
	if metricsServer != nil {
		logger.Info().Msgf("Metrics: http://%s:%d/metrics", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	}

	// Notify systemd that we're ready to serve requests
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else {
		logger.Debug().Msg("Sent systemd ready notification")
	}

	// Wait for signals (shutdown or reload)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	// Signal handling loop
	for {
		sig := <-sigChan

		if sig == syscall.SIGHUP {
			logger.Info().Msg("SIGHUP received, reloading light preset...")
			reloadPreset(p, cfg.Lights.PresetPath, logger)
			continue
		}

		logger.Info().Msg("Shutdown signal received, gracefully stopping...")
		break
	}

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	// Input first so the final flush sees every event
	stopInput()
	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("Error stopping MIDI input")
	}

	if watcher != nil {
		watcher.Stop()
	}

	ctx, cancel := shutdownContext()
	defer cancel()

	if apiServer != nil {
		if err := apiServer.Stop(ctx); err != nil {
			logger.Error().Err(err).Msg("Error stopping API Server")
		}
	}

	if err := p.stop(ctx); err != nil {
		logger.Error().Err(err).Msg("Error stopping pipeline")
	}

	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping Metrics Server")
		}
	}

	logger.Info().Msg("KeyTrack stopped")

	return nil
}

func reloadPreset(p *pipeline, path string, logger zerolog.Logger) {
	if p.engine == nil || path == "" {
		logger.Info().Msg("No light preset configured, nothing to reload")
		return
	}

	preset, err := lights.LoadPreset(path)
	if err != nil {
		logger.Error().Err(err).Str("path", path).Msg("Failed to reload preset")
		return
	}
	if err := p.engine.Apply(preset); err != nil {
		logger.Error().Err(err).Msg("Failed to apply preset")
		return
	}
	logger.Info().Str("path", path).Msg("Preset reloaded successfully")
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	// Set log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	// Set output format
	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// parseDuration parses a duration string with a fallback
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
