package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/goodtune/keytrack/internal/clock"
	"github.com/goodtune/keytrack/internal/config"
	"github.com/goodtune/keytrack/internal/event"
	"github.com/goodtune/keytrack/internal/lights"
	"github.com/goodtune/keytrack/internal/lights/serialstrip"
	"github.com/goodtune/keytrack/internal/persist"
	"github.com/goodtune/keytrack/internal/session"
	"github.com/goodtune/keytrack/internal/stats"
	"github.com/goodtune/keytrack/internal/storage"
	"github.com/goodtune/keytrack/internal/storage/redis"
	"github.com/goodtune/keytrack/internal/storage/sqlite"
	"github.com/rs/zerolog"
)

// pipeline holds the components shared by serve and replay. Events enter
// through bus and fan out to the tracker, the aggregator and the engine.
type pipeline struct {
	cfg    *config.Config
	clock  clock.Clock
	logger zerolog.Logger

	store     storage.Store
	bus       *event.Bus
	tracker   *session.Tracker
	stats     *stats.Aggregator
	sync      *persist.Synchronizer
	retention *persist.RetentionScheduler
	engine    *lights.Engine // nil when lights are disabled

	statsCancel context.CancelFunc
	statsDone   chan struct{}
}

func newPipeline(cfg *config.Config, withLights bool, logger zerolog.Logger) (*pipeline, error) {
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	logger.Info().Str("type", cfg.Storage.Type).Msg("Storage initialized")

	p := &pipeline{
		cfg:    cfg,
		clock:  clock.RealClock{},
		logger: logger,
		store:  store,
		bus:    event.NewBus(logger),
	}

	p.tracker = session.NewTracker(session.Config{
		PauseThreshold: parseDuration(cfg.Session.PauseThreshold, session.DefaultPauseThreshold),
		TickInterval:   parseDuration(cfg.Session.TickInterval, session.DefaultTickInterval),
	}, p.clock, logger)

	p.stats = stats.New(stats.Config{
		QueueSize: cfg.Aggregation.QueueSize,
	}, p.tracker, p.clock, logger)

	p.sync = persist.NewSynchronizer(persist.Config{
		Interval:        parseDuration(cfg.Persistence.FlushInterval, persist.DefaultInterval),
		MaxRetries:      cfg.Persistence.MaxRetries,
		InitialBackoff:  parseDuration(cfg.Persistence.InitialBackoff, persist.DefaultInitialBackoff),
		MaxBackoff:      parseDuration(cfg.Persistence.MaxBackoff, persist.DefaultMaxBackoff),
		HourlyQueueSize: cfg.Persistence.HourlyQueueSize,
	}, p.stats, store, p.tracker, p.clock, logger)
	p.tracker.SetSink(p.sync)

	p.retention, err = persist.NewRetentionScheduler(store, cfg.Persistence.RetentionDays, cfg.Persistence.RetentionTime, p.clock, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize retention scheduler: %w", err)
	}

	p.bus.Subscribe("session", p.tracker.HandleEvent)
	p.bus.Subscribe("stats", p.stats.HandleEvent)

	if withLights && cfg.Lights.Enabled {
		preset := loadPreset(cfg.Lights.PresetPath, logger)
		p.engine = lights.NewEngine(lights.Config{
			FrameRate:    cfg.Lights.FrameRate,
			Channels:     cfg.Lights.Strip.Count,
			StartEnabled: true,
		}, openStrip(cfg.Lights.Strip, logger), preset, p.clock, logger)
		p.bus.Subscribe("lights", p.engine.HandleEvent)
	}

	return p, nil
}

// start runs the aggregator and the background writers. The tracker's
// pause check is left to the caller.
func (p *pipeline) start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.statsCancel = cancel
	p.statsDone = make(chan struct{})
	go func() {
		defer close(p.statsDone)
		p.stats.Run(ctx)
	}()

	p.sync.Start()
	p.retention.Start()
}

// stop flushes what is pending and releases the hardware and storage. Input
// must already be stopped so the final flush sees every event.
func (p *pipeline) stop(ctx context.Context) error {
	p.retention.Stop()

	var errs []error
	if err := p.sync.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("final flush: %w", err))
	}

	if p.statsCancel != nil {
		p.statsCancel()
		<-p.statsDone
	}

	if p.engine != nil {
		if err := p.engine.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close lights: %w", err))
		}
	}

	if err := p.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close storage: %w", err))
	}
	return errors.Join(errs...)
}

func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "", "sqlite":
		return sqlite.Open(cfg.SQLite.Path, cfg.SQLite.BusyTimeoutMS)
	case "redis":
		return redis.Open(cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// openStrip returns nil when no hardware is configured or it cannot be
// opened; the engine then runs without output.
func openStrip(cfg config.StripConfig, logger zerolog.Logger) lights.Strip {
	if cfg.Type != "serial" {
		return nil
	}

	strip, err := serialstrip.Open(serialstrip.Config{
		Device: cfg.Device,
		Baud:   cfg.Baud,
		Count:  cfg.Count,
	}, logger)
	if err != nil {
		logger.Warn().Err(err).Str("device", cfg.Device).Msg("LED strip unavailable, continuing without light output")
		return nil
	}
	return strip
}

func loadPreset(path string, logger zerolog.Logger) lights.Preset {
	if path == "" {
		return lights.DefaultPreset()
	}

	p, err := lights.LoadPreset(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logger.Info().Str("path", path).Msg("Preset file not found, using defaults")
		return lights.DefaultPreset()
	case err != nil:
		logger.Warn().Err(err).Str("path", path).Msg("Failed to load preset, using defaults")
		return lights.DefaultPreset()
	}

	logger.Info().Str("path", path).Str("effect", p.EffectMode.String()).Msg("Preset loaded")
	return p
}

// shutdownContext bounds the final flush.
func shutdownContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}
