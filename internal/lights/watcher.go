package lights

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// PresetWatcher reloads a preset file when it changes on disk.
type PresetWatcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	path        string
	apply       func(Preset) error
	debounceDur time.Duration
	pending     time.Time
	logger      zerolog.Logger
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
}

// NewPresetWatcher watches path and passes every successfully parsed
// revision to apply.
func NewPresetWatcher(path string, apply func(Preset) error, logger zerolog.Logger) (*PresetWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return nil, err
	}

	return &PresetWatcher{
		watcher:     watcher,
		path:        abs,
		apply:       apply,
		debounceDur: 200 * time.Millisecond,
		logger:      logger.With().Str("component", "preset-watcher").Str("path", abs).Logger(),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start watches the directory holding the preset, so editors that
// replace the file by rename are seen too.
func (pw *PresetWatcher) Start(ctx context.Context) error {
	pw.mu.Lock()
	if pw.running {
		pw.mu.Unlock()
		return nil
	}
	pw.running = true
	pw.mu.Unlock()

	if err := pw.watcher.Add(filepath.Dir(pw.path)); err != nil {
		return err
	}

	go pw.run(ctx)
	pw.logger.Info().Msg("Watching preset file")
	return nil
}

// Stop stops the watcher and waits for it to exit.
func (pw *PresetWatcher) Stop() {
	pw.mu.Lock()
	if !pw.running {
		pw.mu.Unlock()
		_ = pw.watcher.Close()
		return
	}
	pw.running = false
	pw.mu.Unlock()

	close(pw.stopCh)
	<-pw.doneCh

	if err := pw.watcher.Close(); err != nil {
		pw.logger.Error().Err(err).Msg("Error closing preset watcher")
	}
}

func (pw *PresetWatcher) run(ctx context.Context) {
	defer close(pw.doneCh)

	debounceTicker := time.NewTicker(50 * time.Millisecond)
	defer debounceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pw.stopCh:
			return
		case ev, ok := <-pw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != pw.path {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			pw.mu.Lock()
			pw.pending = time.Now()
			pw.mu.Unlock()
		case err, ok := <-pw.watcher.Errors:
			if !ok {
				return
			}
			pw.logger.Error().Err(err).Msg("Preset watcher error")
		case <-debounceTicker.C:
			pw.processPending()
		}
	}
}

func (pw *PresetWatcher) processPending() {
	pw.mu.Lock()
	due := !pw.pending.IsZero() && time.Since(pw.pending) >= pw.debounceDur
	if due {
		pw.pending = time.Time{}
	}
	pw.mu.Unlock()

	if !due {
		return
	}

	p, err := LoadPreset(pw.path)
	if err != nil {
		pw.logger.Warn().Err(err).Msg("Ignoring invalid preset revision")
		return
	}
	if err := pw.apply(p); err != nil {
		pw.logger.Warn().Err(err).Msg("Failed to apply preset")
		return
	}
	pw.logger.Info().Msg("Preset reloaded")
}
