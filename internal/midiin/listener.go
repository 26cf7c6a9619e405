package midiin

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/goodtune/keytrack/internal/clock"
	"github.com/goodtune/keytrack/internal/metrics"
	"github.com/rs/zerolog"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

// Config holds input port selection settings.
type Config struct {
	Port           string
	Preferred      []string
	Excluded       []string
	RescanInterval time.Duration
}

// Listener keeps a connection to the selected MIDI input, reconnecting
// when the device is unplugged and plugged back in.
type Listener struct {
	mu       sync.Mutex
	cfg      Config
	drv      drivers.Driver
	in       drivers.In
	stopFn   func()
	selected string
	wake     chan struct{}

	sink   Dispatcher
	clock  clock.Clock
	logger zerolog.Logger
}

// NewListener initialises the rtmidi driver. Call Run to start listening.
func NewListener(cfg Config, sink Dispatcher, clk clock.Clock, logger zerolog.Logger) (*Listener, error) {
	if cfg.RescanInterval <= 0 {
		cfg.RescanInterval = time.Second
	}
	if clk == nil {
		clk = clock.RealClock{}
	}

	drv, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("rtmididrv: %w", err)
	}

	return &Listener{
		cfg:    cfg,
		drv:    drv,
		wake:   make(chan struct{}, 1),
		sink:   sink,
		clock:  clk,
		logger: logger.With().Str("component", "midiin").Logger(),
	}, nil
}

// Connected returns the name of the connected input.
func (l *Listener) Connected() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.selected, l.in != nil
}

// Inputs returns the names of the inputs the driver currently sees.
func (l *Listener) Inputs() ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ins, err := l.drv.Ins()
	if err != nil {
		return nil, fmt.Errorf("failed to list inputs: %w", err)
	}
	names := make([]string, 0, len(ins))
	for _, in := range ins {
		names = append(names, in.String())
	}
	return names, nil
}

// Rescan asks Run to scan for inputs without waiting for the next tick.
func (l *Listener) Rescan() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Select pins the listener to the input called name, dropping the current
// connection when it is a different device.
func (l *Listener) Select(name string) {
	l.mu.Lock()
	l.cfg.Port = name
	if l.in != nil && l.selected != name {
		l.logger.Info().Str("from", l.selected).Str("to", name).Msg("Switching MIDI input")
		l.closeConn()
	}
	l.mu.Unlock()

	l.Rescan()
}

// Run scans for inputs until ctx is cancelled, then closes the port and
// the driver.
func (l *Listener) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.RescanInterval)
	defer ticker.Stop()

	l.scan()
	for {
		select {
		case <-ctx.Done():
			l.mu.Lock()
			l.closeConn()
			l.mu.Unlock()
			if err := l.drv.Close(); err != nil {
				l.logger.Warn().Err(err).Msg("Failed to close MIDI driver")
			}
			return nil
		case <-l.wake:
			l.scan()
		case <-ticker.C:
			l.scan()
		}
	}
}

func (l *Listener) scan() {
	l.mu.Lock()
	defer l.mu.Unlock()

	ins, err := l.drv.Ins()
	if err != nil {
		l.logger.Error().Err(err).Msg("Failed to list MIDI inputs")
		return
	}
	names := make([]string, 0, len(ins))
	for _, in := range ins {
		names = append(names, in.String())
	}

	if l.in != nil {
		if slices.Contains(names, l.selected) {
			return
		}
		l.logger.Warn().Str("device", l.selected).Msg("MIDI input disappeared")
		l.closeConn()
	}

	name, ok := SelectPort(names, l.cfg)
	if !ok {
		l.logger.Debug().Str("inputs", strings.Join(names, ", ")).Msg("No usable MIDI input")
		return
	}
	for _, in := range ins {
		if in.String() == name {
			if err := l.open(in); err != nil {
				l.logger.Error().Err(err).Str("device", name).Msg("Failed to connect MIDI input")
			}
			return
		}
	}
}

func (l *Listener) open(in drivers.In) error {
	if err := in.Open(); err != nil {
		return fmt.Errorf("open %q: %w", in.String(), err)
	}

	name := in.String()
	stop, err := midi.ListenTo(in, func(msg midi.Message, _ int32) {
		l.sink.Dispatch(msg, l.clock.Now())
	}, midi.HandleError(func(err error) {
		l.logger.Warn().Err(err).Str("device", name).Msg("MIDI listener error")
		// closeConn must not run on the driver callback.
		go func() {
			l.mu.Lock()
			if l.in != nil && l.selected == name {
				l.closeConn()
			}
			l.mu.Unlock()

			l.Rescan()
		}()
	}))
	if err != nil {
		_ = in.Close()
		return fmt.Errorf("listen %q: %w", name, err)
	}

	l.in = in
	l.stopFn = stop
	l.selected = name
	metrics.InputConnected.Set(1)
	l.logger.Info().Str("device", name).Msg("MIDI input connected")
	return nil
}

func (l *Listener) closeConn() {
	if l.stopFn != nil {
		l.stopFn()
		l.stopFn = nil
	}
	if l.in != nil {
		_ = l.in.Close()
		l.in = nil
	}
	l.selected = ""
	metrics.InputConnected.Set(0)
}
