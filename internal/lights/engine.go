// Package lights drives an addressable LED strip from keyboard events.
package lights

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/goodtune/keytrack/internal/clock"
	"github.com/goodtune/keytrack/internal/event"
	"github.com/goodtune/keytrack/internal/metrics"
	"github.com/rs/zerolog"
)

const (
	// DefaultFrameRate is the animation cadence in frames per second
	DefaultFrameRate = 30

	// DefaultChannels is the length of a standard 144-LED strip
	DefaultChannels = 144

	// animationJoinTimeout bounds the wait for the animation goroutine
	animationJoinTimeout = time.Second
)

// ErrDisabled is returned by operations that need the engine enabled.
var ErrDisabled = errors.New("lights: engine disabled")

// Config holds engine configuration
type Config struct {
	FrameRate    int
	TestStep     time.Duration // delay between notes of the test pattern
	Channels     int           // strip length simulated when no strip is attached
	StartEnabled bool
}

type phase uint8

const (
	phasePressed phase = iota
	phaseReleased
	phaseSustained
)

// channelState tracks one lit note.
type channelState struct {
	channels []int
	phase    phase
	velocity uint8
	level    float64 // brightness while pressed

	// Released only: linear fade from 'from' to 'target' starting at since.
	from   float64
	target float64
	since  time.Time
}

type animation struct {
	stop chan struct{}
	done chan struct{}
}

// Status describes the engine for the control API.
type Status struct {
	Enabled     bool   `json:"enabled"`
	Hardware    bool   `json:"hardware"`
	Animating   bool   `json:"animating"`
	ActiveNotes int    `json:"active_notes"`
	Pedal       bool   `json:"pedal"`
	Channels    int    `json:"channels"`
	Preset      Preset `json:"preset"`
}

// Engine maps notes to strip channels and renders the effects. All channel
// state is guarded by mu; the strip is flushed once per event or frame.
type Engine struct {
	mu       sync.Mutex
	strip    Strip
	hardware bool
	preset   Preset
	mapping  Mapping
	enabled  bool
	notes    map[uint8]*channelState
	held     map[uint8]struct{}
	pedal    bool
	anim     *animation
	rng      *rand.Rand

	frameInterval time.Duration
	testStep      time.Duration
	clock         clock.Clock
	logger        zerolog.Logger
	errLog        zerolog.Logger
}

// NewEngine creates an engine, disabled unless config.StartEnabled is set.
// A nil strip runs the engine in simulation on a NopStrip of
// config.Channels channels.
func NewEngine(config Config, strip Strip, preset Preset, clk clock.Clock, logger zerolog.Logger) *Engine {
	if config.FrameRate <= 0 {
		config.FrameRate = DefaultFrameRate
	}
	frameInterval := time.Second / time.Duration(config.FrameRate)
	if config.TestStep <= 0 {
		config.TestStep = frameInterval
	}
	if config.Channels <= 0 {
		config.Channels = DefaultChannels
	}
	if clk == nil {
		clk = clock.RealClock{}
	}

	hardware := strip != nil
	if strip == nil {
		strip = NewNopStrip(config.Channels)
	}

	logger = logger.With().Str("component", "lights").Logger()

	e := &Engine{
		strip:         strip,
		hardware:      hardware,
		preset:        preset,
		mapping:       Mapping{Mode: preset.MappingMode, Count: strip.Len()},
		notes:         make(map[uint8]*channelState),
		held:          make(map[uint8]struct{}),
		rng:           rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x6b6579)),
		frameInterval: frameInterval,
		testStep:      config.TestStep,
		clock:         clk,
		logger:        logger,
		errLog:        logger.Sample(&zerolog.BurstSampler{Burst: 1, Period: 10 * time.Second}),
	}
	if config.StartEnabled {
		e.Enable()
	}
	return e
}

// HardwareAvailable reports whether a physical strip is attached.
func (e *Engine) HardwareAvailable() bool {
	return e.hardware
}

// Enabled reports whether the engine reacts to events.
func (e *Engine) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled
}

// Preset returns the active preset.
func (e *Engine) Preset() Preset {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.preset
}

// Status returns a snapshot of the engine state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		Enabled:     e.enabled,
		Hardware:    e.hardware,
		Animating:   e.anim != nil,
		ActiveNotes: len(e.notes),
		Pedal:       e.pedal,
		Channels:    e.strip.Len(),
		Preset:      e.preset,
	}
}

// Enable lights the background and starts reacting to events.
func (e *Engine) Enable() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.enabled {
		return
	}
	e.enabled = true
	e.notes = make(map[uint8]*channelState)
	e.paintBackgroundLocked(e.mapping)
	e.showLocked()
	e.syncAnimationLocked()

	metrics.LightsEnabled.Set(1)
	e.logger.Info().
		Bool("hardware", e.hardware).
		Str("effect", e.preset.EffectMode.String()).
		Msg("Light feedback enabled")
}

// Disable stops the animation and turns every mapped channel off.
func (e *Engine) Disable() {
	e.mu.Lock()
	if !e.enabled {
		e.mu.Unlock()
		return
	}
	e.enabled = false
	e.notes = make(map[uint8]*channelState)
	e.fillLocked(e.mapping, 0, 0, 0)
	e.showLocked()
	old := e.detachAnimationLocked()
	e.mu.Unlock()

	old.join(e.logger)
	metrics.LightsEnabled.Set(0)
	e.logger.Info().Msg("Light feedback disabled")
}

// Apply switches to preset p, repainting the strip and starting or
// stopping the animation loop as the effect requires.
func (e *Engine) Apply(p Preset) error {
	if err := p.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	if e.enabled {
		e.fillLocked(e.mapping, 0, 0, 0)
	}
	e.preset = p
	e.mapping = Mapping{Mode: p.MappingMode, Count: e.strip.Len()}
	e.notes = make(map[uint8]*channelState)

	var old *animation
	if e.enabled {
		e.paintBackgroundLocked(e.mapping)
		e.showLocked()
		old = e.syncAnimationLocked()
	}
	e.mu.Unlock()

	old.join(e.logger)
	e.logger.Info().
		Str("effect", p.EffectMode.String()).
		Str("mapping", p.MappingMode.String()).
		Msg("Preset applied")
	return nil
}

// HandleEvent is an event.Handler.
func (e *Engine) HandleEvent(ev event.Event) {
	now := ev.Time
	if now.IsZero() {
		now = e.clock.Now()
	}

	switch ev.Kind {
	case event.KindNoteOn:
		e.NoteOn(ev.Note, ev.Velocity, now)
	case event.KindNoteOff:
		e.NoteOff(ev.Note, now)
	case event.KindSustain:
		e.Sustain(ev.Pressed, now)
	case event.KindPitchBend, event.KindOther:
	}
}

// NoteOn lights the channels of note.
func (e *Engine) NoteOn(note, velocity uint8, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.held[note] = struct{}{}
	if !e.enabled {
		return
	}

	channels := e.mapping.Channels(note)
	if channels == nil {
		return
	}

	st := &channelState{
		channels: channels,
		phase:    phasePressed,
		velocity: velocity,
		level:    e.pressedLevel(velocity),
		since:    now,
	}
	e.notes[note] = st
	e.paintLocked(st, st.level)
	e.showLocked()
}

// NoteOff releases note according to the effect and sustain state.
func (e *Engine) NoteOff(note uint8, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.held, note)
	if !e.enabled {
		return
	}

	st, ok := e.notes[note]
	if !ok {
		return
	}

	hold := e.pedal && e.preset.SustainHold
	switch e.preset.EffectMode {
	case EffectFade:
		st.phase = phaseReleased
		st.from = st.level
		st.since = now
		st.target = 0
		if hold {
			st.target = e.preset.SustainFadeThreshold
		}
		// The animation loop takes it from here.
		return
	case EffectStatic, EffectSparkle:
		if hold {
			st.phase = phaseSustained
			e.paintLocked(st, st.level)
			e.showLocked()
			return
		}
	}

	e.clearLocked(note, st)
	e.showLocked()
}

// Sustain tracks the pedal. On release, notes that are no longer
// physically held are cleared or start fading out.
func (e *Engine) Sustain(pressed bool, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if pressed == e.pedal {
		return
	}
	e.pedal = pressed
	if pressed || !e.enabled || !e.preset.SustainHold {
		return
	}

	changed := false
	for note, st := range e.notes {
		if _, held := e.held[note]; held {
			continue
		}

		switch st.phase {
		case phaseSustained:
			e.clearLocked(note, st)
			changed = true
		case phaseReleased:
			if st.target > 0 {
				st.from = e.fadeLevel(st, now)
				st.target = 0
				st.since = now
			}
		case phasePressed:
		}
	}

	if changed {
		e.showLocked()
	}
}

// tick renders one animation frame.
func (e *Engine) tick(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.enabled {
		return
	}

	for note, st := range e.notes {
		switch st.phase {
		case phasePressed:
			if e.preset.EffectMode == EffectSparkle {
				jitter := (e.rng.Float64()*2 - 1) * e.preset.SparkleIntensity
				e.paintLocked(st, clamp01(st.level*(1+jitter)))
			}
		case phaseReleased:
			level := e.fadeLevel(st, now)
			if e.fadeDone(st, now) && st.target == 0 {
				e.clearLocked(note, st)
				continue
			}
			e.paintLocked(st, level)
		case phaseSustained:
		}
	}

	e.showLocked()
	metrics.AnimationTicks.Inc()
}

func (e *Engine) fadeProgress(st *channelState, now time.Time) float64 {
	d := time.Duration(e.preset.FadeDuration)
	if d <= 0 {
		return 1
	}
	return clamp01(float64(now.Sub(st.since)) / float64(d))
}

func (e *Engine) fadeLevel(st *channelState, now time.Time) float64 {
	p := e.fadeProgress(st, now)
	return st.from + (st.target-st.from)*p
}

func (e *Engine) fadeDone(st *channelState, now time.Time) bool {
	return e.fadeProgress(st, now) >= 1
}

func (e *Engine) pressedLevel(velocity uint8) float64 {
	if !e.preset.VelocityScaling {
		return 1
	}
	return 0.3 + float64(velocity)/127*0.7
}

func (e *Engine) paintLocked(st *channelState, level float64) {
	r, g, b := e.preset.NoteColor.Scaled(level * e.preset.Brightness)
	for _, ch := range st.channels {
		e.strip.SetChannel(ch, r, g, b)
	}
}

func (e *Engine) clearLocked(note uint8, st *channelState) {
	r, g, b := e.backgroundLocked()
	for _, ch := range st.channels {
		e.strip.SetChannel(ch, r, g, b)
	}
	delete(e.notes, note)
}

func (e *Engine) backgroundLocked() (r, g, b uint8) {
	return e.preset.BackgroundColor.Scaled(e.preset.BackgroundBrightness * e.preset.Brightness)
}

func (e *Engine) paintBackgroundLocked(m Mapping) {
	r, g, b := e.backgroundLocked()
	e.fillLocked(m, r, g, b)
}

// fillLocked writes one color to every channel m maps.
func (e *Engine) fillLocked(m Mapping, r, g, b uint8) {
	m.Each(func(_ uint8, channels []int) {
		for _, ch := range channels {
			e.strip.SetChannel(ch, r, g, b)
		}
	})
}

func (e *Engine) showLocked() {
	if err := e.strip.Show(); err != nil {
		metrics.StripErrors.Inc()
		e.errLog.Warn().Err(err).Msg("Failed to update strip")
	}
}

// syncAnimationLocked starts the loop when the effect needs it and
// detaches it otherwise. A detached loop must be joined after mu is
// released.
func (e *Engine) syncAnimationLocked() *animation {
	if e.enabled && e.preset.EffectMode.Continuous() {
		if e.anim == nil {
			e.anim = &animation{stop: make(chan struct{}), done: make(chan struct{})}
			go e.animate(e.anim)
		}
		return nil
	}
	return e.detachAnimationLocked()
}

func (e *Engine) detachAnimationLocked() *animation {
	old := e.anim
	e.anim = nil
	if old != nil {
		close(old.stop)
	}
	return old
}

// join waits for the loop to exit, giving up after animationJoinTimeout.
func (a *animation) join(logger zerolog.Logger) {
	if a == nil {
		return
	}
	select {
	case <-a.done:
	case <-time.After(animationJoinTimeout):
		logger.Warn().Msg("Animation loop did not stop in time")
	}
}

func (e *Engine) animate(a *animation) {
	defer close(a.done)

	ticker := time.NewTicker(e.frameInterval)
	defer ticker.Stop()

	e.logger.Debug().Dur("interval", e.frameInterval).Msg("Animation loop started")
	defer e.logger.Debug().Msg("Animation loop stopped")

	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			e.tick(e.clock.Now())
		}
	}
}

// TestPattern sweeps the note color across the mapped range, lowest note
// first, then restores the background.
func (e *Engine) TestPattern(ctx context.Context) error {
	e.mu.Lock()
	if !e.enabled {
		e.mu.Unlock()
		return ErrDisabled
	}
	m := e.mapping
	e.mu.Unlock()

	e.logger.Info().Str("mapping", m.Mode.String()).Msg("Running test pattern")

	var err error
	m.Each(func(note uint8, channels []int) {
		if err != nil {
			return
		}

		e.mu.Lock()
		if e.enabled {
			r, g, b := e.preset.NoteColor.Scaled(e.preset.Brightness)
			for _, ch := range channels {
				e.strip.SetChannel(ch, r, g, b)
			}
			e.showLocked()
		}
		e.mu.Unlock()

		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-time.After(e.testStep):
		}
	})

	e.mu.Lock()
	if e.enabled && e.mapping == m {
		e.paintBackgroundLocked(m)
		for _, st := range e.notes {
			e.paintLocked(st, st.level)
		}
		e.showLocked()
	}
	e.mu.Unlock()

	return err
}

// Close stops the animation, turns the strip off and releases it.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.enabled = false
	e.notes = make(map[uint8]*channelState)
	e.fillLocked(e.mapping, 0, 0, 0)
	e.showLocked()
	old := e.detachAnimationLocked()
	e.mu.Unlock()

	old.join(e.logger)
	metrics.LightsEnabled.Set(0)
	return e.strip.Close()
}
