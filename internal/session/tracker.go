// Package session tracks practice sessions: activity windows that close
// after a pause in played notes.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/goodtune/keytrack/internal/clock"
	"github.com/goodtune/keytrack/internal/event"
	"github.com/goodtune/keytrack/internal/metrics"
	"github.com/goodtune/keytrack/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// DefaultPauseThreshold is the silence after which a session pauses
	DefaultPauseThreshold = 40 * time.Second

	// DefaultTickInterval is how often Run checks for a pause
	DefaultTickInterval = time.Second
)

// Config holds tracker configuration
type Config struct {
	PauseThreshold time.Duration
	TickInterval   time.Duration
}

// Sink receives practice sessions once they pause. Implementations must not block.
type Sink interface {
	RecordSession(storage.PracticeSession)
}

// Window is a point-in-time view of the tracker state.
type Window struct {
	Active      bool          `json:"active"`
	ActiveSince time.Time     `json:"active_since,omitempty"`
	LastEvent   time.Time     `json:"last_event,omitempty"`
	Accumulated time.Duration `json:"accumulated"`
	Seconds     float64       `json:"seconds"`
	SessionID   string        `json:"session_id,omitempty"`
}

// Tracker derives practice-session active/idle windows from event timing.
type Tracker struct {
	pauseThreshold time.Duration
	tickInterval   time.Duration
	clock          clock.Clock
	logger         zerolog.Logger

	mu          sync.Mutex
	active      bool
	activeSince time.Time
	lastEvent   time.Time
	accumulated time.Duration
	sessionID   string
	sink        Sink
}

// NewTracker creates a tracker in the idle state
func NewTracker(config Config, clk clock.Clock, logger zerolog.Logger) *Tracker {
	if config.PauseThreshold <= 0 {
		config.PauseThreshold = DefaultPauseThreshold
	}
	if config.TickInterval <= 0 {
		config.TickInterval = DefaultTickInterval
	}
	if clk == nil {
		clk = clock.RealClock{}
	}

	return &Tracker{
		pauseThreshold: config.PauseThreshold,
		tickInterval:   config.TickInterval,
		clock:          clk,
		logger:         logger.With().Str("component", "session-tracker").Logger(),
	}
}

// SetSink registers the receiver of paused sessions.
func (t *Tracker) SetSink(sink Sink) {
	t.mu.Lock()
	t.sink = sink
	t.mu.Unlock()
}

// HandleEvent is an event.Handler that marks activity.
func (t *Tracker) HandleEvent(ev event.Event) {
	at := ev.Time
	if at.IsZero() {
		at = t.clock.Now()
	}
	t.Touch(at)
}

// Touch records activity at now, starting a session when idle.
func (t *Tracker) Touch(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.active {
		t.active = true
		t.activeSince = now
		t.sessionID = uuid.NewString()
		metrics.SessionActive.Set(1)

		t.logger.Info().
			Str("session_id", t.sessionID).
			Time("active_since", now).
			Msg("Practice session started")
	}

	if now.After(t.lastEvent) {
		t.lastEvent = now
	}
}

// Check pauses the session when no event arrived within the pause
// threshold. It reports whether a pause happened.
func (t *Tracker) Check(now time.Time) bool {
	t.mu.Lock()

	if !t.active || now.Sub(t.lastEvent) <= t.pauseThreshold {
		t.mu.Unlock()
		return false
	}

	elapsed := t.lastEvent.Sub(t.activeSince)
	if elapsed < 0 {
		elapsed = 0
	}
	t.accumulated += elapsed
	t.active = false

	record := storage.PracticeSession{
		ID:        t.sessionID,
		Date:      storage.DateKey(t.activeSince),
		StartedAt: t.activeSince,
		EndedAt:   t.lastEvent,
		Seconds:   elapsed.Seconds(),
	}
	sink := t.sink
	accumulated := t.accumulated
	t.sessionID = ""
	t.mu.Unlock()

	metrics.SessionActive.Set(0)
	t.logger.Info().
		Str("session_id", record.ID).
		Dur("duration", elapsed).
		Dur("accumulated", accumulated).
		Msg("Practice session paused")

	if sink != nil {
		sink.RecordSession(record)
	}
	return true
}

// IsActive reports whether a session is currently running
func (t *Tracker) IsActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// CurrentSeconds returns accumulated practice time plus the running session.
func (t *Tracker) CurrentSeconds(now time.Time) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentLocked(now).Seconds()
}

func (t *Tracker) currentLocked(now time.Time) time.Duration {
	total := t.accumulated
	if t.active && now.After(t.activeSince) {
		total += now.Sub(t.activeSince)
	}
	return total
}

// Status returns a snapshot of the tracker state
func (t *Tracker) Status(now time.Time) Window {
	t.mu.Lock()
	defer t.mu.Unlock()

	current := t.currentLocked(now)
	return Window{
		Active:      t.active,
		ActiveSince: t.activeSince,
		LastEvent:   t.lastEvent,
		Accumulated: t.accumulated,
		Seconds:     current.Seconds(),
		SessionID:   t.sessionID,
	}
}

// Reset returns the tracker to idle with no accumulated time.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.active = false
	t.activeSince = time.Time{}
	t.lastEvent = time.Time{}
	t.accumulated = 0
	t.sessionID = ""
	t.mu.Unlock()

	metrics.SessionActive.Set(0)
	t.logger.Info().Msg("Session cleared")
}

// Run checks for pauses every tick until ctx is done.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Check(t.clock.Now())
		}
	}
}
