// Package stats owns the practice counters. All state lives on a single
// goroutine fed by a bounded queue, so the ingestion path never waits on a
// lock held by a flush or a query.
package stats

import (
	"context"
	"errors"
	"time"

	"github.com/goodtune/keytrack/internal/clock"
	"github.com/goodtune/keytrack/internal/event"
	"github.com/goodtune/keytrack/internal/metrics"
	"github.com/goodtune/keytrack/internal/storage"
	"github.com/rs/zerolog"
)

// DefaultQueueSize is the capacity of the owner queue
const DefaultQueueSize = 1024

// ErrStopped is returned by queries once Run has returned.
var ErrStopped = errors.New("stats: aggregator stopped")

// SessionClock supplies practice time to the aggregator.
type SessionClock interface {
	CurrentSeconds(now time.Time) float64
	IsActive() bool
}

// Config holds aggregator configuration
type Config struct {
	QueueSize int
}

// HourKey identifies an hourly bucket.
type HourKey struct {
	Date string
	Hour int
}

// NoteKey identifies a distribution entry.
type NoteKey struct {
	Date string
	Note int
}

// noteState is the bookkeeping for one sounding note.
type noteState struct {
	velocity uint8
	energy   float64
	start    time.Time
}

type request struct {
	ev   event.Event
	op   func()
	done chan struct{}
}

// Aggregator accumulates daily totals, hourly buckets and the per-note
// distribution from classified events.
type Aggregator struct {
	queue   chan request
	stopped chan struct{}
	session SessionClock
	clock   clock.Clock
	logger  zerolog.Logger
	dropLog zerolog.Logger

	// Owned by the Run goroutine.
	date        string
	totals      storage.Counters
	lastSaved   storage.Counters
	carry       []storage.DailyRow
	sessionBase float64

	hours           map[HourKey]*storage.Counters
	hourSessionBase float64

	today   map[int]*storage.NoteCounters
	pending map[NoteKey]*storage.NoteCounters

	active    map[uint8]noteState
	sustained map[uint8]struct{}
	held      map[uint8]struct{}
	pedal     bool
}

// New creates an aggregator. session may be nil when practice time is not tracked.
func New(config Config, session SessionClock, clk clock.Clock, logger zerolog.Logger) *Aggregator {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}
	if clk == nil {
		clk = clock.RealClock{}
	}

	logger = logger.With().Str("component", "aggregator").Logger()

	a := &Aggregator{
		queue:   make(chan request, config.QueueSize),
		stopped: make(chan struct{}),
		session: session,
		clock:   clk,
		logger:  logger,
		dropLog: logger.Sample(&zerolog.BurstSampler{Burst: 1, Period: 5 * time.Second}),
	}
	a.clear()

	return a
}

func (a *Aggregator) clear() {
	a.date = ""
	a.totals = storage.Counters{}
	a.lastSaved = storage.Counters{}
	a.carry = nil
	a.sessionBase = 0
	a.hours = make(map[HourKey]*storage.Counters)
	a.hourSessionBase = 0
	a.today = make(map[int]*storage.NoteCounters)
	a.pending = make(map[NoteKey]*storage.NoteCounters)
	a.active = make(map[uint8]noteState)
	a.sustained = make(map[uint8]struct{})
	a.held = make(map[uint8]struct{})
	a.pedal = false
	metrics.ActiveNotes.Set(0)
}

// Submit queues ev without blocking. It returns false when the queue is
// full and the event was dropped.
func (a *Aggregator) Submit(ev event.Event) bool {
	select {
	case a.queue <- request{ev: ev}:
		return true
	default:
		metrics.EventsDropped.Inc()
		a.dropLog.Warn().
			Str("kind", ev.Kind.String()).
			Int("queue_size", cap(a.queue)).
			Msg("Aggregation queue full, dropping event")
		return false
	}
}

// HandleEvent is an event.Handler that submits ev.
func (a *Aggregator) HandleEvent(ev event.Event) {
	a.Submit(ev)
}

// Run applies queued events and queries until ctx is done.
func (a *Aggregator) Run(ctx context.Context) {
	defer close(a.stopped)

	a.logger.Info().Int("queue_size", cap(a.queue)).Msg("Aggregator started")
	defer a.logger.Info().Msg("Aggregator stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-a.queue:
			if req.op != nil {
				req.op()
				close(req.done)
				continue
			}
			a.apply(req.ev)
		}
	}
}

// do runs fn on the owner goroutine after every previously queued event.
func (a *Aggregator) do(ctx context.Context, fn func()) error {
	req := request{op: fn, done: make(chan struct{})}

	select {
	case a.queue <- req:
	case <-a.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-a.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reset discards all counters and note state.
func (a *Aggregator) Reset(ctx context.Context) error {
	return a.do(ctx, func() {
		a.clear()
		a.logger.Info().Msg("Statistics cleared")
	})
}

func (a *Aggregator) sessionSeconds(now time.Time) float64 {
	if a.session == nil {
		return 0
	}
	return a.session.CurrentSeconds(now)
}

// roll moves the unsaved delta of the previous date to the carry list when
// now falls on a later date.
func (a *Aggregator) roll(now time.Time) {
	d := storage.DateKey(now)
	if a.date == "" {
		a.date = d
		a.sessionBase = a.sessionSeconds(now)
		return
	}
	if d <= a.date {
		return
	}

	cur := a.sessionSeconds(now)
	a.foldSession(cur)

	if delta := a.totals.Sub(a.lastSaved); !delta.IsZero() {
		a.carry = append(a.carry, storage.DailyRow{Date: a.date, Counters: delta})
	}

	a.logger.Info().
		Str("from", a.date).
		Str("to", d).
		Int("carried", len(a.carry)).
		Msg("Date rolled over")

	a.date = d
	a.totals = storage.Counters{}
	a.lastSaved = storage.Counters{}
	a.today = make(map[int]*storage.NoteCounters)
	a.sessionBase = cur
}

func (a *Aggregator) foldSession(cur float64) {
	if s := cur - a.sessionBase; s > a.totals.SessionSeconds {
		a.totals.SessionSeconds = s
	}
}

func (a *Aggregator) hour(now time.Time) *storage.Counters {
	local := now.Local()
	key := HourKey{Date: storage.DateKey(local), Hour: local.Hour()}
	c, ok := a.hours[key]
	if !ok {
		c = &storage.Counters{}
		a.hours[key] = c
	}
	return c
}

func (a *Aggregator) addNote(note int, delta storage.NoteCounters) {
	key := NoteKey{Date: a.date, Note: note}
	p, ok := a.pending[key]
	if !ok {
		p = &storage.NoteCounters{}
		a.pending[key] = p
	}
	p.Add(delta)

	t, ok := a.today[note]
	if !ok {
		t = &storage.NoteCounters{}
		a.today[note] = t
	}
	t.Add(delta)
}
