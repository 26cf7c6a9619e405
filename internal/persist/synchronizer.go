package persist

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goodtune/keytrack/internal/clock"
	"github.com/goodtune/keytrack/internal/metrics"
	"github.com/goodtune/keytrack/internal/stats"
	"github.com/goodtune/keytrack/internal/storage"
	"github.com/rs/zerolog"
)

const (
	// DefaultInterval is the time between flushes
	DefaultInterval = 20 * time.Second

	// DefaultMaxRetries bounds retries of one write on contention
	DefaultMaxRetries = 5

	DefaultInitialBackoff  = 100 * time.Millisecond
	DefaultMaxBackoff      = 2 * time.Second
	DefaultHourlyQueueSize = 256
)

// Config holds synchronizer configuration
type Config struct {
	Interval        time.Duration
	MaxRetries      int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	HourlyQueueSize int
}

// Source is the aggregation side of a flush.
type Source interface {
	Prepare(ctx context.Context, now time.Time) (*stats.Batch, error)
	Commit(ctx context.Context, r stats.Result) error
	Reset(ctx context.Context) error
}

// Resetter is cleared together with the statistics.
type Resetter interface {
	Reset()
}

// Synchronizer periodically moves aggregation deltas to durable storage.
type Synchronizer struct {
	config   Config
	source   Source
	stats    storage.StatsStore
	sessions storage.SessionStore
	tracker  Resetter
	clock    clock.Clock
	logger   zerolog.Logger

	mu       sync.Mutex // serializes flushes
	hourly   chan storage.HourlyRow
	practice chan storage.PracticeSession

	stopChan   chan struct{}
	writerStop chan struct{}
	loopDone   chan struct{}
	writerDone chan struct{}

	stateMu sync.Mutex
	started bool
	stopped bool
}

// NewSynchronizer creates a synchronizer writing to store. tracker may be nil.
func NewSynchronizer(config Config, source Source, store storage.Store, tracker Resetter, clk clock.Clock, logger zerolog.Logger) *Synchronizer {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = DefaultMaxRetries
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = DefaultInitialBackoff
	}
	if config.MaxBackoff < config.InitialBackoff {
		config.MaxBackoff = DefaultMaxBackoff
	}
	if config.HourlyQueueSize <= 0 {
		config.HourlyQueueSize = DefaultHourlyQueueSize
	}
	if clk == nil {
		clk = clock.RealClock{}
	}

	return &Synchronizer{
		config:     config,
		source:     source,
		stats:      store.Stats(),
		sessions:   store.Sessions(),
		tracker:    tracker,
		clock:      clk,
		logger:     logger.With().Str("component", "synchronizer").Logger(),
		hourly:     make(chan storage.HourlyRow, config.HourlyQueueSize),
		practice:   make(chan storage.PracticeSession, config.HourlyQueueSize),
		stopChan:   make(chan struct{}),
		writerStop: make(chan struct{}),
		loopDone:   make(chan struct{}),
		writerDone: make(chan struct{}),
	}
}

// Start begins the flush loop and the background writer. It does nothing
// once the synchronizer has been stopped.
func (s *Synchronizer) Start() {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true

	go s.run()
	go s.writer()

	s.logger.Info().
		Dur("interval", s.config.Interval).
		Int("max_retries", s.config.MaxRetries).
		Msg("Persistence synchronizer started")
}

// Stop performs a final flush, drains the write queue and waits for the
// background goroutines. Only the first call does any work.
func (s *Synchronizer) Stop(ctx context.Context) error {
	s.stateMu.Lock()
	if s.stopped {
		s.stateMu.Unlock()
		return nil
	}
	s.stopped = true
	started := s.started
	s.stateMu.Unlock()

	if !started {
		return nil
	}

	close(s.stopChan)
	<-s.loopDone

	err := s.Flush(ctx)

	close(s.writerStop)
	<-s.writerDone

	s.logger.Info().Msg("Persistence synchronizer stopped")
	return err
}

func (s *Synchronizer) run() {
	defer close(s.loopDone)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.config.Interval)
			if err := s.Flush(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("Flush incomplete, will retry next cycle")
			}
			cancel()
		case <-s.stopChan:
			return
		}
	}
}

// Flush writes everything the aggregator has pending. A daily delta that
// cannot be written stays pending and is retried on the next flush.
func (s *Synchronizer) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked(ctx)
}

func (s *Synchronizer) flushLocked(ctx context.Context) error {
	start := time.Now()
	defer func() {
		metrics.FlushDuration.Observe(time.Since(start).Seconds())
	}()

	batch, err := s.source.Prepare(ctx, s.clock.Now())
	if err != nil {
		metrics.FlushesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to prepare flush: %w", err)
	}

	result := stats.Result{Batch: batch}
	failedDates := make(map[string]bool)
	var flushErr error

	for _, row := range batch.Carry {
		row := row
		if err := s.retry(ctx, "daily", func() error { return s.stats.AddDaily(ctx, row) }); err != nil {
			s.logger.Error().Err(err).Str("date", row.Date).Msg("Failed to write carried daily totals")
			result.FailedCarry = append(result.FailedCarry, row)
			failedDates[row.Date] = true
			flushErr = err
		}
	}

	if batch.Daily != nil {
		daily := *batch.Daily
		if err := s.retry(ctx, "daily", func() error { return s.stats.AddDaily(ctx, daily) }); err != nil {
			s.logger.Error().Err(err).
				Str("date", daily.Date).
				Int64("notes", daily.Notes).
				Msg("Failed to write daily totals, delta kept pending")
			failedDates[daily.Date] = true
			flushErr = err
		} else {
			result.DailySaved = true
		}
	}

	// Per-note deltas of a date whose daily write failed are held back so
	// the distribution never runs ahead of the totals.
	var notes []storage.NoteRow
	for _, row := range batch.Notes {
		if failedDates[row.Date] {
			result.FailedNotes = append(result.FailedNotes, row)
			continue
		}
		notes = append(notes, row)
	}
	if len(notes) > 0 {
		if err := s.retry(ctx, "notes", func() error { return s.stats.AddNotes(ctx, notes) }); err != nil {
			s.logger.Error().Err(err).Int("rows", len(notes)).Msg("Failed to write note distribution, kept pending")
			result.FailedNotes = append(result.FailedNotes, notes...)
			flushErr = err
		}
	}

	for _, row := range batch.Hours {
		s.enqueueHourly(row)
	}

	if err := s.source.Commit(ctx, result); err != nil {
		metrics.FlushesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to commit flush: %w", err)
	}

	if flushErr != nil {
		metrics.FlushesTotal.WithLabelValues("partial").Inc()
		return flushErr
	}

	metrics.FlushesTotal.WithLabelValues("ok").Inc()
	s.logger.Debug().
		Str("date", batch.Date).
		Bool("daily", batch.Daily != nil).
		Int("carried", len(batch.Carry)).
		Int("notes", len(notes)).
		Int("hours", len(batch.Hours)).
		Dur("elapsed", time.Since(start)).
		Msg("Flush complete")

	return nil
}

// Clear flushes pending statistics, then resets the session tracker and
// the aggregator.
func (s *Synchronizer) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.flushLocked(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Flush before clear incomplete")
	}

	if s.tracker != nil {
		s.tracker.Reset()
	}
	if err := s.source.Reset(ctx); err != nil {
		return fmt.Errorf("failed to reset statistics: %w", err)
	}

	s.logger.Info().Msg("Session and statistics cleared")
	return nil
}

// RecordSession queues a closed practice session for writing.
func (s *Synchronizer) RecordSession(p storage.PracticeSession) {
	select {
	case s.practice <- p:
	default:
		s.logger.Warn().Str("session_id", p.ID).Msg("Practice session queue full, dropping record")
	}
}

func (s *Synchronizer) enqueueHourly(row storage.HourlyRow) {
	select {
	case s.hourly <- row:
		metrics.HourlyQueueDepth.Set(float64(len(s.hourly)))
	default:
		metrics.HourlyDropped.Inc()
		s.logger.Warn().
			Str("date", row.Date).
			Int("hour", row.Hour).
			Msg("Hourly write queue full, dropping bucket")
	}
}

// writer drains the hourly and practice-session queues.
func (s *Synchronizer) writer() {
	defer close(s.writerDone)

	for {
		select {
		case row := <-s.hourly:
			s.writeHourly(row)
		case p := <-s.practice:
			s.writeSession(p)
		case <-s.writerStop:
			for {
				select {
				case row := <-s.hourly:
					s.writeHourly(row)
				case p := <-s.practice:
					s.writeSession(p)
				default:
					return
				}
			}
		}
	}
}

func (s *Synchronizer) writeHourly(row storage.HourlyRow) {
	metrics.HourlyQueueDepth.Set(float64(len(s.hourly)))

	ctx := context.Background()
	if err := s.retry(ctx, "hourly", func() error { return s.stats.AddHourly(ctx, row) }); err != nil {
		metrics.HourlyDropped.Inc()
		s.logger.Error().Err(err).
			Str("date", row.Date).
			Int("hour", row.Hour).
			Msg("Failed to write hourly bucket, dropping")
	}
}

func (s *Synchronizer) writeSession(p storage.PracticeSession) {
	ctx := context.Background()
	if err := s.retry(ctx, "sessions", func() error { return s.sessions.Upsert(ctx, p) }); err != nil {
		s.logger.Error().Err(err).Str("session_id", p.ID).Msg("Failed to write practice session")
		return
	}
	s.logger.Debug().Str("session_id", p.ID).Float64("seconds", p.Seconds).Msg("Practice session saved")
}

// retry runs op, retrying with exponential backoff while it reports
// storage contention. Any other error ends the attempt immediately.
func (s *Synchronizer) retry(ctx context.Context, table string, op func() error) error {
	attempt := func() error {
		err := op()
		if err == nil || storage.IsBusy(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	notify := func(err error, wait time.Duration) {
		metrics.WriteRetries.WithLabelValues(table).Inc()
		s.logger.Debug().Err(err).Str("table", table).Dur("wait", wait).Msg("Storage busy, retrying")
	}

	return backoff.RetryNotify(attempt, s.newBackOff(ctx), notify)
}

func (s *Synchronizer) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.config.InitialBackoff
	b.MaxInterval = s.config.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.config.MaxRetries)), ctx)
}
