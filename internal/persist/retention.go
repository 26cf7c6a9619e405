package persist

import (
	"context"
	"time"

	"github.com/goodtune/keytrack/internal/clock"
	"github.com/goodtune/keytrack/internal/storage"
	"github.com/rs/zerolog"
)

// RetentionScheduler deletes statistics older than the retention period
// once per day.
type RetentionScheduler struct {
	stats         storage.StatsStore
	sessions      storage.SessionStore
	retentionDays int
	runAt         time.Time // only hour and minute are used
	clock         clock.Clock
	logger        zerolog.Logger
	stopChan      chan struct{}
	done          chan struct{}
	started       bool
}

// NewRetentionScheduler creates a scheduler running at runAt (HH:MM).
// retentionDays of zero keeps everything.
func NewRetentionScheduler(store storage.Store, retentionDays int, runAt string, clk clock.Clock, logger zerolog.Logger) (*RetentionScheduler, error) {
	parsed, err := time.Parse("15:04", runAt)
	if err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.RealClock{}
	}

	return &RetentionScheduler{
		stats:         store.Stats(),
		sessions:      store.Sessions(),
		retentionDays: retentionDays,
		runAt:         parsed,
		clock:         clk,
		logger:        logger.With().Str("component", "retention").Logger(),
		stopChan:      make(chan struct{}),
		done:          make(chan struct{}),
	}, nil
}

// Start begins the retention scheduler
func (rs *RetentionScheduler) Start() {
	if rs.retentionDays <= 0 {
		rs.logger.Info().Msg("Retention disabled, keeping all history")
		return
	}

	rs.started = true
	go rs.run()
	rs.logger.Info().
		Str("run_at", rs.runAt.Format("15:04")).
		Int("retention_days", rs.retentionDays).
		Msg("Retention scheduler started")
}

// Stop stops the retention scheduler
func (rs *RetentionScheduler) Stop() {
	if !rs.started {
		return
	}
	close(rs.stopChan)
	<-rs.done
	rs.logger.Info().Msg("Retention scheduler stopped")
}

func (rs *RetentionScheduler) run() {
	defer close(rs.done)

	for {
		next := rs.nextRun(rs.clock.Now())
		wait := next.Sub(rs.clock.Now())

		rs.logger.Debug().
			Time("next_run", next).
			Dur("wait_duration", wait).
			Msg("Scheduled next retention cleanup")

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
			if _, _, err := rs.Cleanup(context.Background()); err != nil {
				rs.logger.Error().Err(err).Msg("Retention cleanup failed")
			}
		case <-rs.stopChan:
			timer.Stop()
			return
		}
	}
}

// nextRun returns the first run time strictly after now.
func (rs *RetentionScheduler) nextRun(now time.Time) time.Time {
	today := time.Date(
		now.Year(), now.Month(), now.Day(),
		rs.runAt.Hour(), rs.runAt.Minute(), 0, 0,
		now.Location(),
	)

	if !now.Before(today) {
		return today.AddDate(0, 0, 1)
	}
	return today
}

// Cleanup deletes statistics and practice sessions older than the
// retention period. It returns the number of rows (or keys) and sessions
// removed.
func (rs *RetentionScheduler) Cleanup(ctx context.Context) (int, int, error) {
	if rs.retentionDays <= 0 {
		return 0, 0, nil
	}

	cutoff := rs.clock.Now().AddDate(0, 0, -rs.retentionDays)
	cutoffDate := storage.DateKey(cutoff)

	rows, err := rs.stats.DeleteBefore(ctx, cutoffDate)
	if err != nil {
		return 0, 0, err
	}

	sessions, err := rs.sessions.DeleteBefore(ctx, cutoff)
	if err != nil {
		return rows, 0, err
	}

	rs.logger.Info().
		Int("rows_deleted", rows).
		Int("sessions_deleted", sessions).
		Str("cutoff_date", cutoffDate).
		Msg("Retention cleanup complete")

	return rows, sessions, nil
}
