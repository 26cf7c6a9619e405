package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/goodtune/keytrack/internal/storage"
)

type statsStore struct {
	db *sql.DB
}

const counterColumns = `notes, duration_ms, velocity_sum, energy, pedal_presses, note_bytes, other_bytes, session_seconds`

const counterUpdates = `
	notes = notes + excluded.notes,
	duration_ms = duration_ms + excluded.duration_ms,
	velocity_sum = velocity_sum + excluded.velocity_sum,
	energy = energy + excluded.energy,
	pedal_presses = pedal_presses + excluded.pedal_presses,
	note_bytes = note_bytes + excluded.note_bytes,
	other_bytes = other_bytes + excluded.other_bytes,
	session_seconds = session_seconds + excluded.session_seconds,
	updated_at = CURRENT_TIMESTAMP`

func counterArgs(c storage.Counters) []any {
	return []any{c.Notes, c.DurationMS, c.VelocitySum, c.Energy, c.PedalPresses, c.NoteBytes, c.OtherBytes, c.SessionSeconds}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCounters(c *storage.Counters) []any {
	return []any{&c.Notes, &c.DurationMS, &c.VelocitySum, &c.Energy, &c.PedalPresses, &c.NoteBytes, &c.OtherBytes, &c.SessionSeconds}
}

// AddDaily adds row's counters to the date's running totals.
func (s *statsStore) AddDaily(ctx context.Context, row storage.DailyRow) error {
	args := append([]any{row.Date}, counterArgs(row.Counters)...)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_stats (date, `+counterColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET`+counterUpdates, args...)
	if err != nil {
		return classify(fmt.Errorf("failed to upsert daily stats for %s: %w", row.Date, err))
	}
	return nil
}

// AddHourly adds row's counters to the (date, hour) bucket.
func (s *statsStore) AddHourly(ctx context.Context, row storage.HourlyRow) error {
	args := append([]any{row.Date, row.Hour}, counterArgs(row.Counters)...)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO hourly_stats (date, hour, `+counterColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date, hour) DO UPDATE SET`+counterUpdates, args...)
	if err != nil {
		return classify(fmt.Errorf("failed to upsert hourly stats for %s %02d: %w", row.Date, row.Hour, err))
	}
	return nil
}

// AddNotes adds every row to the per-note distribution in one transaction.
func (s *statsStore) AddNotes(ctx context.Context, rows []storage.NoteRow) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("failed to begin note stats transaction: %w", err))
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO note_stats (date, note, count, velocity_sum, energy, bytes, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date, note) DO UPDATE SET
			count = count + excluded.count,
			velocity_sum = velocity_sum + excluded.velocity_sum,
			energy = energy + excluded.energy,
			bytes = bytes + excluded.bytes,
			duration_ms = duration_ms + excluded.duration_ms`)
	if err != nil {
		_ = tx.Rollback()
		return classify(fmt.Errorf("failed to prepare note stats upsert: %w", err))
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.Date, r.Note, r.Count, r.VelocitySum, r.Energy, r.Bytes, r.DurationMS); err != nil {
			_ = tx.Rollback()
			return classify(fmt.Errorf("failed to upsert note %d for %s: %w", r.Note, r.Date, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("failed to commit note stats: %w", err))
	}
	return nil
}

// GetDaily returns the totals stored for date.
func (s *statsStore) GetDaily(ctx context.Context, date string) (*storage.DailyRow, error) {
	row := storage.DailyRow{Date: date}
	err := s.db.QueryRowContext(ctx, `
		SELECT `+counterColumns+` FROM daily_stats WHERE date = ?`, date).
		Scan(scanCounters(&row.Counters)...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query daily stats: %w", err)
	}
	return &row, nil
}

// ListDaily returns the daily rows in [from, to], oldest first.
func (s *statsStore) ListDaily(ctx context.Context, from, to string) ([]storage.DailyRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, `+counterColumns+` FROM daily_stats
		WHERE date >= ? AND date <= ?
		ORDER BY date`, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily stats: %w", err)
	}
	defer rows.Close()

	result := []storage.DailyRow{}
	for rows.Next() {
		var r storage.DailyRow
		if err := scanRow(rows, append([]any{&r.Date}, scanCounters(&r.Counters)...)); err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// ListHourly returns every stored hour of date, in hour order.
func (s *statsStore) ListHourly(ctx context.Context, date string) ([]storage.HourlyRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT hour, `+counterColumns+` FROM hourly_stats
		WHERE date = ?
		ORDER BY hour`, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query hourly stats: %w", err)
	}
	defer rows.Close()

	result := []storage.HourlyRow{}
	for rows.Next() {
		r := storage.HourlyRow{Date: date}
		if err := scanRow(rows, append([]any{&r.Hour}, scanCounters(&r.Counters)...)); err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// ListNotes returns the distribution for date, sentinel ids first.
func (s *statsStore) ListNotes(ctx context.Context, date string) ([]storage.NoteRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT note, count, velocity_sum, energy, bytes, duration_ms FROM note_stats
		WHERE date = ?
		ORDER BY note`, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query note stats: %w", err)
	}
	defer rows.Close()

	result := []storage.NoteRow{}
	for rows.Next() {
		r := storage.NoteRow{Date: date}
		if err := scanRow(rows, []any{&r.Note, &r.Count, &r.VelocitySum, &r.Energy, &r.Bytes, &r.DurationMS}); err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// DeleteBefore removes all counter rows dated before cutoffDate.
func (s *statsStore) DeleteBefore(ctx context.Context, cutoffDate string) (int, error) {
	total := 0
	for _, table := range []string{"daily_stats", "hourly_stats", "note_stats"} {
		res, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE date < ?`, cutoffDate)
		if err != nil {
			return total, classify(fmt.Errorf("failed to clean up %s: %w", table, err))
		}
		n, _ := res.RowsAffected()
		total += int(n)
	}
	return total, nil
}

func scanRow(s scanner, dest []any) error {
	if err := s.Scan(dest...); err != nil {
		return fmt.Errorf("failed to scan row: %w", err)
	}
	return nil
}
