package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goodtune/keytrack/internal/storage"
)

type sessionStore struct {
	db *sql.DB
}

// Upsert creates or replaces a practice session record.
func (s *sessionStore) Upsert(ctx context.Context, session storage.PracticeSession) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO practice_sessions (id, date, started_at, ended_at, seconds)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			ended_at = excluded.ended_at,
			seconds = excluded.seconds`,
		session.ID, session.Date, session.StartedAt.UTC(), session.EndedAt.UTC(), session.Seconds)
	if err != nil {
		return classify(fmt.Errorf("failed to upsert practice session %s: %w", session.ID, err))
	}
	return nil
}

// List returns the sessions recorded for date, oldest first.
func (s *sessionStore) List(ctx context.Context, date string) ([]storage.PracticeSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, date, started_at, ended_at, seconds FROM practice_sessions
		WHERE date = ?
		ORDER BY started_at`, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query practice sessions: %w", err)
	}
	defer rows.Close()

	sessions := []storage.PracticeSession{}
	for rows.Next() {
		var p storage.PracticeSession
		if err := rows.Scan(&p.ID, &p.Date, &p.StartedAt, &p.EndedAt, &p.Seconds); err != nil {
			return nil, fmt.Errorf("failed to scan practice session: %w", err)
		}
		sessions = append(sessions, p)
	}
	return sessions, rows.Err()
}

// DeleteBefore removes sessions that started before cutoff.
func (s *sessionStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM practice_sessions WHERE started_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, classify(fmt.Errorf("failed to clean up practice sessions: %w", err))
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
