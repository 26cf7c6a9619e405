package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// ErrBusy marks a transient write-contention failure that is safe to retry.
var ErrBusy = errors.New("storage: busy")

// IsBusy reports whether err is a transient contention failure.
func IsBusy(err error) bool {
	return errors.Is(err, ErrBusy)
}

// Store represents the root storage interface.
type Store interface {
	Close() error
	Stats() StatsStore
	Sessions() SessionStore
}

// StatsStore persists the practice counters. Every Add method is an
// additive upsert: existing columns are incremented, never overwritten.
type StatsStore interface {
	AddDaily(ctx context.Context, row DailyRow) error
	AddHourly(ctx context.Context, row HourlyRow) error
	AddNotes(ctx context.Context, rows []NoteRow) error
	GetDaily(ctx context.Context, date string) (*DailyRow, error)
	ListDaily(ctx context.Context, from, to string) ([]DailyRow, error)
	ListHourly(ctx context.Context, date string) ([]HourlyRow, error)
	ListNotes(ctx context.Context, date string) ([]NoteRow, error)
	DeleteBefore(ctx context.Context, cutoffDate string) (int, error)
}

// SessionStore persists closed practice sessions.
type SessionStore interface {
	Upsert(ctx context.Context, session PracticeSession) error
	List(ctx context.Context, date string) ([]PracticeSession, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int, error)
}
