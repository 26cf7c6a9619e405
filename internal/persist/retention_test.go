package persist

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/goodtune/keytrack/internal/clock"
	"github.com/goodtune/keytrack/internal/storage"
	"github.com/goodtune/keytrack/internal/storage/sqlite"
	"github.com/rs/zerolog"
)

func TestRetention_Schedule(t *testing.T) {
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "keytrack.db"), 1000)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer db.Close()

	rs, err := NewRetentionScheduler(db, 30, "03:00", nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRetentionScheduler failed: %v", err)
	}

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"before run time", time.Date(2024, 3, 1, 1, 0, 0, 0, time.Local), time.Date(2024, 3, 1, 3, 0, 0, 0, time.Local)},
		{"exactly at run time", time.Date(2024, 3, 1, 3, 0, 0, 0, time.Local), time.Date(2024, 3, 2, 3, 0, 0, 0, time.Local)},
		{"after run time", time.Date(2024, 3, 1, 19, 0, 0, 0, time.Local), time.Date(2024, 3, 2, 3, 0, 0, 0, time.Local)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := rs.nextRun(tt.now); !got.Equal(tt.want) {
				t.Errorf("nextRun(%v) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}

func TestRetention_InvalidTime(t *testing.T) {
	if _, err := NewRetentionScheduler(nil, 30, "3am", nil, zerolog.Nop()); err == nil {
		t.Error("Expected invalid run time to fail")
	}
}

func TestRetention_Cleanup(t *testing.T) {
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "keytrack.db"), 1000)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	now := time.Date(2024, 3, 31, 12, 0, 0, 0, time.Local)

	for _, date := range []string{"2024-02-01", "2024-03-01", "2024-03-30"} {
		if err := db.Stats().AddDaily(ctx, storage.DailyRow{Date: date, Counters: storage.Counters{Notes: 1}}); err != nil {
			t.Fatalf("AddDaily failed: %v", err)
		}
	}
	old := time.Date(2024, 2, 1, 19, 0, 0, 0, time.Local)
	_ = db.Sessions().Upsert(ctx, storage.PracticeSession{ID: "old", Date: "2024-02-01", StartedAt: old, EndedAt: old.Add(time.Minute), Seconds: 60})

	rs, err := NewRetentionScheduler(db, 7, "03:00", clock.NewTestClock(now), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRetentionScheduler failed: %v", err)
	}

	rows, sessions, err := rs.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if rows != 2 {
		t.Errorf("Expected 2 daily rows deleted, got %d", rows)
	}
	if sessions != 1 {
		t.Errorf("Expected 1 session deleted, got %d", sessions)
	}

	if _, err := db.Stats().GetDaily(ctx, "2024-03-30"); err != nil {
		t.Errorf("Expected recent row kept, got %v", err)
	}
}

func TestRetention_Disabled(t *testing.T) {
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "keytrack.db"), 1000)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer db.Close()

	rs, err := NewRetentionScheduler(db, 0, "03:00", nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRetentionScheduler failed: %v", err)
	}

	rs.Start()
	rs.Stop()

	rows, sessions, err := rs.Cleanup(context.Background())
	if err != nil || rows != 0 || sessions != 0 {
		t.Errorf("Expected disabled cleanup to do nothing, got %d %d %v", rows, sessions, err)
	}
}
