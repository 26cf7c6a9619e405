package persist

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/goodtune/keytrack/internal/clock"
	"github.com/goodtune/keytrack/internal/event"
	"github.com/goodtune/keytrack/internal/session"
	"github.com/goodtune/keytrack/internal/stats"
	"github.com/goodtune/keytrack/internal/storage"
	"github.com/goodtune/keytrack/internal/storage/sqlite"
	"github.com/rs/zerolog"
	"go.uber.org/goleak"
)

var t0 = time.Date(2024, 3, 1, 19, 30, 0, 0, time.Local)

// flakyStats fails writes with the configured errors before delegating.
type flakyStats struct {
	storage.StatsStore

	mu         sync.Mutex
	dailyErrs  []error
	dailyCalls int
}

func (f *flakyStats) AddDaily(ctx context.Context, row storage.DailyRow) error {
	f.mu.Lock()
	f.dailyCalls++
	if len(f.dailyErrs) > 0 {
		err := f.dailyErrs[0]
		f.dailyErrs = f.dailyErrs[1:]
		f.mu.Unlock()
		return err
	}
	f.mu.Unlock()
	return f.StatsStore.AddDaily(ctx, row)
}

func (f *flakyStats) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dailyCalls
}

type testStore struct {
	*sqlite.Store
	stats *flakyStats
}

func (s *testStore) Stats() storage.StatsStore { return s.stats }

type harness struct {
	store   *testStore
	agg     *stats.Aggregator
	tracker *session.Tracker
	clock   *clock.TestClock
	sync    *Synchronizer
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "keytrack.db"), 1000)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	store := &testStore{Store: db, stats: &flakyStats{StatsStore: db.Stats()}}
	clk := clock.NewTestClock(t0)
	tracker := session.NewTracker(session.Config{PauseThreshold: 40 * time.Second}, clk, zerolog.Nop())
	agg := stats.New(stats.Config{}, tracker, clk, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		agg.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	if cfg.InitialBackoff == 0 {
		cfg.InitialBackoff = time.Millisecond
		cfg.MaxBackoff = 5 * time.Millisecond
	}
	if cfg.Interval == 0 {
		cfg.Interval = time.Hour
	}

	return &harness{
		store:   store,
		agg:     agg,
		tracker: tracker,
		clock:   clk,
		sync:    NewSynchronizer(cfg, agg, store, tracker, clk, zerolog.Nop()),
	}
}

func (h *harness) play(note uint8, at time.Time, hold time.Duration) {
	on := event.Classify([]byte{0x90, note, 100}, at)
	off := event.Classify([]byte{0x80, note, 0}, at.Add(hold))
	for _, ev := range []event.Event{on, off} {
		h.tracker.HandleEvent(ev)
		h.agg.Submit(ev)
	}
}

func (h *harness) daily(t *testing.T, date string) *storage.DailyRow {
	t.Helper()
	row, err := h.store.Store.Stats().GetDaily(context.Background(), date)
	if err != nil {
		t.Fatalf("GetDaily failed: %v", err)
	}
	return row
}

func TestFlush_WritesAndNeverDoubleCounts(t *testing.T) {
	h := newHarness(t, Config{MaxRetries: 3})
	ctx := context.Background()

	h.play(60, t0, 200*time.Millisecond)
	h.play(64, t0.Add(time.Second), 300*time.Millisecond)
	h.clock.Set(t0.Add(10 * time.Second))

	if err := h.sync.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if err := h.sync.Flush(ctx); err != nil {
		t.Fatalf("Second flush failed: %v", err)
	}

	row := h.daily(t, "2024-03-01")
	if row.Notes != 2 {
		t.Errorf("Expected 2 notes, got %d", row.Notes)
	}
	if row.DurationMS != 500 {
		t.Errorf("Expected 500ms, got %d", row.DurationMS)
	}
	if row.SessionSeconds != 10 {
		t.Errorf("Expected 10 session seconds, got %f", row.SessionSeconds)
	}

	notes, err := h.store.Store.Stats().ListNotes(ctx, "2024-03-01")
	if err != nil {
		t.Fatalf("ListNotes failed: %v", err)
	}
	var count int64
	for _, n := range notes {
		count += n.Count
	}
	if count != row.Notes {
		t.Errorf("Distribution count %d != daily notes %d", count, row.Notes)
	}
}

func TestFlush_RetriesBusyWrites(t *testing.T) {
	h := newHarness(t, Config{MaxRetries: 3})
	h.store.stats.dailyErrs = []error{storage.ErrBusy, storage.ErrBusy}

	h.play(60, t0, 100*time.Millisecond)
	h.clock.Set(t0.Add(time.Second))

	if err := h.sync.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if calls := h.store.stats.calls(); calls != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls)
	}
	if row := h.daily(t, "2024-03-01"); row.Notes != 1 {
		t.Errorf("Expected 1 note written, got %d", row.Notes)
	}
}

func TestFlush_ExhaustedRetriesKeepDelta(t *testing.T) {
	h := newHarness(t, Config{MaxRetries: 2})
	ctx := context.Background()
	h.store.stats.dailyErrs = []error{storage.ErrBusy, storage.ErrBusy, storage.ErrBusy}

	h.play(60, t0, 100*time.Millisecond)
	h.clock.Set(t0.Add(time.Second))

	err := h.sync.Flush(ctx)
	if !errors.Is(err, storage.ErrBusy) {
		t.Fatalf("Expected ErrBusy after exhausting retries, got %v", err)
	}
	if calls := h.store.stats.calls(); calls != 3 {
		t.Errorf("Expected 1 attempt plus 2 retries, got %d", calls)
	}

	notes, _ := h.store.Store.Stats().ListNotes(ctx, "2024-03-01")
	if len(notes) != 0 {
		t.Errorf("Expected note deltas held back with the daily delta, got %+v", notes)
	}

	h.play(62, t0.Add(2*time.Second), 100*time.Millisecond)
	h.clock.Set(t0.Add(3 * time.Second))
	if err := h.sync.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	if row := h.daily(t, "2024-03-01"); row.Notes != 2 {
		t.Errorf("Expected pending delta written once with the new note, got %d", row.Notes)
	}
	notes, _ = h.store.Store.Stats().ListNotes(ctx, "2024-03-01")
	if len(notes) != 2 {
		t.Errorf("Expected both note entries, got %+v", notes)
	}
}

func TestFlush_PermanentErrorNotRetried(t *testing.T) {
	h := newHarness(t, Config{MaxRetries: 5})
	h.store.stats.dailyErrs = []error{errors.New("disk full")}

	h.play(60, t0, 100*time.Millisecond)
	h.clock.Set(t0.Add(time.Second))

	if err := h.sync.Flush(context.Background()); err == nil {
		t.Fatal("Expected flush error")
	}
	if calls := h.store.stats.calls(); calls != 1 {
		t.Errorf("Expected a single attempt, got %d", calls)
	}
}

func TestSynchronizer_StopFlushesAndDrains(t *testing.T) {
	ignore := goleak.IgnoreCurrent()
	t.Cleanup(func() { goleak.VerifyNone(t, ignore) })

	h := newHarness(t, Config{MaxRetries: 1})
	h.tracker.SetSink(h.sync)
	h.sync.Start()

	h.play(60, t0, 100*time.Millisecond)
	h.clock.Set(t0.Add(time.Minute))
	h.tracker.Check(h.clock.Now())

	if err := h.sync.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	ctx := context.Background()
	if row := h.daily(t, "2024-03-01"); row.Notes != 1 {
		t.Errorf("Expected final flush to write 1 note, got %d", row.Notes)
	}

	hours, err := h.store.Store.Stats().ListHourly(ctx, "2024-03-01")
	if err != nil {
		t.Fatalf("ListHourly failed: %v", err)
	}
	if len(hours) != 1 || hours[0].Hour != 19 || hours[0].Notes != 1 {
		t.Errorf("Expected hourly bucket drained to storage, got %+v", hours)
	}

	sessions, err := h.store.Sessions().List(ctx, "2024-03-01")
	if err != nil {
		t.Fatalf("List sessions failed: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("Expected 1 practice session, got %d", len(sessions))
	}
	if sessions[0].Seconds < 0.09 || sessions[0].Seconds > 0.11 {
		t.Errorf("Expected ~0.1s session, got %f", sessions[0].Seconds)
	}

	// A second Stop is a no-op.
	if err := h.sync.Stop(context.Background()); err != nil {
		t.Errorf("Second Stop failed: %v", err)
	}
}

func TestSynchronizer_StartStopConcurrent(t *testing.T) {
	ignore := goleak.IgnoreCurrent()
	t.Cleanup(func() { goleak.VerifyNone(t, ignore) })

	for i := 0; i < 20; i++ {
		h := newHarness(t, Config{})

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.sync.Start()
		}()
		go func() {
			defer wg.Done()
			if err := h.sync.Stop(context.Background()); err != nil {
				t.Errorf("Stop failed: %v", err)
			}
		}()
		wg.Wait()

		// Whichever ran first, nothing may be left running.
		if err := h.sync.Stop(context.Background()); err != nil {
			t.Errorf("Second Stop failed: %v", err)
		}
		h.sync.Start()
	}
}

func TestSynchronizer_Clear(t *testing.T) {
	h := newHarness(t, Config{MaxRetries: 1})
	ctx := context.Background()

	h.play(60, t0, 100*time.Millisecond)
	h.clock.Set(t0.Add(5 * time.Second))

	if err := h.sync.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	if h.tracker.IsActive() {
		t.Error("Expected tracker reset")
	}
	snap, err := h.agg.Snapshot(ctx, h.clock.Now())
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if !snap.Totals.IsZero() {
		t.Errorf("Expected cleared totals, got %+v", snap.Totals)
	}

	if row := h.daily(t, "2024-03-01"); row.Notes != 1 {
		t.Errorf("Expected pending stats flushed before clear, got %d", row.Notes)
	}
}
