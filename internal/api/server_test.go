package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goodtune/keytrack/internal/clock"
	"github.com/goodtune/keytrack/internal/event"
	"github.com/goodtune/keytrack/internal/lights"
	"github.com/goodtune/keytrack/internal/persist"
	"github.com/goodtune/keytrack/internal/session"
	"github.com/goodtune/keytrack/internal/stats"
	"github.com/goodtune/keytrack/internal/storage"
	"github.com/goodtune/keytrack/internal/storage/sqlite"
	"github.com/rs/zerolog"
)

var t0 = time.Date(2024, 3, 1, 19, 30, 0, 0, time.Local)

// countingStats counts GetDaily calls.
type countingStats struct {
	storage.StatsStore

	mu   sync.Mutex
	gets int
}

func (c *countingStats) GetDaily(ctx context.Context, date string) (*storage.DailyRow, error) {
	c.mu.Lock()
	c.gets++
	c.mu.Unlock()
	return c.StatsStore.GetDaily(ctx, date)
}

func (c *countingStats) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gets
}

type testStore struct {
	*sqlite.Store
	stats *countingStats
}

func (s *testStore) Stats() storage.StatsStore { return s.stats }

type fixture struct {
	server *Server
	store  *testStore
	agg    *stats.Aggregator
	sync   *persist.Synchronizer
	engine *lights.Engine
	preset string
}

func newFixture(t *testing.T, withLights bool) *fixture {
	t.Helper()

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "keytrack.db"), 1000)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	store := &testStore{Store: db, stats: &countingStats{StatsStore: db.Stats()}}

	clk := clock.NewTestClock(t0)
	tracker := session.NewTracker(session.Config{}, clk, zerolog.Nop())
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

	syncer := persist.NewSynchronizer(persist.Config{Interval: time.Hour}, agg, store, tracker, clk, zerolog.Nop())

	f := &fixture{store: store, agg: agg, sync: syncer, preset: filepath.Join(t.TempDir(), "preset.yaml")}
	deps := Deps{Stats: agg, Session: tracker, Sync: syncer, Store: store, Clock: clk}
	if withLights {
		f.engine = lights.NewEngine(lights.Config{TestStep: time.Microsecond}, nil, lights.DefaultPreset(), clk, zerolog.Nop())
		t.Cleanup(func() { _ = f.engine.Close() })
		deps.Lights = f.engine
	}

	f.server = NewServer(Config{PresetPath: f.preset, CacheTTL: time.Minute}, deps, zerolog.Nop())
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return v
}

func (f *fixture) play(t *testing.T, note uint8, at time.Time) {
	t.Helper()
	for _, raw := range [][]byte{{0x90, note, 100}, {0x80, note, 0}} {
		if !f.agg.Submit(event.Classify(raw, at)) {
			t.Fatal("Submit dropped an event")
		}
	}
}

func TestToday_CombinesStoredAndUnsaved(t *testing.T) {
	f := newFixture(t, false)

	f.play(t, 60, t0)
	if err := f.sync.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	f.play(t, 60, t0.Add(time.Second))
	f.play(t, 62, t0.Add(2*time.Second))

	rec := f.do(t, "GET", "/api/stats/today", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	resp := decode[TodayResponse](t, rec)
	if resp.Date != "2024-03-01" {
		t.Errorf("Expected date 2024-03-01, got %s", resp.Date)
	}
	if resp.Totals.Notes != 3 {
		t.Errorf("Expected 3 notes (1 stored + 2 unsaved), got %d", resp.Totals.Notes)
	}

	counts := map[int]int64{}
	for _, row := range resp.Notes {
		counts[row.Note] = row.Count
	}
	if counts[60] != 2 || counts[62] != 1 {
		t.Errorf("Expected note 60x2 and 62x1, got %v", counts)
	}
}

func TestHistory_CachedExceptToday(t *testing.T) {
	f := newFixture(t, false)

	for i := 0; i < 2; i++ {
		rec := f.do(t, "GET", "/api/stats/daily/2024-02-28", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", rec.Code)
		}
		row := decode[storage.DailyRow](t, rec)
		if row.Date != "2024-02-28" || row.Notes != 0 {
			t.Errorf("Expected empty row for 2024-02-28, got %+v", row)
		}
	}
	if n := f.store.stats.count(); n != 1 {
		t.Errorf("Expected one store lookup for a past date, got %d", n)
	}

	for i := 0; i < 2; i++ {
		f.do(t, "GET", "/api/stats/daily/2024-03-01", "")
	}
	if n := f.store.stats.count(); n != 3 {
		t.Errorf("Expected today's lookups to bypass the cache, got %d calls", n)
	}
}

func TestHistory_BadDate(t *testing.T) {
	f := newFixture(t, false)

	for _, path := range []string{
		"/api/stats/daily/yesterday",
		"/api/stats/hourly/2024-13-01",
		"/api/stats/notes/01-03-2024",
	} {
		rec := f.do(t, "GET", path, "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", path, rec.Code)
		}
		resp := decode[ErrorResponse](t, rec)
		if resp.Code != http.StatusBadRequest || resp.Error != "Bad Request" {
			t.Errorf("%s: unexpected error body %+v", path, resp)
		}
	}
}

func TestHistory_Lists(t *testing.T) {
	f := newFixture(t, false)

	f.play(t, 64, t0)
	if err := f.sync.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	rec := f.do(t, "GET", "/api/stats/notes/2024-03-01", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	resp := decode[struct {
		Date  string            `json:"date"`
		Notes []storage.NoteRow `json:"notes"`
	}](t, rec)
	if len(resp.Notes) != 1 || resp.Notes[0].Note != 64 {
		t.Errorf("Expected a single row for note 64, got %+v", resp.Notes)
	}

	rec = f.do(t, "GET", "/api/stats/hourly/2024-02-01", "")
	if !strings.Contains(rec.Body.String(), `"hours":[]`) {
		t.Errorf("Expected empty hours list, got %s", rec.Body.String())
	}
}

func TestClear(t *testing.T) {
	f := newFixture(t, false)

	f.play(t, 60, t0)
	rec := f.do(t, "POST", "/api/session/clear", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	snap, err := f.agg.Snapshot(context.Background(), t0)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if !snap.Totals.IsZero() {
		t.Errorf("Expected zero totals after clear, got %+v", snap.Totals)
	}

	row, err := f.store.Store.Stats().GetDaily(context.Background(), "2024-03-01")
	if err != nil {
		t.Fatalf("Expected the flushed row to survive clear: %v", err)
	}
	if row.Notes != 1 {
		t.Errorf("Expected 1 stored note, got %d", row.Notes)
	}
}

func TestStatus(t *testing.T) {
	f := newFixture(t, true)

	rec := f.do(t, "GET", "/api/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	resp := decode[StatusResponse](t, rec)
	if resp.Session.Active {
		t.Error("Expected idle session")
	}
	if resp.Lights == nil || resp.Lights.Enabled {
		t.Errorf("Expected disabled lights in status, got %+v", resp.Lights)
	}
}

func TestLights(t *testing.T) {
	f := newFixture(t, true)

	if rec := f.do(t, "POST", "/api/lights/test", ""); rec.Code != http.StatusConflict {
		t.Errorf("Expected 409 for test pattern while disabled, got %d", rec.Code)
	}

	rec := f.do(t, "POST", "/api/lights/enable", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if st := decode[lights.Status](t, rec); !st.Enabled || st.Hardware {
		t.Errorf("Expected enabled simulated engine, got %+v", st)
	}

	if rec := f.do(t, "POST", "/api/lights/test", ""); rec.Code != http.StatusOK {
		t.Errorf("Expected 200 for test pattern, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, "PUT", "/api/lights/preset", "mapping_mode: paired\neffect_mode: fade\n")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	st := decode[lights.Status](t, rec)
	if st.Preset.MappingMode != lights.MappingPaired || !st.Animating {
		t.Errorf("Expected paired fade preset animating, got %+v", st)
	}
	if _, err := os.Stat(f.preset); err != nil {
		t.Errorf("Expected preset saved: %v", err)
	}

	if rec := f.do(t, "PUT", "/api/lights/preset", "brightness: 3\n"); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid preset, got %d", rec.Code)
	}

	rec = f.do(t, "POST", "/api/lights/disable", "")
	if st := decode[lights.Status](t, rec); st.Enabled || st.Animating {
		t.Errorf("Expected disabled engine, got %+v", st)
	}
}

func TestLights_NotConfigured(t *testing.T) {
	f := newFixture(t, false)

	for _, tc := range []struct{ method, path string }{
		{"GET", "/api/lights"},
		{"POST", "/api/lights/enable"},
		{"PUT", "/api/lights/preset"},
	} {
		if rec := f.do(t, tc.method, tc.path, ""); rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s %s: expected 503, got %d", tc.method, tc.path, rec.Code)
		}
	}
}

func TestMergeHours(t *testing.T) {
	stored := []storage.HourlyRow{{Date: "2024-03-01", Hour: 9, Counters: storage.Counters{Notes: 5}}}
	live := []storage.HourlyRow{
		{Date: "2024-03-01", Hour: 9, Counters: storage.Counters{Notes: 2}},
		{Date: "2024-03-01", Hour: 8, Counters: storage.Counters{Notes: 1}},
		{Date: "2024-02-29", Hour: 23, Counters: storage.Counters{Notes: 7}},
	}

	got := mergeHours(stored, live, "2024-03-01")
	if len(got) != 2 {
		t.Fatalf("Expected 2 hours, got %+v", got)
	}
	if got[0].Hour != 8 || got[0].Notes != 1 || got[1].Hour != 9 || got[1].Notes != 7 {
		t.Errorf("Unexpected merge result %+v", got)
	}
}
