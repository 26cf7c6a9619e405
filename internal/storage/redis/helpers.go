package redis

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goodtune/keytrack/internal/storage"
)

const datesKey = "keytrack:dates"

func dailyKey(date string) string { return "keytrack:daily:" + date }

func hourlyKey(date string, hour int) string { return fmt.Sprintf("keytrack:hourly:%s:%d", date, hour) }

func hourlyIndexKey(date string) string { return "keytrack:hourly:index:" + date }

func noteKey(date string, note int) string { return fmt.Sprintf("keytrack:note:%s:%d", date, note) }

func notesIndexKey(date string) string { return "keytrack:notes:index:" + date }

// dateScore turns YYYY-MM-DD into a sortable YYYYMMDD score.
func dateScore(date string) (int64, error) {
	if _, err := time.Parse(storage.DateFormat, date); err != nil {
		return 0, fmt.Errorf("invalid date %q: %w", date, err)
	}
	return strconv.ParseInt(strings.ReplaceAll(date, "-", ""), 10, 64)
}

// counterArgs encodes counters as (field, kind, value) triples for
// incrementCountersScript.
func counterArgs(c storage.Counters) []interface{} {
	return []interface{}{
		"notes", "i", c.Notes,
		"duration_ms", "i", c.DurationMS,
		"velocity_sum", "i", c.VelocitySum,
		"energy", "f", formatFloat(c.Energy),
		"pedal_presses", "i", c.PedalPresses,
		"note_bytes", "i", c.NoteBytes,
		"other_bytes", "i", c.OtherBytes,
		"session_seconds", "f", formatFloat(c.SessionSeconds),
	}
}

func noteCounterArgs(n storage.NoteCounters) []interface{} {
	return []interface{}{
		"count", "i", n.Count,
		"velocity_sum", "i", n.VelocitySum,
		"energy", "f", formatFloat(n.Energy),
		"bytes", "i", n.Bytes,
		"duration_ms", "i", n.DurationMS,
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// fieldReader collects the first parse error across a hash.
type fieldReader struct {
	data map[string]string
	err  error
}

func (r *fieldReader) int(field string) int64 {
	v, ok := r.data[field]
	if !ok || r.err != nil {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		r.err = fmt.Errorf("failed to parse %s: %w", field, err)
	}
	return n
}

func (r *fieldReader) float(field string) float64 {
	v, ok := r.data[field]
	if !ok || r.err != nil {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.err = fmt.Errorf("failed to parse %s: %w", field, err)
	}
	return f
}

// parseCounters converts a Redis hash to Counters
func parseCounters(data map[string]string) (storage.Counters, error) {
	if len(data) == 0 {
		return storage.Counters{}, storage.ErrNotFound
	}
	r := &fieldReader{data: data}
	c := storage.Counters{
		Notes:          r.int("notes"),
		DurationMS:     r.int("duration_ms"),
		VelocitySum:    r.int("velocity_sum"),
		Energy:         r.float("energy"),
		PedalPresses:   r.int("pedal_presses"),
		NoteBytes:      r.int("note_bytes"),
		OtherBytes:     r.int("other_bytes"),
		SessionSeconds: r.float("session_seconds"),
	}
	return c, r.err
}

// parseNoteCounters converts a Redis hash to NoteCounters
func parseNoteCounters(data map[string]string) (storage.NoteCounters, error) {
	if len(data) == 0 {
		return storage.NoteCounters{}, storage.ErrNotFound
	}
	r := &fieldReader{data: data}
	n := storage.NoteCounters{
		Count:       r.int("count"),
		VelocitySum: r.int("velocity_sum"),
		Energy:      r.float("energy"),
		Bytes:       r.int("bytes"),
		DurationMS:  r.int("duration_ms"),
	}
	return n, r.err
}

// parsePracticeSession converts a Redis hash to PracticeSession
func parsePracticeSession(data map[string]string) (*storage.PracticeSession, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	startedAt, err := time.Parse(time.RFC3339Nano, data["started_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse started_at: %w", err)
	}

	endedAt, err := time.Parse(time.RFC3339Nano, data["ended_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse ended_at: %w", err)
	}

	seconds, err := strconv.ParseFloat(data["seconds"], 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse seconds: %w", err)
	}

	return &storage.PracticeSession{
		ID:        data["id"],
		Date:      data["date"],
		StartedAt: startedAt,
		EndedAt:   endedAt,
		Seconds:   seconds,
	}, nil
}
