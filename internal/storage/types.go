package storage

import "time"

// Reserved note ids in the per-note distribution.
const (
	PedalNoteID     = -1
	PitchBendNoteID = -2
)

// Counters is the counter set shared by daily totals and hourly buckets.
type Counters struct {
	Notes          int64   `json:"notes"`
	DurationMS     int64   `json:"duration_ms"`
	VelocitySum    int64   `json:"velocity_sum"`
	Energy         float64 `json:"energy"`
	PedalPresses   int64   `json:"pedal_presses"`
	NoteBytes      int64   `json:"note_bytes"`
	OtherBytes     int64   `json:"other_bytes"`
	SessionSeconds float64 `json:"session_seconds"`
}

// Add accumulates o into c.
func (c *Counters) Add(o Counters) {
	c.Notes += o.Notes
	c.DurationMS += o.DurationMS
	c.VelocitySum += o.VelocitySum
	c.Energy += o.Energy
	c.PedalPresses += o.PedalPresses
	c.NoteBytes += o.NoteBytes
	c.OtherBytes += o.OtherBytes
	c.SessionSeconds += o.SessionSeconds
}

// Sub returns c - o.
func (c Counters) Sub(o Counters) Counters {
	return Counters{
		Notes:          c.Notes - o.Notes,
		DurationMS:     c.DurationMS - o.DurationMS,
		VelocitySum:    c.VelocitySum - o.VelocitySum,
		Energy:         c.Energy - o.Energy,
		PedalPresses:   c.PedalPresses - o.PedalPresses,
		NoteBytes:      c.NoteBytes - o.NoteBytes,
		OtherBytes:     c.OtherBytes - o.OtherBytes,
		SessionSeconds: c.SessionSeconds - o.SessionSeconds,
	}
}

// IsZero reports whether every counter is zero.
func (c Counters) IsZero() bool {
	return c == Counters{}
}

// NoteCounters is one entry of the per-note distribution.
type NoteCounters struct {
	Count       int64   `json:"count"`
	VelocitySum int64   `json:"velocity_sum"`
	Energy      float64 `json:"energy"`
	Bytes       int64   `json:"bytes"`
	DurationMS  int64   `json:"duration_ms"`
}

// Add accumulates o into n.
func (n *NoteCounters) Add(o NoteCounters) {
	n.Count += o.Count
	n.VelocitySum += o.VelocitySum
	n.Energy += o.Energy
	n.Bytes += o.Bytes
	n.DurationMS += o.DurationMS
}

// IsZero reports whether every counter is zero.
func (n NoteCounters) IsZero() bool {
	return n == NoteCounters{}
}

// DailyRow is the persisted counter set for one calendar date.
type DailyRow struct {
	Date string `json:"date"` // YYYY-MM-DD, local time
	Counters
}

// HourlyRow is the persisted counter set for one hour of a date.
type HourlyRow struct {
	Date string `json:"date"`
	Hour int    `json:"hour"`
	Counters
}

// NoteRow is the persisted distribution entry for one note on one date.
type NoteRow struct {
	Date string `json:"date"`
	Note int    `json:"note"`
	NoteCounters
}

// PracticeSession records one continuous period of playing.
type PracticeSession struct {
	ID        string    `json:"id"`
	Date      string    `json:"date"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Seconds   float64   `json:"seconds"`
}

// DateFormat is the layout of every date key.
const DateFormat = "2006-01-02"

// DateKey formats t as a local date key.
func DateKey(t time.Time) string {
	return t.Local().Format(DateFormat)
}
