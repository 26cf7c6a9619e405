package stats

import (
	"context"
	"sort"
	"time"

	"github.com/goodtune/keytrack/internal/storage"
)

// Snapshot is a point-in-time copy of the in-memory statistics.
type Snapshot struct {
	Date           string              `json:"date"`
	Totals         storage.Counters    `json:"totals"`
	Unsaved        storage.Counters    `json:"unsaved"`
	Notes          []storage.NoteRow   `json:"notes"`
	UnsavedNotes   []storage.NoteRow   `json:"unsaved_notes"`
	Hours          []storage.HourlyRow `json:"hours"`
	Carry          []storage.DailyRow  `json:"carry,omitempty"`
	ActiveNotes    int                 `json:"active_notes"`
	SustainedNotes int                 `json:"sustained_notes"`
	Pedal          bool                `json:"pedal"`
	TakenAt        time.Time           `json:"taken_at"`
}

// Snapshot returns the current totals, today's distribution and the
// unflushed hourly buckets. Practice time is included up to now.
func (a *Aggregator) Snapshot(ctx context.Context, now time.Time) (*Snapshot, error) {
	var s *Snapshot
	err := a.do(ctx, func() {
		s = a.snapshot(now)
	})
	return s, err
}

func (a *Aggregator) snapshot(now time.Time) *Snapshot {
	a.roll(now)

	totals := a.totals
	if sec := a.sessionSeconds(now) - a.sessionBase; sec > totals.SessionSeconds {
		totals.SessionSeconds = sec
	}

	s := &Snapshot{
		Date:           a.date,
		Totals:         totals,
		Unsaved:        totals.Sub(a.lastSaved),
		Notes:          make([]storage.NoteRow, 0, len(a.today)),
		Hours:          make([]storage.HourlyRow, 0, len(a.hours)),
		Carry:          append([]storage.DailyRow(nil), a.carry...),
		ActiveNotes:    len(a.active),
		SustainedNotes: len(a.sustained),
		Pedal:          a.pedal,
		TakenAt:        now,
	}

	for note, c := range a.today {
		s.Notes = append(s.Notes, storage.NoteRow{Date: a.date, Note: note, NoteCounters: *c})
	}
	sort.Slice(s.Notes, func(i, j int) bool { return s.Notes[i].Note < s.Notes[j].Note })

	s.UnsavedNotes = []storage.NoteRow{}
	for key, c := range a.pending {
		if key.Date == a.date {
			s.UnsavedNotes = append(s.UnsavedNotes, storage.NoteRow{Date: key.Date, Note: key.Note, NoteCounters: *c})
		}
	}
	sort.Slice(s.UnsavedNotes, func(i, j int) bool { return s.UnsavedNotes[i].Note < s.UnsavedNotes[j].Note })

	for key, c := range a.hours {
		if c.IsZero() {
			continue
		}
		s.Hours = append(s.Hours, storage.HourlyRow{Date: key.Date, Hour: key.Hour, Counters: *c})
	}
	sort.Slice(s.Hours, func(i, j int) bool {
		if s.Hours[i].Date != s.Hours[j].Date {
			return s.Hours[i].Date < s.Hours[j].Date
		}
		return s.Hours[i].Hour < s.Hours[j].Hour
	})

	return s
}
