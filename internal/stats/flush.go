package stats

import (
	"context"
	"sort"
	"time"

	"github.com/goodtune/keytrack/internal/storage"
)

// Batch is everything one flush has to write.
type Batch struct {
	Date   string
	Totals storage.Counters // running totals the delta was computed from
	Delta  storage.Counters

	// Daily is set when the delta is worth writing: new notes or new
	// practice time.
	Daily *storage.DailyRow

	Carry []storage.DailyRow
	Notes []storage.NoteRow
	Hours []storage.HourlyRow
}

// Result reports which parts of a Batch reached storage.
type Result struct {
	Batch       *Batch
	DailySaved  bool
	FailedCarry []storage.DailyRow
	FailedNotes []storage.NoteRow
}

// Prepare folds practice time into the counters and drains what needs to
// be written. Per-note deltas, carried days and hourly buckets leave the
// aggregator here; the daily delta stays pending until Commit.
func (a *Aggregator) Prepare(ctx context.Context, now time.Time) (*Batch, error) {
	var b *Batch
	err := a.do(ctx, func() {
		b = a.prepare(now)
	})
	return b, err
}

func (a *Aggregator) prepare(now time.Time) *Batch {
	a.roll(now)

	cur := a.sessionSeconds(now)
	a.foldSession(cur)

	if cur < a.hourSessionBase {
		a.hourSessionBase = cur
	}
	if credit := cur - a.hourSessionBase; credit > 0 {
		a.hour(now).SessionSeconds += credit
	}
	a.hourSessionBase = cur

	b := &Batch{
		Date:   a.date,
		Totals: a.totals,
		Delta:  a.totals.Sub(a.lastSaved),
		Carry:  a.carry,
	}
	a.carry = nil

	if b.Delta.Notes > 0 || b.Delta.SessionSeconds > 0 {
		b.Daily = &storage.DailyRow{Date: a.date, Counters: b.Delta}
	}

	for key, c := range a.pending {
		if c.IsZero() {
			continue
		}
		b.Notes = append(b.Notes, storage.NoteRow{Date: key.Date, Note: key.Note, NoteCounters: *c})
	}
	a.pending = make(map[NoteKey]*storage.NoteCounters)
	sort.Slice(b.Notes, func(i, j int) bool {
		if b.Notes[i].Date != b.Notes[j].Date {
			return b.Notes[i].Date < b.Notes[j].Date
		}
		return b.Notes[i].Note < b.Notes[j].Note
	})

	// Hourly buckets are flush-and-clear: written whole, then forgotten.
	for key, c := range a.hours {
		if c.IsZero() {
			continue
		}
		b.Hours = append(b.Hours, storage.HourlyRow{Date: key.Date, Hour: key.Hour, Counters: *c})
	}
	a.hours = make(map[HourKey]*storage.Counters)
	sort.Slice(b.Hours, func(i, j int) bool {
		if b.Hours[i].Date != b.Hours[j].Date {
			return b.Hours[i].Date < b.Hours[j].Date
		}
		return b.Hours[i].Hour < b.Hours[j].Hour
	})

	return b
}

// Commit records the outcome of writing a Batch. A saved daily delta
// advances lastSaved; failed carries and note deltas return to the
// pending set for the next flush.
func (a *Aggregator) Commit(ctx context.Context, r Result) error {
	return a.do(ctx, func() {
		a.commit(r)
	})
}

func (a *Aggregator) commit(r Result) {
	b := r.Batch
	if b != nil && r.DailySaved && b.Daily != nil {
		if b.Date == a.date {
			a.lastSaved = b.Totals
		} else {
			// The date rolled after Prepare and the saved delta was
			// carried along with the rest of that day.
			a.uncarry(b.Daily)
		}
	}

	a.carry = append(a.carry, r.FailedCarry...)

	for _, row := range r.FailedNotes {
		key := NoteKey{Date: row.Date, Note: row.Note}
		p, ok := a.pending[key]
		if !ok {
			p = &storage.NoteCounters{}
			a.pending[key] = p
		}
		p.Add(row.NoteCounters)
	}
}

func (a *Aggregator) uncarry(saved *storage.DailyRow) {
	for i := range a.carry {
		if a.carry[i].Date != saved.Date {
			continue
		}
		a.carry[i].Counters = a.carry[i].Counters.Sub(saved.Counters)
		if a.carry[i].IsZero() {
			a.carry = append(a.carry[:i], a.carry[i+1:]...)
		}
		return
	}
}
