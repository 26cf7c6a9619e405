package stats

import (
	"time"

	"github.com/goodtune/keytrack/internal/event"
	"github.com/goodtune/keytrack/internal/metrics"
	"github.com/goodtune/keytrack/internal/storage"
)

// noteMessageBytes is the size of a complete note on or note off message.
const noteMessageBytes = 3

func (a *Aggregator) apply(ev event.Event) {
	now := ev.Time
	if now.IsZero() {
		now = a.clock.Now()
	}
	a.roll(now)

	bucket := a.hour(now)
	size := int64(ev.Size)
	if ev.NoteMessage() {
		a.totals.NoteBytes += size
		bucket.NoteBytes += size
	} else {
		a.totals.OtherBytes += size
		bucket.OtherBytes += size
	}

	switch ev.Kind {
	case event.KindNoteOn:
		a.noteOn(ev.Note, ev.Velocity, now, bucket)
	case event.KindNoteOff:
		a.noteOff(ev.Note, now)
	case event.KindSustain:
		a.sustain(ev.Pressed, now, bucket)
	case event.KindPitchBend:
		a.addNote(storage.PitchBendNoteID, storage.NoteCounters{Count: 1, Bytes: size})
	case event.KindOther:
	}
}

func (a *Aggregator) noteOn(note, velocity uint8, now time.Time, bucket *storage.Counters) {
	e := Energy(velocity)

	for _, c := range []*storage.Counters{&a.totals, bucket} {
		c.Notes++
		c.VelocitySum += int64(velocity)
		c.Energy += e
	}

	a.active[note] = noteState{velocity: velocity, energy: e, start: now}
	a.held[note] = struct{}{}
	if a.pedal {
		a.sustained[note] = struct{}{}
	} else {
		delete(a.sustained, note)
	}

	a.addNote(int(note), storage.NoteCounters{
		Count:       1,
		VelocitySum: int64(velocity),
		Energy:      e,
		Bytes:       noteMessageBytes,
	})
	metrics.ActiveNotes.Set(float64(len(a.active)))
}

func (a *Aggregator) noteOff(note uint8, now time.Time) {
	a.addNote(int(note), storage.NoteCounters{Bytes: noteMessageBytes})
	delete(a.held, note)

	if _, ok := a.active[note]; !ok {
		return
	}

	if a.pedal {
		a.sustained[note] = struct{}{}
		return
	}
	a.closeNote(note, now)
}

func (a *Aggregator) sustain(pressed bool, now time.Time, bucket *storage.Counters) {
	if pressed {
		if a.pedal {
			return
		}
		a.pedal = true
		a.totals.PedalPresses++
		bucket.PedalPresses++
		a.addNote(storage.PedalNoteID, storage.NoteCounters{Count: 1, Bytes: noteMessageBytes})
		return
	}

	if !a.pedal {
		return
	}
	a.pedal = false

	for note := range a.sustained {
		if _, held := a.held[note]; !held {
			a.closeNote(note, now)
		}
		delete(a.sustained, note)
	}
}

// closeNote credits the duration of a sounding note to the hour active at
// now and destroys its state.
func (a *Aggregator) closeNote(note uint8, now time.Time) {
	st, ok := a.active[note]
	if !ok {
		return
	}

	ms := now.Sub(st.start).Milliseconds()
	if ms < 0 {
		ms = 0
	}

	a.totals.DurationMS += ms
	a.hour(now).DurationMS += ms
	a.addNote(int(note), storage.NoteCounters{DurationMS: ms})

	delete(a.active, note)
	metrics.ActiveNotes.Set(float64(len(a.active)))
}
