// Package event classifies raw keyboard protocol messages and fans the
// resulting events out to subscribers.
package event

import "time"

// Kind identifies the class of a classified message.
type Kind uint8

const (
	KindOther Kind = iota
	KindNoteOn
	KindNoteOff
	KindSustain
	KindPitchBend
)

// String returns the lowercase name used in logs and metric labels.
func (k Kind) String() string {
	switch k {
	case KindNoteOn:
		return "note_on"
	case KindNoteOff:
		return "note_off"
	case KindSustain:
		return "sustain"
	case KindPitchBend:
		return "pitch_bend"
	default:
		return "other"
	}
}

// SustainController is the controller number of the damper pedal.
const SustainController = 64

// Event is an immutable classified message.
type Event struct {
	Kind     Kind
	Channel  uint8
	Note     uint8
	Velocity uint8
	Pressed  bool   // sustain only
	Bend     uint16 // pitch bend only, 14-bit

	// Status and Size describe the original message, so byte accounting
	// never depends on the classified fields.
	Status byte
	Size   int

	Time time.Time
}

// NoteMessage reports whether the original message carried a note on or
// note off status, regardless of its length.
func (e Event) NoteMessage() bool {
	if e.Size == 0 {
		return false
	}
	switch e.Status & 0xF0 {
	case 0x80, 0x90:
		return true
	}
	return false
}

// Classify converts a raw message into an Event. It never fails: anything
// that is not a well-formed three byte note, sustain or pitch bend message
// becomes KindOther.
func Classify(raw []byte, t time.Time) Event {
	ev := Event{Kind: KindOther, Size: len(raw), Time: t}
	if len(raw) == 0 {
		return ev
	}

	ev.Status = raw[0]
	ev.Channel = raw[0] & 0x0F
	if len(raw) != 3 {
		return ev
	}

	d1, d2 := raw[1]&0x7F, raw[2]&0x7F
	switch raw[0] & 0xF0 {
	case 0x90:
		ev.Note = d1
		if d2 > 0 {
			ev.Kind = KindNoteOn
			ev.Velocity = d2
		} else {
			ev.Kind = KindNoteOff
		}
	case 0x80:
		ev.Kind = KindNoteOff
		ev.Note = d1
	case 0xB0:
		if d1 == SustainController {
			ev.Kind = KindSustain
			ev.Pressed = d2 >= 64
		}
	case 0xE0:
		ev.Kind = KindPitchBend
		ev.Bend = uint16(d1) | uint16(d2)<<7
	}

	return ev
}
