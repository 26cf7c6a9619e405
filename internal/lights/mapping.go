package lights

import "fmt"

// Note ranges covered by each mapping mode.
const (
	DirectLow  = 21  // A0
	DirectHigh = 108 // C8
	PairedLow  = 29  // F1
	PairedHigh = 100 // E7
)

// MappingMode selects how notes map onto strip channels.
type MappingMode uint8

const (
	// MappingDirect lights one channel per key across the full piano range.
	MappingDirect MappingMode = iota
	// MappingPaired lights two adjacent channels per key over a narrower range.
	MappingPaired
)

func (m MappingMode) String() string {
	switch m {
	case MappingDirect:
		return "direct"
	case MappingPaired:
		return "paired"
	default:
		return fmt.Sprintf("mapping(%d)", uint8(m))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m MappingMode) MarshalText() ([]byte, error) {
	switch m {
	case MappingDirect, MappingPaired:
		return []byte(m.String()), nil
	}
	return nil, fmt.Errorf("unknown mapping mode %d", uint8(m))
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *MappingMode) UnmarshalText(text []byte) error {
	switch string(text) {
	case "direct":
		*m = MappingDirect
	case "paired":
		*m = MappingPaired
	default:
		return fmt.Errorf("unknown mapping mode %q", text)
	}
	return nil
}

// Mapping converts notes to channel indexes on a strip of Count channels.
// The highest note maps to the lowest index.
type Mapping struct {
	Mode  MappingMode
	Count int
}

// Range returns the lowest and highest mapped note.
func (m Mapping) Range() (low, high uint8) {
	if m.Mode == MappingPaired {
		return PairedLow, PairedHigh
	}
	return DirectLow, DirectHigh
}

// Channels returns the channel indexes for note, or nil when the note is
// not mapped.
func (m Mapping) Channels(note uint8) []int {
	low, high := m.Range()
	if note < low || note > high {
		return nil
	}

	offset := int(note - low)
	switch m.Mode {
	case MappingPaired:
		base := m.Count - 1 - 2*offset
		if base-1 < 0 || base >= m.Count {
			return nil
		}
		return []int{base, base - 1}
	default:
		idx := m.Count - 1 - offset
		if idx < 0 || idx >= m.Count {
			return nil
		}
		return []int{idx}
	}
}

// Each calls fn for every mapped note, lowest first.
func (m Mapping) Each(fn func(note uint8, channels []int)) {
	low, high := m.Range()
	for n := int(low); n <= int(high); n++ {
		if ch := m.Channels(uint8(n)); ch != nil {
			fn(uint8(n), ch)
		}
	}
}
