package lights

// Strip is an addressable LED strip. SetChannel only updates a buffer;
// Show pushes the buffer to the hardware.
type Strip interface {
	Len() int
	SetChannel(i int, r, g, b uint8)
	Show() error
	Close() error
}

// NopStrip accepts every call and displays nothing. The engine runs on it
// when no hardware is present.
type NopStrip struct {
	n int
}

// NewNopStrip returns a simulated strip of n channels.
func NewNopStrip(n int) *NopStrip {
	return &NopStrip{n: n}
}

func (s *NopStrip) Len() int { return s.n }
func (s *NopStrip) SetChannel(int, uint8, uint8, uint8) {}
func (s *NopStrip) Show() error { return nil }
func (s *NopStrip) Close() error { return nil }
