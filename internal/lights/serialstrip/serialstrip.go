// Package serialstrip drives an LED strip attached to a microcontroller
// that speaks the Adalight protocol over a serial link.
package serialstrip

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.bug.st/serial"
)

// ErrClosed is returned by Show after Close.
var ErrClosed = errors.New("serialstrip: closed")

// DefaultCloseTimeout bounds the wait for the last frame on Close.
const DefaultCloseTimeout = time.Second

// Config holds serial link settings.
type Config struct {
	Device string
	Baud   int
	Count  int
}

// Strip buffers channel colors and hands complete frames to a writer
// goroutine. Only the latest pending frame is kept, so Show never waits
// on the serial link.
type Strip struct {
	mu     sync.Mutex
	px     []byte
	closed bool

	w            io.WriteCloser
	frames       chan []byte
	done         chan struct{}
	closeTimeout time.Duration
	lastErr      error
	errMu        sync.Mutex
	logger       zerolog.Logger
}

// Open opens the serial device and returns a strip writing to it.
func Open(cfg Config, logger zerolog.Logger) (*Strip, error) {
	if cfg.Count <= 0 {
		return nil, fmt.Errorf("invalid strip length %d", cfg.Count)
	}
	port, err := serial.Open(cfg.Device, &serial.Mode{BaudRate: cfg.Baud})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", cfg.Device, err)
	}
	logger.Info().
		Str("device", cfg.Device).
		Int("baud", cfg.Baud).
		Int("count", cfg.Count).
		Msg("Serial LED strip opened")
	return New(port, cfg.Count, logger), nil
}

// New returns a strip of count channels writing frames to w.
func New(w io.WriteCloser, count int, logger zerolog.Logger) *Strip {
	s := &Strip{
		px:           make([]byte, 3*count),
		w:            w,
		frames:       make(chan []byte, 1),
		done:         make(chan struct{}),
		closeTimeout: DefaultCloseTimeout,
		logger:       logger.With().Str("component", "serialstrip").Logger(),
	}
	go s.writer()
	return s
}

// Len returns the number of channels.
func (s *Strip) Len() int {
	return len(s.px) / 3
}

// SetChannel updates channel i in the frame buffer. Out of range indexes
// are ignored.
func (s *Strip) SetChannel(i int, r, g, b uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || 3*i >= len(s.px) {
		return
	}
	s.px[3*i] = r
	s.px[3*i+1] = g
	s.px[3*i+2] = b
}

// Show queues the current buffer for transmission. It returns the last
// write error seen by the writer, if any.
func (s *Strip) Show() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	frame := Frame(s.px)

	// Replace any frame the writer has not picked up yet.
	select {
	case <-s.frames:
	default:
	}
	s.frames <- frame
	s.mu.Unlock()

	s.errMu.Lock()
	defer s.errMu.Unlock()
	err := s.lastErr
	s.lastErr = nil
	return err
}

// Close waits for the pending frame to be written and closes the port.
// The serial port has no write timeout, so a write still pending after
// closeTimeout is abandoned by closing the port underneath it.
func (s *Strip) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.frames)
	s.mu.Unlock()

	select {
	case <-s.done:
		return s.w.Close()
	case <-time.After(s.closeTimeout):
	}

	s.logger.Warn().Dur("timeout", s.closeTimeout).Msg("Serial write stalled, closing port")
	err := s.w.Close()

	select {
	case <-s.done:
	case <-time.After(s.closeTimeout):
		s.logger.Error().Msg("Serial writer did not exit after port close")
	}
	return err
}

func (s *Strip) writer() {
	defer close(s.done)
	for frame := range s.frames {
		if _, err := s.w.Write(frame); err != nil {
			s.logger.Debug().Err(err).Int("bytes", len(frame)).Msg("Frame write failed")
			s.errMu.Lock()
			s.lastErr = err
			s.errMu.Unlock()
		}
	}
}

// Frame encodes pixel data (r,g,b per channel) as an Adalight frame.
func Frame(px []byte) []byte {
	n := len(px) / 3
	count := uint16(0)
	if n > 0 {
		count = uint16(n - 1)
	}
	hi, lo := byte(count>>8), byte(count)

	frame := make([]byte, 6+len(px))
	frame[0], frame[1], frame[2] = 'A', 'd', 'a'
	frame[3], frame[4] = hi, lo
	frame[5] = hi ^ lo ^ 0x55
	copy(frame[6:], px)
	return frame
}
