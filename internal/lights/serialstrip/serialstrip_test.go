package serialstrip

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/goleak"
)

type fakePort struct {
	mu      sync.Mutex
	frames  [][]byte
	closed  bool
	failing bool
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failing {
		return 0, errors.New("write timeout")
	}
	p.frames = append(p.frames, append([]byte(nil), b...))
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) last() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.frames) == 0 {
		return nil
	}
	return p.frames[len(p.frames)-1]
}

func TestFrame(t *testing.T) {
	px := make([]byte, 3*144)
	px[0], px[1], px[2] = 1, 2, 3

	f := Frame(px)
	if !bytes.Equal(f[:3], []byte("Ada")) {
		t.Errorf("Expected Ada magic, got %q", f[:3])
	}
	// 143 = 0x008f
	if f[3] != 0x00 || f[4] != 0x8f {
		t.Errorf("Expected count bytes 00 8f, got %02x %02x", f[3], f[4])
	}
	if f[5] != 0x00^0x8f^0x55 {
		t.Errorf("Unexpected checksum %02x", f[5])
	}
	if len(f) != 6+3*144 {
		t.Errorf("Expected %d bytes, got %d", 6+3*144, len(f))
	}
	if !bytes.Equal(f[6:9], []byte{1, 2, 3}) {
		t.Errorf("Expected first pixel 1,2,3, got %v", f[6:9])
	}
}

func TestStrip_ShowWritesLatestFrame(t *testing.T) {
	defer goleak.VerifyNone(t)

	port := &fakePort{}
	s := New(port, 4, zerolog.Nop())

	if s.Len() != 4 {
		t.Fatalf("Expected 4 channels, got %d", s.Len())
	}

	s.SetChannel(0, 255, 0, 0)
	s.SetChannel(3, 0, 0, 255)
	s.SetChannel(4, 9, 9, 9) // out of range
	s.SetChannel(-1, 9, 9, 9)
	if err := s.Show(); err != nil {
		t.Fatalf("Show failed: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	want := Frame([]byte{255, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 255})
	if got := port.last(); !bytes.Equal(got, want) {
		t.Errorf("Expected last frame %v, got %v", want, got)
	}
	if !port.closed {
		t.Error("Expected port closed")
	}
	if err := s.Show(); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed after Close, got %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Second Close should be a no-op, got %v", err)
	}
}

func TestStrip_WriteErrorReportedOnNextShow(t *testing.T) {
	defer goleak.VerifyNone(t)

	port := &fakePort{failing: true}
	s := New(port, 1, zerolog.Nop())
	defer s.Close()

	if err := s.Show(); err != nil {
		t.Fatalf("First Show should not see an error yet, got %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if err := s.Show(); err != nil {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("Expected write error to surface")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// stalledPort blocks every Write until it is closed, like a wedged
// serial link.
type stalledPort struct {
	once    sync.Once
	release chan struct{}
	writing chan struct{}
}

func (p *stalledPort) Write(b []byte) (int, error) {
	select {
	case p.writing <- struct{}{}:
	default:
	}
	<-p.release
	return 0, errors.New("port closed")
}

func (p *stalledPort) Close() error {
	p.once.Do(func() { close(p.release) })
	return nil
}

func TestStrip_CloseBoundedWhenWriteStalls(t *testing.T) {
	defer goleak.VerifyNone(t)

	port := &stalledPort{release: make(chan struct{}), writing: make(chan struct{}, 1)}
	s := New(port, 2, zerolog.Nop())
	s.closeTimeout = 50 * time.Millisecond

	if err := s.Show(); err != nil {
		t.Fatalf("Show failed: %v", err)
	}
	select {
	case <-port.writing:
	case <-time.After(time.Second):
		t.Fatal("Expected writer to start a write")
	}

	done := make(chan error, 1)
	go func() { done <- s.Close() }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Close returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on a stalled write")
	}
}
