package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

type fakeMIDI struct {
	mu       sync.Mutex
	inputs   []string
	listErr  error
	device   string
	rescans  int
	selected []string
}

func (f *fakeMIDI) Connected() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.device, f.device != ""
}

func (f *fakeMIDI) Inputs() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inputs, f.listErr
}

func (f *fakeMIDI) Rescan() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rescans++
}

func (f *fakeMIDI) Select(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selected = append(f.selected, name)
}

func serveMIDI(t *testing.T, m MIDI, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	s := NewServer(Config{}, Deps{MIDI: m}, zerolog.Nop())
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestMIDI_Status(t *testing.T) {
	m := &fakeMIDI{device: "Digital Piano:Port 1"}

	rec := serveMIDI(t, m, "GET", "/api/midi/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	st := decode[MIDIStatus](t, rec)
	if !st.Connected || st.Device != "Digital Piano:Port 1" {
		t.Errorf("Unexpected status: %+v", st)
	}

	st = decode[MIDIStatus](t, serveMIDI(t, &fakeMIDI{}, "GET", "/api/midi/status", ""))
	if st.Connected || st.Device != "" {
		t.Errorf("Expected disconnected status, got %+v", st)
	}
}

func TestMIDI_Devices(t *testing.T) {
	rec := serveMIDI(t, &fakeMIDI{inputs: []string{"Midi Through", "Digital Piano"}}, "GET", "/api/midi/devices", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	got := decode[MIDIDevices](t, rec)
	if len(got.Devices) != 2 || got.Devices[1] != "Digital Piano" {
		t.Errorf("Unexpected devices: %+v", got)
	}

	rec = serveMIDI(t, &fakeMIDI{}, "GET", "/api/midi/devices", "")
	if body := strings.TrimSpace(rec.Body.String()); body != `{"devices":[]}` {
		t.Errorf("Expected empty list, got %s", body)
	}

	rec = serveMIDI(t, &fakeMIDI{listErr: errors.New("driver gone")}, "GET", "/api/midi/devices", "")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500 on driver error, got %d", rec.Code)
	}
}

func TestMIDI_Rescan(t *testing.T) {
	m := &fakeMIDI{}
	rec := serveMIDI(t, m, "POST", "/api/midi/rescan", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", rec.Code)
	}
	if m.rescans != 1 {
		t.Errorf("Expected one rescan, got %d", m.rescans)
	}

	if rec := serveMIDI(t, m, "GET", "/api/midi/rescan", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405 for GET, got %d", rec.Code)
	}
}

func TestMIDI_Select(t *testing.T) {
	inputs := []string{"Midi Through:0", "Roland Digital Piano:1", "USB Keystation:2"}

	tests := []struct {
		name     string
		body     string
		wantCode int
		want     string
	}{
		{"by index", `{"index": 2}`, http.StatusAccepted, "USB Keystation:2"},
		{"by index zero", `{"index": 0}`, http.StatusAccepted, "Midi Through:0"},
		{"by name fragment", `{"name": "roland"}`, http.StatusAccepted, "Roland Digital Piano:1"},
		{"index wins over name", `{"index": 1, "name": "keystation"}`, http.StatusAccepted, "Roland Digital Piano:1"},
		{"index out of range", `{"index": 3}`, http.StatusNotFound, ""},
		{"negative index", `{"index": -1}`, http.StatusNotFound, ""},
		{"unknown name", `{"name": "yamaha"}`, http.StatusNotFound, ""},
		{"empty payload", `{}`, http.StatusBadRequest, ""},
		{"invalid json", `{"index":`, http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &fakeMIDI{inputs: inputs}
			rec := serveMIDI(t, m, "POST", "/api/midi/select", tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("Expected %d, got %d: %s", tt.wantCode, rec.Code, rec.Body.String())
			}
			if tt.want == "" {
				if len(m.selected) != 0 {
					t.Errorf("Expected no selection, got %v", m.selected)
				}
				return
			}
			if len(m.selected) != 1 || m.selected[0] != tt.want {
				t.Errorf("Expected %q selected, got %v", tt.want, m.selected)
			}
			if st := decode[MIDIStatus](t, rec); st.Device != tt.want {
				t.Errorf("Expected response device %q, got %+v", tt.want, st)
			}
		})
	}
}

func TestMIDI_NotAvailable(t *testing.T) {
	for _, c := range []struct{ method, path string }{
		{"GET", "/api/midi/status"},
		{"GET", "/api/midi/devices"},
		{"POST", "/api/midi/rescan"},
		{"POST", "/api/midi/select"},
	} {
		rec := serveMIDI(t, nil, c.method, c.path, `{"index":0}`)
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s %s: expected 503, got %d", c.method, c.path, rec.Code)
		}
	}
}
