package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

// maxSelectSize bounds POST /api/midi/select bodies.
const maxSelectSize = 4 << 10

// MIDI is the input listener surface the API controls.
type MIDI interface {
	Connected() (string, bool)
	Inputs() ([]string, error)
	Rescan()
	Select(name string)
}

// MIDIStatus is returned by GET /api/midi/status.
type MIDIStatus struct {
	Connected bool   `json:"connected"`
	Device    string `json:"device,omitempty"`
}

// MIDIDevices is returned by GET /api/midi/devices.
type MIDIDevices struct {
	Devices []string `json:"devices"`
}

// SelectRequest chooses an input by position in the device list or by a
// case-insensitive name fragment. Index wins when both are given.
type SelectRequest struct {
	Index *int   `json:"index,omitempty"`
	Name  string `json:"name,omitempty"`
}

// matchInput resolves req against the current input names.
func matchInput(inputs []string, req SelectRequest) (string, bool) {
	if req.Index != nil {
		if i := *req.Index; i >= 0 && i < len(inputs) {
			return inputs[i], true
		}
		return "", false
	}
	if req.Name == "" {
		return "", false
	}
	want := strings.ToLower(req.Name)
	for _, name := range inputs {
		if strings.Contains(strings.ToLower(name), want) {
			return name, true
		}
	}
	return "", false
}

func (s *Server) requireMIDI(w http.ResponseWriter) (MIDI, bool) {
	if s.deps.MIDI == nil {
		writeError(w, http.StatusServiceUnavailable, "MIDI input is not available")
		return nil, false
	}
	return s.deps.MIDI, true
}

func (s *Server) handleMIDIStatus(w http.ResponseWriter, r *http.Request) {
	m, ok := s.requireMIDI(w)
	if !ok {
		return
	}
	device, connected := m.Connected()
	writeJSON(w, http.StatusOK, MIDIStatus{Connected: connected, Device: device})
}

func (s *Server) handleMIDIDevices(w http.ResponseWriter, r *http.Request) {
	m, ok := s.requireMIDI(w)
	if !ok {
		return
	}
	inputs, err := m.Inputs()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list MIDI inputs")
		writeError(w, http.StatusInternalServerError, "Failed to list MIDI inputs")
		return
	}
	if inputs == nil {
		inputs = []string{}
	}
	writeJSON(w, http.StatusOK, MIDIDevices{Devices: inputs})
}

func (s *Server) handleMIDIRescan(w http.ResponseWriter, r *http.Request) {
	m, ok := s.requireMIDI(w)
	if !ok {
		return
	}
	m.Rescan()
	writeJSON(w, http.StatusAccepted, map[string]string{"message": "Rescan scheduled"})
}

func (s *Server) handleMIDISelect(w http.ResponseWriter, r *http.Request) {
	m, ok := s.requireMIDI(w)
	if !ok {
		return
	}

	var req SelectRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxSelectSize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.Index == nil && req.Name == "" {
		writeError(w, http.StatusBadRequest, "index or name is required")
		return
	}

	inputs, err := m.Inputs()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list MIDI inputs")
		writeError(w, http.StatusInternalServerError, "Failed to list MIDI inputs")
		return
	}
	name, found := matchInput(inputs, req)
	if !found {
		writeError(w, http.StatusNotFound, "No matching MIDI input")
		return
	}

	m.Select(name)
	s.logger.Info().Str("device", name).Msg("MIDI input selected")
	writeJSON(w, http.StatusAccepted, MIDIStatus{Device: name})
}
