package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/goodtune/keytrack/internal/lights"
	"github.com/goodtune/keytrack/internal/session"
	"github.com/goodtune/keytrack/internal/storage"
	"github.com/gorilla/mux"
)

// maxPresetSize bounds PUT /api/lights/preset bodies.
const maxPresetSize = 64 << 10

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// StatusResponse is returned by GET /api/status.
type StatusResponse struct {
	Uptime  string         `json:"uptime"`
	Session session.Window `json:"session"`
	Today   TodaySummary   `json:"today"`
	Lights  *lights.Status `json:"lights,omitempty"`
}

// TodaySummary is the live part of the status response.
type TodaySummary struct {
	Date        string           `json:"date"`
	Unsaved     storage.Counters `json:"unsaved"`
	ActiveNotes int              `json:"active_notes"`
	Pedal       bool             `json:"pedal"`
}

// TodayResponse combines stored and unsaved statistics for today.
type TodayResponse struct {
	Date   string              `json:"date"`
	Totals storage.Counters    `json:"totals"`
	Hours  []storage.HourlyRow `json:"hours"`
	Notes  []storage.NoteRow   `json:"notes"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		http.Error(w, `{"error":"Internal Server Error","message":"Failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	now := s.deps.Clock.Now()

	snap, err := s.deps.Stats.Snapshot(r.Context(), now)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to snapshot statistics")
		writeError(w, http.StatusServiceUnavailable, "Statistics unavailable")
		return
	}

	resp := StatusResponse{
		Uptime:  now.Sub(s.started).Truncate(time.Second).String(),
		Session: s.deps.Session.Status(now),
		Today: TodaySummary{
			Date:        snap.Date,
			Unsaved:     snap.Unsaved,
			ActiveNotes: snap.ActiveNotes,
			Pedal:       snap.Pedal,
		},
	}
	if s.deps.Lights != nil {
		st := s.deps.Lights.Status()
		resp.Lights = &st
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleToday(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	snap, err := s.deps.Stats.Snapshot(ctx, s.deps.Clock.Now())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to snapshot statistics")
		writeError(w, http.StatusServiceUnavailable, "Statistics unavailable")
		return
	}
	date := snap.Date
	st := s.deps.Store.Stats()

	resp := TodayResponse{Date: date}

	daily, err := st.GetDaily(ctx, date)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		s.logger.Error().Err(err).Str("date", date).Msg("Failed to read daily row")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve statistics")
		return
	default:
		resp.Totals = daily.Counters
	}
	resp.Totals.Add(snap.Unsaved)

	hours, err := st.ListHourly(ctx, date)
	if err != nil {
		s.logger.Error().Err(err).Str("date", date).Msg("Failed to read hourly rows")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve statistics")
		return
	}
	resp.Hours = mergeHours(hours, snap.Hours, date)

	notes, err := st.ListNotes(ctx, date)
	if err != nil {
		s.logger.Error().Err(err).Str("date", date).Msg("Failed to read note rows")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve statistics")
		return
	}
	resp.Notes = mergeNotes(notes, snap.UnsavedNotes)

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDaily(w http.ResponseWriter, r *http.Request) {
	date, ok := s.dateVar(w, r)
	if !ok {
		return
	}

	s.history(w, r, "daily:"+date, func() (any, error) {
		row, err := s.deps.Store.Stats().GetDaily(r.Context(), date)
		if errors.Is(err, storage.ErrNotFound) {
			return &storage.DailyRow{Date: date}, nil
		}
		return row, err
	})
}

func (s *Server) handleHourly(w http.ResponseWriter, r *http.Request) {
	date, ok := s.dateVar(w, r)
	if !ok {
		return
	}

	s.history(w, r, "hourly:"+date, func() (any, error) {
		rows, err := s.deps.Store.Stats().ListHourly(r.Context(), date)
		if err != nil {
			return nil, err
		}
		return map[string]any{"date": date, "hours": nonNil(rows)}, nil
	})
}

func (s *Server) handleNotes(w http.ResponseWriter, r *http.Request) {
	date, ok := s.dateVar(w, r)
	if !ok {
		return
	}

	s.history(w, r, "notes:"+date, func() (any, error) {
		rows, err := s.deps.Store.Stats().ListNotes(r.Context(), date)
		if err != nil {
			return nil, err
		}
		return map[string]any{"date": date, "notes": nonNil(rows)}, nil
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	date, ok := s.dateVar(w, r)
	if !ok {
		return
	}

	s.history(w, r, "sessions:"+date, func() (any, error) {
		rows, err := s.deps.Store.Sessions().List(r.Context(), date)
		if err != nil {
			return nil, err
		}
		return map[string]any{"date": date, "sessions": nonNil(rows)}, nil
	})
}

// history serves a stored lookup, caching it unless date is today.
func (s *Server) history(w http.ResponseWriter, r *http.Request, key string, load func() (any, error)) {
	today := storage.DateKey(s.deps.Clock.Now())
	cacheable := mux.Vars(r)["date"] != today

	if cacheable {
		if v, ok := s.cache.Get(key); ok {
			writeJSON(w, http.StatusOK, v)
			return
		}
	}

	v, err := load()
	if err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to load history")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve statistics")
		return
	}
	if cacheable {
		s.cache.Add(key, v)
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) dateVar(w http.ResponseWriter, r *http.Request) (string, bool) {
	date := mux.Vars(r)["date"]
	if _, err := time.Parse(storage.DateFormat, date); err != nil {
		writeError(w, http.StatusBadRequest, "Date must be YYYY-MM-DD")
		return "", false
	}
	return date, true
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Sync.Clear(r.Context()); err != nil {
		s.logger.Error().Err(err).Msg("Failed to clear session")
		writeError(w, http.StatusInternalServerError, "Failed to clear session")
		return
	}
	s.cache.Purge()

	s.logger.Info().Msg("Session statistics cleared")
	writeJSON(w, http.StatusOK, map[string]string{"message": "Session cleared"})
}

func (s *Server) requireLights(w http.ResponseWriter) (Lights, bool) {
	if s.deps.Lights == nil {
		writeError(w, http.StatusServiceUnavailable, "Light feedback is not configured")
		return nil, false
	}
	return s.deps.Lights, true
}

func (s *Server) handleLights(w http.ResponseWriter, r *http.Request) {
	l, ok := s.requireLights(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, l.Status())
}

func (s *Server) handleLightsEnable(w http.ResponseWriter, r *http.Request) {
	l, ok := s.requireLights(w)
	if !ok {
		return
	}
	l.Enable()
	writeJSON(w, http.StatusOK, l.Status())
}

func (s *Server) handleLightsDisable(w http.ResponseWriter, r *http.Request) {
	l, ok := s.requireLights(w)
	if !ok {
		return
	}
	l.Disable()
	writeJSON(w, http.StatusOK, l.Status())
}

func (s *Server) handleLightsTest(w http.ResponseWriter, r *http.Request) {
	l, ok := s.requireLights(w)
	if !ok {
		return
	}

	if err := l.TestPattern(r.Context()); err != nil {
		if errors.Is(err, lights.ErrDisabled) {
			writeError(w, http.StatusConflict, "Light feedback is disabled")
			return
		}
		s.logger.Warn().Err(err).Msg("Test pattern interrupted")
		writeError(w, http.StatusInternalServerError, "Test pattern failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Test pattern complete"})
}

func (s *Server) handlePreset(w http.ResponseWriter, r *http.Request) {
	l, ok := s.requireLights(w)
	if !ok {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPresetSize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	p, err := lights.ParsePreset(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := l.Apply(p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if s.config.PresetPath != "" {
		if err := lights.SavePreset(s.config.PresetPath, p); err != nil {
			s.logger.Error().Err(err).Str("path", s.config.PresetPath).Msg("Failed to save preset")
			writeError(w, http.StatusInternalServerError, "Preset applied but not saved")
			return
		}
	}

	writeJSON(w, http.StatusOK, l.Status())
}

// mergeHours adds the unflushed buckets for date to the stored rows.
func mergeHours(stored, live []storage.HourlyRow, date string) []storage.HourlyRow {
	byHour := make(map[int]*storage.HourlyRow, len(stored)+len(live))
	for i := range stored {
		byHour[stored[i].Hour] = &stored[i]
	}
	for _, row := range live {
		if row.Date != date {
			continue
		}
		if cur, ok := byHour[row.Hour]; ok {
			cur.Add(row.Counters)
			continue
		}
		byHour[row.Hour] = &row
	}

	out := make([]storage.HourlyRow, 0, len(byHour))
	for _, row := range byHour {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hour < out[j].Hour })
	return out
}

// mergeNotes adds unsaved per-note deltas to the stored rows.
func mergeNotes(stored, unsaved []storage.NoteRow) []storage.NoteRow {
	byNote := make(map[int]*storage.NoteRow, len(stored)+len(unsaved))
	for i := range stored {
		byNote[stored[i].Note] = &stored[i]
	}
	for _, row := range unsaved {
		if cur, ok := byNote[row.Note]; ok {
			cur.Add(row.NoteCounters)
			continue
		}
		byNote[row.Note] = &row
	}

	out := make([]storage.NoteRow, 0, len(byNote))
	for _, row := range byNote {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Note < out[j].Note })
	return out
}

func nonNil[T any](rows []T) []T {
	if rows == nil {
		return []T{}
	}
	return rows
}
