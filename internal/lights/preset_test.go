package lights

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParsePreset_MissingFieldsUseDefaults(t *testing.T) {
	p, err := ParsePreset([]byte(`
effect_mode: fade
note_color: "#ff8000"
fade_duration: 750ms
`))
	if err != nil {
		t.Fatalf("ParsePreset failed: %v", err)
	}

	def := DefaultPreset()
	if p.EffectMode != EffectFade {
		t.Errorf("Expected fade, got %s", p.EffectMode)
	}
	if p.NoteColor.Hex() != "#ff8000" {
		t.Errorf("Expected #ff8000, got %s", p.NoteColor.Hex())
	}
	if time.Duration(p.FadeDuration) != 750*time.Millisecond {
		t.Errorf("Expected 750ms, got %v", time.Duration(p.FadeDuration))
	}
	if p.SustainFadeThreshold != def.SustainFadeThreshold || p.SustainHold != def.SustainHold {
		t.Errorf("Expected defaults for missing fields, got %+v", p)
	}
	if p.Version != PresetVersion {
		t.Errorf("Expected version %d, got %d", PresetVersion, p.Version)
	}
}

func TestParsePreset_JSON(t *testing.T) {
	p, err := ParsePreset([]byte(`{"mapping_mode": "paired", "velocity_scaling": true, "background_color": "101010"}`))
	if err != nil {
		t.Fatalf("ParsePreset failed: %v", err)
	}
	if p.MappingMode != MappingPaired || !p.VelocityScaling {
		t.Errorf("Unexpected preset: %+v", p)
	}
	if p.BackgroundColor.Hex() != "#101010" {
		t.Errorf("Expected #101010, got %s", p.BackgroundColor.Hex())
	}
}

func TestParsePreset_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"future version", "version: 2\n"},
		{"brightness out of range", "brightness: 1.5\n"},
		{"negative threshold", "sustain_fade_threshold: -0.1\n"},
		{"zero fade", "fade_duration: 0s\n"},
		{"unknown effect", "effect_mode: strobe\n"},
		{"bad color", "note_color: \"#zzzzzz\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParsePreset([]byte(tt.body)); err == nil {
				t.Errorf("Expected error for %q", tt.body)
			}
		})
	}
}

func TestSaveAndLoadPreset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preset.yaml")

	want := DefaultPreset()
	want.EffectMode = EffectSparkle
	want.NoteColor = MustHex("#00ff00")
	want.SparkleIntensity = 0.5

	if err := SavePreset(path, want); err != nil {
		t.Fatalf("SavePreset failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !strings.Contains(string(data), "effect_mode: sparkle") {
		t.Errorf("Expected readable effect mode in file, got:\n%s", data)
	}

	got, err := LoadPreset(path)
	if err != nil {
		t.Fatalf("LoadPreset failed: %v", err)
	}
	if got.EffectMode != want.EffectMode || got.NoteColor.Hex() != "#00ff00" || got.SparkleIntensity != 0.5 {
		t.Errorf("Round trip mismatch: %+v", got)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("Expected temp file cleaned up, found %d entries", len(entries))
	}
}

func TestPresetJSONEncoding(t *testing.T) {
	data, err := json.Marshal(DefaultPreset())
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	s := string(data)
	for _, want := range []string{`"note_color":"#0000ff"`, `"effect_mode":"static"`, `"fade_duration":"1s"`} {
		if !strings.Contains(s, want) {
			t.Errorf("Expected %s in %s", want, s)
		}
	}
}

func TestColorScaled(t *testing.T) {
	c := MustHex("#ff8000")

	r, g, b := c.Scaled(1)
	if r != 255 || g != 128 || b != 0 {
		t.Errorf("Expected 255,128,0 got %d,%d,%d", r, g, b)
	}
	r, _, _ = c.Scaled(0.3)
	if r != 77 {
		t.Errorf("Expected 77 at 0.3, got %d", r)
	}
	r, g, b = c.Scaled(2)
	if r != 255 || g != 128 || b != 0 {
		t.Errorf("Expected brightness clamped to 1, got %d,%d,%d", r, g, b)
	}
}
