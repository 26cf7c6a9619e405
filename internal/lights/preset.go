package lights

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lucasb-eyer/go-colorful"
	"gopkg.in/yaml.v3"
)

// PresetVersion is the preset format written by SavePreset.
const PresetVersion = 1

// Color is an RGB color stored as "#rrggbb".
type Color struct {
	colorful.Color
}

// MustHex parses a "#rrggbb" color and panics on error.
func MustHex(s string) Color {
	var c Color
	if err := c.UnmarshalText([]byte(s)); err != nil {
		panic(err)
	}
	return c
}

// MarshalText implements encoding.TextMarshaler.
func (c Color) MarshalText() ([]byte, error) {
	return []byte(c.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Color) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if !strings.HasPrefix(s, "#") {
		s = "#" + s
	}
	col, err := colorful.Hex(s)
	if err != nil {
		return fmt.Errorf("invalid color %q: %w", text, err)
	}
	c.Color = col
	return nil
}

// Scaled returns the 8-bit channel values of c at brightness f in [0,1].
func (c Color) Scaled(f float64) (r, g, b uint8) {
	f = clamp01(f)
	return toByte(c.R * f), toByte(c.G * f), toByte(c.B * f)
}

func toByte(v float64) uint8 {
	v = clamp01(v)*255 + 0.5
	return uint8(v)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// Duration is a time.Duration stored as a Go duration string.
type Duration time.Duration

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Preset is the complete light effect configuration.
type Preset struct {
	Version              int         `yaml:"version" json:"version"`
	NoteColor            Color       `yaml:"note_color" json:"note_color"`
	BackgroundColor      Color       `yaml:"background_color" json:"background_color"`
	BackgroundBrightness float64     `yaml:"background_brightness" json:"background_brightness"`
	Brightness           float64     `yaml:"brightness" json:"brightness"`
	SustainHold          bool        `yaml:"sustain_hold" json:"sustain_hold"`
	MappingMode          MappingMode `yaml:"mapping_mode" json:"mapping_mode"`
	EffectMode           EffectMode  `yaml:"effect_mode" json:"effect_mode"`
	VelocityScaling      bool        `yaml:"velocity_scaling" json:"velocity_scaling"`
	FadeDuration         Duration    `yaml:"fade_duration" json:"fade_duration"`
	SustainFadeThreshold float64     `yaml:"sustain_fade_threshold" json:"sustain_fade_threshold"`
	SparkleIntensity     float64     `yaml:"sparkle_intensity" json:"sparkle_intensity"`
}

// DefaultPreset returns the preset used when no file is configured. Any
// field missing from a loaded preset takes its value from here.
func DefaultPreset() Preset {
	return Preset{
		Version:              PresetVersion,
		NoteColor:            MustHex("#0000ff"),
		BackgroundColor:      MustHex("#000000"),
		BackgroundBrightness: 0,
		Brightness:           0.5,
		SustainHold:          true,
		MappingMode:          MappingDirect,
		EffectMode:           EffectStatic,
		VelocityScaling:      false,
		FadeDuration:         Duration(time.Second),
		SustainFadeThreshold: 0.3,
		SparkleIntensity:     0.3,
	}
}

// Validate checks that every field is in range.
func (p Preset) Validate() error {
	if p.Version < 1 || p.Version > PresetVersion {
		return fmt.Errorf("unsupported preset version %d", p.Version)
	}
	for name, v := range map[string]float64{
		"brightness":             p.Brightness,
		"background_brightness":  p.BackgroundBrightness,
		"sustain_fade_threshold": p.SustainFadeThreshold,
		"sparkle_intensity":      p.SparkleIntensity,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be within [0,1], got %g", name, v)
		}
	}
	if p.FadeDuration <= 0 {
		return fmt.Errorf("fade_duration must be positive")
	}
	if _, err := p.MappingMode.MarshalText(); err != nil {
		return err
	}
	if _, err := p.EffectMode.MarshalText(); err != nil {
		return err
	}
	return nil
}

// ParsePreset decodes a YAML or JSON preset over the defaults.
func ParsePreset(data []byte) (Preset, error) {
	p := DefaultPreset()
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Preset{}, fmt.Errorf("failed to parse preset: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Preset{}, fmt.Errorf("invalid preset: %w", err)
	}
	return p, nil
}

// LoadPreset reads a preset file.
func LoadPreset(path string) (Preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Preset{}, fmt.Errorf("failed to read preset: %w", err)
	}
	return ParsePreset(data)
}

// SavePreset writes p to path, replacing any existing file atomically.
func SavePreset(path string, p Preset) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid preset: %w", err)
	}

	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode preset: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".preset-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create preset file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write preset: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write preset: %w", err)
	}

	return os.Rename(tmp.Name(), path)
}
