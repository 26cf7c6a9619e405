package lights

import "fmt"

// EffectMode selects how channels respond to notes.
type EffectMode uint8

const (
	// EffectStatic lights a key while pressed and clears it on release.
	EffectStatic EffectMode = iota
	// EffectFade fades a released key out over the fade duration.
	EffectFade
	// EffectSparkle randomly perturbs the brightness of pressed keys.
	EffectSparkle
)

func (e EffectMode) String() string {
	switch e {
	case EffectStatic:
		return "static"
	case EffectFade:
		return "fade"
	case EffectSparkle:
		return "sparkle"
	default:
		return fmt.Sprintf("effect(%d)", uint8(e))
	}
}

// Continuous reports whether the effect needs the animation loop.
func (e EffectMode) Continuous() bool {
	switch e {
	case EffectFade, EffectSparkle:
		return true
	case EffectStatic:
		return false
	}
	return false
}

// MarshalText implements encoding.TextMarshaler.
func (e EffectMode) MarshalText() ([]byte, error) {
	switch e {
	case EffectStatic, EffectFade, EffectSparkle:
		return []byte(e.String()), nil
	}
	return nil, fmt.Errorf("unknown effect mode %d", uint8(e))
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (e *EffectMode) UnmarshalText(text []byte) error {
	switch string(text) {
	case "static":
		*e = EffectStatic
	case "fade":
		*e = EffectFade
	case "sparkle":
		*e = EffectSparkle
	default:
		return fmt.Errorf("unknown effect mode %q", text)
	}
	return nil
}
