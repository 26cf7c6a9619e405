package lights

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/goleak"
)

func TestPresetWatcher_ReloadsOnChange(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	path := filepath.Join(t.TempDir(), "preset.yaml")
	if err := os.WriteFile(path, []byte("effect_mode: static\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	applied := make(chan Preset, 4)
	w, err := NewPresetWatcher(path, func(p Preset) error {
		applied <- p
		return nil
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewPresetWatcher failed: %v", err)
	}
	defer w.Stop()

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// An invalid revision is skipped.
	if err := os.WriteFile(path, []byte("effect_mode: strobe\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	select {
	case p := <-applied:
		t.Fatalf("Invalid preset should not be applied, got %+v", p)
	case <-time.After(500 * time.Millisecond):
	}

	if err := SavePreset(path, redPreset(EffectFade)); err != nil {
		t.Fatalf("SavePreset failed: %v", err)
	}

	select {
	case p := <-applied:
		if p.EffectMode != EffectFade {
			t.Errorf("Expected fade, got %s", p.EffectMode)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Preset was not reloaded")
	}
}

func TestPresetWatcher_StopWithoutStart(t *testing.T) {
	w, err := NewPresetWatcher(filepath.Join(t.TempDir(), "preset.yaml"), func(Preset) error { return nil }, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewPresetWatcher failed: %v", err)
	}
	w.Stop()
}
