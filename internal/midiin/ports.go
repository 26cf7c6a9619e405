// Package midiin feeds raw MIDI messages into the event bus, either from a
// live input port or from a recording.
package midiin

import (
	"fmt"
	"strings"
	"time"

	"github.com/goodtune/keytrack/internal/event"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

// Dispatcher receives raw messages. *event.Bus implements it.
type Dispatcher interface {
	Dispatch(raw []byte, at time.Time) event.Event
}

// ListInputs returns the names of every MIDI input the driver can see.
func ListInputs() ([]string, error) {
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("rtmididrv: %w", err)
	}
	defer drv.Close()

	ins, err := drv.Ins()
	if err != nil {
		return nil, fmt.Errorf("failed to list inputs: %w", err)
	}

	names := make([]string, 0, len(ins))
	for _, in := range ins {
		names = append(names, in.String())
	}
	return names, nil
}

// SelectPort picks the input to connect to. An explicit port wins when
// present. Otherwise excluded names are dropped, preferred patterns are
// tried in order, and the first remaining input is the fallback.
func SelectPort(inputs []string, cfg Config) (string, bool) {
	if cfg.Port != "" {
		for _, name := range inputs {
			if name == cfg.Port {
				return name, true
			}
		}
		for _, name := range inputs {
			if containsCI(name, cfg.Port) {
				return name, true
			}
		}
		return "", false
	}

	var candidates []string
	for _, name := range inputs {
		if !matchesAny(name, cfg.Excluded) {
			candidates = append(candidates, name)
		}
	}

	for _, pat := range cfg.Preferred {
		for _, name := range candidates {
			if containsCI(name, pat) {
				return name, true
			}
		}
	}

	if len(candidates) > 0 {
		return candidates[0], true
	}
	return "", false
}

func matchesAny(name string, patterns []string) bool {
	for _, pat := range patterns {
		if containsCI(name, pat) {
			return true
		}
	}
	return false
}

func containsCI(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
