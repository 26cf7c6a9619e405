package lights

import (
	"reflect"
	"testing"
)

func TestMapping_Direct(t *testing.T) {
	m := Mapping{Mode: MappingDirect, Count: 144}

	tests := []struct {
		note uint8
		want []int
	}{
		{20, nil},
		{21, []int{143}},
		{22, []int{142}},
		{60, []int{104}},
		{108, []int{56}},
		{109, nil},
	}

	for _, tt := range tests {
		if got := m.Channels(tt.note); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Direct Channels(%d) = %v, want %v", tt.note, got, tt.want)
		}
	}

	// Highest note gets the lowest index of every mapped note.
	lowest, highest := 144, -1
	m.Each(func(_ uint8, ch []int) {
		if ch[0] < lowest {
			lowest = ch[0]
		}
		if ch[0] > highest {
			highest = ch[0]
		}
	})
	if got := m.Channels(21)[0]; got != highest {
		t.Errorf("Note 21 should map to the highest index %d, got %d", highest, got)
	}
	if got := m.Channels(108)[0]; got != lowest {
		t.Errorf("Note 108 should map to the lowest index %d, got %d", lowest, got)
	}
}

func TestMapping_Paired(t *testing.T) {
	m := Mapping{Mode: MappingPaired, Count: 144}

	tests := []struct {
		note uint8
		want []int
	}{
		{28, nil},
		{29, []int{143, 142}},
		{30, []int{141, 140}},
		{100, []int{1, 0}},
		{101, nil},
	}

	for _, tt := range tests {
		if got := m.Channels(tt.note); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Paired Channels(%d) = %v, want %v", tt.note, got, tt.want)
		}
	}
}

func TestMapping_ShortStripNeverOutOfRange(t *testing.T) {
	for _, mode := range []MappingMode{MappingDirect, MappingPaired} {
		m := Mapping{Mode: mode, Count: 60}
		for n := 0; n < 128; n++ {
			for _, ch := range m.Channels(uint8(n)) {
				if ch < 0 || ch >= m.Count {
					t.Fatalf("%s note %d mapped to channel %d outside strip", mode, n, ch)
				}
			}
		}
	}
}

func TestModeText(t *testing.T) {
	var m MappingMode
	if err := m.UnmarshalText([]byte("paired")); err != nil || m != MappingPaired {
		t.Errorf("Expected paired, got %v (%v)", m, err)
	}
	if err := m.UnmarshalText([]byte("diagonal")); err == nil {
		t.Error("Expected unknown mapping to fail")
	}

	var e EffectMode
	for _, name := range []string{"static", "fade", "sparkle"} {
		if err := e.UnmarshalText([]byte(name)); err != nil {
			t.Fatalf("UnmarshalText(%s) failed: %v", name, err)
		}
		text, _ := e.MarshalText()
		if string(text) != name {
			t.Errorf("Expected %s, got %s", name, text)
		}
	}
	if EffectStatic.Continuous() || !EffectFade.Continuous() || !EffectSparkle.Continuous() {
		t.Error("Only fade and sparkle need the animation loop")
	}
}
