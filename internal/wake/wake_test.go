package wake

import (
	"testing"
)

func testDetector() *Detector {
	return NewDetector("hey luna", DefaultAlternatives)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Hey Luna", "hey luna"},
		{"HEY LUNA!", "hey luna"},
		{"hey, luna.", "hey luna"},
		{"  hey   luna  ", "hey luna"},
		{"Hey Luna, what time is it?", "hey luna what time is it"},
		{"", ""},
		{"?!.,", ""},
	}

	for _, tc := range tests {
		if got := Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestDetector_Match(t *testing.T) {
	d := testDetector()

	tests := []struct {
		text string
		want bool
	}{
		{"hey luna", true},
		{"Hey Luna!", true},
		{"okay so hey luna are you there", true},
		{"hey lana", true},  // tolerated near-miss
		{"hailuna", true},   // smashed together
		{"hey luma", true},  // tolerated near-miss
		{"hello luna", false},
		{"hey there", false},
		{"", false},
	}

	for _, tc := range tests {
		if got := d.Match(tc.text); got != tc.want {
			t.Errorf("Match(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestDetector_ExtractCommand(t *testing.T) {
	d := testDetector()

	tests := []struct {
		text    string
		wantCmd string
		wantOK  bool
	}{
		{"hey luna what time is it", "what time is it", true},
		{"Hey Luna, what time is it?", "what time is it", true},
		{"hey luna", "", true}, // matched, no trailing command
		{"hey lana turn on the lights", "turn on the lights", true},
		{"good morning hey luna play music", "play music", true},
		{"no wake phrase here", "", false},
	}

	for _, tc := range tests {
		cmd, ok := d.ExtractCommand(tc.text)
		if ok != tc.wantOK || cmd != tc.wantCmd {
			t.Errorf("ExtractCommand(%q) = (%q, %v), want (%q, %v)",
				tc.text, cmd, ok, tc.wantCmd, tc.wantOK)
		}
	}
}

func TestIsCommand(t *testing.T) {
	tests := []struct {
		cmd  string
		want bool
	}{
		{"what time is it", true},
		{"hello", true},
		{"hi", false},  // exactly at the threshold
		{"ok", false},
		{"  a  ", false},
		{"", false},
		{"yes", true}, // three characters clears it
	}

	for _, tc := range tests {
		if got := IsCommand(tc.cmd); got != tc.want {
			t.Errorf("IsCommand(%q) = %v, want %v", tc.cmd, got, tc.want)
		}
	}
}

func TestDetector_BareWakePhraseIsNotACommand(t *testing.T) {
	d := testDetector()

	cmd, ok := d.ExtractCommand("hey luna")
	if !ok {
		t.Fatal("expected the bare wake phrase to match")
	}
	if IsCommand(cmd) {
		t.Error("bare wake phrase must not produce a dispatchable command")
	}
}

func TestFilter_Clean(t *testing.T) {
	f := NewFilter(nil)

	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"um hey luna", "hey luna", true},
		{"uh what time is it umm", "what time is it", true},
		{"hey luna", "hey luna", true},
		{"um uh hmm", "", false}, // filler only
		{"", "", false},
		{"drummer", "drummer", true}, // "um" inside a word stays
	}

	for _, tc := range tests {
		got, ok := f.Clean(tc.in)
		if ok != tc.wantOK || got != tc.want {
			t.Errorf("Clean(%q) = (%q, %v), want (%q, %v)", tc.in, got, ok, tc.want, tc.wantOK)
		}
	}
}

func TestFilter_IsFillerOnly(t *testing.T) {
	f := NewFilter(nil)

	if !f.IsFillerOnly("um uh") {
		t.Error("expected filler-only text to be detected")
	}
	if f.IsFillerOnly("um hello") {
		t.Error("expected real content to not be filler-only")
	}
}

func TestFilter_AddFillerWord(t *testing.T) {
	f := NewFilter(nil)
	f.AddFillerWord("like")

	got, ok := f.Clean("like turn on the lights")
	if !ok || got != "turn on the lights" {
		t.Errorf("Clean with custom filler = (%q, %v)", got, ok)
	}
}
