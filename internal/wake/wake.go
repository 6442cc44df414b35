// Package wake implements wake-phrase detection and command extraction.
package wake

import (
	"strings"
)

// MinCommandLength is the minimum trimmed length for a trailing command to be
// dispatched immediately instead of waiting in the listening state.
const MinCommandLength = 2

// Detector matches transcripts against a primary wake phrase plus a set of
// phonetic near-miss alternatives that tolerate recognizer mishearings.
type Detector struct {
	phrases []string
}

// DefaultAlternatives are the tolerated near-misses for "hey luna".
var DefaultAlternatives = []string{
	"hey lana", "hey lona", "hey louna", "hailuna",
	"hey una", "a luna", "hey luma",
}

// NewDetector builds a detector for the given primary phrase and
// alternatives. Phrases are normalized once at construction.
func NewDetector(primary string, alternatives []string) *Detector {
	phrases := make([]string, 0, len(alternatives)+1)
	if p := Normalize(primary); p != "" {
		phrases = append(phrases, p)
	}
	for _, alt := range alternatives {
		if a := Normalize(alt); a != "" && a != Normalize(primary) {
			phrases = append(phrases, a)
		}
	}
	return &Detector{phrases: phrases}
}

// Phrases returns the normalized phrase set, primary first.
func (d *Detector) Phrases() []string {
	out := make([]string, len(d.phrases))
	copy(out, d.phrases)
	return out
}

// Normalize lowercases, strips sentence punctuation, and collapses
// whitespace. Matching is substring containment over this form.
func Normalize(text string) string {
	lower := strings.ToLower(text)
	var b strings.Builder
	b.Grow(len(lower))
	for _, r := range lower {
		switch r {
		case '.', ',', '!', '?':
		default:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Match reports whether the transcript contains any wake phrase. Any
// alternative matching triggers wake behavior identically to the primary.
func (d *Detector) Match(text string) bool {
	_, _, ok := d.find(text)
	return ok
}

// ExtractCommand returns the trimmed text following the first occurrence of
// any matched wake phrase. ok is false when no phrase matches; an empty
// command with ok=true means the transcript was the wake phrase alone.
func (d *Detector) ExtractCommand(text string) (command string, ok bool) {
	norm := Normalize(text)
	idx, phrase, ok := d.find(text)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(norm[idx+len(phrase):]), true
}

// IsCommand reports whether an extracted command is long enough to dispatch
// immediately.
func IsCommand(command string) bool {
	return len(strings.TrimSpace(command)) > MinCommandLength
}

// find locates the earliest-occurring phrase in the normalized transcript.
// On equal offsets the longest phrase wins so the whole trigger is consumed.
func (d *Detector) find(text string) (idx int, phrase string, ok bool) {
	norm := Normalize(text)
	idx = -1
	for _, p := range d.phrases {
		i := strings.Index(norm, p)
		if i < 0 {
			continue
		}
		if idx == -1 || i < idx || (i == idx && len(p) > len(phrase)) {
			idx, phrase = i, p
		}
	}
	return idx, phrase, idx >= 0
}
