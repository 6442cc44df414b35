// Package speech handles spoken replies: synthesis, playback, and the
// interruption contract the assistant controller relies on.
package speech

import (
	"context"
	"errors"
	"time"
)

// Common errors
var (
	ErrSynthUnavailable = errors.New("speech synthesizer unavailable")
	ErrTextTooLong      = errors.New("text exceeds maximum length")
)

// Synthesizer converts text to audio.
type Synthesizer interface {
	// Name returns the synthesizer identifier (e.g., "openai")
	Name() string

	// Synthesize converts text to audio
	Synthesize(ctx context.Context, req *SynthesizeRequest) (*SynthesizeResponse, error)

	// ListVoices returns available voices
	ListVoices(ctx context.Context) ([]Voice, error)

	// IsAvailable reports whether the synthesizer is usable
	IsAvailable() bool
}

// SynthesizeRequest represents a synthesis request
type SynthesizeRequest struct {
	Text    string  `json:"text"`
	VoiceID string  `json:"voice_id"`
	Speed   float64 `json:"speed,omitempty"` // 0.5 to 2.0
	Pitch   float64 `json:"pitch,omitempty"` // -1.0 to 1.0
	Format  string  `json:"format,omitempty"`
}

// SynthesizeResponse represents a synthesis result
type SynthesizeResponse struct {
	Audio          []byte        `json:"audio"`
	Format         string        `json:"format"`
	SampleRate     int           `json:"sample_rate"`
	Duration       time.Duration `json:"duration"`
	ProcessingTime time.Duration `json:"processing_time"`
	VoiceID        string        `json:"voice_id"`
	Provider       string        `json:"provider"`
}

// Voice represents an available voice
type Voice struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language"`
	Gender   string `json:"gender"` // male, female, neutral
}

// Player plays synthesized audio. Play blocks until playback finishes or the
// context is cancelled.
type Player interface {
	Play(ctx context.Context, audio []byte, format string) error
}
