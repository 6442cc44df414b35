// Package recognizer provides continuous speech capture for LunaEye: the
// adapter contract around a streaming recognition primitive, a local
// volume-based fallback detector, and the supervisor that keeps whichever
// one is active alive and synchronized with the conversation state.
package recognizer

import (
	"context"
	"errors"
)

// Common errors
var (
	ErrAlreadyStarted = errors.New("recognizer already started")
	ErrNotStarted     = errors.New("recognizer not started")
	ErrPaused         = errors.New("recognizer paused")
	ErrRestartPending = errors.New("restart already scheduled")
)

// Result is a single recognition event.
type Result struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	IsFinal    bool    `json:"is_final"`
}

// ErrorKind classifies adapter faults for the supervisor's recovery policy.
type ErrorKind string

const (
	// ErrorAborted is expected noise from an intentional stop call.
	ErrorAborted ErrorKind = "aborted"
	// ErrorNoSpeech means the primitive timed out waiting for speech.
	ErrorNoSpeech ErrorKind = "no-speech"
	// ErrorNetwork covers transport faults; repeated occurrences indicate a
	// systemic problem.
	ErrorNetwork ErrorKind = "network"
	// ErrorNotAllowed means microphone permission was denied.
	ErrorNotAllowed ErrorKind = "not-allowed"
	// ErrorAudioCapture means the input device failed.
	ErrorAudioCapture ErrorKind = "audio-capture"
	// ErrorUnknown is everything else.
	ErrorUnknown ErrorKind = "unknown"
)

// Events are the adapter lifecycle callbacks. All callbacks may be invoked
// from the adapter's internal goroutines.
type Events struct {
	OnStart  func()
	OnEnd    func()
	OnError  func(kind ErrorKind, err error)
	OnResult func(Result)
}

// Options configure a capture adapter.
type Options struct {
	Continuous      bool
	InterimResults  bool
	Language        string
	MaxAlternatives int
	SampleRate      int
}

// DefaultOptions returns sensible defaults for conversational capture.
func DefaultOptions() Options {
	return Options{
		Continuous:      true,
		InterimResults:  true,
		Language:        "en-US",
		MaxAlternatives: 1,
		SampleRate:      16000,
	}
}

// Adapter wraps a continuous speech-recognition primitive. Implementations
// surface transcript and lifecycle events through Events and accept raw PCM
// via SendAudio.
type Adapter interface {
	// Start begins recognition. It reports ErrAlreadyStarted when running.
	Start(ctx context.Context) error
	// Stop ends recognition; the adapter reports OnEnd when fully stopped.
	Stop() error
	// SendAudio feeds 16-bit little-endian mono PCM at the configured rate.
	SendAudio(pcm []byte) error
	// SetEvents installs the lifecycle callbacks. Must be called before Start.
	SetEvents(ev Events)
}
