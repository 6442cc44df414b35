package recognizer

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Lefyd24/LunaEye/internal/bus"
)

// LocalDetector is the degraded-mode recognizer: it produces no transcripts,
// only speech presence derived from signal energy. The supervisor swaps it in
// permanently after repeated network failures so the UI keeps reacting to the
// user's voice even when transcription is gone.
type LocalDetector struct {
	vad    *VAD
	events *bus.EventBus
	logger zerolog.Logger

	mu       sync.Mutex
	running  bool
	speaking bool

	cb   Events
	cbMu sync.RWMutex
}

// NewLocalDetector builds the volume-based fallback recognizer.
func NewLocalDetector(cfg VADConfig, events *bus.EventBus, logger zerolog.Logger) *LocalDetector {
	return &LocalDetector{
		vad:    NewVAD(&cfg),
		events: events,
		logger: logger.With().Str("component", "recognizer-local").Logger(),
	}
}

// SetEvents installs the lifecycle callbacks.
func (d *LocalDetector) SetEvents(ev Events) {
	d.cbMu.Lock()
	d.cb = ev
	d.cbMu.Unlock()
}

func (d *LocalDetector) callbacks() Events {
	d.cbMu.RLock()
	defer d.cbMu.RUnlock()
	return d.cb
}

// Start arms the detector. It never fails: local detection has no external
// dependency to break.
func (d *LocalDetector) Start(_ context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return ErrAlreadyStarted
	}
	d.running = true
	d.speaking = false
	d.vad.Reset()
	d.mu.Unlock()

	d.logger.Info().Msg("Local speech detection started")
	if ev := d.callbacks(); ev.OnStart != nil {
		ev.OnStart()
	}
	return nil
}

// SendAudio runs a PCM frame through the energy detector and publishes
// speech boundary and level events.
func (d *LocalDetector) SendAudio(pcm []byte) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return ErrNotStarted
	}
	result := d.vad.Process(pcm)
	changed := result.IsSpeech != d.speaking
	d.speaking = result.IsSpeech
	d.mu.Unlock()

	if d.events != nil {
		d.events.Publish(bus.Event{Type: bus.EventTypeAudioLevel, Data: map[string]any{"level": result.RMS}})
		if changed {
			if result.IsSpeech {
				d.events.Publish(bus.Event{Type: bus.EventTypeSpeechStart, Data: map[string]any{"confidence": result.Confidence}})
			} else {
				d.events.Publish(bus.Event{Type: bus.EventTypeSpeechEnd})
			}
		}
	}
	return nil
}

// Stop disarms the detector and reports OnEnd.
func (d *LocalDetector) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	wasSpeaking := d.speaking
	d.speaking = false
	d.mu.Unlock()

	if wasSpeaking && d.events != nil {
		d.events.Publish(bus.Event{Type: bus.EventTypeSpeechEnd})
	}
	d.logger.Info().Msg("Local speech detection stopped")
	if ev := d.callbacks(); ev.OnEnd != nil {
		ev.OnEnd()
	}
	return nil
}
