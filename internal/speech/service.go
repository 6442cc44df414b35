package speech

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Lefyd24/LunaEye/internal/bus"
)

// Service speaks replies out loud. At most one utterance plays at a time:
// starting a new one interrupts the previous. Speak always returns, whether
// the utterance finished, was interrupted, or synthesis failed outright —
// the assistant must never hang waiting on a reply that will not play.
type Service struct {
	synth  Synthesizer
	player Player
	events *bus.EventBus
	logger zerolog.Logger

	voice string
	speed float64

	mu          sync.Mutex
	speaking    bool
	interrupted bool
	cancel      context.CancelFunc
	utterance   uint64
}

// NewService builds the speaker. A nil player falls back to a silent player
// that paces itself off the text length, which keeps conversation timing
// intact on machines with no audio output.
func NewService(synth Synthesizer, player Player, events *bus.EventBus, logger zerolog.Logger) *Service {
	if player == nil {
		player = &pacedPlayer{}
	}
	return &Service{
		synth:  synth,
		player: player,
		events: events,
		logger: logger.With().Str("component", "speech").Logger(),
		speed:  1.0,
	}
}

// SetVoice sets the preferred voice for subsequent utterances.
func (s *Service) SetVoice(voice string) {
	s.mu.Lock()
	s.voice = voice
	s.mu.Unlock()
}

// SetSpeed sets the speech rate for subsequent utterances.
func (s *Service) SetSpeed(speed float64) {
	s.mu.Lock()
	s.speed = speed
	s.mu.Unlock()
}

// Speaking reports whether an utterance is currently playing.
func (s *Service) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

// Speak synthesizes and plays text, blocking until the utterance completes
// or is interrupted. The returned flag is true when Interrupt cut it short.
// Synthesis failures are logged and treated as an instant completion.
func (s *Service) Speak(ctx context.Context, text string) (interrupted bool, err error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return false, nil
	}

	s.mu.Lock()
	if s.speaking && s.cancel != nil {
		// A new utterance displaces the old one.
		s.interrupted = true
		s.cancel()
	}
	playCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.speaking = true
	s.interrupted = false
	s.utterance++
	token := s.utterance
	voice := s.voice
	speed := s.speed
	s.mu.Unlock()

	defer func() {
		cutShort := playCtx.Err() != nil && ctx.Err() == nil
		cancel()
		s.mu.Lock()
		wasInterrupted := s.interrupted
		// Only clear state that still belongs to this utterance. A
		// displacing Speak has already installed its own.
		if s.utterance == token {
			s.speaking = false
			s.cancel = nil
		}
		s.mu.Unlock()

		interrupted = wasInterrupted || cutShort
		eventType := bus.EventTypeSpeakCompleted
		if interrupted {
			eventType = bus.EventTypeSpeakInterrupted
		}
		if s.events != nil {
			s.events.Publish(bus.Event{Type: eventType, Data: map[string]any{"text": text}})
		}
	}()

	if s.events != nil {
		s.events.Publish(bus.Event{Type: bus.EventTypeSpeakStarted, Data: map[string]any{"text": text}})
	}

	var audio []byte
	format := "mp3"
	if s.synth != nil && s.synth.IsAvailable() {
		resp, synthErr := s.synth.Synthesize(playCtx, &SynthesizeRequest{
			Text:    text,
			VoiceID: voice,
			Speed:   speed,
		})
		if synthErr != nil {
			if playCtx.Err() != nil {
				return true, nil
			}
			// Resolve anyway: a broken synthesizer must not wedge the
			// conversation loop.
			s.logger.Error().Err(synthErr).Msg("Synthesis failed, skipping playback")
			return false, nil
		}
		audio = resp.Audio
		format = resp.Format
	}

	if playErr := s.playFor(playCtx, audio, format, text); playErr != nil {
		if playCtx.Err() != nil {
			return true, nil
		}
		s.logger.Error().Err(playErr).Msg("Playback failed")
	}
	return false, nil
}

func (s *Service) playFor(ctx context.Context, audio []byte, format, text string) error {
	if len(audio) == 0 {
		p := &pacedPlayer{text: text}
		return p.Play(ctx, nil, format)
	}
	if pp, ok := s.player.(*pacedPlayer); ok {
		pp.text = text
	}
	return s.player.Play(ctx, audio, format)
}

// Interrupt cuts the current utterance short. It is idempotent: calling it
// while nothing is playing does nothing, and the pending Speak call resolves
// with the interrupted flag set.
func (s *Service) Interrupt() {
	s.mu.Lock()
	if !s.speaking || s.cancel == nil {
		s.mu.Unlock()
		return
	}
	s.interrupted = true
	cancel := s.cancel
	s.mu.Unlock()

	s.logger.Debug().Msg("Utterance interrupted")
	cancel()
}

// pacedPlayer "plays" an utterance by waiting roughly as long as a person
// would take to say it. Used when there is no audio device or no audio.
type pacedPlayer struct {
	text string
}

func (p *pacedPlayer) Play(ctx context.Context, _ []byte, _ string) error {
	d := EstimateDuration(p.text)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// EstimateDuration approximates how long text takes to speak at a normal
// rate (~170 words per minute), clamped to at least 600ms.
func EstimateDuration(text string) time.Duration {
	words := len(strings.Fields(text))
	d := time.Duration(words) * time.Minute / 170
	if d < 600*time.Millisecond {
		d = 600 * time.Millisecond
	}
	return d
}
