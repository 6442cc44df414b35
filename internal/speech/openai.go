package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// OpenAI TTS voices - all very natural sounding
const (
	VoiceAlloy   = "alloy"   // Neutral, balanced
	VoiceEcho    = "echo"    // Male, warm
	VoiceFable   = "fable"   // British, expressive
	VoiceOnyx    = "onyx"    // Male, deep
	VoiceNova    = "nova"    // Female, warm and natural (recommended)
	VoiceShimmer = "shimmer" // Female, clear and bright
)

// OpenAISynthesizer implements Synthesizer using OpenAI's TTS API.
type OpenAISynthesizer struct {
	apiKey   string
	endpoint string
	client   *http.Client
	logger   zerolog.Logger
	config   *OpenAIConfig
}

// OpenAIConfig holds OpenAI TTS configuration
type OpenAIConfig struct {
	APIKey       string        `json:"api_key"`
	Model        string        `json:"model"`         // tts-1 or tts-1-hd
	DefaultVoice string        `json:"default_voice"` // alloy, echo, fable, onyx, nova, shimmer
	Speed        float64       `json:"speed"`         // 0.25 to 4.0
	Timeout      time.Duration `json:"timeout"`
}

// DefaultOpenAIConfig returns sensible defaults
func DefaultOpenAIConfig() *OpenAIConfig {
	return &OpenAIConfig{
		Model:        "tts-1", // Fast, good quality
		DefaultVoice: VoiceNova,
		Speed:        1.0,
		Timeout:      30 * time.Second,
	}
}

// NewOpenAISynthesizer creates a new OpenAI synthesizer. An empty API key
// falls back to the OPENAI_API_KEY environment variable.
func NewOpenAISynthesizer(logger zerolog.Logger, config *OpenAIConfig) *OpenAISynthesizer {
	if config == nil {
		config = DefaultOpenAIConfig()
	}

	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}

	return &OpenAISynthesizer{
		apiKey:   apiKey,
		endpoint: "https://api.openai.com/v1/audio/speech",
		client:   &http.Client{Timeout: config.Timeout},
		logger:   logger.With().Str("provider", "openai-tts").Logger(),
		config:   config,
	}
}

// Name returns the synthesizer identifier
func (p *OpenAISynthesizer) Name() string {
	return "openai"
}

// IsAvailable checks if the synthesizer has an API key configured
func (p *OpenAISynthesizer) IsAvailable() bool {
	return p.apiKey != ""
}

// SetEndpoint overrides the API endpoint (used by tests).
func (p *OpenAISynthesizer) SetEndpoint(url string) {
	p.endpoint = url
}

// openAITTSRequest is the request format for OpenAI TTS API
type openAITTSRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format,omitempty"`
	Speed          float64 `json:"speed,omitempty"`
}

// Synthesize converts text to audio using OpenAI TTS
func (p *OpenAISynthesizer) Synthesize(ctx context.Context, req *SynthesizeRequest) (*SynthesizeResponse, error) {
	if p.apiKey == "" {
		return nil, ErrSynthUnavailable
	}

	startTime := time.Now()

	voiceID := req.VoiceID
	if voiceID == "" {
		voiceID = p.config.DefaultVoice
	}

	speed := req.Speed
	if speed == 0 {
		speed = p.config.Speed
	}

	ttsReq := openAITTSRequest{
		Model:          p.config.Model,
		Input:          req.Text,
		Voice:          p.resolveVoice(voiceID),
		ResponseFormat: "mp3",
		Speed:          speed,
	}

	body, err := json.Marshal(ttsReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	p.logger.Debug().
		Str("voice", ttsReq.Voice).
		Str("model", p.config.Model).
		Int("textLen", len(req.Text)).
		Msg("Sending TTS request")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		p.logger.Error().
			Int("status", resp.StatusCode).
			Str("body", string(bodyBytes)).
			Msg("TTS request failed")
		return nil, fmt.Errorf("openai tts error: %s", string(bodyBytes))
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	processingTime := time.Since(startTime)

	p.logger.Info().
		Str("voice", ttsReq.Voice).
		Int("audioBytes", len(audioData)).
		Dur("processingTime", processingTime).
		Msg("Speech synthesis complete")

	return &SynthesizeResponse{
		Audio:          audioData,
		Format:         "mp3",
		SampleRate:     24000, // OpenAI TTS uses 24kHz
		ProcessingTime: processingTime,
		VoiceID:        voiceID,
		Provider:       p.Name(),
	}, nil
}

// resolveVoice maps a requested voice to a real OpenAI voice, falling back
// to the configured default for anything unknown.
func (p *OpenAISynthesizer) resolveVoice(voiceID string) string {
	switch voiceID {
	case VoiceAlloy, VoiceEcho, VoiceFable, VoiceOnyx, VoiceNova, VoiceShimmer:
		return voiceID
	}
	voices, _ := PickVoice(builtinVoices, voiceID)
	if voices != "" {
		return voices
	}
	return p.config.DefaultVoice
}

var builtinVoices = []Voice{
	{ID: VoiceNova, Name: "Nova (Female, Warm)", Language: "en", Gender: "female"},
	{ID: VoiceShimmer, Name: "Shimmer (Female, Clear)", Language: "en", Gender: "female"},
	{ID: VoiceAlloy, Name: "Alloy (Neutral)", Language: "en", Gender: "neutral"},
	{ID: VoiceEcho, Name: "Echo (Male, Warm)", Language: "en", Gender: "male"},
	{ID: VoiceOnyx, Name: "Onyx (Male, Deep)", Language: "en", Gender: "male"},
	{ID: VoiceFable, Name: "Fable (British)", Language: "en", Gender: "neutral"},
}

// ListVoices returns available OpenAI voices
func (p *OpenAISynthesizer) ListVoices(ctx context.Context) ([]Voice, error) {
	return builtinVoices, nil
}
