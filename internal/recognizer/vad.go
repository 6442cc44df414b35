package recognizer

import (
	"math"
	"sync"
	"time"
)

// VAD implements voice activity detection using RMS energy analysis over
// 16-bit little-endian mono PCM.
type VAD struct {
	config *VADConfig
	mu     sync.RWMutex

	isActive   bool
	lastActive time.Time

	energyHistory []float64
	historyIndex  int
}

// VADConfig holds VAD configuration
type VADConfig struct {
	Threshold       float64 `json:"threshold"`        // Energy threshold (0-1), default 0.01
	SmoothingFrames int     `json:"smoothing_frames"` // Number of frames to smooth, default 5
	MaxSilenceMs    int     `json:"max_silence_ms"`   // Max silence before end, default 500
}

// DefaultVADConfig returns sensible defaults
func DefaultVADConfig() *VADConfig {
	return &VADConfig{
		Threshold:       0.01,
		SmoothingFrames: 5,
		MaxSilenceMs:    500,
	}
}

// VADResult is the outcome of analyzing one audio chunk.
type VADResult struct {
	IsSpeech   bool    `json:"is_speech"`
	Confidence float64 `json:"confidence"`
	RMS        float64 `json:"rms"`
}

// NewVAD creates a new VAD instance
func NewVAD(config *VADConfig) *VAD {
	if config == nil {
		config = DefaultVADConfig()
	}
	return &VAD{
		config:        config,
		energyHistory: make([]float64, config.SmoothingFrames),
	}
}

// Process analyzes one PCM chunk and returns the smoothed VAD result.
func (v *VAD) Process(pcm []byte) *VADResult {
	v.mu.Lock()
	defer v.mu.Unlock()

	rms := calculateRMS(pcm)

	v.energyHistory[v.historyIndex] = rms
	v.historyIndex = (v.historyIndex + 1) % len(v.energyHistory)

	var sum float64
	for _, e := range v.energyHistory {
		sum += e
	}
	smoothed := sum / float64(len(v.energyHistory))

	isSpeech := smoothed >= v.config.Threshold

	if isSpeech {
		v.isActive = true
		v.lastActive = time.Now()
	} else if v.isActive {
		// Hold the active flag through brief pauses within an utterance.
		if time.Since(v.lastActive) > time.Duration(v.config.MaxSilenceMs)*time.Millisecond {
			v.isActive = false
		} else {
			isSpeech = true
		}
	}

	confidence := 0.5
	if isSpeech {
		confidence = math.Min(1.0, 0.5+(smoothed-v.config.Threshold)*10)
	} else {
		confidence = math.Max(0.0, 0.5-(v.config.Threshold-smoothed)*10)
	}

	return &VADResult{IsSpeech: isSpeech, Confidence: confidence, RMS: smoothed}
}

// IsActive returns whether speech is currently detected
func (v *VAD) IsActive() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.isActive
}

// Reset clears VAD state
func (v *VAD) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.isActive = false
	v.historyIndex = 0
	for i := range v.energyHistory {
		v.energyHistory[i] = 0
	}
}

// calculateRMS computes root mean square energy of 16-bit signed PCM,
// normalized to [0,1].
func calculateRMS(pcm []byte) float64 {
	if len(pcm) < 2 {
		return 0
	}
	var sum float64
	var count int
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		normalized := float64(sample) / 32768.0
		sum += normalized * normalized
		count++
	}
	if count == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(count))
}
