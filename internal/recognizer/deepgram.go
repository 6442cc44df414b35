package recognizer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	deepgramWSEndpoint = "wss://api.deepgram.com/v1/listen"
	deepgramModel      = "nova-2"
)

// DeepgramAdapter is a continuous streaming recognizer over the Deepgram
// WebSocket API. It is the primary speech capture primitive; the supervisor
// owns its lifecycle and replaces it with the local detector when it fails
// systemically.
type DeepgramAdapter struct {
	apiKey   string
	endpoint string
	opts     Options
	logger   zerolog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	running bool
	stopped bool
	stopCh  chan struct{}

	events   Events
	eventsMu sync.RWMutex
}

// NewDeepgramAdapter creates the streaming adapter. An empty apiKey falls
// back to the DEEPGRAM_API_KEY environment variable.
func NewDeepgramAdapter(apiKey string, opts Options, logger zerolog.Logger) *DeepgramAdapter {
	if apiKey == "" {
		apiKey = os.Getenv("DEEPGRAM_API_KEY")
	}
	return &DeepgramAdapter{
		apiKey:   apiKey,
		endpoint: deepgramWSEndpoint,
		opts:     opts,
		logger:   logger.With().Str("component", "recognizer-deepgram").Logger(),
	}
}

// SetEndpoint overrides the WebSocket endpoint (used by tests).
func (a *DeepgramAdapter) SetEndpoint(url string) { a.endpoint = url }

// IsAvailable reports whether the adapter has credentials.
func (a *DeepgramAdapter) IsAvailable() bool { return a.apiKey != "" }

// SetEvents installs the lifecycle callbacks.
func (a *DeepgramAdapter) SetEvents(ev Events) {
	a.eventsMu.Lock()
	a.events = ev
	a.eventsMu.Unlock()
}

func (a *DeepgramAdapter) callbacks() Events {
	a.eventsMu.RLock()
	defer a.eventsMu.RUnlock()
	return a.events
}

type deepgramMessage struct {
	Type        string          `json:"type"`
	Duration    float64         `json:"duration,omitempty"`
	IsFinal     bool            `json:"is_final,omitempty"`
	SpeechFinal bool            `json:"speech_final,omitempty"`
	Channel     deepgramChannel `json:"channel,omitempty"`
}

type deepgramChannel struct {
	Alternatives []deepgramAlternative `json:"alternatives,omitempty"`
}

type deepgramAlternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

// Start connects and begins streaming results to the installed callbacks.
func (a *DeepgramAdapter) Start(ctx context.Context) error {
	if a.apiKey == "" {
		return fmt.Errorf("deepgram API key not configured")
	}

	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return ErrAlreadyStarted
	}

	lang := a.opts.Language
	if lang == "" {
		lang = "en-US"
	}
	rate := a.opts.SampleRate
	if rate == 0 {
		rate = 16000
	}

	url := fmt.Sprintf("%s?model=%s&language=%s&encoding=linear16&sample_rate=%d&channels=1&punctuate=true&interim_results=%t",
		a.endpoint, deepgramModel, lang, rate, a.opts.InterimResults)

	header := http.Header{}
	header.Set("Authorization", "Token "+a.apiKey)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		a.mu.Unlock()
		if resp != nil {
			a.logger.Error().Int("status", resp.StatusCode).Err(err).Msg("WebSocket connection failed")
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				return fmt.Errorf("recognizer auth rejected: %w", err)
			}
		}
		return fmt.Errorf("websocket dial: %w", err)
	}

	a.conn = conn
	a.running = true
	a.stopped = false
	a.stopCh = make(chan struct{})
	a.mu.Unlock()

	a.logger.Info().Str("language", lang).Msg("Streaming recognition started")

	// Callbacks are bound once per session so a loop outliving a restart
	// still reports through the handlers it started with.
	ev := a.callbacks()
	if ev.OnStart != nil {
		ev.OnStart()
	}

	go a.readResults(ctx, ev)
	return nil
}

// readResults pumps messages off the socket until it closes, then reports
// OnEnd (or OnError for abnormal closure).
func (a *DeepgramAdapter) readResults(ctx context.Context, ev Events) {
	var readErr error
	for {
		select {
		case <-ctx.Done():
			readErr = ctx.Err()
		case <-a.stopCh:
		default:
			a.mu.Lock()
			conn := a.conn
			a.mu.Unlock()
			if conn == nil {
				break
			}
			_, message, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					readErr = err
				}
				break
			}
			a.processMessage(ev, message)
			continue
		}
		break
	}

	a.mu.Lock()
	wasRunning := a.running
	a.running = false
	if a.conn != nil {
		_ = a.conn.Close()
		a.conn = nil
	}
	intentional := false
	select {
	case <-a.stopCh:
		intentional = true
	default:
	}
	a.mu.Unlock()

	if !wasRunning {
		return
	}

	if readErr != nil && !intentional {
		if ev.OnError != nil {
			ev.OnError(classifyError(readErr), readErr)
		}
	} else if readErr != nil && intentional {
		if ev.OnError != nil {
			ev.OnError(ErrorAborted, readErr)
		}
	}
	if ev.OnEnd != nil {
		ev.OnEnd()
	}
}

func (a *DeepgramAdapter) processMessage(ev Events, message []byte) {
	var msg deepgramMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to parse recognizer message")
		return
	}

	switch msg.Type {
	case "Results":
		if len(msg.Channel.Alternatives) == 0 {
			return
		}
		alt := msg.Channel.Alternatives[0]
		if alt.Transcript == "" {
			return
		}
		if ev.OnResult != nil {
			ev.OnResult(Result{
				Text:       alt.Transcript,
				Confidence: alt.Confidence,
				IsFinal:    msg.IsFinal || msg.SpeechFinal,
			})
		}
	case "UtteranceEnd":
		a.logger.Debug().Msg("Utterance end")
	case "Error":
		a.logger.Error().Str("message", string(message)).Msg("Recognizer error message")
		if ev.OnError != nil {
			ev.OnError(ErrorUnknown, fmt.Errorf("recognizer: %s", message))
		}
	}
}

// SendAudio feeds PCM to the socket.
func (a *DeepgramAdapter) SendAudio(pcm []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running || a.conn == nil {
		return ErrNotStarted
	}
	return a.conn.WriteMessage(websocket.BinaryMessage, pcm)
}

// Stop closes the stream. The read loop reports OnEnd. Stop marks the
// session closed itself, so overlapping calls before the read loop's
// cleanup are no-ops.
func (a *DeepgramAdapter) Stop() error {
	a.mu.Lock()
	if !a.running || a.stopped || a.conn == nil {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	close(a.stopCh)
	closeMsg := []byte(`{"type": "CloseStream"}`)
	if err := a.conn.WriteMessage(websocket.TextMessage, closeMsg); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to send close message")
	}
	err := a.conn.Close()
	a.mu.Unlock()
	return err
}

// classifyError maps transport errors to the supervisor's taxonomy.
func classifyError(err error) ErrorKind {
	if err == nil {
		return ErrorUnknown
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection"), strings.Contains(msg, "network"),
		strings.Contains(msg, "timeout"), strings.Contains(msg, "broken pipe"),
		strings.Contains(msg, "reset by peer"), strings.Contains(msg, "eof"):
		return ErrorNetwork
	case strings.Contains(msg, "permission"), strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "forbidden"):
		return ErrorNotAllowed
	}
	return ErrorUnknown
}
