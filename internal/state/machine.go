// Package state implements the assistant conversation state machine.
package state

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Assistant is the conversation state of the assistant. Exactly one state is
// active at any instant.
type Assistant string

const (
	StateIdle      Assistant = "idle"
	StateWaking    Assistant = "waking"
	StateListening Assistant = "listening"
	StateThinking  Assistant = "thinking"
	StateSpeaking  Assistant = "speaking"
	StateError     Assistant = "error"
)

// Valid reports whether s is a member of the state enum.
func (s Assistant) Valid() bool {
	switch s {
	case StateIdle, StateWaking, StateListening, StateThinking, StateSpeaking, StateError:
		return true
	}
	return false
}

// transitions is the legal transition table. Beyond the conversational flow
// it includes the recovery edges the controller needs: any state may enter
// Error, Error recovers to Idle or Listening, and Speaking is reachable from
// Idle/Listening so late backend responses can still be spoken.
var transitions = map[Assistant][]Assistant{
	StateIdle:      {StateWaking, StateThinking, StateSpeaking, StateError},
	StateWaking:    {StateListening, StateThinking, StateIdle, StateError},
	StateListening: {StateThinking, StateSpeaking, StateIdle, StateError},
	StateThinking:  {StateSpeaking, StateIdle, StateError},
	StateSpeaking:  {StateIdle, StateListening, StateError},
	StateError:     {StateIdle, StateListening},
}

// CanTransition reports whether from -> to is a legal transition.
// Entering Error is always legal.
func CanTransition(from, to Assistant) bool {
	if to == StateError {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionDuration is a presentation-timing hint for the rendering layer:
// how long the visual transition into the given state should take. It is not
// used for control flow.
func TransitionDuration(to Assistant) time.Duration {
	switch to {
	case StateIdle:
		return 1000 * time.Millisecond
	case StateWaking:
		return 600 * time.Millisecond
	case StateListening:
		return 400 * time.Millisecond
	case StateThinking:
		return 800 * time.Millisecond
	case StateSpeaking:
		return 500 * time.Millisecond
	case StateError:
		return 300 * time.Millisecond
	}
	return 0
}

// TransitionRecord captures a single accepted transition for diagnostics.
type TransitionRecord struct {
	From    Assistant      `json:"from"`
	To      Assistant      `json:"to"`
	At      time.Time      `json:"at"`
	Context map[string]any `json:"context,omitempty"`
}

// maxHistory bounds the transition record ring.
const maxHistory = 50

// Change is delivered to subscribers on every accepted transition.
type Change struct {
	From     Assistant
	To       Assistant
	Duration time.Duration
	Context  map[string]any
}

// Listener receives state changes.
type Listener func(Change)

// Subscription keys: KeyStateChange fires on every transition;
// "state:<s>" fires when <s> is entered; "from:<s>" fires when <s> is left;
// "settled:<s>" fires once the presentation transition into <s> has elapsed.
const KeyStateChange = "stateChange"

// KeyEnter returns the subscription key for entering s.
func KeyEnter(s Assistant) string { return "state:" + string(s) }

// KeyLeave returns the subscription key for leaving s.
func KeyLeave(s Assistant) string { return "from:" + string(s) }

// KeySettled returns the subscription key for the deferred post-transition
// notification of s.
func KeySettled(s Assistant) string { return "settled:" + string(s) }

// Machine owns the assistant state. All mutation goes through SetState;
// transitions are processed in call order and subscriber notifications for
// the synchronous keys run before SetState returns.
type Machine struct {
	mu        sync.Mutex
	current   Assistant
	previous  Assistant
	history   []TransitionRecord
	listeners map[string][]Listener
	logger    zerolog.Logger

	// nowFn and afterFn are swappable for tests.
	nowFn   func() time.Time
	afterFn func(time.Duration, func()) *time.Timer
}

// NewMachine creates a state machine starting in Idle.
func NewMachine(logger zerolog.Logger) *Machine {
	return &Machine{
		current:   StateIdle,
		previous:  StateIdle,
		history:   make([]TransitionRecord, 0, maxHistory),
		listeners: make(map[string][]Listener),
		logger:    logger.With().Str("component", "state").Logger(),
		nowFn:     time.Now,
		afterFn:   time.AfterFunc,
	}
}

// Current returns the active state.
func (m *Machine) Current() Assistant {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Previous returns the state before the last accepted transition.
func (m *Machine) Previous() Assistant {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.previous
}

// Is reports whether the active state equals s.
func (m *Machine) Is(s Assistant) bool {
	return m.Current() == s
}

// History returns a copy of the retained transition records, oldest first.
func (m *Machine) History() []TransitionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TransitionRecord, len(m.history))
	copy(out, m.history)
	return out
}

// Subscribe registers a listener for the given key and returns an
// unsubscribe function.
func (m *Machine) Subscribe(key string, fn Listener) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners[key] = append(m.listeners[key], fn)
	idx := len(m.listeners[key]) - 1
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		ls := m.listeners[key]
		if idx < len(ls) && ls[idx] != nil {
			ls[idx] = nil
		}
	}
}

// SetState transitions to newState. It is a no-op when newState equals the
// current state. It returns an error for values outside the enum and for
// transitions outside the legal table; neither mutates state.
func (m *Machine) SetState(newState Assistant, context map[string]any) error {
	m.mu.Lock()

	if !newState.Valid() {
		m.mu.Unlock()
		m.logger.Error().Str("state", string(newState)).Msg("rejected unknown state")
		return fmt.Errorf("state: unknown state %q", newState)
	}
	if newState == m.current {
		m.mu.Unlock()
		return nil
	}
	if !CanTransition(m.current, newState) {
		from := m.current
		m.mu.Unlock()
		m.logger.Error().
			Str("from", string(from)).
			Str("to", string(newState)).
			Msg("rejected illegal transition")
		return fmt.Errorf("state: illegal transition %s -> %s", from, newState)
	}

	from := m.current
	m.previous = from
	m.current = newState

	m.history = append(m.history, TransitionRecord{
		From:    from,
		To:      newState,
		At:      m.nowFn(),
		Context: context,
	})
	if len(m.history) > maxHistory {
		m.history = m.history[len(m.history)-maxHistory:]
	}

	duration := TransitionDuration(newState)
	change := Change{From: from, To: newState, Duration: duration, Context: context}

	sync := make([]Listener, 0, 8)
	sync = append(sync, m.listenersLocked(KeyStateChange)...)
	sync = append(sync, m.listenersLocked(KeyEnter(newState))...)
	sync = append(sync, m.listenersLocked(KeyLeave(from))...)
	settled := m.listenersLocked(KeySettled(newState))
	m.mu.Unlock()

	m.logger.Debug().
		Str("from", string(from)).
		Str("to", string(newState)).
		Dur("duration", duration).
		Msg("state transition")

	// Synchronous keys run before SetState returns so observers always see
	// a state consistent with the point in logic that triggered it.
	for _, fn := range sync {
		fn(change)
	}

	// Deferred post-transition notification, fire-and-forget.
	if len(settled) > 0 {
		m.afterFn(duration, func() {
			for _, fn := range settled {
				fn(change)
			}
		})
	}

	return nil
}

// listenersLocked snapshots non-nil listeners for key. Caller holds mu.
func (m *Machine) listenersLocked(key string) []Listener {
	ls := m.listeners[key]
	out := make([]Listener, 0, len(ls))
	for _, fn := range ls {
		if fn != nil {
			out = append(out, fn)
		}
	}
	return out
}
