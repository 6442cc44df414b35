package state

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestMachine() *Machine {
	return NewMachine(zerolog.Nop())
}

func TestMachine_InitialState(t *testing.T) {
	m := newTestMachine()

	if m.Current() != StateIdle {
		t.Errorf("expected initial state idle, got %s", m.Current())
	}
	if len(m.History()) != 0 {
		t.Errorf("expected empty history, got %d records", len(m.History()))
	}
}

func TestAssistant_Valid(t *testing.T) {
	for _, s := range []Assistant{StateIdle, StateWaking, StateListening, StateThinking, StateSpeaking, StateError} {
		if !s.Valid() {
			t.Errorf("expected %s to be valid", s)
		}
	}
	if Assistant("sleeping").Valid() {
		t.Error("expected unknown state to be invalid")
	}
	if Assistant("").Valid() {
		t.Error("expected empty state to be invalid")
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Assistant
		want     bool
	}{
		{StateIdle, StateWaking, true},
		{StateIdle, StateThinking, true}, // inline wake command skips listening
		{StateWaking, StateListening, true},
		{StateListening, StateThinking, true},
		{StateThinking, StateSpeaking, true},
		{StateSpeaking, StateListening, true}, // interruption path
		{StateSpeaking, StateIdle, true},
		{StateError, StateListening, true},
		{StateWaking, StateSpeaking, false},
		{StateThinking, StateListening, false},
		{StateIdle, StateListening, false},
	}

	for _, tc := range tests {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestCanTransition_ErrorAlwaysReachable(t *testing.T) {
	for _, from := range []Assistant{StateIdle, StateWaking, StateListening, StateThinking, StateSpeaking} {
		if !CanTransition(from, StateError) {
			t.Errorf("expected %s -> error to be legal", from)
		}
	}
}

func TestTransitionDuration(t *testing.T) {
	tests := []struct {
		to   Assistant
		want time.Duration
	}{
		{StateIdle, 1000 * time.Millisecond},
		{StateWaking, 600 * time.Millisecond},
		{StateListening, 400 * time.Millisecond},
		{StateThinking, 800 * time.Millisecond},
		{StateSpeaking, 500 * time.Millisecond},
		{StateError, 300 * time.Millisecond},
	}
	for _, tc := range tests {
		if got := TransitionDuration(tc.to); got != tc.want {
			t.Errorf("TransitionDuration(%s) = %v, want %v", tc.to, got, tc.want)
		}
	}
}

func TestMachine_SetState(t *testing.T) {
	m := newTestMachine()

	if err := m.SetState(StateWaking, nil); err != nil {
		t.Fatalf("idle -> waking failed: %v", err)
	}
	if m.Current() != StateWaking {
		t.Errorf("expected waking, got %s", m.Current())
	}
	if m.Previous() != StateIdle {
		t.Errorf("expected previous idle, got %s", m.Previous())
	}
}

func TestMachine_SetState_SameStateIsNoOp(t *testing.T) {
	m := newTestMachine()

	calls := 0
	m.Subscribe(KeyStateChange, func(Change) { calls++ })

	if err := m.SetState(StateIdle, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 0 {
		t.Errorf("expected no notifications for same-state set, got %d", calls)
	}
	if len(m.History()) != 0 {
		t.Error("expected no history record for same-state set")
	}
}

func TestMachine_SetState_RejectsIllegalTransition(t *testing.T) {
	m := newTestMachine()

	if err := m.SetState(StateListening, nil); err == nil {
		t.Error("expected idle -> listening to be rejected")
	}
	if m.Current() != StateIdle {
		t.Errorf("state should be unchanged after rejection, got %s", m.Current())
	}
}

func TestMachine_SetState_RejectsUnknownState(t *testing.T) {
	m := newTestMachine()

	if err := m.SetState(Assistant("dreaming"), nil); err == nil {
		t.Error("expected unknown state to be rejected")
	}
}

func TestMachine_SubscriberKeys(t *testing.T) {
	m := newTestMachine()

	var got []string
	m.Subscribe(KeyStateChange, func(ch Change) {
		got = append(got, "stateChange:"+string(ch.To))
	})
	m.Subscribe(KeyEnter(StateWaking), func(Change) {
		got = append(got, "enter")
	})
	m.Subscribe(KeyLeave(StateIdle), func(Change) {
		got = append(got, "leave")
	})

	if err := m.SetState(StateWaking, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Notifications run synchronously before SetState returns.
	if len(got) != 3 {
		t.Fatalf("expected 3 notifications, got %d: %v", len(got), got)
	}
	if got[0] != "stateChange:waking" {
		t.Errorf("expected stateChange first, got %s", got[0])
	}
}

func TestMachine_SubscribeUnsubscribe(t *testing.T) {
	m := newTestMachine()

	calls := 0
	unsub := m.Subscribe(KeyStateChange, func(Change) { calls++ })

	_ = m.SetState(StateWaking, nil)
	unsub()
	_ = m.SetState(StateListening, nil)

	if calls != 1 {
		t.Errorf("expected 1 call after unsubscribe, got %d", calls)
	}
}

func TestMachine_SettledNotificationIsDeferred(t *testing.T) {
	m := newTestMachine()

	var deferred []func()
	m.afterFn = func(d time.Duration, fn func()) *time.Timer {
		if d != TransitionDuration(StateWaking) {
			t.Errorf("expected settle delay %v, got %v", TransitionDuration(StateWaking), d)
		}
		deferred = append(deferred, fn)
		return time.NewTimer(time.Hour)
	}

	settled := false
	m.Subscribe(KeySettled(StateWaking), func(Change) { settled = true })

	if err := m.SetState(StateWaking, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settled {
		t.Error("settled notification should not fire synchronously")
	}

	for _, fn := range deferred {
		fn()
	}
	if !settled {
		t.Error("expected settled notification after the transition duration")
	}
}

func TestMachine_HistoryRecordsTransitions(t *testing.T) {
	m := newTestMachine()

	_ = m.SetState(StateWaking, map[string]any{"reason": "wake phrase"})
	_ = m.SetState(StateListening, nil)

	hist := m.History()
	if len(hist) != 2 {
		t.Fatalf("expected 2 records, got %d", len(hist))
	}
	if hist[0].From != StateIdle || hist[0].To != StateWaking {
		t.Errorf("unexpected first record: %+v", hist[0])
	}
	if hist[0].Context["reason"] != "wake phrase" {
		t.Error("expected context to be recorded")
	}
	if hist[1].From != StateWaking || hist[1].To != StateListening {
		t.Errorf("unexpected second record: %+v", hist[1])
	}
}

func TestMachine_HistoryIsBounded(t *testing.T) {
	m := newTestMachine()

	// Bounce between waking and idle well past the cap.
	for i := 0; i < 60; i++ {
		_ = m.SetState(StateWaking, nil)
		_ = m.SetState(StateIdle, nil)
	}

	hist := m.History()
	if len(hist) != maxHistory {
		t.Errorf("expected history capped at %d, got %d", maxHistory, len(hist))
	}
	// The newest record survives trimming.
	last := hist[len(hist)-1]
	if last.To != StateIdle {
		t.Errorf("expected newest record to be -> idle, got %+v", last)
	}
}

func TestMachine_Is(t *testing.T) {
	m := newTestMachine()
	if !m.Is(StateIdle) {
		t.Error("expected Is(idle) = true")
	}
	_ = m.SetState(StateWaking, nil)
	if m.Is(StateIdle) {
		t.Error("expected Is(idle) = false after transition")
	}
}
