package backend

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testResponder() *LocalResponder {
	r := NewLocalResponder(zerolog.Nop())
	r.nowFn = func() time.Time {
		return time.Date(2025, time.March, 14, 15, 4, 0, 0, time.UTC)
	}
	return r
}

func TestLocalResponder_CannedIntents(t *testing.T) {
	r := testResponder()

	tests := []struct {
		command string
		expect  string
	}{
		{"hello", "Hello!"},
		{"hi", "Hello!"},
		{"what time is it", "3:04 PM"},
		{"what's the date", "Friday, March 14"},
		{"what day is it", "Friday, March 14"},
		{"help", "time and date"},
		{"what can you do", "time and date"},
		{"thank you", "welcome"},
		{"thanks a lot", "welcome"},
		{"goodbye", "Goodbye"},
		{"see you later", "Goodbye"},
		{"who are you", "Luna"},
		{"what is your name", "Luna"},
	}

	for _, tc := range tests {
		reply, err := r.Ask(context.Background(), tc.command, "thread-1")
		if err != nil {
			t.Fatalf("Ask(%q) failed: %v", tc.command, err)
		}
		if !strings.Contains(reply.Text, tc.expect) {
			t.Errorf("Ask(%q) = %q, expected to contain %q", tc.command, reply.Text, tc.expect)
		}
	}
}

func TestLocalResponder_UnknownEchoesCommand(t *testing.T) {
	r := testResponder()

	reply, err := r.Ask(context.Background(), "order a pizza", "thread-1")
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if !strings.Contains(reply.Text, "order a pizza") {
		t.Errorf("unknown command should be echoed back, got %q", reply.Text)
	}
	if !strings.Contains(reply.Text, "isn't connected") {
		t.Errorf("unknown command should explain the offline state, got %q", reply.Text)
	}
}

func TestLocalResponder_NeverFails(t *testing.T) {
	r := testResponder()
	for _, cmd := range []string{"", "    ", "???"} {
		if _, err := r.Ask(context.Background(), cmd, ""); err != nil {
			t.Errorf("Ask(%q) returned error: %v", cmd, err)
		}
	}
}
