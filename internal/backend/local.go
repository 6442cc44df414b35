package backend

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Responder answers spoken commands. The channel, the REST client, and the
// offline responder all satisfy it.
type Responder interface {
	Ask(ctx context.Context, text, threadID string) (Reply, error)
}

// LocalResponder answers from a small set of canned intents so the assistant
// still talks when no agent service is reachable. It is the last rung of the
// fallback ladder: socket, then REST, then this.
type LocalResponder struct {
	logger zerolog.Logger
	nowFn  func() time.Time
}

// NewLocalResponder creates the offline responder
func NewLocalResponder(logger zerolog.Logger) *LocalResponder {
	return &LocalResponder{
		logger: logger.With().Str("component", "backend-local").Logger(),
		nowFn:  time.Now,
	}
}

// Ask produces a canned reply. It never fails.
func (r *LocalResponder) Ask(_ context.Context, text, _ string) (Reply, error) {
	start := time.Now()
	reply := r.respond(strings.ToLower(strings.TrimSpace(text)))
	r.logger.Debug().Str("command", text).Msg("Answered locally")
	return Reply{Text: reply, Latency: time.Since(start)}, nil
}

func (r *LocalResponder) respond(cmd string) string {
	switch {
	case containsAny(cmd, "hello", "hi ", "hey "), cmd == "hi", cmd == "hey":
		return "Hello! How can I help you?"

	case strings.Contains(cmd, "time"):
		return fmt.Sprintf("It's %s.", r.nowFn().Format("3:04 PM"))

	case strings.Contains(cmd, "date") || strings.Contains(cmd, "day is it") || strings.Contains(cmd, "today"):
		return fmt.Sprintf("Today is %s.", r.nowFn().Format("Monday, January 2"))

	case containsAny(cmd, "help", "what can you do"):
		return "I can tell you the time and date, and chat with you. When my agent service is connected I can do a lot more."

	case containsAny(cmd, "thank", "thanks"):
		return "You're welcome!"

	case containsAny(cmd, "goodbye", "bye", "see you"):
		return "Goodbye! Talk to you later."

	case containsAny(cmd, "who are you", "your name", "what are you"):
		return "I'm Luna, your voice assistant."

	default:
		return fmt.Sprintf("I heard you say: %s. My agent service isn't connected right now, so that's all I can do with it.", cmd)
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
