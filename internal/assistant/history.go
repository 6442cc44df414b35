package assistant

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"
)

// Exchange is one user/assistant turn.
type Exchange struct {
	UserText      string    `json:"userText"`
	AssistantText string    `json:"assistantText"`
	Timestamp     time.Time `json:"timestamp"`
}

// HistoryConfig configures conversation history retention.
type HistoryConfig struct {
	// MaxExchanges is the maximum number of exchanges to retain (default: 10)
	MaxExchanges int
	// InactivityTimeout is the duration after which context expires (default: 5 minutes)
	InactivityTimeout time.Duration
}

// DefaultHistoryConfig returns sensible defaults.
func DefaultHistoryConfig() HistoryConfig {
	return HistoryConfig{
		MaxExchanges:      10,
		InactivityTimeout: 5 * time.Minute,
	}
}

// History tracks recent exchanges so the assistant can tell when a command
// is a follow-up that should stay on the same conversation thread.
type History struct {
	mu           sync.RWMutex
	exchanges    []Exchange
	lastActivity time.Time
	config       HistoryConfig
}

var followUpWords = []string{
	// Pronouns referencing previous context
	"it", "that", "this", "they", "them", "those", "these",
	// Reference words
	"again", "also", "too", "more", "another", "same",
	// Continuations
	"what about", "how about",
	// Explicit references
	"you said", "you mentioned", "earlier", "before", "previous",
	"last time", "just now", "a moment ago",
	// Questions about prior content
	"why", "how come", "what do you mean", "can you explain",
	"tell me more", "go on", "continue",
}

// NewHistory creates conversation history with the given config.
func NewHistory(config HistoryConfig) *History {
	if config.MaxExchanges <= 0 {
		config.MaxExchanges = 10
	}
	if config.InactivityTimeout <= 0 {
		config.InactivityTimeout = 5 * time.Minute
	}
	return &History{
		exchanges:    make([]Exchange, 0, config.MaxExchanges),
		lastActivity: time.Now(),
		config:       config,
	}
}

// Add records a user/assistant exchange, trimming to MaxExchanges.
func (h *History) Add(userText, assistantText string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.expiredLocked() {
		h.exchanges = h.exchanges[:0]
	}

	h.exchanges = append(h.exchanges, Exchange{
		UserText:      userText,
		AssistantText: assistantText,
		Timestamp:     time.Now(),
	})
	h.lastActivity = time.Now()

	if len(h.exchanges) > h.config.MaxExchanges {
		h.exchanges = h.exchanges[len(h.exchanges)-h.config.MaxExchanges:]
	}
}

// Context returns the recent exchanges formatted for the agent, or "" when
// history is empty or expired.
func (h *History) Context() string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.expiredLocked() || len(h.exchanges) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Previous conversation:\n")
	for _, ex := range h.exchanges {
		fmt.Fprintf(&sb, "User: %s\n", ex.UserText)
		reply := ex.AssistantText
		if len(reply) > 200 {
			reply = reply[:200] + "..."
		}
		fmt.Fprintf(&sb, "Assistant: %s\n", reply)
	}
	return sb.String()
}

// IsFollowUp reports whether text references the prior conversation.
func (h *History) IsFollowUp(text string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.exchanges) == 0 || h.expiredLocked() {
		return false
	}

	lower := strings.ToLower(text)

	for _, word := range followUpWords {
		if len(word) <= 4 {
			// Short words like "it" need word boundaries.
			pattern := `\b` + regexp.QuoteMeta(word) + `\b`
			if matched, _ := regexp.MatchString(pattern, lower); matched {
				return true
			}
		} else if strings.Contains(lower, word) {
			return true
		}
	}

	for _, start := range []string{"and ", "but ", "so ", "also ", "then ", "ok ", "okay "} {
		if strings.HasPrefix(lower, start) {
			return true
		}
	}

	shortQuestions := []string{"why?", "how?", "what?", "really?", "yes?", "no?"}
	return slices.Contains(shortQuestions, strings.TrimSpace(lower))
}

// Count returns the number of stored exchanges.
func (h *History) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.exchanges)
}

// Clear drops all history.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.exchanges = h.exchanges[:0]
}

// Touch refreshes the activity clock without recording an exchange.
func (h *History) Touch() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastActivity = time.Now()
}

// Exchanges returns a copy of the retained exchanges.
func (h *History) Exchanges() []Exchange {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.expiredLocked() {
		return nil
	}
	out := make([]Exchange, len(h.exchanges))
	copy(out, h.exchanges)
	return out
}

func (h *History) expiredLocked() bool {
	if len(h.exchanges) == 0 {
		return false
	}
	return time.Since(h.lastActivity) > h.config.InactivityTimeout
}
