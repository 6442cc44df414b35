package wake

import (
	"regexp"
	"strings"
	"sync"
)

// DefaultFillerWords contains common English filler words stripped from
// transcripts before wake matching and command dispatch.
var DefaultFillerWords = []string{
	"um", "uh", "uhh", "umm",
	"er", "ah", "hmm", "mm",
}

// Filter strips filler words and noise from recognizer transcripts.
type Filter struct {
	mu          sync.RWMutex
	fillerWords map[string]struct{}
	pattern     *regexp.Regexp
}

var (
	spacePattern = regexp.MustCompile(`\s+`)
	punctPattern = regexp.MustCompile(`^[.,!?;:\s]+$`)
)

// NewFilter creates a filter with the given filler words. If fillerWords is
// nil, DefaultFillerWords is used.
func NewFilter(fillerWords []string) *Filter {
	if fillerWords == nil {
		fillerWords = DefaultFillerWords
	}

	f := &Filter{
		fillerWords: make(map[string]struct{}, len(fillerWords)),
	}
	for _, word := range fillerWords {
		f.fillerWords[strings.ToLower(word)] = struct{}{}
	}
	f.buildPattern()
	return f
}

// buildPattern compiles the filler words into one case-insensitive pattern
// with word boundaries.
func (f *Filter) buildPattern() {
	if len(f.fillerWords) == 0 {
		f.pattern = nil
		return
	}

	patterns := make([]string, 0, len(f.fillerWords))
	for word := range f.fillerWords {
		patterns = append(patterns, `\b`+regexp.QuoteMeta(word)+`\b`)
	}
	f.pattern = regexp.MustCompile(`(?i)(` + strings.Join(patterns, `|`) + `)`)
}

// AddFillerWord adds a word to the filler list.
func (f *Filter) AddFillerWord(word string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fillerWords[strings.ToLower(word)] = struct{}{}
	f.buildPattern()
}

// FillerWords returns a copy of the current filler word list.
func (f *Filter) FillerWords() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	words := make([]string, 0, len(f.fillerWords))
	for word := range f.fillerWords {
		words = append(words, word)
	}
	return words
}

// Clean removes filler words from the transcript and normalizes whitespace.
// ok is false when nothing meaningful remains.
func (f *Filter) Clean(text string) (cleaned string, ok bool) {
	if text == "" {
		return "", false
	}

	f.mu.RLock()
	pattern := f.pattern
	f.mu.RUnlock()

	cleaned = text
	if pattern != nil {
		cleaned = pattern.ReplaceAllString(cleaned, "")
	}

	cleaned = strings.TrimSpace(spacePattern.ReplaceAllString(cleaned, " "))
	if punctPattern.MatchString(cleaned) {
		cleaned = ""
	}

	return cleaned, len(cleaned) > 0
}

// IsFillerOnly reports whether the text contains only filler words.
func (f *Filter) IsFillerOnly(text string) bool {
	_, ok := f.Clean(text)
	return !ok
}
