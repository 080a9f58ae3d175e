package reasoning

import (
	"strings"
	"sync"
	"unicode/utf8"
)

// DefaultMaxChars bounds the reasoning text handed to summarization.
const DefaultMaxChars = 8000

// Accumulator collects analysis fragments in arrival order. Truncation is
// applied only when the text is read, so nothing is lost before that point.
// One goroutine may append while another reads.
type Accumulator struct {
	mu       sync.Mutex
	parts    []string
	chars    int
	maxChars int
}

// NewAccumulator creates an accumulator truncating reads to maxChars runes.
// A non-positive maxChars falls back to DefaultMaxChars.
func NewAccumulator(maxChars int) *Accumulator {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Accumulator{maxChars: maxChars}
}

// Append adds a fragment. Empty fragments are ignored.
func (a *Accumulator) Append(fragment string) {
	if fragment == "" {
		return
	}
	a.mu.Lock()
	a.parts = append(a.parts, fragment)
	a.chars += utf8.RuneCountInString(fragment)
	a.mu.Unlock()
}

// AppendAll adds fragments in order.
func (a *Accumulator) AppendAll(fragments []string) {
	for _, f := range fragments {
		a.Append(f)
	}
}

// Len returns the number of characters accumulated so far.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.chars
}

// Snapshot returns the full, untruncated text.
func (a *Accumulator) Snapshot() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return strings.Join(a.parts, "")
}

// Truncated returns the text cut to at most the configured number of characters.
func (a *Accumulator) Truncated() string {
	return TruncateChars(a.Snapshot(), a.maxChars)
}

// TruncateChars cuts s to at most n runes.
func TruncateChars(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
