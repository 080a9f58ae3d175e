package reasoning

import (
	"strings"
	"unicode/utf8"
)

// Section markers the upstream model is instructed to emit.
const (
	OpenAnalysis  = "<analysis>"
	CloseAnalysis = "</analysis>"
	OpenFinal     = "<final>"
	CloseFinal    = "</final>"
)

// State is the position of a TagParser relative to the section markers.
type State int

const (
	// StateUnknown means outside any section.
	StateUnknown State = iota
	StateInAnalysis
	StateInFinal
	// StateDone is terminal: the final section closed and later input is dropped.
	StateDone
)

// String returns the string representation of the State
func (s State) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateInAnalysis:
		return "in_analysis"
	case StateInFinal:
		return "in_final"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Outcome is what a single Feed or Finalize call produced.
type Outcome struct {
	Analysis     []string
	Final        []string
	AnalysisDone bool
	FinalDone    bool
}

// Empty reports whether the outcome carries neither fragments nor flags.
func (o Outcome) Empty() bool {
	return len(o.Analysis) == 0 && len(o.Final) == 0 && !o.AnalysisDone && !o.FinalDone
}

// TagParser splits a fragmented text stream into the analysis and final
// sections. It understands a single analysis section followed by a single
// final section; it is not an XML parser. A TagParser is not safe for
// concurrent use.
type TagParser struct {
	state      State
	carry      string
	seenAnyTag bool
	seenFinal  bool
}

// NewTagParser returns a parser in StateUnknown.
func NewTagParser() *TagParser {
	return &TagParser{state: StateUnknown}
}

// State returns the current parser state.
func (p *TagParser) State() State { return p.state }

// SeenAnyTag reports whether an open marker has been consumed.
func (p *TagParser) SeenAnyTag() bool { return p.seenAnyTag }

// SeenFinal reports whether the final section was closed.
func (p *TagParser) SeenFinal() bool { return p.seenFinal }

// Feed consumes the next fragment and returns every fragment that can be
// classified without further input. Trailing text that could be the start of
// a close marker is held back until the next call.
func (p *TagParser) Feed(fragment string) Outcome {
	p.carry += fragment
	var out Outcome

	for {
		switch p.state {
		case StateUnknown:
			idxA := strings.Index(p.carry, OpenAnalysis)
			idxF := strings.Index(p.carry, OpenFinal)
			if idxA == -1 && idxF == -1 {
				// Nothing before an open marker is ever emitted, so only a
				// possible partial marker needs to survive.
				p.carry = keepTail(p.carry, len(OpenAnalysis)-1)
				return out
			}
			p.seenAnyTag = true
			if idxA != -1 && (idxF == -1 || idxA < idxF) {
				p.carry = p.carry[idxA+len(OpenAnalysis):]
				p.state = StateInAnalysis
			} else {
				p.carry = p.carry[idxF+len(OpenFinal):]
				p.state = StateInFinal
			}

		case StateInAnalysis:
			text, closed := p.scanSection(CloseAnalysis)
			out.Analysis = appendNonEmpty(out.Analysis, text)
			if !closed {
				return out
			}
			p.state = StateUnknown
			out.AnalysisDone = true

		case StateInFinal:
			text, closed := p.scanSection(CloseFinal)
			out.Final = appendNonEmpty(out.Final, text)
			if !closed {
				return out
			}
			p.state = StateDone
			p.seenFinal = true
			out.FinalDone = true
			p.carry = ""
			return out

		default:
			p.carry = ""
			return out
		}
	}
}

// Finalize flushes whatever the parser still holds. Call it once, after the
// input is exhausted. An unterminated analysis section counts as closed; an
// unterminated final section does not.
func (p *TagParser) Finalize() Outcome {
	var out Outcome
	switch p.state {
	case StateInAnalysis:
		if p.carry != "" {
			out.Analysis = []string{p.carry}
			out.AnalysisDone = true
		}
	case StateInFinal:
		if p.carry != "" {
			out.Final = []string{p.carry}
		}
	case StateDone:
		out.FinalDone = true
	}
	p.carry = ""
	return out
}

// scanSection looks for the close marker in carry. When absent it releases
// the prefix that cannot hold a partial marker.
func (p *TagParser) scanSection(closeMarker string) (string, bool) {
	if idx := strings.Index(p.carry, closeMarker); idx != -1 {
		text := p.carry[:idx]
		p.carry = p.carry[idx+len(closeMarker):]
		return text, true
	}
	safe := safeLen(p.carry, len(closeMarker)-1)
	text := p.carry[:safe]
	p.carry = p.carry[safe:]
	return text, false
}

// safeLen is len(s)-withhold, moved back to a rune boundary so released text
// never splits a multi-byte character.
func safeLen(s string, withhold int) int {
	n := len(s) - withhold
	if n <= 0 {
		return 0
	}
	if n >= len(s) {
		return len(s)
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return n
}

func keepTail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func appendNonEmpty(dst []string, s string) []string {
	if s == "" {
		return dst
	}
	return append(dst, s)
}
