package gateway

import (
	"context"
	"time"
)

// Stage statuses recorded in a Report.
const (
	StatusOK      = "ok"
	StatusFailed  = "failed"
	StatusTimeout = "timeout"
	StatusCached  = "cached"
	StatusEmpty   = "empty"
	StatusSkipped = "skipped"
)

// Session outcomes.
const (
	OutcomeCompleted   = "completed"
	OutcomeStreamError = "stream_error"
	OutcomeCancelled   = "cancelled"
)

// Report describes one finished session. It is handed to every Observer
// once all background work of the session has stopped.
type Report struct {
	RequestID    string        `json:"request_id"`
	Model        string        `json:"model"`
	SummaryModel string        `json:"summary_model"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`

	PromptSummaryStatus    string `json:"prompt_summary_status"`
	ReasoningSummaryStatus string `json:"reasoning_summary_status"`

	NativeReasoning bool `json:"native_reasoning"`
	TagsSeen        bool `json:"tags_seen"`
	ReasoningChars  int  `json:"reasoning_chars"`
	OutputFragments int  `json:"output_fragments"`
	OutputChars     int  `json:"output_chars"`

	StreamError string `json:"stream_error,omitempty"`
	Outcome     string `json:"outcome"`
}

// Observer receives the report of each finished session.
type Observer interface {
	ObserveSession(ctx context.Context, report *Report)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, report *Report)

// ObserveSession calls f.
func (f ObserverFunc) ObserveSession(ctx context.Context, report *Report) {
	f(ctx, report)
}
