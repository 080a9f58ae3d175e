package api

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// EventName identifies an outbound stream event.
type EventName string

const (
	EventSummaryPrompt    EventName = "summary.prompt"
	EventSummaryReasoning EventName = "summary.reasoning"
	EventOutputDelta      EventName = "output.delta"
	EventOutputDone       EventName = "output.done"
	EventError            EventName = "error"
)

// Stage names the pipeline step an error event refers to.
type Stage string

const (
	StagePromptSummary    Stage = "prompt_summary"
	StageReasoningSummary Stage = "reasoning_summary"
	StageUpstreamStream   Stage = "upstream_stream"
)

// TextPayload carries summary.prompt, summary.reasoning and output.delta.
type TextPayload struct {
	Text      string `json:"text"`
	RequestID string `json:"request_id"`
}

// DonePayload carries output.done.
type DonePayload struct {
	RequestID string `json:"request_id"`
}

// ErrorPayload carries error.
type ErrorPayload struct {
	Message   string `json:"message"`
	Stage     Stage  `json:"stage"`
	RequestID string `json:"request_id"`
}

// Event is one immutable outbound event.
type Event struct {
	Name EventName
	Data any
}

// NewTextEvent builds a summary or delta event.
func NewTextEvent(name EventName, text, requestID string) Event {
	return Event{Name: name, Data: TextPayload{Text: text, RequestID: requestID}}
}

// NewDoneEvent builds output.done.
func NewDoneEvent(requestID string) Event {
	return Event{Name: EventOutputDone, Data: DonePayload{RequestID: requestID}}
}

// NewErrorEvent builds an error event for a stage.
func NewErrorEvent(stage Stage, message, requestID string) Event {
	return Event{Name: EventError, Data: ErrorPayload{Message: message, Stage: stage, RequestID: requestID}}
}

// Text returns the text of a TextPayload event, or "".
func (e Event) Text() string {
	if p, ok := e.Data.(TextPayload); ok {
		return p.Text
	}
	return ""
}

// marshalCompact encodes v on one line without HTML escaping.
func marshalCompact(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// EncodeSSE renders the event as a server-sent events frame:
//
//	event: <name>
//	data: <json>
//
// The JSON is single-line; newlines inside strings are escaped.
func EncodeSSE(e Event) ([]byte, error) {
	data, err := marshalCompact(e.Data)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", e.Name, err)
	}
	out := make([]byte, 0, len(e.Name)+len(data)+16)
	out = append(out, "event: "...)
	out = append(out, e.Name...)
	out = append(out, "\ndata: "...)
	out = append(out, data...)
	out = append(out, "\n\n"...)
	return out, nil
}

// Frame is the WebSocket rendering of an event.
type Frame struct {
	Event EventName       `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// EncodeFrame renders the event as one JSON text message.
func EncodeFrame(e Event) ([]byte, error) {
	data, err := marshalCompact(e.Data)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", e.Name, err)
	}
	return marshalCompact(Frame{Event: e.Name, Data: data})
}
