package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syranol/inference-gateway/api"
)

func sseBody(t *testing.T, events ...api.Event) string {
	t.Helper()
	var b strings.Builder
	for _, e := range events {
		frame, err := api.EncodeSSE(e)
		require.NoError(t, err)
		b.Write(frame)
	}
	return b.String()
}

func TestReadEvents(t *testing.T) {
	body := sseBody(t,
		api.NewTextEvent(api.EventSummaryPrompt, "user asks", "r1"),
		api.NewTextEvent(api.EventOutputDelta, "line one\nline two", "r1"),
		api.NewDoneEvent("r1"),
	)

	var names []string
	var texts []string
	require.NoError(t, readEvents(strings.NewReader(body), func(event string, data map[string]any) {
		names = append(names, event)
		text, _ := data["text"].(string)
		texts = append(texts, text)
	}))

	assert.Equal(t, []string{"summary.prompt", "output.delta", "output.done"}, names)
	assert.Equal(t, "line one\nline two", texts[1])
}

func TestReadEvents_MalformedData(t *testing.T) {
	err := readEvents(strings.NewReader("event: output.delta\ndata: {nope\n\n"), func(string, map[string]any) {})
	assert.Error(t, err)
}

func TestSectionPrinter(t *testing.T) {
	var out bytes.Buffer
	p := &sectionPrinter{out: &out}

	p.handle("summary.prompt", map[string]any{"text": "P"})
	p.handle("error", map[string]any{"stage": "reasoning_summary", "message": "boom"})
	p.handle("summary.reasoning", map[string]any{"text": "R"})
	p.handle("output.delta", map[string]any{"text": "Hel"})
	p.handle("output.delta", map[string]any{"text": "lo"})
	p.handle("output.done", map[string]any{})

	got := out.String()
	assert.Equal(t, 1, strings.Count(got, "=== 3) The model's final output ==="))
	assert.Contains(t, got, "=== 1) Summary of the prompt ===\nP\n")
	assert.Contains(t, got, "=== 2) Summary of the model's reasoning ===\nR\n")
	assert.Contains(t, got, "Hello\n\n[done]\n")
	assert.Contains(t, got, `[error] {"message":"boom","stage":"reasoning_summary"}`)
}

func TestStreamChat(t *testing.T) {
	var received api.GatewayRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(sseBody(t,
			api.NewTextEvent(api.EventSummaryPrompt, "P", "r"),
			api.NewTextEvent(api.EventSummaryReasoning, "R", "r"),
			api.NewTextEvent(api.EventOutputDelta, "answer", "r"),
			api.NewDoneEvent("r"),
		)))
	}))
	t.Cleanup(srv.Close)

	var out bytes.Buffer
	err := streamChat(context.Background(), srv.Client(), chatOptions{
		url:          srv.URL,
		model:        "m",
		message:      "hi",
		summaryModel: "small",
		apiKey:       "secret",
	}, &out)
	require.NoError(t, err)

	assert.Equal(t, "m", received.Model)
	assert.True(t, received.StreamEnabled())
	assert.Equal(t, "small", received.SummaryModel)
	require.Len(t, received.Messages, 1)
	assert.Equal(t, "hi", received.Messages[0].Content)
	assert.Contains(t, out.String(), "answer\n\n[done]")
}

func TestStreamChat_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"detail":"Model not allowed"}`))
	}))
	t.Cleanup(srv.Close)

	var out bytes.Buffer
	err := streamChat(context.Background(), srv.Client(), chatOptions{url: srv.URL, model: "x"}, &out)
	assert.Error(t, err)
	assert.Contains(t, out.String(), "Model not allowed")
}
