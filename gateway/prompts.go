package gateway

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/syranol/inference-gateway/api"
	"github.com/syranol/inference-gateway/llm/upstream"
)

// TagInstruction is prepended as a system message to every primary request.
const TagInstruction = "Respond with reasoning inside <analysis>...</analysis> and the final answer " +
	"inside <final>...</final>. Output only those tags and their content."

// SummaryKind selects the summarization prompt.
type SummaryKind string

const (
	SummaryPrompt    SummaryKind = "prompt"
	SummaryReasoning SummaryKind = "reasoning"
)

const summaryTemperature = 0.2

// BuildMainRequest converts the inbound request into the streaming upstream
// request. summary_model is gateway-only and is not forwarded.
func BuildMainRequest(req *api.GatewayRequest) *upstream.ChatRequest {
	messages := make([]upstream.Message, 0, len(req.Messages)+1)
	messages = append(messages, upstream.Message{Role: "system", Content: TagInstruction})
	for _, m := range req.Messages {
		messages = append(messages, upstream.Message{Role: m.Role, Content: m.Content})
	}
	return &upstream.ChatRequest{
		Model:       req.Model,
		Messages:    messages,
		Stream:      true,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		TopP:        req.TopP,
		Stop:        req.Stop,
		Extra:       req.Extra,
	}
}

// BuildSummaryRequest builds a one-shot summarization request.
func BuildSummaryRequest(kind SummaryKind, text, model string) *upstream.ChatRequest {
	var system, user string
	switch kind {
	case SummaryPrompt:
		system = "You are a concise assistant that summarizes user prompts."
		user = "Summarize the following prompt in 1-2 sentences. " +
			"Keep it faithful and brief.\n\n" +
			"Prompt:\n" + text
	default:
		system = "You are a concise assistant that summarizes reasoning."
		user = "Summarize the following reasoning in 2-3 bullet points. " +
			"Focus on the key steps only.\n\n" +
			"Reasoning:\n" + text
	}

	temperature := summaryTemperature
	return &upstream.ChatRequest{
		Model: model,
		Messages: []upstream.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Stream:      false,
		Temperature: &temperature,
	}
}

// ResolveSummaryModel picks the request override, then the configured
// default, then the request model.
func ResolveSummaryModel(req *api.GatewayRequest, defaultModel string) string {
	switch {
	case req.SummaryModel != "":
		return req.SummaryModel
	case defaultModel != "":
		return defaultModel
	default:
		return req.Model
	}
}

// SummaryCacheKey identifies a summary by kind, model and input text.
func SummaryCacheKey(kind SummaryKind, model, text string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s", kind, model, text)))
	return "summary:" + string(kind) + ":" + hex.EncodeToString(sum[:])
}
