package upstream

import "encoding/json"

// Message is one chat message in the OpenAI-compatible format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body sent to the upstream chat completions endpoint.
// Extra holds pass-through fields; known fields win on collision.
type ChatRequest struct {
	Model       string                     `json:"model"`
	Messages    []Message                  `json:"messages"`
	Stream      bool                       `json:"stream"`
	Temperature *float64                   `json:"temperature,omitempty"`
	MaxTokens   *int                       `json:"max_tokens,omitempty"`
	TopP        *float64                   `json:"top_p,omitempty"`
	Stop        json.RawMessage            `json:"stop,omitempty"`
	Extra       map[string]json.RawMessage `json:"-"`
}

// MarshalJSON merges Extra into the encoded object.
func (r ChatRequest) MarshalJSON() ([]byte, error) {
	type plain ChatRequest
	base, err := json.Marshal(plain(r))
	if err != nil || len(r.Extra) == 0 {
		return base, err
	}

	merged := make(map[string]json.RawMessage, len(r.Extra)+8)
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range r.Extra {
		if _, ok := merged[k]; !ok {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// Delta is one item of the primary stream. Reasoning is set when the upstream
// reports reasoning in a dedicated field. Err is set on the last item when the
// stream broke.
type Delta struct {
	Reasoning string
	Content   string
	Err       error
}

// completionResponse is the subset of a non-streaming response the client reads.
type completionResponse struct {
	Choices []struct {
		Message *struct {
			Role    string  `json:"role"`
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// streamChunk is the subset of a streamed chunk the client reads.
type streamChunk struct {
	Choices []struct {
		Delta *struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
			Reasoning        string `json:"reasoning"`
		} `json:"delta"`
	} `json:"choices"`
}
