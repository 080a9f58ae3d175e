package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/syranol/inference-gateway/types"
)

// =============================================================================
// 网关请求类型
// =============================================================================

// Message 是一条角色/内容消息。
// @Description 对话消息
type Message struct {
	// 角色（system、user、assistant）
	Role string `json:"role" example:"user"`
	// 消息内容
	Content string `json:"content" example:"Why is the sky blue?"`
}

// GatewayRequest 是 /v1/chat/completions 的请求体。
// 未识别的字段保存在 Extra 中并原样转发给上游。
// @Description 网关聊天请求结构
type GatewayRequest struct {
	// 模型名称
	Model string `json:"model" example:"meta-llama-3.1-8b-instruct" binding:"required"`
	// 对话消息
	Messages []Message `json:"messages" binding:"required"`
	// 是否流式（缺省为 true，网关只接受 true）
	Stream *bool `json:"stream,omitempty"`
	// 摘要调用使用的模型（可选）
	SummaryModel string `json:"summary_model,omitempty"`
	// 采样温度
	Temperature *float64 `json:"temperature,omitempty" example:"0.7"`
	// 最大生成 token 数
	MaxTokens *int `json:"max_tokens,omitempty" example:"1024"`
	// 核采样参数
	TopP *float64 `json:"top_p,omitempty" example:"1.0"`
	// 停止序列（字符串或字符串数组）
	Stop json.RawMessage `json:"stop,omitempty" swaggertype:"array,string"`

	// 透传字段
	Extra map[string]json.RawMessage `json:"-"`
}

var gatewayRequestFields = map[string]struct{}{
	"model": {}, "messages": {}, "stream": {}, "summary_model": {},
	"temperature": {}, "max_tokens": {}, "top_p": {}, "stop": {},
}

// UnmarshalJSON decodes the known fields and keeps the rest in Extra.
func (r *GatewayRequest) UnmarshalJSON(data []byte) error {
	type plain GatewayRequest
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for k, v := range all {
		if _, known := gatewayRequestFields[k]; known {
			continue
		}
		if p.Extra == nil {
			p.Extra = make(map[string]json.RawMessage)
		}
		p.Extra[k] = v
	}

	*r = GatewayRequest(p)
	return nil
}

// StreamEnabled reports the effective stream flag; absent means true.
func (r *GatewayRequest) StreamEnabled() bool {
	return r.Stream == nil || *r.Stream
}

// PromptText renders the conversation as "role: content" lines.
func (r *GatewayRequest) PromptText() string {
	lines := make([]string, 0, len(r.Messages))
	for _, m := range r.Messages {
		lines = append(lines, m.Role+": "+m.Content)
	}
	return strings.Join(lines, "\n")
}

// Validate checks the request shape. Policy checks (allowed models, the
// stream flag) belong to the handler.
func (r *GatewayRequest) Validate() error {
	if strings.TrimSpace(r.Model) == "" {
		return types.NewInvalidRequestError("model is required")
	}
	if len(r.Messages) == 0 {
		return types.NewInvalidRequestError("messages must not be empty")
	}
	for i, m := range r.Messages {
		if strings.TrimSpace(m.Role) == "" {
			return types.NewInvalidRequestError(fmt.Sprintf("messages[%d].role is required", i))
		}
	}
	if len(r.Stop) > 0 && !bytes.Equal(bytes.TrimSpace(r.Stop), []byte("null")) {
		var single string
		var many []string
		if json.Unmarshal(r.Stop, &single) != nil && json.Unmarshal(r.Stop, &many) != nil {
			return types.NewInvalidRequestError("stop must be a string or an array of strings")
		}
	}
	return nil
}
