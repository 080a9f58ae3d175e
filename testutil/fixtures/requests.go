// =============================================================================
// 📦 测试数据工厂 - 网关请求
// =============================================================================
// 提供预定义的网关请求与对话，用于测试
// =============================================================================
package fixtures

import (
	"github.com/syranol/inference-gateway/api"
)

// DefaultModel 测试使用的默认模型名
const DefaultModel = "gpt-oss-120b"

// UserMessage 创建用户消息
func UserMessage(content string) api.Message {
	return api.Message{Role: "user", Content: content}
}

// AssistantMessage 创建助手消息
func AssistantMessage(content string) api.Message {
	return api.Message{Role: "assistant", Content: content}
}

// SystemMessage 创建系统消息
func SystemMessage(content string) api.Message {
	return api.Message{Role: "system", Content: content}
}

// SimpleRequest 返回只有一条用户消息的流式请求
func SimpleRequest(prompt string) *api.GatewayRequest {
	return &api.GatewayRequest{
		Model:    DefaultModel,
		Messages: []api.Message{UserMessage(prompt)},
	}
}

// ConversationRequest 返回多轮对话请求
func ConversationRequest() *api.GatewayRequest {
	return &api.GatewayRequest{
		Model: DefaultModel,
		Messages: []api.Message{
			SystemMessage("You are helpful."),
			UserMessage("What is 2+2?"),
			AssistantMessage("4"),
			UserMessage("And times 3?"),
		},
	}
}
