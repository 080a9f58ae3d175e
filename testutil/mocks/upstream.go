// MockUpstream 上游客户端的测试模拟实现。
//
// 支持固定摘要响应、脚本化流式增量、延迟与错误注入。
package mocks

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/syranol/inference-gateway/llm/upstream"
)

// --- MockUpstream 结构 ---

// MockUpstream 是上游客户端的模拟实现，满足 gateway.Upstream
type MockUpstream struct {
	mu sync.RWMutex

	// 非流式（摘要）响应配置
	response      string
	completeErr   error
	completeDelay time.Duration
	completeFunc  func(ctx context.Context, req *upstream.ChatRequest) (string, error)

	// 流式响应配置
	deltas     []upstream.Delta
	streamErr  error
	deltaDelay time.Duration
	streamFunc func(ctx context.Context, req *upstream.ChatRequest) (<-chan upstream.Delta, error)

	// 调用记录
	completeCalls []*upstream.ChatRequest
	streamCalls   []*upstream.ChatRequest
}

// --- 构造函数和 Builder 方法 ---

// NewMockUpstream 创建新的 MockUpstream
func NewMockUpstream() *MockUpstream {
	return &MockUpstream{response: "Mock summary"}
}

// WithResponse 设置摘要调用的固定响应
func (m *MockUpstream) WithResponse(response string) *MockUpstream {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.response = response
	return m
}

// WithCompleteError 设置摘要调用返回的错误
func (m *MockUpstream) WithCompleteError(err error) *MockUpstream {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completeErr = err
	return m
}

// WithCompleteDelay 设置摘要调用延迟；延迟期间响应 ctx 取消
func (m *MockUpstream) WithCompleteDelay(d time.Duration) *MockUpstream {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completeDelay = d
	return m
}

// WithCompleteFunc 设置自定义摘要函数
func (m *MockUpstream) WithCompleteFunc(fn func(ctx context.Context, req *upstream.ChatRequest) (string, error)) *MockUpstream {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completeFunc = fn
	return m
}

// WithContentChunks 设置只含 content 的流式增量
func (m *MockUpstream) WithContentChunks(chunks ...string) *MockUpstream {
	deltas := make([]upstream.Delta, 0, len(chunks))
	for _, c := range chunks {
		deltas = append(deltas, upstream.Delta{Content: c})
	}
	return m.WithDeltas(deltas...)
}

// WithDeltas 设置流式增量；带 Err 的增量会作为流中错误发送
func (m *MockUpstream) WithDeltas(deltas ...upstream.Delta) *MockUpstream {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deltas = deltas
	return m
}

// WithStreamError 设置打开流时返回的错误
func (m *MockUpstream) WithStreamError(err error) *MockUpstream {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamErr = err
	return m
}

// WithDeltaDelay 设置每个增量之间的延迟
func (m *MockUpstream) WithDeltaDelay(d time.Duration) *MockUpstream {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deltaDelay = d
	return m
}

// WithStreamFunc 设置自定义流函数
func (m *MockUpstream) WithStreamFunc(fn func(ctx context.Context, req *upstream.ChatRequest) (<-chan upstream.Delta, error)) *MockUpstream {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamFunc = fn
	return m
}

// --- 接口实现 ---

// Complete 返回摘要响应
func (m *MockUpstream) Complete(ctx context.Context, req *upstream.ChatRequest) (string, error) {
	m.mu.Lock()
	m.completeCalls = append(m.completeCalls, req)
	fn, resp, err, delay := m.completeFunc, m.response, m.completeErr, m.completeDelay
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return resp, nil
}

// StreamDeltas 按脚本发送流式增量
func (m *MockUpstream) StreamDeltas(ctx context.Context, req *upstream.ChatRequest) (<-chan upstream.Delta, error) {
	m.mu.Lock()
	m.streamCalls = append(m.streamCalls, req)
	fn, deltas, err, delay := m.streamFunc, m.deltas, m.streamErr, m.deltaDelay
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	ch := make(chan upstream.Delta)
	go func() {
		defer close(ch)
		for _, d := range deltas {
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case <-ctx.Done():
				return
			case ch <- d:
			}
			if d.Err != nil {
				return
			}
		}
	}()
	return ch, nil
}

// --- 调用记录 ---

// CompleteCalls 返回所有摘要调用
func (m *MockUpstream) CompleteCalls() []*upstream.ChatRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*upstream.ChatRequest, len(m.completeCalls))
	copy(out, m.completeCalls)
	return out
}

// StreamCalls 返回所有流式调用
func (m *MockUpstream) StreamCalls() []*upstream.ChatRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*upstream.ChatRequest, len(m.streamCalls))
	copy(out, m.streamCalls)
	return out
}

// SummaryInputs 按调用顺序返回摘要请求中 user 消息的内容
func (m *MockUpstream) SummaryInputs() []string {
	var out []string
	for _, req := range m.CompleteCalls() {
		for _, msg := range req.Messages {
			if msg.Role == "user" {
				out = append(out, msg.Content)
			}
		}
	}
	return out
}

// FindSummaryCall 返回 user 消息包含 marker 的第一个摘要请求
func (m *MockUpstream) FindSummaryCall(marker string) *upstream.ChatRequest {
	for _, req := range m.CompleteCalls() {
		for _, msg := range req.Messages {
			if msg.Role == "user" && strings.Contains(msg.Content, marker) {
				return req
			}
		}
	}
	return nil
}

// Reset 清空调用记录
func (m *MockUpstream) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completeCalls = nil
	m.streamCalls = nil
}
