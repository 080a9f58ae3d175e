// =============================================================================
// 🧪 测试辅助函数
// =============================================================================
// 提供通用的测试辅助函数和断言
//
// 使用方法:
//
//	sink := testutil.NewRecordingSink()
//	testutil.AssertEventuallyTrue(t, func() bool { return sink.Len() > 0 }, 5*time.Second)
// =============================================================================
package testutil

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/syranol/inference-gateway/api"
	"github.com/syranol/inference-gateway/llm/upstream"
)

// =============================================================================
// 🎯 上下文辅助
// =============================================================================

// TestContext 返回带超时的测试上下文
func TestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// TestContextWithTimeout 返回带自定义超时的测试上下文
func TestContextWithTimeout(t *testing.T, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext 返回已取消的上下文
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// =============================================================================
// 📡 事件收集
// =============================================================================

// ErrSinkClosed 由 RecordingSink 在 FailAfter 触发后返回
var ErrSinkClosed = errors.New("sink closed")

// RecordingSink 记录所有事件，可配置在第 N 个事件后失败以模拟客户端断开
type RecordingSink struct {
	mu        sync.Mutex
	events    []api.Event
	failAfter int
	onSend    func(api.Event)
}

// NewRecordingSink 创建 RecordingSink
func NewRecordingSink() *RecordingSink {
	return &RecordingSink{}
}

// FailAfter 设置接收 n 个事件后返回 ErrSinkClosed
func (s *RecordingSink) FailAfter(n int) *RecordingSink {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAfter = n
	return s
}

// OnSend 设置每个事件记录后的回调
func (s *RecordingSink) OnSend(fn func(api.Event)) *RecordingSink {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSend = fn
	return s
}

// Send 记录事件
func (s *RecordingSink) Send(_ context.Context, e api.Event) error {
	s.mu.Lock()
	if s.failAfter > 0 && len(s.events) >= s.failAfter {
		s.mu.Unlock()
		return ErrSinkClosed
	}
	s.events = append(s.events, e)
	fn := s.onSend
	s.mu.Unlock()

	if fn != nil {
		fn(e)
	}
	return nil
}

// Events 返回已记录事件的副本
func (s *RecordingSink) Events() []api.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]api.Event, len(s.events))
	copy(out, s.events)
	return out
}

// Len 返回已记录事件数
func (s *RecordingSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// Names 返回事件名序列
func (s *RecordingSink) Names() []string {
	events := s.Events()
	names := make([]string, len(events))
	for i, e := range events {
		names[i] = string(e.Name)
	}
	return names
}

// OutputText 拼接所有 output.delta 文本
func (s *RecordingSink) OutputText() string {
	var b strings.Builder
	for _, e := range s.Events() {
		if e.Name == api.EventOutputDelta {
			b.WriteString(e.Text())
		}
	}
	return b.String()
}

// SSEEvent 是从 SSE 响应体解析出的单个事件
type SSEEvent struct {
	Event string
	Data  string
}

// ParseSSE 解析 text/event-stream 响应体
func ParseSSE(body string) []SSEEvent {
	var (
		out     []SSEEvent
		current SSEEvent
	)
	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if current.Event != "" || current.Data != "" {
				out = append(out, current)
			}
			current = SSEEvent{}
		case strings.HasPrefix(line, "event: "):
			current.Event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			current.Data = strings.TrimPrefix(line, "data: ")
		}
	}
	if current.Event != "" || current.Data != "" {
		out = append(out, current)
	}
	return out
}

// =============================================================================
// 🎭 流辅助
// =============================================================================

// SendDeltas 把增量写入已关闭的缓冲通道
func SendDeltas(deltas ...upstream.Delta) <-chan upstream.Delta {
	ch := make(chan upstream.Delta, len(deltas))
	for _, d := range deltas {
		ch <- d
	}
	close(ch)
	return ch
}

// CollectDeltas 收集通道中的所有增量
func CollectDeltas(ch <-chan upstream.Delta) []upstream.Delta {
	var out []upstream.Delta
	for d := range ch {
		out = append(out, d)
	}
	return out
}

// =============================================================================
// 🔍 断言辅助
// =============================================================================

// AssertEventuallyTrue 断言条件最终为真
func AssertEventuallyTrue(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Errorf("condition did not become true within %v", timeout)
}

// AssertEventuallyEqual 断言值最终相等
func AssertEventuallyEqual(t *testing.T, expected any, getter func() any, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	var lastValue any

	for time.Now().Before(deadline) {
		lastValue = getter()
		if reflect.DeepEqual(expected, lastValue) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Errorf("value did not become %v within %v, last value: %v", expected, timeout, lastValue)
}

// =============================================================================
// ⏱️ 时间辅助
// =============================================================================

// WaitForChannel 等待通道接收或超时
func WaitForChannel[T any](ch <-chan T, timeout time.Duration) (T, bool) {
	select {
	case v := <-ch:
		return v, true
	case <-time.After(timeout):
		var zero T
		return zero, false
	}
}

// =============================================================================
// 🔧 测试数据辅助
// =============================================================================

// MustJSON 将值转换为 JSON 字符串，失败时 panic
func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

// MustParseJSON 解析 JSON 字符串，失败时 panic
func MustParseJSON[T any](s string) T {
	var v T
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		panic(err)
	}
	return v
}
