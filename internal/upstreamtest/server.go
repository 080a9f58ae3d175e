// Package upstreamtest 提供一个可编排的 OpenAI 兼容上游服务，
// 供单元测试、端到端测试和 `gateway mock-upstream` 子命令使用。
package upstreamtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// DefaultStreamText 是默认流式响应内容（带 analysis/final 标签）
const DefaultStreamText = "<analysis>We need to answer the user's question. " +
	"We'll recall relevant facts and provide a concise explanation.</analysis>" +
	"<final>The sky is blue because shorter blue wavelengths are scattered more " +
	"by the atmosphere, making blue light reach our eyes from many directions.</final>"

// DefaultChunkSize 默认按 24 字节切分流式内容
const DefaultChunkSize = 24

// Chunk 是一次流式输出的 delta
type Chunk struct {
	Content   string
	Reasoning string
}

// Request 记录一次收到的请求
type Request struct {
	Method string
	Path   string
	Header http.Header
	Body   map[string]any
}

// Stream 判断请求是否为流式
func (r Request) Stream() bool {
	v, _ := r.Body["stream"].(bool)
	return v
}

// Messages 返回请求中的消息
func (r Request) Messages() []map[string]string {
	raw, _ := r.Body["messages"].([]any)
	out := make([]map[string]string, 0, len(raw))
	for _, m := range raw {
		mm, _ := m.(map[string]any)
		role, _ := mm["role"].(string)
		content, _ := mm["content"].(string)
		out = append(out, map[string]string{"role": role, "content": content})
	}
	return out
}

// Server 是脚本化的上游服务
type Server struct {
	mu sync.Mutex

	// Chunks 为流式响应的 delta 序列；为空时使用 DefaultStreamText 切片
	Chunks []Chunk
	// ChunkDelay 为每个 delta 之间的间隔
	ChunkDelay time.Duration
	// BreakAfter > 0 时，发送该数量的 delta 后中断连接（不发送 [DONE]）
	BreakAfter int
	// Summarize 生成非流式响应内容；为空时使用默认摘要
	Summarize func(messages []map[string]string) string
	// CompleteDelay 为非流式响应前的等待时间
	CompleteDelay time.Duration
	// FailStatuses 依次返回的错误状态码，耗尽后正常响应
	FailStatuses []int
	// RootStatus 为 GET / 的状态码，默认 200
	RootStatus int
	// RawCompletion 非空时原样作为非流式响应体返回
	RawCompletion string

	requests []Request
}

// New 创建默认配置的上游服务
func New() *Server {
	return &Server{}
}

// Start 在 httptest 上启动服务，测试结束时自动关闭
func (s *Server) Start(t interface{ Cleanup(func()) }) *httptest.Server {
	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)
	return ts
}

// Requests 返回已记录的请求副本
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// ServeHTTP 实现 http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet && r.URL.Path == "/" {
		status := s.RootStatus
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, `{"error":{"message":"invalid json"}}`, http.StatusBadRequest)
		return
	}
	req := Request{Method: r.Method, Path: r.URL.Path, Header: r.Header.Clone(), Body: body}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	var failStatus int
	if len(s.FailStatuses) > 0 {
		failStatus = s.FailStatuses[0]
		s.FailStatuses = s.FailStatuses[1:]
	}
	s.mu.Unlock()

	if failStatus != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(failStatus)
		_, _ = fmt.Fprintf(w, `{"error":{"message":"scripted failure %d"}}`, failStatus)
		return
	}

	if req.Stream() {
		s.serveStream(w, r)
		return
	}
	s.serveCompletion(w, r, req)
}

func (s *Server) serveCompletion(w http.ResponseWriter, r *http.Request, req Request) {
	if s.CompleteDelay > 0 {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(s.CompleteDelay):
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if s.RawCompletion != "" {
		_, _ = w.Write([]byte(s.RawCompletion))
		return
	}

	summarize := s.Summarize
	if summarize == nil {
		summarize = DefaultSummary
	}
	resp := map[string]any{
		"choices": []any{
			map[string]any{
				"message": map[string]any{
					"role":    "assistant",
					"content": summarize(req.Messages()),
				},
			},
		},
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) serveStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)

	chunks := s.Chunks
	if len(chunks) == 0 {
		chunks = SplitText(DefaultStreamText, DefaultChunkSize)
	}

	for i, c := range chunks {
		if s.BreakAfter > 0 && i == s.BreakAfter {
			// 中断连接以模拟上游流异常
			panic(http.ErrAbortHandler)
		}
		delta := map[string]any{}
		if c.Content != "" {
			delta["content"] = c.Content
		}
		if c.Reasoning != "" {
			delta["reasoning_content"] = c.Reasoning
		}
		data, _ := json.Marshal(map[string]any{"choices": []any{map[string]any{"delta": delta}}})
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return
		}
		flusher.Flush()

		if s.ChunkDelay > 0 {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(s.ChunkDelay):
			}
		}
	}
	if s.BreakAfter > 0 && s.BreakAfter >= len(chunks) {
		panic(http.ErrAbortHandler)
	}
	_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// SplitText 将文本按字节切分为 content delta
func SplitText(text string, size int) []Chunk {
	if size <= 0 {
		size = DefaultChunkSize
	}
	var out []Chunk
	for i := 0; i < len(text); i += size {
		end := i + size
		if end > len(text) {
			end = len(text)
		}
		out = append(out, Chunk{Content: text[i:end]})
	}
	return out
}

// DefaultSummary 截取前 20 个词作为摘要
func DefaultSummary(messages []map[string]string) string {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		lines = append(lines, m["role"]+": "+m["content"])
	}
	words := strings.Fields(strings.Join(lines, "\n"))
	const maxWords = 20
	suffix := ""
	if len(words) > maxWords {
		words = words[:maxWords]
		suffix = "..."
	}
	return "Summary: " + strings.Join(words, " ") + suffix
}
