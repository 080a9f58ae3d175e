package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/syranol/inference-gateway/api"
	"github.com/syranol/inference-gateway/internal/tlsutil"
)

const (
	defaultChatURL     = "http://localhost:8000/v1/chat/completions"
	defaultChatModel   = "meta-llama-3.1-8b-instruct"
	defaultChatMessage = "Explain what an inference gateway does and what makes it useful."
)

// chatOptions chat 子命令参数
type chatOptions struct {
	url          string
	model        string
	message      string
	summaryModel string
	apiKey       string
	debug        bool
}

func runChat(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	opts := chatOptions{}
	fs.StringVar(&opts.url, "url", defaultChatURL, "Gateway chat endpoint")
	fs.StringVar(&opts.model, "model", defaultChatModel, "Model to request")
	fs.StringVar(&opts.message, "message", defaultChatMessage, "User message to send")
	fs.StringVar(&opts.summaryModel, "summary-model", "", "Model used for the summaries")
	fs.StringVar(&opts.apiKey, "api-key", os.Getenv("GATEWAY_API_KEY"), "API key sent as X-API-Key")
	fs.BoolVar(&opts.debug, "debug", false, "Print the request payload before sending")
	_ = fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	return streamChat(ctx, tlsutil.StreamingClient(30*time.Second), opts, out)
}

// streamChat 发送一次请求并按三段格式打印事件
func streamChat(ctx context.Context, client *http.Client, opts chatOptions, out io.Writer) error {
	stream := true
	payload, err := json.Marshal(&api.GatewayRequest{
		Model:        opts.model,
		Messages:     []api.Message{{Role: "user", Content: opts.message}},
		Stream:       &stream,
		SummaryModel: opts.summaryModel,
	})
	if err != nil {
		return err
	}
	if opts.debug {
		fmt.Fprintf(out, "[debug] url=%s\n[debug] payload=%s\n", opts.url, payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, opts.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if opts.apiKey != "" {
		req.Header.Set("X-API-Key", opts.apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		fmt.Fprintln(out, string(body))
		return fmt.Errorf("gateway returned %s", resp.Status)
	}

	p := &sectionPrinter{out: out}
	return readEvents(resp.Body, p.handle)
}

// readEvents 逐帧解析 SSE 响应
func readEvents(r io.Reader, handle func(event string, data map[string]any)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)

	event := ""
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			event = ""
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			var data map[string]any
			if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &data); err != nil {
				return fmt.Errorf("malformed event data: %w", err)
			}
			if event == "" {
				event = "message"
			}
			handle(event, data)
		}
	}
	return scanner.Err()
}

// sectionPrinter 把事件打印为三个小节
type sectionPrinter struct {
	out          io.Writer
	finalStarted bool
}

func (p *sectionPrinter) handle(event string, data map[string]any) {
	text, _ := data["text"].(string)
	switch api.EventName(event) {
	case api.EventSummaryPrompt:
		fmt.Fprintf(p.out, "\n=== 1) Summary of the prompt ===\n%s\n", text)
	case api.EventSummaryReasoning:
		fmt.Fprintf(p.out, "\n=== 2) Summary of the model's reasoning ===\n%s\n", text)
	case api.EventOutputDelta:
		if !p.finalStarted {
			fmt.Fprintln(p.out, "\n=== 3) The model's final output ===")
			p.finalStarted = true
		}
		fmt.Fprint(p.out, text)
	case api.EventOutputDone:
		fmt.Fprint(p.out, "\n\n[done]\n")
	case api.EventError:
		raw, _ := json.Marshal(data)
		fmt.Fprintf(p.out, "\n[error] %s\n", raw)
	}
}
