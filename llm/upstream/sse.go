package upstream

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/syranol/inference-gateway/types"
)

// maxLineBytes 是单行 SSE 的上限，超出时以传输错误结束流。
const maxLineBytes = 1 << 20

// readDeltas parses an OpenAI-compatible SSE body into deltas. Lines that are
// not "data:" lines, and data lines that are not valid JSON, are skipped.
func readDeltas(ctx context.Context, body io.ReadCloser, logger *zap.Logger) <-chan Delta {
	ch := make(chan Delta)
	go func() {
		defer body.Close()
		defer close(ch)

		send := func(d Delta) bool {
			select {
			case <-ctx.Done():
				return false
			case ch <- d:
				return true
			}
		}

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64<<10), maxLineBytes)
		for scanner.Scan() {
			d, done, ok := parseDataLine(scanner.Text(), logger)
			if done {
				return
			}
			if ok && !send(d) {
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			send(Delta{Err: types.NewTransportError(ProviderName, err).WithRetryable(false)})
		}
	}()
	return ch
}

// parseDataLine decodes one SSE line. done is true for the [DONE] sentinel;
// ok is false when the line carries nothing to deliver.
func parseDataLine(line string, logger *zap.Logger) (d Delta, done bool, ok bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "data:") {
		return Delta{}, false, false
	}
	data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if data == "[DONE]" {
		return Delta{}, true, false
	}

	var chunk streamChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		logger.Debug("skipping malformed stream chunk", zap.Error(err))
		return Delta{}, false, false
	}
	if len(chunk.Choices) == 0 || chunk.Choices[0].Delta == nil {
		return Delta{}, false, false
	}

	delta := chunk.Choices[0].Delta
	d.Content = delta.Content
	d.Reasoning = delta.ReasoningContent
	if d.Reasoning == "" {
		d.Reasoning = delta.Reasoning
	}
	return d, false, d.Content != "" || d.Reasoning != ""
}
