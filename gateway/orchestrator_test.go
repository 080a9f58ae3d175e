package gateway_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/syranol/inference-gateway/api"
	"github.com/syranol/inference-gateway/gateway"
	"github.com/syranol/inference-gateway/llm/upstream"
	"github.com/syranol/inference-gateway/testutil"
	"github.com/syranol/inference-gateway/testutil/fixtures"
	"github.com/syranol/inference-gateway/testutil/mocks"
	"github.com/syranol/inference-gateway/types"
)

func summaryKind(req *upstream.ChatRequest) gateway.SummaryKind {
	if strings.Contains(req.Messages[0].Content, "user prompts") {
		return gateway.SummaryPrompt
	}
	return gateway.SummaryReasoning
}

// byKind answers prompt and reasoning summaries with fixed texts.
func byKind(prompt, reasoning string) func(context.Context, *upstream.ChatRequest) (string, error) {
	return func(_ context.Context, req *upstream.ChatRequest) (string, error) {
		if summaryKind(req) == gateway.SummaryPrompt {
			return prompt, nil
		}
		return reasoning, nil
	}
}

func newOrchestrator(t *testing.T, up gateway.Upstream, mutate ...func(*gateway.Options)) *gateway.Orchestrator {
	t.Helper()
	opts := gateway.DefaultOptions()
	opts.SummaryTimeout = 2 * time.Second
	for _, m := range mutate {
		m(&opts)
	}
	o, err := gateway.New(up, opts, zaptest.NewLogger(t))
	require.NoError(t, err)
	return o
}

func run(t *testing.T, o *gateway.Orchestrator, req *api.GatewayRequest) (*testutil.RecordingSink, *gateway.Report) {
	t.Helper()
	sink := testutil.NewRecordingSink()
	report, err := o.Stream(testutil.TestContextWithTimeout(t, 5*time.Second), "req-1", req, sink)
	require.NoError(t, err)
	require.NotNil(t, report)
	return sink, report
}

func outputDeltas(events []api.Event) []string {
	var out []string
	for _, e := range events {
		if e.Name == api.EventOutputDelta {
			out = append(out, e.Text())
		}
	}
	return out
}

func TestNew_RequiresUpstream(t *testing.T) {
	_, err := gateway.New(nil, gateway.DefaultOptions(), nil)
	assert.Error(t, err)
}

func TestStream_TaggedOutput(t *testing.T) {
	up := mocks.NewMockUpstream().
		WithCompleteFunc(byKind("A question about arithmetic.", "- added numbers")).
		WithDeltas(fixtures.TaggedDeltas("Add 2 and 2.", "The answer is 4.", 7)...)
	o := newOrchestrator(t, up)

	sink, report := run(t, o, fixtures.SimpleRequest("What is 2+2?"))
	events := sink.Events()

	require.GreaterOrEqual(t, len(events), 4)
	assert.Equal(t, api.EventSummaryPrompt, events[0].Name)
	assert.Equal(t, "A question about arithmetic.", events[0].Text())
	assert.Equal(t, api.EventSummaryReasoning, events[1].Name)
	assert.Equal(t, "- added numbers", events[1].Text())
	assert.Equal(t, api.EventOutputDone, events[len(events)-1].Name)
	for _, e := range events[2 : len(events)-1] {
		assert.Equal(t, api.EventOutputDelta, e.Name)
		assert.NotContains(t, e.Text(), "<")
	}
	assert.Equal(t, "The answer is 4.", sink.OutputText())

	for _, e := range events {
		raw, err := api.EncodeSSE(e)
		require.NoError(t, err)
		assert.Contains(t, string(raw), `"request_id":"req-1"`)
	}

	assert.Equal(t, gateway.OutcomeCompleted, report.Outcome)
	assert.True(t, report.TagsSeen)
	assert.False(t, report.NativeReasoning)
	assert.Equal(t, gateway.StatusOK, report.PromptSummaryStatus)
	assert.Equal(t, gateway.StatusOK, report.ReasoningSummaryStatus)
	assert.Equal(t, len("Add 2 and 2."), report.ReasoningChars)
	assert.Equal(t, len(events)-3, report.OutputFragments)

	promptCall := up.FindSummaryCall("Prompt:\nuser: What is 2+2?")
	require.NotNil(t, promptCall)
	reasoningCall := up.FindSummaryCall("Reasoning:\nAdd 2 and 2.")
	require.NotNil(t, reasoningCall)
}

func TestStream_UntaggedOutputIsForwardedVerbatim(t *testing.T) {
	up := mocks.NewMockUpstream().
		WithResponse("Greeting request.").
		WithContentChunks("Hello ", "world!")
	o := newOrchestrator(t, up)

	sink, report := run(t, o, fixtures.SimpleRequest("Say hello"))

	assert.Equal(t, []string{
		"summary.prompt", "summary.reasoning", "output.delta", "output.delta", "output.done",
	}, sink.Names())
	events := sink.Events()
	assert.Equal(t, "", events[1].Text())
	assert.Equal(t, []string{"Hello ", "world!"}, outputDeltas(events))

	// only the prompt summary ran
	assert.Len(t, up.CompleteCalls(), 1)
	assert.Equal(t, gateway.StatusEmpty, report.ReasoningSummaryStatus)
	assert.False(t, report.TagsSeen)
}

func TestStream_MainRequest(t *testing.T) {
	up := mocks.NewMockUpstream().WithContentChunks("<final>ok</final>")
	o := newOrchestrator(t, up)

	temp := 0.7
	req := fixtures.ConversationRequest()
	req.SummaryModel = "small"
	req.Temperature = &temp
	req.Extra = map[string]json.RawMessage{"seed": json.RawMessage("7")}
	run(t, o, req)

	calls := up.StreamCalls()
	require.Len(t, calls, 1)
	mainReq := calls[0]
	assert.True(t, mainReq.Stream)
	assert.Equal(t, fixtures.DefaultModel, mainReq.Model)
	require.Len(t, mainReq.Messages, len(req.Messages)+1)
	assert.Equal(t, upstream.Message{Role: "system", Content: gateway.TagInstruction}, mainReq.Messages[0])
	assert.Equal(t, "And times 3?", mainReq.Messages[4].Content)

	body, err := json.Marshal(mainReq)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "summary_model")
	assert.Contains(t, string(body), `"seed":7`)
	assert.Contains(t, string(body), `"temperature":0.7`)

	prompt := up.FindSummaryCall("Prompt:\n")
	require.NotNil(t, prompt)
	assert.Contains(t, prompt.Messages[1].Content,
		"system: You are helpful.\nuser: What is 2+2?\nassistant: 4\nuser: And times 3?")
	assert.False(t, prompt.Stream)
	require.NotNil(t, prompt.Temperature)
	assert.InDelta(t, 0.2, *prompt.Temperature, 1e-9)
}

func TestStream_SummaryModelSelection(t *testing.T) {
	tests := []struct {
		name         string
		requestModel string
		defaultModel string
		want         string
	}{
		{name: "request override", requestModel: "tiny", defaultModel: "small", want: "tiny"},
		{name: "configured default", defaultModel: "small", want: "small"},
		{name: "falls back to request model", want: fixtures.DefaultModel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := mocks.NewMockUpstream().WithDeltas(fixtures.TaggedDeltas("r", "f", 0)...)
			o := newOrchestrator(t, up, func(opts *gateway.Options) {
				opts.DefaultSummaryModel = tt.defaultModel
			})
			req := fixtures.SimpleRequest("hi")
			req.SummaryModel = tt.requestModel

			_, report := run(t, o, req)

			calls := up.CompleteCalls()
			require.Len(t, calls, 2)
			for _, c := range calls {
				assert.Equal(t, tt.want, c.Model)
			}
			assert.Equal(t, tt.want, report.SummaryModel)
			assert.Equal(t, fixtures.DefaultModel, up.StreamCalls()[0].Model)
		})
	}
}

func TestStream_PromptSummaryTimeout(t *testing.T) {
	up := mocks.NewMockUpstream().
		WithCompleteFunc(func(ctx context.Context, req *upstream.ChatRequest) (string, error) {
			if summaryKind(req) == gateway.SummaryPrompt {
				<-ctx.Done()
				return "", ctx.Err()
			}
			return "reasoning summary", nil
		}).
		WithDeltas(fixtures.TaggedDeltas("thinking", "done", 4)...)
	o := newOrchestrator(t, up, func(opts *gateway.Options) {
		opts.SummaryTimeout = 50 * time.Millisecond
	})

	sink, report := run(t, o, fixtures.SimpleRequest("slow"))
	events := sink.Events()

	require.NotEmpty(t, events)
	assert.Equal(t, api.EventError, events[0].Name)
	payload, ok := events[0].Data.(api.ErrorPayload)
	require.True(t, ok)
	assert.Equal(t, "prompt summary failed", payload.Message)
	assert.Equal(t, api.StagePromptSummary, payload.Stage)
	assert.Equal(t, "req-1", payload.RequestID)

	assert.Equal(t, api.EventSummaryReasoning, events[1].Name)
	assert.Equal(t, "reasoning summary", events[1].Text())
	assert.Equal(t, "done", sink.OutputText())
	assert.Equal(t, gateway.StatusTimeout, report.PromptSummaryStatus)
	assert.Equal(t, gateway.OutcomeCompleted, report.Outcome)
}

func TestStream_ReasoningSummaryFailure(t *testing.T) {
	up := mocks.NewMockUpstream().
		WithCompleteFunc(func(_ context.Context, req *upstream.ChatRequest) (string, error) {
			if summaryKind(req) == gateway.SummaryPrompt {
				return "prompt summary", nil
			}
			return "", types.NewError(types.ErrUpstreamError, "Upstream error 500: boom")
		}).
		WithDeltas(fixtures.TaggedDeltas("thinking", "answer", 3)...)
	o := newOrchestrator(t, up)

	sink, report := run(t, o, fixtures.SimpleRequest("hi"))
	events := sink.Events()

	names := sink.Names()
	assert.Equal(t, []string{"summary.prompt", "error", "summary.reasoning"}, names[:3])
	payload := events[1].Data.(api.ErrorPayload)
	assert.Equal(t, "reasoning summary failed", payload.Message)
	assert.Equal(t, api.StageReasoningSummary, payload.Stage)
	assert.Equal(t, "", events[2].Text())
	assert.Equal(t, "answer", sink.OutputText())
	assert.Equal(t, "output.done", names[len(names)-1])
	assert.Equal(t, gateway.StatusFailed, report.ReasoningSummaryStatus)
}

func TestStream_StreamErrorAfterPartialOutput(t *testing.T) {
	up := mocks.NewMockUpstream().
		WithResponse("s").
		WithDeltas(
			upstream.Delta{Content: "<final>Hello there, friend"},
			upstream.Delta{Err: errors.New("connection reset")},
		)
	o := newOrchestrator(t, up)

	sink, report := run(t, o, fixtures.SimpleRequest("hi"))
	names := sink.Names()
	events := sink.Events()

	assert.Equal(t, []string{
		"summary.prompt", "summary.reasoning", "output.delta", "error", "output.done",
	}, names)
	assert.Equal(t, "Hello there,", events[2].Text())
	payload := events[3].Data.(api.ErrorPayload)
	assert.Equal(t, api.StageUpstreamStream, payload.Stage)
	assert.Equal(t, "connection reset", payload.Message)

	assert.Equal(t, gateway.OutcomeStreamError, report.Outcome)
	assert.Equal(t, "connection reset", report.StreamError)
}

func TestStream_StreamOpenFailure(t *testing.T) {
	openErr := types.NewError(types.ErrUpstreamError, "Upstream error 500: internal").WithHTTPStatus(500)
	up := mocks.NewMockUpstream().WithResponse("s").WithStreamError(openErr)
	o := newOrchestrator(t, up)

	sink, _ := run(t, o, fixtures.SimpleRequest("hi"))

	assert.Equal(t, []string{"summary.prompt", "summary.reasoning", "error", "output.done"}, sink.Names())
	payload := sink.Events()[2].Data.(api.ErrorPayload)
	assert.Equal(t, openErr.Error(), payload.Message)
}

func TestStream_ConsumerPanicBecomesStreamError(t *testing.T) {
	up := mocks.NewMockUpstream().
		WithResponse("s").
		WithStreamFunc(func(context.Context, *upstream.ChatRequest) (<-chan upstream.Delta, error) {
			panic("decoder exploded")
		})
	o := newOrchestrator(t, up)

	sink, report := run(t, o, fixtures.SimpleRequest("hi"))

	assert.Equal(t, []string{"summary.prompt", "summary.reasoning", "error", "output.done"}, sink.Names())
	payload := sink.Events()[2].Data.(api.ErrorPayload)
	assert.Contains(t, payload.Message, "stream consumption failed")
	assert.Equal(t, gateway.OutcomeStreamError, report.Outcome)
}

func TestStream_NativeReasoning(t *testing.T) {
	up := mocks.NewMockUpstream().
		WithCompleteFunc(byKind("p", "r")).
		WithDeltas(fixtures.NativeDeltas(
			[]string{"step one ", "step two"},
			[]string{"Final ", "<b>answer</b>"},
		)...)
	o := newOrchestrator(t, up)

	sink, report := run(t, o, fixtures.SimpleRequest("hi"))

	assert.Equal(t, []string{"Final ", "<b>answer</b>"}, outputDeltas(sink.Events()))
	require.NotNil(t, up.FindSummaryCall("Reasoning:\nstep one step two"))
	assert.True(t, report.NativeReasoning)
	assert.False(t, report.TagsSeen)
}

func TestStream_NativeReasoningDisabled(t *testing.T) {
	up := mocks.NewMockUpstream().
		WithResponse("p").
		WithDeltas(fixtures.NativeDeltas([]string{"hidden"}, []string{"Final ", "answer"})...)
	o := newOrchestrator(t, up, func(opts *gateway.Options) {
		opts.ParseNativeReasoning = false
	})

	sink, report := run(t, o, fixtures.SimpleRequest("hi"))

	assert.Equal(t, []string{"Final ", "answer"}, outputDeltas(sink.Events()))
	assert.Equal(t, "", sink.Events()[1].Text())
	assert.Nil(t, up.FindSummaryCall("Reasoning:"))
	assert.False(t, report.NativeReasoning)
}

func TestStream_ReasoningIsTruncated(t *testing.T) {
	up := mocks.NewMockUpstream().WithDeltas(fixtures.TaggedDeltas("abcdefghijklmnop", "x", 5)...)
	o := newOrchestrator(t, up, func(opts *gateway.Options) {
		opts.MaxReasoningChars = 10
	})

	run(t, o, fixtures.SimpleRequest("hi"))

	call := up.FindSummaryCall("Reasoning:\n")
	require.NotNil(t, call)
	assert.True(t, strings.HasSuffix(call.Messages[1].Content, "Reasoning:\nabcdefghij"))
}

func TestStream_ReasoningSummaryStartsBeforeStreamEnds(t *testing.T) {
	reasoningStarted := make(chan struct{})
	var once sync.Once

	up := mocks.NewMockUpstream().
		WithCompleteFunc(func(_ context.Context, req *upstream.ChatRequest) (string, error) {
			if summaryKind(req) == gateway.SummaryReasoning {
				once.Do(func() { close(reasoningStarted) })
				return "r", nil
			}
			return "p", nil
		}).
		WithStreamFunc(func(ctx context.Context, _ *upstream.ChatRequest) (<-chan upstream.Delta, error) {
			ch := make(chan upstream.Delta)
			go func() {
				defer close(ch)
				ch <- upstream.Delta{Content: "<analysis>plan</analysis>"}
				select {
				case <-reasoningStarted:
				case <-ctx.Done():
					return
				}
				ch <- upstream.Delta{Content: "<final>ok</final>"}
			}()
			return ch, nil
		})
	o := newOrchestrator(t, up)

	sink, report := run(t, o, fixtures.SimpleRequest("hi"))

	assert.Equal(t, "ok", sink.OutputText())
	assert.Equal(t, gateway.OutcomeCompleted, report.Outcome)
}

func TestStream_SinkFailureStopsSession(t *testing.T) {
	up := mocks.NewMockUpstream().
		WithResponse("p").
		WithDeltas(fixtures.TaggedDeltas("r", "a long answer", 2)...).
		WithDeltaDelay(5 * time.Millisecond)
	o := newOrchestrator(t, up)

	var observed *gateway.Report
	o.AddObserver(gateway.ObserverFunc(func(_ context.Context, r *gateway.Report) { observed = r }))

	sink := testutil.NewRecordingSink().FailAfter(3)
	report, err := o.Stream(testutil.TestContext(t), "req-1", fixtures.SimpleRequest("hi"), sink)

	require.ErrorIs(t, err, testutil.ErrSinkClosed)
	assert.Equal(t, 3, sink.Len())
	require.NotNil(t, report)
	assert.Equal(t, gateway.OutcomeCancelled, report.Outcome)
	assert.Same(t, report, observed)
}

func TestStream_ContextCancelled(t *testing.T) {
	const delay = time.Second
	var (
		mu          sync.Mutex
		completeErr []error
	)
	streamStopped := make(chan error, 1)
	up := mocks.NewMockUpstream().
		WithCompleteFunc(func(ctx context.Context, _ *upstream.ChatRequest) (string, error) {
			select {
			case <-ctx.Done():
			case <-time.After(delay):
			}
			mu.Lock()
			completeErr = append(completeErr, ctx.Err())
			mu.Unlock()
			return "late summary", ctx.Err()
		}).
		WithStreamFunc(func(ctx context.Context, _ *upstream.ChatRequest) (<-chan upstream.Delta, error) {
			ch := make(chan upstream.Delta)
			go func() {
				defer close(ch)
				<-ctx.Done()
				streamStopped <- ctx.Err()
			}()
			return ch, nil
		})
	o := newOrchestrator(t, up)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	sink := testutil.NewRecordingSink()

	start := time.Now()
	report, err := o.Stream(ctx, "", fixtures.SimpleRequest("hi"), sink)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, elapsed, delay/2)
	assert.Zero(t, sink.Len())
	assert.Equal(t, gateway.OutcomeCancelled, report.Outcome)
	assert.Len(t, report.RequestID, 32)

	// 摘要调用在 Stream 返回前结束，流式调用的 ctx 同样被取消
	mu.Lock()
	require.NotEmpty(t, completeErr)
	for _, e := range completeErr {
		assert.ErrorIs(t, e, context.Canceled)
	}
	mu.Unlock()
	streamErr, ok := testutil.WaitForChannel[error](streamStopped, delay/2)
	require.True(t, ok, "upstream stream context was not cancelled")
	assert.ErrorIs(t, streamErr, context.Canceled)
}

type memoryCache struct {
	mu   sync.Mutex
	data map[string]string
}

func (c *memoryCache) Get(_ context.Context, key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok
}

func (c *memoryCache) Set(_ context.Context, key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
}

func TestStream_CancelDuringOutput(t *testing.T) {
	up := mocks.NewMockUpstream().
		WithResponse("p").
		WithDeltas(fixtures.TaggedDeltas("r", strings.Repeat("answer ", 40), 3)...).
		WithDeltaDelay(5 * time.Millisecond)
	o := newOrchestrator(t, up)

	firstDelta := make(chan struct{}, 1)
	sink := testutil.NewRecordingSink().OnSend(func(e api.Event) {
		if e.Name == api.EventOutputDelta {
			select {
			case firstDelta <- struct{}{}:
			default:
			}
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	type result struct {
		report *gateway.Report
		err    error
	}
	done := make(chan result, 1)
	go func() {
		report, err := o.Stream(ctx, "req-1", fixtures.SimpleRequest("hi"), sink)
		done <- result{report, err}
	}()

	_, ok := testutil.WaitForChannel[struct{}](firstDelta, 5*time.Second)
	require.True(t, ok, "no output.delta before timeout")
	cancel()

	res, ok := testutil.WaitForChannel[result](done, 5*time.Second)
	require.True(t, ok, "Stream did not return after cancel")
	require.ErrorIs(t, res.err, context.Canceled)
	assert.Equal(t, gateway.OutcomeCancelled, res.report.Outcome)

	names := sink.Names()
	require.GreaterOrEqual(t, len(names), 3)
	assert.Equal(t, []string{"summary.prompt", "summary.reasoning", "output.delta"}, names[:3])
	assert.NotContains(t, names, "output.done")
}

func TestStream_SummaryCache(t *testing.T) {
	cache := &memoryCache{data: map[string]string{}}
	up := mocks.NewMockUpstream().
		WithCompleteFunc(byKind("p", "r")).
		WithDeltas(fixtures.TaggedDeltas("same reasoning", "a", 0)...)
	o := newOrchestrator(t, up, func(opts *gateway.Options) { opts.Cache = cache })

	_, first := run(t, o, fixtures.SimpleRequest("hi"))
	require.Len(t, up.CompleteCalls(), 2)
	assert.Equal(t, gateway.StatusOK, first.PromptSummaryStatus)

	sink, second := run(t, o, fixtures.SimpleRequest("hi"))
	assert.Len(t, up.CompleteCalls(), 2)
	assert.Equal(t, gateway.StatusCached, second.PromptSummaryStatus)
	assert.Equal(t, gateway.StatusCached, second.ReasoningSummaryStatus)
	assert.Equal(t, "p", sink.Events()[0].Text())
	assert.Equal(t, "r", sink.Events()[1].Text())
}

func TestStream_FailedSummaryIsNotCached(t *testing.T) {
	cache := &memoryCache{data: map[string]string{}}
	up := mocks.NewMockUpstream().
		WithCompleteError(errors.New("down")).
		WithContentChunks("plain")
	o := newOrchestrator(t, up, func(opts *gateway.Options) { opts.Cache = cache })

	run(t, o, fixtures.SimpleRequest("hi"))
	assert.Empty(t, cache.data)
}

func TestStream_ObserverPanicIsContained(t *testing.T) {
	up := mocks.NewMockUpstream().WithContentChunks("x")
	o := newOrchestrator(t, up, func(opts *gateway.Options) {
		opts.Observers = []gateway.Observer{
			gateway.ObserverFunc(func(context.Context, *gateway.Report) { panic("observer bug") }),
		}
	})

	sink, _ := run(t, o, fixtures.SimpleRequest("hi"))
	assert.Equal(t, "output.done", sink.Names()[sink.Len()-1])
}

func TestSummaryCacheKey(t *testing.T) {
	a := gateway.SummaryCacheKey(gateway.SummaryPrompt, "m", "text")
	assert.Equal(t, a, gateway.SummaryCacheKey(gateway.SummaryPrompt, "m", "text"))
	assert.NotEqual(t, a, gateway.SummaryCacheKey(gateway.SummaryReasoning, "m", "text"))
	assert.NotEqual(t, a, gateway.SummaryCacheKey(gateway.SummaryPrompt, "m2", "text"))
	assert.True(t, strings.HasPrefix(a, "summary:prompt:"))
}
