package gateway

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/syranol/inference-gateway/api"
	"github.com/syranol/inference-gateway/llm/reasoning"
	"github.com/syranol/inference-gateway/llm/upstream"
)

// DefaultSummaryTimeout bounds each summarization call.
const DefaultSummaryTimeout = 10 * time.Second

// Upstream is the part of the upstream client the orchestrator needs.
type Upstream interface {
	Complete(ctx context.Context, req *upstream.ChatRequest) (string, error)
	StreamDeltas(ctx context.Context, req *upstream.ChatRequest) (<-chan upstream.Delta, error)
}

// EventSink receives the ordered events of one session. A returned error
// ends the session; it usually means the client went away.
type EventSink interface {
	Send(ctx context.Context, e api.Event) error
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(ctx context.Context, e api.Event) error

// Send calls f.
func (f SinkFunc) Send(ctx context.Context, e api.Event) error { return f(ctx, e) }

// SummaryCache stores summaries across sessions. Implementations must be
// safe for concurrent use and treat failures as misses.
type SummaryCache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string)
}

// Options configures an Orchestrator.
type Options struct {
	SummaryTimeout       time.Duration
	MaxReasoningChars    int
	ParseNativeReasoning bool
	DefaultSummaryModel  string
	Cache                SummaryCache
	Observers            []Observer
}

// DefaultOptions returns the stock orchestrator settings.
func DefaultOptions() Options {
	return Options{
		SummaryTimeout:       DefaultSummaryTimeout,
		MaxReasoningChars:    reasoning.DefaultMaxChars,
		ParseNativeReasoning: true,
	}
}

// Orchestrator turns one gateway request into the ordered event stream:
// prompt summary, reasoning summary, final-answer deltas, done.
type Orchestrator struct {
	upstream Upstream
	opts     Options
	logger   *zap.Logger
	inst     *instruments
}

// New creates an Orchestrator.
func New(up Upstream, opts Options, logger *zap.Logger) (*Orchestrator, error) {
	if up == nil {
		return nil, errors.New("gateway: upstream is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.SummaryTimeout <= 0 {
		opts.SummaryTimeout = DefaultSummaryTimeout
	}
	if opts.MaxReasoningChars <= 0 {
		opts.MaxReasoningChars = reasoning.DefaultMaxChars
	}
	inst, err := newInstruments()
	if err != nil {
		return nil, err
	}
	return &Orchestrator{
		upstream: up,
		opts:     opts,
		logger:   logger.With(zap.String("component", "orchestrator")),
		inst:     inst,
	}, nil
}

// AddObserver registers an observer. Not safe to call while streaming.
func (o *Orchestrator) AddObserver(obs Observer) {
	o.opts.Observers = append(o.opts.Observers, obs)
}

// NewRequestID returns a fresh 32-char hex request identifier.
func NewRequestID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Stream runs one session and writes its events to sink. It returns nil
// when output.done was delivered, otherwise the context or sink error that
// ended the session early. Background work is stopped before Stream returns.
func (o *Orchestrator) Stream(ctx context.Context, requestID string, req *api.GatewayRequest, sink EventSink) (report *Report, err error) {
	if requestID == "" {
		requestID = NewRequestID()
	}
	s := newSession(o, requestID, req, sink)

	ctx, span := o.inst.tracer.Start(ctx, "gateway.stream",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("gateway.request_id", requestID),
			attribute.String("gateway.model", req.Model),
			attribute.String("gateway.summary_model", s.summaryModel),
		))
	o.inst.sessionStarted(ctx, req.Model)

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)

	defer func() {
		cancel()
		_ = g.Wait()
		report = s.finish(err)

		o.inst.sessionFinished(ctx, req.Model, report.Outcome)
		span.SetAttributes(
			attribute.String("gateway.outcome", report.Outcome),
			attribute.Int("gateway.output_fragments", report.OutputFragments),
		)
		if report.Outcome != OutcomeCompleted {
			span.SetStatus(codes.Error, report.Outcome)
		}
		span.End()

		o.notify(context.WithoutCancel(ctx), report)
	}()

	s.logger.Debug("session started", zap.String("summary_model", s.summaryModel))

	promptCh := make(chan summaryResult, 1)
	g.Go(func() error {
		promptCh <- s.summarize(gctx, SummaryPrompt, req.PromptText())
		return nil
	})
	g.Go(func() error {
		s.consume(gctx, BuildMainRequest(req))
		return nil
	})

	// 1. prompt summary
	promptSummary, perr := s.await(ctx, SummaryPrompt, promptCh)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if perr != nil {
		s.stageFailed(ctx, api.StagePromptSummary, perr)
		if err := s.emit(ctx, api.NewErrorEvent(api.StagePromptSummary, "prompt summary failed", requestID)); err != nil {
			return nil, err
		}
	} else if err := s.emit(ctx, api.NewTextEvent(api.EventSummaryPrompt, promptSummary, requestID)); err != nil {
		return nil, err
	}

	// 2. reasoning boundary
	first, werr := waitFirst(ctx, s.analysisReady, s.primaryDone)
	if werr != nil {
		return nil, werr
	}
	span.AddEvent("reasoning.ready", trace.WithAttributes(
		attribute.Bool("gateway.stream_finished", first == s.primaryDone),
	))

	// 3. reasoning summary
	reasoningSummary := ""
	if text := s.reasoning.Truncated(); text == "" {
		s.report.ReasoningSummaryStatus = StatusEmpty
	} else {
		reasoningCh := make(chan summaryResult, 1)
		g.Go(func() error {
			reasoningCh <- s.summarize(gctx, SummaryReasoning, text)
			return nil
		})
		summary, rerr := s.await(ctx, SummaryReasoning, reasoningCh)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if rerr != nil {
			s.stageFailed(ctx, api.StageReasoningSummary, rerr)
			if err := s.emit(ctx, api.NewErrorEvent(api.StageReasoningSummary, "reasoning summary failed", requestID)); err != nil {
				return nil, err
			}
		} else {
			reasoningSummary = summary
		}
	}
	if err := s.emit(ctx, api.NewTextEvent(api.EventSummaryReasoning, reasoningSummary, requestID)); err != nil {
		return nil, err
	}

	// 4. final answer
	for {
		text, ok, perr := s.queue.Pop(ctx)
		if perr != nil {
			return nil, perr
		}
		if !ok {
			break
		}
		if err := s.emit(ctx, api.NewTextEvent(api.EventOutputDelta, text, requestID)); err != nil {
			return nil, err
		}
		s.report.OutputFragments++
		s.report.OutputChars += len([]rune(text))
	}

	if serr := s.streamError(); serr != nil {
		s.stageFailed(ctx, api.StageUpstreamStream, serr)
		if err := s.emit(ctx, api.NewErrorEvent(api.StageUpstreamStream, serr.Error(), requestID)); err != nil {
			return nil, err
		}
	}

	if err := s.emit(ctx, api.NewDoneEvent(requestID)); err != nil {
		return nil, err
	}
	return nil, nil
}

func (o *Orchestrator) notify(ctx context.Context, report *Report) {
	for _, obs := range o.opts.Observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					o.logger.Error("observer panicked",
						zap.String("request_id", report.RequestID),
						zap.Any("panic", r))
				}
			}()
			obs.ObserveSession(ctx, report)
		}()
	}
}
