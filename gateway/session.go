package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/syranol/inference-gateway/api"
	"github.com/syranol/inference-gateway/llm/reasoning"
	"github.com/syranol/inference-gateway/llm/upstream"
	"github.com/syranol/inference-gateway/types"
)

type summaryResult struct {
	text   string
	err    error
	status string
}

// session holds the per-request state shared by the orchestrator and the
// primary stream consumer.
type session struct {
	o            *Orchestrator
	requestID    string
	summaryModel string
	logger       *zap.Logger
	sink         EventSink

	// consumer-owned; read by finish after all goroutines stopped
	parser *reasoning.TagParser
	native bool
	raw    []string

	reasoning     *reasoning.Accumulator
	queue         *fragmentQueue
	analysisReady *signal
	primaryDone   *signal

	errMu     sync.Mutex
	streamErr error

	// orchestrator-owned
	report Report
}

func newSession(o *Orchestrator, requestID string, req *api.GatewayRequest, sink EventSink) *session {
	summaryModel := ResolveSummaryModel(req, o.opts.DefaultSummaryModel)
	return &session{
		o:             o,
		requestID:     requestID,
		summaryModel:  summaryModel,
		logger:        o.logger.With(zap.String("request_id", requestID), zap.String("model", req.Model)),
		sink:          sink,
		parser:        reasoning.NewTagParser(),
		reasoning:     reasoning.NewAccumulator(o.opts.MaxReasoningChars),
		queue:         newFragmentQueue(),
		analysisReady: newSignal(),
		primaryDone:   newSignal(),
		report: Report{
			RequestID:    requestID,
			Model:        req.Model,
			SummaryModel: summaryModel,
			StartedAt:    time.Now(),
		},
	}
}

// consume reads the primary stream, routing reasoning into the accumulator
// and final text into the queue. The queue is always closed on exit.
func (s *session) consume(ctx context.Context, req *upstream.ChatRequest) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("stream consumer panicked", zap.Any("panic", r))
			s.recordStreamError(types.NewStreamConsumptionError(fmt.Errorf("panic: %v", r)))
		}
		s.queue.Close()
		s.primaryDone.Fire()
	}()

	deltas, err := s.o.upstream.StreamDeltas(ctx, req)
	if err != nil {
		if ctx.Err() == nil {
			s.recordStreamError(err)
		}
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deltas:
			if !ok {
				if ctx.Err() == nil {
					s.finishStream()
				}
				return
			}
			if d.Err != nil {
				s.recordStreamError(d.Err)
				return
			}
			s.handleDelta(d)
		}
	}
}

func (s *session) handleDelta(d upstream.Delta) {
	if d.Reasoning != "" && s.o.opts.ParseNativeReasoning {
		if !s.native {
			s.logger.Debug("native reasoning detected, tag parsing disabled")
		}
		s.native = true
		s.reasoning.Append(d.Reasoning)
	}
	if d.Content == "" {
		return
	}

	if s.native {
		s.analysisReady.Fire()
		s.queue.Push(d.Content)
		return
	}

	if !s.parser.SeenAnyTag() {
		s.raw = append(s.raw, d.Content)
	}
	out := s.parser.Feed(d.Content)
	if s.parser.SeenAnyTag() {
		s.raw = nil
	}
	s.reasoning.AppendAll(out.Analysis)
	if out.AnalysisDone {
		s.analysisReady.Fire()
	}
	for _, f := range out.Final {
		s.queue.Push(f)
	}
	if len(out.Final) > 0 {
		s.analysisReady.Fire()
	}
}

// finishStream flushes the parser once the upstream stream ended normally.
func (s *session) finishStream() {
	if s.reasoning.Len() > 0 {
		s.analysisReady.Fire()
	}
	if s.native {
		return
	}

	out := s.parser.Finalize()
	if len(out.Analysis) > 0 {
		s.reasoning.AppendAll(out.Analysis)
		s.analysisReady.Fire()
	}
	for _, f := range out.Final {
		s.queue.Push(f)
	}

	// no tags at all: the whole content is the answer
	if !s.parser.SeenAnyTag() && len(s.raw) > 0 {
		s.logger.Debug("no tags in upstream output, forwarding raw content",
			zap.Int("chunks", len(s.raw)))
		for _, chunk := range s.raw {
			s.queue.Push(chunk)
		}
		s.raw = nil
		s.analysisReady.Fire()
	}
}

func (s *session) recordStreamError(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.streamErr == nil {
		s.streamErr = err
	}
}

func (s *session) streamError() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.streamErr
}

// summarize runs one summary call, consulting the cache first.
func (s *session) summarize(ctx context.Context, kind SummaryKind, text string) summaryResult {
	ctx, span := s.o.inst.tracer.Start(ctx, "gateway.summary", trace.WithAttributes(
		attribute.String("gateway.summary_kind", string(kind)),
		attribute.String("gateway.summary_model", s.summaryModel),
	))
	defer span.End()

	start := time.Now()
	key := SummaryCacheKey(kind, s.summaryModel, text)
	cache := s.o.opts.Cache
	if cache != nil {
		if v, ok := cache.Get(ctx, key); ok {
			span.SetAttributes(attribute.Bool("gateway.cache_hit", true))
			s.o.inst.summaryObserved(ctx, kind, StatusCached, time.Since(start))
			return summaryResult{text: v, status: StatusCached}
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, s.o.opts.SummaryTimeout)
	defer cancel()

	v, err := s.o.upstream.Complete(callCtx, BuildSummaryRequest(kind, text, s.summaryModel))
	status := StatusOK
	if err != nil {
		status = StatusFailed
		if errors.Is(err, context.DeadlineExceeded) || types.IsErrorCode(err, types.ErrUpstreamTimeout) {
			status = StatusTimeout
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
	} else if cache != nil {
		cache.Set(ctx, key, v)
	}
	s.o.inst.summaryObserved(ctx, kind, status, time.Since(start))
	return summaryResult{text: v, err: err, status: status}
}

// await waits for a summary result, at most SummaryTimeout. A ctx error is
// returned as-is so the caller can abort.
func (s *session) await(ctx context.Context, kind SummaryKind, ch <-chan summaryResult) (string, error) {
	timer := time.NewTimer(s.o.opts.SummaryTimeout)
	defer timer.Stop()

	var res summaryResult
	select {
	case res = <-ch:
	case <-timer.C:
		res = summaryResult{
			status: StatusTimeout,
			err:    types.WrapContextError(context.DeadlineExceeded),
		}
	case <-ctx.Done():
		return "", ctx.Err()
	}

	switch kind {
	case SummaryPrompt:
		s.report.PromptSummaryStatus = res.status
	case SummaryReasoning:
		s.report.ReasoningSummaryStatus = res.status
	}
	return res.text, res.err
}

func (s *session) emit(ctx context.Context, e api.Event) error {
	if err := s.sink.Send(ctx, e); err != nil {
		s.logger.Debug("event sink failed", zap.String("event", string(e.Name)), zap.Error(err))
		return err
	}
	return nil
}

func (s *session) stageFailed(ctx context.Context, stage api.Stage, err error) {
	s.logger.Warn("stage failed", zap.String("stage", string(stage)), zap.Error(err))
	s.o.inst.stageFailed(ctx, string(stage))
}

// finish completes the report. Only called after every goroutine returned.
func (s *session) finish(err error) *Report {
	r := s.report
	r.Duration = time.Since(r.StartedAt)
	r.NativeReasoning = s.native
	r.TagsSeen = s.parser.SeenAnyTag()
	r.ReasoningChars = s.reasoning.Len()
	if serr := s.streamError(); serr != nil {
		r.StreamError = serr.Error()
	}
	if r.PromptSummaryStatus == "" {
		r.PromptSummaryStatus = StatusSkipped
	}
	if r.ReasoningSummaryStatus == "" {
		r.ReasoningSummaryStatus = StatusSkipped
	}

	switch {
	case err != nil:
		r.Outcome = OutcomeCancelled
	case r.StreamError != "":
		r.Outcome = OutcomeStreamError
	default:
		r.Outcome = OutcomeCompleted
	}

	s.logger.Info("session finished",
		zap.String("outcome", r.Outcome),
		zap.String("prompt_summary", r.PromptSummaryStatus),
		zap.String("reasoning_summary", r.ReasoningSummaryStatus),
		zap.Int("output_fragments", r.OutputFragments),
		zap.Duration("duration", r.Duration))
	return &r
}
