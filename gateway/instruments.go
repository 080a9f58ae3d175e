package gateway

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/syranol/inference-gateway/gateway"

// instruments 编排器的 OpenTelemetry 埋点
type instruments struct {
	tracer trace.Tracer

	sessionTotal    metric.Int64Counter
	stageFailures   metric.Int64Counter
	summaryDuration metric.Float64Histogram
	activeSessions  metric.Int64UpDownCounter
}

// newInstruments 使用全局 provider 创建埋点；未配置导出器时为 no-op
func newInstruments() (*instruments, error) {
	meter := otel.Meter(instrumentationName)
	in := &instruments{tracer: otel.Tracer(instrumentationName)}

	var err error
	in.sessionTotal, err = meter.Int64Counter("gateway.session.total",
		metric.WithDescription("Total number of streaming sessions"),
		metric.WithUnit("{session}"))
	if err != nil {
		return nil, err
	}

	in.stageFailures, err = meter.Int64Counter("gateway.stage.failure.total",
		metric.WithDescription("Total number of pipeline stage failures"),
		metric.WithUnit("{failure}"))
	if err != nil {
		return nil, err
	}

	in.summaryDuration, err = meter.Float64Histogram("gateway.summary.duration",
		metric.WithDescription("Summary call duration in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	in.activeSessions, err = meter.Int64UpDownCounter("gateway.session.active",
		metric.WithDescription("Number of sessions currently streaming"),
		metric.WithUnit("{session}"))
	if err != nil {
		return nil, err
	}

	return in, nil
}

func (in *instruments) sessionStarted(ctx context.Context, model string) {
	in.activeSessions.Add(ctx, 1, metric.WithAttributes(attribute.String("model", model)))
}

func (in *instruments) sessionFinished(ctx context.Context, model, outcome string) {
	in.activeSessions.Add(ctx, -1, metric.WithAttributes(attribute.String("model", model)))
	in.sessionTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("outcome", outcome),
	))
}

func (in *instruments) stageFailed(ctx context.Context, stage string) {
	in.stageFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

func (in *instruments) summaryObserved(ctx context.Context, kind SummaryKind, status string, d time.Duration) {
	in.summaryDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("status", status),
	))
}
