package internal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lychee-technology/orcall"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Lightweight emitter hook for ad-hoc measurements. The default emitter is a
// no-op; wiring code may register a real one.

type telemetryEmitter func(ctx context.Context, name string, labels map[string]string, value any)

var (
	teleMu   sync.Mutex
	teleImpl telemetryEmitter = func(ctx context.Context, name string, labels map[string]string, value any) {}
)

// RegisterTelemetryEmitter registers a custom emitter function. A nil fn
// restores the no-op emitter.
func RegisterTelemetryEmitter(fn telemetryEmitter) {
	teleMu.Lock()
	defer teleMu.Unlock()
	if fn == nil {
		teleImpl = func(ctx context.Context, name string, labels map[string]string, value any) {}
		return
	}
	teleImpl = fn
}

func emit(ctx context.Context, name string, labels map[string]string, value any) {
	teleMu.Lock()
	fn := teleImpl
	teleMu.Unlock()
	fn(ctx, name, labels, value)
}

// EmitCatalogueFetch records where a catalogue was loaded from.
// name: "orcall_catalogue_fetch" with label {"source": "remote"|"snapshot"}
func EmitCatalogueFetch(ctx context.Context, source string, ms int64) {
	emit(ctx, "orcall_catalogue_fetch", map[string]string{"source": source}, ms)
}

// EmitEncodedFields records how many fields a call wrote into its port.
func EmitEncodedFields(ctx context.Context, procedure string, fields int) {
	emit(ctx, "orcall_encoded_fields", map[string]string{"procedure": procedure}, int64(fields))
}

// CallInfo describes one dispatched call.
type CallInfo struct {
	CallID    string
	Procedure string
	Source    orcall.SignatureSource
	Signature orcall.FlatSignature
}

// CallHook observes calls. OnCallStart may return a derived context that is
// used for the rest of the call.
type CallHook interface {
	OnCallStart(ctx context.Context, info CallInfo) (context.Context, any)
	OnCallEnd(ctx context.Context, token any, info CallInfo, err error)
}

type noopCallHook struct{}

func (noopCallHook) OnCallStart(ctx context.Context, _ CallInfo) (context.Context, any) {
	return ctx, nil
}

func (noopCallHook) OnCallEnd(context.Context, any, CallInfo, error) {}

// NoopCallHook returns a hook that does nothing.
func NoopCallHook() CallHook {
	return noopCallHook{}
}

const instrumentationName = "orcall"

// OtelConfig configures the OpenTelemetry call hook.
type OtelConfig struct {
	// TracerProvider defaults to otel.GetTracerProvider().
	TracerProvider trace.TracerProvider
	// MeterProvider defaults to otel.GetMeterProvider().
	MeterProvider metric.MeterProvider
	Application   string
}

type otelCallHook struct {
	application       string
	tracer            trace.Tracer
	callCounter       metric.Int64Counter
	durationHistogram metric.Float64Histogram
}

type otelToken struct {
	span  trace.Span
	start time.Time
}

// NewOtelCallHook creates a hook that opens a client span per call and
// records a call counter and a duration histogram.
func NewOtelCallHook(cfg OtelConfig) CallHook {
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}
	hook := &otelCallHook{
		application: cfg.Application,
		tracer:      cfg.TracerProvider.Tracer(instrumentationName),
	}
	meter := cfg.MeterProvider.Meter(instrumentationName)
	hook.callCounter, _ = meter.Int64Counter("orcall.client.calls",
		metric.WithUnit("{call}"),
		metric.WithDescription("Number of remote procedure calls"),
	)
	hook.durationHistogram, _ = meter.Float64Histogram("orcall.client.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Duration of remote procedure calls"),
	)
	return hook
}

func (h *otelCallHook) OnCallStart(ctx context.Context, info CallInfo) (context.Context, any) {
	ctx, span := h.tracer.Start(ctx, fmt.Sprintf("orcall/%s", info.Procedure),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("rpc.system", "orcall"),
			attribute.String("rpc.service", h.application),
			attribute.String("rpc.method", info.Procedure),
			attribute.String("orcall.call_id", info.CallID),
			attribute.String("orcall.signature_source", string(info.Source)),
		),
	)
	return ctx, &otelToken{span: span, start: time.Now()}
}

func (h *otelCallHook) OnCallEnd(ctx context.Context, token any, info CallInfo, err error) {
	tok, ok := token.(*otelToken)
	if !ok {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("rpc.system", "orcall"),
		attribute.String("rpc.method", info.Procedure),
		attribute.String("status", status),
	)
	if h.callCounter != nil {
		h.callCounter.Add(ctx, 1, attrs)
	}
	if h.durationHistogram != nil {
		h.durationHistogram.Record(ctx, time.Since(tok.start).Seconds(), attrs)
	}

	defer tok.span.End()
	if !tok.span.IsRecording() {
		return
	}
	if info.Signature != nil {
		tok.span.SetAttributes(attribute.String("orcall.signature", info.Signature.String()))
	}
	if err != nil {
		tok.span.SetStatus(codes.Error, err.Error())
		tok.span.RecordError(err)
		code := fmt.Sprintf("%T", err)
		var callErr *orcall.CallError
		if errors.As(err, &callErr) {
			code = callErr.Code
		}
		tok.span.SetAttributes(attribute.String("orcall.error_code", code))
	} else {
		tok.span.SetStatus(codes.Ok, "")
	}
}
