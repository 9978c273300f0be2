package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "hirecall"

// Config selects whether spans are exported to Jaeger.
type Config struct {
	Enabled     bool
	ServiceName string
	JaegerURL   string
	Environment string
	SampleRate  float64
}

// TracerProvider owns the SDK provider when tracing is enabled. The zero
// value is a no-op.
type TracerProvider struct {
	tp *tracesdk.TracerProvider
}

// Init installs a Jaeger-backed provider and the W3C propagators as the
// otel globals. With tracing disabled it installs only the propagators, so
// incoming trace headers are still forwarded.
func Init(cfg Config) (*TracerProvider, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if !cfg.Enabled {
		return &TracerProvider{}, nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = instrumentationName
	}

	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerURL)))
	if err != nil {
		return nil, fmt.Errorf("create jaeger exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(res),
		tracesdk.WithSampler(tracesdk.ParentBased(tracesdk.TraceIDRatioBased(cfg.SampleRate))),
	)
	otel.SetTracerProvider(tp)
	return &TracerProvider{tp: tp}, nil
}

// Shutdown flushes pending spans.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp == nil || tp.tp == nil {
		return nil
	}
	return tp.tp.Shutdown(ctx)
}

var (
	CallIDKey       = attribute.Key("call.id")
	UserIDKey       = attribute.Key("user.id")
	SignalTypeKey   = attribute.Key("signal.type")
	StoreOpKey      = attribute.Key("store.operation")
	StoreBackendKey = attribute.Key("store.backend")
	DurationMsKey   = attribute.Key("duration_ms")
)

func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, opts...)
}

func AddSpanAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(attrs...)
	}
}

// RecordError marks the span in ctx as failed.
func RecordError(ctx context.Context, err error) {
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// TraceHTTPRequest starts a client or server span for one API request.
func TraceHTTPRequest(ctx context.Context, method, route string) (context.Context, trace.Span) {
	return StartSpan(ctx, "http."+method,
		trace.WithAttributes(
			semconv.HTTPMethodKey.String(method),
			semconv.HTTPRouteKey.String(route),
		),
	)
}

// TraceSignal starts a span for one signaling envelope handled by the relay.
func TraceSignal(ctx context.Context, signalType, userID string) (context.Context, trace.Span) {
	return StartSpan(ctx, "signal."+signalType,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(SignalTypeKey.String(signalType), UserIDKey.String(userID)),
	)
}

func TraceCall(ctx context.Context, operation, callID string) (context.Context, trace.Span) {
	return StartSpan(ctx, "call."+operation, trace.WithAttributes(CallIDKey.String(callID)))
}

func TraceRepositoryOperation(ctx context.Context, operation, backend string) (context.Context, trace.Span) {
	return StartSpan(ctx, "store."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(StoreOpKey.String(operation), StoreBackendKey.String(backend)),
	)
}

// MeasureDuration stamps the elapsed time since start on the span in ctx.
func MeasureDuration(ctx context.Context, start time.Time) {
	AddSpanAttributes(ctx, DurationMsKey.Int64(time.Since(start).Milliseconds()))
}
