package tracing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tracesdk.NewTracerProvider(tracesdk.WithSpanProcessor(sr)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return sr
}

func attrs(span tracesdk.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value)
	for _, kv := range span.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestInit_Disabled(t *testing.T) {
	tp, err := Init(Config{Enabled: false})
	require.NoError(t, err)
	assert.NoError(t, tp.Shutdown(context.Background()))
	assert.Contains(t, otel.GetTextMapPropagator().Fields(), "traceparent")

	var nilProvider *TracerProvider
	assert.NoError(t, nilProvider.Shutdown(context.Background()))
}

func TestTraceCall(t *testing.T) {
	sr := recordSpans(t)

	_, span := TraceCall(context.Background(), "accept", "call-1")
	span.End()

	ended := sr.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "call.accept", ended[0].Name())
	assert.Equal(t, "call-1", attrs(ended[0])[CallIDKey].AsString())
}

func TestTraceSignal(t *testing.T) {
	sr := recordSpans(t)

	_, span := TraceSignal(context.Background(), "offer", "alice")
	span.End()

	ended := sr.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "signal.offer", ended[0].Name())
	assert.Equal(t, trace.SpanKindServer, ended[0].SpanKind())
	a := attrs(ended[0])
	assert.Equal(t, "offer", a[SignalTypeKey].AsString())
	assert.Equal(t, "alice", a[UserIDKey].AsString())
}

func TestTraceRepositoryOperation_Duration(t *testing.T) {
	sr := recordSpans(t)

	ctx, span := TraceRepositoryOperation(context.Background(), "end", "redis")
	MeasureDuration(ctx, time.Now().Add(-25*time.Millisecond))
	span.End()

	ended := sr.Ended()
	require.Len(t, ended, 1)
	a := attrs(ended[0])
	assert.Equal(t, "store.end", ended[0].Name())
	assert.Equal(t, "redis", a[StoreBackendKey].AsString())
	assert.GreaterOrEqual(t, a[DurationMsKey].AsInt64(), int64(25))
}

func TestRecordError(t *testing.T) {
	sr := recordSpans(t)

	ctx, span := TraceHTTPRequest(context.Background(), "POST", "/api/v1/call")
	RecordError(ctx, errors.New("boom"))
	span.End()

	ended := sr.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "http.POST", ended[0].Name())
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, "boom", ended[0].Status().Description)
	require.Len(t, ended[0].Events(), 1)
}

func TestRecordError_NoSpan(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordError(context.Background(), errors.New("boom"))
		AddSpanAttributes(context.Background(), CallIDKey.String("c1"))
	})
}
