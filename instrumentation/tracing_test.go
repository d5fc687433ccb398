package instrumentation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTracedInstrumentation(t *testing.T) (*Instrumentation, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	inst, err := New(Config{Enabled: true, MetricsExporter: MetricsExporterNone, SpanExporter: exporter})
	require.NoError(t, err)
	t.Cleanup(func() { _ = inst.Shutdown(context.Background()) })
	return inst, exporter
}

func attrMap(kvs []attribute.KeyValue) map[string]attribute.Value {
	out := make(map[string]attribute.Value, len(kvs))
	for _, kv := range kvs {
		out[string(kv.Key)] = kv.Value
	}
	return out
}

func TestSpanHelpers(t *testing.T) {
	inst, exporter := newTracedInstrumentation(t)

	_, span := inst.Tracer("server").Start(context.Background(), "oauth.server.exchange")
	AddOAuthFlowAttributes(span, "abc123", "")
	AddStorageAttributes(span, "redeem_code", "memory")
	AddHTTPAttributes(span, "POST", "/token", 400)
	AddSecurityAttributes(span, "")
	RecordError(span, errors.New("invalid_grant"))
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	got := spans[0]

	assert.Equal(t, "oauth.server.exchange", got.Name)
	assert.Equal(t, codes.Error, got.Status.Code)
	assert.Equal(t, "invalid_grant", got.Status.Description)
	require.Len(t, got.Events, 1)

	attrs := attrMap(got.Attributes)
	assert.Equal(t, "abc123", attrs[AttrClientID].AsString())
	assert.Equal(t, "memory", attrs[AttrStorageType].AsString())
	assert.Equal(t, int64(400), attrs[AttrHTTPStatusCode].AsInt64())
	_, hasUser := attrs[AttrUsername]
	assert.False(t, hasUser, "empty username must not be recorded")
	_, hasIP := attrs[AttrClientIP]
	assert.False(t, hasIP, "empty client IP must not be recorded")
}

func TestSetSpanSuccess(t *testing.T) {
	inst, exporter := newTracedInstrumentation(t)

	_, span := inst.Tracer("http").Start(context.Background(), "oauth.http.resource")
	SetSpanSuccess(span)
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Ok, spans[0].Status.Code)
}

func TestSpanHelpers_NilSafe(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordError(nil, errors.New("x"))
		SetSpanSuccess(nil)
		SetSpanError(nil, "x")
		SetSpanAttributes(nil, attribute.String("k", "v"))
		AddOAuthFlowAttributes(nil, "c", "u")
		AddStorageAttributes(nil, "op", "memory")
		AddHTTPAttributes(nil, "GET", "/", 200)
		AddSecurityAttributes(nil, "127.0.0.1")
	})
}

func TestDisabledTracerIsNoop(t *testing.T) {
	inst, err := New(Config{Enabled: false})
	require.NoError(t, err)

	_, span := inst.Tracer("http").Start(context.Background(), "oauth.http.token")
	assert.False(t, span.IsRecording())
	span.End()
}
