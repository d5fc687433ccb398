package instrumentation

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{name: "disabled", config: Config{Enabled: false}},
		{name: "enabled with prometheus", config: Config{Enabled: true, ServiceName: "authserver", ServiceVersion: "1.0.0"}},
		{name: "enabled without metrics export", config: Config{Enabled: true, MetricsExporter: MetricsExporterNone}},
		{name: "enabled with manual reader", config: Config{Enabled: true, MetricReader: sdkmetric.NewManualReader()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst, err := New(tt.config)
			require.NoError(t, err)
			defer func() { _ = inst.Shutdown(context.Background()) }()

			assert.NotNil(t, inst.Meter("http"))
			assert.NotNil(t, inst.Tracer("server"))
			assert.NotNil(t, inst.Metrics())
			assert.NotNil(t, inst.MeterProvider())
			assert.NotNil(t, inst.TracerProvider())
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	inst, err := New(Config{})
	require.NoError(t, err)

	assert.Equal(t, DefaultServiceName, inst.config.ServiceName)
	assert.Equal(t, DefaultServiceVersion, inst.config.ServiceVersion)
	assert.Equal(t, MetricsExporterPrometheus, inst.config.MetricsExporter)
	assert.False(t, inst.ShouldLogClientIPs())
}

func TestNew_UnsupportedExporter(t *testing.T) {
	_, err := New(Config{Enabled: true, MetricsExporter: "statsd"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "statsd")
}

func TestShutdown_Idempotent(t *testing.T) {
	inst, err := New(Config{Enabled: true})
	require.NoError(t, err)

	assert.NoError(t, inst.Shutdown(context.Background()))
	assert.NoError(t, inst.Shutdown(context.Background()))
}

func TestPrometheusHandler(t *testing.T) {
	inst, err := New(Config{Enabled: true, ServiceName: "authserver"})
	require.NoError(t, err)
	defer func() { _ = inst.Shutdown(context.Background()) }()

	inst.Metrics().RecordCodeIssued(context.Background(), "abc123")

	rec := httptest.NewRecorder()
	inst.PrometheusHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "oauth_code_issued")
	assert.Contains(t, string(body), `client_id="abc123"`)
}

func TestPrometheusHandler_NotConfigured(t *testing.T) {
	inst, err := New(Config{Enabled: false})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	inst.PrometheusHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var nilInst *Instrumentation
	rec = httptest.NewRecorder()
	nilInst.PrometheusHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRegisterStorageSizeCallbacks(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	inst, err := New(Config{Enabled: true, MetricReader: reader})
	require.NoError(t, err)
	defer func() { _ = inst.Shutdown(context.Background()) }()

	require.NoError(t, inst.RegisterStorageSizeCallbacks(
		func() int64 { return 3 },
		func() int64 { return 7 },
	))
	require.NoError(t, inst.RegisterRateLimiterCallback(func() int64 { return 2 }))

	rm := collect(t, reader)
	assert.Equal(t, int64(3), gaugeValue(t, rm, "oauth.storage.codes.count"))
	assert.Equal(t, int64(7), gaugeValue(t, rm, "oauth.storage.tokens.count"))
	assert.Equal(t, int64(2), gaugeValue(t, rm, "oauth.rate_limit.active_limiters"))
}

func TestRegisterStorageSizeCallbacks_NilCallbacks(t *testing.T) {
	inst, err := New(Config{Enabled: false})
	require.NoError(t, err)

	assert.NoError(t, inst.RegisterStorageSizeCallbacks(nil, nil))
	assert.NoError(t, inst.RegisterRateLimiterCallback(nil))
}
