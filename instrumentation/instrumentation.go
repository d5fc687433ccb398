package instrumentation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	// DefaultServiceName is used when Config.ServiceName is empty
	DefaultServiceName = "oauth-authcode"

	// DefaultServiceVersion is used when Config.ServiceVersion is empty
	DefaultServiceVersion = "unknown"

	// instrumentationPrefix scopes every meter and tracer name
	instrumentationPrefix = "github.com/giantswarm/oauth-authcode/"
)

// Supported metric exporters
const (
	MetricsExporterPrometheus = "prometheus"
	MetricsExporterNone       = "none"
)

// Config holds instrumentation configuration
type Config struct {
	// ServiceName is reported as the service.name resource attribute
	ServiceName string

	// ServiceVersion is reported as the service.version resource attribute
	ServiceVersion string

	// Enabled selects SDK providers. When false, noop providers are used.
	Enabled bool

	// MetricsExporter is "prometheus" (default when Enabled) or "none".
	MetricsExporter string

	// MetricReader, when set, replaces the configured exporter.
	// Tests pass an sdkmetric.ManualReader here.
	MetricReader sdkmetric.Reader

	// SpanExporter, when set, receives finished spans synchronously.
	// Without one, spans are recorded for context propagation but not exported.
	SpanExporter sdktrace.SpanExporter

	// LogClientIPs controls whether client IPs are attached to spans.
	// Client IPs may count as personal data in some jurisdictions.
	LogClientIPs bool

	// Resource overrides the default service resource
	Resource *resource.Resource
}

// Instrumentation owns the OpenTelemetry providers and metric instruments
type Instrumentation struct {
	config   Config
	resource *resource.Resource

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider

	// registry backs the Prometheus exporter; nil unless it is in use
	registry *prometheus.Registry

	metrics *Metrics

	// registered during New only
	shutdownFuncs []func(context.Context) error
	shutdownOnce  sync.Once
}

// New creates the providers described by config and registers all instruments
func New(config Config) (*Instrumentation, error) {
	if config.ServiceName == "" {
		config.ServiceName = DefaultServiceName
	}
	if config.ServiceVersion == "" {
		config.ServiceVersion = DefaultServiceVersion
	}
	if config.MetricsExporter == "" {
		config.MetricsExporter = MetricsExporterPrometheus
	}

	res := config.Resource
	if res == nil {
		var err error
		res, err = resource.New(
			context.Background(),
			resource.WithSchemaURL(semconv.SchemaURL),
			resource.WithAttributes(
				semconv.ServiceName(config.ServiceName),
				semconv.ServiceVersion(config.ServiceVersion),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create resource: %w", err)
		}
	}

	inst := &Instrumentation{
		config:   config,
		resource: res,
	}

	if config.Enabled {
		if err := inst.initializeProviders(); err != nil {
			_ = inst.Shutdown(context.Background())
			return nil, fmt.Errorf("failed to initialize providers: %w", err)
		}
	} else {
		inst.meterProvider = noop.NewMeterProvider()
		inst.tracerProvider = tracenoop.NewTracerProvider()
	}

	metrics, err := newMetrics(inst)
	if err != nil {
		_ = inst.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}
	inst.metrics = metrics

	return inst, nil
}

func (i *Instrumentation) initializeProviders() error {
	traceOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(i.resource),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	}
	if i.config.SpanExporter != nil {
		traceOpts = append(traceOpts, sdktrace.WithSyncer(i.config.SpanExporter))
	}
	tp := sdktrace.NewTracerProvider(traceOpts...)
	i.tracerProvider = tp
	i.shutdownFuncs = append(i.shutdownFuncs, tp.Shutdown)

	reader := i.config.MetricReader
	if reader == nil {
		switch i.config.MetricsExporter {
		case MetricsExporterPrometheus:
			registry := prometheus.NewRegistry()
			exporter, err := otelprometheus.New(otelprometheus.WithRegisterer(registry))
			if err != nil {
				return fmt.Errorf("failed to start prometheus exporter: %w", err)
			}
			i.registry = registry
			reader = exporter
		case MetricsExporterNone:
		default:
			return fmt.Errorf("unsupported metrics exporter %q", i.config.MetricsExporter)
		}
	}

	if reader == nil {
		i.meterProvider = noop.NewMeterProvider()
		return nil
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(i.resource),
		sdkmetric.WithReader(reader),
	)
	i.meterProvider = mp
	i.shutdownFuncs = append(i.shutdownFuncs, mp.Shutdown)

	return nil
}

// Shutdown flushes and stops the providers. Only the first call has effect.
func (i *Instrumentation) Shutdown(ctx context.Context) error {
	var errs []error
	i.shutdownOnce.Do(func() {
		for _, fn := range i.shutdownFuncs {
			if err := fn(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

// Meter returns a meter named after the given layer ("http", "server", "storage", ...)
func (i *Instrumentation) Meter(scope string) metric.Meter {
	return i.meterProvider.Meter(instrumentationPrefix + scope)
}

// Tracer returns a tracer named after the given layer
func (i *Instrumentation) Tracer(scope string) trace.Tracer {
	return i.tracerProvider.Tracer(instrumentationPrefix + scope)
}

// Metrics returns the metric instruments
func (i *Instrumentation) Metrics() *Metrics {
	return i.metrics
}

// TracerProvider returns the underlying tracer provider
func (i *Instrumentation) TracerProvider() trace.TracerProvider {
	return i.tracerProvider
}

// MeterProvider returns the underlying meter provider
func (i *Instrumentation) MeterProvider() metric.MeterProvider {
	return i.meterProvider
}

// ShouldLogClientIPs reports whether client IPs may be attached to spans
func (i *Instrumentation) ShouldLogClientIPs() bool {
	return i.config.LogClientIPs
}

// PrometheusHandler serves the Prometheus exposition of all recorded metrics.
// It responds 404 when the Prometheus exporter is not in use.
func (i *Instrumentation) PrometheusHandler() http.Handler {
	if i == nil || i.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(i.registry, promhttp.HandlerOpts{})
}

// StorageSizeCallback returns the current number of entries in a store
type StorageSizeCallback func() int64

// RegisterStorageSizeCallbacks reports live code and token counts through the
// oauth.storage.codes.count and oauth.storage.tokens.count gauges.
// Either callback may be nil.
func (i *Instrumentation) RegisterStorageSizeCallbacks(codesCount, tokensCount StorageSizeCallback) error {
	if i.meterProvider == nil || i.metrics == nil {
		return fmt.Errorf("meter provider not initialized")
	}

	_, err := i.Meter("storage").RegisterCallback(
		func(_ context.Context, observer metric.Observer) error {
			if codesCount != nil {
				observer.ObserveInt64(i.metrics.StorageCodesCount, codesCount())
			}
			if tokensCount != nil {
				observer.ObserveInt64(i.metrics.StorageTokensCount, tokensCount())
			}
			return nil
		},
		i.metrics.StorageCodesCount,
		i.metrics.StorageTokensCount,
	)
	return err
}

// RegisterRateLimiterCallback reports the number of tracked rate limit buckets
func (i *Instrumentation) RegisterRateLimiterCallback(activeLimiters StorageSizeCallback) error {
	if i.meterProvider == nil || i.metrics == nil {
		return fmt.Errorf("meter provider not initialized")
	}
	if activeLimiters == nil {
		return nil
	}

	_, err := i.Meter("security").RegisterCallback(
		func(_ context.Context, observer metric.Observer) error {
			observer.ObserveInt64(i.metrics.RateLimitActiveLimiters, activeLimiters())
			return nil
		},
		i.metrics.RateLimitActiveLimiters,
	)
	return err
}
