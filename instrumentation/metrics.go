package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds every metric instrument recorded by the server.
// All Record methods are safe to call on a nil *Metrics.
type Metrics struct {
	// HTTP
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Authorization code flow
	AuthorizationStarted metric.Int64Counter
	CodeIssued           metric.Int64Counter
	CodeExchanged        metric.Int64Counter
	CodeRedeemFailed     metric.Int64Counter
	TokenValidated       metric.Int64Counter

	// Security
	RateLimitExceeded       metric.Int64Counter
	RateLimitActiveLimiters metric.Int64ObservableGauge

	// Storage
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram
	StorageCodesCount        metric.Int64ObservableGauge
	StorageTokensCount       metric.Int64ObservableGauge
}

func newMetrics(inst *Instrumentation) (*Metrics, error) {
	httpMeter := inst.Meter("http")
	serverMeter := inst.Meter("server")
	securityMeter := inst.Meter("security")
	storageMeter := inst.Meter("storage")

	m := &Metrics{}
	var err error

	counters := []struct {
		dst   *metric.Int64Counter
		meter metric.Meter
		name  string
		desc  string
		unit  string
	}{
		{&m.HTTPRequestsTotal, httpMeter, "oauth.http.requests.total", "Total number of HTTP requests", "{request}"},
		{&m.AuthorizationStarted, serverMeter, "oauth.authorization.started", "Number of validated authorization requests", "{request}"},
		{&m.CodeIssued, serverMeter, "oauth.code.issued", "Number of authorization codes issued", "{code}"},
		{&m.CodeExchanged, serverMeter, "oauth.code.exchanged", "Number of authorization codes exchanged for access tokens", "{exchange}"},
		{&m.CodeRedeemFailed, serverMeter, "oauth.code.redeem_failed", "Number of rejected authorization code redemptions", "{failure}"},
		{&m.TokenValidated, serverMeter, "oauth.token.validated", "Number of access token validations", "{validation}"},
		{&m.RateLimitExceeded, securityMeter, "oauth.rate_limit.exceeded", "Number of rate limit violations", "{violation}"},
		{&m.StorageOperationTotal, storageMeter, "oauth.storage.operation.total", "Total number of storage operations", "{operation}"},
	}
	for _, c := range counters {
		*c.dst, err = c.meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
	}

	m.HTTPRequestDuration, err = httpMeter.Float64Histogram(
		"oauth.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	m.StorageOperationDuration, err = storageMeter.Float64Histogram(
		"oauth.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	m.StorageCodesCount, err = storageMeter.Int64ObservableGauge(
		"oauth.storage.codes.count",
		metric.WithDescription("Number of outstanding authorization codes"),
		metric.WithUnit("{code}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.codes.count gauge: %w", err)
	}

	m.StorageTokensCount, err = storageMeter.Int64ObservableGauge(
		"oauth.storage.tokens.count",
		metric.WithDescription("Number of stored access tokens"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.tokens.count gauge: %w", err)
	}

	m.RateLimitActiveLimiters, err = securityMeter.Int64ObservableGauge(
		"oauth.rate_limit.active_limiters",
		metric.WithDescription("Number of tracked rate limit buckets"),
		metric.WithUnit("{limiter}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate_limit.active_limiters gauge: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request with its status and duration
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	))
	m.HTTPRequestDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordAuthorizationStarted records a validated authorization request
func (m *Metrics) RecordAuthorizationStarted(ctx context.Context, clientID string) {
	if m == nil {
		return
	}
	m.AuthorizationStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("client_id", clientID)))
}

// RecordCodeIssued records a newly issued authorization code
func (m *Metrics) RecordCodeIssued(ctx context.Context, clientID string) {
	if m == nil {
		return
	}
	m.CodeIssued.Add(ctx, 1, metric.WithAttributes(attribute.String("client_id", clientID)))
}

// RecordCodeExchange records a successful code-for-token exchange
func (m *Metrics) RecordCodeExchange(ctx context.Context, clientID string) {
	if m == nil {
		return
	}
	m.CodeExchanged.Add(ctx, 1, metric.WithAttributes(attribute.String("client_id", clientID)))
}

// RecordCodeRedeemFailed records a rejected redemption. reason is one of
// "not_found", "expired", "client_mismatch" or "redirect_mismatch".
func (m *Metrics) RecordCodeRedeemFailed(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.CodeRedeemFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordTokenValidation records an access token check. result is "valid",
// "unknown" or "expired".
func (m *Metrics) RecordTokenValidation(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.TokenValidated.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordRateLimitExceeded records a request rejected by the rate limiter
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordStorageOperation records a storage call. result is "success" or "error".
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	if m == nil {
		return
	}
	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("result", result),
	))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}
