// Package instrumentation wires OpenTelemetry metrics and tracing into the
// authorization server.
//
// When enabled, metrics are produced by the OpenTelemetry SDK and exported in
// Prometheus format on a private registry; PrometheusHandler serves them.
// Tracing uses the SDK tracer provider, optionally with a span exporter.
// When disabled, noop providers are used and every helper stays safe to call.
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:    "authserver",
//		ServiceVersion: version,
//		Enabled:        true,
//	})
//	if err != nil {
//		return err
//	}
//	defer inst.Shutdown(context.Background())
//
//	mux.Handle("/metrics", inst.PrometheusHandler())
//
// # Metrics
//
// HTTP:
//   - oauth.http.requests.total{method, endpoint, status}
//   - oauth.http.request.duration{endpoint} (ms)
//
// Authorization code flow:
//   - oauth.authorization.started{client_id}
//   - oauth.code.issued{client_id}
//   - oauth.code.exchanged{client_id}
//   - oauth.code.redeem_failed{reason}
//   - oauth.token.validated{result}
//
// Security:
//   - oauth.rate_limit.exceeded{endpoint}
//   - oauth.rate_limit.active_limiters
//
// Storage:
//   - oauth.storage.operation.total{operation, result}
//   - oauth.storage.operation.duration{operation} (ms)
//   - oauth.storage.codes.count
//   - oauth.storage.tokens.count
//
// # Spans
//
// HTTP handlers open oauth.http.{authorize,token,resource}; the server opens
// oauth.server.* children and stores open storage.* spans. Credentials are
// never recorded as span attributes.
package instrumentation
