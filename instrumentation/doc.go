// Package instrumentation provides OpenTelemetry instrumentation for the OIDC provider.
//
// Metrics and traces are produced by every layer of the provider: the HTTP
// handlers, the authorization and token flows, the rate limiters and the
// in-memory provider state.
//
// # Quick Start
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		Enabled:         true,
//		ServiceName:     "oidc-provider",
//		ServiceVersion:  "1.0.0",
//		MetricsExporter: instrumentation.MetricsExporterPrometheus,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
//	http.Handle("/metrics", promhttp.Handler())
//
// When Enabled is false the package hands out no-op providers, so callers never
// need to nil-check meters or tracers.
//
// # Available Metrics
//
// HTTP Layer:
//   - oidc.http.requests.total{method, endpoint, status}
//   - oidc.http.request.duration{endpoint}
//
// Flows:
//   - oidc.authorization.started{client_id}
//   - oidc.authorization.completed{client_id}
//   - oidc.code.exchanged{client_id, pkce_method}
//   - oidc.token.refreshed{client_id, rotated}
//   - oidc.client.registered{source}
//   - oidc.client.revoked
//
// Security:
//   - oidc.rate_limit.exceeded{limiter_type}
//   - oidc.client_auth.failed{reason}
//   - oidc.pkce.validation_failed{method}
//   - oidc.token.validation_failed{reason}
//
// Storage:
//   - oidc.storage.operations.total{operation, result}
//   - oidc.storage.operation.duration{operation}
//   - oidc.storage.clients.count
//   - oidc.storage.pending_requests.count
//   - oidc.storage.codes.count
//   - oidc.storage.refresh_tokens.count
//
// # Privacy
//
// Client IP addresses are only attached to spans when Config.LogClientIPs is set.
package instrumentation
