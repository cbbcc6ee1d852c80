package instrumentation

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestInstrumentation(t *testing.T) (*Instrumentation, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	inst, err := New(Config{Enabled: true, MetricReader: reader})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = inst.Shutdown(context.Background()) })
	return inst, reader
}

func counterTotals(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	out := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				out[m.Name] += dp.Value
			}
		}
	}
	return out
}

func TestMetrics_RecordHTTPRequest(t *testing.T) {
	ctx := context.Background()
	inst, reader := newTestInstrumentation(t)
	metrics := inst.Metrics()

	tests := []struct {
		method     string
		endpoint   string
		statusCode int
		durationMs float64
	}{
		{"GET", "/oidc/authorize", 200, 12.5},
		{"POST", "/oidc/token", 200, 23.4},
		{"POST", "/oidc/token", 401, 4.5},
	}
	for _, tt := range tests {
		metrics.RecordHTTPRequest(ctx, tt.method, tt.endpoint, tt.statusCode, tt.durationMs)
	}

	got := counterTotals(t, reader)
	if got["oidc.http.requests.total"] != 3 {
		t.Errorf("oidc.http.requests.total = %d, want 3", got["oidc.http.requests.total"])
	}
}

func TestMetrics_FlowCounters(t *testing.T) {
	ctx := context.Background()
	inst, reader := newTestInstrumentation(t)
	metrics := inst.Metrics()

	metrics.RecordAuthorizationStarted(ctx, "client-a")
	metrics.RecordAuthorizationStarted(ctx, "client-b")
	metrics.RecordAuthorizationCompleted(ctx, "client-a")
	metrics.RecordCodeExchange(ctx, "client-a", "S256")
	metrics.RecordTokenRefresh(ctx, "client-a", true)
	metrics.RecordClientRegistration(ctx, "dynamic")
	metrics.RecordClientRegistration(ctx, "admin")
	metrics.RecordClientRevocation(ctx)

	got := counterTotals(t, reader)
	want := map[string]int64{
		"oidc.authorization.started":   2,
		"oidc.authorization.completed": 1,
		"oidc.code.exchanged":          1,
		"oidc.token.refreshed":         1,
		"oidc.client.registered":       2,
		"oidc.client.revoked":          1,
	}
	for name, v := range want {
		if got[name] != v {
			t.Errorf("%s = %d, want %d", name, got[name], v)
		}
	}
}

func TestMetrics_SecurityCounters(t *testing.T) {
	ctx := context.Background()
	inst, reader := newTestInstrumentation(t)
	metrics := inst.Metrics()

	metrics.RecordRateLimitExceeded(ctx, "client_auth")
	metrics.RecordClientAuthFailure(ctx, "invalid_secret")
	metrics.RecordClientAuthFailure(ctx, "unknown_client")
	metrics.RecordPKCEValidationFailed(ctx, "S256")
	metrics.RecordTokenValidationFailed(ctx, "expired")

	got := counterTotals(t, reader)
	want := map[string]int64{
		"oidc.rate_limit.exceeded":     1,
		"oidc.client_auth.failed":      2,
		"oidc.pkce.validation_failed":  1,
		"oidc.token.validation_failed": 1,
	}
	for name, v := range want {
		if got[name] != v {
			t.Errorf("%s = %d, want %d", name, got[name], v)
		}
	}
}

func TestMetrics_RecordStorageOperation(t *testing.T) {
	ctx := context.Background()
	inst, reader := newTestInstrumentation(t)

	inst.Metrics().RecordStorageOperation(ctx, "save_client", "success", 0.4)
	inst.Metrics().RecordStorageOperation(ctx, "get_client", "not_found", 0.1)

	got := counterTotals(t, reader)
	if got["oidc.storage.operations.total"] != 2 {
		t.Errorf("oidc.storage.operations.total = %d, want 2", got["oidc.storage.operations.total"])
	}
}

func TestMetrics_DisabledIsNoop(t *testing.T) {
	inst, err := New(Config{Enabled: false})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	// no-op instruments must accept recordings
	inst.Metrics().RecordHTTPRequest(context.Background(), "GET", "/oidc/jwks", 200, 1)
	inst.Metrics().RecordClientRevocation(context.Background())
}
