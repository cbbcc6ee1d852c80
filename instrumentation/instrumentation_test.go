package instrumentation

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:   "disabled",
			config: Config{Enabled: false},
		},
		{
			name: "enabled with service name and version",
			config: Config{
				Enabled:        true,
				ServiceName:    "test-service",
				ServiceVersion: "1.0.0",
			},
		},
		{
			name: "prometheus exporter on private registry",
			config: Config{
				Enabled:              true,
				MetricsExporter:      MetricsExporterPrometheus,
				PrometheusRegisterer: prometheus.NewRegistry(),
			},
		},
		{
			name: "unknown exporter",
			config: Config{
				Enabled:         true,
				MetricsExporter: "carrier-pigeon",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst, err := New(tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			defer func() { _ = inst.Shutdown(context.Background()) }()

			if inst.Meter("http") == nil {
				t.Error("Meter('http') returned nil")
			}
			if inst.Tracer("server") == nil {
				t.Error("Tracer('server') returned nil")
			}
			if inst.Metrics() == nil {
				t.Error("Metrics() returned nil")
			}
			if inst.TracerProvider() == nil {
				t.Error("TracerProvider() returned nil")
			}
			if inst.MeterProvider() == nil {
				t.Error("MeterProvider() returned nil")
			}
		})
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	inst, err := New(Config{Enabled: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := inst.Shutdown(context.Background()); err != nil {
		t.Errorf("first Shutdown() error = %v", err)
	}
	if err := inst.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
}

func TestShouldLogClientIPs(t *testing.T) {
	inst, err := New(Config{LogClientIPs: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if !inst.ShouldLogClientIPs() {
		t.Error("ShouldLogClientIPs() = false, want true")
	}
}

func TestObserveStorage(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	inst, err := New(Config{Enabled: true, MetricReader: reader})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	err = inst.ObserveStorage(StorageGauges{
		Clients:         func() int64 { return 3 },
		PendingRequests: func() int64 { return 1 },
		RefreshTokens:   func() int64 { return 7 },
	})
	if err != nil {
		t.Fatalf("ObserveStorage() error = %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	got := gaugeValues(rm)
	want := map[string]int64{
		"oidc.storage.clients.count":          3,
		"oidc.storage.pending_requests.count": 1,
		"oidc.storage.refresh_tokens.count":   7,
	}
	for name, v := range want {
		if got[name] != v {
			t.Errorf("%s = %d, want %d", name, got[name], v)
		}
	}
	if _, ok := got["oidc.storage.codes.count"]; ok {
		t.Error("codes gauge observed although callback was nil")
	}
}

func gaugeValues(rm metricdata.ResourceMetrics) map[string]int64 {
	out := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			g, ok := m.Data.(metricdata.Gauge[int64])
			if !ok || len(g.DataPoints) == 0 {
				continue
			}
			out[m.Name] = g.DataPoints[0].Value
		}
	}
	return out
}
