package instrumentation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
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
	DefaultServiceName    = "oidc-provider"
	DefaultServiceVersion = "unknown"

	// MetricsExporterPrometheus registers an OTel Prometheus exporter with
	// Config.PrometheusRegisterer (prometheus.DefaultRegisterer when nil).
	MetricsExporterPrometheus = "prometheus"
	// MetricsExporterNone keeps metrics in-process; pair it with MetricReader.
	MetricsExporterNone = "none"

	scopePrefix = "github.com/giantswarm/oidc-provider/"
)

// Config selects which providers back an Instrumentation. The zero value
// yields no-op meters and tracers.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string

	MetricsExporter      string // "prometheus" or "none" (default)
	PrometheusRegisterer prometheus.Registerer

	// Extra SDK hooks, mostly for tests: sdkmetric.NewManualReader() and
	// tracetest.NewSpanRecorder().
	MetricReader  sdkmetric.Reader
	SpanProcessor sdktrace.SpanProcessor

	// LogClientIPs adds the caller address to HTTP spans. Off by default
	// because an IP address is personal data in many jurisdictions.
	LogClientIPs bool

	Resource *resource.Resource
}

// Instrumentation owns the meter and tracer providers used by every layer of
// the provider.
type Instrumentation struct {
	config Config

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	metrics        *Metrics

	shutdown     []func(context.Context) error
	shutdownOnce sync.Once
}

func New(config Config) (*Instrumentation, error) {
	if config.ServiceName == "" {
		config.ServiceName = DefaultServiceName
	}
	if config.ServiceVersion == "" {
		config.ServiceVersion = DefaultServiceVersion
	}
	if config.MetricsExporter == "" {
		config.MetricsExporter = MetricsExporterNone
	}

	inst := &Instrumentation{
		config:         config,
		meterProvider:  noop.NewMeterProvider(),
		tracerProvider: tracenoop.NewTracerProvider(),
	}
	if config.Enabled {
		if err := inst.startSDK(); err != nil {
			return nil, err
		}
	}

	metrics, err := newMetrics(inst)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}
	inst.metrics = metrics
	return inst, nil
}

func (i *Instrumentation) startSDK() error {
	res := i.config.Resource
	if res == nil {
		var err error
		res, err = resource.New(context.Background(), resource.WithAttributes(
			semconv.ServiceName(i.config.ServiceName),
			semconv.ServiceVersion(i.config.ServiceVersion),
		))
		if err != nil {
			return fmt.Errorf("failed to create resource: %w", err)
		}
	}

	readers, err := i.metricReaders()
	if err != nil {
		return err
	}
	meterOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range readers {
		meterOpts = append(meterOpts, sdkmetric.WithReader(r))
	}
	mp := sdkmetric.NewMeterProvider(meterOpts...)

	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if i.config.SpanProcessor != nil {
		traceOpts = append(traceOpts, sdktrace.WithSpanProcessor(i.config.SpanProcessor))
	}
	tp := sdktrace.NewTracerProvider(traceOpts...)

	i.meterProvider, i.tracerProvider = mp, tp
	i.shutdown = []func(context.Context) error{mp.Shutdown, tp.Shutdown}
	return nil
}

func (i *Instrumentation) metricReaders() ([]sdkmetric.Reader, error) {
	var readers []sdkmetric.Reader

	switch i.config.MetricsExporter {
	case MetricsExporterNone:
	case MetricsExporterPrometheus:
		var opts []otelprom.Option
		if i.config.PrometheusRegisterer != nil {
			opts = append(opts, otelprom.WithRegisterer(i.config.PrometheusRegisterer))
		}
		exporter, err := otelprom.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		readers = append(readers, exporter)
	default:
		return nil, fmt.Errorf("unsupported metrics exporter %q", i.config.MetricsExporter)
	}

	if i.config.MetricReader != nil {
		readers = append(readers, i.config.MetricReader)
	}
	return readers, nil
}

// Shutdown flushes the SDK providers. Calls after the first return nil.
func (i *Instrumentation) Shutdown(ctx context.Context) error {
	var errs []error
	i.shutdownOnce.Do(func() {
		for _, fn := range i.shutdown {
			errs = append(errs, fn(ctx))
		}
	})
	return errors.Join(errs...)
}

// Meter returns the meter for a layer ("http", "server", "storage", "security").
func (i *Instrumentation) Meter(scope string) metric.Meter {
	return i.meterProvider.Meter(scopePrefix + scope)
}

// Tracer returns the tracer for a layer.
func (i *Instrumentation) Tracer(scope string) trace.Tracer {
	return i.tracerProvider.Tracer(scopePrefix + scope)
}

func (i *Instrumentation) Metrics() *Metrics { return i.metrics }
func (i *Instrumentation) TracerProvider() trace.TracerProvider { return i.tracerProvider }
func (i *Instrumentation) MeterProvider() metric.MeterProvider { return i.meterProvider }
func (i *Instrumentation) ShouldLogClientIPs() bool { return i.config.LogClientIPs }

// StorageGauges reports the size of each provider state collection. Nil
// funcs are not observed.
type StorageGauges struct {
	Clients            func() int64
	PendingRequests    func() int64
	AuthorizationCodes func() int64
	RefreshTokens      func() int64
}

// ObserveStorage registers g as the callback behind the storage gauges.
func (i *Instrumentation) ObserveStorage(g StorageGauges) error {
	m := i.metrics
	observed := []struct {
		gauge metric.Int64ObservableGauge
		fn    func() int64
	}{
		{m.StorageClientsCount, g.Clients},
		{m.StoragePendingCount, g.PendingRequests},
		{m.StorageCodesCount, g.AuthorizationCodes},
		{m.StorageRefreshTokensCount, g.RefreshTokens},
	}

	_, err := i.Meter("storage").RegisterCallback(func(_ context.Context, o metric.Observer) error {
		for _, ob := range observed {
			if ob.fn != nil {
				o.ObserveInt64(ob.gauge, ob.fn())
			}
		}
		return nil
	}, m.StorageClientsCount, m.StoragePendingCount, m.StorageCodesCount, m.StorageRefreshTokensCount)
	if err != nil {
		return fmt.Errorf("failed to register storage gauges: %w", err)
	}
	return nil
}
