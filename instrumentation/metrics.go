package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the provider
type Metrics struct {
	// HTTP Layer Metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// OAuth Flow Metrics
	AuthorizationStarted   metric.Int64Counter
	AuthorizationCompleted metric.Int64Counter
	CodeExchanged          metric.Int64Counter
	TokenRefreshed         metric.Int64Counter
	ClientRegistered       metric.Int64Counter
	ClientRevoked          metric.Int64Counter

	// Security Metrics
	RateLimitExceeded     metric.Int64Counter
	ClientAuthFailed      metric.Int64Counter
	PKCEValidationFailed  metric.Int64Counter
	TokenValidationFailed metric.Int64Counter

	// Storage Metrics
	StorageOperationTotal     metric.Int64Counter
	StorageOperationDuration  metric.Float64Histogram
	StorageClientsCount       metric.Int64ObservableGauge
	StoragePendingCount       metric.Int64ObservableGauge
	StorageCodesCount         metric.Int64ObservableGauge
	StorageRefreshTokensCount metric.Int64ObservableGauge
}

type counterDef struct {
	target      *metric.Int64Counter
	name        string
	description string
	unit        string
}

type gaugeDef struct {
	target      *metric.Int64ObservableGauge
	name        string
	description string
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}

	httpMeter := inst.Meter("http")
	serverMeter := inst.Meter("server")
	securityMeter := inst.Meter("security")
	storageMeter := inst.Meter("storage")

	var err error
	m.HTTPRequestsTotal, err = httpMeter.Int64Counter(
		"oidc.http.requests.total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.requests.total counter: %w", err)
	}

	m.HTTPRequestDuration, err = httpMeter.Float64Histogram(
		"oidc.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	counters := []struct {
		meter metric.Meter
		defs []counterDef
	}{
		{serverMeter, []counterDef{
			{&m.AuthorizationStarted, "oidc.authorization.started", "Number of authorization requests accepted", "{request}"},
			{&m.AuthorizationCompleted, "oidc.authorization.completed", "Number of authorization codes issued after login", "{code}"},
			{&m.CodeExchanged, "oidc.code.exchanged", "Number of authorization codes exchanged for tokens", "{exchange}"},
			{&m.TokenRefreshed, "oidc.token.refreshed", "Number of refresh token grants", "{refresh}"},
			{&m.ClientRegistered, "oidc.client.registered", "Number of clients registered", "{client}"},
			{&m.ClientRevoked, "oidc.client.revoked", "Number of clients revoked", "{client}"},
		}},
		{securityMeter, []counterDef{
			{&m.RateLimitExceeded, "oidc.rate_limit.exceeded", "Number of requests rejected by a rate limiter", "{request}"},
			{&m.ClientAuthFailed, "oidc.client_auth.failed", "Number of failed client authentications", "{attempt}"},
			{&m.PKCEValidationFailed, "oidc.pkce.validation_failed", "Number of PKCE verifier mismatches", "{attempt}"},
			{&m.TokenValidationFailed, "oidc.token.validation_failed", "Number of rejected bearer tokens", "{token}"},
		}},
		{storageMeter, []counterDef{
			{&m.StorageOperationTotal, "oidc.storage.operations.total", "Total number of storage operations", "{operation}"},
		}},
	}

	for _, group := range counters {
		for _, def := range group.defs {
			*def.target, err = group.meter.Int64Counter(
				def.name,
				metric.WithDescription(def.description),
				metric.WithUnit(def.unit),
			)
			if err != nil {
				return nil, fmt.Errorf("failed to create %s counter: %w", def.name, err)
			}
		}
	}

	m.StorageOperationDuration, err = storageMeter.Float64Histogram(
		"oidc.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	gauges := []gaugeDef{
		{&m.StorageClientsCount, "oidc.storage.clients.count", "Number of registered clients"},
		{&m.StoragePendingCount, "oidc.storage.pending_requests.count", "Number of pending authorization requests"},
		{&m.StorageCodesCount, "oidc.storage.codes.count", "Number of unexchanged authorization codes"},
		{&m.StorageRefreshTokensCount, "oidc.storage.refresh_tokens.count", "Number of stored refresh tokens"},
	}
	for _, def := range gauges {
		*def.target, err = storageMeter.Int64ObservableGauge(
			def.name,
			metric.WithDescription(def.description),
			metric.WithUnit("{item}"),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s gauge: %w", def.name, err)
		}
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request with its duration
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	}

	m.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.HTTPRequestDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordAuthorizationStarted records an accepted authorization request
func (m *Metrics) RecordAuthorizationStarted(ctx context.Context, clientID string) {
	m.AuthorizationStarted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
	))
}

// RecordAuthorizationCompleted records a code issued at continuation
func (m *Metrics) RecordAuthorizationCompleted(ctx context.Context, clientID string) {
	m.AuthorizationCompleted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
	))
}

// RecordCodeExchange records an authorization code exchange
func (m *Metrics) RecordCodeExchange(ctx context.Context, clientID, pkceMethod string) {
	m.CodeExchanged.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.String("pkce_method", pkceMethod),
	))
}

// RecordTokenRefresh records a refresh token grant
func (m *Metrics) RecordTokenRefresh(ctx context.Context, clientID string, rotated bool) {
	m.TokenRefreshed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.Bool("rotated", rotated),
	))
}

// RecordClientRegistration records a client registration.
// source is "dynamic" for the registration endpoint and "admin" for host calls.
func (m *Metrics) RecordClientRegistration(ctx context.Context, source string) {
	m.ClientRegistered.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
	))
}

// RecordClientRevocation records a client removal
func (m *Metrics) RecordClientRevocation(ctx context.Context) {
	m.ClientRevoked.Add(ctx, 1)
}

// RecordRateLimitExceeded records a rate limit violation
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, limiterType string) {
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("limiter_type", limiterType),
	))
}

// RecordClientAuthFailure records a failed client authentication
func (m *Metrics) RecordClientAuthFailure(ctx context.Context, reason string) {
	m.ClientAuthFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
}

// RecordPKCEValidationFailed records a PKCE validation failure
func (m *Metrics) RecordPKCEValidationFailed(ctx context.Context, method string) {
	m.PKCEValidationFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
	))
}

// RecordTokenValidationFailed records a rejected bearer token
func (m *Metrics) RecordTokenValidationFailed(ctx context.Context, reason string) {
	m.TokenValidationFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	attrs := []attribute.KeyValue{
		attribute.String("operation", operation),
		attribute.String("result", result),
	}

	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}
