package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys. Authorization codes, tokens, client secrets and
// pending request ids are credentials and never become attribute values.
const (
	AttrClientID     = "oidc.client_id"
	AttrUserID       = "oidc.user_id"
	AttrScope        = "oidc.scope"
	AttrGrantType    = "oidc.grant_type"
	AttrPKCEMethod   = "oidc.pkce.method"
	AttrTokenRotated = "oidc.refresh_token.rotated" //nolint:gosec // boolean flag, not a credential

	// AttrClientIP is only set when Config.LogClientIPs is enabled.
	AttrClientIP = "oidc.client_ip"

	AttrStorageOperation = "storage.operation"
	AttrStorageType      = "storage.type"

	AttrHTTPEndpoint   = "http.endpoint"
	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"
)

// The helpers below accept a nil span.

// RecordError records err on span and marks it failed.
func RecordError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

func SetSpanError(span trace.Span, message string) {
	if span != nil {
		span.SetStatus(codes.Error, message)
	}
}

func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil && len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
}

// AddOAuthFlowAttributes records the client, user and scope of a flow step.
// Empty values are left out.
func AddOAuthFlowAttributes(span trace.Span, clientID, userID, scope string) {
	attrs := make([]attribute.KeyValue, 0, 3)
	for _, kv := range []struct{ key, value string }{
		{AttrClientID, clientID},
		{AttrUserID, userID},
		{AttrScope, scope},
	} {
		if kv.value != "" {
			attrs = append(attrs, attribute.String(kv.key, kv.value))
		}
	}
	SetSpanAttributes(span, attrs...)
}

// AddGrantAttributes records the grant of a token request. rotated only
// applies to refresh_token grants.
func AddGrantAttributes(span trace.Span, grantType string, rotated bool) {
	attrs := []attribute.KeyValue{attribute.String(AttrGrantType, grantType)}
	if grantType == "refresh_token" {
		attrs = append(attrs, attribute.Bool(AttrTokenRotated, rotated))
	}
	SetSpanAttributes(span, attrs...)
}

func AddPKCEAttributes(span trace.Span, method string) {
	if method != "" {
		SetSpanAttributes(span, attribute.String(AttrPKCEMethod, method))
	}
}

func AddStorageAttributes(span trace.Span, operation, storageType string) {
	SetSpanAttributes(span,
		attribute.String(AttrStorageOperation, operation),
		attribute.String(AttrStorageType, storageType),
	)
}

func AddHTTPAttributes(span trace.Span, method, endpoint string, statusCode int) {
	SetSpanAttributes(span,
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPEndpoint, endpoint),
		attribute.Int(AttrHTTPStatusCode, statusCode),
	)
}

// AddClientIPAttribute records ip when i allows client addresses on spans.
func (i *Instrumentation) AddClientIPAttribute(span trace.Span, ip string) {
	if i == nil || !i.ShouldLogClientIPs() || ip == "" {
		return
	}
	SetSpanAttributes(span, attribute.String(AttrClientIP, ip))
}
