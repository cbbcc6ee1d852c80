package security

// Audit event types.
const (
	EventTokenIssued    = "token_issued"
	EventTokenRefreshed = "token_refreshed"

	EventAuthorizationFlowStarted = "authorization_flow_started"
	EventAuthorizationCodeIssued  = "authorization_code_issued"

	EventClientRegistered = "client_registered"
	// EventClientRevoked also covers the refresh tokens removed with the client.
	EventClientRevoked = "client_revoked"
	EventClientUpdated = "client_updated"
	// EventClientSecretMigrated is logged once per client, when a legacy plain
	// secret is rewritten as a hash after a successful verification.
	EventClientSecretMigrated = "client_secret_migrated" //nolint:gosec // event name, not a credential

	EventAuthFailure = "auth_failure"
	// EventRateLimitExceeded covers both the lockout limiter and the
	// registration throttle; the limiter detail tells them apart.
	EventRateLimitExceeded    = "rate_limit_exceeded"
	EventClientLockedOut      = "client_locked_out"
	EventPKCEValidationFailed = "pkce_validation_failed"
	EventInvalidRedirect      = "invalid_redirect"
)
