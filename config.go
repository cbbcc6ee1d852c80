package oidc

import (
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/giantswarm/oidc-provider/instrumentation"
	"github.com/giantswarm/oidc-provider/internal/helpers"
	"github.com/giantswarm/oidc-provider/security"
	"github.com/giantswarm/oidc-provider/server"
)

// Default paths
const (
	DefaultBasePath  = "/oidc"
	DefaultLoginPath = "/oidc_login"
)

// Config holds the provider configuration.
// Structured using composition; zero values take secure defaults.
type Config struct {
	// Issuer fixes the issuer origin (e.g. "https://app.example.com").
	// When empty the issuer is derived from each request.
	Issuer string

	// BasePath is the prefix of every provider endpoint.
	// Default: "/oidc"
	BasePath string

	// LoginPath is where the authorize page sends the browser so the host
	// can log the user in and call the continue endpoint.
	// Default: "/oidc_login"
	LoginPath string

	// Token lifetimes and grant behaviour
	Token TokenConfig

	// Rate limiting configuration
	RateLimit RateLimitConfig

	// Security settings (secure by default)
	Security SecurityConfig

	// Instrumentation configuration
	Instrumentation InstrumentationConfig

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger
}

// TokenConfig holds credential lifetimes.
type TokenConfig struct {
	// AccessTokenTTL is the JWT lifetime. Default: 1 hour
	AccessTokenTTL time.Duration

	// AuthorizationCodeTTL is the code lifetime. Default: 10 minutes
	AuthorizationCodeTTL time.Duration

	// PendingRequestTTL is how long the user has to log in. Default: 10 minutes
	PendingRequestTTL time.Duration

	// RefreshTokenTTL is the refresh token lifetime. Default: 30 days
	RefreshTokenTTL time.Duration

	// DisableRefreshTokenRotation keeps the presented refresh token valid
	// after a refresh instead of replacing it.
	// WARNING: a stolen refresh token stays usable until it expires.
	DisableRefreshTokenRotation bool
}

// RateLimitConfig holds the token endpoint lockout and registration throttle settings.
type RateLimitConfig struct {
	// MaxFailedAttempts per client_id and source before lockout. Default: 5
	MaxFailedAttempts int

	// FailureWindow is how long failures are counted. Default: 5 minutes
	FailureWindow time.Duration

	// LockoutPenalty is how long a locked key stays locked. Default: 1 minute
	LockoutPenalty time.Duration

	// ClientMaxFailedAttempts is the client-wide threshold across all sources.
	// Default: 25. Negative disables the client-wide limiter.
	ClientMaxFailedAttempts int

	// RegistrationsPerHour is the sustained per-IP dynamic registration rate.
	// Default: 10
	RegistrationsPerHour int

	// RegistrationBurst is the per-IP registration burst. Default: 5
	RegistrationBurst int

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers
	// when deriving the rate limit source.
	// Only enable behind a trusted reverse proxy.
	TrustProxy bool

	// TrustedProxyCount is the number of trusted proxies in front of the provider.
	TrustedProxyCount int
}

// SecurityConfig holds OAuth security settings (secure by default)
type SecurityConfig struct {
	// AllowMissingPKCE permits authorization requests without code_challenge.
	// WARNING: codes can then be exchanged without a code_verifier.
	AllowMissingPKCE bool

	// DisableDynamicRegistration turns off the public register endpoint.
	// Clients can still be registered through Provider.RegisterClient.
	DisableDynamicRegistration bool

	// EncryptionKey is the AES-256 key (32 bytes) used to seal the signing
	// key at rest. Nil stores the PEM in clear.
	EncryptionKey []byte

	// EnableAuditLogging enables security audit logging.
	// Logs auth events, token operations, and violations (sensitive data hashed).
	EnableAuditLogging bool
}

// InstrumentationConfig controls OpenTelemetry metrics and tracing.
type InstrumentationConfig struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string

	// MetricsExporter is "prometheus" or "none". Default: "none"
	MetricsExporter string

	// PrometheusRegisterer defaults to prometheus.DefaultRegisterer
	PrometheusRegisterer prometheus.Registerer

	// LogClientIPs adds client addresses to spans.
	LogClientIPs bool
}

// defaultClientMaxFailedAttempts is the client-wide lockout threshold.
const defaultClientMaxFailedAttempts = 25

// withDefaults returns a copy of c with empty fields filled in.
func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	c.BasePath = normalizePath(c.BasePath, DefaultBasePath)
	c.LoginPath = normalizePath(c.LoginPath, DefaultLoginPath)
	c.Issuer = helpers.NormalizeURL(c.Issuer)
	if c.RateLimit.ClientMaxFailedAttempts == 0 {
		c.RateLimit.ClientMaxFailedAttempts = defaultClientMaxFailedAttempts
	}
	return c
}

func normalizePath(p, fallback string) string {
	p = strings.TrimRight(strings.TrimSpace(p), "/")
	if p == "" {
		return fallback
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// serverConfig maps the provider configuration onto the protocol settings.
func (c Config) serverConfig() *server.Config {
	return &server.Config{
		AccessTokenTTL:       c.Token.AccessTokenTTL,
		AuthorizationCodeTTL: c.Token.AuthorizationCodeTTL,
		PendingRequestTTL:    c.Token.PendingRequestTTL,
		RefreshTokenTTL:      c.Token.RefreshTokenTTL,
		RequirePKCE:          !c.Security.AllowMissingPKCE,
		RotateRefreshTokens:  !c.Token.DisableRefreshTokenRotation,
	}
}

func (c Config) proxyConfig() security.ProxyConfig {
	return security.ProxyConfig{
		TrustProxy:        c.RateLimit.TrustProxy,
		TrustedProxyCount: c.RateLimit.TrustedProxyCount,
	}
}

func (c Config) sourceLimiterConfig(now func() time.Time) security.FailureLimiterConfig {
	return security.FailureLimiterConfig{
		MaxAttempts: c.RateLimit.MaxFailedAttempts,
		Window:      c.RateLimit.FailureWindow,
		Penalty:     c.RateLimit.LockoutPenalty,
		Now:         now,
	}
}

// clientLimiterConfig returns false when the client-wide limiter is disabled.
func (c Config) clientLimiterConfig(now func() time.Time) (security.FailureLimiterConfig, bool) {
	if c.RateLimit.ClientMaxFailedAttempts < 0 {
		return security.FailureLimiterConfig{}, false
	}
	cfg := c.sourceLimiterConfig(now)
	cfg.MaxAttempts = c.RateLimit.ClientMaxFailedAttempts
	return cfg, true
}

func (c Config) instrumentationConfig() instrumentation.Config {
	return instrumentation.Config{
		ServiceName:          c.Instrumentation.ServiceName,
		ServiceVersion:       c.Instrumentation.ServiceVersion,
		Enabled:              c.Instrumentation.Enabled,
		MetricsExporter:      c.Instrumentation.MetricsExporter,
		PrometheusRegisterer: c.Instrumentation.PrometheusRegisterer,
		LogClientIPs:         c.Instrumentation.LogClientIPs,
	}
}
