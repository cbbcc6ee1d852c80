package server

import (
	"log/slog"
	"time"
)

// Protocol constants.
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
	ResponseTypeCode           = "code"
	PKCEMethodS256             = "S256"
	TokenTypeBearer            = "Bearer"

	TokenEndpointAuthMethodBasic = "client_secret_basic"
	TokenEndpointAuthMethodPost  = "client_secret_post"
)

// SupportedScopes is the static scope set advertised in discovery.
var SupportedScopes = []string{"openid", "profile", "email"}

// SupportedGrantTypes lists the grants a client may register for.
var SupportedGrantTypes = []string{GrantTypeAuthorizationCode, GrantTypeRefreshToken}

// Default lifetimes.
const (
	DefaultAccessTokenTTL       = time.Hour
	DefaultAuthorizationCodeTTL = 10 * time.Minute
	DefaultPendingRequestTTL    = 10 * time.Minute
	DefaultRefreshTokenTTL      = 30 * 24 * time.Hour
)

// Config holds the protocol settings of a Server.
type Config struct {
	// AccessTokenTTL is the lifetime of issued JWTs.
	// Default: 1 hour
	AccessTokenTTL time.Duration

	// AuthorizationCodeTTL is how long an issued code can be exchanged.
	// Default: 10 minutes
	AuthorizationCodeTTL time.Duration

	// PendingRequestTTL is how long the user has to log in after /authorize.
	// Default: 10 minutes
	PendingRequestTTL time.Duration

	// RefreshTokenTTL is the lifetime of opaque refresh tokens.
	// Default: 30 days
	RefreshTokenTTL time.Duration

	// RequirePKCE makes code_challenge mandatory on /authorize.
	// WARNING: turning this off allows codes to be exchanged without a verifier.
	RequirePKCE bool

	// RotateRefreshTokens replaces the presented refresh token with a new one
	// on every refresh grant. When false the original token stays valid until
	// it expires.
	RotateRefreshTokens bool
}

// DefaultConfig returns the secure defaults.
func DefaultConfig() *Config {
	return &Config{
		AccessTokenTTL:       DefaultAccessTokenTTL,
		AuthorizationCodeTTL: DefaultAuthorizationCodeTTL,
		PendingRequestTTL:    DefaultPendingRequestTTL,
		RefreshTokenTTL:      DefaultRefreshTokenTTL,
		RequirePKCE:          true,
		RotateRefreshTokens:  true,
	}
}

// applySecureDefaults fills zero durations and logs warnings for settings
// that weaken the provider.
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	if config.AccessTokenTTL <= 0 {
		config.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if config.AuthorizationCodeTTL <= 0 {
		config.AuthorizationCodeTTL = DefaultAuthorizationCodeTTL
	}
	if config.PendingRequestTTL <= 0 {
		config.PendingRequestTTL = DefaultPendingRequestTTL
	}
	if config.RefreshTokenTTL <= 0 {
		config.RefreshTokenTTL = DefaultRefreshTokenTTL
	}

	logSecurityWarnings(config, logger)
	return config
}

func logSecurityWarnings(config *Config, logger *slog.Logger) {
	if !config.RequirePKCE {
		logger.Warn("SECURITY WARNING: PKCE is not required",
			"risk", "authorization codes can be exchanged without a code_verifier",
			"recommendation", "enable RequirePKCE")
	}
	if !config.RotateRefreshTokens {
		logger.Warn("SECURITY WARNING: Refresh token rotation is disabled",
			"risk", "a leaked refresh token stays usable for its whole lifetime",
			"lifetime", config.RefreshTokenTTL)
	}
	if config.AuthorizationCodeTTL > DefaultAuthorizationCodeTTL {
		logger.Warn("SECURITY WARNING: Long authorization code lifetime",
			"ttl", config.AuthorizationCodeTTL,
			"recommended_max", DefaultAuthorizationCodeTTL)
	}
}
