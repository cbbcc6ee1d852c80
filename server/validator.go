package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/giantswarm/oidc-provider/storage"
)

// TokenValidator verifies access tokens issued by this provider. Construct it
// once and share it between the userinfo endpoint and bearer middleware.
type TokenValidator struct {
	keys    *KeyManager
	clients storage.ClientStore
	logger  *slog.Logger
	now     func() time.Time
}

// NewTokenValidator creates a validator that checks signatures against the
// current key of keys and audiences against clients.
func NewTokenValidator(keys *KeyManager, clients storage.ClientStore, logger *slog.Logger) *TokenValidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenValidator{
		keys:    keys,
		clients: clients,
		logger:  logger,
		now:     time.Now,
	}
}

// SetClock overrides the time source used for exp checks.
func (v *TokenValidator) SetClock(now func() time.Time) {
	if now != nil {
		v.now = now
	}
}

// Validate parses tokenString and returns its claims. It returns
// ErrTokenExpired for an elapsed exp and ErrInvalidToken for every other
// failure: bad signature, wrong algorithm, issuer mismatch, missing subject,
// or an audience that is not a registered client.
func (v *TokenValidator) Validate(ctx context.Context, tokenString, expectedIssuer string) (*AccessTokenClaims, error) {
	if tokenString == "" {
		return nil, withDescription(ErrInvalidToken, "Missing access token", "empty token")
	}

	claims := &AccessTokenClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) {
			return v.keys.PublicKey(), nil
		},
		jwt.WithValidMethods([]string{SigningAlgorithm}),
		jwt.WithIssuer(expectedIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, withDescription(ErrTokenExpired, "Token expired", err.Error())
		}
		v.logger.Debug("Access token rejected", "error", err)
		return nil, withDescription(ErrInvalidToken, "Invalid token", err.Error())
	}

	if claims.Subject == "" {
		return nil, withDescription(ErrInvalidToken, "Invalid token", "sub claim missing")
	}
	if claims.Audience == "" {
		return nil, withDescription(ErrInvalidToken, "Invalid token", "aud claim missing")
	}

	if _, err := v.clients.GetClient(ctx, claims.Audience); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("failed to load audience client: %w", err)
		}
		v.logger.Debug("Access token rejected: audience is not a registered client",
			"aud", claims.Audience)
		return nil, withDescription(ErrInvalidToken, "Invalid token", "unknown audience")
	}

	return claims, nil
}
