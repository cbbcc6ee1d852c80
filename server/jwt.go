package server

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessTokenClaims are the claims of an issued access token. The audience is
// a single client id, so it is carried as a plain string rather than through
// RegisteredClaims.Audience, which serializes as an array.
type AccessTokenClaims struct {
	Audience string `json:"aud"`
	Scope    string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// mintAccessToken signs an RS256 access token for userID issued to clientID.
func (s *Server) mintAccessToken(userID, clientID, scope, issuer string) (string, error) {
	now := s.now().Truncate(time.Second)
	claims := AccessTokenClaims{
		Audience: clientID,
		Scope:    scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.Config.AccessTokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = s.keys.KeyID()

	signed, err := token.SignedString(s.keys.SigningKey())
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

// GetAudience reports the single audience so that jwt.WithAudience applies.
func (c AccessTokenClaims) GetAudience() (jwt.ClaimStrings, error) {
	if c.Audience == "" {
		return nil, nil
	}
	return jwt.ClaimStrings{c.Audience}, nil
}
