package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/giantswarm/oidc-provider/instrumentation"
	"github.com/giantswarm/oidc-provider/internal/helpers"
	"github.com/giantswarm/oidc-provider/storage"
)

// TokenResponse is the JSON body of a successful token request.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// ExchangeAuthorizationCode redeems code for an access and refresh token.
// The code is consumed before any check, so a failed exchange also burns it.
func (s *Server) ExchangeAuthorizationCode(ctx context.Context, code, clientID, redirectURI, verifier, issuer string) (*TokenResponse, error) {
	ctx, span := s.startSpan(ctx, "server.ExchangeAuthorizationCode")
	defer span.End()
	instrumentation.AddOAuthFlowAttributes(span, clientID, "", "")
	instrumentation.AddGrantAttributes(span, GrantTypeAuthorizationCode, false)

	if code == "" {
		return nil, withDescription(ErrInvalidGrant, "Invalid authorization code", "code missing")
	}

	authCode, err := s.flowStore.ConsumeAuthorizationCode(ctx, code)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return nil, withDescription(ErrInvalidGrant, "Invalid authorization code", "unknown code")
	case errors.Is(err, storage.ErrExpired):
		return nil, withDescription(ErrInvalidGrant, "Authorization code expired", "code expired")
	case err != nil:
		return nil, fmt.Errorf("failed to load authorization code: %w", err)
	}

	codePrefix := helpers.SafeTruncate(code, tokenIDLogLength)
	if authCode.RedirectURI != redirectURI {
		s.Logger.Debug("Code exchange rejected: redirect_uri mismatch",
			"client_id", clientID, "code_prefix", codePrefix)
		return nil, withDescription(ErrInvalidGrant, "Redirect URI mismatch", "redirect_uri mismatch")
	}
	if authCode.ClientID != clientID {
		s.Logger.Warn("Code exchange rejected: code issued to another client",
			"client_id", clientID, "code_prefix", codePrefix)
		return nil, withDescription(ErrInvalidGrant, "Client ID mismatch", "code bound to another client")
	}

	if err := s.verifyPKCE(authCode.CodeChallenge, authCode.CodeChallengeMethod, verifier); err != nil {
		s.Auditor.LogPKCEFailure(clientID, "", Description(err))
		if m := s.metrics(); m != nil {
			m.RecordPKCEValidationFailed(ctx, authCode.CodeChallengeMethod)
		}
		return nil, err
	}
	if authCode.CodeChallengeMethod != "" {
		instrumentation.AddPKCEAttributes(span, authCode.CodeChallengeMethod)
	}

	resp, err := s.issueTokens(ctx, authCode.UserID, clientID, authCode.Scope, issuer)
	if err != nil {
		return nil, err
	}

	s.Auditor.LogTokenIssued(authCode.UserID, clientID, "", authCode.Scope)
	if m := s.metrics(); m != nil {
		m.RecordCodeExchange(ctx, clientID, authCode.CodeChallengeMethod)
	}
	instrumentation.SetSpanSuccess(span)
	return resp, nil
}

// RefreshAccessToken mints a new access token from a refresh token. With
// rotation enabled the presented token is consumed and a new one returned.
func (s *Server) RefreshAccessToken(ctx context.Context, refreshToken, clientID, issuer string) (*TokenResponse, error) {
	ctx, span := s.startSpan(ctx, "server.RefreshAccessToken")
	defer span.End()
	instrumentation.AddOAuthFlowAttributes(span, clientID, "", "")

	if refreshToken == "" {
		return nil, withDescription(ErrInvalidGrant, "Invalid refresh token", "refresh_token missing")
	}

	stored, err := s.refreshStore.GetRefreshToken(ctx, refreshToken)
	if err := refreshLookupError(err); err != nil {
		return nil, err
	}
	if stored.ClientID != clientID {
		s.Logger.Warn("Refresh rejected: token issued to another client",
			"client_id", clientID,
			"token_prefix", helpers.SafeTruncate(refreshToken, tokenIDLogLength))
		return nil, withDescription(ErrInvalidGrant, "Client ID mismatch", "refresh token bound to another client")
	}

	rotate := s.Config.RotateRefreshTokens
	instrumentation.AddGrantAttributes(span, GrantTypeRefreshToken, rotate)
	if rotate {
		// A concurrent refresh may have consumed it since the lookup.
		stored, err = s.refreshStore.ConsumeRefreshToken(ctx, refreshToken)
		if err := refreshLookupError(err); err != nil {
			return nil, err
		}
	}

	accessToken, err := s.mintAccessToken(stored.UserID, clientID, stored.Scope, issuer)
	if err != nil {
		return nil, err
	}

	resp := &TokenResponse{
		AccessToken: accessToken,
		TokenType:   TokenTypeBearer,
		ExpiresIn:   int64(s.Config.AccessTokenTTL.Seconds()),
		Scope:       stored.Scope,
	}
	if rotate {
		next, err := s.saveRefreshToken(ctx, stored.UserID, clientID, stored.Scope)
		if err != nil {
			return nil, err
		}
		resp.RefreshToken = next
	}

	s.Auditor.LogTokenRefreshed(stored.UserID, clientID, "", rotate)
	if m := s.metrics(); m != nil {
		m.RecordTokenRefresh(ctx, clientID, rotate)
	}
	instrumentation.SetSpanSuccess(span)
	return resp, nil
}

func refreshLookupError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNotFound):
		return withDescription(ErrInvalidGrant, "Invalid refresh token", "unknown refresh token")
	case errors.Is(err, storage.ErrExpired):
		return withDescription(ErrInvalidGrant, "Refresh token expired", "refresh token expired")
	default:
		return fmt.Errorf("failed to load refresh token: %w", err)
	}
}

// issueTokens mints an access token and stores a new refresh token.
func (s *Server) issueTokens(ctx context.Context, userID, clientID, scope, issuer string) (*TokenResponse, error) {
	accessToken, err := s.mintAccessToken(userID, clientID, scope, issuer)
	if err != nil {
		return nil, err
	}
	refreshToken, err := s.saveRefreshToken(ctx, userID, clientID, scope)
	if err != nil {
		return nil, err
	}

	return &TokenResponse{
		AccessToken:  accessToken,
		TokenType:    TokenTypeBearer,
		ExpiresIn:    int64(s.Config.AccessTokenTTL.Seconds()),
		RefreshToken: refreshToken,
		Scope:        scope,
	}, nil
}

func (s *Server) saveRefreshToken(ctx context.Context, userID, clientID, scope string) (string, error) {
	token := &storage.RefreshToken{
		Token:     generateRandomToken(),
		UserID:    userID,
		ClientID:  clientID,
		Scope:     scope,
		ExpiresAt: s.now().Add(s.Config.RefreshTokenTTL),
	}
	if err := s.refreshStore.SaveRefreshToken(ctx, token); err != nil {
		return "", fmt.Errorf("failed to save refresh token: %w", err)
	}
	return token.Token, nil
}
