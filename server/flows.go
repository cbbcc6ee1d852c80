package server

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/giantswarm/oidc-provider/instrumentation"
	"github.com/giantswarm/oidc-provider/internal/helpers"
	"github.com/giantswarm/oidc-provider/security"
	"github.com/giantswarm/oidc-provider/storage"
)

const requestIDBytes = 16

// AuthorizationParams are the query parameters of an authorization request.
type AuthorizationParams struct {
	ClientID            string
	RedirectURI         string
	ResponseType        string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string

	// ClientIP is only used for audit logs.
	ClientIP string
}

// StartAuthorization validates an authorization request and stores it as a
// pending request until the user has logged in. Nothing is redirected to the
// client on failure because the redirect URI is not trusted yet.
func (s *Server) StartAuthorization(ctx context.Context, params AuthorizationParams) (*storage.PendingAuthorizationRequest, error) {
	ctx, span := s.startSpan(ctx, "server.StartAuthorization")
	defer span.End()
	instrumentation.AddOAuthFlowAttributes(span, params.ClientID, "", params.Scope)

	if params.ClientID == "" || params.RedirectURI == "" || params.ResponseType != ResponseTypeCode {
		return nil, withDescription(ErrInvalidRequest, "Invalid request", "missing client_id, redirect_uri or response_type=code")
	}

	if s.Config.RequirePKCE && params.CodeChallenge == "" {
		return nil, withDescription(ErrPKCERequired,
			"PKCE is required. Please provide code_challenge parameter.",
			"code_challenge missing")
	}

	method := params.CodeChallengeMethod
	if method == "" {
		method = PKCEMethodS256
	}
	if params.CodeChallenge != "" && method != PKCEMethodS256 {
		return nil, withDescription(ErrUnsupportedChallengeMethod,
			"Unsupported code_challenge_method. Supported: "+PKCEMethodS256,
			"code_challenge_method "+method)
	}

	client, err := s.clientStore.GetClient(ctx, params.ClientID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("failed to load client: %w", err)
		}
		return nil, withDescription(ErrInvalidClient, "Invalid client_id", "unknown client "+params.ClientID)
	}

	if !client.HasRedirectURI(params.RedirectURI) {
		s.Auditor.LogInvalidRedirect(params.ClientID, params.ClientIP, params.RedirectURI)
		return nil, &describedError{
			err:         fmt.Errorf("%w: %w", ErrInvalidRequest, ErrRedirectURIMismatch),
			description: "Invalid redirect_uri",
		}
	}

	requestID, err := generateRandomString(requestIDBytes)
	if err != nil {
		return nil, err
	}

	now := s.now()
	req := &storage.PendingAuthorizationRequest{
		RequestID:    requestID,
		ClientID:     params.ClientID,
		RedirectURI:  params.RedirectURI,
		ResponseType: params.ResponseType,
		Scope:        params.Scope,
		State:        params.State,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.Config.PendingRequestTTL),
	}
	if params.CodeChallenge != "" {
		req.CodeChallenge = params.CodeChallenge
		req.CodeChallengeMethod = method
		instrumentation.AddPKCEAttributes(span, method)
	}

	if err := s.flowStore.SavePendingRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to save pending request: %w", err)
	}

	s.Auditor.LogEvent(security.Event{
		Type:      security.EventAuthorizationFlowStarted,
		ClientID:  params.ClientID,
		IPAddress: params.ClientIP,
		Details:   map[string]any{"scope": params.Scope},
	})
	if m := s.metrics(); m != nil {
		m.RecordAuthorizationStarted(ctx, params.ClientID)
	}
	instrumentation.SetSpanSuccess(span)
	return req, nil
}

// CompleteAuthorization consumes the pending request for an authenticated
// user, issues a single-use authorization code and returns the URL the
// user agent should navigate to.
func (s *Server) CompleteAuthorization(ctx context.Context, requestID, userID string) (string, error) {
	ctx, span := s.startSpan(ctx, "server.CompleteAuthorization")
	defer span.End()

	if requestID == "" {
		return "", withDescription(ErrInvalidRequest, "Missing request_id", "request_id missing")
	}

	pending, err := s.flowStore.ConsumePendingRequest(ctx, requestID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return "", withDescription(ErrRequestNotFound, "Invalid or expired request", "unknown request id")
	case errors.Is(err, storage.ErrExpired):
		return "", withDescription(ErrRequestExpired, "Request expired", "pending request expired")
	case err != nil:
		return "", fmt.Errorf("failed to load pending request: %w", err)
	}
	instrumentation.AddOAuthFlowAttributes(span, pending.ClientID, userID, pending.Scope)

	now := s.now()
	code := &storage.AuthorizationCode{
		Code:                generateRandomToken(),
		ClientID:            pending.ClientID,
		RedirectURI:         pending.RedirectURI,
		Scope:               pending.Scope,
		UserID:              userID,
		CodeChallenge:       pending.CodeChallenge,
		CodeChallengeMethod: pending.CodeChallengeMethod,
		CreatedAt:           now,
		ExpiresAt:           now.Add(s.Config.AuthorizationCodeTTL),
	}
	if err := s.flowStore.SaveAuthorizationCode(ctx, code); err != nil {
		return "", fmt.Errorf("failed to save authorization code: %w", err)
	}

	s.Auditor.LogEvent(security.Event{
		Type:     security.EventAuthorizationCodeIssued,
		UserID:   userID,
		ClientID: pending.ClientID,
	})
	if m := s.metrics(); m != nil {
		m.RecordAuthorizationCompleted(ctx, pending.ClientID)
	}
	s.Logger.Debug("Issued authorization code",
		"client_id", pending.ClientID,
		"code_prefix", helpers.SafeTruncate(code.Code, tokenIDLogLength))

	instrumentation.SetSpanSuccess(span)
	return buildRedirectURL(pending.RedirectURI, code.Code, pending.State), nil
}

// buildRedirectURL appends code and, when present, state to redirectURI.
func buildRedirectURL(redirectURI, code, state string) string {
	sep := "?"
	if strings.Contains(redirectURI, "?") {
		sep = "&"
	}

	var b strings.Builder
	b.WriteString(redirectURI)
	b.WriteString(sep)
	b.WriteString("code=")
	b.WriteString(url.QueryEscape(code))
	if state != "" {
		b.WriteString("&state=")
		b.WriteString(url.QueryEscape(state))
	}
	return b.String()
}
