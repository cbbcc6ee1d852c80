package oidc

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/giantswarm/oidc-provider/server"
)

func TestOAuthError_Error(t *testing.T) {
	tests := []struct {
		name        string
		code        string
		description string
		want        string
	}{
		{
			name:        "simple error",
			code:        "invalid_request",
			description: "Missing required parameter",
			want:        "invalid_request: Missing required parameter",
		},
		{
			name:        "error with empty description",
			code:        "server_error",
			description: "",
			want:        "server_error: ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &OAuthError{
				Code:        tt.code,
				Description: tt.description,
			}
			if got := e.Error(); got != tt.want {
				t.Errorf("OAuthError.Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name       string
		err        *OAuthError
		wantCode   string
		wantStatus int
	}{
		{"invalid request", ErrInvalidRequest("x"), ErrorCodeInvalidRequest, http.StatusBadRequest},
		{"invalid grant", ErrInvalidGrant("x"), ErrorCodeInvalidGrant, http.StatusBadRequest},
		{"invalid client", ErrInvalidClient("x"), ErrorCodeInvalidClient, http.StatusUnauthorized},
		{"too many attempts", ErrTooManyAttempts("x"), ErrorCodeInvalidClient, http.StatusTooManyRequests},
		{"invalid token", ErrInvalidToken("x"), ErrorCodeInvalidToken, http.StatusUnauthorized},
		{"unsupported grant", ErrUnsupportedGrantType("x"), ErrorCodeUnsupportedGrantType, http.StatusBadRequest},
		{"server error", ErrServerError("x"), ErrorCodeServerError, http.StatusInternalServerError},
		{"redirect uri", ErrInvalidRedirectURI("x"), ErrorCodeInvalidRedirectURI, http.StatusBadRequest},
		{"client metadata", ErrInvalidClientMetadata("x"), ErrorCodeInvalidClientMetadata, http.StatusBadRequest},
		{"user not found", ErrUserNotFound("x"), ErrorCodeUserNotFound, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", tt.err.Code, tt.wantCode)
			}
			if tt.err.Status != tt.wantStatus {
				t.Errorf("Status = %d, want %d", tt.err.Status, tt.wantStatus)
			}
			if tt.err.Description != "x" {
				t.Errorf("Description = %q, want x", tt.err.Description)
			}
		})
	}
}

func TestToOAuthError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   string
		wantStatus int
	}{
		{"rate limited", server.ErrRateLimited, ErrorCodeInvalidClient, http.StatusTooManyRequests},
		{"invalid client", server.ErrInvalidClient, ErrorCodeInvalidClient, http.StatusUnauthorized},
		{"invalid grant", fmt.Errorf("%w: code expired", server.ErrInvalidGrant), ErrorCodeInvalidGrant, http.StatusBadRequest},
		{"pkce required", server.ErrPKCERequired, ErrorCodeInvalidRequest, http.StatusBadRequest},
		{"challenge method", server.ErrUnsupportedChallengeMethod, ErrorCodeInvalidRequest, http.StatusBadRequest},
		{"request expired", server.ErrRequestExpired, ErrorCodeInvalidRequest, http.StatusBadRequest},
		{"redirect uri", server.ErrInvalidRedirectURI, ErrorCodeInvalidRedirectURI, http.StatusBadRequest},
		{"client metadata", server.ErrInvalidClientMetadata, ErrorCodeInvalidClientMetadata, http.StatusBadRequest},
		{"token expired", server.ErrTokenExpired, ErrorCodeInvalidToken, http.StatusUnauthorized},
		{"invalid token", server.ErrInvalidToken, ErrorCodeInvalidToken, http.StatusUnauthorized},
		{"unknown", errors.New("disk on fire"), ErrorCodeServerError, http.StatusInternalServerError},
		{"passthrough", ErrUserNotFound("gone"), ErrorCodeUserNotFound, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := toOAuthError(tt.err)
			if got.Code != tt.wantCode || got.Status != tt.wantStatus {
				t.Errorf("toOAuthError() = %s/%d, want %s/%d", got.Code, got.Status, tt.wantCode, tt.wantStatus)
			}
		})
	}
}

func TestToOAuthError_HidesInternalDetail(t *testing.T) {
	got := toOAuthError(fmt.Errorf("failed to save client: %w", errors.New("redis: connection refused")))
	if got.Description != "internal server error" {
		t.Errorf("Description = %q, want %q", got.Description, "internal server error")
	}
}

func TestToOAuthError_TokenExpiredDescription(t *testing.T) {
	got := toOAuthError(fmt.Errorf("%w: exp elapsed", server.ErrTokenExpired))
	if got.Description != "Token expired" {
		t.Errorf("Description = %q, want %q", got.Description, "Token expired")
	}
}
