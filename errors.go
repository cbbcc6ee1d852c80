package oidc

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/giantswarm/oidc-provider/server"
)

// OAuth error codes as constants
const (
	ErrorCodeInvalidRequest        = "invalid_request"
	ErrorCodeInvalidGrant          = "invalid_grant"
	ErrorCodeInvalidClient         = "invalid_client"
	ErrorCodeInvalidToken          = "invalid_token"
	ErrorCodeUnsupportedGrantType  = "unsupported_grant_type"
	ErrorCodeServerError           = "server_error"
	ErrorCodeInvalidRedirectURI    = "invalid_redirect_uri"
	ErrorCodeInvalidClientMetadata = "invalid_client_metadata"
	ErrorCodeUserNotFound          = "user_not_found"
)

// OAuthError represents an OAuth 2.0 error response
type OAuthError struct {
	Code        string // OAuth error code (e.g., "invalid_request", "invalid_grant")
	Description string // Human-readable error description
	Status      int    // HTTP status code
}

// Error implements the error interface
func (e *OAuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewOAuthError creates a new OAuth error
func NewOAuthError(code, description string, status int) *OAuthError {
	return &OAuthError{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// Common OAuth errors as reusable instances
var (
	// ErrInvalidRequest indicates the request is malformed or missing required parameters
	ErrInvalidRequest = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidRequest, desc, http.StatusBadRequest)
	}

	// ErrInvalidGrant indicates the authorization code or refresh token is invalid or expired
	ErrInvalidGrant = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidGrant, desc, http.StatusBadRequest)
	}

	// ErrInvalidClient indicates client authentication failed
	ErrInvalidClient = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidClient, desc, http.StatusUnauthorized)
	}

	// ErrTooManyAttempts is invalid_client with 429 while a lockout is active
	ErrTooManyAttempts = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidClient, desc, http.StatusTooManyRequests)
	}

	// ErrInvalidToken indicates the access token is invalid or expired
	ErrInvalidToken = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidToken, desc, http.StatusUnauthorized)
	}

	// ErrUnsupportedGrantType indicates the grant type is not supported
	ErrUnsupportedGrantType = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeUnsupportedGrantType, desc, http.StatusBadRequest)
	}

	// ErrServerError indicates an internal server error occurred
	ErrServerError = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeServerError, desc, http.StatusInternalServerError)
	}

	// ErrInvalidRedirectURI indicates a redirect URI failed registration checks
	ErrInvalidRedirectURI = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidRedirectURI, desc, http.StatusBadRequest)
	}

	// ErrInvalidClientMetadata indicates unsupported registration metadata (RFC 7591)
	ErrInvalidClientMetadata = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidClientMetadata, desc, http.StatusBadRequest)
	}

	// ErrUserNotFound indicates the token subject no longer exists
	ErrUserNotFound = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeUserNotFound, desc, http.StatusNotFound)
	}
)

const internalErrorDescription = "internal server error"

// toOAuthError maps an error from the server package onto the response sent
// to the client. Anything unrecognized becomes a bare server_error so that no
// internal detail reaches the body.
func toOAuthError(err error) *OAuthError {
	var oauthErr *OAuthError
	if errors.As(err, &oauthErr) {
		return oauthErr
	}

	desc := server.Description(err)
	switch {
	case errors.Is(err, server.ErrRateLimited):
		return ErrTooManyAttempts(desc)
	case errors.Is(err, server.ErrInvalidClient):
		return ErrInvalidClient(desc)
	case errors.Is(err, server.ErrInvalidGrant):
		return ErrInvalidGrant(desc)
	case errors.Is(err, server.ErrUnsupportedGrantType):
		return ErrUnsupportedGrantType(desc)
	case errors.Is(err, server.ErrInvalidRedirectURI):
		return ErrInvalidRedirectURI(desc)
	case errors.Is(err, server.ErrInvalidClientMetadata):
		return ErrInvalidClientMetadata(desc)
	case errors.Is(err, server.ErrTokenExpired):
		return ErrInvalidToken("Token expired")
	case errors.Is(err, server.ErrInvalidToken):
		return ErrInvalidToken(desc)
	case errors.Is(err, server.ErrInvalidRequest),
		errors.Is(err, server.ErrPKCERequired),
		errors.Is(err, server.ErrUnsupportedChallengeMethod),
		errors.Is(err, server.ErrRequestNotFound),
		errors.Is(err, server.ErrRequestExpired):
		return ErrInvalidRequest(desc)
	default:
		return ErrServerError(internalErrorDescription)
	}
}
