package server

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by Server operations. Callers match them with
// errors.Is; the root package maps each one to an OAuth error response.
var (
	ErrInvalidRequest             = errors.New("invalid_request")
	ErrInvalidClient              = errors.New("invalid_client")
	ErrRateLimited                = errors.New("rate_limited")
	ErrInvalidGrant               = errors.New("invalid_grant")
	ErrUnsupportedGrantType       = errors.New("unsupported_grant_type")
	ErrPKCERequired               = errors.New("pkce_required")
	ErrUnsupportedChallengeMethod = errors.New("unsupported_code_challenge_method")
	ErrInvalidRedirectURI         = errors.New("invalid_redirect_uri")
	ErrRedirectURIMismatch        = errors.New("redirect_uri_mismatch")
	ErrInvalidClientMetadata      = errors.New("invalid_client_metadata")
	ErrRequestNotFound            = errors.New("request_not_found")
	ErrRequestExpired             = errors.New("request_expired")
	ErrInvalidToken               = errors.New("invalid_token")
	ErrTokenExpired               = errors.New("token_expired")
	ErrDuplicateClientName        = errors.New("duplicate_client_name")
	ErrClientNotFound             = errors.New("client_not_found")
)

// describedError carries a message that is safe to return to the caller,
// separate from the wrapped chain that only goes to logs.
type describedError struct {
	err         error
	description string
}

func (e *describedError) Error() string {
	return e.err.Error()
}

func (e *describedError) Unwrap() error {
	return e.err
}

// withDescription wraps kind with an internal detail and a public description.
func withDescription(kind error, description, detail string) error {
	return &describedError{
		err:         fmt.Errorf("%w: %s", kind, detail),
		description: description,
	}
}

// Description returns the public error_description attached to err, or "".
func Description(err error) string {
	var de *describedError
	if errors.As(err, &de) {
		return de.description
	}
	return ""
}
