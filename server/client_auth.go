package server

import (
	"context"
	"errors"

	"github.com/giantswarm/oidc-provider/security"
)

const lockedOutDescription = "Too many failed attempts. Please try again later."

// AuthenticateClient verifies client credentials at the token endpoint behind
// the lockout limiters. source identifies the caller (its IP address). A
// locked key is rejected with ErrRateLimited even if the secret is correct.
func (s *Server) AuthenticateClient(ctx context.Context, clientID, secret, source string) error {
	ctx, span := s.startSpan(ctx, "server.AuthenticateClient")
	defer span.End()

	if clientID == "" {
		return withDescription(ErrInvalidClient, "Invalid client credentials", "client_id missing")
	}

	sourceKey := security.LockoutKey(clientID, source)
	s.FailureLimiter.Sweep()
	s.ClientFailureLimiter.Sweep()

	if err := s.checkLockout(sourceKey, clientID); err != nil {
		s.Logger.Warn("Client authentication blocked by lockout",
			"client_id", clientID, "source", source)
		s.Auditor.LogRateLimitExceeded(clientID, source, "client_lockout")
		if m := s.metrics(); m != nil {
			m.RecordRateLimitExceeded(ctx, "client_lockout")
		}
		return withDescription(ErrRateLimited, lockedOutDescription, err.Error())
	}

	if err := s.VerifyClientSecret(ctx, clientID, secret); err != nil {
		if !errors.Is(err, ErrInvalidClient) {
			return err
		}
		s.recordAuthFailure(ctx, sourceKey, clientID, source)
		return withDescription(ErrInvalidClient, "Invalid client credentials", err.Error())
	}

	s.FailureLimiter.Clear(sourceKey)
	s.ClientFailureLimiter.Clear(clientID)
	return nil
}

func (s *Server) checkLockout(sourceKey, clientID string) error {
	if err := s.FailureLimiter.Check(sourceKey); err != nil {
		return err
	}
	return s.ClientFailureLimiter.Check(clientID)
}

func (s *Server) recordAuthFailure(ctx context.Context, sourceKey, clientID, source string) {
	s.Auditor.LogAuthFailure(clientID, source, "invalid_client_credentials")
	if m := s.metrics(); m != nil {
		m.RecordClientAuthFailure(ctx, "invalid_credentials")
	}

	lockedSource := s.FailureLimiter.RecordFailure(sourceKey)
	lockedClient := s.ClientFailureLimiter.RecordFailure(clientID)
	if lockedSource || lockedClient {
		s.Auditor.LogEvent(security.Event{
			Type:      security.EventClientLockedOut,
			ClientID:  clientID,
			IPAddress: source,
			Details:   map[string]any{"per_source": lockedSource, "client_wide": lockedClient},
		})
		s.Logger.Warn("Client locked out after repeated authentication failures",
			"client_id", clientID, "source", source)
	}
}
