package server

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/giantswarm/oidc-provider/security"
	"github.com/giantswarm/oidc-provider/storage"
)

// Registration sources, used for audit and metrics.
const (
	RegistrationSourceDynamic = "dynamic"
	RegistrationSourceAdmin   = "admin"
)

const (
	defaultDynamicClientName = "Dynamically Registered Client"
	defaultAdminClientName   = "OIDC Client"

	clientIDBytes     = 32
	clientSecretBytes = 48
)

// ClientRegistrationParams describes a client to register. Empty fields take
// the defaults for Source.
type ClientRegistrationParams struct {
	ClientName              string
	RedirectURIs            []string
	GrantTypes              []string
	ResponseTypes           []string
	TokenEndpointAuthMethod string

	// Source is RegistrationSourceDynamic (the register endpoint) or
	// RegistrationSourceAdmin (host calls). Admin registrations reject a
	// client_name that is already taken.
	Source string

	// ClientIP is only used for audit logs.
	ClientIP string
}

// RegisterClient validates params, creates a client with fresh credentials,
// stores only the hashed secret and returns the plaintext secret once.
func (s *Server) RegisterClient(ctx context.Context, params ClientRegistrationParams) (*storage.Client, string, error) {
	ctx, span := s.startSpan(ctx, "server.RegisterClient")
	defer span.End()

	if err := ValidateRedirectURIs(params.RedirectURIs); err != nil {
		s.Logger.Warn("Client registration rejected: redirect URI validation failed",
			"error", err, "client_ip", params.ClientIP)
		return nil, "", err
	}

	grantTypes := params.GrantTypes
	if len(grantTypes) == 0 {
		grantTypes = SupportedGrantTypes
	}
	for _, gt := range grantTypes {
		if !slices.Contains(SupportedGrantTypes, gt) {
			return nil, "", withDescription(ErrInvalidClientMetadata,
				"Unsupported grant types. Supported: "+strings.Join(SupportedGrantTypes, ", "),
				"unsupported grant type "+gt)
		}
	}

	responseTypes := params.ResponseTypes
	if len(responseTypes) == 0 {
		responseTypes = []string{ResponseTypeCode}
	}
	for _, rt := range responseTypes {
		if rt != ResponseTypeCode {
			return nil, "", withDescription(ErrInvalidClientMetadata,
				"Only 'code' response type is supported",
				"unsupported response type "+rt)
		}
	}

	authMethod := params.TokenEndpointAuthMethod
	if authMethod == "" {
		authMethod = TokenEndpointAuthMethodBasic
	}
	if authMethod != TokenEndpointAuthMethodBasic && authMethod != TokenEndpointAuthMethodPost {
		return nil, "", withDescription(ErrInvalidClientMetadata,
			"Unsupported token_endpoint_auth_method: "+authMethod,
			"unsupported auth method "+authMethod)
	}

	name := params.ClientName
	source := params.Source
	if source == "" {
		source = RegistrationSourceDynamic
	}
	if name == "" {
		name = defaultDynamicClientName
		if source == RegistrationSourceAdmin {
			name = defaultAdminClientName
		}
	}

	if source == RegistrationSourceAdmin {
		if err := s.checkClientNameAvailable(ctx, name); err != nil {
			return nil, "", err
		}
	}

	clientID, err := generateRandomString(clientIDBytes)
	if err != nil {
		return nil, "", err
	}
	clientSecret, err := generateRandomString(clientSecretBytes)
	if err != nil {
		return nil, "", err
	}
	hashed, err := hashClientSecret(clientSecret)
	if err != nil {
		return nil, "", err
	}

	client := &storage.Client{
		ClientID:                clientID,
		ClientName:              name,
		Secret:                  hashed,
		RedirectURIs:            slices.Clone(params.RedirectURIs),
		GrantTypes:              slices.Clone(grantTypes),
		ResponseTypes:           slices.Clone(responseTypes),
		TokenEndpointAuthMethod: authMethod,
		CreatedAt:               s.now().UTC(),
	}

	if err := s.clientStore.SaveClient(ctx, client); err != nil {
		return nil, "", fmt.Errorf("failed to save client: %w", err)
	}

	s.Auditor.LogClientRegistered(client.ClientID, client.ClientName, params.ClientIP, source)
	if m := s.metrics(); m != nil {
		m.RecordClientRegistration(ctx, source)
	}
	s.Logger.Info("Registered client",
		"client_id", client.ClientID,
		"client_name", client.ClientName,
		"source", source)

	return client, clientSecret, nil
}

func (s *Server) checkClientNameAvailable(ctx context.Context, name string) error {
	clients, err := s.clientStore.ListClients(ctx)
	if err != nil {
		return fmt.Errorf("failed to list clients: %w", err)
	}
	for _, c := range clients {
		if c.ClientName == name {
			return fmt.Errorf("%w: %q", ErrDuplicateClientName, name)
		}
	}
	return nil
}

// GetClient returns ErrClientNotFound for unknown ids.
func (s *Server) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	client, err := s.clientStore.GetClient(ctx, clientID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrClientNotFound, clientID)
	}
	return client, err
}

// ListClients returns all clients sorted by name.
func (s *Server) ListClients(ctx context.Context) ([]*storage.Client, error) {
	return s.clientStore.ListClients(ctx)
}

// RevokeClient deletes a client and every refresh token issued to it.
// It returns the number of refresh tokens removed.
func (s *Server) RevokeClient(ctx context.Context, clientID string) (int, error) {
	ctx, span := s.startSpan(ctx, "server.RevokeClient")
	defer span.End()

	if err := s.clientStore.DeleteClient(ctx, clientID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, fmt.Errorf("%w: %s", ErrClientNotFound, clientID)
		}
		return 0, fmt.Errorf("failed to delete client: %w", err)
	}

	removed, err := s.refreshStore.DeleteRefreshTokensForClient(ctx, clientID)
	if err != nil {
		s.Logger.Warn("Failed to remove refresh tokens of revoked client",
			"client_id", clientID, "error", err)
	}

	s.Auditor.LogClientRevoked(clientID, removed)
	if m := s.metrics(); m != nil {
		m.RecordClientRevocation(ctx)
	}
	s.Logger.Info("Revoked client", "client_id", clientID, "refresh_tokens_removed", removed)
	return removed, nil
}

// UpdateRedirectURIs replaces a client's redirect URIs after validating them.
func (s *Server) UpdateRedirectURIs(ctx context.Context, clientID string, redirectURIs []string) (*storage.Client, error) {
	if err := ValidateRedirectURIs(redirectURIs); err != nil {
		return nil, err
	}

	client, err := s.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	client.RedirectURIs = slices.Clone(redirectURIs)

	if err := s.clientStore.SaveClient(ctx, client); err != nil {
		return nil, fmt.Errorf("failed to save client: %w", err)
	}

	s.Auditor.LogEvent(security.Event{
		Type:     security.EventClientUpdated,
		ClientID: clientID,
		Details:  map[string]any{"redirect_uris": len(redirectURIs)},
	})
	s.Logger.Info("Updated client redirect URIs", "client_id", clientID, "count", len(redirectURIs))
	return client, nil
}

// VerifyClientSecret checks secret against the stored record in constant
// time. Unknown clients cost one PBKDF2 computation like known ones. A
// matching legacy plain secret is rewritten as a hash.
func (s *Server) VerifyClientSecret(ctx context.Context, clientID, secret string) error {
	client, err := s.clientStore.GetClient(ctx, clientID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.Logger.Error("Failed to load client for authentication", "client_id", clientID, "error", err)
		}
		secretMatches(dummySecret, secret)
		return fmt.Errorf("%w: unknown client", ErrInvalidClient)
	}

	if !secretMatches(client.Secret, secret) {
		if client.Secret.Kind == storage.SecretKindNone {
			s.Logger.Error("Client has no usable secret configured", "client_id", clientID)
		}
		return fmt.Errorf("%w: secret mismatch", ErrInvalidClient)
	}

	if client.Secret.Kind == storage.SecretKindLegacyPlain {
		s.migrateLegacySecret(ctx, clientID, secret)
	}
	return nil
}

// migrateLegacySecret replaces a verified plain secret with its hash. Failure
// leaves the plain record in place and is retried on the next success.
func (s *Server) migrateLegacySecret(ctx context.Context, clientID, secret string) {
	hashed, err := hashClientSecret(secret)
	if err != nil {
		s.Logger.Warn("Failed to hash legacy client secret", "client_id", clientID, "error", err)
		return
	}

	migrated, err := s.clientStore.MigrateLegacySecret(ctx, clientID, secret, hashed)
	if err != nil {
		s.Logger.Warn("Failed to persist migrated client secret", "client_id", clientID, "error", err)
	}
	if migrated {
		s.Auditor.LogEvent(security.Event{
			Type:     security.EventClientSecretMigrated,
			ClientID: clientID,
		})
	}
}
