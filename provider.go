package oidc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/giantswarm/oidc-provider/instrumentation"
	"github.com/giantswarm/oidc-provider/security"
	"github.com/giantswarm/oidc-provider/server"
	"github.com/giantswarm/oidc-provider/storage"
	"github.com/giantswarm/oidc-provider/storage/memory"
)

// Provider owns the state of one OIDC provider instance: the in-memory
// store backed by the host's persister, the signing key, the protocol
// server and the HTTP handler.
type Provider struct {
	config Config
	logger *slog.Logger

	store               *memory.Store
	keys                *server.KeyManager
	server              *server.Server
	validator           *server.TokenValidator
	registrationLimiter *security.RateLimiter
	instrumentation     *instrumentation.Instrumentation
	handler             *Handler

	closeOnce sync.Once
}

// Option customizes NewProvider.
type Option func(*providerOptions)

type providerOptions struct {
	now          func() time.Time
	storeOptions []memory.Option
}

// WithClock overrides the time source of every component.
func WithClock(now func() time.Time) Option {
	return func(o *providerOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithStoreOptions passes options to the in-memory store.
func WithStoreOptions(opts ...memory.Option) Option {
	return func(o *providerOptions) {
		o.storeOptions = append(o.storeOptions, opts...)
	}
}

// NewProvider loads persisted state through persister (nil keeps everything
// in memory), loads or generates the signing key and builds the handler.
// users resolves the logged-in host user; directory looks users up by id.
func NewProvider(
	ctx context.Context,
	persister storage.Persister,
	users UserResolver,
	directory UserDirectory,
	config Config,
	opts ...Option,
) (*Provider, error) {
	if users == nil {
		return nil, fmt.Errorf("user resolver is required")
	}
	if directory == nil {
		return nil, fmt.Errorf("user directory is required")
	}

	config = config.withDefaults()
	logger := config.Logger

	o := providerOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	encryptor, err := security.NewEncryptor(config.Security.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: %w", err)
	}

	storeOpts := append([]memory.Option{memory.WithClock(o.now), memory.WithLogger(logger)}, o.storeOptions...)
	store := memory.New(persister, storeOpts...)
	if err := store.Load(ctx); err != nil {
		return nil, fmt.Errorf("failed to load provider state: %w", err)
	}

	keys := server.NewKeyManager(persister, encryptor, logger)
	if err := keys.LoadOrGenerate(ctx); err != nil {
		return nil, err
	}

	srv, err := server.New(store, store, store, keys, config.serverConfig(), logger)
	if err != nil {
		return nil, err
	}
	srv.SetClock(o.now)
	srv.SetAuditor(security.NewAuditor(logger, config.Security.EnableAuditLogging))

	var clientLimiter *security.FailureLimiter
	if cfg, ok := config.clientLimiterConfig(o.now); ok {
		clientLimiter = security.NewFailureLimiter(cfg, logger)
	}
	srv.SetFailureLimiters(security.NewFailureLimiter(config.sourceLimiterConfig(o.now), logger), clientLimiter)

	inst, err := instrumentation.New(config.instrumentationConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize instrumentation: %w", err)
	}
	if config.Instrumentation.Enabled {
		srv.SetInstrumentation(inst)
		if err := store.SetInstrumentation(inst); err != nil {
			logger.Warn("Failed to register storage metrics", "error", err)
		}
	}

	validator := server.NewTokenValidator(keys, store, logger)
	validator.SetClock(o.now)

	var registrationLimiter *security.RateLimiter
	if !config.Security.DisableDynamicRegistration {
		throttle := security.RegistrationThrottleConfig(config.RateLimit.RegistrationsPerHour, config.RateLimit.RegistrationBurst)
		throttle.Now = o.now
		registrationLimiter = security.NewRateLimiter(throttle, logger)
	}

	p := &Provider{
		config:              config,
		logger:              logger,
		store:               store,
		keys:                keys,
		server:              srv,
		validator:           validator,
		registrationLimiter: registrationLimiter,
		instrumentation:     inst,
	}
	p.handler = newHandler(p, users, directory)

	logger.Info("OIDC provider ready",
		"base_path", config.BasePath,
		"issuer", config.Issuer,
		"kid", keys.KeyID(),
		"dynamic_registration", registrationLimiter != nil)
	return p, nil
}

// Handler returns the HTTP handler serving the provider endpoints.
func (p *Provider) Handler() *Handler {
	return p.handler
}

// Validator returns the access token validator shared with the handler.
func (p *Provider) Validator() *server.TokenValidator {
	return p.validator
}

// Server returns the protocol server.
func (p *Provider) Server() *server.Server {
	return p.server
}

// Instrumentation returns the provider's instrumentation. Its providers are
// no-ops unless instrumentation is enabled.
func (p *Provider) Instrumentation() *instrumentation.Instrumentation {
	return p.instrumentation
}

// Close stops the registration throttle and flushes instrumentation.
func (p *Provider) Close(ctx context.Context) error {
	var err error
	p.closeOnce.Do(func() {
		p.registrationLimiter.Stop()
		err = p.instrumentation.Shutdown(ctx)
	})
	return err
}

// ClientInfo describes a registered client without its secret.
type ClientInfo struct {
	ClientID     string
	ClientName   string
	RedirectURIs []string
	GrantTypes   []string
	CreatedAt    time.Time
}

func clientInfo(c *storage.Client) ClientInfo {
	return ClientInfo{
		ClientID:     c.ClientID,
		ClientName:   c.ClientName,
		RedirectURIs: c.RedirectURIs,
		GrantTypes:   c.GrantTypes,
		CreatedAt:    c.CreatedAt,
	}
}

// RegisterClient registers a client on behalf of the host. The returned
// secret is not stored and cannot be retrieved later. A client_name that is
// already registered is rejected with server.ErrDuplicateClientName.
func (p *Provider) RegisterClient(ctx context.Context, name string, redirectURIs []string) (*ClientRegistrationResponse, error) {
	client, secret, err := p.server.RegisterClient(ctx, server.ClientRegistrationParams{
		ClientName:   name,
		RedirectURIs: redirectURIs,
		Source:       server.RegistrationSourceAdmin,
	})
	if err != nil {
		return nil, err
	}
	return registrationResponse(client, secret), nil
}

// RevokeClient deletes a client and its refresh tokens. Access tokens already
// issued to it stop validating because their audience is no longer registered.
func (p *Provider) RevokeClient(ctx context.Context, clientID string) error {
	_, err := p.server.RevokeClient(ctx, clientID)
	return err
}

// UpdateClient replaces the redirect URIs of a client.
func (p *Provider) UpdateClient(ctx context.Context, clientID string, redirectURIs []string) (ClientInfo, error) {
	client, err := p.server.UpdateRedirectURIs(ctx, clientID, redirectURIs)
	if err != nil {
		return ClientInfo{}, err
	}
	return clientInfo(client), nil
}

// ListClients returns all clients sorted by name.
func (p *Provider) ListClients(ctx context.Context) ([]ClientInfo, error) {
	clients, err := p.server.ListClients(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ClientInfo, 0, len(clients))
	for _, c := range clients {
		out = append(out, clientInfo(c))
	}
	return out, nil
}

// IsClientNotFound reports whether err is caused by an unknown client id.
func IsClientNotFound(err error) bool {
	return errors.Is(err, server.ErrClientNotFound)
}

func registrationResponse(c *storage.Client, secret string) *ClientRegistrationResponse {
	return &ClientRegistrationResponse{
		ClientID:                c.ClientID,
		ClientSecret:            secret,
		ClientIDIssuedAt:        c.CreatedAt.Unix(),
		ClientSecretExpiresAt:   0,
		ClientName:              c.ClientName,
		RedirectURIs:            c.RedirectURIs,
		GrantTypes:              c.GrantTypes,
		ResponseTypes:           c.ResponseTypes,
		TokenEndpointAuthMethod: c.TokenEndpointAuthMethod,
	}
}
