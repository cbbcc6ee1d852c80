package server

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/giantswarm/oidc-provider/instrumentation"
	"github.com/giantswarm/oidc-provider/security"
	"github.com/giantswarm/oidc-provider/storage"
)

// tokenIDLogLength is the number of characters of a code or token to log
const tokenIDLogLength = 8

// Server implements the provider protocol logic independent of HTTP: client
// registry, authorization sessions, the token grants and token validation.
type Server struct {
	clientStore  storage.ClientStore
	flowStore    storage.FlowStore
	refreshStore storage.RefreshTokenStore
	keys         *KeyManager

	// FailureLimiter locks out client_id+source pairs after failed authentications.
	FailureLimiter *security.FailureLimiter
	// ClientFailureLimiter applies a higher threshold per client_id; nil disables it.
	ClientFailureLimiter *security.FailureLimiter

	Auditor         *security.Auditor
	Instrumentation *instrumentation.Instrumentation
	Logger          *slog.Logger
	Config          *Config

	tracer trace.Tracer
	now    func() time.Time
}

// New creates a Server. keys must already be loaded.
func New(
	clientStore storage.ClientStore,
	flowStore storage.FlowStore,
	refreshStore storage.RefreshTokenStore,
	keys *KeyManager,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	if clientStore == nil {
		return nil, fmt.Errorf("client store is required")
	}
	if flowStore == nil {
		return nil, fmt.Errorf("flow store is required")
	}
	if refreshStore == nil {
		return nil, fmt.Errorf("refresh token store is required")
	}
	if keys == nil || keys.SigningKey() == nil {
		return nil, fmt.Errorf("a loaded key manager is required")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		clientStore:  clientStore,
		flowStore:    flowStore,
		refreshStore: refreshStore,
		keys:         keys,
		Config:       applySecureDefaults(config, logger),
		Logger:       logger,
		now:          time.Now,
	}, nil
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// SetFailureLimiters sets the per-source and client-wide lockout limiters.
func (s *Server) SetFailureLimiters(perSource, perClient *security.FailureLimiter) {
	s.FailureLimiter = perSource
	s.ClientFailureLimiter = perClient
}

// SetInstrumentation enables tracing and metrics for protocol operations.
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.Instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("server")
	}
}

// SetClock overrides the time source.
func (s *Server) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Keys returns the signing key manager.
func (s *Server) Keys() *KeyManager {
	return s.keys
}

// startSpan starts a span when tracing is enabled. Without a tracer the
// returned span is a non-recording no-op.
func (s *Server) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(context.Background())
	}
	return s.tracer.Start(ctx, name)
}

// metrics returns nil when instrumentation is disabled.
func (s *Server) metrics() *instrumentation.Metrics {
	if s.Instrumentation == nil {
		return nil
	}
	return s.Instrumentation.Metrics()
}

// generateRandomToken returns 32 random bytes as unpadded base64url
// (oauth2.GenerateVerifier produces exactly that).
func generateRandomToken() string {
	return oauth2.GenerateVerifier()
}

// generateRandomString returns n random bytes as unpadded base64url.
func generateRandomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
