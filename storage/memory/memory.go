package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oidc-provider/instrumentation"
	"github.com/giantswarm/oidc-provider/internal/helpers"
	"github.com/giantswarm/oidc-provider/storage"
)

const (
	// tokenIDLogLength is the number of characters to include when logging ids
	tokenIDLogLength = 8

	// DefaultSaveAttempts bounds how often a persistence save is tried
	DefaultSaveAttempts = 3
)

// Store is the in-process provider state: registered clients, pending
// authorization requests, authorization codes and refresh tokens.
// Clients and refresh tokens are written through to a storage.Persister.
type Store struct {
	clientsMu sync.Mutex
	clients   map[string]*storage.Client

	pendingMu sync.Mutex
	pending   map[string]*storage.PendingAuthorizationRequest

	codesMu sync.Mutex
	codes   map[string]*storage.AuthorizationCode

	// keyed by tokenDigest
	refreshMu     sync.Mutex
	refreshTokens map[string]*storage.RefreshToken

	// serialises snapshot+save per persisted document
	clientsSaveMu sync.Mutex
	refreshSaveMu sync.Mutex

	persister      storage.Persister
	now            func() time.Time
	saveAttempts   uint
	initialBackoff time.Duration
	logger         *slog.Logger

	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
}

// Compile-time interface checks
var (
	_ storage.ClientStore       = (*Store)(nil)
	_ storage.FlowStore         = (*Store)(nil)
	_ storage.RefreshTokenStore = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source (tests use testutil.MockTime.Now).
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSaveRetry sets how many times a save is attempted and the first backoff interval.
func WithSaveRetry(attempts uint, initial time.Duration) Option {
	return func(s *Store) {
		if attempts > 0 {
			s.saveAttempts = attempts
		}
		if initial > 0 {
			s.initialBackoff = initial
		}
	}
}

// New creates an empty store that writes through to persister.
// A nil persister keeps all state in memory only.
func New(persister storage.Persister, opts ...Option) *Store {
	s := &Store{
		clients:        make(map[string]*storage.Client),
		pending:        make(map[string]*storage.PendingAuthorizationRequest),
		codes:          make(map[string]*storage.AuthorizationCode),
		refreshTokens:  make(map[string]*storage.RefreshToken),
		persister:      persister,
		now:            time.Now,
		saveAttempts:   DefaultSaveAttempts,
		initialBackoff: 100 * time.Millisecond,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store and
// registers the provider state gauges.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) error {
	if inst == nil {
		return nil
	}
	s.instrumentation = inst
	s.tracer = inst.Tracer("storage")

	return inst.ObserveStorage(instrumentation.StorageGauges{
		Clients:            func() int64 { return int64(s.ClientCount()) },
		PendingRequests:    func() int64 { return int64(s.PendingRequestCount()) },
		AuthorizationCodes: func() int64 { return int64(s.AuthorizationCodeCount()) },
		RefreshTokens:      func() int64 { return int64(s.RefreshTokenCount()) },
	})
}

// Load hydrates clients and refresh tokens from the persister. Missing
// documents leave the corresponding collection empty.
func (s *Store) Load(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}

	ctx, span := s.startStorageSpan(ctx, "load")
	defer span.End()
	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "load", err, startTime)
	}()

	if err = s.loadClients(ctx); err != nil {
		return err
	}
	err = s.loadRefreshTokens(ctx)
	return err
}

func (s *Store) loadClients(ctx context.Context) error {
	data, err := s.persister.Load(ctx, storage.KeyClients)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load clients: %w", err)
	}

	var doc clientsDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to decode clients: %w", err)
	}

	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for id, rec := range doc.Clients {
		c, err := fromClientRecord(id, rec)
		if err != nil {
			s.logger.Warn("Loaded client has an unreadable secret record",
				"client_id", id,
				"error", err)
		}
		s.clients[c.ClientID] = c
	}
	s.logger.Info("Loaded clients", "count", len(doc.Clients))
	return nil
}

func (s *Store) loadRefreshTokens(ctx context.Context) error {
	data, err := s.persister.Load(ctx, storage.KeyRefreshTokens)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load refresh tokens: %w", err)
	}

	var doc refreshDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to decode refresh tokens: %w", err)
	}

	now := s.now()
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	for digest, rec := range doc.RefreshTokens {
		if !now.Before(rec.ExpiresAt) {
			continue
		}
		s.refreshTokens[digest] = &storage.RefreshToken{
			UserID:    rec.UserID,
			ClientID:  rec.ClientID,
			Scope:     rec.Scope,
			ExpiresAt: rec.ExpiresAt,
		}
	}
	s.logger.Info("Loaded refresh tokens", "count", len(s.refreshTokens))
	return nil
}

// ============================================================
// ClientStore Implementation
// ============================================================

// SaveClient creates or replaces a client and persists the registry.
// The in-memory change is kept even when persisting fails; the error is returned.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	ctx, span := s.startStorageSpan(ctx, "save_client")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "save_client", err, startTime)
	}()

	if client == nil || client.ClientID == "" {
		err = fmt.Errorf("invalid client")
		return err
	}

	s.clientsMu.Lock()
	s.clients[client.ClientID] = cloneClient(client)
	s.clientsMu.Unlock()

	s.logger.Debug("Saved client", "client_id", client.ClientID)
	err = s.persistClients(ctx)
	return err
}

// GetClient returns a copy of the client or storage.ErrNotFound.
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()

	c, ok := s.clients[clientID]
	if !ok {
		return nil, fmt.Errorf("%w: client %s", storage.ErrNotFound, clientID)
	}
	return cloneClient(c), nil
}

// DeleteClient removes a client and persists the registry.
func (s *Store) DeleteClient(ctx context.Context, clientID string) error {
	ctx, span := s.startStorageSpan(ctx, "delete_client")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "delete_client", err, startTime)
	}()

	s.clientsMu.Lock()
	_, ok := s.clients[clientID]
	delete(s.clients, clientID)
	s.clientsMu.Unlock()

	if !ok {
		err = fmt.Errorf("%w: client %s", storage.ErrNotFound, clientID)
		return err
	}

	s.logger.Debug("Deleted client", "client_id", clientID)
	err = s.persistClients(ctx)
	return err
}

// ListClients returns copies of all clients ordered by name, then id.
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	s.clientsMu.Lock()
	out := make([]*storage.Client, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, cloneClient(c))
	}
	s.clientsMu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ClientName != out[j].ClientName {
			return out[i].ClientName < out[j].ClientName
		}
		return out[i].ClientID < out[j].ClientID
	})
	return out, nil
}

// MigrateLegacySecret swaps a legacy plain secret for its hashed form under
// the clients lock, so a concurrent secret change is never overwritten.
func (s *Store) MigrateLegacySecret(ctx context.Context, clientID, plain string, hashed storage.SecretRecord) (bool, error) {
	if hashed.Kind != storage.SecretKindHashed {
		return false, fmt.Errorf("migration target must be a hashed secret")
	}

	s.clientsMu.Lock()
	c, ok := s.clients[clientID]
	if !ok || c.Secret.Kind != storage.SecretKindLegacyPlain || c.Secret.Plain != plain {
		s.clientsMu.Unlock()
		return false, nil
	}
	c.Secret = hashed
	s.clientsMu.Unlock()

	s.logger.Info("Migrated legacy client secret to hashed form", "client_id", clientID)
	return true, s.persistClients(ctx)
}

// ClientCount returns the number of registered clients.
func (s *Store) ClientCount() int {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	return len(s.clients)
}

// ============================================================
// FlowStore Implementation
// ============================================================

// SavePendingRequest stores a pending request, sweeping expired ones first.
func (s *Store) SavePendingRequest(ctx context.Context, req *storage.PendingAuthorizationRequest) error {
	if req == nil || req.RequestID == "" {
		return fmt.Errorf("invalid pending request")
	}

	now := s.now()
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	for id, p := range s.pending {
		if !now.Before(p.ExpiresAt) {
			delete(s.pending, id)
		}
	}
	cp := *req
	s.pending[req.RequestID] = &cp
	return nil
}

// ConsumePendingRequest removes and returns a pending request.
func (s *Store) ConsumePendingRequest(ctx context.Context, requestID string) (*storage.PendingAuthorizationRequest, error) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	p, ok := s.pending[requestID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	delete(s.pending, requestID)

	if !s.now().Before(p.ExpiresAt) {
		return nil, storage.ErrExpired
	}
	return p, nil
}

// PendingRequestCount returns the number of stored pending requests.
func (s *Store) PendingRequestCount() int {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	return len(s.pending)
}

// SaveAuthorizationCode stores an issued code, sweeping expired codes first.
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	ctx, span := s.startStorageSpan(ctx, "save_authorization_code")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "save_authorization_code", err, startTime)
	}()

	if code == nil || code.Code == "" {
		err = fmt.Errorf("invalid authorization code")
		return err
	}

	now := s.now()
	s.codesMu.Lock()
	defer s.codesMu.Unlock()

	for k, c := range s.codes {
		if !now.Before(c.ExpiresAt) {
			delete(s.codes, k)
		}
	}
	cp := *code
	s.codes[code.Code] = &cp
	s.logger.Debug("Saved authorization code", "code_prefix", helpers.SafeTruncate(code.Code, tokenIDLogLength))
	return nil
}

// ConsumeAuthorizationCode removes and returns a code. Only one caller can
// ever receive a given code.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	s.codesMu.Lock()
	defer s.codesMu.Unlock()

	c, ok := s.codes[code]
	if !ok {
		return nil, storage.ErrNotFound
	}
	delete(s.codes, code)

	if !s.now().Before(c.ExpiresAt) {
		return nil, storage.ErrExpired
	}
	return c, nil
}

// AuthorizationCodeCount returns the number of unexchanged codes.
func (s *Store) AuthorizationCodeCount() int {
	s.codesMu.Lock()
	defer s.codesMu.Unlock()
	return len(s.codes)
}

// ============================================================
// RefreshTokenStore Implementation
// ============================================================

// SaveRefreshToken stores a refresh token and persists the token map.
// A persistence failure is logged, not returned: the token stays usable
// until the process restarts.
func (s *Store) SaveRefreshToken(ctx context.Context, token *storage.RefreshToken) error {
	ctx, span := s.startStorageSpan(ctx, "save_refresh_token")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "save_refresh_token", err, startTime)
	}()

	if token == nil || token.Token == "" {
		err = fmt.Errorf("refresh token cannot be empty")
		return err
	}

	now := s.now()
	s.refreshMu.Lock()
	for k, t := range s.refreshTokens {
		if !now.Before(t.ExpiresAt) {
			delete(s.refreshTokens, k)
		}
	}
	cp := *token
	cp.Token = ""
	s.refreshTokens[tokenDigest(token.Token)] = &cp
	s.refreshMu.Unlock()

	s.persistRefreshTokensLogged(ctx)
	return nil
}

// GetRefreshToken returns a token record without consuming it.
func (s *Store) GetRefreshToken(ctx context.Context, token string) (*storage.RefreshToken, error) {
	key := tokenDigest(token)

	s.refreshMu.Lock()
	t, ok := s.refreshTokens[key]
	if !ok {
		s.refreshMu.Unlock()
		return nil, storage.ErrNotFound
	}
	if !s.now().Before(t.ExpiresAt) {
		delete(s.refreshTokens, key)
		s.refreshMu.Unlock()
		s.persistRefreshTokensLogged(ctx)
		return nil, storage.ErrExpired
	}
	cp := *t
	s.refreshMu.Unlock()

	cp.Token = token
	return &cp, nil
}

// ConsumeRefreshToken removes and returns a token.
func (s *Store) ConsumeRefreshToken(ctx context.Context, token string) (*storage.RefreshToken, error) {
	key := tokenDigest(token)

	s.refreshMu.Lock()
	t, ok := s.refreshTokens[key]
	if !ok {
		s.refreshMu.Unlock()
		return nil, storage.ErrNotFound
	}
	delete(s.refreshTokens, key)
	s.refreshMu.Unlock()

	s.persistRefreshTokensLogged(ctx)

	if !s.now().Before(t.ExpiresAt) {
		return nil, storage.ErrExpired
	}
	t.Token = token
	return t, nil
}

// DeleteRefreshTokensForClient removes every refresh token issued to clientID.
func (s *Store) DeleteRefreshTokensForClient(ctx context.Context, clientID string) (int, error) {
	s.refreshMu.Lock()
	removed := 0
	for k, t := range s.refreshTokens {
		if t.ClientID == clientID {
			delete(s.refreshTokens, k)
			removed++
		}
	}
	s.refreshMu.Unlock()

	if removed > 0 {
		s.persistRefreshTokensLogged(ctx)
	}
	return removed, nil
}

// RefreshTokenCount returns the number of stored refresh tokens.
func (s *Store) RefreshTokenCount() int {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	return len(s.refreshTokens)
}

// ============================================================
// Persistence
// ============================================================

func (s *Store) persistClients(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}

	s.clientsSaveMu.Lock()
	defer s.clientsSaveMu.Unlock()

	s.clientsMu.Lock()
	doc := clientsDocument{Clients: make(map[string]clientRecord, len(s.clients))}
	for id, c := range s.clients {
		doc.Clients[id] = toClientRecord(c)
	}
	s.clientsMu.Unlock()

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode clients: %w", err)
	}
	if err := s.save(ctx, storage.KeyClients, data); err != nil {
		s.logger.Error("Failed to persist clients", "error", err)
		return fmt.Errorf("failed to persist clients: %w", err)
	}
	return nil
}

func (s *Store) persistRefreshTokensLogged(ctx context.Context) {
	if s.persister == nil {
		return
	}

	s.refreshSaveMu.Lock()
	defer s.refreshSaveMu.Unlock()

	s.refreshMu.Lock()
	doc := refreshDocument{RefreshTokens: make(map[string]refreshRecord, len(s.refreshTokens))}
	for k, t := range s.refreshTokens {
		doc.RefreshTokens[k] = refreshRecord{
			UserID:    t.UserID,
			ClientID:  t.ClientID,
			Scope:     t.Scope,
			ExpiresAt: t.ExpiresAt,
		}
	}
	s.refreshMu.Unlock()

	data, err := json.Marshal(doc)
	if err != nil {
		s.logger.Error("Failed to encode refresh tokens", "error", err)
		return
	}
	if err := s.save(ctx, storage.KeyRefreshTokens, data); err != nil {
		s.logger.Warn("Failed to persist refresh tokens; in-memory state is ahead of storage",
			"error", err)
	}
}

// save calls the persister with bounded exponential backoff.
func (s *Store) save(ctx context.Context, key string, data []byte) error {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = s.initialBackoff
	expBackoff.Reset()

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		return struct{}{}, s.persister.Save(ctx, key, data)
	},
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(s.saveAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.logger.Debug("Retrying persistence save",
				"key", key,
				"attempt", attempt,
				"retry_in", next,
				"error", err)
		}),
	)
	return err
}

// ============================================================
// Instrumentation
// ============================================================

func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		// non-recording span; ending it must not end the caller's span
		return ctx, trace.SpanFromContext(context.Background())
	}

	ctx, span := s.tracer.Start(ctx, fmt.Sprintf("storage.%s", operation))
	instrumentation.AddStorageAttributes(span, operation, "memory")
	return ctx, span
}

func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if s.instrumentation == nil {
		return
	}

	durationMs := float64(time.Since(startTime).Microseconds()) / 1000
	result := "success"
	if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}
