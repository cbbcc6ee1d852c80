package storage

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Persistence keys used with a Persister.
const (
	KeySigningKey    = "oidc_provider.keys"
	KeyClients       = "oidc_provider.clients"
	KeyRefreshTokens = "oidc_provider.refresh_tokens" //nolint:gosec // storage key name, not a credential
)

var (
	// ErrNotFound is returned when a record or persisted key does not exist.
	ErrNotFound = errors.New("not found")

	// ErrExpired is returned when a record was found past its expiry. The record
	// has already been removed when this error is returned.
	ErrExpired = errors.New("expired")
)

// Persister is the durability boundary of the provider. The host supplies the
// implementation; Load returns ErrNotFound when nothing was saved under key.
type Persister interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
}

// ClientStore manages registered OAuth clients.
type ClientStore interface {
	// SaveClient creates or replaces a client and persists the registry.
	SaveClient(ctx context.Context, client *Client) error

	// GetClient returns ErrNotFound for unknown clients.
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// DeleteClient removes a client and persists the registry.
	DeleteClient(ctx context.Context, clientID string) error

	// ListClients returns every registered client.
	ListClients(ctx context.Context) ([]*Client, error)

	// MigrateLegacySecret replaces a LegacyPlain secret equal to plain with
	// hashed. It is a no-op returning false when the stored record changed
	// in the meantime.
	MigrateLegacySecret(ctx context.Context, clientID, plain string, hashed SecretRecord) (bool, error)
}

// FlowStore holds pending authorization requests and issued authorization codes.
type FlowStore interface {
	// SavePendingRequest stores a request awaiting user login.
	SavePendingRequest(ctx context.Context, req *PendingAuthorizationRequest) error

	// ConsumePendingRequest atomically removes and returns a pending request.
	// Returns ErrNotFound if unknown and ErrExpired (after deleting it) if stale.
	ConsumePendingRequest(ctx context.Context, requestID string) (*PendingAuthorizationRequest, error)

	// SaveAuthorizationCode stores a freshly issued code.
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// ConsumeAuthorizationCode atomically removes and returns a code so that it
	// can be exchanged at most once. Returns ErrNotFound or ErrExpired.
	ConsumeAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)
}

// RefreshTokenStore holds opaque refresh tokens.
type RefreshTokenStore interface {
	// SaveRefreshToken stores and persists a refresh token.
	SaveRefreshToken(ctx context.Context, token *RefreshToken) error

	// GetRefreshToken returns ErrNotFound, or ErrExpired after deleting a stale token.
	GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error)

	// ConsumeRefreshToken atomically removes and returns a token (rotation).
	ConsumeRefreshToken(ctx context.Context, token string) (*RefreshToken, error)

	// DeleteRefreshTokensForClient removes every token issued to clientID and
	// returns how many were removed.
	DeleteRefreshTokensForClient(ctx context.Context, clientID string) (int, error)
}

// Client represents a registered OAuth client
type Client struct {
	ClientID                string
	ClientName              string
	Secret                  SecretRecord
	RedirectURIs            []string
	GrantTypes              []string
	ResponseTypes           []string
	TokenEndpointAuthMethod string
	CreatedAt               time.Time
}

// HasRedirectURI reports whether uri exactly matches one of the registered URIs.
func (c *Client) HasRedirectURI(uri string) bool {
	for _, registered := range c.RedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}

// SecretKind tags the representation held by a SecretRecord.
type SecretKind int

const (
	// SecretKindNone marks a client without a usable secret.
	SecretKindNone SecretKind = iota

	// SecretKindHashed is a salted PBKDF2 digest.
	SecretKindHashed

	// SecretKindLegacyPlain is a clear-text secret from records created before hashing.
	SecretKindLegacyPlain
)

// String returns a stable name for logs.
func (k SecretKind) String() string {
	switch k {
	case SecretKindHashed:
		return "hashed"
	case SecretKindLegacyPlain:
		return "legacy_plain"
	default:
		return "none"
	}
}

// SecretRecord is either Hashed(salt, digest) or LegacyPlain(value).
type SecretRecord struct {
	Kind   SecretKind
	Salt   []byte
	Digest []byte
	Plain  string
}

// HashedSecret builds a hashed record.
func HashedSecret(salt, digest []byte) SecretRecord {
	return SecretRecord{Kind: SecretKindHashed, Salt: salt, Digest: digest}
}

// LegacyPlainSecret builds a clear-text record.
func LegacyPlainSecret(value string) SecretRecord {
	return SecretRecord{Kind: SecretKindLegacyPlain, Plain: value}
}

// EncodeHash renders a hashed record as "salthex:digesthex".
// It returns an empty string for any other kind.
func (r SecretRecord) EncodeHash() string {
	if r.Kind != SecretKindHashed {
		return ""
	}
	return hex.EncodeToString(r.Salt) + ":" + hex.EncodeToString(r.Digest)
}

// ParseSecretHash parses the "salthex:digesthex" form produced by EncodeHash.
func ParseSecretHash(encoded string) (SecretRecord, error) {
	saltHex, digestHex, ok := strings.Cut(encoded, ":")
	if !ok || saltHex == "" || digestHex == "" {
		return SecretRecord{}, fmt.Errorf("malformed secret hash")
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return SecretRecord{}, fmt.Errorf("malformed secret salt: %w", err)
	}
	digest, err := hex.DecodeString(digestHex)
	if err != nil {
		return SecretRecord{}, fmt.Errorf("malformed secret digest: %w", err)
	}
	return HashedSecret(salt, digest), nil
}

// PendingAuthorizationRequest is an authorization request waiting for the user to log in.
type PendingAuthorizationRequest struct {
	RequestID           string
	ClientID            string
	RedirectURI         string
	ResponseType        string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	CreatedAt           time.Time
	ExpiresAt           time.Time
}

// AuthorizationCode represents an issued authorization code
type AuthorizationCode struct {
	Code                string
	ClientID            string
	RedirectURI         string
	Scope               string
	UserID              string
	CodeChallenge       string
	CodeChallengeMethod string
	CreatedAt           time.Time
	ExpiresAt           time.Time
}

// RefreshToken is an opaque, long-lived credential bound to a user and client.
type RefreshToken struct {
	Token     string
	UserID    string
	ClientID  string
	Scope     string
	ExpiresAt time.Time
}

// SigningKeyRecord is the persisted form of the provider signing key.
type SigningKeyRecord struct {
	PrivateKeyPEM string    `json:"private_key_pem"`
	KeyID         string    `json:"kid"`
	CreatedAt     time.Time `json:"created_at"`
	Encrypted     bool      `json:"encrypted,omitempty"`
}
