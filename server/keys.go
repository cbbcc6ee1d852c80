package server

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/google/uuid"

	"github.com/giantswarm/oidc-provider/security"
	"github.com/giantswarm/oidc-provider/storage"
)

const (
	// SigningAlgorithm is the only JWS algorithm the provider issues or accepts.
	SigningAlgorithm = "RS256"

	rsaKeyBits = 2048

	// legacyKeyID is used for persisted keys written without a kid.
	legacyKeyID = "1"
)

// KeyManager owns the provider's RSA signing key. The key is loaded from the
// persister or generated once and persisted; it is never rotated.
type KeyManager struct {
	persister storage.Persister
	encryptor *security.Encryptor
	logger    *slog.Logger

	mu        sync.RWMutex
	key       *rsa.PrivateKey
	keyID     string
	createdAt time.Time
}

// NewKeyManager creates an empty KeyManager. Call LoadOrGenerate before use.
// encryptor may be nil; when enabled the persisted PEM is sealed with it.
func NewKeyManager(persister storage.Persister, encryptor *security.Encryptor, logger *slog.Logger) *KeyManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &KeyManager{
		persister: persister,
		encryptor: encryptor,
		logger:    logger,
	}
}

// LoadOrGenerate reads the persisted signing key, or generates and persists
// a new RSA-2048 key with a random kid when none exists.
func (m *KeyManager) LoadOrGenerate(ctx context.Context) error {
	if m.persister != nil {
		data, err := m.persister.Load(ctx, storage.KeySigningKey)
		switch {
		case err == nil:
			return m.load(data)
		case !errors.Is(err, storage.ErrNotFound):
			return fmt.Errorf("failed to load signing key: %w", err)
		}
	}
	return m.generate(ctx)
}

func (m *KeyManager) load(data []byte) error {
	var rec storage.SigningKeyRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("failed to decode signing key record: %w", err)
	}
	if rec.PrivateKeyPEM == "" {
		return fmt.Errorf("signing key record has no private key")
	}

	pemBytes := []byte(rec.PrivateKeyPEM)
	if rec.Encrypted {
		if !m.encryptor.IsEnabled() {
			return fmt.Errorf("signing key is encrypted but no encryption key is configured")
		}
		opened, err := m.encryptor.Open(rec.PrivateKeyPEM, storage.KeySigningKey)
		if err != nil {
			return fmt.Errorf("failed to decrypt signing key: %w", err)
		}
		pemBytes = opened
	}

	key, err := parsePrivateKeyPEM(pemBytes)
	if err != nil {
		return err
	}

	kid := rec.KeyID
	if kid == "" {
		kid = legacyKeyID
	}

	m.mu.Lock()
	m.key, m.keyID, m.createdAt = key, kid, rec.CreatedAt
	m.mu.Unlock()

	m.logger.Info("Loaded signing key from storage", "kid", kid, "encrypted", rec.Encrypted)
	return nil
}

func (m *KeyManager) generate(ctx context.Context) error {
	m.logger.Info("Generating new RSA key pair for JWT signing")

	key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return fmt.Errorf("failed to generate signing key: %w", err)
	}

	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return fmt.Errorf("failed to marshal signing key: %w", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	rec := storage.SigningKeyRecord{
		PrivateKeyPEM: string(pemBytes),
		KeyID:         uuid.NewString(),
		CreatedAt:     time.Now().UTC(),
	}
	if m.encryptor.IsEnabled() {
		sealed, err := m.encryptor.Seal(pemBytes, storage.KeySigningKey)
		if err != nil {
			return fmt.Errorf("failed to encrypt signing key: %w", err)
		}
		rec.PrivateKeyPEM = sealed
		rec.Encrypted = true
	}

	if m.persister != nil {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to encode signing key record: %w", err)
		}
		if err := m.persister.Save(ctx, storage.KeySigningKey, data); err != nil {
			return fmt.Errorf("failed to persist signing key: %w", err)
		}
	} else {
		m.logger.Warn("No persister configured: signing key is ephemeral and tokens will be invalid after restart")
	}

	m.mu.Lock()
	m.key, m.keyID, m.createdAt = key, rec.KeyID, rec.CreatedAt
	m.mu.Unlock()

	m.logger.Info("RSA key pair generated and saved", "kid", rec.KeyID)
	return nil
}

func parsePrivateKeyPEM(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("signing key is not valid PEM")
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		// keys written by older tooling may be PKCS1
		rsaKey, pkcs1Err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if pkcs1Err != nil {
			return nil, fmt.Errorf("failed to parse signing key: %w", err)
		}
		return rsaKey, nil
	}

	rsaKey, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("signing key is %T, want RSA", parsed)
	}
	return rsaKey, nil
}

// SigningKey returns the private key, or nil before LoadOrGenerate.
func (m *KeyManager) SigningKey() *rsa.PrivateKey {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.key
}

// PublicKey returns the public half of the signing key.
func (m *KeyManager) PublicKey() *rsa.PublicKey {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.key == nil {
		return nil
	}
	return &m.key.PublicKey
}

// KeyID returns the kid placed in token headers and the JWKS.
func (m *KeyManager) KeyID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.keyID
}

// PublicJWKS returns the key set served at the jwks endpoint.
func (m *KeyManager) PublicJWKS() jose.JSONWebKeySet {
	pub := m.PublicKey()
	if pub == nil {
		return jose.JSONWebKeySet{Keys: []jose.JSONWebKey{}}
	}
	return jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{{
			Key:       pub,
			KeyID:     m.KeyID(),
			Algorithm: SigningAlgorithm,
			Use:       "sig",
		}},
	}
}
