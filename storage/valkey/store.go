package valkey

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/giantswarm/oidc-provider/storage"
)

// DefaultKeyPrefix namespaces the documents of one provider.
const DefaultKeyPrefix = "oidc:"

// MaxDocumentSize caps a single Save. Valkey accepts far larger strings, but a
// client or refresh token document this big means something has gone wrong.
const MaxDocumentSize = 16 << 20

const defaultConnectTimeout = 5 * time.Second

// Config configures the Valkey persister. Only Address is required.
type Config struct {
	Address  string
	Password string
	DB       int

	KeyPrefix string // default DefaultKeyPrefix
	TLS       *tls.Config

	// ConnectTimeout bounds the initial PING (default 5s).
	ConnectTimeout time.Duration

	Logger *slog.Logger
}

// Persister stores provider documents as plain Valkey strings.
type Persister struct {
	client valkeygo.Client
	prefix string
	logger *slog.Logger
}

var _ storage.Persister = (*Persister)(nil)

// New connects to cfg.Address and verifies the connection with PING.
func New(ctx context.Context, cfg Config) (*Persister, error) {
	if cfg.Address == "" {
		return nil, errors.New("valkey address is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}

	client, err := valkeygo.NewClient(valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		Password:    cfg.Password,
		SelectDB:    cfg.DB,
		TLSConfig:   cfg.TLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := client.Do(pingCtx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey at %s: %w", cfg.Address, err)
	}

	cfg.Logger.Info("Connected to Valkey persistence",
		"address", cfg.Address, "db", cfg.DB, "prefix", cfg.KeyPrefix, "tls", cfg.TLS != nil)
	return &Persister{client: client, prefix: cfg.KeyPrefix, logger: cfg.Logger}, nil
}

func (p *Persister) Close() {
	p.client.Close()
	p.logger.Info("Valkey persistence connection closed")
}

// Load returns the document saved under key or storage.ErrNotFound.
func (p *Persister) Load(ctx context.Context, key string) ([]byte, error) {
	data, err := p.client.Do(ctx, p.client.B().Get().Key(p.prefix+key).Build()).AsBytes()
	switch {
	case valkeygo.IsValkeyNil(err):
		return nil, storage.ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("failed to load %s: %w", key, err)
	}
	return data, nil
}

// Save replaces the document under key.
func (p *Persister) Save(ctx context.Context, key string, data []byte) error {
	if len(data) > MaxDocumentSize {
		return fmt.Errorf("document %s is %d bytes, limit is %d", key, len(data), MaxDocumentSize)
	}

	set := p.client.B().Set().Key(p.prefix + key).Value(valkeygo.BinaryString(data)).Build()
	if err := p.client.Do(ctx, set).Error(); err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	p.logger.Debug("Saved document", "key", key, "bytes", len(data))
	return nil
}
