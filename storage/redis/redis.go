// Package redis provides a storage.Persister backed by Redis (go-redis).
//
// Documents are stored as plain string values under {prefix}{key}. Use
// NewWithClient to hand in a pre-configured client, for example one pointed at
// miniredis in tests or a failover client for Sentinel deployments.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/giantswarm/oidc-provider/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Redis keys
	DefaultKeyPrefix = "oidc:"

	// DefaultDialTimeout is the default connection timeout
	DefaultDialTimeout = 5 * time.Second
)

// Config holds configuration for the Redis persister.
type Config struct {
	// URL is a redis:// or rediss:// connection URL (required)
	URL string

	// KeyPrefix is the prefix for all keys (default "oidc:")
	KeyPrefix string

	// DialTimeout bounds connection establishment (default 5s)
	DialTimeout time.Duration

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Persister is a Redis-backed storage.Persister.
type Persister struct {
	client goredis.UniversalClient
	prefix string
	logger *slog.Logger
}

var _ storage.Persister = (*Persister)(nil)

// New parses cfg.URL, connects and verifies the connection with PING.
func New(ctx context.Context, cfg Config) (*Persister, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis URL is required")
	}

	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	opts.DialTimeout = cfg.DialTimeout
	if opts.DialTimeout == 0 {
		opts.DialTimeout = DefaultDialTimeout
	}

	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	p := NewWithClient(client, cfg.KeyPrefix, cfg.Logger)
	p.logger.Info("Connected to Redis persistence",
		"address", opts.Addr,
		"db", opts.DB,
		"prefix", p.prefix)
	return p, nil
}

// NewWithClient wraps an existing client. An empty prefix uses DefaultKeyPrefix.
func NewWithClient(client goredis.UniversalClient, prefix string, logger *slog.Logger) *Persister {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Persister{client: client, prefix: prefix, logger: logger}
}

// Close closes the Redis client connection.
func (p *Persister) Close() error {
	return p.client.Close()
}

// Ping checks Redis connectivity (health check).
func (p *Persister) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Load returns the document saved under key or storage.ErrNotFound.
func (p *Persister) Load(ctx context.Context, key string) ([]byte, error) {
	data, err := p.client.Get(ctx, p.prefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", key, err)
	}
	return data, nil
}

// Save overwrites the document under key without expiry.
func (p *Persister) Save(ctx context.Context, key string, data []byte) error {
	if err := p.client.Set(ctx, p.prefix+key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	p.logger.Debug("Saved document", "key", key, "bytes", len(data))
	return nil
}
