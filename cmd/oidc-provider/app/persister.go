package app

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"

	"github.com/giantswarm/oidc-provider/storage"
	"github.com/giantswarm/oidc-provider/storage/memory"
	"github.com/giantswarm/oidc-provider/storage/redis"
	"github.com/giantswarm/oidc-provider/storage/valkey"
)

// openPersister returns the configured backend and a func releasing it.
func openPersister(ctx context.Context, cfg StorageConfig, logger *slog.Logger) (storage.Persister, func(), error) {
	switch cfg.Backend {
	case backendRedis:
		p, err := redis.New(ctx, redis.Config{
			URL:       cfg.Redis.URL,
			KeyPrefix: cfg.Redis.KeyPrefix,
			Logger:    logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return p, func() {
			if err := p.Close(); err != nil {
				logger.Warn("Failed to close redis connection", "error", err)
			}
		}, nil

	case backendValkey:
		vc := valkey.Config{
			Address:   cfg.Valkey.Address,
			Password:  cfg.Valkey.Password,
			DB:        cfg.Valkey.DB,
			KeyPrefix: cfg.Valkey.KeyPrefix,
			Logger:    logger,
		}
		if cfg.Valkey.TLS {
			vc.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		p, err := valkey.New(ctx, vc)
		if err != nil {
			return nil, nil, err
		}
		return p, p.Close, nil

	case backendMemory:
		logger.Warn("Using in-memory storage; clients, tokens and the signing key are lost on restart")
		return memory.NewPersister(), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
