package server

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/giantswarm/oidc-provider/security"
)

func TestServer_AuthenticateClient_LocksAfterFailures(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	client, secret := env.registerClient(t)

	for i := range security.DefaultMaxFailedAttempts {
		err := env.srv.AuthenticateClient(ctx, client.ClientID, "wrong", testSource)
		if !errors.Is(err, ErrInvalidClient) {
			t.Fatalf("attempt %d: error = %v, want ErrInvalidClient", i+1, err)
		}
	}

	// the 6th attempt is locked even with the correct secret
	err := env.srv.AuthenticateClient(ctx, client.ClientID, secret, testSource)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("6th attempt error = %v, want ErrRateLimited", err)
	}
	if Description(err) != "Too many failed attempts. Please try again later." {
		t.Errorf("Description() = %q", Description(err))
	}

	// other sources are unaffected
	if err := env.srv.AuthenticateClient(ctx, client.ClientID, secret, "198.51.100.7"); err != nil {
		t.Errorf("other source error = %v", err)
	}

	env.clock.Advance(security.DefaultLockoutPenalty - time.Second)
	if err := env.srv.AuthenticateClient(ctx, client.ClientID, secret, testSource); !errors.Is(err, ErrRateLimited) {
		t.Errorf("before penalty elapsed: error = %v, want ErrRateLimited", err)
	}

	env.clock.Advance(time.Second)
	if err := env.srv.AuthenticateClient(ctx, client.ClientID, secret, testSource); err != nil {
		t.Errorf("after penalty: error = %v", err)
	}
}

func TestServer_AuthenticateClient_SuccessClearsFailures(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	client, secret := env.registerClient(t)

	for range security.DefaultMaxFailedAttempts - 1 {
		_ = env.srv.AuthenticateClient(ctx, client.ClientID, "wrong", testSource)
	}
	if err := env.srv.AuthenticateClient(ctx, client.ClientID, secret, testSource); err != nil {
		t.Fatalf("AuthenticateClient() error = %v", err)
	}

	// counter restarted, so one more failure does not lock
	_ = env.srv.AuthenticateClient(ctx, client.ClientID, "wrong", testSource)
	if err := env.srv.AuthenticateClient(ctx, client.ClientID, secret, testSource); err != nil {
		t.Errorf("AuthenticateClient() after cleared failures error = %v", err)
	}
}

func TestServer_AuthenticateClient_ClientWideLimiter(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	client, secret := env.registerClient(t)
	env.srv.SetFailureLimiters(
		security.NewFailureLimiter(security.FailureLimiterConfig{Now: env.clock.Now}, nil),
		security.NewFailureLimiter(security.FailureLimiterConfig{MaxAttempts: 8, Now: env.clock.Now}, nil),
	)

	// spread failures over sources so no per-source key locks
	for i := range 8 {
		source := fmt.Sprintf("203.0.113.%d", i)
		_ = env.srv.AuthenticateClient(ctx, client.ClientID, "wrong", source)
	}

	err := env.srv.AuthenticateClient(ctx, client.ClientID, secret, "203.0.113.200")
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("error = %v, want ErrRateLimited from the client-wide limiter", err)
	}
}

func TestServer_AuthenticateClient_NilLimiters(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.srv.SetFailureLimiters(nil, nil)
	client, secret := env.registerClient(t)

	for range 10 {
		_ = env.srv.AuthenticateClient(ctx, client.ClientID, "wrong", testSource)
	}
	if err := env.srv.AuthenticateClient(ctx, client.ClientID, secret, testSource); err != nil {
		t.Errorf("AuthenticateClient() error = %v", err)
	}
}

func TestServer_AuthenticateClient_MissingClientID(t *testing.T) {
	env := newTestEnv(t)
	if err := env.srv.AuthenticateClient(context.Background(), "", "x", testSource); !errors.Is(err, ErrInvalidClient) {
		t.Errorf("error = %v, want ErrInvalidClient", err)
	}
}
