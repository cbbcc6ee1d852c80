package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/oidc-provider/storage"
	"github.com/giantswarm/oidc-provider/storage/memory"
)

func newTestPersister(t *testing.T) (*Persister, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewWithClient(client, "test:", nil), mr
}

func TestNew_Validation(t *testing.T) {
	ctx := context.Background()

	_, err := New(ctx, Config{})
	assert.Error(t, err)

	_, err = New(ctx, Config{URL: "not a url"})
	assert.Error(t, err)
}

func TestNew_ConnectsToServer(t *testing.T) {
	mr := miniredis.RunT(t)

	p, err := New(context.Background(), Config{URL: "redis://" + mr.Addr() + "/0"})
	require.NoError(t, err)
	defer func() { _ = p.Close() }()

	assert.Equal(t, DefaultKeyPrefix, p.prefix)
	assert.NoError(t, p.Ping(context.Background()))
}

func TestPersister_LoadMissing(t *testing.T) {
	p, _ := newTestPersister(t)

	_, err := p.Load(context.Background(), storage.KeyClients)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPersister_SaveLoad(t *testing.T) {
	p, mr := newTestPersister(t)
	ctx := context.Background()

	require.NoError(t, p.Save(ctx, storage.KeySigningKey, []byte(`{"kid":"k1"}`)))

	got, err := p.Load(ctx, storage.KeySigningKey)
	require.NoError(t, err)
	assert.JSONEq(t, `{"kid":"k1"}`, string(got))

	// key is prefixed and never expires
	assert.True(t, mr.Exists("test:"+storage.KeySigningKey))
	assert.Equal(t, time.Duration(0), mr.TTL("test:"+storage.KeySigningKey))
}

func TestPersister_ServerDown(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer func() { _ = client.Close() }()
	p := NewWithClient(client, "", nil)

	err := p.Save(context.Background(), storage.KeyClients, []byte(`{}`))
	assert.Error(t, err)

	_, err = p.Load(context.Background(), storage.KeyClients)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, storage.ErrNotFound)
}

func TestPersister_BacksMemoryStore(t *testing.T) {
	p, _ := newTestPersister(t)
	ctx := context.Background()
	exp := time.Now().Add(time.Hour)

	store := memory.New(p)
	require.NoError(t, store.SaveClient(ctx, &storage.Client{
		ClientID:     "cid",
		ClientName:   "Redis Client",
		Secret:       storage.LegacyPlainSecret("s3cret"),
		RedirectURIs: []string{"https://app.example.com/cb"},
	}))
	require.NoError(t, store.SaveRefreshToken(ctx, &storage.RefreshToken{
		Token:     "rt-1",
		UserID:    "alice",
		ClientID:  "cid",
		ExpiresAt: exp,
	}))

	reloaded := memory.New(p)
	require.NoError(t, reloaded.Load(ctx))

	c, err := reloaded.GetClient(ctx, "cid")
	require.NoError(t, err)
	assert.Equal(t, storage.SecretKindLegacyPlain, c.Secret.Kind)

	rt, err := reloaded.GetRefreshToken(ctx, "rt-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", rt.UserID)
}
