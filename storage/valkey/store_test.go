package valkey

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/oidc-provider/storage"
	"github.com/giantswarm/oidc-provider/storage/memory"
)

// testPersister connects to a local Valkey instance.
// Tests are skipped when no server is reachable at VALKEY_TEST_ADDR (default localhost:6379).
func testPersister(t *testing.T) *Persister {
	t.Helper()

	addr := os.Getenv("VALKEY_TEST_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	prefix := fmt.Sprintf("oidctest:%s:", t.Name())

	p, err := New(context.Background(), Config{
		Address:   addr,
		KeyPrefix: prefix,
	})
	if err != nil {
		t.Skipf("Skipping test: could not connect to Valkey at %s: %v", addr, err)
	}

	t.Cleanup(func() {
		cleanupTestKeys(p)
		p.Close()
	})
	cleanupTestKeys(p)
	return p
}

func cleanupTestKeys(p *Persister) {
	ctx := context.Background()
	for _, key := range []string{storage.KeySigningKey, storage.KeyClients, storage.KeyRefreshTokens} {
		_ = p.client.Do(ctx, p.client.B().Del().Key(p.prefix+key).Build())
	}
}

func TestNew_RequiresAddress(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}

func TestPersister_LoadMissing(t *testing.T) {
	p := testPersister(t)

	_, err := p.Load(context.Background(), storage.KeyClients)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPersister_SaveLoad(t *testing.T) {
	p := testPersister(t)
	ctx := context.Background()

	payload := []byte(`{"clients":{}}`)
	require.NoError(t, p.Save(ctx, storage.KeyClients, payload))

	got, err := p.Load(ctx, storage.KeyClients)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	require.NoError(t, p.Save(ctx, storage.KeyClients, []byte(`{"clients":{"a":{}}}`)))
	got, err = p.Load(ctx, storage.KeyClients)
	require.NoError(t, err)
	assert.JSONEq(t, `{"clients":{"a":{}}}`, string(got))
}

func TestPersister_BacksMemoryStore(t *testing.T) {
	p := testPersister(t)
	ctx := context.Background()

	store := memory.New(p)
	require.NoError(t, store.SaveClient(ctx, &storage.Client{
		ClientID:     "cid",
		ClientName:   "Valkey Client",
		Secret:       storage.HashedSecret([]byte{1}, []byte{2}),
		RedirectURIs: []string{"https://app.example.com/cb"},
	}))

	reloaded := memory.New(p)
	require.NoError(t, reloaded.Load(ctx))

	c, err := reloaded.GetClient(ctx, "cid")
	require.NoError(t, err)
	assert.Equal(t, "Valkey Client", c.ClientName)
	assert.Equal(t, storage.SecretKindHashed, c.Secret.Kind)
}
