// Package valkey provides a storage.Persister backed by Valkey.
//
// Valkey is wire-compatible with Redis. The provider keeps its working state in
// memory and only writes whole documents through the Persister, so the key
// schema is flat:
//
//	{prefix}oidc_provider.keys            -> JSON(SigningKeyRecord)
//	{prefix}oidc_provider.clients         -> JSON({"clients": {...}})
//	{prefix}oidc_provider.refresh_tokens  -> JSON({"refresh_tokens": {...}})
//
// All keys use a configurable prefix (default "oidc:") so several providers can
// share one Valkey instance.
//
// # Usage
//
//	p, err := valkey.New(ctx, valkey.Config{Address: "localhost:6379"})
//	if err != nil {
//		return err
//	}
//	defer p.Close()
//
//	store := memory.New(p)
package valkey
