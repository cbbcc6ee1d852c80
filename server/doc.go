// Package server implements the protocol logic of the OIDC provider,
// independent of HTTP.
//
// A Server owns the client registry, the authorization sessions that wait for
// the user to log in, the token endpoint grants and the signing key. Access
// tokens are RS256 JWTs whose audience is the client id; refresh tokens are
// opaque and rotate on use by default.
//
// Errors are sentinels (ErrInvalidGrant, ErrInvalidClient, ...) matched with
// errors.Is. Description returns the message that may be shown to the client;
// the wrapped chain carries detail for logs only.
//
// Example usage:
//
//	store := memory.New(persister)
//	if err := store.Load(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	keys := server.NewKeyManager(persister, nil, logger)
//	if err := keys.LoadOrGenerate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	srv, err := server.New(store, store, store, keys, server.DefaultConfig(), logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
package server
