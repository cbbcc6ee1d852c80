// Package memory provides the in-process provider state and an in-memory Persister.
//
// Store holds registered clients, pending authorization requests, authorization
// codes and refresh tokens. Each collection is guarded by its own mutex and every
// check-then-delete (consuming a code, consuming a pending request, rotating a
// refresh token) happens under that lock. Expired entries are swept lazily when
// their collection is written.
//
// Clients and refresh tokens are written through to a storage.Persister and
// reloaded with Load at start. Pending requests and codes live in memory only.
//
// Example usage:
//
//	store := memory.New(memory.NewPersister(), memory.WithLogger(logger))
//	if err := store.Load(ctx); err != nil {
//		return err
//	}
package memory
