// Package storage defines the provider's records and the interfaces used to hold them.
//
// The storage package defines:
//   - Persister: the host-supplied load/save port, the only durability boundary
//   - ClientStore: registered OAuth clients and their secret records
//   - FlowStore: pending authorization requests and single-use authorization codes
//   - RefreshTokenStore: opaque refresh tokens
//
// Implementations are provided in subpackages:
//   - storage/memory: the in-process provider state (source of truth between restarts)
//     plus an in-memory Persister for tests and ephemeral deployments
//   - storage/redis: a Persister backed by Redis (go-redis)
//   - storage/valkey: a Persister backed by Valkey (valkey-go)
package storage
