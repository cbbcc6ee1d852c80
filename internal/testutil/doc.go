// Package testutil provides test fixtures for the provider: a controllable clock,
// PKCE pairs, sample clients and an in-memory user directory.
package testutil
