// Package helpers provides small utility functions shared across the provider.
//
// Key utilities:
//   - SafeTruncate: truncates identifiers before they are logged
//   - NormalizeURL: strips trailing slashes from issuer and base URLs
//   - IsLoopbackHostname: recognises the hosts allowed to use plain http redirect URIs
package helpers
