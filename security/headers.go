package security

import (
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/url"
)

const strictCSP = "default-src 'none'; frame-ancestors 'none'"

// SetSecurityHeaders sets the headers every provider response carries.
// HSTS is only sent when issuer is an https URL.
func SetSecurityHeaders(w http.ResponseWriter, issuer string) {
	setCommonHeaders(w, issuer)
	w.Header().Set("Content-Security-Policy", strictCSP)
}

// SetPageSecurityHeaders is SetSecurityHeaders for an HTML page whose only
// script is the inline one identified by scriptHash (see ScriptHash).
func SetPageSecurityHeaders(w http.ResponseWriter, issuer, scriptHash string) {
	setCommonHeaders(w, issuer)
	w.Header().Set("Content-Security-Policy",
		"default-src 'none'; script-src '"+scriptHash+"'; frame-ancestors 'none'; base-uri 'none'")
}

// ScriptHash returns the CSP source expression ("sha256-...") for an inline script body.
func ScriptHash(script string) string {
	sum := sha256.Sum256([]byte(script))
	return "sha256-" + base64.StdEncoding.EncodeToString(sum[:])
}

func setCommonHeaders(w http.ResponseWriter, issuer string) {
	h := w.Header()
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Referrer-Policy", "no-referrer")

	if parsed, err := url.Parse(issuer); err == nil && parsed.Scheme == "https" {
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}

	// Tokens, codes and request ids must never be cached
	h.Set("Cache-Control", "no-store")
	h.Set("Pragma", "no-cache")
}
