package oidc

import (
	"net/http"
	"strings"
)

// issuerFromRequest derives the issuer origin. Forwarded proto and host are
// used only when both are present.
func issuerFromRequest(r *http.Request) string {
	proto := firstHeaderValue(r.Header.Get("X-Forwarded-Proto"))
	host := firstHeaderValue(r.Header.Get("X-Forwarded-Host"))
	if proto != "" && host != "" {
		return proto + "://" + host
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

// firstHeaderValue returns the first entry of a comma-separated header.
func firstHeaderValue(v string) string {
	first, _, _ := strings.Cut(v, ",")
	return strings.TrimSpace(first)
}
