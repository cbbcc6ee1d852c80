package oidc

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestIssuerFromRequest(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		tls     bool
		want    string
	}{
		{
			name: "plain request",
			want: "http://example.com",
		},
		{
			name: "tls request",
			tls:  true,
			want: "https://example.com",
		},
		{
			name:    "both forwarded headers",
			headers: map[string]string{"X-Forwarded-Proto": "https", "X-Forwarded-Host": "auth.example.org"},
			want:    "https://auth.example.org",
		},
		{
			name:    "forwarded proto only",
			headers: map[string]string{"X-Forwarded-Proto": "https"},
			want:    "http://example.com",
		},
		{
			name:    "forwarded host only",
			headers: map[string]string{"X-Forwarded-Host": "auth.example.org"},
			want:    "http://example.com",
		},
		{
			name:    "proxy chain keeps first entry",
			headers: map[string]string{"X-Forwarded-Proto": "https, http", "X-Forwarded-Host": "auth.example.org, internal:8080"},
			want:    "https://auth.example.org",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/oidc/jwks", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if tt.tls {
				req.TLS = &tls.ConnectionState{}
			}

			if got := issuerFromRequest(req); got != tt.want {
				t.Errorf("issuerFromRequest() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHandler_IssuerOverride(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/oidc/jwks", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	req.Header.Set("X-Forwarded-Host", "attacker.example.net")

	if got := env.provider.Handler().issuer(req); got != testIssuer {
		t.Errorf("issuer() = %q, want configured %q", got, testIssuer)
	}
}
