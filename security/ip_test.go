package security

import (
	"net/http/httptest"
	"testing"
)

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name          string
		remoteAddr    string
		xForwardedFor string
		xRealIP       string
		cfg           ProxyConfig
		want          string
	}{
		{
			name:       "direct connection",
			remoteAddr: "192.168.1.100:12345",
			want:       "192.168.1.100",
		},
		{
			name:          "forwarded header ignored without trust",
			remoteAddr:    "10.0.0.1:12345",
			xForwardedFor: "203.0.113.1",
			want:          "10.0.0.1",
		},
		{
			name:          "forwarded header with one trusted proxy",
			remoteAddr:    "10.0.0.1:12345",
			xForwardedFor: "203.0.113.1, 10.0.0.2",
			cfg:           ProxyConfig{TrustProxy: true},
			want:          "203.0.113.1",
		},
		{
			name:          "spoofed prefix is skipped",
			remoteAddr:    "10.0.0.1:12345",
			xForwardedFor: "6.6.6.6, 203.0.113.1, 10.0.0.2",
			cfg:           ProxyConfig{TrustProxy: true},
			want:          "203.0.113.1",
		},
		{
			name:          "two trusted proxies",
			remoteAddr:    "10.0.0.1:12345",
			xForwardedFor: "203.0.113.1, 10.0.0.2, 10.0.0.3",
			cfg:           ProxyConfig{TrustProxy: true, TrustedProxyCount: 2},
			want:          "203.0.113.1",
		},
		{
			name:          "short header uses leftmost",
			remoteAddr:    "10.0.0.1:12345",
			xForwardedFor: "203.0.113.1",
			cfg:           ProxyConfig{TrustProxy: true, TrustedProxyCount: 3},
			want:          "203.0.113.1",
		},
		{
			name:          "invalid forwarded entry falls back to X-Real-IP",
			remoteAddr:    "10.0.0.1:12345",
			xForwardedFor: "not-an-ip, 10.0.0.2",
			xRealIP:       "198.51.100.7",
			cfg:           ProxyConfig{TrustProxy: true},
			want:          "198.51.100.7",
		},
		{
			name:       "invalid X-Real-IP falls back to remote addr",
			remoteAddr: "10.0.0.1:12345",
			xRealIP:    "garbage",
			cfg:        ProxyConfig{TrustProxy: true},
			want:       "10.0.0.1",
		},
		{
			name:       "IPv6 remote addr",
			remoteAddr: "[2001:db8::1]:443",
			want:       "2001:db8::1",
		},
		{
			name:       "remote addr without port",
			remoteAddr: "192.0.2.1",
			want:       "192.0.2.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/oidc/token", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xForwardedFor != "" {
				req.Header.Set("X-Forwarded-For", tt.xForwardedFor)
			}
			if tt.xRealIP != "" {
				req.Header.Set("X-Real-IP", tt.xRealIP)
			}

			if got := GetClientIP(req, tt.cfg); got != tt.want {
				t.Errorf("GetClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
