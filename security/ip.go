package security

import (
	"net"
	"net/http"
	"strings"
)

// ProxyConfig controls whether forwarding headers are believed when deriving
// the client address.
type ProxyConfig struct {
	// TrustProxy enables X-Forwarded-For and X-Real-IP. Only set it behind a
	// reverse proxy you control, otherwise a caller can pick its own lockout key.
	TrustProxy bool

	// TrustedProxyCount is the number of proxies appended to X-Forwarded-For
	// by your own infrastructure. Zero means one.
	TrustedProxyCount int
}

// GetClientIP returns the caller address used as the rate limit source.
func GetClientIP(r *http.Request, cfg ProxyConfig) string {
	if cfg.TrustProxy {
		if ip := clientFromForwardedFor(r.Header.Get("X-Forwarded-For"), cfg.TrustedProxyCount); ip != "" {
			return ip
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(ip) != nil {
			return ip
		}
	}
	return hostFromRemoteAddr(r.RemoteAddr)
}

// clientFromForwardedFor picks the entry just left of the trusted proxies.
//
//	X-Forwarded-For: "client, proxy2, proxy1" with trustedProxyCount=2 -> "client"
//
// When the header is shorter than expected the leftmost entry is used.
func clientFromForwardedFor(xff string, trustedProxyCount int) string {
	if xff == "" {
		return ""
	}
	if trustedProxyCount <= 0 {
		trustedProxyCount = 1
	}

	ips := strings.Split(xff, ",")
	idx := len(ips) - trustedProxyCount - 1
	if idx < 0 {
		idx = 0
	}

	ip := strings.TrimSpace(ips[idx])
	if net.ParseIP(ip) == nil {
		return ""
	}
	return ip
}

func hostFromRemoteAddr(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
