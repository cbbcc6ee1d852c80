package helpers

import "net"

// IsLoopbackHostname reports whether hostname is one of the loopback hosts a
// redirect URI may use over plain http: "localhost", "127.0.0.1" or "::1".
// Expects hostname without port (as returned by url.URL.Hostname()).
//
// Other addresses in 127.0.0.0/8 and IPv4-mapped forms are not
// accepted.
func IsLoopbackHostname(hostname string) bool {
	if hostname == "localhost" {
		return true
	}

	// strip brackets from IPv6 literals like [::1]
	clean := hostname
	if len(hostname) > 2 && hostname[0] == '[' && hostname[len(hostname)-1] == ']' {
		clean = hostname[1 : len(hostname)-1]
	}

	if clean == "127.0.0.1" {
		return true
	}
	ip := net.ParseIP(clean)
	return ip != nil && ip.To4() == nil && ip.Equal(net.IPv6loopback)
}
