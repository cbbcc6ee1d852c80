package server

import (
	"net/url"

	"github.com/giantswarm/oidc-provider/internal/helpers"
)

// ValidateRedirectURI checks a redirect URI supplied at registration.
// It must be absolute with a host; https is required except for loopback
// hosts, which may use http.
func ValidateRedirectURI(uri string) error {
	parsed, err := url.Parse(uri)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return redirectURIError("Invalid redirect_uri: " + uri)
	}

	switch parsed.Scheme {
	case "https":
		return nil
	case "http":
		if helpers.IsLoopbackHostname(parsed.Hostname()) {
			return nil
		}
		return redirectURIError("Redirect URI must use HTTPS (HTTP only allowed for localhost): " + uri)
	default:
		return redirectURIError("Redirect URI must use http or https: " + uri)
	}
}

// ValidateRedirectURIs validates every URI and rejects an empty list.
func ValidateRedirectURIs(uris []string) error {
	if len(uris) == 0 {
		return redirectURIError("redirect_uris is required and must be an array")
	}
	for _, uri := range uris {
		if err := ValidateRedirectURI(uri); err != nil {
			return err
		}
	}
	return nil
}

func redirectURIError(msg string) error {
	return withDescription(ErrInvalidRedirectURI, msg, msg)
}
