package oidc

import (
	"net/http"

	"github.com/giantswarm/oidc-provider/server"
)

const protectedResourceMetadataPath = "/.well-known/oauth-protected-resource"

// Advertised discovery values.
var (
	tokenEndpointAuthMethods = []string{server.TokenEndpointAuthMethodPost, server.TokenEndpointAuthMethodBasic}
	supportedClaims          = []string{"sub", "name", "email", "iss", "aud", "exp", "iat"}
)

func (h *Handler) authorizationServerMetadata(issuer string) AuthorizationServerMetadata {
	m := AuthorizationServerMetadata{
		Issuer:                            issuer,
		AuthorizationEndpoint:             h.endpointURL(issuer, "authorize"),
		TokenEndpoint:                     h.endpointURL(issuer, "token"),
		JWKSURI:                           h.endpointURL(issuer, "jwks"),
		ResponseTypesSupported:            []string{server.ResponseTypeCode},
		GrantTypesSupported:               server.SupportedGrantTypes,
		TokenEndpointAuthMethodsSupported: tokenEndpointAuthMethods,
		CodeChallengeMethodsSupported:     []string{server.PKCEMethodS256},
		ScopesSupported:                   server.SupportedScopes,
	}
	if h.registrationLimiter != nil {
		m.RegistrationEndpoint = h.endpointURL(issuer, "register")
	}
	return m
}

// ServeOpenIDConfiguration serves the OpenID Connect discovery document.
func (h *Handler) ServeOpenIDConfiguration(w http.ResponseWriter, r *http.Request) {
	issuer := h.issuer(r)
	h.writeJSON(w, issuer, http.StatusOK, OpenIDConfiguration{
		AuthorizationServerMetadata:      h.authorizationServerMetadata(issuer),
		UserinfoEndpoint:                 h.endpointURL(issuer, "userinfo"),
		SubjectTypesSupported:            []string{"public"},
		IDTokenSigningAlgValuesSupported: []string{server.SigningAlgorithm},
		ClaimsSupported:                  supportedClaims,
	})
}

// ServeAuthorizationServerMetadata serves RFC 8414 metadata.
func (h *Handler) ServeAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	issuer := h.issuer(r)
	h.writeJSON(w, issuer, http.StatusOK, h.authorizationServerMetadata(issuer))
}

// ServeProtectedResourceMetadata serves RFC 9728 metadata describing the host
// as a resource protected by this provider.
func (h *Handler) ServeProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	issuer := h.issuer(r)
	h.writeJSON(w, issuer, http.StatusOK, ProtectedResourceMetadata{
		Resource:                          issuer,
		AuthorizationServers:              []string{issuer + h.config.BasePath},
		BearerMethodsSupported:            []string{"header"},
		ResourceSigningAlgValuesSupported: []string{server.SigningAlgorithm},
		ScopesSupported:                   server.SupportedScopes,
	})
}
