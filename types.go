package oidc

// ErrorResponse is the JSON body of every OAuth error.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// ProtectedResourceMetadata is the RFC 9728 document describing the host as
// a resource that accepts this provider's access tokens.
type ProtectedResourceMetadata struct {
	Resource             string   `json:"resource"`
	AuthorizationServers []string `json:"authorization_servers"`

	// BearerMethodsSupported is always ["header"]; query and body tokens are refused.
	BearerMethodsSupported            []string `json:"bearer_methods_supported,omitempty"`
	ResourceSigningAlgValuesSupported []string `json:"resource_signing_alg_values_supported,omitempty"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
}

// AuthorizationServerMetadata is the RFC 8414 document. It is also the common
// part of the OpenID Connect discovery document.
type AuthorizationServerMetadata struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`

	// RegistrationEndpoint is omitted when dynamic registration is disabled.
	RegistrationEndpoint string `json:"registration_endpoint,omitempty"`
	JWKSURI              string `json:"jwks_uri"`

	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported,omitempty"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported,omitempty"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
}

// OpenIDConfiguration is the OpenID Connect Discovery 1.0 document.
type OpenIDConfiguration struct {
	AuthorizationServerMetadata

	UserinfoEndpoint                 string   `json:"userinfo_endpoint"`
	SubjectTypesSupported            []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported"`
	ClaimsSupported                  []string `json:"claims_supported"`
}

// ClientRegistrationRequest is the RFC 7591 registration body. Only the
// members the provider acts on are decoded; unknown members are ignored.
type ClientRegistrationRequest struct {
	RedirectURIs            []string `json:"redirect_uris"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
	ClientName              string   `json:"client_name,omitempty"`
}

// ClientRegistrationResponse is returned by the register endpoint and by
// Provider.RegisterClient. ClientSecret is only ever available here.
type ClientRegistrationResponse struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`

	// Unix seconds; secrets never expire, so ClientSecretExpiresAt is 0.
	ClientIDIssuedAt      int64 `json:"client_id_issued_at"`
	ClientSecretExpiresAt int64 `json:"client_secret_expires_at"`

	ClientName              string   `json:"client_name"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
}

// ContinueResponse tells the login page where to send the user agent.
type ContinueResponse struct {
	RedirectURL string `json:"redirect_url"`
}

// UserInfoResponse is the body of the userinfo endpoint.
type UserInfoResponse struct {
	Subject string `json:"sub"`
	Name    string `json:"name"`
	Email   string `json:"email"`
}
