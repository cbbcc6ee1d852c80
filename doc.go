// Package oidc is an embeddable OAuth 2.1 and OpenID Connect provider.
//
// A Provider issues RS256 access tokens and opaque refresh tokens to
// registered clients through the authorization code flow with PKCE. The host
// application keeps control of its users: the authorize endpoint hands the
// pending request to the host login page, which calls the continue endpoint
// once the user is logged in. The host supplies three ports: a
// storage.Persister for durable state, a UserResolver for the logged-in user
// and a UserDirectory for userinfo lookups.
//
// Example usage:
//
//	provider, err := oidc.NewProvider(ctx, persister, resolver, directory, oidc.Config{
//	    Issuer: "https://app.example.com",
//	    Security: oidc.SecurityConfig{EnableAuditLogging: true},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer provider.Close(context.Background())
//
//	mux := http.NewServeMux()
//	provider.Handler().RegisterRoutes(mux)
//	mux.Handle("/api/", provider.Handler().RequireBearer(apiHandler))
package oidc
