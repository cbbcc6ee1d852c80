package oidc

import (
	"context"
	"net/http"

	"github.com/giantswarm/oidc-provider/server"
)

type claimsContextKey struct{}

// ClaimsFromContext returns the access token claims stored by RequireBearer.
func ClaimsFromContext(ctx context.Context) (*server.AccessTokenClaims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*server.AccessTokenClaims)
	return claims, ok
}

// ContextWithClaims returns a context carrying claims.
func ContextWithClaims(ctx context.Context, claims *server.AccessTokenClaims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

// RequireBearer protects next with the provider's access tokens. Requests
// without a valid token get 401 with a Bearer challenge pointing at the
// protected resource metadata.
func (h *Handler) RequireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		issuer := h.issuer(r)

		token, ok := h.extractBearerToken(w, r, issuer)
		if !ok {
			return
		}

		claims, err := h.validator.Validate(r.Context(), token, issuer)
		if err != nil {
			h.recordTokenValidationFailed(r.Context(), err)
			h.writeServerError(w, r, issuer, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), claims)))
	})
}
