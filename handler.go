package oidc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oidc-provider/instrumentation"
	"github.com/giantswarm/oidc-provider/security"
	"github.com/giantswarm/oidc-provider/server"
)

// Endpoint names used for metrics and span names.
const (
	endpointAuthorize                 = "authorize"
	endpointContinue                  = "continue"
	endpointToken                     = "token"
	endpointUserInfo                  = "userinfo"
	endpointJWKS                      = "jwks"
	endpointRegister                  = "register"
	endpointOpenIDConfiguration       = "openid_configuration"
	endpointAuthorizationServerMeta   = "authorization_server_metadata"
	endpointProtectedResourceMetadata = "protected_resource_metadata"
)

// maxRegistrationBodyBytes caps the JSON body of a registration request.
const maxRegistrationBodyBytes = 64 << 10

// sessionRequestIDKey is the sessionStorage key the host login page reads.
const sessionRequestIDKey = "oidc_request_id"

// authorizeScript is the only script on the authorize page. Its hash goes
// into the Content-Security-Policy, so it must not contain per-request data.
const authorizeScript = `var d = document.body.dataset;` +
	`sessionStorage.setItem("` + sessionRequestIDKey + `", d.requestId);` +
	`window.location.href = d.loginPath;`

var authorizePage = template.Must(template.New("authorize").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>OIDC Authorization</title></head>
<body data-request-id="{{.RequestID}}" data-login-path="{{.LoginPath}}">
<p>Redirecting to login...</p>
<noscript><p>JavaScript is required to continue to <a href="{{.LoginPath}}">login</a>.</p></noscript>
<script>` + authorizeScript + `</script>
</body>
</html>
`))

type authorizePageData struct {
	RequestID string
	LoginPath string
}

var errMalformedBasicAuth = errors.New("malformed basic authorization header")

// Handler serves the provider endpoints.
type Handler struct {
	server              *server.Server
	validator           *server.TokenValidator
	users               UserResolver
	directory           UserDirectory
	config              Config
	registrationLimiter *security.RateLimiter
	instrumentation     *instrumentation.Instrumentation
	tracer              trace.Tracer
	logger              *slog.Logger
	authorizeScriptHash string
}

func newHandler(p *Provider, users UserResolver, directory UserDirectory) *Handler {
	h := &Handler{
		server:              p.server,
		validator:           p.validator,
		users:               users,
		directory:           directory,
		config:              p.config,
		registrationLimiter: p.registrationLimiter,
		instrumentation:     p.instrumentation,
		logger:              p.logger,
		authorizeScriptHash: security.ScriptHash(authorizeScript),
	}
	if p.instrumentation != nil {
		h.tracer = p.instrumentation.Tracer("http")
	}
	return h
}

// RegisterRoutes registers every provider endpoint on mux. Each route is
// wrapped with request id propagation, tracing and HTTP metrics.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	base := h.config.BasePath

	h.handle(mux, "GET "+base+"/.well-known/openid-configuration", endpointOpenIDConfiguration, h.ServeOpenIDConfiguration)
	h.handle(mux, "GET /.well-known/oauth-authorization-server"+base, endpointAuthorizationServerMeta, h.ServeAuthorizationServerMetadata)
	h.handle(mux, "GET /.well-known/oauth-authorization-server", endpointAuthorizationServerMeta, h.ServeAuthorizationServerMetadata)
	h.handle(mux, "GET "+base+"/.well-known/oauth-authorization-server", endpointAuthorizationServerMeta, h.ServeAuthorizationServerMetadata)
	h.handle(mux, "GET /.well-known/oauth-protected-resource", endpointProtectedResourceMetadata, h.ServeProtectedResourceMetadata)

	h.handle(mux, "GET "+base+"/authorize", endpointAuthorize, h.ServeAuthorization)
	h.handle(mux, "GET "+base+"/continue", endpointContinue, h.ServeContinue)
	h.handle(mux, "POST "+base+"/token", endpointToken, h.ServeToken)
	h.handle(mux, "GET "+base+"/userinfo", endpointUserInfo, h.ServeUserInfo)
	h.handle(mux, "GET "+base+"/jwks", endpointJWKS, h.ServeJWKS)

	if h.registrationLimiter != nil {
		h.handle(mux, "POST "+base+"/register", endpointRegister, h.ServeClientRegistration)
	}
}

func (h *Handler) handle(mux *http.ServeMux, pattern, endpoint string, fn http.HandlerFunc) {
	mux.Handle(pattern, security.RequestIDMiddleware(h.instrument(endpoint, fn)))
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument starts the "oauth.http.<endpoint>" span and records the
// request metric once fn returns.
func (h *Handler) instrument(endpoint string, fn http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		ctx, span := h.startSpan(r.Context(), "oauth.http."+endpoint)
		defer span.End()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fn(rec, r.WithContext(ctx))

		instrumentation.AddHTTPAttributes(span, r.Method, r.URL.Path, rec.status)
		h.instrumentation.AddClientIPAttribute(span, h.clientIP(r))
		if rec.status >= http.StatusInternalServerError {
			instrumentation.SetSpanError(span, http.StatusText(rec.status))
		}
		h.recordHTTPMetrics(ctx, endpoint, r.Method, rec.status, startTime)
	})
}

func (h *Handler) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if h.tracer == nil {
		return ctx, trace.SpanFromContext(context.Background())
	}
	return h.tracer.Start(ctx, name)
}

func (h *Handler) recordHTTPMetrics(ctx context.Context, endpoint, method string, status int, startTime time.Time) {
	if h.instrumentation == nil {
		return
	}
	duration := time.Since(startTime).Seconds() * 1000 // convert to milliseconds
	h.instrumentation.Metrics().RecordHTTPRequest(ctx, method, endpoint, status, duration)
}

// issuer returns the configured issuer or derives it from the request.
func (h *Handler) issuer(r *http.Request) string {
	if h.config.Issuer != "" {
		return h.config.Issuer
	}
	return issuerFromRequest(r)
}

func (h *Handler) endpointURL(issuer, name string) string {
	return issuer + h.config.BasePath + "/" + name
}

func (h *Handler) clientIP(r *http.Request) string {
	return security.GetClientIP(r, h.config.proxyConfig())
}

func (h *Handler) requestLogger(r *http.Request) *slog.Logger {
	return security.LoggerWithRequestID(r.Context(), h.logger)
}

// ServeAuthorization handles the authorization endpoint. Valid requests are
// stored as pending and answered with a page that hands the request id to the
// host login page. Parameter errors are plain text and never redirect, since
// the redirect URI may not have been verified yet.
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	issuer := h.issuer(r)
	q := r.URL.Query()

	pending, err := h.server.StartAuthorization(r.Context(), server.AuthorizationParams{
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		ResponseType:        q.Get("response_type"),
		Scope:               q.Get("scope"),
		State:               q.Get("state"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
		ClientIP:            h.clientIP(r),
	})
	if err != nil {
		h.writePlainError(w, r, issuer, err)
		return
	}

	var buf bytes.Buffer
	if err := authorizePage.Execute(&buf, authorizePageData{
		RequestID: pending.RequestID,
		LoginPath: h.config.LoginPath,
	}); err != nil {
		h.requestLogger(r).Error("Failed to render authorize page", "error", err)
		h.writePlainError(w, r, issuer, err)
		return
	}

	security.SetPageSecurityHeaders(w, issuer, h.authorizeScriptHash)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// ServeContinue is called by the host login page once the user is logged in.
// It turns the pending request into an authorization code and returns the
// client redirect as JSON, since fetch cannot follow cross-origin redirects.
func (h *Handler) ServeContinue(w http.ResponseWriter, r *http.Request) {
	issuer := h.issuer(r)

	user, err := h.users.AuthenticatedUser(r)
	if err != nil || user == nil || user.ID == "" {
		if err != nil && !errors.Is(err, ErrNotAuthenticated) {
			h.requestLogger(r).Warn("Failed to resolve authenticated user", "error", err)
		}
		security.SetSecurityHeaders(w, issuer)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	redirectURL, err := h.server.CompleteAuthorization(r.Context(), r.URL.Query().Get("request_id"), user.ID)
	if err != nil {
		h.writePlainError(w, r, issuer, err)
		return
	}

	h.writeJSON(w, issuer, http.StatusOK, ContinueResponse{RedirectURL: redirectURL})
}

// ServeToken handles the token endpoint: client authentication behind the
// lockout limiters, then the authorization_code or refresh_token grant.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	issuer := h.issuer(r)

	if err := r.ParseForm(); err != nil {
		h.writeError(w, issuer, ErrorCodeInvalidRequest, "Failed to parse request", http.StatusBadRequest)
		return
	}

	clientID, clientSecret, err := clientCredentials(r)
	if err != nil {
		h.requestLogger(r).Warn("Rejected token request", "error", err)
		h.writeError(w, issuer, ErrorCodeInvalidClient, "", http.StatusUnauthorized)
		return
	}

	if err := h.server.AuthenticateClient(ctx, clientID, clientSecret, h.clientIP(r)); err != nil {
		h.writeServerError(w, r, issuer, err)
		return
	}

	var resp *server.TokenResponse
	switch grantType := r.PostFormValue("grant_type"); grantType {
	case server.GrantTypeAuthorizationCode:
		resp, err = h.server.ExchangeAuthorizationCode(ctx,
			r.PostFormValue("code"),
			clientID,
			r.PostFormValue("redirect_uri"),
			r.PostFormValue("code_verifier"),
			issuer)
	case server.GrantTypeRefreshToken:
		resp, err = h.server.RefreshAccessToken(ctx, r.PostFormValue("refresh_token"), clientID, issuer)
	default:
		err = ErrUnsupportedGrantType(fmt.Sprintf("Grant type %s not supported", grantType))
	}
	if err != nil {
		h.writeServerError(w, r, issuer, err)
		return
	}

	h.writeJSON(w, issuer, http.StatusOK, resp)
}

// clientCredentials reads client_id and client_secret from the form. An
// Authorization: Basic header takes precedence and must be well formed.
func clientCredentials(r *http.Request) (string, string, error) {
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Basic ") {
		return r.PostFormValue("client_id"), r.PostFormValue("client_secret"), nil
	}
	id, secret, ok := r.BasicAuth()
	if !ok {
		return "", "", errMalformedBasicAuth
	}
	return id, secret, nil
}

// ServeUserInfo returns the claims of the user a bearer token was issued to.
func (h *Handler) ServeUserInfo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	issuer := h.issuer(r)

	token, ok := h.extractBearerToken(w, r, issuer)
	if !ok {
		return
	}

	claims, err := h.validator.Validate(ctx, token, issuer)
	if err != nil {
		h.recordTokenValidationFailed(ctx, err)
		h.writeServerError(w, r, issuer, err)
		return
	}

	user, err := h.directory.LookupUser(ctx, claims.Subject)
	if err != nil || user == nil {
		if err != nil && !errors.Is(err, ErrUnknownUser) {
			h.writeServerError(w, r, issuer, fmt.Errorf("failed to look up user: %w", err))
			return
		}
		h.writeError(w, issuer, ErrorCodeUserNotFound, "User not found", http.StatusNotFound)
		return
	}

	email := user.Email
	if email == "" {
		email = user.ID
	}
	h.writeJSON(w, issuer, http.StatusOK, UserInfoResponse{
		Subject: user.ID,
		Name:    user.Name,
		Email:   email,
	})
}

// ServeJWKS returns the public signing key.
func (h *Handler) ServeJWKS(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.issuer(r), http.StatusOK, h.server.Keys().PublicJWKS())
}

// ServeClientRegistration handles RFC 7591 dynamic client registration,
// throttled per source address.
func (h *Handler) ServeClientRegistration(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	issuer := h.issuer(r)
	clientIP := h.clientIP(r)

	if !h.registrationLimiter.Allow(clientIP) {
		h.requestLogger(r).Warn("Client registration rate limit exceeded", "ip", clientIP)
		h.server.Auditor.LogRateLimitExceeded("", clientIP, "registration")
		if h.instrumentation != nil {
			h.instrumentation.Metrics().RecordRateLimitExceeded(ctx, "registration")
		}
		h.writeError(w, issuer, ErrorCodeInvalidRequest,
			"Client registration rate limit exceeded. Please try again later.",
			http.StatusTooManyRequests)
		return
	}

	req, oauthErr := decodeRegistrationRequest(http.MaxBytesReader(w, r.Body, maxRegistrationBodyBytes))
	if oauthErr != nil {
		h.writeError(w, issuer, oauthErr.Code, oauthErr.Description, oauthErr.Status)
		return
	}

	client, secret, err := h.server.RegisterClient(ctx, server.ClientRegistrationParams{
		ClientName:              req.ClientName,
		RedirectURIs:            req.RedirectURIs,
		GrantTypes:              req.GrantTypes,
		ResponseTypes:           req.ResponseTypes,
		TokenEndpointAuthMethod: req.TokenEndpointAuthMethod,
		Source:                  server.RegistrationSourceDynamic,
		ClientIP:                clientIP,
	})
	if err != nil {
		h.writeServerError(w, r, issuer, err)
		return
	}

	h.writeJSON(w, issuer, http.StatusCreated, registrationResponse(client, secret))
}

// decodeRegistrationRequest parses the registration body. redirect_uris is
// checked for presence and array type before the full decode so that those
// mistakes are reported as invalid_redirect_uri.
func decodeRegistrationRequest(body io.Reader) (*ClientRegistrationRequest, *OAuthError) {
	var raw json.RawMessage
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		return nil, ErrInvalidRequest("Invalid JSON")
	}

	var probe struct {
		RedirectURIs json.RawMessage `json:"redirect_uris"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, ErrInvalidRequest("Invalid JSON")
	}
	if trimmed := bytes.TrimSpace(probe.RedirectURIs); len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, ErrInvalidRedirectURI("redirect_uris is required and must be an array")
	}

	var req ClientRegistrationRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, ErrInvalidClientMetadata("Invalid client metadata")
	}
	return &req, nil
}

// extractBearerToken extracts the Bearer token from the Authorization header.
// Returns the token and true if successful, or writes an error and returns false.
func (h *Handler) extractBearerToken(w http.ResponseWriter, r *http.Request, issuer string) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		h.writeError(w, issuer, ErrorCodeInvalidToken, "Missing Authorization header", http.StatusUnauthorized)
		return "", false
	}

	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		h.writeError(w, issuer, ErrorCodeInvalidToken, "Invalid Authorization header format", http.StatusUnauthorized)
		return "", false
	}

	return strings.TrimSpace(token), true
}

func (h *Handler) recordTokenValidationFailed(ctx context.Context, err error) {
	if h.instrumentation == nil {
		return
	}
	reason := "invalid"
	if errors.Is(err, server.ErrTokenExpired) {
		reason = "expired"
	}
	h.instrumentation.Metrics().RecordTokenValidationFailed(ctx, reason)
}

// writeServerError maps err onto an OAuth error response. Internal errors are
// logged here and reach the client only as "internal server error".
func (h *Handler) writeServerError(w http.ResponseWriter, r *http.Request, issuer string, err error) {
	oauthErr := toOAuthError(err)
	logger := h.requestLogger(r)
	if oauthErr.Code == ErrorCodeServerError {
		logger.Error("Request failed", "path", r.URL.Path, "error", err)
	} else {
		logger.Debug("Request rejected", "path", r.URL.Path, "error", err)
	}
	h.writeError(w, issuer, oauthErr.Code, oauthErr.Description, oauthErr.Status)
}

// writePlainError is writeServerError for the browser-facing endpoints,
// which answer with a plain text description and 400 for every rejection.
func (h *Handler) writePlainError(w http.ResponseWriter, r *http.Request, issuer string, err error) {
	oauthErr := toOAuthError(err)
	logger := h.requestLogger(r)
	if oauthErr.Code == ErrorCodeServerError {
		logger.Error("Request failed", "path", r.URL.Path, "error", err)
	} else {
		logger.Debug("Request rejected", "path", r.URL.Path, "error", err)
	}

	status, desc := http.StatusBadRequest, oauthErr.Description
	if oauthErr.Code == ErrorCodeServerError {
		status = http.StatusInternalServerError
	}
	if desc == "" {
		desc = "Invalid request"
	}
	security.SetSecurityHeaders(w, issuer)
	http.Error(w, desc, status)
}

func (h *Handler) writeError(w http.ResponseWriter, issuer, code, description string, status int) {
	if status == http.StatusUnauthorized {
		if code == ErrorCodeInvalidClient {
			w.Header().Set("WWW-Authenticate", `Basic realm="`+quoteEscape(issuer)+`"`)
		} else {
			w.Header().Set("WWW-Authenticate", h.formatWWWAuthenticate(issuer, code, description))
		}
	}
	h.writeJSON(w, issuer, status, ErrorResponse{Error: code, ErrorDescription: description})
}

// formatWWWAuthenticate formats a Bearer challenge per RFC 6750 and RFC 9728:
//
//	Bearer resource_metadata="https://example.com/.well-known/oauth-protected-resource",
//	       error="invalid_token",
//	       error_description="Token expired"
func (h *Handler) formatWWWAuthenticate(issuer, errCode, errorDesc string) string {
	params := []string{
		fmt.Sprintf(`resource_metadata="%s"`, quoteEscape(issuer+protectedResourceMetadataPath)),
	}
	if errCode != "" {
		params = append(params, fmt.Sprintf(`error="%s"`, errCode))
	}
	if errorDesc != "" {
		params = append(params, fmt.Sprintf(`error_description="%s"`, quoteEscape(errorDesc)))
	}
	return server.TokenTypeBearer + " " + strings.Join(params, ", ")
}

// quoteEscape escapes s for use inside an HTTP quoted-string.
// Backslashes first, then quotes.
func quoteEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

func (h *Handler) writeJSON(w http.ResponseWriter, issuer string, status int, body any) {
	security.SetSecurityHeaders(w, issuer)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Debug("Failed to write response body", "error", err)
	}
}
