package server

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/giantswarm/oidc-provider/internal/testutil"
)

func codeFromRedirect(t *testing.T, redirectURL string) string {
	t.Helper()
	u, err := url.Parse(redirectURL)
	if err != nil {
		t.Fatalf("redirect URL %q does not parse: %v", redirectURL, err)
	}
	code := u.Query().Get("code")
	if code == "" {
		t.Fatalf("redirect URL %q has no code", redirectURL)
	}
	return code
}

func TestServer_StartAuthorization(t *testing.T) {
	env := newTestEnv(t)
	client, _ := env.registerClient(t)
	challenge, _ := testutil.GeneratePKCEPair()

	valid := AuthorizationParams{
		ClientID:      client.ClientID,
		RedirectURI:   testRedirectURI,
		ResponseType:  ResponseTypeCode,
		Scope:         "openid",
		CodeChallenge: challenge,
	}

	tests := []struct {
		name    string
		mutate  func(p *AuthorizationParams)
		wantErr error
	}{
		{name: "valid", mutate: func(*AuthorizationParams) {}},
		{name: "explicit S256", mutate: func(p *AuthorizationParams) { p.CodeChallengeMethod = "S256" }},
		{name: "missing client_id", mutate: func(p *AuthorizationParams) { p.ClientID = "" }, wantErr: ErrInvalidRequest},
		{name: "missing redirect_uri", mutate: func(p *AuthorizationParams) { p.RedirectURI = "" }, wantErr: ErrInvalidRequest},
		{name: "token response type", mutate: func(p *AuthorizationParams) { p.ResponseType = "token" }, wantErr: ErrInvalidRequest},
		{name: "missing challenge", mutate: func(p *AuthorizationParams) { p.CodeChallenge = "" }, wantErr: ErrPKCERequired},
		{name: "plain method", mutate: func(p *AuthorizationParams) { p.CodeChallengeMethod = "plain" }, wantErr: ErrUnsupportedChallengeMethod},
		{name: "unknown client", mutate: func(p *AuthorizationParams) { p.ClientID = "nope" }, wantErr: ErrInvalidClient},
		{name: "unregistered redirect", mutate: func(p *AuthorizationParams) { p.RedirectURI = "https://evil.example.com/cb" }, wantErr: ErrRedirectURIMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)

			pending, err := env.srv.StartAuthorization(context.Background(), p)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("StartAuthorization() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("StartAuthorization() error = %v", err)
			}
			if pending.CodeChallengeMethod != PKCEMethodS256 {
				t.Errorf("CodeChallengeMethod = %q, want S256", pending.CodeChallengeMethod)
			}
			if !pending.ExpiresAt.Equal(testStart.Add(DefaultPendingRequestTTL)) {
				t.Errorf("ExpiresAt = %v, want %v", pending.ExpiresAt, testStart.Add(DefaultPendingRequestTTL))
			}
		})
	}
}

func TestServer_StartAuthorization_RedirectMismatchIsInvalidRequest(t *testing.T) {
	env := newTestEnv(t)
	client, _ := env.registerClient(t)
	challenge, _ := testutil.GeneratePKCEPair()

	_, err := env.srv.StartAuthorization(context.Background(), AuthorizationParams{
		ClientID:      client.ClientID,
		RedirectURI:   testRedirectURI + "/other",
		ResponseType:  ResponseTypeCode,
		CodeChallenge: challenge,
	})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("error = %v, want ErrInvalidRequest", err)
	}
	if Description(err) != "Invalid redirect_uri" {
		t.Errorf("Description() = %q", Description(err))
	}
}

func TestServer_StartAuthorization_PKCEOptional(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.RequirePKCE = false })
	client, _ := env.registerClient(t)

	pending, err := env.srv.StartAuthorization(context.Background(), AuthorizationParams{
		ClientID:     client.ClientID,
		RedirectURI:  testRedirectURI,
		ResponseType: ResponseTypeCode,
	})
	if err != nil {
		t.Fatalf("StartAuthorization() error = %v", err)
	}
	if pending.CodeChallenge != "" || pending.CodeChallengeMethod != "" {
		t.Error("pending request should carry no PKCE challenge")
	}
}

func TestServer_CompleteAuthorization(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	client, _ := env.registerClient(t)
	challenge, _ := testutil.GeneratePKCEPair()

	pending, err := env.srv.StartAuthorization(ctx, AuthorizationParams{
		ClientID:      client.ClientID,
		RedirectURI:   testRedirectURI,
		ResponseType:  ResponseTypeCode,
		Scope:         "openid",
		State:         "a b&c",
		CodeChallenge: challenge,
	})
	if err != nil {
		t.Fatalf("StartAuthorization() error = %v", err)
	}

	redirectURL, err := env.srv.CompleteAuthorization(ctx, pending.RequestID, testUserID)
	if err != nil {
		t.Fatalf("CompleteAuthorization() error = %v", err)
	}

	u, err := url.Parse(redirectURL)
	if err != nil {
		t.Fatalf("url.Parse() error = %v", err)
	}
	if got := u.Query().Get("state"); got != "a b&c" {
		t.Errorf("state = %q, want %q", got, "a b&c")
	}
	if u.Query().Get("code") == "" {
		t.Error("redirect has no code")
	}
	if env.store.AuthorizationCodeCount() != 1 {
		t.Errorf("AuthorizationCodeCount() = %d, want 1", env.store.AuthorizationCodeCount())
	}

	// the pending request is consumed
	_, err = env.srv.CompleteAuthorization(ctx, pending.RequestID, testUserID)
	if !errors.Is(err, ErrRequestNotFound) {
		t.Errorf("second CompleteAuthorization() error = %v, want ErrRequestNotFound", err)
	}
}

func TestServer_CompleteAuthorization_Expired(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	client, _ := env.registerClient(t)
	challenge, _ := testutil.GeneratePKCEPair()

	pending, err := env.srv.StartAuthorization(ctx, AuthorizationParams{
		ClientID:      client.ClientID,
		RedirectURI:   testRedirectURI,
		ResponseType:  ResponseTypeCode,
		CodeChallenge: challenge,
	})
	if err != nil {
		t.Fatalf("StartAuthorization() error = %v", err)
	}

	env.clock.Advance(DefaultPendingRequestTTL + time.Second)

	_, err = env.srv.CompleteAuthorization(ctx, pending.RequestID, testUserID)
	if !errors.Is(err, ErrRequestExpired) {
		t.Fatalf("error = %v, want ErrRequestExpired", err)
	}
	if env.store.PendingRequestCount() != 0 {
		t.Error("expired pending request should be deleted")
	}

	_, err = env.srv.CompleteAuthorization(ctx, pending.RequestID, testUserID)
	if !errors.Is(err, ErrRequestNotFound) {
		t.Errorf("error after expiry = %v, want ErrRequestNotFound", err)
	}
}

func TestServer_CompleteAuthorization_UnknownRequest(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.srv.CompleteAuthorization(context.Background(), "does-not-exist", testUserID)
	if !errors.Is(err, ErrRequestNotFound) {
		t.Errorf("error = %v, want ErrRequestNotFound", err)
	}

	_, err = env.srv.CompleteAuthorization(context.Background(), "", testUserID)
	if !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("empty id error = %v, want ErrInvalidRequest", err)
	}
}

func TestBuildRedirectURL(t *testing.T) {
	tests := []struct {
		name        string
		redirectURI string
		state       string
		want        string
	}{
		{"no query", "https://app.example.com/cb", "s1", "https://app.example.com/cb?code=abc&state=s1"},
		{"existing query", "https://app.example.com/cb?x=1", "s1", "https://app.example.com/cb?x=1&code=abc&state=s1"},
		{"no state", "https://app.example.com/cb", "", "https://app.example.com/cb?code=abc"},
		{"escaped state", "https://app.example.com/cb", "a=b c", "https://app.example.com/cb?code=abc&state=a%3Db+c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildRedirectURL(tt.redirectURI, "abc", tt.state); got != tt.want {
				t.Errorf("buildRedirectURL() = %q, want %q", got, tt.want)
			}
		})
	}
}
