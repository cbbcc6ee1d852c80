package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/giantswarm/oidc-provider/storage"
)

// Fixture values shared by the generated records.
const (
	ClientID    = "test-client-id"
	RedirectURI = "https://app.example.com/callback"
)

// MockTime is a settable clock. Hand its Now method to anything that takes
// a func() time.Time.
type MockTime struct {
	mu  sync.Mutex
	now time.Time
}

func NewMockTime(start time.Time) *MockTime {
	return &MockTime{now: start}
}

func (m *MockTime) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d.
func (m *MockTime) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// GeneratePKCEPair returns an S256 challenge and the verifier it was derived from.
func GeneratePKCEPair() (challenge, verifier string) {
	verifier = oauth2.GenerateVerifier()
	return oauth2.S256ChallengeFromVerifier(verifier), verifier
}

// GenerateTestClient returns a client still on the legacy plain secret "secret".
func GenerateTestClient() *storage.Client {
	return &storage.Client{
		ClientID:                ClientID,
		ClientName:              "Test Client",
		Secret:                  storage.LegacyPlainSecret("secret"),
		RedirectURIs:            []string{RedirectURI},
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: "client_secret_basic",
		CreatedAt:               time.Now(),
	}
}

// GenerateTestAuthorizationCode returns a code for alice that is valid for ten
// minutes after now.
func GenerateTestAuthorizationCode(now time.Time, challenge string) *storage.AuthorizationCode {
	return &storage.AuthorizationCode{
		Code:                oauth2.GenerateVerifier(),
		ClientID:            ClientID,
		RedirectURI:         RedirectURI,
		Scope:               "openid email",
		UserID:              "alice",
		CodeChallenge:       challenge,
		CodeChallengeMethod: "S256",
		CreatedAt:           now,
		ExpiresAt:           now.Add(10 * time.Minute),
	}
}

var ErrUnknownUser = errors.New("unknown user")

type User struct {
	ID   string
	Name string
}

// UserDirectory is a fixed set of users keyed by id.
type UserDirectory struct {
	users map[string]User
}

func NewUserDirectory(users ...User) *UserDirectory {
	d := &UserDirectory{users: make(map[string]User, len(users))}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

func (d *UserDirectory) Lookup(_ context.Context, id string) (User, error) {
	u, ok := d.users[id]
	if !ok {
		return User{}, ErrUnknownUser
	}
	return u, nil
}
