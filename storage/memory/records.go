package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/giantswarm/oidc-provider/storage"
)

// clientRecord is the persisted JSON form of a client. Exactly one of
// SecretHash or LegacySecret is set.
type clientRecord struct {
	ClientID                string    `json:"client_id"`
	ClientName              string    `json:"client_name"`
	SecretHash              string    `json:"client_secret_hash,omitempty"`
	LegacySecret            string    `json:"client_secret,omitempty"`
	RedirectURIs            []string  `json:"redirect_uris"`
	GrantTypes              []string  `json:"grant_types,omitempty"`
	ResponseTypes           []string  `json:"response_types,omitempty"`
	TokenEndpointAuthMethod string    `json:"token_endpoint_auth_method,omitempty"`
	CreatedAt               time.Time `json:"created_at"`
}

type clientsDocument struct {
	Clients map[string]clientRecord `json:"clients"`
}

// refreshRecord omits the token value; the document is keyed by its digest.
type refreshRecord struct {
	UserID    string    `json:"user_id"`
	ClientID  string    `json:"client_id"`
	Scope     string    `json:"scope"`
	ExpiresAt time.Time `json:"expires_at"`
}

type refreshDocument struct {
	RefreshTokens map[string]refreshRecord `json:"refresh_tokens"`
}

func toClientRecord(c *storage.Client) clientRecord {
	rec := clientRecord{
		ClientID:                c.ClientID,
		ClientName:              c.ClientName,
		RedirectURIs:            c.RedirectURIs,
		GrantTypes:              c.GrantTypes,
		ResponseTypes:           c.ResponseTypes,
		TokenEndpointAuthMethod: c.TokenEndpointAuthMethod,
		CreatedAt:               c.CreatedAt,
	}
	switch c.Secret.Kind {
	case storage.SecretKindHashed:
		rec.SecretHash = c.Secret.EncodeHash()
	case storage.SecretKindLegacyPlain:
		rec.LegacySecret = c.Secret.Plain
	}
	return rec
}

// fromClientRecord converts a persisted record. A malformed hash yields a
// client with SecretKindNone, which can never authenticate.
func fromClientRecord(id string, rec clientRecord) (*storage.Client, error) {
	c := &storage.Client{
		ClientID:                rec.ClientID,
		ClientName:              rec.ClientName,
		RedirectURIs:            rec.RedirectURIs,
		GrantTypes:              rec.GrantTypes,
		ResponseTypes:           rec.ResponseTypes,
		TokenEndpointAuthMethod: rec.TokenEndpointAuthMethod,
		CreatedAt:               rec.CreatedAt,
	}
	if c.ClientID == "" {
		c.ClientID = id
	}

	var err error
	switch {
	case rec.SecretHash != "":
		c.Secret, err = storage.ParseSecretHash(rec.SecretHash)
	case rec.LegacySecret != "":
		c.Secret = storage.LegacyPlainSecret(rec.LegacySecret)
	}
	return c, err
}

// tokenDigest is the map key for a refresh token.
func tokenDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func cloneClient(c *storage.Client) *storage.Client {
	cp := *c
	cp.RedirectURIs = append([]string(nil), c.RedirectURIs...)
	cp.GrantTypes = append([]string(nil), c.GrantTypes...)
	cp.ResponseTypes = append([]string(nil), c.ResponseTypes...)
	cp.Secret.Salt = append([]byte(nil), c.Secret.Salt...)
	cp.Secret.Digest = append([]byte(nil), c.Secret.Digest...)
	return &cp
}
