package server

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"github.com/giantswarm/oidc-provider/storage"
)

const (
	// SecretHashIterations is the PBKDF2-SHA256 work factor for client secrets.
	SecretHashIterations = 100000

	secretSaltLength   = 32
	secretDigestLength = 32
)

// dummySecret is verified against when the client does not exist so that
// unknown and known client ids cost the same.
var dummySecret = storage.HashedSecret(make([]byte, secretSaltLength), make([]byte, secretDigestLength))

// hashClientSecret derives a salted PBKDF2 record for secret.
func hashClientSecret(secret string) (storage.SecretRecord, error) {
	salt := make([]byte, secretSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return storage.SecretRecord{}, fmt.Errorf("failed to generate salt: %w", err)
	}
	return storage.HashedSecret(salt, deriveSecret(secret, salt)), nil
}

func deriveSecret(secret string, salt []byte) []byte {
	return pbkdf2.Key([]byte(secret), salt, SecretHashIterations, secretDigestLength, sha256.New)
}

// secretMatches compares presented against record in constant time.
// A record of SecretKindNone never matches.
func secretMatches(record storage.SecretRecord, presented string) bool {
	switch record.Kind {
	case storage.SecretKindHashed:
		digest := deriveSecret(presented, record.Salt)
		return subtle.ConstantTimeCompare(digest, record.Digest) == 1
	case storage.SecretKindLegacyPlain:
		return subtle.ConstantTimeCompare([]byte(presented), []byte(record.Plain)) == 1
	default:
		return false
	}
}
