package server

import (
	"testing"

	"github.com/giantswarm/oidc-provider/storage"
)

func TestSecretMatches(t *testing.T) {
	hashed, err := hashClientSecret("s3cret")
	if err != nil {
		t.Fatalf("hashClientSecret() error = %v", err)
	}

	tests := []struct {
		name      string
		record    storage.SecretRecord
		presented string
		want      bool
	}{
		{"hashed exact", hashed, "s3cret", true},
		{"hashed wrong", hashed, "s3creT", false},
		{"hashed empty", hashed, "", false},
		{"hashed encoded hash", hashed, hashed.EncodeHash(), false},
		{"legacy exact", storage.LegacyPlainSecret("s3cret"), "s3cret", true},
		{"legacy prefix", storage.LegacyPlainSecret("s3cret"), "s3cre", false},
		{"none", storage.SecretRecord{}, "", false},
		{"dummy", dummySecret, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := secretMatches(tt.record, tt.presented); got != tt.want {
				t.Errorf("secretMatches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHashClientSecret_Salted(t *testing.T) {
	a, _ := hashClientSecret("same")
	b, _ := hashClientSecret("same")
	if a.EncodeHash() == b.EncodeHash() {
		t.Error("two hashes of the same secret should differ by salt")
	}
}
