package server

import (
	"crypto/subtle"

	"golang.org/x/oauth2"
)

// verifyPKCE checks verifier against the challenge recorded on a code.
// A code issued without a challenge passes only when PKCE is optional.
func (s *Server) verifyPKCE(challenge, method, verifier string) error {
	if challenge == "" {
		if s.Config.RequirePKCE {
			return withDescription(ErrInvalidGrant, "code_verifier required", "code has no challenge")
		}
		return nil
	}

	if verifier == "" {
		return withDescription(ErrInvalidGrant, "code_verifier required", "verifier missing")
	}

	if method != PKCEMethodS256 {
		return withDescription(ErrInvalidGrant,
			"Unsupported code_challenge_method: "+method+". Only S256 is supported.",
			"challenge method "+method)
	}

	computed := oauth2.S256ChallengeFromVerifier(verifier)
	if subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) != 1 {
		return withDescription(ErrInvalidGrant, "Invalid code_verifier", "verifier does not match challenge")
	}
	return nil
}
