package rp

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// codeVerifierBytes yields a base64url string of at least 43 characters
// once encoded; 32 raw bytes expand to 43 (32*4/3 rounded up), matching
// the PKCE minimum with no padding to trim.
const codeVerifierBytes = 32

// randomURLSafeString returns size raw bytes of crypto/rand randomness,
// base64url-encoded without padding.
func randomURLSafeString(size int) (string, error) {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// newPKCE generates an S256 PKCE pair: a code_verifier of 43-128
// URL-safe characters, and its code_challenge.
func newPKCE() (codeVerifier, codeChallenge string, err error) {
	codeVerifier, err = randomURLSafeString(codeVerifierBytes)
	if err != nil {
		return "", "", err
	}
	return codeVerifier, encodeCodeChallengeS256(codeVerifier), nil
}

// encodeCodeChallengeS256 derives a PKCE code_challenge from
// code_verifier using the S256 transformation.
func encodeCodeChallengeS256(codeVerifier string) string {
	hash := sha256.Sum256([]byte(codeVerifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}
