package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

const (
	// randomStringBytes is the number of random bytes behind every verifier and state.
	// 32 bytes (256 bits) encode to 43 base64url characters, the RFC 7636 minimum.
	randomStringBytes = 32

	// ChallengeMethodS256 is the only PKCE method tokenrelay sends.
	ChallengeMethodS256 = "S256"
)

// GenerateRandomString returns a base64url-encoded (unpadded) string backed by
// 32 bytes from crypto/rand. It is used for both PKCE verifiers and OAuth state.
func GenerateRandomString() (string, error) {
	buf := make([]byte, randomStringBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// DeriveChallenge computes the S256 code challenge for a verifier:
// base64url(SHA256(verifier)) without padding.
func DeriveChallenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// GeneratePKCE generates a new PKCE code verifier and its S256 challenge.
func GeneratePKCE() (*PKCEChallenge, error) {
	verifier, err := GenerateRandomString()
	if err != nil {
		return nil, fmt.Errorf("failed to generate PKCE verifier: %w", err)
	}

	return &PKCEChallenge{
		CodeVerifier:        verifier,
		CodeChallenge:       DeriveChallenge(verifier),
		CodeChallengeMethod: ChallengeMethodS256,
	}, nil
}

// GenerateState generates a random state parameter for OAuth.
// The state links the redirect callback back to the authorization attempt and
// protects the callback against CSRF.
func GenerateState() (string, error) {
	state, err := GenerateRandomString()
	if err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return state, nil
}
