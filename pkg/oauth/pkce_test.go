package oauth

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"testing"

	"golang.org/x/oauth2"
)

func TestGeneratePKCE(t *testing.T) {
	pkce, err := GeneratePKCE()
	if err != nil {
		t.Fatalf("GeneratePKCE() error = %v", err)
	}

	if len(pkce.CodeVerifier) < 43 || len(pkce.CodeVerifier) > 128 {
		t.Errorf("CodeVerifier length = %d, want 43..128", len(pkce.CodeVerifier))
	}

	if pkce.CodeChallengeMethod != "S256" {
		t.Errorf("CodeChallengeMethod = %q, want %q", pkce.CodeChallengeMethod, "S256")
	}

	hash := sha256.Sum256([]byte(pkce.CodeVerifier))
	expectedChallenge := base64.RawURLEncoding.EncodeToString(hash[:])
	if pkce.CodeChallenge != expectedChallenge {
		t.Errorf("CodeChallenge = %q, want %q", pkce.CodeChallenge, expectedChallenge)
	}
}

func TestDeriveChallenge_MatchesStdlib(t *testing.T) {
	for i := 0; i < 20; i++ {
		verifier, err := GenerateRandomString()
		if err != nil {
			t.Fatalf("GenerateRandomString() error = %v", err)
		}

		got := DeriveChallenge(verifier)
		want := oauth2.S256ChallengeFromVerifier(verifier)
		if got != want {
			t.Errorf("DeriveChallenge(%q) = %q, want %q", verifier, got, want)
		}
	}
}

func TestDeriveChallenge_KnownVector(t *testing.T) {
	// RFC 7636 Appendix B.
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	want := "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"

	if got := DeriveChallenge(verifier); got != want {
		t.Errorf("DeriveChallenge() = %q, want %q", got, want)
	}
}

func TestDeriveChallenge_URLSafe(t *testing.T) {
	for i := 0; i < 200; i++ {
		verifier, err := GenerateRandomString()
		if err != nil {
			t.Fatalf("GenerateRandomString() error = %v", err)
		}

		first := DeriveChallenge(verifier)
		second := DeriveChallenge(verifier)
		if first != second {
			t.Fatalf("DeriveChallenge is not deterministic: %q vs %q", first, second)
		}
		if strings.ContainsAny(first, "+/=") {
			t.Fatalf("challenge %q contains non URL-safe characters", first)
		}
	}
}

func TestGenerateRandomString_Alphabet(t *testing.T) {
	s, err := GenerateRandomString()
	if err != nil {
		t.Fatalf("GenerateRandomString() error = %v", err)
	}

	if len(s) != 43 {
		t.Errorf("len = %d, want 43", len(s))
	}
	for _, r := range s {
		ok := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_'
		if !ok {
			t.Fatalf("unexpected character %q in %q", r, s)
		}
	}
}

func TestGenerateState_Uniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		state, err := GenerateState()
		if err != nil {
			t.Fatalf("GenerateState() error = %v", err)
		}
		if seen[state] {
			t.Fatalf("duplicate state generated: %q", state)
		}
		seen[state] = true
	}
}

func TestGeneratePKCE_Uniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		pkce, err := GeneratePKCE()
		if err != nil {
			t.Fatalf("GeneratePKCE() error = %v", err)
		}
		if seen[pkce.CodeVerifier] {
			t.Fatal("duplicate verifier generated")
		}
		seen[pkce.CodeVerifier] = true
	}
}
