package token

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"strings"
	"testing"
	"time"
)

func newHS256Service(t *testing.T) *Service {
	t.Helper()
	s, err := NewService(Config{
		Algorithm: AlgHS256,
		Secret:    []byte("test-secret-do-not-use"),
		TTL:       30 * time.Minute,
	})
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	return s
}

func testGrant() Grant {
	return Grant{
		Subject:   "usr_a1b2c3d4",
		Scope:     "read write",
		Groups:    []string{"ADMINS"},
		Dept:      "IT",
		RiskScore: 15,
	}
}

func TestIssueValidateRoundTrip(t *testing.T) {
	s := newHS256Service(t)

	signed, expiresAt, err := s.Issue(testGrant())
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if got := time.Until(expiresAt); got < 29*time.Minute || got > 31*time.Minute {
		t.Errorf("expiry %v from now, want ~30m", got)
	}

	claims, err := s.Validate(signed)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if claims.Subject != "usr_a1b2c3d4" {
		t.Errorf("sub = %s, want usr_a1b2c3d4", claims.Subject)
	}
	if claims.Scope != "read write" {
		t.Errorf("scope = %s, want \"read write\"", claims.Scope)
	}
	if len(claims.Groups) != 1 || claims.Groups[0] != "ADMINS" {
		t.Errorf("groups = %v, want [ADMINS]", claims.Groups)
	}
	if claims.Dept != "IT" {
		t.Errorf("dept = %s, want IT", claims.Dept)
	}
	if claims.RiskScore != 15 {
		t.Errorf("riskScore = %v, want 15", claims.RiskScore)
	}
	if claims.Issuer != Issuer {
		t.Errorf("iss = %s, want %s", claims.Issuer, Issuer)
	}
	if len(claims.Audience) != 1 || claims.Audience[0] != Audience {
		t.Errorf("aud = %v, want [%s]", claims.Audience, Audience)
	}
}

func TestValidateRejectsExpired(t *testing.T) {
	s := newHS256Service(t)

	issued := time.Now().Add(-2 * time.Hour)
	s.now = func() time.Time { return issued }
	signed, _, err := s.Issue(testGrant())
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	s.now = time.Now
	if _, err := s.Validate(signed); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("Validate error = %v, want ErrTokenExpired", err)
	}
}

func TestValidateRejectsExpiryAtNow(t *testing.T) {
	s := newHS256Service(t)

	issued := time.Now().UTC().Truncate(time.Second)
	s.now = func() time.Time { return issued }
	signed, expiresAt, err := s.Issue(testGrant())
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	// exp <= now is a rejection, not a grace period.
	s.now = func() time.Time { return expiresAt }
	if _, err := s.Validate(signed); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("Validate at exp error = %v, want ErrTokenExpired", err)
	}
}

func TestValidateRejectsTamperedSignature(t *testing.T) {
	s := newHS256Service(t)
	signed, _, err := s.Issue(testGrant())
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	other, err := NewService(Config{
		Algorithm: AlgHS256,
		Secret:    []byte("a-different-secret"),
		TTL:       30 * time.Minute,
	})
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	if _, err := other.Validate(signed); !errors.Is(err, ErrTokenSignatureInvalid) {
		t.Errorf("Validate error = %v, want ErrTokenSignatureInvalid", err)
	}
}

func TestValidateRejectsMalformed(t *testing.T) {
	s := newHS256Service(t)
	for _, tok := range []string{"", "not-a-token", "a.b", strings.Repeat("x", 100)} {
		if _, err := s.Validate(tok); !errors.Is(err, ErrTokenMalformed) {
			t.Errorf("Validate(%q) error = %v, want ErrTokenMalformed", tok, err)
		}
	}
}

func rs256Keys(t *testing.T) (privPEM, pubPEM []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating RSA key: %v", err)
	}
	privPEM = pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshaling public key: %v", err)
	}
	pubPEM = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	return privPEM, pubPEM
}

func TestRS256RoundTripAndAlgorithmMismatch(t *testing.T) {
	privPEM, pubPEM := rs256Keys(t)
	rs, err := NewService(Config{
		Algorithm:     AlgRS256,
		PrivateKeyPEM: privPEM,
		PublicKeyPEM:  pubPEM,
		TTL:           time.Hour,
	})
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	signed, _, err := rs.Issue(testGrant())
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if _, err := rs.Validate(signed); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	// An HS256 token presented to an RS256 validator is an algorithm
	// mismatch, never a key-confusion acceptance.
	hs := newHS256Service(t)
	hsToken, _, err := hs.Issue(testGrant())
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if _, err := rs.Validate(hsToken); !errors.Is(err, ErrTokenAlgorithmMismatch) {
		t.Errorf("Validate error = %v, want ErrTokenAlgorithmMismatch", err)
	}
}

func TestNewServiceConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"unknown algorithm", Config{Algorithm: "ES256", Secret: []byte("x"), TTL: time.Hour}},
		{"HS256 without secret", Config{Algorithm: AlgHS256, TTL: time.Hour}},
		{"RS256 without public key", Config{Algorithm: AlgRS256, TTL: time.Hour}},
		{"zero ttl", Config{Algorithm: AlgHS256, Secret: []byte("x")}},
		{"bad public key pem", Config{Algorithm: AlgRS256, PublicKeyPEM: []byte("junk"), TTL: time.Hour}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewService(tt.cfg); err == nil {
				t.Error("NewService succeeded, want error")
			}
		})
	}
}

func TestVerifyPassword(t *testing.T) {
	verifier, err := HashPassword("password123")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if !strings.HasPrefix(verifier, "$argon2id$") {
		t.Errorf("verifier %q is not PHC format", verifier)
	}

	if err := VerifyPassword("password123", verifier); err != nil {
		t.Errorf("VerifyPassword with correct password failed: %v", err)
	}
	if err := VerifyPassword("wrong", verifier); !errors.Is(err, ErrBadCredentials) {
		t.Errorf("VerifyPassword with wrong password = %v, want ErrBadCredentials", err)
	}
	if err := VerifyPassword("password123", "not-a-verifier"); !errors.Is(err, ErrBadCredentials) {
		t.Errorf("VerifyPassword with bad verifier = %v, want ErrBadCredentials", err)
	}
}
