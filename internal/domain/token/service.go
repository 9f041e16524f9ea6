package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Supported signing algorithms.
const (
	AlgHS256 = "HS256"
	AlgRS256 = "RS256"
)

// Config provisions the Service at startup. Exactly one key source must be
// set for the chosen algorithm; keys are immutable for the process lifetime.
type Config struct {
	// Algorithm is AlgHS256 or AlgRS256.
	Algorithm string
	// Secret is the HMAC secret for HS256.
	Secret []byte
	// PrivateKeyPEM and PublicKeyPEM are the PEM-encoded RSA key pair for
	// RS256. Validation only needs the public key.
	PrivateKeyPEM []byte
	PublicKeyPEM  []byte
	// TTL is the issued-token lifetime (exp = iat + TTL).
	TTL time.Duration
}

// Service signs and validates bearer tokens with a fixed algorithm and key.
type Service struct {
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
	ttl       time.Duration

	// now is swapped in tests to pin issuance and expiry times.
	now func() time.Time
}

// NewService validates the configuration and builds a Service.
func NewService(cfg Config) (*Service, error) {
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("token ttl must be positive, got %v", cfg.TTL)
	}

	s := &Service{
		ttl: cfg.TTL,
		now: time.Now,
	}

	switch cfg.Algorithm {
	case AlgHS256:
		if len(cfg.Secret) == 0 {
			return nil, errors.New("HS256 requires a non-empty secret")
		}
		s.method = jwt.SigningMethodHS256
		s.signKey = cfg.Secret
		s.verifyKey = cfg.Secret

	case AlgRS256:
		if len(cfg.PublicKeyPEM) == 0 {
			return nil, errors.New("RS256 requires a public key")
		}
		pub, err := jwt.ParseRSAPublicKeyFromPEM(cfg.PublicKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("parsing RSA public key: %w", err)
		}
		s.method = jwt.SigningMethodRS256
		s.verifyKey = pub
		if len(cfg.PrivateKeyPEM) > 0 {
			priv, err := jwt.ParseRSAPrivateKeyFromPEM(cfg.PrivateKeyPEM)
			if err != nil {
				return nil, fmt.Errorf("parsing RSA private key: %w", err)
			}
			if !priv.PublicKey.Equal(pub) {
				return nil, errors.New("RSA key pair mismatch")
			}
			s.signKey = priv
		}

	default:
		return nil, fmt.Errorf("unsupported signing algorithm %q", cfg.Algorithm)
	}

	return s, nil
}

// TTL returns the configured token lifetime.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// Issue signs a token for the grant and returns the compact form with its
// expiry.
func (s *Service) Issue(g Grant) (string, time.Time, error) {
	if s.signKey == nil {
		return "", time.Time{}, errors.New("no signing key configured")
	}

	now := s.now().UTC()
	expiresAt := now.Add(s.ttl)

	claims := Claims{
		Scope:     g.Scope,
		Groups:    g.Groups,
		Dept:      g.Dept,
		RiskScore: g.RiskScore,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{Audience},
			Subject:   g.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(s.method, claims).SignedString(s.signKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}
	return signed, expiresAt, nil
}

// Validate parses a compact token, verifies algorithm, signature, and
// expiry, and returns its claims. Failures map onto the token error kinds.
func (s *Service) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, s.keyfunc,
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, classifyParseError(err)
	}
	return claims, nil
}

// keyfunc rejects foreign algorithms before handing back the verify key, so
// a wrong alg classifies as a mismatch rather than a verification failure.
// It also closes the alg-confusion hole: an HS256 token can never be checked
// against an RSA public key.
func (s *Service) keyfunc(t *jwt.Token) (any, error) {
	if t.Method.Alg() != s.method.Alg() {
		return nil, ErrTokenAlgorithmMismatch
	}
	return s.verifyKey, nil
}

// classifyParseError maps jwt parse failures onto the token error kinds.
func classifyParseError(err error) error {
	switch {
	case errors.Is(err, ErrTokenAlgorithmMismatch):
		return ErrTokenAlgorithmMismatch
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrTokenSignatureInvalid
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		// jwt wraps keyfunc errors as unverifiable; ours is the mismatch.
		return ErrTokenAlgorithmMismatch
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrTokenMalformed
	default:
		return fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
}
