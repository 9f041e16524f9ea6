// Package token issues and validates the signed bearer tokens the service
// authenticates with, and owns password verification for the password grant.
package token

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// Token claim constants shared by issuance and validation.
const (
	// Issuer is the iss claim stamped on every issued token.
	Issuer = "identgate"
	// Audience is the aud claim stamped on every issued token.
	Audience = "identgate-api"
)

// Credential and validation failure kinds. The HTTP boundary maps all of
// them to 401; they stay distinct so audit logs can tell a stale token from
// a forged one.
var (
	// ErrBadCredentials covers unknown principals, wrong passwords or client
	// secrets, and inactive users. Deliberately indistinguishable to callers.
	ErrBadCredentials = errors.New("bad credentials")
	// ErrTokenMalformed indicates the token is not a parseable compact JWT.
	ErrTokenMalformed = errors.New("token malformed")
	// ErrTokenExpired indicates exp is at or before the current time.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenSignatureInvalid indicates the signature does not verify with
	// the configured key.
	ErrTokenSignatureInvalid = errors.New("token signature invalid")
	// ErrTokenAlgorithmMismatch indicates the token's alg header differs
	// from the configured signing algorithm.
	ErrTokenAlgorithmMismatch = errors.New("token algorithm mismatch")
)

// Claims is the payload of an issued token: registered claims plus the
// subject attributes policies evaluate against.
type Claims struct {
	Scope     string   `json:"scope"`
	Groups    []string `json:"groups"`
	Dept      string   `json:"dept,omitempty"`
	RiskScore float64  `json:"riskScore"`
	jwt.RegisteredClaims
}

// Grant carries the attributes of an authenticated principal into token
// issuance.
type Grant struct {
	// Subject becomes the sub claim: a user id or a client id.
	Subject string
	// Scope is the space-separated granted scope set.
	Scope string
	// Groups the principal belongs to.
	Groups []string
	// Dept is the principal's department, empty for clients.
	Dept string
	// RiskScore is the principal's current risk score.
	RiskScore float64
}
