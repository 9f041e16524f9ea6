// Package scim contains the provisioning domain: User and Group resources,
// their validation rules, the filter grammar, and the store contracts.
package scim

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// SCIM schema URIs carried in the schemas field of every resource.
const (
	SchemaUser         = "urn:ietf:params:scim:schemas:core:2.0:User"
	SchemaGroup        = "urn:ietf:params:scim:schemas:core:2.0:Group"
	SchemaListResponse = "urn:ietf:params:scim:api:messages:2.0:ListResponse"
	SchemaError        = "urn:ietf:params:scim:api:messages:2.0:Error"
)

// Domain errors. The HTTP boundary maps them onto SCIM error responses.
var (
	// ErrNotFound indicates the resource id does not exist.
	ErrNotFound = errors.New("resource not found")
	// ErrConflict indicates a uniqueness violation (userName, displayName).
	ErrConflict = errors.New("resource conflict")
	// ErrInvalidResource indicates the resource payload fails validation.
	ErrInvalidResource = errors.New("invalid resource")
	// ErrBadFilter indicates an unsupported or malformed filter expression.
	ErrBadFilter = errors.New("bad filter")
	// ErrUnknownMember indicates a group member references no existing user.
	ErrUnknownMember = errors.New("unknown member")
)

// Meta is the SCIM meta block attached to every resource.
type Meta struct {
	ResourceType string    `json:"resourceType"`
	Created      time.Time `json:"created"`
	LastModified time.Time `json:"lastModified"`
	Location     string    `json:"location"`
}

// Name is the structured name sub-attribute of a User.
type Name struct {
	GivenName  string `json:"givenName,omitempty"`
	FamilyName string `json:"familyName,omitempty"`
	Formatted  string `json:"formatted,omitempty"`
}

// Email is one entry of a User's emails list.
type Email struct {
	Value   string `json:"value"`
	Type    string `json:"type,omitempty"`
	Primary bool   `json:"primary,omitempty"`
}

// User is the SCIM User resource, extended with the attributes the policy
// engine evaluates against (dept, riskScore) and the password verifier the
// token service checks. The verifier never serializes.
type User struct {
	Schemas   []string `json:"schemas"`
	ID        string   `json:"id"`
	UserName  string   `json:"userName"`
	Name      *Name    `json:"name,omitempty"`
	Emails    []Email  `json:"emails,omitempty"`
	Active    bool     `json:"active"`
	Dept      string   `json:"dept,omitempty"`
	RiskScore float64  `json:"riskScore"`
	Groups    []string `json:"groups,omitempty"`
	Meta      Meta     `json:"meta"`

	// PasswordVerifier is the argon2id PHC string, internal only.
	PasswordVerifier string `json:"-"`
}

// Member is one entry of a Group's members list; Value is a user id.
type Member struct {
	Value   string `json:"value"`
	Display string `json:"display,omitempty"`
}

// Group is the SCIM Group resource.
type Group struct {
	Schemas     []string `json:"schemas"`
	ID          string   `json:"id"`
	DisplayName string   `json:"displayName"`
	Members     []Member `json:"members"`
	Meta        Meta     `json:"meta"`
}

// ListResponse is the SCIM list wrapper for Users and Groups.
type ListResponse struct {
	Schemas      []string `json:"schemas"`
	TotalResults int      `json:"totalResults"`
	Resources    any      `json:"Resources"`
}

// NewListResponse wraps a resource slice in the standard list envelope.
func NewListResponse(total int, resources any) ListResponse {
	return ListResponse{
		Schemas:      []string{SchemaListResponse},
		TotalResults: total,
		Resources:    resources,
	}
}

// NewUserID returns a fresh user id of the form usr_<8 hex>.
func NewUserID() string {
	return "usr_" + shortUUID()
}

// NewGroupID returns a fresh group id of the form grp_<8 hex>.
func NewGroupID() string {
	return "grp_" + shortUUID()
}

func shortUUID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

var (
	userNameRe = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
	validate   = newValidator()
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("scim_username", func(fl validator.FieldLevel) bool {
		return userNameRe.MatchString(fl.Field().String())
	})
	return v
}

// ValidateUserName enforces the userName charset and length bounds.
func ValidateUserName(userName string) error {
	if err := validate.Var(userName, "required,min=2,max=50,scim_username"); err != nil {
		return fmt.Errorf("%w: userName must be 2-50 characters of [A-Za-z0-9._-]", ErrInvalidResource)
	}
	return nil
}

// ValidateRiskScore enforces the 0-100 range.
func ValidateRiskScore(score float64) error {
	if err := validate.Var(score, "gte=0,lte=100"); err != nil {
		return fmt.Errorf("%w: riskScore must be between 0 and 100, got %g", ErrInvalidResource, score)
	}
	return nil
}

// ValidateEmails checks address format and that at most one entry is
// primary. The primary cardinality is a cross-item rule, so it stays
// outside the per-value tags.
func ValidateEmails(emails []Email) error {
	primaries := 0
	for _, e := range emails {
		if err := validate.Var(e.Value, "required,email"); err != nil {
			return fmt.Errorf("%w: invalid email %q", ErrInvalidResource, e.Value)
		}
		if e.Primary {
			primaries++
		}
	}
	if primaries > 1 {
		return fmt.Errorf("%w: at most one email may be primary", ErrInvalidResource)
	}
	return nil
}
