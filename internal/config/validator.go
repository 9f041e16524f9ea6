package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate validates the Config using struct tags and cross-field rules.
// Returns an error with actionable messages if validation fails. A failed
// validation at startup aborts the process with a non-zero exit.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	return c.validateKeyMaterial()
}

// validateKeyMaterial ensures the configured algorithm has the key material
// it needs: HS256 needs a secret, RS256 needs a key pair for issuing and at
// least the public key for validation.
func (c *Config) validateKeyMaterial() error {
	switch c.JWTAlg {
	case "HS256":
		if c.JWTSecret == "" {
			return errors.New("jwt_secret is required when jwt_alg is HS256")
		}
	case "RS256":
		if c.JWTPublicKey == "" {
			return errors.New("jwt_public_key is required when jwt_alg is RS256")
		}
		if c.JWTPrivateKey == "" {
			return errors.New("jwt_private_key is required when jwt_alg is RS256")
		}
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, e.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
