package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/Ident-Gate/Identgate/internal/domain/policy"
	"github.com/Ident-Gate/Identgate/internal/domain/scim"
	"github.com/Ident-Gate/Identgate/internal/domain/token"
	"github.com/Ident-Gate/Identgate/internal/service"
)

// errBadRequest classifies malformed request bodies at the boundary.
var errBadRequest = errors.New("bad request")

// errorResponse is the JSON error body for non-SCIM routes.
type errorResponse struct {
	Error         string `json:"error"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// scimErrorResponse is the SCIM error body, per RFC 7644 §3.12.
type scimErrorResponse struct {
	Schemas []string `json:"schemas"`
	Status  string   `json:"status"`
	Detail  string   `json:"detail"`
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps a domain error to its HTTP status once, at the boundary.
// SCIM routes get the SCIM error envelope; everything else gets the plain
// error body with the correlation id.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)

	if strings.HasPrefix(r.URL.Path, "/scim/v2/") {
		writeJSON(w, status, scimErrorResponse{
			Schemas: []string{scim.SchemaError},
			Status:  strconv.Itoa(status),
			Detail:  err.Error(),
		})
		return
	}

	writeJSON(w, status, errorResponse{
		Error:         err.Error(),
		CorrelationID: CorrelationIDFromContext(r.Context()),
	})
}

// statusFor translates the error taxonomy to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, scim.ErrInvalidResource),
		errors.Is(err, scim.ErrBadFilter),
		errors.Is(err, scim.ErrUnknownMember):
		return http.StatusBadRequest
	case errors.Is(err, token.ErrBadCredentials),
		errors.Is(err, token.ErrTokenMalformed),
		errors.Is(err, token.ErrTokenExpired),
		errors.Is(err, token.ErrTokenSignatureInvalid),
		errors.Is(err, token.ErrTokenAlgorithmMismatch):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, scim.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, scim.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, policy.ErrPolicyIO),
		errors.Is(err, policy.ErrPolicyParse),
		errors.Is(err, policy.ErrPolicySemantic),
		errors.Is(err, policy.ErrNoPolicySet):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads the request body into v, classifying failures as bad
// requests. Bodies are capped at 1 MB.
func decodeJSON(r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Join(errBadRequest, err)
	}
	return nil
}

// maxRequestBodySize is the maximum allowed request body size (1 MB).
const maxRequestBodySize = 1 << 20
