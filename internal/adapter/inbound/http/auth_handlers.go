package http

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Ident-Gate/Identgate/internal/service"
)

// tokenRequest is the credential body for POST /auth/token. Which fields are
// required depends on grant_type.
type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	Username     string `json:"username,omitempty"`
	Password     string `json:"password,omitempty"`
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// handleToken implements POST /auth/token.
func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	var (
		resp *service.TokenResponse
		err  error
	)
	switch req.GrantType {
	case service.GrantPassword:
		resp, err = h.auth.PasswordGrant(r.Context(), req.Username, req.Password)
	case service.GrantClientCredentials:
		resp, err = h.auth.ClientCredentialsGrant(r.Context(), req.ClientID, req.ClientSecret, req.Scope)
	default:
		err = fmt.Errorf("%w: unsupported grant_type %q", errBadRequest, req.GrantType)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	if h.metrics != nil {
		h.metrics.TokensIssued.WithLabelValues(req.GrantType).Inc()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleMe implements GET /auth/me: it echoes the validated claims.
func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, errors.New("missing claims"))
		return
	}
	writeJSON(w, http.StatusOK, claims)
}
