package http

import (
	"errors"
	"net/http"

	"github.com/Ident-Gate/Identgate/internal/domain/policy"
)

// evaluateRequest is the body of POST /authz/evaluate: the attribute tuple
// the PDP evaluates.
type evaluateRequest struct {
	Subject  map[string]any `json:"subject"`
	Resource map[string]any `json:"resource"`
	Context  map[string]any `json:"context"`
	Action   string         `json:"action,omitempty"`
}

// handleEvaluate implements POST /authz/evaluate.
func (h *Handler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	var subjectSub string
	if claims := ClaimsFromContext(r.Context()); claims != nil {
		subjectSub = claims.Subject
	}

	in := policy.Input{
		Subject:  req.Subject,
		Resource: req.Resource,
		Context:  req.Context,
		Action:   req.Action,
	}
	decision, _, err := h.authz.Evaluate(r.Context(), CorrelationIDFromContext(r.Context()), subjectSub, in)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if h.metrics != nil {
		h.metrics.PolicyEvaluations.WithLabelValues(string(decision.Decision)).Inc()
	}
	writeJSON(w, http.StatusOK, decision)
}

// handleReloadPolicies implements POST /authz/policies/reload. Authorization
// is decided by the policy engine itself on the caller's claims.
func (h *Handler) handleReloadPolicies(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, errors.New("missing claims"))
		return
	}

	if err := h.authz.Reload(r.Context(), CorrelationIDFromContext(r.Context()), claims); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}
