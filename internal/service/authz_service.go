package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Ident-Gate/Identgate/internal/domain/audit"
	"github.com/Ident-Gate/Identgate/internal/domain/policy"
	"github.com/Ident-Gate/Identgate/internal/domain/token"
)

// ErrForbidden indicates the caller is authenticated but the policy set
// does not permit the operation.
var ErrForbidden = errors.New("forbidden")

// anonymousSubject is recorded when an evaluation carries no bearer subject.
const anonymousSubject = "anonymous"

// AuthzService is the authorization facade: it runs evaluations through the
// engine, emits audit records, and guards policy administration with the
// policy engine itself.
type AuthzService struct {
	engine *policy.Engine
	loader *policy.Loader
	audits *AuditService
	logger *slog.Logger
}

// NewAuthzService creates an AuthzService.
func NewAuthzService(engine *policy.Engine, loader *policy.Loader, audits *AuditService, logger *slog.Logger) *AuthzService {
	return &AuthzService{
		engine: engine,
		loader: loader,
		audits: audits,
		logger: logger,
	}
}

// Evaluate runs the input through the engine and emits an audit record for
// the completed evaluation. Cancelled evaluations return the context error
// and leave no audit trace. correlationID is generated when empty;
// subjectSub is the authenticated caller for the audit trail, not the
// evaluation subject.
func (s *AuthzService) Evaluate(ctx context.Context, correlationID, subjectSub string, in policy.Input) (policy.Decision, string, error) {
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	if subjectSub == "" {
		subjectSub = anonymousSubject
	}

	decision, err := s.engine.Evaluate(ctx, in)
	if err != nil {
		// No audit record for evaluations that never completed.
		return policy.Decision{}, correlationID, err
	}

	s.audits.Record(audit.Record{
		CorrelationID: correlationID,
		Subject:       subjectSub,
		Decision:      string(decision.Decision),
		RuleIDs:       ruleIDs(decision.Reasons),
		Timestamp:     time.Now().UTC(),
	})

	s.logger.Info("evaluation completed",
		"correlation_id", correlationID,
		"decision", decision.Decision,
		"reasons", decision.Reasons,
	)
	return decision, correlationID, nil
}

// Reload re-reads the policies file after checking, through the engine
// itself, that the caller's claims permit policy administration. A
// non-Permit decision is ErrForbidden.
func (s *AuthzService) Reload(ctx context.Context, correlationID string, claims *token.Claims) error {
	in := policy.Input{
		Subject: map[string]any{
			"sub":       claims.Subject,
			"groups":    anySlice(claims.Groups),
			"dept":      claims.Dept,
			"riskScore": claims.RiskScore,
		},
		Resource: map[string]any{"type": "policy_admin"},
		Context:  map[string]any{},
		Action:   "reload",
	}

	decision, _, err := s.Evaluate(ctx, correlationID, claims.Subject, in)
	if err != nil {
		return err
	}
	if decision.Decision != policy.EffectPermit {
		return fmt.Errorf("%w: policy reload requires Permit, got %s", ErrForbidden, decision.Decision)
	}

	if err := s.loader.Load(); err != nil {
		return err
	}
	s.logger.Info("policy set reloaded", "by", claims.Subject)
	return nil
}

// RecentAudits exposes the most recent audit records for health inspection.
func (s *AuthzService) RecentAudits(n int) []audit.Record {
	return s.audits.store.Recent(n)
}

// ruleIDs strips the "ruleId: " reason prefix for the audit trail.
func ruleIDs(reasons []string) []string {
	ids := make([]string, len(reasons))
	for i, r := range reasons {
		ids[i] = strings.TrimPrefix(r, "ruleId: ")
	}
	return ids
}

// anySlice converts a string slice to the []any shape policy attributes use.
func anySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
