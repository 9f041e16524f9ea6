// Package policy contains the ABAC domain: predicate expressions, policy
// sets, the loader, and the rule engine (PDP).
package policy

import "time"

// Effect is the outcome a rule contributes when it matches.
type Effect string

const (
	// EffectPermit allows the request.
	EffectPermit Effect = "Permit"
	// EffectDeny blocks the request.
	EffectDeny Effect = "Deny"
	// EffectChallenge requires an additional authentication factor.
	EffectChallenge Effect = "Challenge"
)

// IsValid returns true if the effect is a known valid effect.
func (e Effect) IsValid() bool {
	switch e {
	case EffectPermit, EffectDeny, EffectChallenge:
		return true
	default:
		return false
	}
}

// DefaultDenyRuleID is the ruleId of the implicit terminal rule appended to
// every published PolicySet. It always matches, so no evaluation can end
// without at least one matched rule.
const DefaultDenyRuleID = "DEFAULT-DENY-01"

// Input is the attribute tuple an evaluation request carries.
type Input struct {
	Subject  map[string]any `json:"subject"`
	Resource map[string]any `json:"resource"`
	Context  map[string]any `json:"context"`
	Action   string         `json:"action,omitempty"`
}

// Target is an optional coarse filter evaluated before a rule's condition.
// Empty fields match anything.
type Target struct {
	ResourceType string `json:"resourceType,omitempty"`
	Action       string `json:"action,omitempty"`
}

// Rule is a single loaded policy. Rules are immutable after publication.
type Rule struct {
	// ID is the unique ruleId from the policy document.
	ID string
	// Effect is the outcome this rule contributes when it matches.
	Effect Effect
	// Priority orders evaluation; higher evaluates first.
	Priority int
	// Description is optional operator-facing text.
	Description string
	// Target is the optional coarse resource/action filter.
	Target *Target
	// Condition is the parsed predicate tree.
	Condition Expr
	// Advice are non-binding hints attached to the decision when this rule
	// contributes to the winning effect.
	Advice []string
	// Obligations are actions the enforcement point must carry out.
	Obligations []string
}

// PolicySet is the immutable, published, ordered collection of rules.
// The last rule is always the implicit DEFAULT-DENY-01. A PolicySet is never
// mutated after publication; reload swaps the whole set atomically.
type PolicySet struct {
	// Rules in published order: priority descending, then ruleId ascending,
	// with the default-deny rule last.
	Rules []Rule
	// Version increments on every successful publication.
	Version uint64
	// LoadedAt is when this set was published (UTC).
	LoadedAt time.Time
}

// Decision is the structured outcome of an evaluation.
type Decision struct {
	Decision    Effect   `json:"decision"`
	Reasons     []string `json:"reasons"`
	Advice      []string `json:"advice"`
	Obligations []string `json:"obligations"`
}

// DefaultDenyRule returns the implicit terminal rule. Its condition always
// evaluates true, and it carries the operator guidance the original default
// decision shipped with.
func DefaultDenyRule() Rule {
	return Rule{
		ID:          DefaultDenyRuleID,
		Effect:      EffectDeny,
		Priority:    defaultDenyPriority,
		Description: "Implicit terminal rule: deny when no other rule matches",
		Condition:   alwaysTrue{},
		Advice:      []string{"Contact administrator for access"},
		Obligations: []string{"Log denied access attempt"},
	}
}

// defaultDenyPriority sorts below any operator-assigned priority.
const defaultDenyPriority = -1 << 31

// alwaysTrue is the condition of the implicit default-deny rule.
type alwaysTrue struct{}

func (alwaysTrue) Eval(Attributes) Tri { return TriTrue }
