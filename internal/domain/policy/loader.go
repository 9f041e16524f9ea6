package policy

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Sentinel errors for policy loading. Callers classify failures with
// errors.Is; the HTTP boundary maps all three to a 500 on the reload
// endpoint, and startup treats them as fatal.
var (
	// ErrPolicyIO indicates the policy file could not be read or written.
	ErrPolicyIO = errors.New("policy io error")
	// ErrPolicyParse indicates the policy document is not valid JSON or is
	// structurally malformed.
	ErrPolicyParse = errors.New("policy parse error")
	// ErrPolicySemantic indicates the document parsed but violates the policy
	// schema: unknown operators, bad attribute paths, bad effects, duplicate
	// ruleIds, or literal type mismatches.
	ErrPolicySemantic = errors.New("policy semantic error")
)

// policyDocument is the wire shape of the policies file.
type policyDocument struct {
	Policies []policyEntry `json:"policies"`
}

// policyEntry uses pointer fields so missing keys are distinguishable from
// zero values during validation.
type policyEntry struct {
	RuleID      *string         `json:"ruleId"`
	Effect      *string         `json:"effect"`
	Priority    *int            `json:"priority"`
	Description string          `json:"description,omitempty"`
	Target      *Target         `json:"target,omitempty"`
	Condition   json.RawMessage `json:"condition"`
	Advice      []string        `json:"advice,omitempty"`
	Obligations []string        `json:"obligations,omitempty"`
}

// Loader reads, validates, and publishes PolicySets. The published set is
// held in an atomic pointer: evaluations snapshot it with a single atomic
// read, and a reload swaps the pointer without disturbing in-flight
// evaluations. On any load failure the previously published set is retained.
type Loader struct {
	path    string
	current atomic.Pointer[PolicySet]
	version atomic.Uint64
	logger  *slog.Logger

	// reloadMu serializes concurrent reload requests; readers never take it.
	reloadMu sync.Mutex

	// onSwap callbacks run after each successful publication (e.g. to clear
	// the engine's decision cache).
	onSwap []func(*PolicySet)
}

// NewLoader creates a Loader for the given policies file path. No set is
// published until Load succeeds.
func NewLoader(path string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{path: path, logger: logger}
}

// OnSwap registers a callback invoked after every successful publication.
// Must be called before the first Load.
func (l *Loader) OnSwap(fn func(*PolicySet)) {
	l.onSwap = append(l.onSwap, fn)
}

// Current returns the published PolicySet, or nil before the first
// successful Load. Callers must read it exactly once per evaluation and use
// that snapshot throughout.
func (l *Loader) Current() *PolicySet {
	return l.current.Load()
}

// Load reads the policy document, validates it, and publishes a new
// PolicySet by atomic swap. Safe for concurrent use; concurrent loads are
// serialized.
func (l *Loader) Load() error {
	l.reloadMu.Lock()
	defer l.reloadMu.Unlock()

	data, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("%w: reading %s: %v", ErrPolicyIO, l.path, err)
	}

	set, err := parsePolicySet(data)
	if err != nil {
		return err
	}

	set.Version = l.version.Add(1)
	set.LoadedAt = time.Now().UTC()
	l.current.Store(set)

	for _, fn := range l.onSwap {
		fn(set)
	}

	l.logger.Info("policy set published",
		"path", l.path,
		"rules", len(set.Rules),
		"version", set.Version,
	)
	return nil
}

// parsePolicySet validates the raw document and builds an ordered,
// immutable PolicySet terminated by the implicit default-deny rule.
func parsePolicySet(data []byte) (*PolicySet, error) {
	var doc policyDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPolicyParse, err)
	}
	if doc.Policies == nil {
		return nil, fmt.Errorf("%w: missing top-level \"policies\" list", ErrPolicyParse)
	}

	rules := make([]Rule, 0, len(doc.Policies)+1)
	seen := make(map[string]struct{}, len(doc.Policies))

	for i, entry := range doc.Policies {
		rule, err := buildRule(entry)
		if err != nil {
			return nil, fmt.Errorf("%w: policy %d: %v", ErrPolicySemantic, i, err)
		}
		if _, dup := seen[rule.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate ruleId %q", ErrPolicySemantic, rule.ID)
		}
		if rule.ID == DefaultDenyRuleID {
			return nil, fmt.Errorf("%w: ruleId %q is reserved", ErrPolicySemantic, DefaultDenyRuleID)
		}
		seen[rule.ID] = struct{}{}
		rules = append(rules, rule)
	}

	// Published order: priority descending, ruleId ascending for stability.
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].ID < rules[j].ID
	})

	rules = append(rules, DefaultDenyRule())
	return &PolicySet{Rules: rules}, nil
}

// buildRule validates a single policy entry and parses its condition tree.
func buildRule(entry policyEntry) (Rule, error) {
	if entry.RuleID == nil || *entry.RuleID == "" {
		return Rule{}, errors.New("missing required field \"ruleId\"")
	}
	if entry.Effect == nil {
		return Rule{}, fmt.Errorf("policy %q: missing required field \"effect\"", *entry.RuleID)
	}
	effect := Effect(*entry.Effect)
	if !effect.IsValid() {
		return Rule{}, fmt.Errorf("policy %q: invalid effect %q", *entry.RuleID, *entry.Effect)
	}
	if entry.Priority == nil {
		return Rule{}, fmt.Errorf("policy %q: missing required field \"priority\"", *entry.RuleID)
	}
	if len(entry.Condition) == 0 {
		return Rule{}, fmt.Errorf("policy %q: missing required field \"condition\"", *entry.RuleID)
	}

	cond, err := ParseExpr(entry.Condition)
	if err != nil {
		return Rule{}, fmt.Errorf("policy %q: condition: %v", *entry.RuleID, err)
	}

	return Rule{
		ID:          *entry.RuleID,
		Effect:      effect,
		Priority:    *entry.Priority,
		Description: entry.Description,
		Target:      entry.Target,
		Condition:   cond,
		Advice:      append([]string(nil), entry.Advice...),
		Obligations: append([]string(nil), entry.Obligations...),
	}, nil
}

// EnsureDefaultFile writes the starter policy document if the policies file
// does not exist yet. The starter set includes POLICY-ADMIN-01, the rule the
// reload endpoint's own authorization check depends on at bootstrap.
func (l *Loader) EnsureDefaultFile() error {
	if _, err := os.Stat(l.path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: stat %s: %v", ErrPolicyIO, l.path, err)
	}

	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: creating %s: %v", ErrPolicyIO, dir, err)
		}
	}
	if err := os.WriteFile(l.path, []byte(defaultPoliciesJSON), 0o644); err != nil {
		return fmt.Errorf("%w: writing %s: %v", ErrPolicyIO, l.path, err)
	}
	l.logger.Info("starter policies file created", "path", l.path)
	return nil
}

// defaultPoliciesJSON is the starter policy set written on first startup.
const defaultPoliciesJSON = `{
  "policies": [
    {
      "ruleId": "POLICY-ADMIN-01",
      "effect": "Permit",
      "priority": 100,
      "description": "ADMINS may administer the policy set",
      "condition": {
        "op": "all",
        "args": [
          {"op": "contains", "path": "subject.groups", "value": "ADMINS"},
          {"op": "eq", "path": "resource.type", "value": "policy_admin"},
          {"op": "eq", "path": "action", "value": "reload"}
        ]
      }
    },
    {
      "ruleId": "ADMIN-OVERRIDE-01",
      "effect": "Permit",
      "priority": 90,
      "description": "Admins can access non-prod environments",
      "condition": {
        "op": "all",
        "args": [
          {"op": "contains", "path": "subject.groups", "value": "ADMINS"},
          {"op": "neq", "path": "resource.env", "value": "prod"}
        ]
      }
    },
    {
      "ruleId": "RISK-STEPUP-01",
      "effect": "Challenge",
      "priority": 80,
      "description": "High risk score or non-approved geo requires step-up",
      "condition": {
        "op": "any",
        "args": [
          {"op": "gte", "path": "subject.riskScore", "value": 70},
          {"op": "not", "arg": {"op": "in", "path": "context.geo", "values": ["CL", "CO"]}}
        ]
      },
      "advice": ["Additional authentication required"],
      "obligations": ["Initiate step-up authentication"]
    },
    {
      "ruleId": "HR-PAYROLL-01",
      "effect": "Permit",
      "priority": 50,
      "description": "HR can access payroll from trusted devices",
      "condition": {
        "op": "all",
        "args": [
          {"op": "eq", "path": "subject.dept", "value": "HR"},
          {"op": "eq", "path": "resource.type", "value": "payroll"},
          {"op": "eq", "path": "context.deviceTrusted", "value": true}
        ]
      }
    }
  ]
}
`
