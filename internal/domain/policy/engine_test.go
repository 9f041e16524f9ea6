package policy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

// starterEngine builds an engine over the starter policy set.
func starterEngine(t *testing.T) *Engine {
	t.Helper()
	l := NewLoader(filepath.Join(t.TempDir(), "policies.json"), testLogger())
	e := NewEngine(l, testLogger())
	if err := l.EnsureDefaultFile(); err != nil {
		t.Fatalf("EnsureDefaultFile failed: %v", err)
	}
	if err := l.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return e
}

func TestEvaluateAdminOnNonProdPermits(t *testing.T) {
	e := starterEngine(t)

	d, err := e.Evaluate(context.Background(), Input{
		Subject:  map[string]any{"dept": "IT", "groups": []any{"ADMINS"}, "riskScore": float64(15)},
		Resource: map[string]any{"type": "user_data", "env": "dev"},
		Context:  map[string]any{"geo": "CL", "deviceTrusted": true},
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if d.Decision != EffectPermit {
		t.Fatalf("decision = %s, want Permit", d.Decision)
	}
	if want := []string{"ruleId: ADMIN-OVERRIDE-01"}; !reflect.DeepEqual(d.Reasons, want) {
		t.Errorf("reasons = %v, want %v", d.Reasons, want)
	}
}

func TestEvaluateHighRiskTriggersStepUp(t *testing.T) {
	e := starterEngine(t)

	d, err := e.Evaluate(context.Background(), Input{
		Subject:  map[string]any{"dept": "Finance", "riskScore": float64(85)},
		Resource: map[string]any{"type": "financial_data", "env": "prod"},
		Context:  map[string]any{"geo": "CL"},
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if d.Decision != EffectChallenge {
		t.Fatalf("decision = %s, want Challenge", d.Decision)
	}
	found := false
	for _, r := range d.Reasons {
		if r == "ruleId: RISK-STEPUP-01" {
			found = true
		}
	}
	if !found {
		t.Errorf("reasons = %v, want ruleId: RISK-STEPUP-01 present", d.Reasons)
	}
	if len(d.Advice) == 0 || len(d.Obligations) == 0 {
		t.Errorf("challenge decision missing advice/obligations: advice=%v obligations=%v", d.Advice, d.Obligations)
	}
}

func TestEvaluateDefaultDeny(t *testing.T) {
	e := starterEngine(t)

	d, err := e.Evaluate(context.Background(), Input{
		Subject:  map[string]any{"dept": "Sales"},
		Resource: map[string]any{"type": "payroll", "env": "prod"},
		Context:  map[string]any{"geo": "CL"},
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if d.Decision != EffectDeny {
		t.Fatalf("decision = %s, want Deny", d.Decision)
	}
	if want := []string{"ruleId: DEFAULT-DENY-01"}; !reflect.DeepEqual(d.Reasons, want) {
		t.Errorf("reasons = %v, want %v", d.Reasons, want)
	}
	if want := []string{"Contact administrator for access"}; !reflect.DeepEqual(d.Advice, want) {
		t.Errorf("advice = %v, want %v", d.Advice, want)
	}
}

const denyOverridesDoc = `{
  "policies": [
    {"ruleId": "CRITICAL-DENY-01", "effect": "Deny", "priority": 95,
     "condition": {"op": "eq", "path": "resource.classification", "value": "critical"}},
    {"ruleId": "OPS-PERMIT-01", "effect": "Permit", "priority": 60,
     "condition": {"op": "contains", "path": "subject.groups", "value": "OPS"}},
    {"ruleId": "LOW-DENY-01", "effect": "Deny", "priority": 10,
     "condition": {"op": "eq", "path": "resource.env", "value": "prod"}}
  ]
}`

func TestEvaluateDenyOverridesPermit(t *testing.T) {
	l := NewLoader(writePolicies(t, denyOverridesDoc), testLogger())
	e := NewEngine(l, testLogger())
	if err := l.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	d, err := e.Evaluate(context.Background(), Input{
		Subject:  map[string]any{"groups": []any{"OPS"}},
		Resource: map[string]any{"type": "core_system", "env": "prod", "classification": "critical"},
		Context:  map[string]any{"geo": "CL"},
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if d.Decision != EffectDeny {
		t.Fatalf("decision = %s, want Deny", d.Decision)
	}
	// Reasons carry the winning effect's rules in evaluation order: the
	// higher-priority Deny first, the Permit not at all.
	if want := []string{"ruleId: CRITICAL-DENY-01", "ruleId: LOW-DENY-01"}; !reflect.DeepEqual(d.Reasons, want) {
		t.Errorf("reasons = %v, want %v", d.Reasons, want)
	}
}

func TestEvaluateUndefinedConditionIsNonMatch(t *testing.T) {
	doc := `{
	  "policies": [
	    {"ruleId": "CLEARANCE-PERMIT-01", "effect": "Permit", "priority": 50,
	     "condition": {"op": "gte", "path": "subject.clearance", "value": 3}}
	  ]
	}`
	l := NewLoader(writePolicies(t, doc), testLogger())
	e := NewEngine(l, testLogger())
	if err := l.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// subject.clearance is absent: the rule must not fire, and the decision
	// must fall through to the default deny.
	d, err := e.Evaluate(context.Background(), Input{
		Subject:  map[string]any{"dept": "IT"},
		Resource: map[string]any{"type": "user_data"},
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if d.Decision != EffectDeny {
		t.Errorf("decision = %s, want Deny", d.Decision)
	}
	if want := []string{"ruleId: DEFAULT-DENY-01"}; !reflect.DeepEqual(d.Reasons, want) {
		t.Errorf("reasons = %v, want %v", d.Reasons, want)
	}
}

func TestEvaluateTargetFilters(t *testing.T) {
	doc := `{
	  "policies": [
	    {"ruleId": "PAYROLL-READ-01", "effect": "Permit", "priority": 50,
	     "target": {"resourceType": "payroll", "action": "read"},
	     "condition": {"op": "eq", "path": "subject.dept", "value": "HR"}}
	  ]
	}`
	l := NewLoader(writePolicies(t, doc), testLogger())
	e := NewEngine(l, testLogger())
	if err := l.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	in := Input{
		Subject:  map[string]any{"dept": "HR"},
		Resource: map[string]any{"type": "payroll"},
		Action:   "read",
	}
	d, err := e.Evaluate(context.Background(), in)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if d.Decision != EffectPermit {
		t.Errorf("decision with matching target = %s, want Permit", d.Decision)
	}

	in.Action = "write"
	d, err = e.Evaluate(context.Background(), in)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if d.Decision != EffectDeny {
		t.Errorf("decision with non-matching action = %s, want Deny", d.Decision)
	}
}

func TestEvaluateCancelledContext(t *testing.T) {
	e := starterEngine(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Evaluate(ctx, Input{Subject: map[string]any{"dept": "HR"}})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Evaluate error = %v, want context.Canceled", err)
	}
}

func TestEvaluateWithoutPublishedSet(t *testing.T) {
	l := NewLoader(filepath.Join(t.TempDir(), "absent.json"), testLogger())
	e := NewEngine(l, testLogger())

	_, err := e.Evaluate(context.Background(), Input{})
	if !errors.Is(err, ErrNoPolicySet) {
		t.Errorf("Evaluate error = %v, want ErrNoPolicySet", err)
	}
}

func TestEvaluateCachesAndReloadClears(t *testing.T) {
	path := writePolicies(t, denyOverridesDoc)
	l := NewLoader(path, testLogger())
	e := NewEngine(l, testLogger(), WithCacheSize(16))
	if err := l.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	in := Input{
		Subject:  map[string]any{"groups": []any{"OPS"}},
		Resource: map[string]any{"type": "core_system", "env": "dev"},
	}
	if _, err := e.Evaluate(context.Background(), in); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if e.CacheSize() != 1 {
		t.Errorf("cache size = %d, want 1", e.CacheSize())
	}

	// Replace the Permit rule with a Deny and reload: the cache is cleared
	// and the fresh decision reflects the new set.
	updated := `{
	  "policies": [
	    {"ruleId": "OPS-DENY-01", "effect": "Deny", "priority": 60,
	     "condition": {"op": "contains", "path": "subject.groups", "value": "OPS"}}
	  ]
	}`
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("rewriting policies file: %v", err)
	}
	if err := l.Load(); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if e.CacheSize() != 0 {
		t.Errorf("cache size after reload = %d, want 0", e.CacheSize())
	}

	d, err := e.Evaluate(context.Background(), in)
	if err != nil {
		t.Fatalf("Evaluate after reload failed: %v", err)
	}
	if d.Decision != EffectDeny {
		t.Errorf("decision after reload = %s, want Deny", d.Decision)
	}
}

func TestDecisionCacheEvictsLRU(t *testing.T) {
	c := newDecisionCache(2)
	c.Put(1, Decision{Decision: EffectPermit})
	c.Put(2, Decision{Decision: EffectDeny})

	// Touch key 1 so key 2 becomes the eviction candidate.
	if _, ok := c.Get(1); !ok {
		t.Fatal("expected hit for key 1")
	}
	c.Put(3, Decision{Decision: EffectChallenge})

	if _, ok := c.Get(2); ok {
		t.Error("key 2 survived eviction, want LRU evicted")
	}
	if _, ok := c.Get(1); !ok {
		t.Error("key 1 evicted, want retained")
	}
	if c.Size() != 2 {
		t.Errorf("size = %d, want 2", c.Size())
	}
}
