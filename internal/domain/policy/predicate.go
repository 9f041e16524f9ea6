package policy

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Tri is a three-valued logic result. Missing or uncomparable attributes
// evaluate to TriUndef, which propagates through comparators and logical
// operators under Kleene semantics. A top-level TriUndef is treated as
// non-match by the engine, so absent data can fire neither Permit nor Deny
// rules.
type Tri int8

const (
	// TriFalse is definite false.
	TriFalse Tri = iota
	// TriTrue is definite true.
	TriTrue
	// TriUndef means the predicate could not be decided.
	TriUndef
)

// String implements fmt.Stringer for log output.
func (t Tri) String() string {
	switch t {
	case TriTrue:
		return "true"
	case TriFalse:
		return "false"
	default:
		return "undefined"
	}
}

// triAnd is Kleene conjunction: false dominates, then undefined.
func triAnd(a, b Tri) Tri {
	if a == TriFalse || b == TriFalse {
		return TriFalse
	}
	if a == TriUndef || b == TriUndef {
		return TriUndef
	}
	return TriTrue
}

// triOr is Kleene disjunction: true dominates, then undefined.
func triOr(a, b Tri) Tri {
	if a == TriTrue || b == TriTrue {
		return TriTrue
	}
	if a == TriUndef || b == TriUndef {
		return TriUndef
	}
	return TriFalse
}

// triNot is Kleene negation: not(undefined) = undefined.
func triNot(a Tri) Tri {
	switch a {
	case TriTrue:
		return TriFalse
	case TriFalse:
		return TriTrue
	default:
		return TriUndef
	}
}

// Attributes is the flattened attribute view of an evaluation input, keyed by
// dot-separated paths such as "subject.dept" or "context.deviceTrusted".
type Attributes map[string]any

// FlattenInput converts an Input into its flattened attribute view. Nested
// maps flatten recursively; the request action is exposed under the bare
// path "action".
func FlattenInput(in Input) Attributes {
	attrs := make(Attributes)
	flattenInto(attrs, "subject", in.Subject)
	flattenInto(attrs, "resource", in.Resource)
	flattenInto(attrs, "context", in.Context)
	if in.Action != "" {
		attrs["action"] = in.Action
	}
	return attrs
}

func flattenInto(attrs Attributes, prefix string, m map[string]any) {
	for k, v := range m {
		path := prefix + "." + k
		if nested, ok := v.(map[string]any); ok {
			flattenInto(attrs, path, nested)
			continue
		}
		attrs[path] = v
	}
}

// Expr is a node of the predicate expression tree. Implementations are
// immutable and safe for concurrent evaluation.
type Expr interface {
	// Eval evaluates the node against the flattened attributes.
	Eval(attrs Attributes) Tri
}

// Operator names accepted in the condition JSON grammar.
const (
	opAll      = "all"
	opAny      = "any"
	opNot      = "not"
	opEq       = "eq"
	opNeq      = "neq"
	opIn       = "in"
	opContains = "contains"
	opGt       = "gt"
	opGte      = "gte"
	opLt       = "lt"
	opLte      = "lte"
	opBetween  = "between"
	opExists   = "exists"
)

// exprNode is the wire shape of a single predicate node.
type exprNode struct {
	Op     string            `json:"op"`
	Args   []json.RawMessage `json:"args,omitempty"`
	Arg    json.RawMessage   `json:"arg,omitempty"`
	Path   string            `json:"path,omitempty"`
	Value  any               `json:"value,omitempty"`
	Values []any             `json:"values,omitempty"`
	Lo     any               `json:"lo,omitempty"`
	Hi     any               `json:"hi,omitempty"`
}

// ParseExpr parses a condition node from its JSON form, validating operator
// names, attribute paths, and literal types. Errors are wrapped with
// ErrPolicySemantic by the loader.
func ParseExpr(raw json.RawMessage) (Expr, error) {
	var node exprNode
	if err := json.Unmarshal(raw, &node); err != nil {
		return nil, fmt.Errorf("condition node is not an object: %w", err)
	}

	switch node.Op {
	case opAll, opAny:
		if len(node.Args) == 0 {
			return nil, fmt.Errorf("%q requires a non-empty args list", node.Op)
		}
		children := make([]Expr, 0, len(node.Args))
		for i, rawChild := range node.Args {
			child, err := ParseExpr(rawChild)
			if err != nil {
				return nil, fmt.Errorf("%s.args[%d]: %w", node.Op, i, err)
			}
			children = append(children, child)
		}
		if node.Op == opAll {
			return allExpr{children}, nil
		}
		return anyExpr{children}, nil

	case opNot:
		if len(node.Arg) == 0 {
			return nil, fmt.Errorf("%q requires an arg node", opNot)
		}
		child, err := ParseExpr(node.Arg)
		if err != nil {
			return nil, fmt.Errorf("not.arg: %w", err)
		}
		return notExpr{child}, nil

	case opEq, opNeq:
		if err := validatePath(node.Path); err != nil {
			return nil, err
		}
		return cmpEqExpr{path: node.Path, value: node.Value, negate: node.Op == opNeq}, nil

	case opIn:
		if err := validatePath(node.Path); err != nil {
			return nil, err
		}
		if len(node.Values) == 0 {
			return nil, fmt.Errorf("%q on %q requires a non-empty values list", opIn, node.Path)
		}
		return inExpr{path: node.Path, values: node.Values}, nil

	case opContains:
		if err := validatePath(node.Path); err != nil {
			return nil, err
		}
		return containsExpr{path: node.Path, value: node.Value}, nil

	case opGt, opGte, opLt, opLte:
		if err := validatePath(node.Path); err != nil {
			return nil, err
		}
		if !comparableLiteral(node.Value) {
			return nil, fmt.Errorf("%q on %q requires a number or \"HH:MM\" literal, got %T", node.Op, node.Path, node.Value)
		}
		return orderExpr{op: node.Op, path: node.Path, value: node.Value}, nil

	case opBetween:
		if err := validatePath(node.Path); err != nil {
			return nil, err
		}
		if !comparableLiteral(node.Lo) || !comparableLiteral(node.Hi) {
			return nil, fmt.Errorf("%q on %q requires number or \"HH:MM\" bounds", opBetween, node.Path)
		}
		return betweenExpr{path: node.Path, lo: node.Lo, hi: node.Hi}, nil

	case opExists:
		if err := validatePath(node.Path); err != nil {
			return nil, err
		}
		return existsExpr{path: node.Path}, nil

	case "":
		return nil, fmt.Errorf("condition node is missing the \"op\" field")

	default:
		return nil, fmt.Errorf("unknown operator %q", node.Op)
	}
}

// validatePath checks that an attribute path is rooted at subject, resource,
// or context, or is the bare "action" path.
func validatePath(path string) error {
	if path == "action" {
		return nil
	}
	root, rest, ok := strings.Cut(path, ".")
	if !ok || rest == "" {
		return fmt.Errorf("attribute path %q must be rooted at subject, resource, or context", path)
	}
	switch root {
	case "subject", "resource", "context":
		return nil
	default:
		return fmt.Errorf("attribute path %q has unknown root %q", path, root)
	}
}

// comparableLiteral reports whether a literal can take part in an ordering
// comparison: a number, a numeric string, or a "HH:MM" time of day.
func comparableLiteral(v any) bool {
	if _, ok := asNumber(v); ok {
		return true
	}
	if s, ok := v.(string); ok {
		_, ok := minuteOfDay(s)
		return ok
	}
	return false
}

type allExpr struct{ args []Expr }

func (e allExpr) Eval(attrs Attributes) Tri {
	result := TriTrue
	for _, arg := range e.args {
		result = triAnd(result, arg.Eval(attrs))
		if result == TriFalse {
			return TriFalse
		}
	}
	return result
}

type anyExpr struct{ args []Expr }

func (e anyExpr) Eval(attrs Attributes) Tri {
	result := TriFalse
	for _, arg := range e.args {
		result = triOr(result, arg.Eval(attrs))
		if result == TriTrue {
			return TriTrue
		}
	}
	return result
}

type notExpr struct{ arg Expr }

func (e notExpr) Eval(attrs Attributes) Tri {
	return triNot(e.arg.Eval(attrs))
}

type cmpEqExpr struct {
	path   string
	value  any
	negate bool
}

func (e cmpEqExpr) Eval(attrs Attributes) Tri {
	actual, ok := attrs[e.path]
	if !ok || actual == nil {
		return TriUndef
	}
	result := equalValues(actual, e.value, caseInsensitivePath(e.path))
	if e.negate {
		return triNot(result)
	}
	return result
}

type inExpr struct {
	path   string
	values []any
}

// Eval computes membership; when the attribute is itself a set, the result is
// true iff the intersection is non-empty.
func (e inExpr) Eval(attrs Attributes) Tri {
	actual, ok := attrs[e.path]
	if !ok || actual == nil {
		return TriUndef
	}
	ci := caseInsensitivePath(e.path)
	if list, ok := asList(actual); ok {
		for _, item := range list {
			for _, candidate := range e.values {
				if equalValues(item, candidate, ci) == TriTrue {
					return TriTrue
				}
			}
		}
		return TriFalse
	}
	for _, candidate := range e.values {
		if equalValues(actual, candidate, ci) == TriTrue {
			return TriTrue
		}
	}
	return TriFalse
}

type containsExpr struct {
	path  string
	value any
}

// Eval expects the attribute to be a list and checks it includes the literal.
func (e containsExpr) Eval(attrs Attributes) Tri {
	actual, ok := attrs[e.path]
	if !ok || actual == nil {
		return TriUndef
	}
	list, ok := asList(actual)
	if !ok {
		return TriUndef
	}
	ci := caseInsensitivePath(e.path)
	for _, item := range list {
		if equalValues(item, e.value, ci) == TriTrue {
			return TriTrue
		}
	}
	return TriFalse
}

type orderExpr struct {
	op    string
	path  string
	value any
}

func (e orderExpr) Eval(attrs Attributes) Tri {
	actual, ok := attrs[e.path]
	if !ok || actual == nil {
		return TriUndef
	}
	cmp, ok := compareOrdered(actual, e.value)
	if !ok {
		return TriUndef
	}
	var result bool
	switch e.op {
	case opGt:
		result = cmp > 0
	case opGte:
		result = cmp >= 0
	case opLt:
		result = cmp < 0
	case opLte:
		result = cmp <= 0
	}
	if result {
		return TriTrue
	}
	return TriFalse
}

type betweenExpr struct {
	path   string
	lo, hi any
}

// Eval checks the closed interval [lo, hi].
func (e betweenExpr) Eval(attrs Attributes) Tri {
	actual, ok := attrs[e.path]
	if !ok || actual == nil {
		return TriUndef
	}
	loCmp, okLo := compareOrdered(actual, e.lo)
	hiCmp, okHi := compareOrdered(actual, e.hi)
	if !okLo || !okHi {
		return TriUndef
	}
	if loCmp >= 0 && hiCmp <= 0 {
		return TriTrue
	}
	return TriFalse
}

type existsExpr struct{ path string }

// Eval is always defined: presence is decidable even when nothing else is.
func (e existsExpr) Eval(attrs Attributes) Tri {
	v, ok := attrs[e.path]
	if ok && v != nil {
		return TriTrue
	}
	return TriFalse
}

// caseInsensitivePath reports whether string equality on this path folds
// case. Only userName comparisons are case-insensitive.
func caseInsensitivePath(path string) bool {
	return path == "userName" || strings.HasSuffix(path, ".userName")
}

// equalValues compares an attribute value with a literal. Numbers compare
// numerically across int/float representations; other type mismatches are a
// definite non-match, not undefined, because both sides are present.
func equalValues(actual, expected any, caseInsensitive bool) Tri {
	if an, ok := asNumber(actual); ok {
		if en, ok := asNumber(expected); ok {
			if an == en {
				return TriTrue
			}
			return TriFalse
		}
	}
	switch a := actual.(type) {
	case string:
		e, ok := expected.(string)
		if !ok {
			return TriFalse
		}
		if caseInsensitive {
			if strings.EqualFold(a, e) {
				return TriTrue
			}
			return TriFalse
		}
		if a == e {
			return TriTrue
		}
		return TriFalse
	case bool:
		e, ok := expected.(bool)
		if ok && a == e {
			return TriTrue
		}
		return TriFalse
	default:
		return TriFalse
	}
}

// asNumber converts the numeric representations JSON decoding and Go callers
// produce into a float64.
func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// asList normalizes list-valued attributes to []any.
func asList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}

// minuteOfDay parses "HH:MM" to minutes since midnight.
func minuteOfDay(s string) (int, bool) {
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return 0, false
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

// compareOrdered compares an attribute against a literal for the ordering
// operators. Both sides must be numeric (numbers or numeric strings) or both
// "HH:MM" times; anything else is undecidable. Returns <0, 0, >0.
func compareOrdered(actual, expected any) (int, bool) {
	if as, ok := actual.(string); ok {
		if am, ok := minuteOfDay(as); ok {
			if es, ok := expected.(string); ok {
				if em, ok := minuteOfDay(es); ok {
					return am - em, true
				}
			}
		}
	}
	an, okA := numericValue(actual)
	en, okE := numericValue(expected)
	if !okA || !okE {
		return 0, false
	}
	switch {
	case an < en:
		return -1, true
	case an > en:
		return 1, true
	default:
		return 0, true
	}
}

// numericValue extends asNumber with parseable numeric strings.
func numericValue(v any) (float64, bool) {
	if n, ok := asNumber(v); ok {
		return n, true
	}
	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(s, 64)
		if err == nil {
			return f, true
		}
	}
	return 0, false
}
