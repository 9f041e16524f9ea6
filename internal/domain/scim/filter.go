package scim

import (
	"fmt"
	"strings"
)

// Filter is a parsed SCIM filter. Only exact equality on a single attribute
// is supported: `userName eq "jdoe"`.
type Filter struct {
	Attribute string
	Value     string
}

// ParseFilter parses the supported filter grammar. An empty filter string
// returns a nil filter (list everything). Anything beyond a single `eq`
// comparison is ErrBadFilter.
func ParseFilter(raw string) (*Filter, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	fields := strings.SplitN(raw, " ", 3)
	if len(fields) != 3 {
		return nil, fmt.Errorf("%w: expected `attribute eq \"value\"`, got %q", ErrBadFilter, raw)
	}

	attr, op, lit := fields[0], fields[1], strings.TrimSpace(fields[2])
	if !strings.EqualFold(op, "eq") {
		return nil, fmt.Errorf("%w: unsupported operator %q", ErrBadFilter, op)
	}
	if len(lit) < 2 || lit[0] != '"' || lit[len(lit)-1] != '"' {
		return nil, fmt.Errorf("%w: value must be a double-quoted string", ErrBadFilter)
	}
	value := lit[1 : len(lit)-1]
	if strings.Contains(value, `"`) {
		return nil, fmt.Errorf("%w: value must be a single double-quoted string", ErrBadFilter)
	}

	return &Filter{Attribute: attr, Value: value}, nil
}

// Matches reports whether the user satisfies the filter. userName comparison
// is case-insensitive, mirroring the policy evaluator.
func (f *Filter) Matches(u User) (bool, error) {
	switch f.Attribute {
	case "userName":
		return strings.EqualFold(u.UserName, f.Value), nil
	case "id":
		return u.ID == f.Value, nil
	default:
		return false, fmt.Errorf("%w: unsupported attribute %q", ErrBadFilter, f.Attribute)
	}
}

// MatchesGroup reports whether the group satisfies the filter.
func (f *Filter) MatchesGroup(g Group) (bool, error) {
	switch f.Attribute {
	case "displayName":
		return g.DisplayName == f.Value, nil
	case "id":
		return g.ID == f.Value, nil
	default:
		return false, fmt.Errorf("%w: unsupported attribute %q", ErrBadFilter, f.Attribute)
	}
}
