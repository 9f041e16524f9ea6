package scim

import (
	"errors"
	"testing"
)

func TestParseFilter(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantAttr string
		wantVal  string
	}{
		{"userName filter", `userName eq "jdoe"`, "userName", "jdoe"},
		{"uppercase operator", `id EQ "usr_12345678"`, "id", "usr_12345678"},
		{"value with spaces", `displayName eq "HR Readers"`, "displayName", "HR Readers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseFilter(tt.raw)
			if err != nil {
				t.Fatalf("ParseFilter(%q) failed: %v", tt.raw, err)
			}
			if f.Attribute != tt.wantAttr || f.Value != tt.wantVal {
				t.Errorf("got %q=%q, want %q=%q", f.Attribute, f.Value, tt.wantAttr, tt.wantVal)
			}
		})
	}
}

func TestParseFilterEmptyMeansNoFilter(t *testing.T) {
	f, err := ParseFilter("  ")
	if err != nil {
		t.Fatalf("ParseFilter failed: %v", err)
	}
	if f != nil {
		t.Errorf("got %+v, want nil filter", f)
	}
}

func TestParseFilterRejectsUnsupported(t *testing.T) {
	tests := []string{
		`userName`,
		`userName eq`,
		`userName co "jdo"`,
		`userName eq jdoe`,
		`userName eq "a" and active eq true`,
	}
	for _, raw := range tests {
		if _, err := ParseFilter(raw); !errors.Is(err, ErrBadFilter) {
			t.Errorf("ParseFilter(%q) error = %v, want ErrBadFilter", raw, err)
		}
	}
}

func TestFilterMatchesUserNameCaseInsensitive(t *testing.T) {
	f, err := ParseFilter(`userName eq "JDoe"`)
	if err != nil {
		t.Fatalf("ParseFilter failed: %v", err)
	}
	ok, err := f.Matches(User{UserName: "jdoe"})
	if err != nil {
		t.Fatalf("Matches failed: %v", err)
	}
	if !ok {
		t.Error("userName match should fold case")
	}

	ok, err = f.Matches(User{UserName: "agonzalez"})
	if err != nil {
		t.Fatalf("Matches failed: %v", err)
	}
	if ok {
		t.Error("different userName must not match")
	}
}

func TestFilterMatchesUnknownAttribute(t *testing.T) {
	f := &Filter{Attribute: "emails", Value: "x"}
	if _, err := f.Matches(User{}); !errors.Is(err, ErrBadFilter) {
		t.Errorf("Matches error = %v, want ErrBadFilter", err)
	}
}

func TestValidateUserName(t *testing.T) {
	for _, ok := range []string{"jdoe", "a.b-c_d", "AB", "user.name-99"} {
		if err := ValidateUserName(ok); err != nil {
			t.Errorf("ValidateUserName(%q) = %v, want nil", ok, err)
		}
	}
	for _, bad := range []string{"", "a", "has space", "tab\tchar", "eml@host", string(make([]byte, 51))} {
		if err := ValidateUserName(bad); !errors.Is(err, ErrInvalidResource) {
			t.Errorf("ValidateUserName(%q) = %v, want ErrInvalidResource", bad, err)
		}
	}
}

func TestValidateRiskScore(t *testing.T) {
	for _, ok := range []float64{0, 20, 100} {
		if err := ValidateRiskScore(ok); err != nil {
			t.Errorf("ValidateRiskScore(%g) = %v, want nil", ok, err)
		}
	}
	for _, bad := range []float64{-5, 100.5, 500} {
		if err := ValidateRiskScore(bad); !errors.Is(err, ErrInvalidResource) {
			t.Errorf("ValidateRiskScore(%g) = %v, want ErrInvalidResource", bad, err)
		}
	}
}

func TestValidateEmails(t *testing.T) {
	ok := []Email{
		{Value: "jdoe@example.com", Type: "work", Primary: true},
		{Value: "jd@home.example.org"},
	}
	if err := ValidateEmails(ok); err != nil {
		t.Errorf("ValidateEmails = %v, want nil", err)
	}

	if err := ValidateEmails([]Email{{Value: "not-an-email"}}); !errors.Is(err, ErrInvalidResource) {
		t.Errorf("bad address error = %v, want ErrInvalidResource", err)
	}

	two := []Email{
		{Value: "a@example.com", Primary: true},
		{Value: "b@example.com", Primary: true},
	}
	if err := ValidateEmails(two); !errors.Is(err, ErrInvalidResource) {
		t.Errorf("two primaries error = %v, want ErrInvalidResource", err)
	}
}

func TestNewIDFormats(t *testing.T) {
	uid := NewUserID()
	gid := NewGroupID()
	if len(uid) != 12 || uid[:4] != "usr_" {
		t.Errorf("user id %q, want usr_<8 hex>", uid)
	}
	if len(gid) != 12 || gid[:4] != "grp_" {
		t.Errorf("group id %q, want grp_<8 hex>", gid)
	}
	if NewUserID() == uid {
		t.Error("ids must be unique")
	}
}
