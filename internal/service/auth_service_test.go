package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Ident-Gate/Identgate/internal/adapter/outbound/memory"
	"github.com/Ident-Gate/Identgate/internal/domain/token"
)

func newTokenService(t *testing.T) *token.Service {
	t.Helper()
	svc, err := token.NewService(token.Config{
		Algorithm: token.AlgHS256,
		Secret:    []byte("test-secret"),
		TTL:       30 * time.Minute,
	})
	if err != nil {
		t.Fatalf("token.NewService failed: %v", err)
	}
	return svc
}

func seededAuthService(t *testing.T) (*AuthService, *memory.RecordStore, *token.Service) {
	t.Helper()
	store := memory.NewRecordStore()
	if err := SeedRecords(context.Background(), store, discardLogger()); err != nil {
		t.Fatalf("SeedRecords failed: %v", err)
	}
	tokens := newTokenService(t)
	auth := NewAuthService(store, tokens, DefaultClients(), discardLogger())
	return auth, store, tokens
}

func TestPasswordGrantIssuesToken(t *testing.T) {
	auth, store, tokens := seededAuthService(t)

	resp, err := auth.PasswordGrant(context.Background(), "mrios", "admin_pass")
	if err != nil {
		t.Fatalf("PasswordGrant failed: %v", err)
	}
	if resp.TokenType != "Bearer" {
		t.Errorf("token_type = %s, want Bearer", resp.TokenType)
	}
	if resp.ExpiresIn <= 0 {
		t.Errorf("expires_in = %d, want positive", resp.ExpiresIn)
	}

	claims, err := tokens.Validate(resp.AccessToken)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	u, err := store.GetUserByUserName(context.Background(), "mrios")
	if err != nil {
		t.Fatalf("GetUserByUserName failed: %v", err)
	}
	if claims.Subject != u.ID {
		t.Errorf("sub = %s, want %s", claims.Subject, u.ID)
	}
	if len(claims.Groups) != 1 || claims.Groups[0] != "ADMINS" {
		t.Errorf("groups = %v, want [ADMINS]", claims.Groups)
	}
	if claims.Dept != "IT" || claims.RiskScore != 15 {
		t.Errorf("dept = %s riskScore = %v", claims.Dept, claims.RiskScore)
	}
}

func TestPasswordGrantRejections(t *testing.T) {
	auth, store, _ := seededAuthService(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		username string
		password string
	}{
		{"unknown user", "ghost", "whatever"},
		{"wrong password", "jdoe", "not-the-password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := auth.PasswordGrant(ctx, tt.username, tt.password); !errors.Is(err, token.ErrBadCredentials) {
				t.Errorf("error = %v, want ErrBadCredentials", err)
			}
		})
	}

	// Deactivated users are indistinguishable from bad credentials.
	u, err := store.GetUserByUserName(ctx, "jdoe")
	if err != nil {
		t.Fatalf("GetUserByUserName failed: %v", err)
	}
	u.Active = false
	if err := store.UpdateUser(ctx, u); err != nil {
		t.Fatalf("UpdateUser failed: %v", err)
	}
	if _, err := auth.PasswordGrant(ctx, "jdoe", "password123"); !errors.Is(err, token.ErrBadCredentials) {
		t.Errorf("inactive user error = %v, want ErrBadCredentials", err)
	}
}

func TestClientCredentialsGrant(t *testing.T) {
	auth, _, tokens := seededAuthService(t)
	ctx := context.Background()

	resp, err := auth.ClientCredentialsGrant(ctx, "test_client", "test_secret", "")
	if err != nil {
		t.Fatalf("ClientCredentialsGrant failed: %v", err)
	}
	if resp.Scope != "read" {
		t.Errorf("default scope = %q, want read", resp.Scope)
	}
	claims, err := tokens.Validate(resp.AccessToken)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if claims.Subject != "test_client" {
		t.Errorf("sub = %s, want test_client", claims.Subject)
	}

	if _, err := auth.ClientCredentialsGrant(ctx, "test_client", "wrong", ""); !errors.Is(err, token.ErrBadCredentials) {
		t.Errorf("wrong secret error = %v, want ErrBadCredentials", err)
	}
	if _, err := auth.ClientCredentialsGrant(ctx, "nobody", "x", ""); !errors.Is(err, token.ErrBadCredentials) {
		t.Errorf("unknown client error = %v, want ErrBadCredentials", err)
	}
}

func TestClientCredentialsScopeNarrowing(t *testing.T) {
	auth, _, _ := seededAuthService(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		client    string
		secret    string
		requested string
		want      string
	}{
		{"intersection", "hr_app", "hr_secret_2024", "read hr:payroll admin", "read hr:payroll"},
		{"full overlap", "test_client", "test_secret", "write read", "write read"},
		{"no overlap falls back to default", "test_client", "test_secret", "admin", "read"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := auth.ClientCredentialsGrant(ctx, tt.client, tt.secret, tt.requested)
			if err != nil {
				t.Fatalf("ClientCredentialsGrant failed: %v", err)
			}
			if resp.Scope != tt.want {
				t.Errorf("scope = %q, want %q", resp.Scope, tt.want)
			}
		})
	}
}

func TestSeedRecordsIdempotent(t *testing.T) {
	store := memory.NewRecordStore()
	ctx := context.Background()

	if err := SeedRecords(ctx, store, discardLogger()); err != nil {
		t.Fatalf("first seed failed: %v", err)
	}
	if err := SeedRecords(ctx, store, discardLogger()); err != nil {
		t.Fatalf("second seed failed: %v", err)
	}

	users, err := store.ListUsers(ctx)
	if err != nil {
		t.Fatalf("ListUsers failed: %v", err)
	}
	if len(users) != 3 {
		t.Errorf("seeded %d users, want 3", len(users))
	}
	groups, err := store.ListGroups(ctx)
	if err != nil {
		t.Fatalf("ListGroups failed: %v", err)
	}
	if len(groups) != 3 {
		t.Errorf("seeded %d groups, want 3", len(groups))
	}
}
