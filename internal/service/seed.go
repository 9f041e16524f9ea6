package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Ident-Gate/Identgate/internal/domain/scim"
	"github.com/Ident-Gate/Identgate/internal/domain/token"
)

// seedUser is one development principal created on first startup.
type seedUser struct {
	userName  string
	password  string
	given     string
	family    string
	dept      string
	group     string
	riskScore float64
}

// seedUsers are the development principals. Passwords are hashed at seed
// time; they exist so a fresh instance is usable without provisioning.
var seedUsers = []seedUser{
	{userName: "jdoe", password: "password123", given: "Juan", family: "Doe",
		dept: "HR", group: "HR_READERS", riskScore: 20},
	{userName: "agonzalez", password: "finance2024", given: "Ana", family: "Gonzalez",
		dept: "Finance", group: "FIN_APPROVERS", riskScore: 30},
	{userName: "mrios", password: "admin_pass", given: "Maria", family: "Rios",
		dept: "IT", group: "ADMINS", riskScore: 15},
}

// DefaultClients are the development clients for the client_credentials
// grant.
func DefaultClients() []Client {
	return []Client{
		{ID: "test_client", Secret: "test_secret", Scopes: []string{"read", "write"}},
		{ID: "hr_app", Secret: "hr_secret_2024", Scopes: []string{"read", "write", "hr:payroll"}},
	}
}

// SeedRecords populates the record store with the development users and
// their groups. It is a no-op when any user already exists, so restarts
// never clobber provisioned data.
func SeedRecords(ctx context.Context, store scim.RecordStore, logger *slog.Logger) error {
	existing, err := store.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("checking for existing users: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	now := time.Now().UTC()
	for _, seed := range seedUsers {
		verifier, err := token.HashPassword(seed.password)
		if err != nil {
			return fmt.Errorf("hashing seed password for %s: %w", seed.userName, err)
		}

		u := &scim.User{
			Schemas:          []string{scim.SchemaUser},
			ID:               scim.NewUserID(),
			UserName:         seed.userName,
			Name:             &scim.Name{GivenName: seed.given, FamilyName: seed.family, Formatted: seed.given + " " + seed.family},
			Emails:           []scim.Email{{Value: seed.userName + "@example.com", Type: "work", Primary: true}},
			Active:           true,
			Dept:             seed.dept,
			RiskScore:        seed.riskScore,
			Groups:           []string{seed.group},
			PasswordVerifier: verifier,
			Meta: scim.Meta{
				ResourceType: "User",
				Created:      now,
				LastModified: now,
			},
		}
		u.Meta.Location = "/scim/v2/Users/" + u.ID
		if err := store.CreateUser(ctx, u); err != nil {
			return fmt.Errorf("seeding user %s: %w", seed.userName, err)
		}

		g := &scim.Group{
			Schemas:     []string{scim.SchemaGroup},
			ID:          scim.NewGroupID(),
			DisplayName: seed.group,
			Members:     []scim.Member{{Value: u.ID, Display: u.UserName}},
			Meta: scim.Meta{
				ResourceType: "Group",
				Created:      now,
				LastModified: now,
			},
		}
		g.Meta.Location = "/scim/v2/Groups/" + g.ID
		if err := store.CreateGroup(ctx, g); err != nil {
			return fmt.Errorf("seeding group %s: %w", seed.group, err)
		}

		logger.Info("seeded user", "userName", seed.userName, "group", seed.group)
	}
	return nil
}
