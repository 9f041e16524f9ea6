package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Ident-Gate/Identgate/internal/domain/scim"
	"github.com/Ident-Gate/Identgate/internal/domain/token"
)

// CreateUserRequest is the provisioning payload for a new user.
type CreateUserRequest struct {
	UserName  string       `json:"userName"`
	Name      *scim.Name   `json:"name,omitempty"`
	Emails    []scim.Email `json:"emails,omitempty"`
	Active    *bool        `json:"active,omitempty"`
	Dept      string       `json:"dept,omitempty"`
	RiskScore float64      `json:"riskScore,omitempty"`
	Groups    []string     `json:"groups,omitempty"`
	Password  string       `json:"password,omitempty"`
}

// UserPatch carries the partial fields a PATCH may change. Pointer fields
// distinguish "absent" from zero values.
type UserPatch struct {
	Active    *bool        `json:"active,omitempty"`
	Dept      *string      `json:"dept,omitempty"`
	RiskScore *float64     `json:"riskScore,omitempty"`
	Emails    []scim.Email `json:"emails,omitempty"`
	Groups    []string     `json:"groups,omitempty"`
}

// ScimUserService implements the user provisioning operations.
type ScimUserService struct {
	store  scim.UserStore
	logger *slog.Logger

	// now is swapped in tests to pin meta timestamps.
	now func() time.Time
}

// NewScimUserService creates a ScimUserService.
func NewScimUserService(store scim.UserStore, logger *slog.Logger) *ScimUserService {
	return &ScimUserService{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Create validates and persists a new user resource. A duplicate userName
// surfaces as scim.ErrConflict from the store.
func (s *ScimUserService) Create(ctx context.Context, req CreateUserRequest) (*scim.User, error) {
	if err := scim.ValidateUserName(req.UserName); err != nil {
		return nil, err
	}
	if err := scim.ValidateEmails(req.Emails); err != nil {
		return nil, err
	}
	if err := scim.ValidateRiskScore(req.RiskScore); err != nil {
		return nil, err
	}

	var verifier string
	if req.Password != "" {
		var err error
		verifier, err = token.HashPassword(req.Password)
		if err != nil {
			return nil, fmt.Errorf("hashing password: %w", err)
		}
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	now := s.now().UTC()
	u := &scim.User{
		Schemas:          []string{scim.SchemaUser},
		ID:               scim.NewUserID(),
		UserName:         req.UserName,
		Name:             req.Name,
		Emails:           req.Emails,
		Active:           active,
		Dept:             req.Dept,
		RiskScore:        req.RiskScore,
		Groups:           req.Groups,
		PasswordVerifier: verifier,
		Meta: scim.Meta{
			ResourceType: "User",
			Created:      now,
			LastModified: now,
		},
	}
	u.Meta.Location = "/scim/v2/Users/" + u.ID

	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}

	s.logger.Info("user created", "id", u.ID, "userName", u.UserName)
	return u, nil
}

// Get fetches a user by id.
func (s *ScimUserService) Get(ctx context.Context, id string) (*scim.User, error) {
	return s.store.GetUser(ctx, id)
}

// List returns users matching the optional filter, wrapped in the SCIM
// list envelope.
func (s *ScimUserService) List(ctx context.Context, rawFilter string) (*scim.ListResponse, error) {
	filter, err := scim.ParseFilter(rawFilter)
	if err != nil {
		return nil, err
	}

	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}

	matched := make([]scim.User, 0, len(users))
	for _, u := range users {
		if filter != nil {
			ok, err := filter.Matches(u)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		matched = append(matched, u)
	}

	resp := scim.NewListResponse(len(matched), matched)
	return &resp, nil
}

// Patch applies a partial update and bumps meta.lastModified.
func (s *ScimUserService) Patch(ctx context.Context, id string, patch UserPatch) (*scim.User, error) {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Emails != nil {
		if err := scim.ValidateEmails(patch.Emails); err != nil {
			return nil, err
		}
		u.Emails = patch.Emails
	}
	if patch.Active != nil {
		u.Active = *patch.Active
	}
	if patch.Dept != nil {
		u.Dept = *patch.Dept
	}
	if patch.RiskScore != nil {
		if err := scim.ValidateRiskScore(*patch.RiskScore); err != nil {
			return nil, err
		}
		u.RiskScore = *patch.RiskScore
	}
	if patch.Groups != nil {
		u.Groups = patch.Groups
	}
	u.Meta.LastModified = s.now().UTC()

	if err := s.store.UpdateUser(ctx, u); err != nil {
		return nil, err
	}

	s.logger.Info("user patched", "id", u.ID)
	return u, nil
}

// Delete removes a user. Groups referencing it are cleaned up lazily by the
// group service on read and write.
func (s *ScimUserService) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteUser(ctx, id); err != nil {
		return err
	}
	s.logger.Info("user deleted", "id", id)
	return nil
}
