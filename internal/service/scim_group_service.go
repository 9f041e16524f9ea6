package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Ident-Gate/Identgate/internal/domain/scim"
)

// CreateGroupRequest is the provisioning payload for a new group.
type CreateGroupRequest struct {
	DisplayName string        `json:"displayName"`
	Members     []scim.Member `json:"members,omitempty"`
}

// GroupPatch replaces the members list when non-nil.
type GroupPatch struct {
	Members []scim.Member `json:"members,omitempty"`
}

// ScimGroupService implements the group provisioning operations. Member
// references to deleted users are pruned lazily: reads never return a
// dangling reference, and the pruned list is persisted on the next write to
// that group.
type ScimGroupService struct {
	groups scim.GroupStore
	users  scim.UserStore
	logger *slog.Logger

	now func() time.Time
}

// NewScimGroupService creates a ScimGroupService.
func NewScimGroupService(groups scim.GroupStore, users scim.UserStore, logger *slog.Logger) *ScimGroupService {
	return &ScimGroupService{
		groups: groups,
		users:  users,
		logger: logger,
		now:    time.Now,
	}
}

// Create validates and persists a new group. Every member must reference an
// existing user; a duplicate displayName surfaces as scim.ErrConflict.
func (s *ScimGroupService) Create(ctx context.Context, req CreateGroupRequest) (*scim.Group, error) {
	if req.DisplayName == "" {
		return nil, fmt.Errorf("%w: displayName is required", scim.ErrInvalidResource)
	}

	members, err := s.resolveMembers(ctx, req.Members)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	g := &scim.Group{
		Schemas:     []string{scim.SchemaGroup},
		ID:          scim.NewGroupID(),
		DisplayName: req.DisplayName,
		Members:     members,
		Meta: scim.Meta{
			ResourceType: "Group",
			Created:      now,
			LastModified: now,
		},
	}
	g.Meta.Location = "/scim/v2/Groups/" + g.ID

	if err := s.groups.CreateGroup(ctx, g); err != nil {
		return nil, err
	}

	s.logger.Info("group created", "id", g.ID, "displayName", g.DisplayName)
	return g, nil
}

// Get fetches a group by id with dangling members pruned from the view.
func (s *ScimGroupService) Get(ctx context.Context, id string) (*scim.Group, error) {
	g, err := s.groups.GetGroup(ctx, id)
	if err != nil {
		return nil, err
	}
	g.Members = s.pruneDangling(ctx, g.Members)
	return g, nil
}

// List returns groups matching the optional filter, with dangling members
// pruned from each view.
func (s *ScimGroupService) List(ctx context.Context, rawFilter string) (*scim.ListResponse, error) {
	filter, err := scim.ParseFilter(rawFilter)
	if err != nil {
		return nil, err
	}

	groups, err := s.groups.ListGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing groups: %w", err)
	}

	matched := make([]scim.Group, 0, len(groups))
	for _, g := range groups {
		if filter != nil {
			ok, err := filter.MatchesGroup(g)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		g.Members = s.pruneDangling(ctx, g.Members)
		matched = append(matched, g)
	}

	resp := scim.NewListResponse(len(matched), matched)
	return &resp, nil
}

// Patch replaces the members list. The write also persists any lazy
// dangling-member cleanup.
func (s *ScimGroupService) Patch(ctx context.Context, id string, patch GroupPatch) (*scim.Group, error) {
	g, err := s.groups.GetGroup(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Members != nil {
		members, err := s.resolveMembers(ctx, patch.Members)
		if err != nil {
			return nil, err
		}
		g.Members = members
	} else {
		g.Members = s.pruneDangling(ctx, g.Members)
	}
	g.Meta.LastModified = s.now().UTC()

	if err := s.groups.UpdateGroup(ctx, g); err != nil {
		return nil, err
	}

	s.logger.Info("group patched", "id", g.ID)
	return g, nil
}

// AddMember appends one member, keeping member values unique.
func (s *ScimGroupService) AddMember(ctx context.Context, groupID string, member scim.Member) (*scim.Group, error) {
	g, err := s.groups.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	u, err := s.users.GetUser(ctx, member.Value)
	if err != nil {
		if errors.Is(err, scim.ErrNotFound) {
			return nil, fmt.Errorf("%w: user %s", scim.ErrUnknownMember, member.Value)
		}
		return nil, err
	}
	if member.Display == "" {
		member.Display = u.UserName
	}

	members := s.pruneDangling(ctx, g.Members)
	for _, m := range members {
		if m.Value == member.Value {
			// Idempotent: adding an existing member changes nothing.
			g.Members = members
			return g, nil
		}
	}
	g.Members = append(members, member)
	g.Meta.LastModified = s.now().UTC()

	if err := s.groups.UpdateGroup(ctx, g); err != nil {
		return nil, err
	}

	s.logger.Info("group member added", "group", g.ID, "member", member.Value)
	return g, nil
}

// RemoveMember removes one member by user id.
func (s *ScimGroupService) RemoveMember(ctx context.Context, groupID, userID string) (*scim.Group, error) {
	g, err := s.groups.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	members := s.pruneDangling(ctx, g.Members)
	found := false
	kept := members[:0]
	for _, m := range members {
		if m.Value == userID {
			found = true
			continue
		}
		kept = append(kept, m)
	}
	if !found {
		return nil, fmt.Errorf("%w: member %s", scim.ErrNotFound, userID)
	}
	g.Members = kept
	g.Meta.LastModified = s.now().UTC()

	if err := s.groups.UpdateGroup(ctx, g); err != nil {
		return nil, err
	}

	s.logger.Info("group member removed", "group", g.ID, "member", userID)
	return g, nil
}

// Delete removes a group.
func (s *ScimGroupService) Delete(ctx context.Context, id string) error {
	if err := s.groups.DeleteGroup(ctx, id); err != nil {
		return err
	}
	s.logger.Info("group deleted", "id", id)
	return nil
}

// resolveMembers verifies each member references an existing user, fills in
// missing display names, and de-duplicates by value (first wins).
func (s *ScimGroupService) resolveMembers(ctx context.Context, members []scim.Member) ([]scim.Member, error) {
	out := make([]scim.Member, 0, len(members))
	seen := make(map[string]struct{}, len(members))
	for _, m := range members {
		if _, dup := seen[m.Value]; dup {
			continue
		}
		u, err := s.users.GetUser(ctx, m.Value)
		if err != nil {
			if errors.Is(err, scim.ErrNotFound) {
				return nil, fmt.Errorf("%w: user %s", scim.ErrUnknownMember, m.Value)
			}
			return nil, err
		}
		if m.Display == "" {
			m.Display = u.UserName
		}
		seen[m.Value] = struct{}{}
		out = append(out, m)
	}
	return out, nil
}

// pruneDangling drops members whose user no longer exists. Store errors
// other than not-found keep the member; pruning is an optimization, not a
// correctness gate.
func (s *ScimGroupService) pruneDangling(ctx context.Context, members []scim.Member) []scim.Member {
	kept := make([]scim.Member, 0, len(members))
	for _, m := range members {
		if _, err := s.users.GetUser(ctx, m.Value); errors.Is(err, scim.ErrNotFound) {
			continue
		}
		kept = append(kept, m)
	}
	return kept
}
