package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Ident-Gate/Identgate/internal/domain/scim"
)

// RecordStore implements scim.RecordStore in memory. Used by tests and by
// deployments that opt out of the SQLite file (DB_PATH=":memory:" behaves
// the same but persists for the process only either way).
type RecordStore struct {
	mu     sync.RWMutex
	users  map[string]scim.User
	groups map[string]scim.Group
}

// NewRecordStore creates an empty in-memory record store.
func NewRecordStore() *RecordStore {
	return &RecordStore{
		users:  make(map[string]scim.User),
		groups: make(map[string]scim.Group),
	}
}

// CreateUser adds a user, enforcing case-insensitive userName uniqueness.
func (s *RecordStore) CreateUser(_ context.Context, u *scim.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if strings.EqualFold(existing.UserName, u.UserName) {
			return fmt.Errorf("%w: userName %q already exists", scim.ErrConflict, u.UserName)
		}
	}
	s.users[u.ID] = copyUser(u)
	return nil
}

// GetUser returns a copy of the user with the given id.
func (s *RecordStore) GetUser(_ context.Context, id string) (*scim.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", scim.ErrNotFound, id)
	}
	out := copyUser(&u)
	return &out, nil
}

// GetUserByUserName resolves a user case-insensitively by userName.
func (s *RecordStore) GetUserByUserName(_ context.Context, userName string) (*scim.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if strings.EqualFold(u.UserName, userName) {
			out := copyUser(&u)
			return &out, nil
		}
	}
	return nil, fmt.Errorf("%w: userName %q", scim.ErrNotFound, userName)
}

// ListUsers returns copies of all users in creation-independent order.
func (s *RecordStore) ListUsers(_ context.Context) ([]scim.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]scim.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, copyUser(&u))
	}
	return out, nil
}

// UpdateUser replaces a stored user, keeping userName uniqueness.
func (s *RecordStore) UpdateUser(_ context.Context, u *scim.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[u.ID]; !ok {
		return fmt.Errorf("%w: user %s", scim.ErrNotFound, u.ID)
	}
	for id, existing := range s.users {
		if id != u.ID && strings.EqualFold(existing.UserName, u.UserName) {
			return fmt.Errorf("%w: userName %q already exists", scim.ErrConflict, u.UserName)
		}
	}
	s.users[u.ID] = copyUser(u)
	return nil
}

// DeleteUser removes a user.
func (s *RecordStore) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[id]; !ok {
		return fmt.Errorf("%w: user %s", scim.ErrNotFound, id)
	}
	delete(s.users, id)
	return nil
}

// CreateGroup adds a group, enforcing displayName uniqueness.
func (s *RecordStore) CreateGroup(_ context.Context, g *scim.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.groups {
		if existing.DisplayName == g.DisplayName {
			return fmt.Errorf("%w: displayName %q already exists", scim.ErrConflict, g.DisplayName)
		}
	}
	s.groups[g.ID] = copyGroup(g)
	return nil
}

// GetGroup returns a copy of the group with the given id.
func (s *RecordStore) GetGroup(_ context.Context, id string) (*scim.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.groups[id]
	if !ok {
		return nil, fmt.Errorf("%w: group %s", scim.ErrNotFound, id)
	}
	out := copyGroup(&g)
	return &out, nil
}

// GetGroupByDisplayName resolves a group by its exact displayName.
func (s *RecordStore) GetGroupByDisplayName(_ context.Context, displayName string) (*scim.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, g := range s.groups {
		if g.DisplayName == displayName {
			out := copyGroup(&g)
			return &out, nil
		}
	}
	return nil, fmt.Errorf("%w: displayName %q", scim.ErrNotFound, displayName)
}

// ListGroups returns copies of all groups.
func (s *RecordStore) ListGroups(_ context.Context) ([]scim.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]scim.Group, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, copyGroup(&g))
	}
	return out, nil
}

// UpdateGroup replaces a stored group, keeping displayName uniqueness.
func (s *RecordStore) UpdateGroup(_ context.Context, g *scim.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[g.ID]; !ok {
		return fmt.Errorf("%w: group %s", scim.ErrNotFound, g.ID)
	}
	for id, existing := range s.groups {
		if id != g.ID && existing.DisplayName == g.DisplayName {
			return fmt.Errorf("%w: displayName %q already exists", scim.ErrConflict, g.DisplayName)
		}
	}
	s.groups[g.ID] = copyGroup(g)
	return nil
}

// DeleteGroup removes a group.
func (s *RecordStore) DeleteGroup(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[id]; !ok {
		return fmt.Errorf("%w: group %s", scim.ErrNotFound, id)
	}
	delete(s.groups, id)
	return nil
}

// Ping always succeeds for the in-memory store.
func (s *RecordStore) Ping(_ context.Context) error { return nil }

// Close is a no-op for the in-memory store.
func (s *RecordStore) Close() error { return nil }

// copyUser returns an owned copy with cloned slices.
func copyUser(u *scim.User) scim.User {
	out := *u
	out.Schemas = append([]string(nil), u.Schemas...)
	out.Emails = append([]scim.Email(nil), u.Emails...)
	out.Groups = append([]string(nil), u.Groups...)
	if u.Name != nil {
		name := *u.Name
		out.Name = &name
	}
	return out
}

// copyGroup returns an owned copy with cloned slices.
func copyGroup(g *scim.Group) scim.Group {
	out := *g
	out.Schemas = append([]string(nil), g.Schemas...)
	out.Members = append([]scim.Member(nil), g.Members...)
	return out
}

// Compile-time interface verification.
var _ scim.RecordStore = (*RecordStore)(nil)
