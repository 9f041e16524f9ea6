package scim

import "context"

// UserStore persists User resources. Implementations return ErrNotFound for
// unknown ids and ErrConflict for userName collisions, and must hand back
// owned copies the caller may mutate.
type UserStore interface {
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	// GetUserByUserName resolves case-insensitively.
	GetUserByUserName(ctx context.Context, userName string) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
	UpdateUser(ctx context.Context, u *User) error
	DeleteUser(ctx context.Context, id string) error
}

// GroupStore persists Group resources, with displayName uniqueness.
type GroupStore interface {
	CreateGroup(ctx context.Context, g *Group) error
	GetGroup(ctx context.Context, id string) (*Group, error)
	GetGroupByDisplayName(ctx context.Context, displayName string) (*Group, error)
	ListGroups(ctx context.Context) ([]Group, error)
	UpdateGroup(ctx context.Context, g *Group) error
	DeleteGroup(ctx context.Context, id string) error
}

// RecordStore is the combined persistence contract the services depend on.
type RecordStore interface {
	UserStore
	GroupStore
	// Ping reports storage health for the readiness endpoint.
	Ping(ctx context.Context) error
	// Close releases the underlying storage.
	Close() error
}
