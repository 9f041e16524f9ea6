package service

import (
	"context"
	"errors"
	"testing"

	"github.com/Ident-Gate/Identgate/internal/adapter/outbound/memory"
	"github.com/Ident-Gate/Identgate/internal/domain/scim"
)

func newGroupService(t *testing.T) (*ScimGroupService, *ScimUserService) {
	t.Helper()
	store := memory.NewRecordStore()
	return NewScimGroupService(store, store, discardLogger()), NewScimUserService(store, discardLogger())
}

func createTestUser(t *testing.T, users *ScimUserService, userName string) *scim.User {
	t.Helper()
	u, err := users.Create(context.Background(), CreateUserRequest{UserName: userName})
	if err != nil {
		t.Fatalf("creating user %s: %v", userName, err)
	}
	return u
}

func TestScimGroupCreate(t *testing.T) {
	groups, users := newGroupService(t)
	ctx := context.Background()
	u := createTestUser(t, users, "jdoe")

	g, err := groups.Create(ctx, CreateGroupRequest{
		DisplayName: "HR_READERS",
		Members:     []scim.Member{{Value: u.ID}},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if g.ID[:4] != "grp_" {
		t.Errorf("id = %q, want grp_ prefix", g.ID)
	}
	if len(g.Members) != 1 || g.Members[0].Display != "jdoe" {
		t.Errorf("members = %+v, want display filled from userName", g.Members)
	}

	if _, err := groups.Create(ctx, CreateGroupRequest{DisplayName: ""}); !errors.Is(err, scim.ErrInvalidResource) {
		t.Errorf("empty displayName error = %v, want ErrInvalidResource", err)
	}
	if _, err := groups.Create(ctx, CreateGroupRequest{DisplayName: "HR_READERS"}); !errors.Is(err, scim.ErrConflict) {
		t.Errorf("duplicate displayName error = %v, want ErrConflict", err)
	}
}

func TestScimGroupCreateUnknownMember(t *testing.T) {
	groups, _ := newGroupService(t)

	_, err := groups.Create(context.Background(), CreateGroupRequest{
		DisplayName: "HR_READERS",
		Members:     []scim.Member{{Value: "usr_deadbeef"}},
	})
	if !errors.Is(err, scim.ErrUnknownMember) {
		t.Errorf("error = %v, want ErrUnknownMember", err)
	}
}

func TestScimGroupDanglingMembersPrunedOnRead(t *testing.T) {
	groups, users := newGroupService(t)
	ctx := context.Background()
	keep := createTestUser(t, users, "jdoe")
	gone := createTestUser(t, users, "agonzalez")

	g, err := groups.Create(ctx, CreateGroupRequest{
		DisplayName: "HR_READERS",
		Members:     []scim.Member{{Value: keep.ID}, {Value: gone.ID}},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := users.Delete(ctx, gone.ID); err != nil {
		t.Fatalf("Delete user failed: %v", err)
	}

	got, err := groups.Get(ctx, g.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got.Members) != 1 || got.Members[0].Value != keep.ID {
		t.Errorf("members = %+v, want only %s", got.Members, keep.ID)
	}

	resp, err := groups.List(ctx, `displayName eq "HR_READERS"`)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	listed := resp.Resources.([]scim.Group)
	if len(listed) != 1 || len(listed[0].Members) != 1 {
		t.Errorf("listed members = %+v, want the dangling reference dropped", listed)
	}
}

func TestScimGroupPatchPersistsPrunedMembers(t *testing.T) {
	groups, users := newGroupService(t)
	ctx := context.Background()
	keep := createTestUser(t, users, "jdoe")
	gone := createTestUser(t, users, "agonzalez")

	g, err := groups.Create(ctx, CreateGroupRequest{
		DisplayName: "HR_READERS",
		Members:     []scim.Member{{Value: keep.ID}, {Value: gone.ID}},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := users.Delete(ctx, gone.ID); err != nil {
		t.Fatalf("Delete user failed: %v", err)
	}

	// A patch without a members list persists the pruned view.
	patched, err := groups.Patch(ctx, g.ID, GroupPatch{})
	if err != nil {
		t.Fatalf("Patch failed: %v", err)
	}
	if len(patched.Members) != 1 {
		t.Errorf("patched members = %+v, want 1", patched.Members)
	}
}

func TestScimGroupAddRemoveMember(t *testing.T) {
	groups, users := newGroupService(t)
	ctx := context.Background()
	u := createTestUser(t, users, "jdoe")

	g, err := groups.Create(ctx, CreateGroupRequest{DisplayName: "HR_READERS"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := groups.AddMember(ctx, g.ID, scim.Member{Value: u.ID})
	if err != nil {
		t.Fatalf("AddMember failed: %v", err)
	}
	if len(got.Members) != 1 {
		t.Fatalf("members = %+v, want 1", got.Members)
	}

	// Adding the same member again is idempotent.
	got, err = groups.AddMember(ctx, g.ID, scim.Member{Value: u.ID})
	if err != nil {
		t.Fatalf("second AddMember failed: %v", err)
	}
	if len(got.Members) != 1 {
		t.Errorf("members after duplicate add = %+v, want 1", got.Members)
	}

	if _, err := groups.AddMember(ctx, g.ID, scim.Member{Value: "usr_deadbeef"}); !errors.Is(err, scim.ErrUnknownMember) {
		t.Errorf("unknown member error = %v, want ErrUnknownMember", err)
	}

	got, err = groups.RemoveMember(ctx, g.ID, u.ID)
	if err != nil {
		t.Fatalf("RemoveMember failed: %v", err)
	}
	if len(got.Members) != 0 {
		t.Errorf("members after remove = %+v, want empty", got.Members)
	}
	if _, err := groups.RemoveMember(ctx, g.ID, u.ID); !errors.Is(err, scim.ErrNotFound) {
		t.Errorf("removing absent member = %v, want ErrNotFound", err)
	}
}

func TestScimGroupDelete(t *testing.T) {
	groups, _ := newGroupService(t)
	ctx := context.Background()

	g, err := groups.Create(ctx, CreateGroupRequest{DisplayName: "HR_READERS"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := groups.Delete(ctx, g.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := groups.Get(ctx, g.ID); !errors.Is(err, scim.ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
}
