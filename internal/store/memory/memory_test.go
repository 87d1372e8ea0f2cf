package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/dhawalhost/provgate/internal/store"
)

func newUserStore() *Memory {
	return New("User", WithUniqueAttr("userName"))
}

func newGroupStore() *Memory {
	return New("Group", WithUniqueAttr("displayName"), WithNestedStore("members"))
}

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	users := newUserStore()

	created, err := users.Create(ctx, store.Resource{"userName": "bjensen", "active": true})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	id, _ := created["id"].(string)
	if id == "" {
		t.Fatal("Create did not assign an id")
	}

	got, err := users.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got["userName"] != "bjensen" {
		t.Errorf("userName = %v", got["userName"])
	}

	if _, err := users.GetByID(ctx, "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateUniqueness(t *testing.T) {
	ctx := context.Background()
	users := newUserStore()

	if _, err := users.Create(ctx, store.Resource{"userName": "bjensen"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	// Uniqueness is case-insensitive.
	_, err := users.Create(ctx, store.Resource{"userName": "BJensen"})
	if !errors.Is(err, store.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}

	if _, err := users.Create(ctx, store.Resource{"id": "fixed", "userName": "a"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	_, err = users.Create(ctx, store.Resource{"id": "fixed", "userName": "b"})
	if !errors.Is(err, store.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists for duplicate id, got %v", err)
	}
}

func TestCreateStripsPassword(t *testing.T) {
	ctx := context.Background()
	users := newUserStore()

	created, err := users.Create(ctx, store.Resource{"userName": "x", "password": "hunter2"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, ok := created["password"]; ok {
		t.Error("password must not survive Create")
	}
	got, _ := users.GetByID(ctx, created["id"].(string))
	if _, ok := got["password"]; ok {
		t.Error("password must not survive GetByID")
	}
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	users := newUserStore()
	created, _ := users.Create(ctx, store.Resource{"userName": "bjensen", "active": true})
	id := created["id"].(string)

	updated, err := users.Update(ctx, id, store.Resource{
		"id":     "hijack",
		"active": false,
		"groups": []any{map[string]any{"value": "g1"}},
		"locale": "de-DE",
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated["id"] != id {
		t.Errorf("id changed to %v", updated["id"])
	}
	if updated["active"] != false || updated["locale"] != "de-DE" {
		t.Errorf("attributes not merged: %v", updated)
	}
	if _, ok := updated["groups"]; ok {
		t.Error("groups is derived and must not be writable")
	}
	// Untouched attributes survive the merge.
	if updated["userName"] != "bjensen" {
		t.Errorf("userName = %v", updated["userName"])
	}

	if _, err := users.Update(ctx, "nope", store.Resource{}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	users := newUserStore()
	created, _ := users.Create(ctx, store.Resource{"userName": "x"})
	id := created["id"].(string)

	if err := users.Delete(ctx, id); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := users.GetByID(ctx, id); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := users.Delete(ctx, id); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second delete should be ErrNotFound, got %v", err)
	}
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	users := newUserStore()
	for _, name := range []string{"alice", "bob", "carol"} {
		active := name != "bob"
		if _, err := users.Create(ctx, store.Resource{"userName": name, "active": active}); err != nil {
			t.Fatalf("Create(%s) failed: %v", name, err)
		}
	}

	results, total, err := users.Search(ctx, `active eq true`, 1, 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if total != 2 || len(results) != 2 {
		t.Errorf("total = %d, len = %d, want 2", total, len(results))
	}

	results, total, err = users.Search(ctx, `userName eq "ALICE"`, 1, 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if total != 1 {
		t.Errorf("case-insensitive match failed, total = %d", total)
	}
	_ = results

	if _, _, err := users.Search(ctx, `userName eq`, 1, 10); err == nil {
		t.Error("malformed filter should fail")
	}
}

// Pages partition the result set: no overlap, no gap, constant total.
func TestSearchPagination(t *testing.T) {
	ctx := context.Background()
	users := newUserStore()
	const n = 7
	for i := 0; i < n; i++ {
		if _, err := users.Create(ctx, store.Resource{"userName": string(rune('a' + i))}); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	seen := map[string]bool{}
	for start := 1; ; start += 3 {
		page, total, err := users.Search(ctx, "", start, 3)
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		if total != n {
			t.Errorf("total = %d, want %d", total, n)
		}
		if len(page) == 0 {
			break
		}
		for _, r := range page {
			id := r["id"].(string)
			if seen[id] {
				t.Errorf("id %s returned twice", id)
			}
			seen[id] = true
		}
	}
	if len(seen) != n {
		t.Errorf("pages covered %d resources, want %d", len(seen), n)
	}
}

func TestGroupMembership(t *testing.T) {
	ctx := context.Background()
	groups := newGroupStore()

	created, err := groups.Create(ctx, store.Resource{
		"displayName": "Admins",
		"members": []any{
			map[string]any{"value": "u1", "display": "alice"},
		},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	gid := created["id"].(string)

	if err := groups.AddUserToGroup(ctx, "u2", gid); err != nil {
		t.Fatalf("AddUserToGroup failed: %v", err)
	}
	// Adding an existing member is idempotent.
	if err := groups.AddUserToGroup(ctx, "u2", gid); err != nil {
		t.Fatalf("repeated AddUserToGroup failed: %v", err)
	}

	got, _ := groups.GetByID(ctx, gid)
	if members := got["members"].([]any); len(members) != 2 {
		t.Fatalf("members = %v, want 2 entries", members)
	}

	if err := groups.RemoveUsersFromGroup(ctx, []string{"u1"}, gid); err != nil {
		t.Fatalf("RemoveUsersFromGroup failed: %v", err)
	}
	got, _ = groups.GetByID(ctx, gid)
	members := got["members"].([]any)
	if len(members) != 1 || members[0].(map[string]any)["value"] != "u2" {
		t.Errorf("members = %v, want only u2", members)
	}

	if err := groups.SetGroupMembers(ctx, []string{"u3", "u4"}, gid); err != nil {
		t.Fatalf("SetGroupMembers failed: %v", err)
	}
	got, _ = groups.GetByID(ctx, gid)
	if members := got["members"].([]any); len(members) != 2 {
		t.Errorf("members = %v, want u3 and u4", members)
	}

	if err := groups.AddUserToGroup(ctx, "u1", "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSearchMembers(t *testing.T) {
	ctx := context.Background()
	groups := newGroupStore()
	created, _ := groups.Create(ctx, store.Resource{
		"displayName": "Eng",
		"members": []any{
			map[string]any{"value": "u1", "display": "alice"},
			map[string]any{"value": "u2", "display": "bob"},
		},
	})
	gid := created["id"].(string)

	members, err := groups.SearchMembers(ctx, `value eq "u1"`, gid)
	if err != nil {
		t.Fatalf("SearchMembers failed: %v", err)
	}
	if len(members) != 1 || members[0]["value"] != "u1" {
		t.Errorf("members = %v", members)
	}

	members, err = groups.SearchMembers(ctx, `display sw "b"`, gid)
	if err != nil {
		t.Fatalf("SearchMembers failed: %v", err)
	}
	if len(members) != 1 || members[0]["value"] != "u2" {
		t.Errorf("members = %v", members)
	}

	if _, err := groups.SearchMembers(ctx, `value pr`, "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// Searching groups by membership goes through the materialized member list.
func TestSearchByMember(t *testing.T) {
	ctx := context.Background()
	groups := newGroupStore()
	if _, err := groups.Create(ctx, store.Resource{
		"displayName": "A",
		"members":     []any{map[string]any{"value": "u1"}},
	}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := groups.Create(ctx, store.Resource{"displayName": "B"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	results, total, err := groups.Search(ctx, `members[value eq "u1"]`, 1, 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if total != 1 || results[0]["displayName"] != "A" {
		t.Errorf("results = %v, total = %d", results, total)
	}
}

func TestUpdateReplacesMembers(t *testing.T) {
	ctx := context.Background()
	groups := newGroupStore()
	created, _ := groups.Create(ctx, store.Resource{
		"displayName": "Ops",
		"members":     []any{map[string]any{"value": "u1"}},
	})
	gid := created["id"].(string)

	updated, err := groups.Update(ctx, gid, store.Resource{
		"members": []any{map[string]any{"value": "u9"}},
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	members := updated["members"].([]any)
	if len(members) != 1 || members[0].(map[string]any)["value"] != "u9" {
		t.Errorf("members = %v, want only u9", members)
	}
}
