package postgres

import (
	"testing"

	"github.com/dhawalhost/provgate/internal/store"
)

func TestGroupSetClauses(t *testing.T) {
	patch := store.Resource{
		"displayName": "Engineering",
		"schemas":     []any{"urn:ietf:params:scim:schemas:core:2.0:Group"},
		"members":     []any{map[string]any{"value": "u1"}},
		"unknownAttr": "x",
	}

	setClauses, args := groupSetClauses(patch)
	if len(setClauses) != 2 || len(args) != 2 {
		t.Fatalf("got %d clauses %v, %d args", len(setClauses), setClauses, len(args))
	}

	// Map iteration order varies, so index args by clause.
	byClause := map[string]any{}
	for i, clause := range setClauses {
		byClause[clause] = args[i]
	}
	if byClause[`"displayName" = ?`] != "Engineering" {
		t.Errorf("displayName arg = %v", byClause[`"displayName" = ?`])
	}
	schemasArg, ok := byClause[`"schemas" = ?`].([]byte)
	if !ok || string(schemasArg) != `["urn:ietf:params:scim:schemas:core:2.0:Group"]` {
		t.Errorf("schemas arg = %v", byClause[`"schemas" = ?`])
	}
}

func TestGroupSetClausesEmpty(t *testing.T) {
	setClauses, args := groupSetClauses(store.Resource{"members": []any{}})
	if len(setClauses) != 0 || len(args) != 0 {
		t.Errorf("got %v, %v", setClauses, args)
	}
}
