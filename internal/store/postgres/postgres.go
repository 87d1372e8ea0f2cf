// Package postgres implements the store contract over PostgreSQL with sqlx.
// Users and groups are relational rows; emails and memberships live in child
// tables and are aggregated into the SCIM resource shape at read time.
package postgres

import (
	"encoding/json"
	"errors"

	"github.com/lib/pq"

	"github.com/dhawalhost/provgate/internal/filter"
	"github.com/dhawalhost/provgate/internal/store"
)

// UserSchemaURI is the SCIM core User schema; any other URI listed in a
// user's schemas carries custom attributes.
const UserSchemaURI = "urn:ietf:params:scim:schemas:core:2.0:User"

// GroupSchemaURI is the SCIM core Group schema.
const GroupSchemaURI = "urn:ietf:params:scim:schemas:core:2.0:Group"

// Attribute maps feed the filter-to-SQL compiler. Values are column
// expressions valid inside the projection queries below; the tables are
// always joined, so child-table columns are addressable from a user or
// group filter.
var userAttrMap = filter.AttrMap{
	{Attr: "id"}:                     `users.id`,
	{Attr: "username"}:               `users."userName"`,
	{Attr: "displayname"}:            `users."displayName"`,
	{Attr: "externalid"}:             `users."externalId"`,
	{Attr: "active"}:                 `users.active`,
	{Attr: "locale"}:                 `users.locale`,
	{Attr: "name"}:                   `users.name->>'formatted'`,
	{Attr: "name", Sub: "formatted"}: `users.name->>'formatted'`,
	{Attr: "emails"}:                 `user_emails.value`,
	{Attr: "emails", Sub: "value"}:   `user_emails.value`,
	{Attr: "value"}:                  `users_groups."userId"`,
}

var groupAttrMap = filter.AttrMap{
	{Attr: "id"}:                     `groups.id`,
	{Attr: "displayname"}:            `groups."displayName"`,
	{Attr: "members"}:                `users_groups."userId"`,
	{Attr: "members", Sub: "value"}:  `users_groups."userId"`,
	{Attr: "members", Sub: "display"}: `users."userName"`,
}

// wrapBackend converts driver failures into the store error taxonomy.
// Unique-constraint violations become ErrAlreadyExists; everything else is a
// BackendError so pq types never leak to the handlers.
func wrapBackend(op, kind, id string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return store.AlreadyExistsError(kind, id)
	}
	return &store.BackendError{Op: op, Err: err}
}

const uniqueViolation = "23505"

// decodeObjects unmarshals a JSON array aggregate, dropping null elements
// and elements whose marker key is null. Outer joins contribute a
// one-element array of nulls for childless parents and repeat child rows
// across join combinations, so the result is deduplicated and never null.
func decodeObjects(raw []byte, markerKey string) []any {
	out := make([]any, 0)
	if len(raw) == 0 {
		return out
	}
	var decoded []map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return out
	}
	seen := make(map[string]bool, len(decoded))
	for _, elem := range decoded {
		if elem == nil || elem[markerKey] == nil {
			continue
		}
		key := string(mustJSON(elem))
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, map[string]any(elem))
	}
	return out
}

func decodeJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

func mustJSON(v any) []byte {
	if v == nil {
		return []byte("null")
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return []byte("null")
	}
	return raw
}
