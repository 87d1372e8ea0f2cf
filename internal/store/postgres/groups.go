package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/dhawalhost/provgate/internal/filter"
	"github.com/dhawalhost/provgate/internal/store"
)

// GroupStore implements store.GroupStore for SCIM groups. Membership rows
// live in users_groups; a group's members and a user's groups are both
// projections of that relation, never stored on the resources themselves.
type GroupStore struct {
	db     *sqlx.DB
	schema string
	logger *zap.Logger
}

// NewGroupStore returns a group store reading and writing the given schema.
func NewGroupStore(db *sqlx.DB, schema string, logger *zap.Logger) *GroupStore {
	if schema == "" {
		schema = "public"
	}
	return &GroupStore{db: db, schema: schema, logger: logger}
}

type groupRow struct {
	ID          string `db:"id"`
	DisplayName string `db:"displayName"`
	Schemas     []byte `db:"schemas"`
	Members     []byte `db:"members"`
}

type groupSearchRow struct {
	groupRow
	Total int `db:"total"`
}

const groupProjection = `
	groups.id, groups."displayName", groups.schemas,
	json_agg(json_build_object(
		'value', users.id,
		'display', users."userName"
	)) AS members`

func (s *GroupStore) fromClause() string {
	return fmt.Sprintf(`FROM %[1]s.groups
	LEFT JOIN %[1]s.users_groups ON groups.id = users_groups."groupId"
	LEFT JOIN %[1]s.users ON users.id = users_groups."userId"`, s.schema)
}

func (s *GroupStore) GetByID(ctx context.Context, id string) (store.Resource, error) {
	query := s.db.Rebind(fmt.Sprintf(
		`SELECT %s %s WHERE groups.id = ? GROUP BY 1,2,3`, groupProjection, s.fromClause()))
	var row groupRow
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFoundError("Group", id)
		}
		return nil, wrapBackend("group get", "Group", id, err)
	}
	return transformGroup(row), nil
}

func (s *GroupStore) Search(ctx context.Context, filterExpr string, startIndex, count int) ([]store.Resource, int, error) {
	where, args := "", []any{}
	if filterExpr != "" {
		expr, err := filter.Parse(filterExpr)
		if err != nil {
			return nil, 0, err
		}
		fragment, fragArgs, err := filter.CompileSQL(expr, groupAttrMap)
		if err != nil {
			return nil, 0, err
		}
		where, args = "WHERE "+fragment, fragArgs
	}
	if startIndex < 1 {
		startIndex = 1
	}

	query := s.db.Rebind(fmt.Sprintf(
		`SELECT %s, count(*) OVER() AS total %s %s GROUP BY 1,2,3 ORDER BY groups.id OFFSET ? LIMIT ?`,
		groupProjection, s.fromClause(), where))
	args = append(args, startIndex-1, count)

	var rows []groupSearchRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, wrapBackend("group search", "Group", "", err)
	}

	groups := make([]store.Resource, 0, len(rows))
	total := 0
	for _, row := range rows {
		groups = append(groups, transformGroup(row.groupRow))
		total = row.Total
	}
	return groups, total, nil
}

func (s *GroupStore) Create(ctx context.Context, resource store.Resource) (store.Resource, error) {
	id, _ := resource["id"].(string)
	if id == "" {
		id = uuid.NewString()
	}
	displayName, _ := resource["displayName"].(string)
	schemas, ok := resource["schemas"].([]any)
	if !ok || len(schemas) == 0 {
		schemas = []any{GroupSchemaURI}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, wrapBackend("group create", "Group", id, err)
	}
	defer tx.Rollback()

	insertGroup := tx.Rebind(fmt.Sprintf(
		`INSERT INTO %s.groups ("id", "displayName", "schemas") VALUES (?, ?, ?)`, s.schema))
	if _, err := tx.ExecContext(ctx, insertGroup, id, displayName, mustJSON(schemas)); err != nil {
		return nil, wrapBackend("group create", "Group", displayName, err)
	}

	if members, ok := resource["members"].([]any); ok && len(members) > 0 {
		if err := insertMembers(ctx, tx, s.schema, id, memberIDs(members)); err != nil {
			return nil, wrapBackend("group create", "Group", displayName, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, wrapBackend("group create", "Group", displayName, err)
	}

	s.logger.Debug("group created", zap.String("id", id))
	return s.GetByID(ctx, id)
}

func (s *GroupStore) Update(ctx context.Context, id string, attrs store.Resource) (store.Resource, error) {
	patch := make(store.Resource, len(attrs))
	for k, v := range attrs {
		patch[k] = v
	}
	delete(patch, "id")

	// A full member list in the patch is a membership replacement, not a
	// column update.
	if members, ok := patch["members"].([]any); ok {
		if err := s.SetGroupMembers(ctx, memberIDs(members), id); err != nil {
			return nil, err
		}
	}
	delete(patch, "members")

	setClauses, args := groupSetClauses(patch)
	if len(setClauses) > 0 {
		query := s.db.Rebind(fmt.Sprintf(
			`UPDATE %s.groups SET %s WHERE id = ?`, s.schema, strings.Join(setClauses, ", ")))
		if _, err := s.db.ExecContext(ctx, query, append(args, id)...); err != nil {
			return nil, wrapBackend("group update", "Group", id, err)
		}
	}
	return s.GetByID(ctx, id)
}

// Columns a group update may project attributes onto; schemas is JSON-shaped
// and marshaled before binding.
var groupColumns = map[string]bool{"displayName": true, "schemas": true}

var groupJSONColumns = map[string]bool{"schemas": true}

func groupSetClauses(patch store.Resource) ([]string, []any) {
	setClauses := []string{}
	args := []any{}
	for col, v := range patch {
		if !groupColumns[col] {
			continue
		}
		setClauses = append(setClauses, fmt.Sprintf(`%q = ?`, col))
		if groupJSONColumns[col] {
			args = append(args, mustJSON(v))
		} else {
			args = append(args, v)
		}
	}
	return setClauses, args
}

func (s *GroupStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return wrapBackend("group delete", "Group", id, err)
	}
	defer tx.Rollback()

	var exists bool
	check := tx.Rebind(fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s.groups WHERE id = ?)`, s.schema))
	if err := tx.GetContext(ctx, &exists, check, id); err != nil {
		return wrapBackend("group delete", "Group", id, err)
	}
	if !exists {
		return store.NotFoundError("Group", id)
	}

	statements := []string{
		fmt.Sprintf(`DELETE FROM %s.users_groups WHERE "groupId" = ?`, s.schema),
		fmt.Sprintf(`DELETE FROM %s.groups WHERE id = ?`, s.schema),
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, tx.Rebind(stmt), id); err != nil {
			return wrapBackend("group delete", "Group", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return wrapBackend("group delete", "Group", id, err)
	}
	s.logger.Debug("group deleted", zap.String("id", id))
	return nil
}

func (s *GroupStore) AddUserToGroup(ctx context.Context, userID, groupID string) error {
	if err := s.requireGroup(ctx, groupID); err != nil {
		return err
	}
	// ON CONFLICT keeps the operation idempotent under concurrent adds.
	query := s.db.Rebind(fmt.Sprintf(
		`INSERT INTO %s.users_groups ("userId", "groupId") VALUES (?, ?) ON CONFLICT DO NOTHING`, s.schema))
	if _, err := s.db.ExecContext(ctx, query, userID, groupID); err != nil {
		return wrapBackend("group add member", "Group", groupID, err)
	}
	return nil
}

func (s *GroupStore) RemoveUsersFromGroup(ctx context.Context, userIDs []string, groupID string) error {
	if err := s.requireGroup(ctx, groupID); err != nil {
		return err
	}
	if len(userIDs) == 0 {
		return nil
	}
	query, args, err := sqlx.In(fmt.Sprintf(
		`DELETE FROM %s.users_groups WHERE "groupId" = ? AND "userId" IN (?)`, s.schema), groupID, userIDs)
	if err != nil {
		return &store.BackendError{Op: "group remove members", Err: err}
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return wrapBackend("group remove members", "Group", groupID, err)
	}
	return nil
}

func (s *GroupStore) SetGroupMembers(ctx context.Context, userIDs []string, groupID string) error {
	if err := s.requireGroup(ctx, groupID); err != nil {
		return err
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return wrapBackend("group set members", "Group", groupID, err)
	}
	defer tx.Rollback()

	del := tx.Rebind(fmt.Sprintf(`DELETE FROM %s.users_groups WHERE "groupId" = ?`, s.schema))
	if _, err := tx.ExecContext(ctx, del, groupID); err != nil {
		return wrapBackend("group set members", "Group", groupID, err)
	}
	if err := insertMembers(ctx, tx, s.schema, groupID, userIDs); err != nil {
		return wrapBackend("group set members", "Group", groupID, err)
	}
	if err := tx.Commit(); err != nil {
		return wrapBackend("group set members", "Group", groupID, err)
	}
	return nil
}

func (s *GroupStore) SearchMembers(ctx context.Context, filterExpr, groupID string) ([]store.Resource, error) {
	if err := s.requireGroup(ctx, groupID); err != nil {
		return nil, err
	}
	expr, err := filter.Parse(filterExpr)
	if err != nil {
		return nil, err
	}
	fragment, args, err := filter.CompileSQL(expr, userAttrMap)
	if err != nil {
		return nil, err
	}

	query := s.db.Rebind(fmt.Sprintf(
		`SELECT users_groups."userId" FROM %[1]s.users_groups
		 JOIN %[1]s.users ON users.id = users_groups."userId"
		 WHERE users_groups."groupId" = ? AND (%[2]s)`, s.schema, fragment))
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, query, append([]any{groupID}, args...)...); err != nil {
		return nil, wrapBackend("group search members", "Group", groupID, err)
	}

	members := make([]store.Resource, 0, len(ids))
	for _, id := range ids {
		members = append(members, store.Resource{"value": id})
	}
	return members, nil
}

func (s *GroupStore) requireGroup(ctx context.Context, groupID string) error {
	var exists bool
	query := s.db.Rebind(fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s.groups WHERE id = ?)`, s.schema))
	if err := s.db.GetContext(ctx, &exists, query, groupID); err != nil {
		return wrapBackend("group lookup", "Group", groupID, err)
	}
	if !exists {
		return store.NotFoundError("Group", groupID)
	}
	return nil
}

func insertMembers(ctx context.Context, tx *sqlx.Tx, schema, groupID string, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	placeholders := make([]string, 0, len(userIDs))
	args := make([]any, 0, 2*len(userIDs))
	for _, userID := range userIDs {
		placeholders = append(placeholders, "(?, ?)")
		args = append(args, userID, groupID)
	}
	query := tx.Rebind(fmt.Sprintf(
		`INSERT INTO %s.users_groups ("userId", "groupId") VALUES %s ON CONFLICT DO NOTHING`,
		schema, strings.Join(placeholders, ", ")))
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

func memberIDs(members []any) []string {
	ids := make([]string, 0, len(members))
	for _, m := range members {
		if member, ok := m.(map[string]any); ok {
			if value, ok := member["value"].(string); ok && value != "" {
				ids = append(ids, value)
			}
		}
	}
	return ids
}

// transformGroup reshapes an aggregated row into the SCIM group resource.
func transformGroup(row groupRow) store.Resource {
	return store.Resource{
		"id":          row.ID,
		"displayName": row.DisplayName,
		"schemas":     decodeJSON(row.Schemas),
		"members":     decodeObjects(row.Members, "value"),
	}
}
