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
	"golang.org/x/crypto/bcrypt"

	"github.com/dhawalhost/provgate/internal/filter"
	"github.com/dhawalhost/provgate/internal/store"
)

// UserStore implements store.Store for SCIM users.
type UserStore struct {
	db     *sqlx.DB
	schema string
	logger *zap.Logger
}

// NewUserStore returns a user store reading and writing the given schema.
func NewUserStore(db *sqlx.DB, schema string, logger *zap.Logger) *UserStore {
	if schema == "" {
		schema = "public"
	}
	return &UserStore{db: db, schema: schema, logger: logger}
}

type userRow struct {
	ID          string         `db:"id"`
	ExternalID  sql.NullString `db:"externalId"`
	Locale      sql.NullString `db:"locale"`
	Name        []byte         `db:"name"`
	Schemas     []byte         `db:"schemas"`
	UserName    string         `db:"userName"`
	DisplayName sql.NullString `db:"displayName"`
	Custom      []byte         `db:"customAttributes"`
	Active      sql.NullBool   `db:"active"`
	Emails      []byte         `db:"emails"`
	Groups      []byte         `db:"groups"`
}

type userSearchRow struct {
	userRow
	Total int `db:"total"`
}

// Columns a user update may project attributes onto. JSON-shaped columns are
// marshaled before binding.
var userColumns = map[string]bool{
	"externalId": true, "locale": true, "name": true, "schemas": true,
	"userName": true, "displayName": true, "customAttributes": true, "active": true,
}

var userJSONColumns = map[string]bool{"name": true, "schemas": true, "customAttributes": true}

const userProjection = `
	users.id, users."externalId", users.locale, users.name, users.schemas,
	users."userName", users."displayName", users."customAttributes", users.active,
	json_agg(json_build_object(
		'value', user_emails.value,
		'primary', user_emails."primary",
		'type', user_emails.type
	)) AS emails,
	json_agg(json_build_object(
		'value', groups.id,
		'displayName', groups."displayName"
	)) AS groups`

func (s *UserStore) fromClause() string {
	return fmt.Sprintf(`FROM %[1]s.users
	LEFT JOIN %[1]s.user_emails ON users.id = user_emails."userId"
	LEFT JOIN %[1]s.users_groups ON users.id = users_groups."userId"
	LEFT JOIN %[1]s.groups ON groups.id = users_groups."groupId"`, s.schema)
}

func (s *UserStore) GetByID(ctx context.Context, id string) (store.Resource, error) {
	query := s.db.Rebind(fmt.Sprintf(
		`SELECT %s %s WHERE users.id = ? GROUP BY 1,2,3,4,5,6,7,8,9`,
		userProjection, s.fromClause()))
	var row userRow
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFoundError("User", id)
		}
		return nil, wrapBackend("user get", "User", id, err)
	}
	return transformUser(row), nil
}

func (s *UserStore) Search(ctx context.Context, filterExpr string, startIndex, count int) ([]store.Resource, int, error) {
	where, args := "", []any{}
	if filterExpr != "" {
		expr, err := filter.Parse(filterExpr)
		if err != nil {
			return nil, 0, err
		}
		fragment, fragArgs, err := filter.CompileSQL(expr, userAttrMap)
		if err != nil {
			return nil, 0, err
		}
		where, args = "WHERE "+fragment, fragArgs
	}
	if startIndex < 1 {
		startIndex = 1
	}

	query := s.db.Rebind(fmt.Sprintf(
		`SELECT %s, count(*) OVER() AS total %s %s GROUP BY 1,2,3,4,5,6,7,8,9 ORDER BY users.id OFFSET ? LIMIT ?`,
		userProjection, s.fromClause(), where))
	args = append(args, startIndex-1, count)

	var rows []userSearchRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, wrapBackend("user search", "User", "", err)
	}

	users := make([]store.Resource, 0, len(rows))
	total := 0
	for _, row := range rows {
		users = append(users, transformUser(row.userRow))
		total = row.Total
	}
	return users, total, nil
}

func (s *UserStore) Create(ctx context.Context, resource store.Resource) (store.Resource, error) {
	id, _ := resource["id"].(string)
	if id == "" {
		id = uuid.NewString()
	}
	userName, _ := resource["userName"].(string)

	schemas, ok := resource["schemas"].([]any)
	if !ok || len(schemas) == 0 {
		schemas = []any{UserSchemaURI}
	}
	custom := map[string]any{}
	for _, uri := range schemas {
		uriStr, _ := uri.(string)
		if uriStr == "" || uriStr == UserSchemaURI {
			continue
		}
		if attrs, ok := resource[uriStr]; ok {
			custom[uriStr] = attrs
		}
	}

	locale, _ := resource["locale"].(string)
	if locale == "" {
		locale = "en-US"
	}
	active := true
	if v, ok := resource["active"].(bool); ok {
		active = v
	}

	// Every user keeps at least one email row; default to the userName.
	emails, _ := resource["emails"].([]any)
	if len(emails) == 0 {
		emails = []any{map[string]any{"value": userName, "primary": true, "type": "work"}}
	}

	passwordHash, err := hashPassword(resource)
	if err != nil {
		return nil, &store.BackendError{Op: "user create", Err: err}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, wrapBackend("user create", "User", id, err)
	}
	defer tx.Rollback()

	insertUser := tx.Rebind(fmt.Sprintf(
		`INSERT INTO %s.users
			("id", "externalId", "locale", "name", "schemas", "userName", "displayName", "customAttributes", "passwordHash", "active")
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.schema))
	displayName, _ := resource["displayName"].(string)
	externalID, _ := resource["externalId"].(string)
	if _, err := tx.ExecContext(ctx, insertUser,
		id, nullable(externalID), locale,
		mustJSON(resource["name"]), mustJSON(schemas),
		userName, displayName, mustJSON(custom), passwordHash, active,
	); err != nil {
		return nil, wrapBackend("user create", "User", userName, err)
	}

	if err := insertEmails(ctx, tx, s.schema, id, emails); err != nil {
		return nil, wrapBackend("user create", "User", userName, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, wrapBackend("user create", "User", userName, err)
	}

	s.logger.Debug("user created", zap.String("id", id))
	return s.GetByID(ctx, id)
}

func (s *UserStore) Update(ctx context.Context, id string, attrs store.Resource) (store.Resource, error) {
	// id is immutable and groups is a derived view edited via the Groups
	// API; both are silently dropped from the patch.
	patch := make(store.Resource, len(attrs))
	for k, v := range attrs {
		patch[k] = v
	}
	delete(patch, "id")
	delete(patch, "groups")

	emails, replaceEmails := patch["emails"].([]any)
	delete(patch, "emails")

	passwordHash, err := hashPassword(patch)
	if err != nil {
		return nil, &store.BackendError{Op: "user update", Err: err}
	}

	setClauses := []string{}
	args := []any{}
	for col, v := range patch {
		if !userColumns[col] {
			continue
		}
		setClauses = append(setClauses, fmt.Sprintf(`%q = ?`, col))
		if userJSONColumns[col] {
			args = append(args, mustJSON(v))
		} else {
			args = append(args, v)
		}
	}
	if passwordHash != nil {
		setClauses = append(setClauses, `"passwordHash" = ?`)
		args = append(args, passwordHash)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, wrapBackend("user update", "User", id, err)
	}
	defer tx.Rollback()

	if len(setClauses) > 0 {
		query := tx.Rebind(fmt.Sprintf(
			`UPDATE %s.users SET %s WHERE id = ?`, s.schema, strings.Join(setClauses, ", ")))
		if _, err := tx.ExecContext(ctx, query, append(args, id)...); err != nil {
			return nil, wrapBackend("user update", "User", id, err)
		}
	}
	if replaceEmails {
		del := tx.Rebind(fmt.Sprintf(`DELETE FROM %s.user_emails WHERE "userId" = ?`, s.schema))
		if _, err := tx.ExecContext(ctx, del, id); err != nil {
			return nil, wrapBackend("user update", "User", id, err)
		}
		if err := insertEmails(ctx, tx, s.schema, id, emails); err != nil {
			return nil, wrapBackend("user update", "User", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, wrapBackend("user update", "User", id, err)
	}
	return s.GetByID(ctx, id)
}

func (s *UserStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return wrapBackend("user delete", "User", id, err)
	}
	defer tx.Rollback()

	var exists bool
	check := tx.Rebind(fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s.users WHERE id = ?)`, s.schema))
	if err := tx.GetContext(ctx, &exists, check, id); err != nil {
		return wrapBackend("user delete", "User", id, err)
	}
	if !exists {
		return store.NotFoundError("User", id)
	}

	// Emails and memberships first, then the user row itself.
	statements := []string{
		fmt.Sprintf(`DELETE FROM %s.user_emails WHERE "userId" = ?`, s.schema),
		fmt.Sprintf(`DELETE FROM %s.users_groups WHERE "userId" = ?`, s.schema),
		fmt.Sprintf(`DELETE FROM %s.users WHERE id = ?`, s.schema),
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, tx.Rebind(stmt), id); err != nil {
			return wrapBackend("user delete", "User", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return wrapBackend("user delete", "User", id, err)
	}
	s.logger.Debug("user deleted", zap.String("id", id))
	return nil
}

func insertEmails(ctx context.Context, tx *sqlx.Tx, schema, userID string, emails []any) error {
	if len(emails) == 0 {
		return nil
	}
	query := tx.Rebind(fmt.Sprintf(
		`INSERT INTO %s.user_emails ("id", "userId", "value", "primary", "type") VALUES (?, ?, ?, ?, ?)`, schema))
	for _, e := range emails {
		email, _ := e.(map[string]any)
		if email == nil {
			continue
		}
		value, _ := email["value"].(string)
		primary := true
		if p, ok := email["primary"].(bool); ok {
			primary = p
		}
		emailType, _ := email["type"].(string)
		if emailType == "" {
			emailType = "work"
		}
		if _, err := tx.ExecContext(ctx, query, uuid.NewString(), userID, value, primary, emailType); err != nil {
			return err
		}
	}
	return nil
}

// hashPassword consumes the write-only password attribute, returning its
// bcrypt hash for the passwordHash column, or nil when no password was sent.
func hashPassword(resource store.Resource) (any, error) {
	password, _ := resource["password"].(string)
	delete(resource, "password")
	if password == "" {
		return nil, nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return string(hash), nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// transformUser reshapes an aggregated row into the SCIM user resource,
// splatting custom-schema attributes back to the top level.
func transformUser(row userRow) store.Resource {
	resource := store.Resource{
		"id":          row.ID,
		"userName":    row.UserName,
		"externalId":  valueOrNil(row.ExternalID),
		"locale":      valueOrNil(row.Locale),
		"name":        decodeJSON(row.Name),
		"schemas":     decodeJSON(row.Schemas),
		"displayName": valueOrNil(row.DisplayName),
		"active":      row.Active.Valid && row.Active.Bool,
		"emails":      decodeObjects(row.Emails, "value"),
		"groups":      decodeObjects(row.Groups, "displayName"),
	}
	if custom, ok := decodeJSON(row.Custom).(map[string]any); ok {
		for uri, attrs := range custom {
			resource[uri] = attrs
		}
	}
	return resource
}

func valueOrNil(s sql.NullString) any {
	if !s.Valid {
		return nil
	}
	return s.String
}
