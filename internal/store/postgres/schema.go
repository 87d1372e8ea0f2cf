package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// DDL executed at startup when the relational backend is selected. All
// statements are idempotent. Identity columns use citext so uniqueness and
// equality are case-insensitive at the column-type level.
var ddlStatements = []string{
	`CREATE SCHEMA IF NOT EXISTS %[1]s;`,
	`CREATE EXTENSION IF NOT EXISTS citext WITH SCHEMA %[1]s;`,
	`CREATE TABLE IF NOT EXISTS %[1]s.users (
		"id" CITEXT PRIMARY KEY,
		"externalId" CITEXT,
		"locale" CITEXT,
		"name" JSONB NOT NULL,
		"schemas" JSONB NOT NULL,
		"userName" CITEXT UNIQUE NOT NULL,
		"displayName" CITEXT NOT NULL,
		"customAttributes" JSONB,
		"passwordHash" TEXT,
		"active" BOOLEAN
	);`,
	`CREATE INDEX IF NOT EXISTS users_username_index ON %[1]s.users("userName");`,
	`CREATE TABLE IF NOT EXISTS %[1]s.groups (
		"id" CITEXT PRIMARY KEY,
		"displayName" CITEXT UNIQUE NOT NULL,
		"schemas" JSONB NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS groups_displayname_index ON %[1]s.groups("displayName");`,
	`CREATE TABLE IF NOT EXISTS %[1]s.users_groups (
		"userId" CITEXT NOT NULL,
		"groupId" CITEXT NOT NULL,
		PRIMARY KEY("userId", "groupId")
	);`,
	`CREATE TABLE IF NOT EXISTS %[1]s.user_emails (
		"id" CITEXT PRIMARY KEY,
		"userId" CITEXT NOT NULL,
		"value" CITEXT NOT NULL,
		"primary" BOOLEAN DEFAULT TRUE,
		"type" CITEXT DEFAULT 'work'
	);`,
	`CREATE INDEX IF NOT EXISTS user_emails_value_index ON %[1]s.user_emails("value");`,
}

// SetUpSchema creates the schema, extension, tables and indexes.
func SetUpSchema(ctx context.Context, db *sqlx.DB, schema string) error {
	if schema == "" {
		schema = "public"
	}
	for _, stmt := range ddlStatements {
		if _, err := db.ExecContext(ctx, fmt.Sprintf(stmt, schema)); err != nil {
			return fmt.Errorf("schema setup: %w", err)
		}
	}
	return nil
}
