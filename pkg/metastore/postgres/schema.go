package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema DDL. Written to run on both PostgreSQL and SQLite: plain types,
// application-supplied timestamps, explicit ON DELETE CASCADE from cache
// entries to artifacts.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS repositories (
		id INTEGER PRIMARY KEY %s,
		name TEXT NOT NULL UNIQUE,
		format TEXT NOT NULL,
		type TEXT NOT NULL,
		upstream_url TEXT NOT NULL DEFAULT '',
		upstream_user TEXT,
		upstream_pass TEXT,
		cache_ttl_seconds BIGINT NOT NULL DEFAULT 0,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS groups (
		id INTEGER PRIMARY KEY %s,
		name TEXT NOT NULL UNIQUE,
		format TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS group_members (
		group_id INTEGER NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
		repository_id INTEGER NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
		priority INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (group_id, repository_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_group_members_priority ON group_members (group_id, priority)`,
	`CREATE TABLE IF NOT EXISTS artifacts (
		id INTEGER PRIMARY KEY %s,
		repository_id INTEGER NOT NULL REFERENCES repositories(id),
		name TEXT NOT NULL,
		version TEXT NOT NULL,
		storage_key TEXT NOT NULL,
		size BIGINT NOT NULL DEFAULT 0,
		digest TEXT NOT NULL DEFAULT '',
		content_type TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '{}',
		ttl_seconds BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		last_accessed_at TIMESTAMP NOT NULL,
		UNIQUE (repository_id, name, version)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_artifacts_repo_name ON artifacts (repository_id, name)`,
	`CREATE INDEX IF NOT EXISTS idx_artifacts_last_accessed ON artifacts (last_accessed_at)`,
	`CREATE INDEX IF NOT EXISTS idx_artifacts_name_version ON artifacts (name, version)`,
	`CREATE TABLE IF NOT EXISTS cache_entries (
		key TEXT PRIMARY KEY,
		artifact_id INTEGER NOT NULL REFERENCES artifacts(id) ON DELETE CASCADE,
		repository_id INTEGER NOT NULL,
		storage_key TEXT NOT NULL,
		expires_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cache_entries_expires ON cache_entries (expires_at)`,
	`CREATE INDEX IF NOT EXISTS idx_cache_entries_repo_expires ON cache_entries (repository_id, expires_at)`,
	`CREATE TABLE IF NOT EXISTS download_events (
		id TEXT PRIMARY KEY,
		repository_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		version TEXT NOT NULL,
		client_ip TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		occurred_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_download_events_repo ON download_events (repository_id, occurred_at)`,
}

// Migrate applies the schema. Safe to run repeatedly.
func Migrate(ctx context.Context, db *sql.DB, driver string) error {
	autoinc := ""
	if driver == "postgres" {
		// SQLite auto-increments bare INTEGER PRIMARY KEY; PostgreSQL
		// needs the identity clause.
		autoinc = "GENERATED BY DEFAULT AS IDENTITY"
	}
	for _, stmt := range schemaStatements {
		sqlText := stmt
		if containsPlaceholder(stmt) {
			sqlText = fmt.Sprintf(stmt, autoinc)
		}
		if _, err := db.ExecContext(ctx, sqlText); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

func containsPlaceholder(stmt string) bool {
	for i := 0; i+1 < len(stmt); i++ {
		if stmt[i] == '%' && stmt[i+1] == 's' {
			return true
		}
	}
	return false
}
