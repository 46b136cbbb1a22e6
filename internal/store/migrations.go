package store

import (
	"fmt"
)

func (s *Store) migrate() error {
	return s.migrateV1()
}

func (s *Store) migrateV1() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);

	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		owner_id TEXT NOT NULL REFERENCES users(id),
		file_tree TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_projects_owner ON projects(owner_id);

	CREATE TABLE IF NOT EXISTS project_members (
		project_id TEXT NOT NULL REFERENCES projects(id),
		user_id TEXT NOT NULL REFERENCES users(id),
		added_at INTEGER NOT NULL,
		PRIMARY KEY (project_id, user_id)
	);

	CREATE INDEX IF NOT EXISTS idx_members_user ON project_members(user_id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("v1 schema: %w", err)
	}
	return nil
}
