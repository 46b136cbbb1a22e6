package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/devsync-io/devsync/internal/errors"
	"github.com/devsync-io/devsync/internal/models"
)

// Project is a shared workspace: an owner, a collaborator set and the
// canonical file tree.
type Project struct {
	ID        string
	Name      string
	OwnerID   string
	UserIDs   []string
	FileTree  models.FileTree
	CreatedAt int64
	UpdatedAt int64
}

// CreateProject inserts a new project and registers the owner as its first
// member, in one transaction. Returns ErrDuplicate on a name collision.
func (s *Store) CreateProject(p *Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	if p.CreatedAt == 0 {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.FileTree == nil {
		p.FileTree = models.FileTree{}
	}

	treeJSON, err := json.Marshal(p.FileTree)
	if err != nil {
		return fmt.Errorf("failed to encode file tree: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO projects (id, name, owner_id, file_tree, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.OwnerID, string(treeJSON), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return apperrors.ErrDuplicate
		}
		return fmt.Errorf("failed to create project: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO project_members (project_id, user_id, added_at) VALUES (?, ?, ?)`,
		p.ID, p.OwnerID, now,
	)
	if err != nil {
		return fmt.Errorf("failed to add owner membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit project: %w", err)
	}

	p.UserIDs = []string{p.OwnerID}
	return nil
}

// GetProject retrieves a project with its member list. Returns (nil, nil)
// when absent.
func (s *Store) GetProject(id string) (*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p := &Project{}
	var treeJSON string

	err := s.db.QueryRow(
		`SELECT id, name, owner_id, file_tree, created_at, updated_at FROM projects WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.OwnerID, &treeJSON, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	if err := json.Unmarshal([]byte(treeJSON), &p.FileTree); err != nil {
		return nil, fmt.Errorf("failed to decode file tree: %w", err)
	}

	members, err := s.listMembers(p.ID)
	if err != nil {
		return nil, err
	}
	p.UserIDs = members

	return p, nil
}

// ListProjectsForUser returns every project the user is a member of.
func (s *Store) ListProjectsForUser(userID string) ([]*Project, error) {
	s.mu.RLock()
	ids := []string{}
	rows, err := s.db.Query(
		`SELECT project_id FROM project_members WHERE user_id = ? ORDER BY added_at`, userID,
	)
	if err != nil {
		s.mu.RUnlock()
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			s.mu.RUnlock()
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	s.mu.RUnlock()

	projects := make([]*Project, 0, len(ids))
	for _, id := range ids {
		p, err := s.GetProject(id)
		if err != nil {
			return nil, err
		}
		if p != nil {
			projects = append(projects, p)
		}
	}
	return projects, nil
}

// AddMembers registers the given users as project collaborators. Existing
// memberships are kept as-is (idempotent).
func (s *Store) AddMembers(projectID string, userIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, uid := range userIDs {
		_, err := tx.Exec(
			`INSERT OR IGNORE INTO project_members (project_id, user_id, added_at) VALUES (?, ?, ?)`,
			projectID, uid, now,
		)
		if err != nil {
			return fmt.Errorf("failed to add member %s: %w", uid, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit memberships: %w", err)
	}
	return nil
}

// IsMember reports whether the user is the owner or a collaborator of the
// project. Gates room admission.
func (s *Store) IsMember(projectID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM project_members WHERE project_id = ? AND user_id = ?`,
		projectID, userID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return count > 0, nil
}

// SaveFileTree atomically swaps the project's entire file tree. The write is
// durable before this returns; callers broadcast only on success. Returns
// ErrNotFound for an unknown project.
func (s *Store) SaveFileTree(projectID string, tree models.FileTree) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	treeJSON, err := json.Marshal(tree)
	if err != nil {
		return fmt.Errorf("failed to encode file tree: %w", err)
	}

	res, err := s.db.Exec(
		`UPDATE projects SET file_tree = ?, updated_at = ? WHERE id = ?`,
		string(treeJSON), time.Now().UnixMilli(), projectID,
	)
	if err != nil {
		return fmt.Errorf("failed to save file tree: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check file tree write: %w", err)
	}
	if n == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (s *Store) listMembers(projectID string) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT user_id FROM project_members WHERE project_id = ? ORDER BY added_at`, projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, id)
	}
	return members, rows.Err()
}
