// Package project implements the file tree store: the canonical mutable
// document of project source files. Writes are durable before they return;
// the room layer broadcasts a change only after the write commits.
package project

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	apperrors "github.com/devsync-io/devsync/internal/errors"
	"github.com/devsync-io/devsync/internal/metrics"
	"github.com/devsync-io/devsync/internal/models"
	"github.com/devsync-io/devsync/internal/store"
)

// Service mediates file tree reads and writes over the durable store.
type Service struct {
	store   *store.Store
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewService creates a file tree service.
func NewService(st *store.Store, m *metrics.Metrics, logger zerolog.Logger) *Service {
	return &Service{
		store:   st,
		metrics: m,
		logger:  logger.With().Str("component", "project").Logger(),
	}
}

// Get returns the project with its current tree, or ErrNotFound.
func (s *Service) Get(ctx context.Context, projectID string) (*store.Project, error) {
	p, err := s.store.GetProject(projectID)
	if err != nil {
		return nil, apperrors.NewPersistenceError("get_project", err)
	}
	if p == nil {
		return nil, apperrors.ErrNotFound
	}
	return p, nil
}

// ReplaceAll swaps the project's entire file tree with newTree, the agent
// bulk write. It unconditionally overwrites every path, including any path
// a human modified concurrently; last-writer-wins is the accepted policy.
// Returns the committed tree for broadcast.
func (s *Service) ReplaceAll(ctx context.Context, projectID string, newTree models.FileTree) (models.FileTree, error) {
	if newTree == nil {
		s.metrics.RecordFileTreeWrite("replace_all", "invalid")
		return nil, apperrors.NewValidationError("fileTree", "missing tree")
	}
	if err := newTree.Validate(); err != nil {
		s.metrics.RecordFileTreeWrite("replace_all", "invalid")
		return nil, err
	}

	if err := s.store.SaveFileTree(projectID, newTree); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			s.metrics.RecordFileTreeWrite("replace_all", "not_found")
			return nil, err
		}
		s.metrics.RecordFileTreeWrite("replace_all", "error")
		return nil, apperrors.NewPersistenceError("save_file_tree", err)
	}

	s.metrics.RecordFileTreeWrite("replace_all", "ok")
	s.logger.Debug().Str("project_id", projectID).Int("paths", len(newTree)).Msg("file tree replaced")
	return newTree, nil
}

// UpsertPath inserts or updates exactly one path, the human single-file
// write. Deliberately does not broadcast: collaborators observe the change
// on their next fetch or agent sync. This asymmetry with ReplaceAll is the
// intended contract, not an oversight.
func (s *Service) UpsertPath(ctx context.Context, projectID, path, content string) error {
	if path == "" {
		s.metrics.RecordFileTreeWrite("upsert_path", "invalid")
		return apperrors.NewValidationError("path", "empty path")
	}

	p, err := s.Get(ctx, projectID)
	if err != nil {
		s.metrics.RecordFileTreeWrite("upsert_path", "error")
		return err
	}

	tree := p.FileTree.Clone()
	if tree == nil {
		tree = models.FileTree{}
	}
	tree[path] = models.FileEntry{File: models.FileBody{Contents: content}}
	if err := tree.Validate(); err != nil {
		s.metrics.RecordFileTreeWrite("upsert_path", "invalid")
		return err
	}

	if err := s.store.SaveFileTree(projectID, tree); err != nil {
		s.metrics.RecordFileTreeWrite("upsert_path", "error")
		return apperrors.NewPersistenceError("save_file_tree", err)
	}

	s.metrics.RecordFileTreeWrite("upsert_path", "ok")
	return nil
}

// DeletePath removes a path if present. A missing path is a no-op, not an
// error.
func (s *Service) DeletePath(ctx context.Context, projectID, path string) error {
	p, err := s.Get(ctx, projectID)
	if err != nil {
		s.metrics.RecordFileTreeWrite("delete_path", "error")
		return err
	}

	if _, ok := p.FileTree[path]; !ok {
		s.metrics.RecordFileTreeWrite("delete_path", "noop")
		return nil
	}

	tree := p.FileTree.Clone()
	delete(tree, path)

	if err := s.store.SaveFileTree(projectID, tree); err != nil {
		s.metrics.RecordFileTreeWrite("delete_path", "error")
		return apperrors.NewPersistenceError("save_file_tree", err)
	}

	s.metrics.RecordFileTreeWrite("delete_path", "ok")
	return nil
}
