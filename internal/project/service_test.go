package project

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/devsync-io/devsync/internal/errors"
	"github.com/devsync-io/devsync/internal/metrics"
	"github.com/devsync-io/devsync/internal/models"
	"github.com/devsync-io/devsync/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "devsync.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	require.NoError(t, st.CreateUser(&store.User{ID: "u1", Email: "a@example.com", PasswordHash: "hash"}))
	require.NoError(t, st.CreateProject(&store.Project{ID: "p1", Name: "demo", OwnerID: "u1"}))

	return NewService(st, metrics.New(), zerolog.Nop()), st
}

func TestGetUnknownProject(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestReplaceAll(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tree := models.FileTree{
		"index.js":  {File: models.FileBody{Contents: "main"}},
		"src/a.js":  {File: models.FileBody{Contents: "a"}},
		"README.md": {File: models.FileBody{Contents: "docs"}},
	}
	committed, err := svc.ReplaceAll(ctx, "p1", tree)
	require.NoError(t, err)
	assert.Equal(t, tree, committed)

	p, err := svc.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, tree, p.FileTree)
}

func TestReplaceAllOverwritesEverything(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.UpsertPath(ctx, "p1", "human-edit.js", "local change"))

	replacement := models.FileTree{"generated.js": {File: models.FileBody{Contents: "agent"}}}
	_, err := svc.ReplaceAll(ctx, "p1", replacement)
	require.NoError(t, err)

	p, err := svc.Get(ctx, "p1")
	require.NoError(t, err)
	assert.NotContains(t, p.FileTree, "human-edit.js")
	assert.Equal(t, "agent", p.FileTree["generated.js"].File.Contents)
}

func TestReplaceAllRejectsInvalidTree(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.ReplaceAll(ctx, "p1", nil)
	assert.True(t, apperrors.IsValidation(err))

	_, err = svc.ReplaceAll(ctx, "p1", models.FileTree{"../escape.js": {}})
	assert.True(t, apperrors.IsValidation(err))
}

func TestReplaceAllUnknownProject(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.ReplaceAll(context.Background(), "missing", models.FileTree{})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestUpsertPathReadBack(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.UpsertPath(ctx, "p1", "a.js", "first"))

	p, err := svc.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "first", p.FileTree["a.js"].File.Contents)

	// upsert of an existing path replaces contents
	require.NoError(t, svc.UpsertPath(ctx, "p1", "a.js", "second"))
	p, err = svc.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "second", p.FileTree["a.js"].File.Contents)
	assert.Len(t, p.FileTree, 1)
}

func TestUpsertPathValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	assert.True(t, apperrors.IsValidation(svc.UpsertPath(ctx, "p1", "", "x")))
	assert.True(t, apperrors.IsValidation(svc.UpsertPath(ctx, "p1", "../escape.js", "x")))
}

func TestDeletePath(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.UpsertPath(ctx, "p1", "a.js", "x"))
	require.NoError(t, svc.UpsertPath(ctx, "p1", "b.js", "y"))

	require.NoError(t, svc.DeletePath(ctx, "p1", "a.js"))

	p, err := svc.Get(ctx, "p1")
	require.NoError(t, err)
	assert.NotContains(t, p.FileTree, "a.js")
	assert.Contains(t, p.FileTree, "b.js")
}

func TestDeletePathAbsentIsNoop(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.UpsertPath(ctx, "p1", "a.js", "x"))
	require.NoError(t, svc.DeletePath(ctx, "p1", "never-existed.js"))

	p, err := svc.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Contains(t, p.FileTree, "a.js")
}
