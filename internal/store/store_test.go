package store

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/devsync-io/devsync/internal/errors"
	"github.com/devsync-io/devsync/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "devsync.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedUser(t *testing.T, s *Store, id, email string) *User {
	t.Helper()
	u := &User{ID: id, Email: email, PasswordHash: "hash"}
	require.NoError(t, s.CreateUser(u))
	return u
}

func TestCreateAndGetUser(t *testing.T) {
	s := newTestStore(t)
	seedUser(t, s, "u1", "a@example.com")

	byEmail, err := s.GetUserByEmail("a@example.com")
	require.NoError(t, err)
	require.NotNil(t, byEmail)
	assert.Equal(t, "u1", byEmail.ID)
	assert.NotZero(t, byEmail.CreatedAt)

	byID, err := s.GetUserByID("u1")
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, "a@example.com", byID.Email)
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	s := newTestStore(t)
	seedUser(t, s, "u1", "a@example.com")

	err := s.CreateUser(&User{ID: "u2", Email: "a@example.com", PasswordHash: "hash"})
	assert.ErrorIs(t, err, apperrors.ErrDuplicate)
}

func TestGetUserAbsent(t *testing.T) {
	s := newTestStore(t)

	u, err := s.GetUserByEmail("nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, u)

	u, err = s.GetUserByID("missing")
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestListUsersExcept(t *testing.T) {
	s := newTestStore(t)
	seedUser(t, s, "u1", "a@example.com")
	seedUser(t, s, "u2", "b@example.com")
	seedUser(t, s, "u3", "c@example.com")

	users, err := s.ListUsersExcept("u2")
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "u1", users[0].ID)
	assert.Equal(t, "u3", users[1].ID)
}

func TestCreateProjectRegistersOwner(t *testing.T) {
	s := newTestStore(t)
	seedUser(t, s, "u1", "a@example.com")

	p := &Project{ID: "p1", Name: "demo", OwnerID: "u1"}
	require.NoError(t, s.CreateProject(p))
	assert.Equal(t, []string{"u1"}, p.UserIDs)

	got, err := s.GetProject("p1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "demo", got.Name)
	assert.Equal(t, []string{"u1"}, got.UserIDs)
	assert.NotNil(t, got.FileTree)
	assert.Empty(t, got.FileTree)

	member, err := s.IsMember("p1", "u1")
	require.NoError(t, err)
	assert.True(t, member)
}

func TestCreateProjectDuplicateName(t *testing.T) {
	s := newTestStore(t)
	seedUser(t, s, "u1", "a@example.com")
	require.NoError(t, s.CreateProject(&Project{ID: "p1", Name: "demo", OwnerID: "u1"}))

	err := s.CreateProject(&Project{ID: "p2", Name: "demo", OwnerID: "u1"})
	assert.ErrorIs(t, err, apperrors.ErrDuplicate)
}

func TestGetProjectAbsent(t *testing.T) {
	s := newTestStore(t)
	p, err := s.GetProject("missing")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestAddMembersIdempotent(t *testing.T) {
	s := newTestStore(t)
	seedUser(t, s, "u1", "a@example.com")
	seedUser(t, s, "u2", "b@example.com")
	require.NoError(t, s.CreateProject(&Project{ID: "p1", Name: "demo", OwnerID: "u1"}))

	require.NoError(t, s.AddMembers("p1", []string{"u2"}))
	require.NoError(t, s.AddMembers("p1", []string{"u2", "u1"}))

	p, err := s.GetProject("p1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u1", "u2"}, p.UserIDs)

	member, err := s.IsMember("p1", "u2")
	require.NoError(t, err)
	assert.True(t, member)
}

func TestIsMemberNonMember(t *testing.T) {
	s := newTestStore(t)
	seedUser(t, s, "u1", "a@example.com")
	seedUser(t, s, "u2", "b@example.com")
	require.NoError(t, s.CreateProject(&Project{ID: "p1", Name: "demo", OwnerID: "u1"}))

	member, err := s.IsMember("p1", "u2")
	require.NoError(t, err)
	assert.False(t, member)
}

func TestSaveFileTree(t *testing.T) {
	s := newTestStore(t)
	seedUser(t, s, "u1", "a@example.com")
	require.NoError(t, s.CreateProject(&Project{ID: "p1", Name: "demo", OwnerID: "u1"}))

	tree := models.FileTree{"a.js": {File: models.FileBody{Contents: "let x = 1"}}}
	require.NoError(t, s.SaveFileTree("p1", tree))

	p, err := s.GetProject("p1")
	require.NoError(t, err)
	assert.Equal(t, "let x = 1", p.FileTree["a.js"].File.Contents)
}

func TestSaveFileTreeUnknownProject(t *testing.T) {
	s := newTestStore(t)
	err := s.SaveFileTree("missing", models.FileTree{})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestListProjectsForUser(t *testing.T) {
	s := newTestStore(t)
	seedUser(t, s, "u1", "a@example.com")
	seedUser(t, s, "u2", "b@example.com")
	require.NoError(t, s.CreateProject(&Project{ID: "p1", Name: "alpha", OwnerID: "u1"}))
	require.NoError(t, s.CreateProject(&Project{ID: "p2", Name: "beta", OwnerID: "u2"}))
	require.NoError(t, s.AddMembers("p2", []string{"u1"}))

	projects, err := s.ListProjectsForUser("u1")
	require.NoError(t, err)
	require.Len(t, projects, 2)

	ids := []string{projects[0].ID, projects[1].ID}
	assert.ElementsMatch(t, []string{"p1", "p2"}, ids)

	projects, err = s.ListProjectsForUser("u2")
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, "p2", projects[0].ID)
}
