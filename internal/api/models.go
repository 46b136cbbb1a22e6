package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/devsync-io/devsync/internal/models"
	"github.com/devsync-io/devsync/internal/store"
)

// UserView is the API shape of a user. The password hash never leaves the
// store layer.
type UserView struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

func userView(u *store.User) UserView {
	return UserView{ID: u.ID, Email: u.Email}
}

// ProjectView is the API shape of a project.
type ProjectView struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	OwnerID   string          `json:"ownerId"`
	Users     []string        `json:"users"`
	FileTree  models.FileTree `json:"fileTree"`
	CreatedAt int64           `json:"createdAt"`
	UpdatedAt int64           `json:"updatedAt"`
}

func projectView(p *store.Project) ProjectView {
	users := p.UserIDs
	if users == nil {
		users = []string{}
	}
	tree := p.FileTree
	if tree == nil {
		tree = models.FileTree{}
	}
	return ProjectView{
		ID:        p.ID,
		Name:      p.Name,
		OwnerID:   p.OwnerID,
		Users:     users,
		FileTree:  tree,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type createProjectRequest struct {
	Name string `json:"name"`
}

type addUserRequest struct {
	ProjectID string   `json:"projectId"`
	Users     []string `json:"users"`
}

type updateFileTreeRequest struct {
	ProjectID string          `json:"projectId"`
	FileTree  models.FileTree `json:"fileTree"`
}

// respondError writes the engine's standard failure body: a human-readable
// error plus a machine-readable code.
func respondError(c *fiber.Ctx, status int, message, code string) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error":   message,
		"code":    code,
	})
}
