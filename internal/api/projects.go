package api

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/devsync-io/devsync/internal/auth"
	apperrors "github.com/devsync-io/devsync/internal/errors"
	"github.com/devsync-io/devsync/internal/store"
)

// CreateProject handles POST /projects/create.
func (h *Handlers) CreateProject(c *fiber.Ctx) error {
	identity, _ := auth.IdentityFromCtx(c)

	var req createProjectRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, fiber.StatusBadRequest, "Invalid request body", "VALIDATION_ERROR")
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return respondError(c, fiber.StatusBadRequest, "Project name is required", "VALIDATION_ERROR")
	}

	p := &store.Project{
		ID:      uuid.New().String(),
		Name:    req.Name,
		OwnerID: identity.UserID,
	}
	if err := h.store.CreateProject(p); err != nil {
		if errors.Is(err, apperrors.ErrDuplicate) {
			return respondError(c, fiber.StatusConflict, "Project name already exists", "PROJECT_EXISTS")
		}
		h.logger.Error().Err(err).Msg("failed to create project")
		return respondError(c, fiber.StatusInternalServerError, "Internal error", "PERSISTENCE_ERROR")
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"project": projectView(p)})
}

// AllProjects handles GET /projects/all: every project the caller is a
// member of.
func (h *Handlers) AllProjects(c *fiber.Ctx) error {
	identity, _ := auth.IdentityFromCtx(c)

	projects, err := h.store.ListProjectsForUser(identity.UserID)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list projects")
		return respondError(c, fiber.StatusInternalServerError, "Internal error", "PERSISTENCE_ERROR")
	}

	views := make([]ProjectView, 0, len(projects))
	for _, p := range projects {
		views = append(views, projectView(p))
	}
	return c.JSON(fiber.Map{"projects": views})
}

// GetProject handles GET /projects/get-project/:id.
func (h *Handlers) GetProject(c *fiber.Ctx) error {
	identity, _ := auth.IdentityFromCtx(c)
	projectID := c.Params("id")

	p, err := h.requireMemberProject(c, projectID, identity.UserID)
	if err != nil || p == nil {
		return err
	}
	return c.JSON(fiber.Map{"project": projectView(p)})
}

// AddUser handles PUT /projects/add-user: registers collaborators on a
// project the caller is a member of.
func (h *Handlers) AddUser(c *fiber.Ctx) error {
	identity, _ := auth.IdentityFromCtx(c)

	var req addUserRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, fiber.StatusBadRequest, "Invalid request body", "VALIDATION_ERROR")
	}
	if req.ProjectID == "" || len(req.Users) == 0 {
		return respondError(c, fiber.StatusBadRequest, "projectId and users are required", "VALIDATION_ERROR")
	}

	p, err := h.requireMemberProject(c, req.ProjectID, identity.UserID)
	if err != nil || p == nil {
		return err
	}

	for _, uid := range req.Users {
		u, err := h.store.GetUserByID(uid)
		if err != nil {
			h.logger.Error().Err(err).Msg("failed to look up user")
			return respondError(c, fiber.StatusInternalServerError, "Internal error", "PERSISTENCE_ERROR")
		}
		if u == nil {
			return respondError(c, fiber.StatusNotFound, "Unknown user "+uid, "USER_NOT_FOUND")
		}
	}

	if err := h.store.AddMembers(req.ProjectID, req.Users); err != nil {
		h.logger.Error().Err(err).Msg("failed to add members")
		return respondError(c, fiber.StatusInternalServerError, "Internal error", "PERSISTENCE_ERROR")
	}

	updated, err := h.store.GetProject(req.ProjectID)
	if err != nil || updated == nil {
		h.logger.Error().Err(err).Msg("failed to reload project")
		return respondError(c, fiber.StatusInternalServerError, "Internal error", "PERSISTENCE_ERROR")
	}
	return c.JSON(fiber.Map{"project": projectView(updated)})
}

// UpdateFileTree handles PUT /projects/update-file-tree: the bulk replace
// used to persist the agent's generated tree. Last-writer-wins.
func (h *Handlers) UpdateFileTree(c *fiber.Ctx) error {
	identity, _ := auth.IdentityFromCtx(c)

	var req updateFileTreeRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, fiber.StatusBadRequest, "Invalid request body", "VALIDATION_ERROR")
	}
	if req.ProjectID == "" {
		return respondError(c, fiber.StatusBadRequest, "projectId is required", "VALIDATION_ERROR")
	}

	p, err := h.requireMemberProject(c, req.ProjectID, identity.UserID)
	if err != nil || p == nil {
		return err
	}

	if _, err := h.projects.ReplaceAll(c.Context(), req.ProjectID, req.FileTree); err != nil {
		switch {
		case apperrors.IsValidation(err):
			return respondError(c, fiber.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		case errors.Is(err, apperrors.ErrNotFound):
			return respondError(c, fiber.StatusNotFound, "Project not found", "PROJECT_NOT_FOUND")
		default:
			h.logger.Error().Err(err).Msg("failed to update file tree")
			return respondError(c, fiber.StatusInternalServerError, "Internal error", "PERSISTENCE_ERROR")
		}
	}

	updated, err := h.store.GetProject(req.ProjectID)
	if err != nil || updated == nil {
		h.logger.Error().Err(err).Msg("failed to reload project")
		return respondError(c, fiber.StatusInternalServerError, "Internal error", "PERSISTENCE_ERROR")
	}
	return c.JSON(fiber.Map{"project": projectView(updated)})
}

// requireMemberProject loads a project and enforces membership. On failure
// it writes the error response and returns (nil, writtenError).
func (h *Handlers) requireMemberProject(c *fiber.Ctx, projectID, userID string) (*store.Project, error) {
	p, err := h.store.GetProject(projectID)
	if err != nil {
		h.logger.Error().Err(err).Str("project_id", projectID).Msg("failed to load project")
		return nil, respondError(c, fiber.StatusInternalServerError, "Internal error", "PERSISTENCE_ERROR")
	}
	if p == nil {
		return nil, respondError(c, fiber.StatusNotFound, "Project not found", "PROJECT_NOT_FOUND")
	}

	member, err := h.store.IsMember(projectID, userID)
	if err != nil {
		h.logger.Error().Err(err).Str("project_id", projectID).Msg("membership check failed")
		return nil, respondError(c, fiber.StatusInternalServerError, "Internal error", "PERSISTENCE_ERROR")
	}
	if !member {
		return nil, respondError(c, fiber.StatusForbidden, "Not a member of this project", "NOT_A_MEMBER")
	}
	return p, nil
}
