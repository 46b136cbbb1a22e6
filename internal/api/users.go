package api

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/devsync-io/devsync/internal/auth"
	apperrors "github.com/devsync-io/devsync/internal/errors"
	"github.com/devsync-io/devsync/internal/models"
	"github.com/devsync-io/devsync/internal/store"
)

const minPasswordLength = 6

// Register handles POST /users/register.
func (h *Handlers) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, fiber.StatusBadRequest, "Invalid request body", "VALIDATION_ERROR")
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if !strings.Contains(req.Email, "@") {
		return respondError(c, fiber.StatusBadRequest, "A valid email is required", "VALIDATION_ERROR")
	}
	if len(req.Password) < minPasswordLength {
		return respondError(c, fiber.StatusBadRequest, "Password must be at least 6 characters", "VALIDATION_ERROR")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to hash password")
		return respondError(c, fiber.StatusInternalServerError, "Internal error", "INTERNAL_ERROR")
	}

	user := &store.User{
		ID:           uuid.New().String(),
		Email:        req.Email,
		PasswordHash: string(hash),
	}
	if err := h.store.CreateUser(user); err != nil {
		if errors.Is(err, apperrors.ErrDuplicate) {
			return respondError(c, fiber.StatusConflict, "Email is already registered", "USER_EXISTS")
		}
		h.logger.Error().Err(err).Msg("failed to create user")
		return respondError(c, fiber.StatusInternalServerError, "Internal error", "PERSISTENCE_ERROR")
	}

	token, _, err := h.gate.Issue(identityOf(user))
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to issue credential")
		return respondError(c, fiber.StatusInternalServerError, "Internal error", "INTERNAL_ERROR")
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"user":  userView(user),
		"token": token,
	})
}

// Login handles POST /users/login.
func (h *Handlers) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, fiber.StatusBadRequest, "Invalid request body", "VALIDATION_ERROR")
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	user, err := h.store.GetUserByEmail(req.Email)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to look up user")
		return respondError(c, fiber.StatusInternalServerError, "Internal error", "PERSISTENCE_ERROR")
	}
	if user == nil {
		return respondError(c, fiber.StatusUnauthorized, "Invalid credentials", "INVALID_CREDENTIALS")
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		return respondError(c, fiber.StatusUnauthorized, "Invalid credentials", "INVALID_CREDENTIALS")
	}

	token, _, err := h.gate.Issue(identityOf(user))
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to issue credential")
		return respondError(c, fiber.StatusInternalServerError, "Internal error", "INTERNAL_ERROR")
	}

	return c.JSON(fiber.Map{
		"user":  userView(user),
		"token": token,
	})
}

// Logout handles POST /users/logout. Revokes the presented credential;
// revoking twice has the same effect as once.
func (h *Handlers) Logout(c *fiber.Ctx) error {
	raw := auth.RawTokenFromCtx(c)
	if err := h.gate.Revoke(c.Context(), raw); err != nil {
		ae := auth.AsError(err)
		h.logger.Error().Err(ae).Msg("failed to revoke credential")
		return respondError(c, ae.HTTPStatus(), ae.Message(), ae.Code())
	}

	c.ClearCookie("token")
	return c.JSON(fiber.Map{"message": "Logged out successfully"})
}

// Profile handles GET /users/profile.
func (h *Handlers) Profile(c *fiber.Ctx) error {
	identity, ok := auth.IdentityFromCtx(c)
	if !ok {
		return respondError(c, fiber.StatusUnauthorized, "Authentication required", "NO_TOKEN_PROVIDED")
	}
	return c.JSON(fiber.Map{
		"user": UserView{ID: identity.UserID, Email: identity.Email},
	})
}

// AllUsers handles GET /users/all: every user except the caller, for the
// collaborator picker.
func (h *Handlers) AllUsers(c *fiber.Ctx) error {
	identity, _ := auth.IdentityFromCtx(c)

	users, err := h.store.ListUsersExcept(identity.UserID)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list users")
		return respondError(c, fiber.StatusInternalServerError, "Internal error", "PERSISTENCE_ERROR")
	}

	views := make([]UserView, 0, len(users))
	for _, u := range users {
		views = append(views, userView(u))
	}
	return c.JSON(fiber.Map{"users": views})
}

func identityOf(u *store.User) models.Identity {
	return models.Identity{UserID: u.ID, Email: u.Email}
}
