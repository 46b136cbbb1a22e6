package auth

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/devsync-io/devsync/internal/metrics"
	"github.com/devsync-io/devsync/internal/models"
)

const identityLocal = "identity"
const tokenLocal = "raw_token"

// TokenFromFiberCtx extracts the raw credential from a Fiber request: the
// token cookie wins over the Authorization: Bearer header.
func TokenFromFiberCtx(c *fiber.Ctx) string {
	if cookie := c.Cookies("token"); cookie != "" {
		return cookie
	}
	if h := c.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// Middleware returns a Fiber handler that gates a route group. On success
// the verified identity and the presented token are stored in ctx locals.
func Middleware(gate *Gate, m *metrics.Metrics, logger zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := TokenFromFiberCtx(c)

		identity, err := gate.Verify(c.Context(), raw)
		if err != nil {
			ae := AsError(err)
			if m != nil {
				m.RecordAuthFailure(ae.Code())
			}
			if ae.Kind == KindRevoked {
				// The cookie holds a dead credential; expire it client-side.
				c.Cookie(&fiber.Cookie{
					Name:    "token",
					Value:   "",
					Expires: time.Now().Add(-time.Hour),
				})
			}
			if ae.Kind == KindInternal {
				logger.Error().Err(ae.Err).Str("path", c.Path()).Msg("session gate internal error")
			}
			return c.Status(ae.HTTPStatus()).JSON(fiber.Map{
				"success": false,
				"error":   ae.Message(),
				"code":    ae.Code(),
			})
		}

		c.Locals(identityLocal, identity)
		c.Locals(tokenLocal, raw)
		return c.Next()
	}
}

// IdentityFromCtx returns the identity stored by the middleware.
func IdentityFromCtx(c *fiber.Ctx) (models.Identity, bool) {
	id, ok := c.Locals(identityLocal).(models.Identity)
	return id, ok
}

// RawTokenFromCtx returns the credential the middleware verified.
func RawTokenFromCtx(c *fiber.Ctx) string {
	raw, _ := c.Locals(tokenLocal).(string)
	return raw
}
