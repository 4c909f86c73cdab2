package middleware

import (
	"strings"

	"github.com/CYM-Peru/Bot-AI-V1-sub006/crm/usecase"
	"github.com/gofiber/fiber/v2"
)

// Claves en c.Locals una vez autenticado el request.
const (
	LocalAdvisorID = "advisor_id"
	LocalUsername  = "advisor_username"
	LocalRole      = "advisor_role"
)

// RequireAuth valida el bearer JWT del asesor y deja sus claims en Locals.
func RequireAuth(issuer *usecase.TokenIssuer) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := bearerToken(c)
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing bearer token"})
		}
		claims, err := issuer.Parse(token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid or expired token"})
		}
		c.Locals(LocalAdvisorID, claims.Subject)
		c.Locals(LocalUsername, claims.Username)
		c.Locals(LocalRole, claims.Role)
		return c.Next()
	}
}

// RequireRole corta con 403 si el rol del token no está en la lista. Se apila
// después de RequireAuth.
func RequireRole(roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		role, _ := c.Locals(LocalRole).(string)
		for _, r := range roles {
			if strings.EqualFold(role, r) {
				return c.Next()
			}
		}
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "insufficient role"})
	}
}

// AdvisorID es el id del asesor autenticado en el request actual.
func AdvisorID(c *fiber.Ctx) string {
	id, _ := c.Locals(LocalAdvisorID).(string)
	return id
}

func bearerToken(c *fiber.Ctx) string {
	header := c.Get(fiber.HeaderAuthorization)
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return c.Query("token")
}
