package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/renderdeck/api/internal/auth"
	"github.com/renderdeck/api/pkg/response"
)

// AuthMiddleware enforces HMAC-signed bearer tokens when a secret is
// configured. Deployments behind a trusted gateway run without one.
type AuthMiddleware struct {
	secret string
}

func NewAuthMiddleware(secret string) *AuthMiddleware {
	return &AuthMiddleware{secret: secret}
}

// Authenticate validates the Authorization header and stores the caller's
// user id on the request context.
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		if header == "" {
			return response.Unauthorized(c, "Missing authorization header")
		}

		tokenString, found := strings.CutPrefix(header, "Bearer ")
		if !found {
			return response.Unauthorized(c, "Invalid authorization header format")
		}

		claims, err := auth.ValidateToken(tokenString, m.secret)
		if err != nil {
			return response.Unauthorized(c, "Invalid or expired token")
		}

		c.Locals("userId", claims.UserID)
		return c.Next()
	}
}

// GetUserID returns the authenticated user id, or "" when auth is disabled.
func GetUserID(c *fiber.Ctx) string {
	if id, ok := c.Locals("userId").(string); ok {
		return id
	}
	return ""
}
