package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"spa-cms/internal/api"
)

// AuthMiddleware returns a Fiber middleware that validates JWT tokens
// and sets the User on the request.
func AuthMiddleware(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		if header == "" {
			return api.UnauthorizedError("Missing auth token")
		}

		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return api.UnauthorizedError("Invalid auth header format")
		}

		user, err := ParseAccessToken(strings.TrimSpace(token), secret)
		if err != nil {
			return api.UnauthorizedError("Invalid or expired token")
		}

		c.Locals("user", user)
		c.Locals(api.UserIDKey, user.ID)
		return c.Next()
	}
}

// RequireEditor admits users allowed to edit content.
func RequireEditor() fiber.Handler {
	return requireUser(func(u *User) bool { return u.CanEdit() }, "Editor access required")
}

// RequireAdmin is a Fiber middleware that checks the authenticated user has the admin role.
func RequireAdmin() fiber.Handler {
	return requireUser((*User).IsAdmin, "Admin access required")
}

func requireUser(allowed func(*User) bool, msg string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := GetUser(c)
		if user == nil {
			return api.UnauthorizedError("Missing auth token")
		}
		if !allowed(user) {
			return api.ForbiddenError(msg)
		}
		return c.Next()
	}
}

// GetUser extracts the User from a Fiber context.
func GetUser(c *fiber.Ctx) *User {
	user, _ := c.Locals("user").(*User)
	return user
}
