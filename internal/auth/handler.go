package auth

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"spa-cms/internal/api"
)

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	service *Service
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(s *Service) *AuthHandler {
	return &AuthHandler{service: s}
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshBody struct {
	RefreshToken string `json:"refresh_token"`
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var body credentials
	if err := c.BodyParser(&body); err != nil {
		return api.InvalidPayload("Invalid request body")
	}
	if body.Email == "" || body.Password == "" {
		return api.UnauthorizedError("Email and password are required")
	}

	pair, err := h.service.Login(c.UserContext(), body.Email, body.Password)
	if err != nil {
		return authError(err)
	}
	return c.JSON(fiber.Map{"data": pair})
}

// Refresh handles POST /api/auth/refresh.
func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	var body refreshBody
	if err := c.BodyParser(&body); err != nil {
		return api.InvalidPayload("Invalid request body")
	}
	if body.RefreshToken == "" {
		return api.UnauthorizedError("Refresh token is required")
	}

	pair, err := h.service.Refresh(c.UserContext(), body.RefreshToken)
	if err != nil {
		return authError(err)
	}
	return c.JSON(fiber.Map{"data": pair})
}

// Logout handles POST /api/auth/logout.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	var body refreshBody
	if err := c.BodyParser(&body); err != nil {
		return api.InvalidPayload("Invalid request body")
	}
	if body.RefreshToken == "" {
		return api.UnauthorizedError("Refresh token is required")
	}
	if err := h.service.Logout(c.UserContext(), body.RefreshToken); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "Logged out"})
}

// Me handles GET /api/auth/me.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": GetUser(c)})
}

// RegisterAuthRoutes registers auth routes on the given Fiber app. /me is
// behind authMW.
func RegisterAuthRoutes(app *fiber.App, h *AuthHandler, authMW fiber.Handler) {
	auth := app.Group("/api/auth")
	auth.Post("/login", h.Login)
	auth.Post("/refresh", h.Refresh)
	auth.Post("/logout", h.Logout)
	auth.Get("/me", authMW, h.Me)
}

func authError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return api.UnauthorizedError("Invalid email or password")
	case errors.Is(err, ErrAccountDisabled):
		return api.UnauthorizedError("Account is disabled")
	case errors.Is(err, ErrTokenExpired):
		return api.UnauthorizedError("Refresh token expired")
	case errors.Is(err, ErrInvalidToken):
		return api.UnauthorizedError("Invalid refresh token")
	}
	return err
}
