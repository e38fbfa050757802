package admin

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"spa-cms/internal/api"
	"spa-cms/internal/auth"
)

// Handler manages the CMS accounts. Every route requires the admin role.
type Handler struct {
	auth *auth.Service
}

func NewHandler(s *auth.Service) *Handler {
	return &Handler{auth: s}
}

func RegisterAdminRoutes(app *fiber.App, h *Handler, middleware ...fiber.Handler) {
	admin := app.Group("/api/_admin", middleware...)

	admin.Get("/users", h.ListUsers)
	admin.Post("/users", h.CreateUser)
	admin.Put("/users/:id/active", h.SetActive)
}

func (h *Handler) ListUsers(c *fiber.Ctx) error {
	users, err := h.auth.ListUsers(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": users})
}

func (h *Handler) CreateUser(c *fiber.Ctx) error {
	var body struct {
		Email    string   `json:"email"`
		Password string   `json:"password"`
		Roles    []string `json:"roles"`
	}
	if err := c.BodyParser(&body); err != nil {
		return api.InvalidPayload("Invalid JSON body")
	}

	acc, err := h.auth.CreateUser(c.UserContext(), body.Email, body.Password, body.Roles)
	switch {
	case errors.Is(err, auth.ErrEmailTaken):
		return api.NewAppError("CONFLICT", fiber.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidRole):
		return api.NewAppError("VALIDATION_FAILED", fiber.StatusUnprocessableEntity, err.Error())
	case err != nil:
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": acc})
}

func (h *Handler) SetActive(c *fiber.Ctx) error {
	var body struct {
		Active *bool `json:"active"`
	}
	if err := c.BodyParser(&body); err != nil || body.Active == nil {
		return api.InvalidPayload("Body must be {\"active\": true|false}")
	}

	id := c.Params("id")
	if user := auth.GetUser(c); user != nil && user.ID == id && !*body.Active {
		return api.NewAppError("VALIDATION_FAILED", fiber.StatusUnprocessableEntity, "You cannot disable your own account")
	}
	if err := h.auth.SetActive(c.UserContext(), id, *body.Active); err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			return api.NotFoundError("user", id)
		}
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"id": id, "active": *body.Active}})
}
