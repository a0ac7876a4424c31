package http

import (
	"strings"

	"triage_server/core/port/in"
	"triage_server/pkg/apperr"

	"github.com/gofiber/fiber/v2"
)

type UserHandler struct {
	users in.UserService
}

func NewUserHandler(users in.UserService) *UserHandler {
	return &UserHandler{users: users}
}

// RegisterPublic mounts the routes that need no token.
func (h *UserHandler) RegisterPublic(router fiber.Router) {
	router.Post("/user/register", h.SignUp)
}

func (h *UserHandler) Register(router fiber.Router) {
	router.Get("/user/me", h.Me)
}

// SignUp creates a local account.
// POST /user/register
func (h *UserHandler) SignUp(c *fiber.Ctx) error {
	var req in.RegisterRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		return apperr.ValidationFailed("email and password are required")
	}

	if err := h.users.Register(c.UserContext(), &req); err != nil {
		return err
	}
	c.Status(fiber.StatusCreated)
	return nil
}

// Me returns the current user.
// GET /user/me
func (h *UserHandler) Me(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	user, err := h.users.Me(c.UserContext(), userID)
	if err != nil {
		return err
	}
	return c.JSON(user)
}
