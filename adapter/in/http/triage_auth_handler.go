package http

import (
	"strings"

	"triage_server/core/port/in"
	"triage_server/pkg/apperr"

	"github.com/gofiber/fiber/v2"
)

// AuthHandler handles sign-in and token refresh.
type AuthHandler struct {
	auth in.AuthService
}

func NewAuthHandler(auth in.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

func (h *AuthHandler) Register(router fiber.Router) {
	group := router.Group("/auth")
	group.Post("/login", h.Login)
	group.Post("/refresh", h.Refresh)
	group.Post("/google", h.Google)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login exchanges credentials for a token pair.
// POST /auth/login
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return apperr.ValidationFailed("email and password are required")
	}

	pair, err := h.auth.Login(c.UserContext(), strings.TrimSpace(req.Email), req.Password)
	if err != nil {
		return err
	}
	return c.JSON(pair)
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Refresh issues a new access token.
// POST /auth/refresh
func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	var req refreshRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if req.RefreshToken == "" {
		return apperr.ValidationFailed("refreshToken is required")
	}

	access, err := h.auth.Refresh(c.UserContext(), req.RefreshToken)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"accessToken": access})
}

type googleRequest struct {
	Code string `json:"code"`
}

// Google signs in with an OAuth authorization code.
// POST /auth/google
func (h *AuthHandler) Google(c *fiber.Ctx) error {
	var req googleRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if req.Code == "" {
		return apperr.ValidationFailed("code is required")
	}

	pair, err := h.auth.LoginWithGoogle(c.UserContext(), req.Code)
	if err != nil {
		return err
	}
	return c.JSON(pair)
}
