package http

import (
	"triage_server/pkg/apperr"

	"github.com/gofiber/fiber/v2"
)

// GetUserID returns the authenticated user id set by the auth middleware.
func GetUserID(c *fiber.Ctx) (string, error) {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return "", apperr.Unauthorized("")
	}
	return userID, nil
}

// parseBody decodes the JSON body into dst.
func parseBody(c *fiber.Ctx, dst any) error {
	if err := c.BodyParser(dst); err != nil {
		return apperr.BadRequest("Invalid request body")
	}
	return nil
}
