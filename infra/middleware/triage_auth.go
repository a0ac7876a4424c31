package middleware

import (
	"errors"
	"strings"
	"time"

	"triage_server/core/port/out"
	"triage_server/core/service/auth"
	"triage_server/pkg/apperr"
	"triage_server/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	userCacheSize = 10000
	userCacheTTL  = time.Minute
)

// JWTAuth verifies the bearer access token and that its user still exists.
// Known users are remembered for a minute.
func JWTAuth(tokens *auth.TokenIssuer, users out.UserRepository) fiber.Handler {
	known := expirable.NewLRU[string, struct{}](userCacheSize, nil, userCacheTTL)

	return func(c *fiber.Ctx) error {
		// Skip auth for CORS preflight requests
		if c.Method() == fiber.MethodOptions {
			return c.Next()
		}

		header := c.Get(fiber.HeaderAuthorization)
		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(tokenString) == "" {
			return apperr.Unauthorized("missing authorization")
		}

		claims, err := tokens.ParseAccess(strings.TrimSpace(tokenString))
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				return apperr.InvalidToken("token expired")
			}
			logger.WithError(err).Debug("[JWTAuth] token rejected")
			return apperr.InvalidToken("invalid token")
		}
		userID := claims.Subject

		if _, ok := known.Get(userID); !ok {
			user, err := users.GetByID(c.UserContext(), userID)
			if err != nil {
				return apperr.DatabaseError("find user", err)
			}
			if user == nil {
				return apperr.Unauthorized("user no longer exists")
			}
			known.Add(userID, struct{}{})
		}

		c.Locals("user_id", userID)
		c.Locals("user_email", claims.Email)
		c.SetUserContext(logger.ContextWithUserID(c.UserContext(), userID))
		return c.Next()
	}
}
