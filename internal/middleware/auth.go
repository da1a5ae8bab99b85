package middleware

import (
	"errors"

	"github.com/glebrm/inspect-backend/internal/config"
	"github.com/glebrm/inspect-backend/internal/dto"
	jwtware "github.com/gofiber/contrib/jwt"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// LocalUserID is the fixed identity used when the service runs without a
// database. Auth routes are disabled in that mode and every record belongs
// to this user.
const LocalUserID = "local"

func JWTProtected(cfg *config.Config) fiber.Handler {
	return jwtware.New(jwtware.Config{
		SigningKey: jwtware.SigningKey{Key: []byte(cfg.JWTSecret)},
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
				Error:   true,
				Message: "Unauthorized: invalid or expired token",
			})
		},
	})
}

// LocalIdentity substitutes for JWTProtected in local mode.
func LocalIdentity() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals("local_user_id", LocalUserID)
		return c.Next()
	}
}

// UserID extracts the authenticated user's id: the fixed local identity
// when set, the JWT sub claim otherwise.
func UserID(c *fiber.Ctx) (string, error) {
	if id, ok := c.Locals("local_user_id").(string); ok && id != "" {
		return id, nil
	}

	token, ok := c.Locals("user").(*jwt.Token)
	if !ok {
		return "", errors.New("invalid token in context")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}
	sub, ok := claims["sub"].(string)
	if !ok {
		return "", errors.New("missing sub claim")
	}
	return sub, nil
}
