package serverutils

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// JwtVerifier validates bearer tokens and extracts the user id claim. Used by
// both the REST middleware and the websocket subscribe flow.
type JwtVerifier struct {
	secret []byte
}

func NewJwtVerifier(secret string) *JwtVerifier {
	return &JwtVerifier{secret: []byte(secret)}
}

func (v *JwtVerifier) VerifyToken(tokenStr string) (string, error) {
	if tokenStr == "" {
		return "", errors.New("missing token")
	}
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return "", errors.New("invalid token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}
	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return "", errors.New("missing user_id claim")
	}
	return userID, nil
}

// JwtMiddleware guards REST routes with the same bearer verification.
func JwtMiddleware(verifier *JwtVerifier) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		authHeader := ctx.Get("Authorization")
		if len(authHeader) < 7 || authHeader[:7] != "Bearer " {
			return ctx.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "Missing token"})
		}
		userID, err := verifier.VerifyToken(authHeader[7:])
		if err != nil {
			return ctx.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "Invalid token"})
		}
		ctx.Locals("user_id", userID)
		return ctx.Next()
	}
}
