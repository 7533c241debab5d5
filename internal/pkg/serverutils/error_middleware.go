package serverutils

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

// ErrorHandlerMiddleware turns returned errors into JSON responses. Fiber
// errors keep their status; everything else is a 500 with a generic body so
// internals never leak.
func ErrorHandlerMiddleware() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		err := ctx.Next()
		if err == nil {
			return nil
		}

		var fe *fiber.Error
		if errors.As(err, &fe) {
			return ctx.Status(fe.Code).JSON(ApiResponse{Message: fe.Message})
		}
		return ctx.Status(fiber.StatusInternalServerError).JSON(ApiResponse{Message: "internal server error"})
	}
}
