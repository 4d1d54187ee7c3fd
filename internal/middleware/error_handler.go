package middleware

import (
	"kraal-backend/internal/pkg/apperr"
	"kraal-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// ErrorHandler is the global error handler. Fiber errors keep their code,
// classified service errors map through their kind, everything else is 500.
func ErrorHandler(c *fiber.Ctx, err error) error {
	if e, ok := err.(*fiber.Error); ok {
		return response.Error(c, e.Message, e.Code, nil)
	}
	return response.Error(c, err.Error(), apperr.HTTPStatus(err), nil)
}
