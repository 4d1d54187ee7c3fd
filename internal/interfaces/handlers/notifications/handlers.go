package notifications

import (
	notifsvc "kraal-backend/internal/application/notifications"
	"kraal-backend/internal/middleware"
	"kraal-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// Handlers exposes the caller's notification feed.
type Handlers struct {
	Service *notifsvc.Service
}

// List GET /api/v1/notifications
func (h *Handlers) List(c *fiber.Ctx) error {
	out, err := h.Service.ListForUser(c.Context(), middleware.ActorID(c), c.Query("unread") == "true")
	if err != nil {
		return response.AppError(c, err)
	}
	return response.Success(c, "OK", fiber.Map{"notifications": out, "count": len(out)}, nil)
}

// MarkRead POST /api/v1/notifications/:id/read
func (h *Handlers) MarkRead(c *fiber.Ctx) error {
	if err := h.Service.MarkRead(c.Context(), c.Params("id"), middleware.ActorID(c)); err != nil {
		return response.AppError(c, err)
	}
	return response.Success(c, "Notification marked read", nil, nil)
}
