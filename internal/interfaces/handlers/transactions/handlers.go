package transactions

import (
	settlementsvc "kraal-backend/internal/application/settlement"
	"kraal-backend/internal/middleware"
	"kraal-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// Handlers covers transaction reads, delivery confirmation and settlement.
// With AutoSettle on, the second delivery confirmation settles immediately;
// otherwise settlement waits for an explicit call.
type Handlers struct {
	Service    *settlementsvc.Service
	AutoSettle bool
}

type ConfirmRequest struct {
	Details map[string]interface{} `json:"details"`
}

// List GET /api/v1/marketplace/transactions
func (h *Handlers) List(c *fiber.Ctx) error {
	out, err := h.Service.List(c.Context(), middleware.ActorID(c))
	if err != nil {
		return response.AppError(c, err)
	}
	return response.Success(c, "OK", fiber.Map{"transactions": out, "count": len(out)}, nil)
}

// Get GET /api/v1/marketplace/transactions/:id
func (h *Handlers) Get(c *fiber.Ctx) error {
	txn, err := h.Service.Get(c.Context(), c.Params("id"), middleware.ActorID(c))
	if err != nil {
		return response.AppError(c, err)
	}
	return response.Success(c, "OK", fiber.Map{"transaction": txn}, nil)
}

// ConfirmDelivery POST /api/v1/marketplace/transactions/:id/confirm-delivery
func (h *Handlers) ConfirmDelivery(c *fiber.Ctx) error {
	var req ConfirmRequest
	_ = c.BodyParser(&req)
	txn, err := h.Service.ConfirmDelivery(c.Context(), c.Params("id"), middleware.ActorID(c),
		settlementsvc.DeliveryInput{Details: req.Details})
	if err != nil {
		return response.AppError(c, err)
	}
	if h.AutoSettle {
		h.Service.ProcessIfComplete(c.Context(), txn)
	}
	return response.Success(c, "Delivery confirmed", fiber.Map{"transaction": txn}, nil)
}

// Settle POST /api/v1/marketplace/transactions/:id/settle
func (h *Handlers) Settle(c *fiber.Ctx) error {
	// Only a party to the transaction may trigger settlement.
	if _, err := h.Service.Get(c.Context(), c.Params("id"), middleware.ActorID(c)); err != nil {
		return response.AppError(c, err)
	}
	result, err := h.Service.Process(c.Context(), c.Params("id"))
	if err != nil {
		return response.AppError(c, err)
	}
	return response.Success(c, "Transaction settled", fiber.Map{"settlement": result}, nil)
}
