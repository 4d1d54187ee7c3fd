package autosale

import (
	autosalesvc "kraal-backend/internal/application/autosale"
	"kraal-backend/internal/middleware"
	"kraal-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// Handlers exposes auto-sale policies and pending decisions.
type Handlers struct {
	Service *autosalesvc.Service
}

type SettingsRequest struct {
	TargetPricePerKg       float64  `json:"target_price_per_kg"`
	MinPricePerKg          float64  `json:"min_price_per_kg"`
	AutoAcceptThresholdPct *float64 `json:"auto_accept_threshold_pct"`
	ConfirmThresholdPct    *float64 `json:"confirm_threshold_pct"`
	AutoRejectThresholdPct *float64 `json:"auto_reject_threshold_pct"`
	Enabled                *bool    `json:"enabled"`
}

type RespondRequest struct {
	Response     string   `json:"response"`
	CounterPrice *float64 `json:"counter_price"`
}

// UpsertSettings PUT /api/v1/marketplace/listings/:id/auto-sale
func (h *Handlers) UpsertSettings(c *fiber.Ctx) error {
	var req SettingsRequest
	if err := c.BodyParser(&req); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}
	settings, err := h.Service.UpsertSettings(c.Context(), autosalesvc.UpsertInput{
		ListingID:              c.Params("id"),
		ActorID:                middleware.ActorID(c),
		TargetPricePerKg:       req.TargetPricePerKg,
		MinPricePerKg:          req.MinPricePerKg,
		AutoAcceptThresholdPct: req.AutoAcceptThresholdPct,
		ConfirmThresholdPct:    req.ConfirmThresholdPct,
		AutoRejectThresholdPct: req.AutoRejectThresholdPct,
		Enabled:                req.Enabled,
	})
	if err != nil {
		return response.AppError(c, err)
	}
	return response.Success(c, "Auto-sale settings saved", fiber.Map{"settings": settings}, nil)
}

// GetSettings GET /api/v1/marketplace/listings/:id/auto-sale
func (h *Handlers) GetSettings(c *fiber.Ctx) error {
	settings, err := h.Service.GetSettings(c.Context(), c.Params("id"), middleware.ActorID(c))
	if err != nil {
		return response.AppError(c, err)
	}
	return response.Success(c, "OK", fiber.Map{"settings": settings}, nil)
}

// ListDecisions GET /api/v1/marketplace/decisions
func (h *Handlers) ListDecisions(c *fiber.Ctx) error {
	out, err := h.Service.ListPendingDecisions(c.Context(), middleware.ActorID(c))
	if err != nil {
		return response.AppError(c, err)
	}
	return response.Success(c, "OK", fiber.Map{"decisions": out, "count": len(out)}, nil)
}

// RespondDecision POST /api/v1/marketplace/decisions/:id/respond
func (h *Handlers) RespondDecision(c *fiber.Ctx) error {
	var req RespondRequest
	if err := c.BodyParser(&req); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}
	err := h.Service.RespondToDecision(c.Context(), c.Params("id"), middleware.ActorID(c), req.Response, req.CounterPrice)
	if err != nil {
		return response.AppError(c, err)
	}
	return response.Success(c, "Decision recorded", nil, nil)
}
