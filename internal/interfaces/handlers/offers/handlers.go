package offers

import (
	"time"

	autosalesvc "kraal-backend/internal/application/autosale"
	offersvc "kraal-backend/internal/application/offers"
	"kraal-backend/internal/middleware"
	"kraal-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// Handlers runs the offer lifecycle endpoints. Engine is consulted after
// every new offer.
type Handlers struct {
	Service *offersvc.Service
	Engine  *autosalesvc.Service
}

type CreateRequest struct {
	ListingID     string     `json:"listing_id"`
	SubjectIDs    []string   `json:"subject_ids"`
	ProposedPrice float64    `json:"proposed_price"`
	Message       string     `json:"message"`
	PickupDate    *time.Time `json:"pickup_date"`
}

type CounterRequest struct {
	NewPrice float64 `json:"new_price"`
	Message  string  `json:"message"`
}

type RejectRequest struct {
	Reason string `json:"reason"`
}

// Create POST /api/v1/marketplace/offers places the offer, then lets the
// auto-sale engine evaluate it. An engine failure never undoes the offer.
func (h *Handlers) Create(c *fiber.Ctx) error {
	actorID := middleware.ActorID(c)
	var req CreateRequest
	if err := c.BodyParser(&req); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}
	offer, err := h.Service.Create(c.Context(), offersvc.CreateInput{
		ListingID:     req.ListingID,
		BuyerID:       actorID,
		SubjectIDs:    req.SubjectIDs,
		ProposedPrice: req.ProposedPrice,
		Message:       req.Message,
		PickupDate:    req.PickupDate,
	})
	if err != nil {
		return response.AppError(c, err)
	}

	var decision *autosalesvc.Decision
	if h.Engine != nil {
		decision, err = h.Engine.ProcessOffer(c.Context(), offer.ID)
		if err != nil {
			log.Warn().Err(err).Str("offer_id", offer.ID).Msg("auto-sale evaluation failed")
			decision = nil
		}
	}
	data := fiber.Map{"offer": offer}
	if decision != nil {
		data["auto_sale"] = decision
	}
	return response.SuccessCreated(c, "Offer placed", data, nil)
}

// List GET /api/v1/marketplace/offers
func (h *Handlers) List(c *fiber.Ctx) error {
	actorID := middleware.ActorID(c)
	f := offersvc.Filter{
		ListingID: c.Query("listing_id"),
		Status:    c.Query("status"),
	}
	// Scope to the caller: buyer view by default, producer view on request.
	if c.Query("role") == "producer" {
		f.ProducerID = actorID
	} else {
		f.BuyerID = actorID
	}
	out, err := h.Service.List(c.Context(), f)
	if err != nil {
		return response.AppError(c, err)
	}
	return response.Success(c, "OK", fiber.Map{"offers": out, "count": len(out)}, nil)
}

// Get GET /api/v1/marketplace/offers/:id
func (h *Handlers) Get(c *fiber.Ctx) error {
	offer, err := h.Service.Get(c.Context(), c.Params("id"), middleware.ActorID(c))
	if err != nil {
		return response.AppError(c, err)
	}
	return response.Success(c, "OK", fiber.Map{"offer": offer}, nil)
}

// Accept POST /api/v1/marketplace/offers/:id/accept
func (h *Handlers) Accept(c *fiber.Ctx) error {
	txn, err := h.Service.Accept(c.Context(), c.Params("id"), middleware.ActorID(c))
	if err != nil {
		return response.AppError(c, err)
	}
	return response.Success(c, "Offer accepted", fiber.Map{"transaction": txn}, nil)
}

// Reject POST /api/v1/marketplace/offers/:id/reject
func (h *Handlers) Reject(c *fiber.Ctx) error {
	var req RejectRequest
	_ = c.BodyParser(&req)
	if err := h.Service.Reject(c.Context(), c.Params("id"), middleware.ActorID(c), req.Reason); err != nil {
		return response.AppError(c, err)
	}
	return response.Success(c, "Offer rejected", nil, nil)
}

// Counter POST /api/v1/marketplace/offers/:id/counter
func (h *Handlers) Counter(c *fiber.Ctx) error {
	var req CounterRequest
	if err := c.BodyParser(&req); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}
	child, err := h.Service.Counter(c.Context(), c.Params("id"), middleware.ActorID(c), offersvc.CounterInput{
		NewPrice: req.NewPrice,
		Message:  req.Message,
	})
	if err != nil {
		return response.AppError(c, err)
	}
	return response.SuccessCreated(c, "Counter-offer sent", fiber.Map{"offer": child}, nil)
}

// AcceptCounter POST /api/v1/marketplace/offers/:id/counter/accept
func (h *Handlers) AcceptCounter(c *fiber.Ctx) error {
	txn, err := h.Service.AcceptCounter(c.Context(), c.Params("id"), middleware.ActorID(c))
	if err != nil {
		return response.AppError(c, err)
	}
	return response.Success(c, "Counter-offer accepted", fiber.Map{"transaction": txn}, nil)
}

// RejectCounter POST /api/v1/marketplace/offers/:id/counter/reject
func (h *Handlers) RejectCounter(c *fiber.Ctx) error {
	if err := h.Service.RejectCounter(c.Context(), c.Params("id"), middleware.ActorID(c)); err != nil {
		return response.AppError(c, err)
	}
	return response.Success(c, "Counter-offer declined", nil, nil)
}

// Withdraw POST /api/v1/marketplace/offers/:id/withdraw
func (h *Handlers) Withdraw(c *fiber.Ctx) error {
	if err := h.Service.Withdraw(c.Context(), c.Params("id"), middleware.ActorID(c)); err != nil {
		return response.AppError(c, err)
	}
	return response.Success(c, "Offer withdrawn", nil, nil)
}
