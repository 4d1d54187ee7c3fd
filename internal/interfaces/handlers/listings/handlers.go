package listings

import (
	listingsvc "kraal-backend/internal/application/listings"
	"kraal-backend/internal/domain"
	"kraal-backend/internal/middleware"
	"kraal-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// Handlers exposes the listing registry.
type Handlers struct {
	Service *listingsvc.Service
}

type CreateRequest struct {
	FarmID      string                 `json:"farm_id"`
	ListingType string                 `json:"listing_type"`
	BatchID     string                 `json:"batch_id"`
	SubjectIDs  []string               `json:"subject_ids"`
	PricePerKg  float64                `json:"price_per_kg"`
	WeightKg    float64                `json:"weight_kg"`
	SaleTerms   map[string]interface{} `json:"sale_terms"`
}

type UpdateRequest struct {
	PricePerKg *float64               `json:"price_per_kg"`
	WeightKg   *float64               `json:"weight_kg"`
	SaleTerms  map[string]interface{} `json:"sale_terms"`
}

// Create POST /api/v1/marketplace/listings
func (h *Handlers) Create(c *fiber.Ctx) error {
	actorID := middleware.ActorID(c)
	var req CreateRequest
	if err := c.BodyParser(&req); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}
	if req.ListingType == "" {
		req.ListingType = domain.ListingTypeIndividual
	}
	listing, err := h.Service.Create(c.Context(), listingsvc.CreateInput{
		ProducerID:  actorID,
		FarmID:      req.FarmID,
		ListingType: req.ListingType,
		BatchID:     req.BatchID,
		SubjectIDs:  req.SubjectIDs,
		PricePerKg:  req.PricePerKg,
		WeightKg:    req.WeightKg,
		SaleTerms:   req.SaleTerms,
	})
	if err != nil {
		return response.AppError(c, err)
	}
	return response.SuccessCreated(c, "Listing created", fiber.Map{"listing": listing}, nil)
}

// List GET /api/v1/marketplace/listings
func (h *Handlers) List(c *fiber.Ctx) error {
	f := listingsvc.Filter{
		Status: c.Query("status"),
		FarmID: c.Query("farm_id"),
	}
	if c.Query("mine") == "true" {
		f.ProducerID = middleware.ActorID(c)
	}
	out, err := h.Service.List(c.Context(), f)
	if err != nil {
		return response.AppError(c, err)
	}
	return response.Success(c, "OK", fiber.Map{"listings": out, "count": len(out)}, nil)
}

// Get GET /api/v1/marketplace/listings/:id
func (h *Handlers) Get(c *fiber.Ctx) error {
	listing, err := h.Service.Get(c.Context(), c.Params("id"))
	if err != nil {
		return response.AppError(c, err)
	}
	return response.Success(c, "OK", fiber.Map{"listing": listing}, nil)
}

// Update PATCH /api/v1/marketplace/listings/:id
func (h *Handlers) Update(c *fiber.Ctx) error {
	var req UpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}
	listing, err := h.Service.Update(c.Context(), c.Params("id"), middleware.ActorID(c), listingsvc.UpdateInput{
		PricePerKg: req.PricePerKg,
		WeightKg:   req.WeightKg,
		SaleTerms:  req.SaleTerms,
	})
	if err != nil {
		return response.AppError(c, err)
	}
	return response.Success(c, "Listing updated", fiber.Map{"listing": listing}, nil)
}

// Remove DELETE /api/v1/marketplace/listings/:id
func (h *Handlers) Remove(c *fiber.Ctx) error {
	if err := h.Service.MarkRemoved(c.Context(), c.Params("id"), middleware.ActorID(c)); err != nil {
		return response.AppError(c, err)
	}
	return response.Success(c, "Listing removed", nil, nil)
}
