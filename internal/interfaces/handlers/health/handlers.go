package health

import (
	"context"
	"time"

	"kraal-backend/internal/middleware"
	"kraal-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Handlers reports service health: database and Redis reachability plus the
// request counters kept by the health marker middleware.
type Handlers struct {
	DB       *gorm.DB
	Rdb      *redis.Client
	AdminKey string
}

// Health GET /health
func (h *Handlers) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
	defer cancel()

	dbStatus := "up"
	if sqlDB, err := h.DB.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
		dbStatus = "down"
	}
	redisStatus := "up"
	if h.Rdb == nil || h.Rdb.Ping(ctx).Err() != nil {
		redisStatus = "down"
	}

	stats := fiber.Map{}
	if h.Rdb != nil {
		total, _ := h.Rdb.Get(ctx, middleware.KeyReqTotal).Int64()
		errors, _ := h.Rdb.Get(ctx, middleware.KeyReqErrors).Int64()
		resTime, _ := h.Rdb.Get(ctx, middleware.KeyResTime).Float64()
		resCount, _ := h.Rdb.Get(ctx, middleware.KeyResCount).Int64()
		avg := 0.0
		if resCount > 0 {
			avg = resTime / float64(resCount)
		}
		stats = fiber.Map{
			"requests_total":   total,
			"requests_errors":  errors,
			"avg_response_ms":  avg,
			"responses_logged": resCount,
		}
	}

	status := fiber.StatusOK
	overall := "ok"
	if dbStatus == "down" || redisStatus == "down" {
		status = fiber.StatusServiceUnavailable
		overall = "degraded"
	}
	return c.Status(status).JSON(fiber.Map{
		"status":   overall,
		"database": dbStatus,
		"redis":    redisStatus,
		"stats":    stats,
		"time":     time.Now().UTC(),
	})
}

// Reset POST /health/reset clears the request counters, admin key required.
func (h *Handlers) Reset(c *fiber.Ctx) error {
	if h.AdminKey == "" || c.Get("X-Admin-Key") != h.AdminKey {
		return response.Error(c, "Forbidden", fiber.StatusForbidden, nil)
	}
	if h.Rdb != nil {
		ctx := c.Context()
		h.Rdb.Del(ctx, middleware.KeyReqTotal, middleware.KeyReqErrors,
			middleware.KeyResTime, middleware.KeyResCount, middleware.KeyLastReq)
	}
	return response.Success(c, "Health counters reset", nil, nil)
}
