package auth

import (
	"context"

	authsvc "kraal-backend/internal/application/auth"
	"kraal-backend/internal/domain"
	"kraal-backend/internal/middleware"
	"kraal-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// Handlers holds the auth service plus session wiring for login/logout.
type Handlers struct {
	Service *authsvc.Service
	Rdb     *redis.Client
	Config  middleware.SessionConfig
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register POST /api/v1/auth/register
func (h *Handlers) Register(c *fiber.Ctx) error {
	var req authsvc.RegisterInput
	if err := c.BodyParser(&req); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}
	u, err := h.Service.Register(c.Context(), req)
	if err != nil {
		return response.AppError(c, err)
	}
	h.openSession(c, u)
	return response.SuccessCreated(c, "Account created", fiber.Map{"user": safeUser(u)}, nil)
}

// Login POST /api/v1/auth/login
func (h *Handlers) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}
	u, err := h.Service.Login(c.Context(), req.Email, req.Password)
	if err != nil {
		return response.AppError(c, err)
	}
	h.openSession(c, u)
	return response.Success(c, "Logged in", fiber.Map{"user": safeUser(u)}, nil)
}

// Logout POST /api/v1/auth/logout
func (h *Handlers) Logout(c *fiber.Ctx) error {
	if sid := middleware.GetSessionID(c); sid != "" && h.Rdb != nil {
		_ = h.Rdb.Del(context.Background(), middleware.SessionRedisPrefix+sid).Err()
	}
	middleware.DestroySession(c)
	cookie := middleware.SessionCookieConfig(h.Config)
	cookie.MaxAge = -1
	c.Cookie(&cookie)
	return response.Success(c, "Logged out", nil, nil)
}

// Me GET /api/v1/auth/me
func (h *Handlers) Me(c *fiber.Ctx) error {
	actorID := middleware.ActorID(c)
	if actorID == "" {
		return response.Unauthorized(c, "Unauthorized")
	}
	u, err := h.Service.Get(c.Context(), actorID)
	if err != nil {
		return response.AppError(c, err)
	}
	return response.Success(c, "OK", fiber.Map{"user": safeUser(u)}, nil)
}

func (h *Handlers) openSession(c *fiber.Ctx, u *domain.User) {
	sid := middleware.RegenerateSessionID(c)
	middleware.SetSessionUser(c, middleware.SessionUser{
		UserID: u.ID,
		Name:   u.DisplayName(u.Email),
		Email:  u.Email,
	})
	cookie := middleware.SessionCookieConfig(h.Config)
	cookie.Value = sid
	c.Cookie(&cookie)
}

func safeUser(u *domain.User) fiber.Map {
	return fiber.Map{
		"id":         u.ID,
		"first_name": u.FirstName,
		"last_name":  u.LastName,
		"email":      u.Email,
		"phone":      u.Phone,
	}
}
