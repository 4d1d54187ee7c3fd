package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	authsvc "kraal-backend/internal/application/auth"
	"kraal-backend/internal/domain"
	"kraal-backend/internal/middleware"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// setupAuthTest wires the real session middleware against a miniredis so the
// full cookie round-trip is exercised.
func setupAuthTest(t *testing.T) (*fiber.App, *miniredis.Miniredis, *gorm.DB) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.User{}))

	mr := miniredis.RunT(t)
	cfg := middleware.SessionConfig{RedisURL: "redis://" + mr.Addr()}
	session, rdb, err := middleware.Session(cfg)
	require.NoError(t, err)

	h := &Handlers{Service: &authsvc.Service{DB: db}, Rdb: rdb, Config: cfg}

	app := fiber.New()
	app.Use(session)
	app.Post("/auth/register", h.Register)
	app.Post("/auth/login", h.Login)
	app.Post("/auth/logout", middleware.RequireAuth(), h.Logout)
	app.Get("/auth/me", middleware.RequireAuth(), h.Me)
	return app, mr, db
}

func jsonReq(method, target string, body interface{}) *http.Request {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(method, target, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func sessionCookie(t *testing.T, resp *http.Response) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == middleware.SessionCookieName {
			return c
		}
	}
	t.Fatal("no session cookie set")
	return nil
}

func TestRegisterAndMe(t *testing.T) {
	app, mr, _ := setupAuthTest(t)

	resp, err := app.Test(jsonReq("POST", "/auth/register", fiber.Map{
		"first_name": "Ana",
		"last_name":  "Prieto",
		"email":      "Ana@Example.com",
		"password":   "hunter2!A",
	}))
	require.NoError(t, err)
	assert.Equal(t, 201, resp.StatusCode)

	cookie := sessionCookie(t, resp)
	assert.NotEmpty(t, cookie.Value)
	// Session landed in Redis
	stored, err := mr.Get(middleware.SessionRedisPrefix + cookie.Value)
	require.NoError(t, err)
	assert.Contains(t, stored, "ana@example.com")

	req := httptest.NewRequest("GET", "/auth/me", nil)
	req.AddCookie(cookie)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	var out struct {
		Data struct {
			User struct {
				Email string `json:"email"`
			} `json:"user"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "ana@example.com", out.Data.User.Email)
}

func TestMe_Unauthenticated(t *testing.T) {
	app, _, _ := setupAuthTest(t)
	resp, err := app.Test(httptest.NewRequest("GET", "/auth/me", nil))
	require.NoError(t, err)
	assert.Equal(t, 401, resp.StatusCode)
}

func TestLogin(t *testing.T) {
	app, _, _ := setupAuthTest(t)
	resp, err := app.Test(jsonReq("POST", "/auth/register", fiber.Map{
		"first_name": "Ana", "last_name": "Prieto",
		"email": "ana@example.com", "password": "hunter2!A",
	}))
	require.NoError(t, err)
	require.Equal(t, 201, resp.StatusCode)

	resp, err = app.Test(jsonReq("POST", "/auth/login", fiber.Map{
		"email": "ana@example.com", "password": "wrong-pass1!",
	}))
	require.NoError(t, err)
	assert.Equal(t, 403, resp.StatusCode)

	resp, err = app.Test(jsonReq("POST", "/auth/login", fiber.Map{
		"email": "ANA@example.com", "password": "hunter2!A",
	}))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.NotEmpty(t, sessionCookie(t, resp).Value)
}

func TestLogin_RotatesSessionID(t *testing.T) {
	app, _, _ := setupAuthTest(t)
	resp, err := app.Test(jsonReq("POST", "/auth/register", fiber.Map{
		"first_name": "Ana", "last_name": "Prieto",
		"email": "ana@example.com", "password": "hunter2!A",
	}))
	require.NoError(t, err)
	first := sessionCookie(t, resp)

	req := jsonReq("POST", "/auth/login", fiber.Map{
		"email": "ana@example.com", "password": "hunter2!A",
	})
	req.AddCookie(first)
	resp, err = app.Test(req)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	assert.NotEqual(t, first.Value, sessionCookie(t, resp).Value)
}

func TestLogout(t *testing.T) {
	app, mr, _ := setupAuthTest(t)
	resp, err := app.Test(jsonReq("POST", "/auth/register", fiber.Map{
		"first_name": "Ana", "last_name": "Prieto",
		"email": "ana@example.com", "password": "hunter2!A",
	}))
	require.NoError(t, err)
	cookie := sessionCookie(t, resp)

	req := httptest.NewRequest("POST", "/auth/logout", nil)
	req.AddCookie(cookie)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.False(t, mr.Exists(middleware.SessionRedisPrefix+cookie.Value))

	// Old cookie is dead
	req = httptest.NewRequest("GET", "/auth/me", nil)
	req.AddCookie(cookie)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 401, resp.StatusCode)
}
