package router

import (
	authsvc "kraal-backend/internal/application/auth"
	autosalesvc "kraal-backend/internal/application/autosale"
	listsvc "kraal-backend/internal/application/listings"
	notifsvc "kraal-backend/internal/application/notifications"
	offersvc "kraal-backend/internal/application/offers"
	settlesvc "kraal-backend/internal/application/settlement"
	"kraal-backend/internal/config"
	"kraal-backend/internal/infrastructure/database"
	authhandler "kraal-backend/internal/interfaces/handlers/auth"
	autosalehandler "kraal-backend/internal/interfaces/handlers/autosale"
	healthhandler "kraal-backend/internal/interfaces/handlers/health"
	listhandler "kraal-backend/internal/interfaces/handlers/listings"
	notifhandler "kraal-backend/internal/interfaces/handlers/notifications"
	offerhandler "kraal-backend/internal/interfaces/handlers/offers"
	txhandler "kraal-backend/internal/interfaces/handlers/transactions"
	"kraal-backend/internal/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// CreateApp wires the Fiber app: middleware chain, services, routes.
func CreateApp(cfg *config.Config) (*fiber.App, *gorm.DB, *redis.Client, error) {
	app := fiber.New(fiber.Config{
		DisableStartupMessage:   true,
		ErrorHandler:            middleware.ErrorHandler,
		EnableTrustedProxyCheck: true,
	})

	app.Use(middleware.CORS(middleware.CORSConfig{
		AllowedSuffix: cfg.FrontendURLEndsWith,
		DevPassword:   cfg.DevPassword,
	}))

	sessionHandler, rdb, err := middleware.Session(middleware.SessionConfig{
		Secret:            cfg.SessionSecret,
		RedisURL:          cfg.RedisURL,
		AllowCrossSiteDev: cfg.AllowCrossSiteDev,
		IsProduction:      cfg.Env == "production",
	})
	if err != nil {
		return nil, nil, nil, err
	}
	app.Use(sessionHandler)
	app.Use(middleware.HealthMarker(rdb))
	app.Use(middleware.Tracing())
	app.Use(middleware.RouteLogger())

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := database.AutoMigrate(db); err != nil {
		return nil, nil, nil, err
	}

	RegisterRoutes(app, db, rdb, cfg)
	return app, db, rdb, nil
}

// RegisterRoutes mounts every route on app; split out so tests can mount
// against an in-memory database.
func RegisterRoutes(app *fiber.App, db *gorm.DB, rdb *redis.Client, cfg *config.Config) {
	sessionCfg := middleware.SessionConfig{
		Secret:            cfg.SessionSecret,
		RedisURL:          cfg.RedisURL,
		AllowCrossSiteDev: cfg.AllowCrossSiteDev,
		IsProduction:      cfg.Env == "production",
	}

	hh := &healthhandler.Handlers{DB: db, Rdb: rdb, AdminKey: cfg.HealthAdminKey}
	app.Get("/health", hh.Health)
	app.Post("/health/reset", hh.Reset)

	notifier := &notifsvc.Service{DB: db}
	offerSvc := &offersvc.Service{DB: db, Notifier: notifier, ExpiryDays: cfg.OfferExpiryDays}
	engine := &autosalesvc.Service{DB: db, Notifier: notifier, Offers: offerSvc}
	settleSvc := &settlesvc.Service{DB: db, Notifier: notifier}
	listingSvc := &listsvc.Service{DB: db}

	ah := &authhandler.Handlers{Service: &authsvc.Service{DB: db}, Rdb: rdb, Config: sessionCfg}
	authGroup := app.Group("/api/v1/auth")
	authGroup.Post("/register", ah.Register)
	authGroup.Post("/login", ah.Login)
	authGroup.Post("/logout", ah.Logout)
	authGroup.Get("/me", middleware.RequireAuth(), ah.Me)

	lh := &listhandler.Handlers{Service: listingSvc}
	lg := app.Group("/api/v1/marketplace/listings", middleware.RequireAuth())
	lg.Post("/", lh.Create)
	lg.Get("/", lh.List)
	lg.Get("/:id", lh.Get)
	lg.Patch("/:id", lh.Update)
	lg.Delete("/:id", lh.Remove)

	ash := &autosalehandler.Handlers{Service: engine}
	lg.Put("/:id/auto-sale", ash.UpsertSettings)
	lg.Get("/:id/auto-sale", ash.GetSettings)
	dg := app.Group("/api/v1/marketplace/decisions", middleware.RequireAuth())
	dg.Get("/", ash.ListDecisions)
	dg.Post("/:id/respond", ash.RespondDecision)

	oh := &offerhandler.Handlers{Service: offerSvc, Engine: engine}
	og := app.Group("/api/v1/marketplace/offers", middleware.RequireAuth())
	og.Post("/", oh.Create)
	og.Get("/", oh.List)
	og.Get("/:id", oh.Get)
	og.Post("/:id/accept", oh.Accept)
	og.Post("/:id/reject", oh.Reject)
	og.Post("/:id/counter", oh.Counter)
	og.Post("/:id/counter/accept", oh.AcceptCounter)
	og.Post("/:id/counter/reject", oh.RejectCounter)
	og.Post("/:id/withdraw", oh.Withdraw)

	th := &txhandler.Handlers{Service: settleSvc, AutoSettle: cfg.AutoSettle}
	tg := app.Group("/api/v1/marketplace/transactions", middleware.RequireAuth())
	tg.Get("/", th.List)
	tg.Get("/:id", th.Get)
	tg.Post("/:id/confirm-delivery", th.ConfirmDelivery)
	tg.Post("/:id/settle", th.Settle)

	nh := &notifhandler.Handlers{Service: notifier}
	ng := app.Group("/api/v1/notifications", middleware.RequireAuth())
	ng.Get("/", nh.List)
	ng.Post("/:id/read", nh.MarkRead)
}
