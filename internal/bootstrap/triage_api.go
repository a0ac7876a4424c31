package bootstrap

import (
	"time"

	"triage_server/adapter/in/http"
	"triage_server/config"
	"triage_server/infra/middleware"
	"triage_server/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
)

// NewAPI builds the HTTP server over its own dependency set.
func NewAPI(cfg *config.Config) (*fiber.App, func(), error) {
	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize dependencies")
		return nil, nil, err
	}
	return NewAPIWithDeps(cfg, deps), cleanup, nil
}

// NewAPIWithDeps mounts every route on deps.
func NewAPIWithDeps(cfg *config.Config, deps *Dependencies) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          60 * time.Second,
		BodyLimit:             10 * 1024 * 1024,

		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,
	})

	// Global middleware stack (order matters)
	app.Use(middleware.Recover())
	app.Use(middleware.RequestID())
	app.Use(middleware.SecurityHeaders())
	app.Use(middleware.CORS(cfg.AllowedOrigins()))
	app.Use(middleware.RequestLogger())
	app.Use(compress.New(compress.Config{Level: compress.LevelBestSpeed}))

	// Public routes
	checks := make(map[string]http.PingFunc)
	for name, ping := range deps.Pingers() {
		checks[name] = ping
	}
	http.NewHealthHandler(checks).Register(app)
	http.NewAuthHandler(deps.AuthService).Register(app)

	userHandler := http.NewUserHandler(deps.AuthService)
	userHandler.RegisterPublic(app)

	// Protected routes
	api := app.Group("", middleware.JWTAuth(deps.Tokens, deps.UserRepo))
	if deps.Redis != nil && cfg.RateLimitPerMinute > 0 {
		api.Use(middleware.NewRateLimiter(deps.Redis, cfg.RateLimitPerMinute, time.Minute).Handler())
	}

	userHandler.Register(api)
	http.NewMailHandler(deps.MailService).Register(api)
	http.NewSnoozeHandler(deps.SnoozeService).Register(api)

	logger.Info("API server initialized")
	return app
}
