// Package server assembles the HTTP application.
package server

import (
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/Oldsnak/video-downloader-api/internal/events"
	"github.com/Oldsnak/video-downloader-api/internal/handler"
	"github.com/Oldsnak/video-downloader-api/internal/middleware"
	"github.com/Oldsnak/video-downloader-api/internal/ratelimit"
	"github.com/Oldsnak/video-downloader-api/internal/service"
	ws "github.com/Oldsnak/video-downloader-api/internal/websocket"
	"github.com/Oldsnak/video-downloader-api/pkg/response"
)

// Options configures the HTTP surface.
type Options struct {
	APIPrefix   string
	APIKey      string
	CORSOrigins string
	// AccessLog enables fiber's request logger.
	AccessLog bool
}

// Deps are the collaborators the routes are served by.
type Deps struct {
	Service   *service.DownloadService
	Bus       events.Subscriber
	Governor  ratelimit.Governor
	Validator *validator.Validate
	Logger    *slog.Logger
}

// New builds the fiber app with every route registered.
func New(opts Options, deps Deps) *fiber.App {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Validator == nil {
		deps.Validator = service.NewValidator()
	}
	if opts.CORSOrigins == "" {
		opts.CORSOrigins = "*"
	}

	// Initialize handlers
	downloadHandler := handler.NewDownloadHandler(deps.Service, deps.Validator)
	streamHandler := handler.NewStreamHandler(deps.Service, deps.Bus, deps.Logger)
	filesHandler := handler.NewFilesHandler(deps.Service)
	healthHandler := handler.NewHealthHandler(deps.Service)
	hub := ws.NewHub(deps.Bus, deps.Service, deps.Logger)

	// Initialize middleware
	authMiddleware := middleware.NewAuthMiddleware(opts.APIKey)
	rateLimiter := middleware.NewRateLimiter(deps.Governor, deps.Logger)

	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    1 * 1024 * 1024,
	})

	// Global middleware
	app.Use(recover.New())
	if opts.AccessLog {
		app.Use(logger.New(logger.Config{
			Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
		}))
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: opts.CORSOrigins,
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,X-API-KEY",
	}))

	// Health check
	app.Get("/health", healthHandler.Health)

	api := app.Group(opts.APIPrefix)
	api.Get("/health", healthHandler.Health)
	protected := authMiddleware.Authenticate()
	streamAuth := authMiddleware.AuthenticateStream()
	limit := rateLimiter.Limit()

	// Download routes
	download := api.Group("/download")
	download.Post("/check", protected, limit, downloadHandler.Check)
	download.Post("/info", protected, limit, downloadHandler.Info)
	download.Post("/start", protected, limit, downloadHandler.Start)
	download.Post("/cancel/:jobId", protected, limit, downloadHandler.Cancel)
	download.Get("/status/:jobId", protected, downloadHandler.Status)
	download.Get("/stream/:jobId", streamAuth, streamHandler.Stream)

	// File routes
	api.Get("/files/:jobId", streamAuth, filesHandler.Get)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/jobs/:jobId", streamAuth, websocket.New(func(c *websocket.Conn) {
		hub.HandleConnection(c, c.Params("jobId"))
	}))

	return app
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	errCode := response.CodeServiceError
	switch code {
	case fiber.StatusNotFound:
		errCode = response.CodeNotFound
	case fiber.StatusBadRequest, fiber.StatusRequestEntityTooLarge:
		errCode = response.CodeValidationError
	}

	return response.Error(c, code, errCode, message, nil)
}
