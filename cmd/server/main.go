package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryfiber "github.com/getsentry/sentry-go/fiber"

	"github.com/glebrm/inspect-backend/internal/config"
	"github.com/glebrm/inspect-backend/internal/database"
	"github.com/glebrm/inspect-backend/internal/extract"
	"github.com/glebrm/inspect-backend/internal/handlers"
	"github.com/glebrm/inspect-backend/internal/logging"
	"github.com/glebrm/inspect-backend/internal/middleware"
	"github.com/glebrm/inspect-backend/internal/remote"
	"github.com/glebrm/inspect-backend/internal/routes"
	"github.com/glebrm/inspect-backend/internal/services"
	"github.com/glebrm/inspect-backend/internal/session"
	"github.com/glebrm/inspect-backend/internal/store"
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
)

func main() {
	// Structured logging (JSON to stdout)
	logging.Setup()

	cfg := config.Load()

	var (
		recordStore  store.Store
		authHandler  *handlers.AuthHandler
		pgLogHandler *logging.PGHandler
		cleanupDone  chan struct{}
	)

	if cfg.LocalMode() {
		slog.Info("no database configured, running in local mode", "path", cfg.LocalStorePath)
		recordStore = store.NewFileStore(cfg.LocalStorePath)
	} else {
		if cfg.JWTSecret == "" {
			slog.Error("JWT_SECRET environment variable is required")
			os.Exit(1)
		}

		if err := database.Connect(cfg); err != nil {
			slog.Error("database connection failed", "error", err)
			os.Exit(1)
		}
		if err := database.MigrateShared(); err != nil {
			slog.Error("shared migration failed", "error", err)
			os.Exit(1)
		}

		gormStore := store.NewGormStore(database.DB)
		if err := gormStore.Migrate(); err != nil {
			slog.Error("record store migration failed", "error", err)
			os.Exit(1)
		}
		recordStore = gormStore

		// PostgreSQL log handler (ERROR+ async batch)
		pgLogHandler = logging.NewPGHandler(database.DB)
		slog.SetDefault(slog.New(logging.NewMultiHandler(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
			pgLogHandler,
		)))

		// Log cleanup (30-day retention)
		cleanupDone = make(chan struct{})
		logging.StartCleanup(database.DB, cleanupDone)

		authService := services.NewAuthService(database.DB, cfg)
		authHandler = handlers.NewAuthHandler(authService)
	}

	synchronizer := remote.NewSynchronizer(recordStore)
	sessions := session.NewManager(synchronizer)
	extractor := extract.NewVisionClient(cfg)

	healthHandler := handlers.NewHealthHandler(cfg)
	inspectionHandler := handlers.NewInspectionHandler(sessions, synchronizer, extractor)

	// Sentry error tracking
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              dsn,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
			Environment:      os.Getenv("APP_ENV"),
		}); err != nil {
			slog.Error("sentry init failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	// Fiber app
	app := fiber.New(fiber.Config{
		BodyLimit:    8 * 1024 * 1024,
		ErrorHandler: customErrorHandler,
	})

	// Sentry middleware
	app.Use(sentryfiber.New(sentryfiber.Options{
		Repanic:         true,
		WaitForDelivery: false,
	}))

	// Global middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${time} | ${status} | ${latency} | ${ip} | ${method} | ${path}\n",
	}))
	app.Use(middleware.CORS(cfg))
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-XSS-Protection", "1; mode=block")
		return c.Next()
	})

	// Routes
	routes.Setup(app, cfg, authHandler, healthHandler, inspectionHandler)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "port", cfg.Port, "local_mode", cfg.LocalMode())
		if err := app.Listen(":" + cfg.Port); err != nil {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-quit
	slog.Info("shutting down server...")

	sessions.Close()
	synchronizer.Close()
	if cleanupDone != nil {
		close(cleanupDone)
	}
	if pgLogHandler != nil {
		pgLogHandler.Stop()
	}
	sentry.Flush(2 * time.Second)

	if err := app.Shutdown(); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	if database.DB != nil {
		if sqlDB, err := database.DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				slog.Error("database close error", "error", err)
			}
		}
	}

	slog.Info("server stopped")
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal server error"
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	// Only expose error details for client errors (4xx), not server errors (5xx)
	if code >= 500 {
		slog.Error("unhandled server error", "method", c.Method(), "path", c.Path(), "error", err.Error())
		message = "Internal server error"
	}

	return c.Status(code).JSON(fiber.Map{"error": true, "message": message})
}
