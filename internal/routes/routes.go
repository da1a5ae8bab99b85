package routes

import (
	"time"

	"github.com/glebrm/inspect-backend/internal/config"
	"github.com/glebrm/inspect-backend/internal/handlers"
	"github.com/glebrm/inspect-backend/internal/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

func Setup(
	app *fiber.App,
	cfg *config.Config,
	authHandler *handlers.AuthHandler,
	healthHandler *handlers.HealthHandler,
	inspectionHandler *handlers.InspectionHandler,
) {
	api := app.Group("/api")

	// General API rate limiter: 60 req/min per IP
	api.Use(limiter.New(limiter.Config{
		Max:               60,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
	}))

	api.Get("/health", healthHandler.Check)

	// Auth routes exist only when a database backs the identity store.
	// Local mode runs with a fixed identity instead.
	if !cfg.LocalMode() {
		// Auth-specific rate limit: 10 req/min per IP (stricter)
		auth := api.Group("/auth")
		auth.Use(limiter.New(limiter.Config{
			Max:               10,
			Expiration:        1 * time.Minute,
			LimiterMiddleware: limiter.SlidingWindow{},
			KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
		}))
		auth.Post("/register", authHandler.Register)
		auth.Post("/login", authHandler.Login)
		auth.Post("/refresh", authHandler.Refresh)

		api.Post("/auth/logout", middleware.JWTProtected(cfg), authHandler.Logout)
		api.Delete("/auth/account", middleware.JWTProtected(cfg), authHandler.DeleteAccount)
	}

	identity := middleware.JWTProtected(cfg)
	if cfg.LocalMode() {
		identity = middleware.LocalIdentity()
	}
	protected := api.Group("/p", identity)

	inspections := protected.Group("/inspections")
	inspections.Post("/capture", inspectionHandler.Capture)

	inspections.Get("/draft", inspectionHandler.GetDraft)
	inspections.Patch("/draft", inspectionHandler.PatchDraft)
	inspections.Delete("/draft", inspectionHandler.DiscardDraft)
	inspections.Post("/draft/commit", inspectionHandler.CommitDraft)
	inspections.Post("/draft/defects", inspectionHandler.AddDraftDefect)
	inspections.Patch("/draft/defects/:defect_id", inspectionHandler.PatchDraftDefect)
	inspections.Delete("/draft/defects/:defect_id", inspectionHandler.DeleteDraftDefect)
	inspections.Post("/draft/comments", inspectionHandler.AddDraftComment)
	inspections.Delete("/draft/comments/:comment_id", inspectionHandler.DeleteDraftComment)

	inspections.Get("/", inspectionHandler.List)
	inspections.Get("/calendar", inspectionHandler.Calendar)
	inspections.Get("/watch", inspectionHandler.Watch)
	inspections.Get("/:id", inspectionHandler.GetByID)
	inspections.Patch("/:id", inspectionHandler.PatchRecord)
	inspections.Delete("/:id", inspectionHandler.DeleteRecord)
	inspections.Post("/:id/defects", inspectionHandler.AddRecordDefect)
	inspections.Patch("/:id/defects/:defect_id", inspectionHandler.PatchRecordDefect)
	inspections.Delete("/:id/defects/:defect_id", inspectionHandler.DeleteRecordDefect)
	inspections.Post("/:id/comments", inspectionHandler.AddRecordComment)
	inspections.Delete("/:id/comments/:comment_id", inspectionHandler.DeleteRecordComment)
}
