package handlers

import (
	"time"

	"github.com/glebrm/inspect-backend/internal/config"
	"github.com/glebrm/inspect-backend/internal/database"
	"github.com/glebrm/inspect-backend/internal/dto"
	"github.com/gofiber/fiber/v2"
)

type HealthHandler struct {
	cfg *config.Config
}

func NewHealthHandler(cfg *config.Config) *HealthHandler {
	return &HealthHandler{cfg: cfg}
}

func (h *HealthHandler) Check(c *fiber.Ctx) error {
	storeStatus := "local"
	if !h.cfg.LocalMode() {
		storeStatus = "ok"
		if err := database.Ping(); err != nil {
			storeStatus = "unhealthy: " + err.Error()
		}
	}

	return c.JSON(dto.HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Store:     storeStatus,
	})
}
