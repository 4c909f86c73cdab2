package rest

import (
	"time"

	"github.com/CYM-Peru/Bot-AI-V1-sub006/infrastructure/valkey"
	"github.com/gofiber/fiber/v2"
)

// HealthHandler responde el liveness básico. No toca la base: un health check
// no debe caerse porque una consulta lenta sature el pool.
type HealthHandler struct {
	version string
	vk      *valkey.Client
	started time.Time
}

func NewHealthHandler(version string, vk *valkey.Client) *HealthHandler {
	return &HealthHandler{version: version, vk: vk, started: time.Now()}
}

func (h *HealthHandler) Register(router fiber.Router) {
	router.Get("/health", h.Health)
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	valkeyStatus := "disabled"
	if h.vk != nil {
		if h.vk.IsConnected() {
			valkeyStatus = "ok"
		} else {
			valkeyStatus = "down"
		}
	}
	return c.JSON(fiber.Map{
		"status":         "ok",
		"version":        h.version,
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
		"valkey":         valkeyStatus,
	})
}
