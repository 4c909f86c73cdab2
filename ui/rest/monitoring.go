package rest

import (
	"github.com/CYM-Peru/Bot-AI-V1-sub006/core/config"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/activitymon"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/msgworker"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

// MonitoringHandler expone el anillo de actividad y las métricas del worker
// pool para la UI de operaciones.
type MonitoringHandler struct {
	pool *msgworker.MessageWorkerPool
}

func NewMonitoringHandler(pool *msgworker.MessageWorkerPool) *MonitoringHandler {
	return &MonitoringHandler{pool: pool}
}

func (h *MonitoringHandler) Register(router fiber.Router) {
	router.Get("/monitoring", h.Overview)
	router.Get("/monitoring/workers", h.Workers)
	router.Get("/settings", h.Settings)
}

func (h *MonitoringHandler) Overview(c *fiber.Ctx) error {
	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Activity stats",
		Results: activitymon.GetStats(),
	})
}

func (h *MonitoringHandler) Workers(c *fiber.Ctx) error {
	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Worker pool stats",
		Results: h.pool.GetStats(),
	})
}

func (h *MonitoringHandler) Settings(c *fiber.Ctx) error {
	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Runtime settings",
		Results: config.GetAllSettings(),
	})
}
