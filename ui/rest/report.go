package rest

import (
	"github.com/CYM-Peru/Bot-AI-V1-sub006/crm/usecase"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

// ReportHandler sirve los reportes operativos como texto TOON. El consumidor
// típico es un agente de IA, así que la respuesta es text/plain estable.
type ReportHandler struct {
	reports usecase.IReportUsecase
}

func NewReportHandler(reports usecase.IReportUsecase) *ReportHandler {
	return &ReportHandler{reports: reports}
}

func (h *ReportHandler) Register(router fiber.Router) {
	reports := router.Group("/reports")
	reports.Get("/daily", h.Daily)
	reports.Get("/weekly", h.Weekly)
	reports.Get("/performance", h.Performance)
	reports.Get("/problems", h.Problems)
}

func (h *ReportHandler) Daily(c *fiber.Ctx) error {
	report, err := h.reports.Daily(c.UserContext(), c.Query("day"))
	utils.PanicIfNeeded(err)
	return sendToon(c, report)
}

func (h *ReportHandler) Weekly(c *fiber.Ctx) error {
	report, err := h.reports.Weekly(c.UserContext(), c.Query("to"))
	utils.PanicIfNeeded(err)
	return sendToon(c, report)
}

func (h *ReportHandler) Performance(c *fiber.Ctx) error {
	report, err := h.reports.Performance(c.UserContext(), c.QueryInt("days"))
	utils.PanicIfNeeded(err)
	return sendToon(c, report)
}

func (h *ReportHandler) Problems(c *fiber.Ctx) error {
	report, err := h.reports.Problems(c.UserContext())
	utils.PanicIfNeeded(err)
	return sendToon(c, report)
}

func sendToon(c *fiber.Ctx, report string) error {
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.SendString(report)
}
