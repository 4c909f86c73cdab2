package rest

import (
	"time"

	"github.com/CYM-Peru/Bot-AI-V1-sub006/crm/domain"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/utils"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/ui/rest/middleware"
	"github.com/gofiber/fiber/v2"
)

// MaintenanceHandler lista las alertas que escribe el reconciliador y los
// tickets de soporte levantados por operadores.
type MaintenanceHandler struct {
	metrics domain.IMetricsRepository
}

func NewMaintenanceHandler(metrics domain.IMetricsRepository) *MaintenanceHandler {
	return &MaintenanceHandler{metrics: metrics}
}

func (h *MaintenanceHandler) Register(router fiber.Router) {
	router.Get("/maintenance/alerts", h.ListAlerts)
	router.Post("/maintenance/alerts/:id/resolve", h.ResolveAlert)

	tickets := router.Group("/tickets")
	tickets.Get("/", h.ListTickets)
	tickets.Post("/", h.CreateTicket)
	tickets.Post("/:id/close", h.CloseTicket)
}

func (h *MaintenanceHandler) ListAlerts(c *fiber.Ctx) error {
	alerts, err := h.metrics.ListAlerts(c.UserContext(), c.QueryBool("include_resolved"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{Status: 200, Code: "SUCCESS", Message: "Alerts listed", Results: alerts})
}

func (h *MaintenanceHandler) ResolveAlert(c *fiber.Ctx) error {
	err := h.metrics.ResolveAlert(c.UserContext(), c.Params("id"), time.Now().UTC())
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{Status: 200, Code: "SUCCESS", Message: "Alert resolved"})
}

func (h *MaintenanceHandler) ListTickets(c *fiber.Ctx) error {
	status := domain.TicketStatus(c.Query("status", string(domain.TicketOpen)))
	tickets, err := h.metrics.ListTickets(c.UserContext(), status)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{Status: 200, Code: "SUCCESS", Message: "Tickets listed", Results: tickets})
}

func (h *MaintenanceHandler) CreateTicket(c *fiber.Ctx) error {
	var req struct {
		ConversationID string `json:"conversation_id"`
		Subject        string `json:"subject"`
		Detail         string `json:"detail"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
	}
	if req.Subject == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "subject is required"})
	}

	ticket := domain.SupportTicket{
		ConversationID: req.ConversationID,
		Subject:        req.Subject,
		Detail:         req.Detail,
		Status:         domain.TicketOpen,
		CreatedBy:      middleware.AdvisorID(c),
	}
	err := h.metrics.CreateTicket(c.UserContext(), &ticket)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{Status: 200, Code: "SUCCESS", Message: "Ticket created", Results: ticket})
}

func (h *MaintenanceHandler) CloseTicket(c *fiber.Ctx) error {
	tickets, err := h.metrics.ListTickets(c.UserContext(), domain.TicketOpen)
	utils.PanicIfNeeded(err)

	for _, t := range tickets {
		if t.ID == c.Params("id") {
			t.Status = domain.TicketClosed
			t.UpdatedAt = time.Now().UTC()
			utils.PanicIfNeeded(h.metrics.UpdateTicket(c.UserContext(), t))
			return c.JSON(utils.ResponseData{Status: 200, Code: "SUCCESS", Message: "Ticket closed", Results: t})
		}
	}
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "open ticket not found"})
}
