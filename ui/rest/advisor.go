package rest

import (
	"github.com/CYM-Peru/Bot-AI-V1-sub006/crm/domain"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/crm/usecase"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/utils"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/validations"
	"github.com/gofiber/fiber/v2"
)

// AdvisorHandler administra el catálogo de asesores y estados. Las rutas de
// escritura exigen rol admin o supervisor (aplicado al registrar).
type AdvisorHandler struct {
	advisors usecase.IAdvisorUsecase
}

func NewAdvisorHandler(advisors usecase.IAdvisorUsecase) *AdvisorHandler {
	return &AdvisorHandler{advisors: advisors}
}

func (h *AdvisorHandler) Register(router fiber.Router, adminOnly fiber.Handler) {
	advisors := router.Group("/advisors")
	advisors.Get("/", h.List)
	advisors.Get("/statuses", h.ListStatuses)
	advisors.Get("/:id/activity", h.Activity)
	advisors.Post("/", adminOnly, h.Create)
	advisors.Put("/:id", adminOnly, h.Update)
	advisors.Delete("/:id", adminOnly, h.Delete)
	advisors.Post("/statuses", adminOnly, h.SaveStatus)
	advisors.Delete("/statuses/:id", adminOnly, h.DeleteStatus)
}

func (h *AdvisorHandler) List(c *fiber.Ctx) error {
	advisors, err := h.advisors.List(c.UserContext())
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{Status: 200, Code: "SUCCESS", Message: "Advisors listed", Results: advisors})
}

func (h *AdvisorHandler) Create(c *fiber.Ctx) error {
	var req validations.AdvisorSaveRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
	}
	validations.ValidateAdvisorSave(req, true)

	adv := domain.Advisor{
		Username:    req.Username,
		DisplayName: req.DisplayName,
		Role:        domain.AdvisorRole(req.Role),
	}
	err := h.advisors.Create(c.UserContext(), &adv, req.Password)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{Status: 200, Code: "SUCCESS", Message: "Advisor created", Results: adv})
}

func (h *AdvisorHandler) Update(c *fiber.Ctx) error {
	var req validations.AdvisorSaveRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
	}
	validations.ValidateAdvisorSave(req, false)

	current, err := h.advisors.Get(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	current.Username = req.Username
	current.DisplayName = req.DisplayName
	if req.Role != "" {
		current.Role = domain.AdvisorRole(req.Role)
	}
	err = h.advisors.Update(c.UserContext(), current, req.Password)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{Status: 200, Code: "SUCCESS", Message: "Advisor updated", Results: current})
}

func (h *AdvisorHandler) Delete(c *fiber.Ctx) error {
	err := h.advisors.Delete(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{Status: 200, Code: "SUCCESS", Message: "Advisor deleted"})
}

func (h *AdvisorHandler) ListStatuses(c *fiber.Ctx) error {
	statuses, err := h.advisors.ListStatuses(c.UserContext())
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{Status: 200, Code: "SUCCESS", Message: "Statuses listed", Results: statuses})
}

func (h *AdvisorHandler) SaveStatus(c *fiber.Ctx) error {
	var st domain.AdvisorStatus
	if err := c.BodyParser(&st); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
	}
	err := h.advisors.SaveStatus(c.UserContext(), &st)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{Status: 200, Code: "SUCCESS", Message: "Status saved", Results: st})
}

func (h *AdvisorHandler) DeleteStatus(c *fiber.Ctx) error {
	err := h.advisors.DeleteStatus(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{Status: 200, Code: "SUCCESS", Message: "Status deleted"})
}

func (h *AdvisorHandler) Activity(c *fiber.Ctx) error {
	entries, err := h.advisors.Activity(c.UserContext(), c.Params("id"), c.QueryInt("limit"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{Status: 200, Code: "SUCCESS", Message: "Activity listed", Results: entries})
}
