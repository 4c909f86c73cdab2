package rest

import (
	"github.com/CYM-Peru/Bot-AI-V1-sub006/crm/domain"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/crm/usecase"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/utils"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/validations"
	"github.com/gofiber/fiber/v2"
)

type CampaignHandler struct {
	campaigns usecase.ICampaignUsecase
}

func NewCampaignHandler(campaigns usecase.ICampaignUsecase) *CampaignHandler {
	return &CampaignHandler{campaigns: campaigns}
}

func (h *CampaignHandler) Register(router fiber.Router, adminOnly fiber.Handler) {
	campaigns := router.Group("/campaigns", adminOnly)
	campaigns.Get("/", h.List)
	campaigns.Get("/:id", h.Get)
	campaigns.Get("/:id/details", h.Details)
	campaigns.Post("/", h.Save)
	campaigns.Put("/:id", h.Save)
	campaigns.Delete("/:id", h.Delete)
	campaigns.Post("/:id/schedule", h.Schedule)
}

func (h *CampaignHandler) List(c *fiber.Ctx) error {
	campaigns, err := h.campaigns.List(c.UserContext())
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{Status: 200, Code: "SUCCESS", Message: "Campaigns listed", Results: campaigns})
}

func (h *CampaignHandler) Get(c *fiber.Ctx) error {
	camp, err := h.campaigns.Get(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{Status: 200, Code: "SUCCESS", Message: "Campaign", Results: camp})
}

func (h *CampaignHandler) Details(c *fiber.Ctx) error {
	details, err := h.campaigns.Details(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{Status: 200, Code: "SUCCESS", Message: "Campaign details", Results: details})
}

func (h *CampaignHandler) Save(c *fiber.Ctx) error {
	var camp domain.Campaign
	if err := c.BodyParser(&camp); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
	}
	if id := c.Params("id"); id != "" {
		camp.ID = id
	}
	validations.ValidateCampaignSave(camp)

	err := h.campaigns.Save(c.UserContext(), &camp)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{Status: 200, Code: "SUCCESS", Message: "Campaign saved", Results: camp})
}

func (h *CampaignHandler) Delete(c *fiber.Ctx) error {
	err := h.campaigns.Delete(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{Status: 200, Code: "SUCCESS", Message: "Campaign deleted"})
}

// Schedule valida el cron de la campaña y la deja lista para el scheduler.
func (h *CampaignHandler) Schedule(c *fiber.Ctx) error {
	err := h.campaigns.Schedule(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{Status: 200, Code: "SUCCESS", Message: "Campaign scheduled"})
}
