package rest

import (
	"github.com/CYM-Peru/Bot-AI-V1-sub006/crm/usecase"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/utils"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/validations"
	"github.com/gofiber/fiber/v2"
)

// ChannelHandler administra las conexiones WhatsApp. Los tokens nunca salen
// en las respuestas (el dominio los serializa como "-").
type ChannelHandler struct {
	channels usecase.IChannelUsecase
}

func NewChannelHandler(channels usecase.IChannelUsecase) *ChannelHandler {
	return &ChannelHandler{channels: channels}
}

func (h *ChannelHandler) Register(router fiber.Router, adminOnly fiber.Handler) {
	conns := router.Group("/connections/whatsapp")
	conns.Get("/list", h.List)
	conns.Post("/save", adminOnly, h.Save)
	conns.Get("/check", adminOnly, h.Check)
	conns.Post("/test", adminOnly, h.Test)
	conns.Post("/:id/verify", adminOnly, h.Verify)
	conns.Delete("/:id", adminOnly, h.Delete)
}

func (h *ChannelHandler) List(c *fiber.Ctx) error {
	channels, err := h.channels.List(c.UserContext())
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{Status: 200, Code: "SUCCESS", Message: "Connections listed", Results: channels})
}

func (h *ChannelHandler) Save(c *fiber.Ctx) error {
	var req usecase.ChannelSaveRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
	}
	validations.ValidateChannelSave(req)

	ch, err := h.channels.Save(c.UserContext(), req)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{Status: 200, Code: "SUCCESS", Message: "Connection saved", Results: ch})
}

// Check valida las credenciales guardadas contra el Graph API sin enviar nada.
func (h *ChannelHandler) Check(c *fiber.Ctx) error {
	meta, err := h.channels.Check(c.UserContext(), c.Query("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{Status: 200, Code: "SUCCESS", Message: "Connection is valid", Results: meta})
}

// Test envía un mensaje real por el canal hacia el número indicado.
func (h *ChannelHandler) Test(c *fiber.Ctx) error {
	var req struct {
		ID      string `json:"id"`
		ToPhone string `json:"to_phone"`
		Body    string `json:"body"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
	}

	wamid, err := h.channels.Test(c.UserContext(), req.ID, req.ToPhone, req.Body)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Test message sent",
		Results: map[string]string{"provider_message_id": wamid},
	})
}

func (h *ChannelHandler) Verify(c *fiber.Ctx) error {
	ch, err := h.channels.Verify(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{Status: 200, Code: "SUCCESS", Message: "Connection verified", Results: ch})
}

func (h *ChannelHandler) Delete(c *fiber.Ctx) error {
	err := h.channels.Delete(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{Status: 200, Code: "SUCCESS", Message: "Connection deleted"})
}
