package rest

import (
	"time"

	"github.com/CYM-Peru/Bot-AI-V1-sub006/crm/domain"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/crm/usecase"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/utils"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/ui/rest/middleware"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/validations"
	"github.com/gofiber/fiber/v2"
)

type ConversationHandler struct {
	conversations usecase.IConversationUsecase
}

func NewConversationHandler(conversations usecase.IConversationUsecase) *ConversationHandler {
	return &ConversationHandler{conversations: conversations}
}

func (h *ConversationHandler) Register(router fiber.Router) {
	convs := router.Group("/conversations")
	convs.Get("/", h.List)
	convs.Get("/:id", h.Get)
	convs.Get("/:id/messages", h.Messages)
	convs.Get("/:id/attachments", h.Attachments)
	convs.Post("/:id/accept", h.Accept)
	convs.Post("/:id/transfer", h.Transfer)
	convs.Post("/:id/release", h.Release)
	convs.Post("/:id/close", h.Close)
	convs.Post("/:id/send_message", h.SendMessage)
	convs.Post("/:id/read", h.MarkRead)
}

func (h *ConversationHandler) List(c *fiber.Ctx) error {
	filter := domain.ConversationFilter{
		QueueID:             c.Query("queue_id"),
		AssignedTo:          c.Query("assigned_to"),
		ChannelConnectionID: c.Query("channel_id"),
		Search:              c.Query("search"),
		Limit:               c.QueryInt("limit"),
		Offset:              c.QueryInt("offset"),
	}
	if status := c.Query("status"); status != "" {
		filter.Status = []domain.ConversationStatus{domain.ConversationStatus(status)}
	}

	convs, err := h.conversations.List(c.UserContext(), filter)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Conversations listed",
		Results: convs,
	})
}

func (h *ConversationHandler) Get(c *fiber.Ctx) error {
	conv, err := h.conversations.Get(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{Status: 200, Code: "SUCCESS", Message: "Conversation", Results: conv})
}

func (h *ConversationHandler) Messages(c *fiber.Ctx) error {
	var before *time.Time
	if raw := c.Query("before"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "before must be RFC3339"})
		}
		before = &parsed
	}

	msgs, err := h.conversations.Messages(c.UserContext(), c.Params("id"), c.QueryInt("limit"), before)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Messages listed",
		Results: msgs,
	})
}

func (h *ConversationHandler) Attachments(c *fiber.Ctx) error {
	atts, err := h.conversations.Attachments(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{Status: 200, Code: "SUCCESS", Message: "Attachments listed", Results: atts})
}

func (h *ConversationHandler) Accept(c *fiber.Ctx) error {
	conv, err := h.conversations.Accept(c.UserContext(), c.Params("id"), middleware.AdvisorID(c))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{Status: 200, Code: "SUCCESS", Message: "Conversation accepted", Results: conv})
}

// Transfer mueve el chat a otra cola o a otro asesor, según qué campo venga.
func (h *ConversationHandler) Transfer(c *fiber.Ctx) error {
	var req validations.TransferRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
	}
	validations.ValidateTransfer(req)

	advisorID := middleware.AdvisorID(c)
	var (
		conv domain.Conversation
		err  error
	)
	if req.QueueID != "" {
		conv, err = h.conversations.TransferToQueue(c.UserContext(), c.Params("id"), advisorID, req.QueueID, req.Reason)
	} else {
		conv, err = h.conversations.TransferToAdvisor(c.UserContext(), c.Params("id"), advisorID, req.AdvisorID)
	}
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{Status: 200, Code: "SUCCESS", Message: "Conversation transferred", Results: conv})
}

func (h *ConversationHandler) Release(c *fiber.Ctx) error {
	var req struct {
		Note string `json:"note"`
	}
	_ = c.BodyParser(&req)

	conv, err := h.conversations.Release(c.UserContext(), c.Params("id"), middleware.AdvisorID(c), req.Note)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{Status: 200, Code: "SUCCESS", Message: "Conversation released", Results: conv})
}

func (h *ConversationHandler) Close(c *fiber.Ctx) error {
	conv, err := h.conversations.Close(c.UserContext(), c.Params("id"), middleware.AdvisorID(c))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{Status: 200, Code: "SUCCESS", Message: "Conversation closed", Results: conv})
}

func (h *ConversationHandler) SendMessage(c *fiber.Ctx) error {
	var req validations.SendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
	}
	validations.ValidateSendMessage(req)

	advisorID := middleware.AdvisorID(c)
	var (
		msg interface{}
		err error
	)
	if req.MediaURL != "" {
		msg, err = h.conversations.SendMedia(c.UserContext(), c.Params("id"), advisorID, usecase.MediaSend{
			Kind:     req.MediaKind,
			URL:      req.MediaURL,
			Caption:  req.Text,
			Filename: req.Filename,
			Mimetype: req.Mimetype,
			Size:     req.Size,
		})
	} else {
		msg, err = h.conversations.SendText(c.UserContext(), c.Params("id"), advisorID, req.Text)
	}
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{Status: 200, Code: "SUCCESS", Message: "Message sent", Results: msg})
}

func (h *ConversationHandler) MarkRead(c *fiber.Ctx) error {
	err := h.conversations.MarkRead(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{Status: 200, Code: "SUCCESS", Message: "Conversation marked as read"})
}
