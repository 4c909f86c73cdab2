package rest

import (
	"github.com/CYM-Peru/Bot-AI-V1-sub006/crm/domain"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/crm/usecase"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/utils"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/validations"
	"github.com/gofiber/fiber/v2"
)

type QueueHandler struct {
	queues usecase.IQueueUsecase
}

func NewQueueHandler(queues usecase.IQueueUsecase) *QueueHandler {
	return &QueueHandler{queues: queues}
}

func (h *QueueHandler) Register(router fiber.Router, adminOnly fiber.Handler) {
	queues := router.Group("/queues")
	queues.Get("/", h.List)
	queues.Get("/:id", h.Get)
	queues.Get("/:id/pending", h.Pending)
	queues.Post("/", adminOnly, h.Save)
	queues.Put("/:id", adminOnly, h.Save)
	queues.Delete("/:id", adminOnly, h.Delete)
}

func (h *QueueHandler) List(c *fiber.Ctx) error {
	queues, err := h.queues.List(c.UserContext())
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{Status: 200, Code: "SUCCESS", Message: "Queues listed", Results: queues})
}

func (h *QueueHandler) Get(c *fiber.Ctx) error {
	q, err := h.queues.Get(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{Status: 200, Code: "SUCCESS", Message: "Queue", Results: q})
}

func (h *QueueHandler) Pending(c *fiber.Ctx) error {
	pending, err := h.queues.Pending(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{Status: 200, Code: "SUCCESS", Message: "Pending conversations", Results: pending})
}

func (h *QueueHandler) Save(c *fiber.Ctx) error {
	var q domain.Queue
	if err := c.BodyParser(&q); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
	}
	if id := c.Params("id"); id != "" {
		q.ID = id
	}
	validations.ValidateQueueSave(q)

	err := h.queues.Save(c.UserContext(), &q)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{Status: 200, Code: "SUCCESS", Message: "Queue saved", Results: q})
}

func (h *QueueHandler) Delete(c *fiber.Ctx) error {
	err := h.queues.Delete(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{Status: 200, Code: "SUCCESS", Message: "Queue deleted"})
}
