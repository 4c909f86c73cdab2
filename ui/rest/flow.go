package rest

import (
	"fmt"
	"strconv"

	flowApp "github.com/CYM-Peru/Bot-AI-V1-sub006/flowengine/application"
	flowDomain "github.com/CYM-Peru/Bot-AI-V1-sub006/flowengine/domain"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

// FlowHandler expone el catálogo de flujos y el callback público de los nodos
// webhook_in.
type FlowHandler struct {
	catalog *flowApp.FlowCatalog
	engine  *flowApp.Engine
}

func NewFlowHandler(catalog *flowApp.FlowCatalog, engine *flowApp.Engine) *FlowHandler {
	return &FlowHandler{catalog: catalog, engine: engine}
}

func (h *FlowHandler) Register(router fiber.Router, adminOnly fiber.Handler) {
	flows := router.Group("/flows")
	flows.Get("/", h.List)
	flows.Get("/:id", h.Get)
	flows.Post("/", adminOnly, h.Save)
	flows.Put("/:id", adminOnly, h.Save)
	flows.Delete("/:id", adminOnly, h.Delete)
	flows.Post("/:id/default", adminOnly, h.SetDefault)
}

// RegisterPublic monta el callback de webhook_in fuera del grupo autenticado:
// lo llaman sistemas externos que solo conocen la URL con el id embebido.
func (h *FlowHandler) RegisterPublic(router fiber.Router) {
	router.Post("/webhook/flow/:conversationID", h.Callback)
}

func (h *FlowHandler) List(c *fiber.Ctx) error {
	flows, err := h.catalog.List(c.UserContext())
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{Status: 200, Code: "SUCCESS", Message: "Flows listed", Results: flows})
}

func (h *FlowHandler) Get(c *fiber.Ctx) error {
	flow, err := h.catalog.Get(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{Status: 200, Code: "SUCCESS", Message: "Flow", Results: flow})
}

// Save valida el grafo completo antes de persistir; un flujo inválido nunca
// llega al repositorio.
func (h *FlowHandler) Save(c *fiber.Ctx) error {
	var flow flowDomain.FlowDefinition
	if err := c.BodyParser(&flow); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
	}
	if id := c.Params("id"); id != "" {
		flow.ID = id
	}

	err := h.catalog.Save(c.UserContext(), &flow)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{Status: 200, Code: "SUCCESS", Message: "Flow saved", Results: flow})
}

func (h *FlowHandler) Delete(c *fiber.Ctx) error {
	err := h.catalog.Delete(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{Status: 200, Code: "SUCCESS", Message: "Flow deleted"})
}

func (h *FlowHandler) SetDefault(c *fiber.Ctx) error {
	err := h.catalog.SetDefault(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{Status: 200, Code: "SUCCESS", Message: "Flow set as default"})
}

// Callback reanuda la sesión estacionada en un nodo webhook_in. El cuerpo es
// un objeto JSON plano; los valores se aplanan a string para las variables de
// sesión.
func (h *FlowHandler) Callback(c *fiber.Ctx) error {
	var raw map[string]interface{}
	if err := c.BodyParser(&raw); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
	}
	payload := make(map[string]string, len(raw))
	for k, v := range raw {
		payload[k] = stringifyValue(v)
	}

	err := h.engine.HandleCallback(c.UserContext(), c.Params("conversationID"), payload)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{Status: 200, Code: "SUCCESS", Message: "Callback accepted"})
}

func stringifyValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}
