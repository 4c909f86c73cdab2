package rest

import (
	"github.com/CYM-Peru/Bot-AI-V1-sub006/botengine/domain"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/botengine/knowledge"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// KnowledgeHandler administra el corpus de la base de conocimiento: los
// documentos markdown entran por aquí y quedan fragmentados con embedding.
type KnowledgeHandler struct {
	indexer  *knowledge.Indexer
	searcher *knowledge.Searcher
	repo     domain.IKnowledgeRepository
}

func NewKnowledgeHandler(indexer *knowledge.Indexer, searcher *knowledge.Searcher, repo domain.IKnowledgeRepository) *KnowledgeHandler {
	return &KnowledgeHandler{indexer: indexer, searcher: searcher, repo: repo}
}

func (h *KnowledgeHandler) Register(router fiber.Router, adminOnly fiber.Handler) {
	kb := router.Group("/knowledge")
	kb.Get("/search", h.Search)
	kb.Put("/:source", adminOnly, h.Index)
	kb.Delete("/:source", adminOnly, h.Delete)
}

// Index reindexa un documento fuente completo. Reemplaza todos los fragmentos
// previos del mismo source.
func (h *KnowledgeHandler) Index(c *fiber.Ctx) error {
	var req struct {
		Category string `json:"category"`
		Markdown string `json:"markdown"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
	}
	source := c.Params("source")

	count, err := h.indexer.IndexMarkdown(c.UserContext(), source, req.Category, []byte(req.Markdown))
	utils.PanicIfNeeded(err)

	logrus.Infof("[KB] Source %s reindexed with %d chunks", source, count)
	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Source indexed",
		Results: map[string]interface{}{"source": source, "chunks": count},
	})
}

func (h *KnowledgeHandler) Search(c *fiber.Ctx) error {
	query := c.Query("q")
	if query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "query parameter 'q' is required"})
	}

	result, err := h.searcher.Search(c.UserContext(), "", query, c.Query("category"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{Status: 200, Code: "SUCCESS", Message: "Knowledge search", Results: result})
}

func (h *KnowledgeHandler) Delete(c *fiber.Ctx) error {
	err := h.repo.DeleteSource(c.UserContext(), c.Params("source"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{Status: 200, Code: "SUCCESS", Message: "Source deleted"})
}
