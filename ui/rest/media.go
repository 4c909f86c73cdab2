package rest

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/CYM-Peru/Bot-AI-V1-sub006/crm/application"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
)

// maxUploadBytes limita los adjuntos subidos por operadores.
const maxUploadBytes = 50 * 1024 * 1024

// MediaHandler sube adjuntos salientes a statics y expone las métricas del
// caché de media entrante.
type MediaHandler struct {
	cache      *application.MediaCache
	staticsDir string
	basePath   string
}

func NewMediaHandler(cache *application.MediaCache, staticsDir, basePath string) *MediaHandler {
	return &MediaHandler{cache: cache, staticsDir: staticsDir, basePath: basePath}
}

func (h *MediaHandler) Register(router fiber.Router) {
	media := router.Group("/media")
	media.Post("/upload", h.Upload)
	media.Get("/stats", h.Stats)
}

// Upload guarda el multipart en statics/uploads con nombre aleatorio y
// devuelve la URL que luego viaja en send_message.
func (h *MediaHandler) Upload(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "multipart field 'file' is required"})
	}
	if file.Size > maxUploadBytes {
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{"error": "file exceeds the upload limit"})
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	name := uuid.NewString() + ext
	dir := filepath.Join(h.staticsDir, "uploads")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logrus.WithError(err).Error("[MEDIA] Failed to create uploads dir")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "storage unavailable"})
	}
	if err := fasthttp.SaveMultipartFile(file, filepath.Join(dir, name)); err != nil {
		logrus.WithError(err).Error("[MEDIA] Failed to persist upload")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to store file"})
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "File uploaded",
		Results: map[string]interface{}{
			"url":      h.basePath + "/statics/uploads/" + name,
			"filename": file.Filename,
			"size":     file.Size,
			"mimetype": file.Header.Get("Content-Type"),
		},
	})
}

// Stats reporta el uso de disco del caché de media con tamaños humanizados.
func (h *MediaHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.cache.Stats()
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{Status: 200, Code: "SUCCESS", Message: "Media cache stats", Results: stats})
}
