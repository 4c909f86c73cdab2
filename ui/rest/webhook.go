package rest

import (
	"context"
	"time"

	"github.com/CYM-Peru/Bot-AI-V1-sub006/crm/application"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/crm/domain"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/infrastructure/whatsapp"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/activitymon"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/msgworker"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// handlerTimeout acota el procesamiento asíncrono de un evento entrante. El
// 200 al proveedor ya salió; esto solo evita workers colgados.
const handlerTimeout = 60 * time.Second

// WebhookHandler recibe el tráfico del proveedor. El POST responde de
// inmediato y delega el procesamiento al worker pool: todos los eventos de
// una misma conversación caen en el mismo worker (orden FIFO por contacto).
type WebhookHandler struct {
	channels  domain.IChannelRepository
	pipeline  *application.InboundPipeline
	pool      *msgworker.MessageWorkerPool
	appSecret string
}

func NewWebhookHandler(
	channels domain.IChannelRepository,
	pipeline *application.InboundPipeline,
	pool *msgworker.MessageWorkerPool,
	appSecret string,
) *WebhookHandler {
	return &WebhookHandler{channels: channels, pipeline: pipeline, pool: pool, appSecret: appSecret}
}

func (h *WebhookHandler) Register(router fiber.Router) {
	router.Get("/webhook/whatsapp", h.Verify)
	router.Post("/webhook/whatsapp", h.Receive)
}

// Verify resuelve el handshake de suscripción de Meta: eco del challenge solo
// si el verify token coincide con el de algún canal configurado.
func (h *WebhookHandler) Verify(c *fiber.Ctx) error {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	channels, err := h.channels.List(c.UserContext())
	if err != nil {
		logrus.WithError(err).Error("[WEBHOOK] Failed to list channels during verification")
		return c.SendStatus(fiber.StatusInternalServerError)
	}
	for _, ch := range channels {
		if echo, ok := whatsapp.VerifyChallenge(mode, token, challenge, ch.VerifyToken); ok {
			logrus.Infof("[WEBHOOK] Verification handshake accepted for channel %s", ch.ID)
			return c.SendString(echo)
		}
	}
	logrus.Warnf("[WEBHOOK] Verification rejected (mode=%s)", mode)
	return c.SendStatus(fiber.StatusForbidden)
}

// Receive acepta el sobre del proveedor y responde enseguida; el pipeline
// corre en los workers. Solo la saturación del pool responde distinto (429)
// para que el proveedor reintente más tarde.
func (h *WebhookHandler) Receive(c *fiber.Ctx) error {
	body := append([]byte(nil), c.Body()...)

	if !whatsapp.VerifySignature(h.appSecret, body, c.Get("X-Hub-Signature-256")) {
		logrus.Warn("[WEBHOOK] Invalid payload signature")
		return c.SendStatus(fiber.StatusForbidden)
	}

	events, err := whatsapp.ParseEnvelope(body)
	if err != nil {
		// Un sobre malformado no se arregla reintentando
		logrus.WithError(err).Warn("[WEBHOOK] Discarding malformed envelope")
		return c.SendStatus(fiber.StatusOK)
	}

	for _, ev := range events {
		ev := ev
		job := msgworker.MessageJob{
			ChannelID:   ev.ChannelConnectionID,
			RemotePhone: ev.RemotePhone,
			Handler: func(ctx context.Context) error {
				ctx, cancel := context.WithTimeout(ctx, handlerTimeout)
				defer cancel()
				return h.pipeline.Handle(ctx, ev)
			},
		}
		if !h.pool.TryDispatch(job) {
			logrus.Error("[WEBHOOK] Worker pool saturated, asking provider to retry")
			activitymon.Record(activitymon.Event{
				ChannelID: ev.ChannelConnectionID,
				Stage:     "inbound",
				Kind:      ev.MessageType,
				Status:    "error",
				Error:     "worker pool saturated",
			})
			return c.SendStatus(fiber.StatusTooManyRequests)
		}
	}
	return c.SendStatus(fiber.StatusOK)
}
