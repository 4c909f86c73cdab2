package application

import (
	"context"

	"github.com/CYM-Peru/Bot-AI-V1-sub006/crm/domain"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/infrastructure/whatsapp"
	pkgError "github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/error"
	"github.com/sirupsen/logrus"
)

// BotRunner es lo que el pipeline necesita del motor de flujos. Las dos
// operaciones corren bajo el lock de conversación que sostiene el pipeline.
type BotRunner interface {
	// StartFlow abre sesión de bot sobre una conversación recién creada.
	StartFlow(ctx context.Context, conv *domain.Conversation, flowID string) error
	// HandleInput avanza la sesión existente con la entrada del contacto.
	HandleInput(ctx context.Context, conv *domain.Conversation, ev whatsapp.InboundEvent) error
}

// MediaFetcher descarga el binario de un media id del proveedor y lo deja
// accesible por URL local, devolviendo (url, thumbnail).
type MediaFetcher interface {
	Fetch(ctx context.Context, channelConnectionID string, ref whatsapp.MediaRef) (string, string, error)
}

// InboundPipeline procesa los eventos canónicos del webhook. El pool de
// workers garantiza un solo evento en vuelo por conversación; aquí además se
// toma el lock para serializar con schedulers y REST.
type InboundPipeline struct {
	store      *ConversationStore
	channels   domain.IChannelRepository
	convs      domain.IConversationRepository
	dispatcher *Dispatcher
	bot        BotRunner
	media      MediaFetcher
}

func NewInboundPipeline(
	store *ConversationStore,
	channels domain.IChannelRepository,
	convs domain.IConversationRepository,
	dispatcher *Dispatcher,
	bot BotRunner,
	media MediaFetcher,
) *InboundPipeline {
	return &InboundPipeline{
		store:      store,
		channels:   channels,
		convs:      convs,
		dispatcher: dispatcher,
		bot:        bot,
		media:      media,
	}
}

// Handle procesa un evento. Los reenvíos del proveedor (mismo
// provider_message_id) son no-op.
func (p *InboundPipeline) Handle(ctx context.Context, ev whatsapp.InboundEvent) error {
	if ev.MessageType == "status" {
		return p.handleStatus(ctx, ev)
	}
	return p.handleMessage(ctx, ev)
}

func (p *InboundPipeline) handleStatus(ctx context.Context, ev whatsapp.InboundEvent) error {
	if ev.StatusUpdate == nil {
		return nil
	}
	status := mapProviderStatus(ev.StatusUpdate.Status)
	if status == "" {
		return nil
	}
	return p.store.MarkStatus(ctx, ev.StatusUpdate.ProviderMessageID, status)
}

func mapProviderStatus(s string) domain.MessageStatus {
	switch s {
	case "sent":
		return domain.StatusSent
	case "delivered":
		return domain.StatusDelivered
	case "read":
		return domain.StatusRead
	case "failed":
		return domain.StatusFailed
	default:
		return ""
	}
}

func (p *InboundPipeline) handleMessage(ctx context.Context, ev whatsapp.InboundEvent) error {
	channel, err := p.channels.GetByProviderPhoneID(ctx, ev.ChannelConnectionID)
	if err != nil {
		logrus.Warnf("[CRM] Inbound for unknown channel %s dropped", ev.ChannelConnectionID)
		return nil
	}
	if !channel.IsActive {
		logrus.Debugf("[CRM] Inbound on inactive channel %s dropped", channel.ID)
		return nil
	}

	key := domain.ConversationKey{ChannelConnectionID: channel.ID, RemotePhone: ev.RemotePhone}
	return p.store.WithLock(key, func() error {
		// Idempotencia: el proveedor reintenta webhooks
		if ev.ProviderMessageID != "" {
			if _, err := p.convs.GetMessageByProviderID(ctx, ev.ProviderMessageID); err == nil {
				logrus.Debugf("[CRM] Duplicate inbound %s ignored", ev.ProviderMessageID)
				return nil
			} else if _, ok := err.(pkgError.NotFoundError); !ok {
				return err
			}
		}

		conv, created, err := p.store.UpsertOnInbound(ctx, channel.ID, ev.RemotePhone, ev.ContactName)
		if err != nil {
			return err
		}

		msg := p.buildMessage(ctx, channel.ID, ev)
		if err := p.store.AppendMessage(ctx, &conv, msg); err != nil {
			if _, ok := err.(pkgError.ConflictError); ok {
				return nil
			}
			return err
		}

		return p.route(ctx, &conv, created, channel, ev)
	})
}

func (p *InboundPipeline) buildMessage(ctx context.Context, channelID string, ev whatsapp.InboundEvent) *domain.Message {
	msg := &domain.Message{
		Direction:         domain.DirectionIn,
		Status:            domain.StatusDelivered,
		Timestamp:         ev.ProviderTimestamp,
		ProviderMessageID: ev.ProviderMessageID,
		RepliedToID:       ev.RepliedToID,
	}
	switch ev.MessageType {
	case "button":
		msg.Type = domain.MessageText
		if ev.ButtonReply != nil {
			msg.Text = ev.ButtonReply.Title
			msg.ProviderMetadata = map[string]string{"option_id": ev.ButtonReply.OptionID}
		}
	case "media":
		msg.Type = domain.MessageMedia
		if ev.MediaRef != nil {
			msg.Text = ev.MediaRef.Caption
			if p.media != nil {
				url, thumb, err := p.media.Fetch(ctx, channelID, *ev.MediaRef)
				if err != nil {
					logrus.WithError(err).Warn("[CRM] Media download failed, keeping provider reference")
					msg.MediaURL = ev.MediaRef.ProviderMediaID
				} else {
					msg.MediaURL = url
					msg.MediaThumb = thumb
				}
			} else {
				msg.MediaURL = ev.MediaRef.ProviderMediaID
			}
		}
	default:
		msg.Type = domain.MessageText
		msg.Text = ev.Text
	}
	return msg
}

// route decide quién sigue: la sesión de bot existente, un flujo nuevo para
// conversaciones recién abiertas, o la cola por defecto del canal.
func (p *InboundPipeline) route(ctx context.Context, conv *domain.Conversation, created bool, channel domain.ChannelConnection, ev whatsapp.InboundEvent) error {
	if conv.IsBotOwned() {
		if p.bot == nil {
			return nil
		}
		return p.bot.HandleInput(ctx, conv, ev)
	}
	if conv.AssignedTo != "" || conv.Status == domain.ConversationAttending {
		// Un asesor la atiende; nada que rutear
		return nil
	}

	if created && channel.DefaultFlowID != "" && p.bot != nil {
		if err := p.bot.StartFlow(ctx, conv, channel.DefaultFlowID); err != nil {
			logrus.WithError(err).Errorf("[CRM] Could not start flow %s, queueing instead", channel.DefaultFlowID)
		} else {
			return p.bot.HandleInput(ctx, conv, ev)
		}
	}

	if conv.QueueID == "" && channel.DefaultQueueID != "" {
		if _, err := p.store.TransferToQueue(ctx, conv.ID, conv.AssignedTo, channel.DefaultQueueID, ""); err != nil {
			return err
		}
		conv.QueueID = channel.DefaultQueueID
	}
	if conv.IsQueued() || conv.QueueID != "" {
		if p.dispatcher != nil {
			p.dispatcher.Notify(domain.TriggerChatQueued, conv.QueueID)
		}
	}
	return nil
}
