package application

import (
	"context"
	"time"

	"github.com/CYM-Peru/Bot-AI-V1-sub006/crm/domain"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/infrastructure/whatsapp"
	"github.com/sirupsen/logrus"
)

// CloudSender es lo que el sender necesita del cliente de la Cloud API. El
// cliente real ya trae reintentos y rate limit por número.
type CloudSender interface {
	SendText(ctx context.Context, creds whatsapp.Credentials, toPhone, body string) (whatsapp.SendResult, error)
	SendInteractive(ctx context.Context, creds whatsapp.Credentials, toPhone, body string, options []whatsapp.OutboundOption) (whatsapp.SendResult, error)
	SendMedia(ctx context.Context, creds whatsapp.Credentials, toPhone, mediaType, urlOrID, caption, filename string) (whatsapp.SendResult, error)
	SendTemplate(ctx context.Context, creds whatsapp.Credentials, toPhone, name, language string, bodyParams []string) (whatsapp.SendResult, error)
}

// OutboundSender persiste y envía mensajes salientes en orden de autoría: el
// mensaje se escribe como pending, se espera el acuse del proveedor y recién
// entonces se marca sent. El siguiente saliente de la conversación no se
// persiste hasta ese acuse (el llamador sostiene el lock de conversación).
type OutboundSender struct {
	store    *ConversationStore
	channels domain.IChannelRepository
	client   CloudSender
}

func NewOutboundSender(store *ConversationStore, channels domain.IChannelRepository, client CloudSender) *OutboundSender {
	return &OutboundSender{store: store, channels: channels, client: client}
}

func (o *OutboundSender) creds(ctx context.Context, channelConnectionID string) (whatsapp.Credentials, error) {
	ch, err := o.channels.GetByID(ctx, channelConnectionID)
	if err != nil {
		return whatsapp.Credentials{}, err
	}
	return whatsapp.Credentials{
		PhoneNumberID: ch.ProviderPhoneNumberID,
		AccessToken:   ch.AccessToken,
	}, nil
}

// SendText envía texto plano. sentBy identifica al autor ("bot", id de asesor
// o "campaign").
func (o *OutboundSender) SendText(ctx context.Context, conv *domain.Conversation, text, sentBy string) (*domain.Message, error) {
	msg := &domain.Message{
		Direction: domain.DirectionOut,
		Type:      domain.MessageText,
		Text:      text,
		Status:    domain.StatusPending,
		SentBy:    sentBy,
	}
	return o.deliver(ctx, conv, msg, func(creds whatsapp.Credentials) (whatsapp.SendResult, error) {
		return o.client.SendText(ctx, creds, conv.RemotePhone, text)
	})
}

// SendButtons envía botones interactivos; con más de tres opciones el codec
// degrada a lista.
func (o *OutboundSender) SendButtons(ctx context.Context, conv *domain.Conversation, text string, options []whatsapp.OutboundOption, sentBy string) (*domain.Message, error) {
	msg := &domain.Message{
		Direction: domain.DirectionOut,
		Type:      domain.MessageButtons,
		Text:      text,
		Status:    domain.StatusPending,
		SentBy:    sentBy,
	}
	return o.deliver(ctx, conv, msg, func(creds whatsapp.Credentials) (whatsapp.SendResult, error) {
		return o.client.SendInteractive(ctx, creds, conv.RemotePhone, text, options)
	})
}

func (o *OutboundSender) SendMedia(ctx context.Context, conv *domain.Conversation, mediaType, urlOrID, caption, filename, sentBy string) (*domain.Message, error) {
	msg := &domain.Message{
		Direction: domain.DirectionOut,
		Type:      domain.MessageMedia,
		Text:      caption,
		MediaURL:  urlOrID,
		Status:    domain.StatusPending,
		SentBy:    sentBy,
	}
	return o.deliver(ctx, conv, msg, func(creds whatsapp.Credentials) (whatsapp.SendResult, error) {
		return o.client.SendMedia(ctx, creds, conv.RemotePhone, mediaType, urlOrID, caption, filename)
	})
}

func (o *OutboundSender) SendTemplate(ctx context.Context, conv *domain.Conversation, name, language string, params []string, sentBy string) (*domain.Message, error) {
	msg := &domain.Message{
		Direction: domain.DirectionOut,
		Type:      domain.MessageTemplate,
		Text:      name,
		Status:    domain.StatusPending,
		SentBy:    sentBy,
	}
	return o.deliver(ctx, conv, msg, func(creds whatsapp.Credentials) (whatsapp.SendResult, error) {
		return o.client.SendTemplate(ctx, creds, conv.RemotePhone, name, language, params)
	})
}

// deliver es el camino común: persistir pending, enviar (el cliente reintenta
// las clases transitorias), y resolver a sent o failed. El fallo agota
// reintentos: se marca failed y se añade un evento de sistema visible para el
// operador.
func (o *OutboundSender) deliver(ctx context.Context, conv *domain.Conversation, msg *domain.Message, send func(whatsapp.Credentials) (whatsapp.SendResult, error)) (*domain.Message, error) {
	creds, err := o.creds(ctx, conv.ChannelConnectionID)
	if err != nil {
		return nil, err
	}

	if err := o.store.AppendMessage(ctx, conv, msg); err != nil {
		return nil, err
	}

	res, sendErr := send(creds)
	if sendErr != nil {
		logrus.WithError(sendErr).Errorf("[CLOUDAPI] Send failed for conversation %s", conv.ID)
		if err := o.store.MarkFailed(ctx, conv, msg); err != nil {
			logrus.WithError(err).Warn("[CLOUDAPI] Could not mark message as failed")
		}
		return msg, sendErr
	}

	msg.ProviderMessageID = res.ProviderMessageID
	if err := o.store.ConfirmSent(ctx, msg); err != nil {
		return msg, err
	}
	return msg, nil
}

// ConfirmSent fija el provider_message_id del acuse y avanza pending -> sent.
func (s *ConversationStore) ConfirmSent(ctx context.Context, msg *domain.Message) error {
	if err := s.convs.SetMessageProviderID(ctx, msg.ID, msg.ProviderMessageID); err != nil {
		return err
	}
	if err := s.convs.UpdateMessageStatus(ctx, msg.ID, domain.StatusSent); err != nil {
		return err
	}
	msg.Status = domain.StatusSent
	s.events.Publish(domain.ChangeEvent{
		Kind:           domain.EventMsgUpdate,
		ConversationID: msg.ConversationID,
		Payload:        *msg,
		At:             time.Now().UTC(),
	})
	return nil
}

// MarkFailed marca el saliente como failed y deja el evento de sistema que ve
// el operador.
func (s *ConversationStore) MarkFailed(ctx context.Context, conv *domain.Conversation, msg *domain.Message) error {
	if err := s.convs.UpdateMessageStatus(ctx, msg.ID, domain.StatusFailed); err != nil {
		return err
	}
	msg.Status = domain.StatusFailed
	s.events.Publish(domain.ChangeEvent{
		Kind:           domain.EventMsgUpdate,
		ConversationID: conv.ID,
		Payload:        *msg,
		At:             time.Now().UTC(),
	})
	sys := &domain.Message{
		Direction: domain.DirectionOut,
		Type:      domain.MessageEvent,
		EventType: "send_failed",
		Text:      "⚠️ No se pudo entregar el último mensaje",
		Status:    domain.StatusSent,
	}
	return s.AppendMessage(ctx, conv, sys)
}
