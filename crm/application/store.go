package application

import (
	"context"
	"time"

	"github.com/CYM-Peru/Bot-AI-V1-sub006/crm/domain"
	pkgError "github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/error"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/timeutils"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SessionCloser desacopla al store del motor de flujos: cerrar una
// conversación debe borrar su sesión de bot en el mismo commit lógico.
type SessionCloser interface {
	EndSession(ctx context.Context, channelConnectionID, remotePhone string) error
}

// NopSessionCloser para tests y herramientas.
type NopSessionCloser struct{}

func (NopSessionCloser) EndSession(context.Context, string, string) error { return nil }

// ConversationStore es la fachada de mutación sobre conversaciones. Toda
// escritura toma el lock de la conversación, persiste y recién entonces emite
// el change record que consume el bus en tiempo real.
type ConversationStore struct {
	convs    domain.IConversationRepository
	advisors domain.IAdvisorRepository
	queues   domain.IQueueRepository
	metrics  domain.IMetricsRepository
	locks    *ConversationLocks
	events   domain.EventPublisher
	sessions SessionCloser
}

func NewConversationStore(
	convs domain.IConversationRepository,
	advisors domain.IAdvisorRepository,
	queues domain.IQueueRepository,
	metrics domain.IMetricsRepository,
	locks *ConversationLocks,
	events domain.EventPublisher,
	sessions SessionCloser,
) *ConversationStore {
	if events == nil {
		events = domain.NopPublisher{}
	}
	if sessions == nil {
		sessions = NopSessionCloser{}
	}
	return &ConversationStore{
		convs:    convs,
		advisors: advisors,
		queues:   queues,
		metrics:  metrics,
		locks:    locks,
		events:   events,
		sessions: sessions,
	}
}

// BindSessionCloser conecta el motor de flujos una vez construido. El motor
// necesita el store y el store necesita al motor para cerrar sesiones, así que
// el cableado se cierra en dos pasos.
func (s *ConversationStore) BindSessionCloser(closer SessionCloser) {
	if closer != nil {
		s.sessions = closer
	}
}

// WithLock ejecuta fn bajo el lock de la conversación identificada por key.
// Los llamadores que encadenan varias mutaciones (pipeline de entrada, motor
// de flujos) lo usan para mantener la serialización por conversación.
func (s *ConversationStore) WithLock(key domain.ConversationKey, fn func() error) error {
	unlock := s.locks.Lock(key.ChannelConnectionID + "|" + key.RemotePhone)
	defer unlock()
	return fn()
}

func (s *ConversationStore) emitConv(conv domain.Conversation) {
	s.events.Publish(domain.ChangeEvent{
		Kind:           domain.EventConvUpdate,
		ConversationID: conv.ID,
		Payload:        conv,
		At:             time.Now().UTC(),
	})
}

// UpsertOnInbound devuelve la ventana abierta del contacto, creándola si no
// existe. Debe llamarse bajo WithLock de la clave.
func (s *ConversationStore) UpsertOnInbound(ctx context.Context, channelConnectionID, remotePhone, contactName string) (domain.Conversation, bool, error) {
	remotePhone = utils.NormalizePhone(remotePhone)
	key := domain.ConversationKey{ChannelConnectionID: channelConnectionID, RemotePhone: remotePhone}

	conv, err := s.convs.GetOpenByKey(ctx, key)
	if err == nil {
		if contactName != "" && conv.ContactName != contactName {
			conv.ContactName = contactName
			conv.UpdatedAt = time.Now().UTC()
			if err := s.convs.Update(ctx, conv); err != nil {
				return domain.Conversation{}, false, err
			}
		}
		return conv, false, nil
	}
	if _, ok := err.(pkgError.NotFoundError); !ok {
		return domain.Conversation{}, false, err
	}

	now := time.Now().UTC()
	conv = domain.Conversation{
		ID:                  uuid.NewString(),
		Channel:             "whatsapp",
		ChannelConnectionID: channelConnectionID,
		RemotePhone:         remotePhone,
		DisplayNumber:       remotePhone,
		ContactName:         contactName,
		Status:              domain.ConversationActive,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.convs.Create(ctx, &conv); err != nil {
		return domain.Conversation{}, false, err
	}
	logrus.Infof("[CRM] Conversation %s opened for %s (ticket #%d)", conv.ID, remotePhone, conv.TicketNumber)
	s.emitConv(conv)
	return conv, true, nil
}

// AppendMessage persiste el mensaje y actualiza el resumen de la conversación
// (preview, last_message_at, no leídos). Emite msg:new y conv:update.
func (s *ConversationStore) AppendMessage(ctx context.Context, conv *domain.Conversation, msg *domain.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	msg.ConversationID = conv.ID

	if err := s.convs.AppendMessage(ctx, msg); err != nil {
		return err
	}

	ts := msg.Timestamp
	conv.LastMessageAt = &ts
	conv.LastMessagePreview = msg.Preview()
	if msg.Direction == domain.DirectionIn {
		conv.Unread++
	}
	conv.UpdatedAt = time.Now().UTC()
	if err := s.convs.Update(ctx, *conv); err != nil {
		return err
	}

	s.events.Publish(domain.ChangeEvent{
		Kind:           domain.EventMsgNew,
		ConversationID: conv.ID,
		Payload:        *msg,
		At:             time.Now().UTC(),
	})
	s.emitConv(*conv)
	return nil
}

// MarkStatus avanza el estado de entrega de un mensaje identificándolo por el
// id del proveedor. Transiciones hacia atrás se descartan en silencio.
func (s *ConversationStore) MarkStatus(ctx context.Context, providerMessageID string, status domain.MessageStatus) error {
	msg, err := s.convs.GetMessageByProviderID(ctx, providerMessageID)
	if err != nil {
		if _, ok := err.(pkgError.NotFoundError); ok {
			logrus.Debugf("[CRM] Status update for unknown message %s ignored", providerMessageID)
			return nil
		}
		return err
	}
	if !msg.Status.CanAdvanceTo(status) {
		return nil
	}
	if err := s.convs.UpdateMessageStatus(ctx, msg.ID, status); err != nil {
		return err
	}
	msg.Status = status
	s.events.Publish(domain.ChangeEvent{
		Kind:           domain.EventMsgUpdate,
		ConversationID: msg.ConversationID,
		Payload:        msg,
		At:             time.Now().UTC(),
	})
	return nil
}

// MarkRead pone a cero el contador de no leídos del lado del operador.
func (s *ConversationStore) MarkRead(ctx context.Context, conversationID string) error {
	conv, err := s.convs.GetByID(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.Unread == 0 {
		return nil
	}
	conv.Unread = 0
	conv.UpdatedAt = time.Now().UTC()
	if err := s.convs.Update(ctx, conv); err != nil {
		return err
	}
	s.emitConv(conv)
	return nil
}

// Accept asigna la conversación al asesor que la toma de la cola. El CAS
// exige que siga sin dueño; si otro asesor ganó la carrera devuelve conflict.
func (s *ConversationStore) Accept(ctx context.Context, conversationID, advisorID string) (domain.Conversation, error) {
	now := time.Now().UTC()
	won, err := s.convs.CASAssign(ctx, conversationID, "", map[string]interface{}{
		"assigned_to": advisorID,
		"assigned_at": now,
		"status":      string(domain.ConversationAttending),
		"updated_at":  now,
	})
	if err != nil {
		return domain.Conversation{}, err
	}
	if !won {
		return domain.Conversation{}, pkgError.ConflictError("conversation already assigned")
	}

	conv, err := s.convs.GetByID(ctx, conversationID)
	if err != nil {
		return domain.Conversation{}, err
	}
	conv.HasAttended(advisorID)
	conv.UpdatedAt = now
	if err := s.convs.Update(ctx, conv); err != nil {
		return domain.Conversation{}, err
	}

	_ = s.advisors.LogActivity(ctx, &domain.AdvisorActivityLog{
		AdvisorID: advisorID,
		Action:    "accept_conversation",
		Detail:    conversationID,
	})
	logrus.Infof("[CRM] Conversation %s accepted by %s", conversationID, advisorID)
	s.emitConv(conv)
	return conv, nil
}

// TransferToQueue libera la conversación hacia otra cola. expectOwner es el
// dueño actual ("" para conversaciones encoladas, "bot" cuando transfiere el
// motor de flujos).
func (s *ConversationStore) TransferToQueue(ctx context.Context, conversationID, expectOwner, queueID, reason string) (domain.Conversation, error) {
	if _, err := s.queues.GetByID(ctx, queueID); err != nil {
		return domain.Conversation{}, err
	}
	now := time.Now().UTC()
	won, err := s.convs.CASAssign(ctx, conversationID, expectOwner, map[string]interface{}{
		"assigned_to":      "",
		"assigned_at":      nil,
		"status":           string(domain.ConversationActive),
		"queue_id":         queueID,
		"queued_at":        now,
		"transferred_from": expectOwner,
		"transferred_at":   now,
		"bot_flow_id":      nil,
		"bot_started_at":   nil,
		"updated_at":       now,
	})
	if err != nil {
		return domain.Conversation{}, err
	}
	if !won {
		return domain.Conversation{}, pkgError.ConflictError("conversation changed owner during transfer")
	}

	conv, err := s.convs.GetByID(ctx, conversationID)
	if err != nil {
		return domain.Conversation{}, err
	}
	if reason != "" {
		sys := &domain.Message{
			Direction: domain.DirectionOut,
			Type:      domain.MessageSystem,
			Text:      reason,
			Status:    domain.StatusSent,
		}
		if err := s.AppendMessage(ctx, &conv, sys); err != nil {
			logrus.WithError(err).Warn("[CRM] Failed to append transfer note")
		}
	}
	logrus.Infof("[CRM] Conversation %s transferred to queue %s", conversationID, queueID)
	s.emitConv(conv)
	return conv, nil
}

// TransferToAdvisor entrega la conversación directamente a otro asesor.
func (s *ConversationStore) TransferToAdvisor(ctx context.Context, conversationID, expectOwner, advisorID string) (domain.Conversation, error) {
	if _, err := s.advisors.GetByID(ctx, advisorID); err != nil {
		return domain.Conversation{}, err
	}
	now := time.Now().UTC()
	won, err := s.convs.CASAssign(ctx, conversationID, expectOwner, map[string]interface{}{
		"assigned_to":      advisorID,
		"assigned_at":      now,
		"status":           string(domain.ConversationAttending),
		"transferred_from": expectOwner,
		"transferred_at":   now,
		"updated_at":       now,
	})
	if err != nil {
		return domain.Conversation{}, err
	}
	if !won {
		return domain.Conversation{}, pkgError.ConflictError("conversation changed owner during transfer")
	}

	conv, err := s.convs.GetByID(ctx, conversationID)
	if err != nil {
		return domain.Conversation{}, err
	}
	conv.HasAttended(advisorID)
	conv.UpdatedAt = now
	if err := s.convs.Update(ctx, conv); err != nil {
		return domain.Conversation{}, err
	}
	logrus.Infof("[CRM] Conversation %s transferred to advisor %s", conversationID, advisorID)
	s.emitConv(conv)
	return conv, nil
}

// AssignToBot marca la conversación como propiedad del motor de flujos. Se
// llama bajo el lock de conversación al arrancar un flujo.
func (s *ConversationStore) AssignToBot(ctx context.Context, conv *domain.Conversation, flowID string) error {
	now := time.Now().UTC()
	conv.AssignedTo = domain.AssignedToBot
	conv.AssignedAt = &now
	conv.BotFlowID = flowID
	conv.BotStartedAt = &now
	conv.Status = domain.ConversationActive
	conv.UpdatedAt = now
	if err := s.convs.Update(ctx, *conv); err != nil {
		return err
	}
	logrus.Infof("[FLOW] Conversation %s taken by flow %s", conv.ID, flowID)
	s.emitConv(*conv)
	return nil
}

// ReleaseBot limpia los campos de bot cuando un flujo termina sin cerrar la
// ventana ni transferir. La conversación queda sin dueño, sin cola.
func (s *ConversationStore) ReleaseBot(ctx context.Context, conv *domain.Conversation) error {
	now := time.Now().UTC()
	conv.AssignedTo = ""
	conv.AssignedAt = nil
	conv.BotFlowID = ""
	conv.BotStartedAt = nil
	conv.Status = domain.ConversationActive
	conv.UpdatedAt = now
	if err := s.convs.Update(ctx, *conv); err != nil {
		return err
	}
	s.emitConv(*conv)
	return nil
}

// Release devuelve la conversación del asesor a su cola, con nota de sistema
// opcional (el logout usa "👋 {asesor} cerró sesión").
func (s *ConversationStore) Release(ctx context.Context, conversationID, advisorID, note string) (domain.Conversation, error) {
	now := time.Now().UTC()
	won, err := s.convs.CASAssign(ctx, conversationID, advisorID, map[string]interface{}{
		"assigned_to": "",
		"assigned_at": nil,
		"status":      string(domain.ConversationActive),
		"queued_at":   now,
		"updated_at":  now,
	})
	if err != nil {
		return domain.Conversation{}, err
	}
	if !won {
		return domain.Conversation{}, pkgError.ConflictError("conversation is not held by " + advisorID)
	}

	conv, err := s.convs.GetByID(ctx, conversationID)
	if err != nil {
		return domain.Conversation{}, err
	}
	if note != "" {
		sys := &domain.Message{
			Direction: domain.DirectionOut,
			Type:      domain.MessageSystem,
			Text:      note,
			Status:    domain.StatusSent,
		}
		if err := s.AppendMessage(ctx, &conv, sys); err != nil {
			logrus.WithError(err).Warn("[CRM] Failed to append release note")
		}
	}
	s.emitConv(conv)
	return conv, nil
}

// Close cierra la ventana, borra la sesión de bot y escribe la métrica de
// cierre para los reportes.
func (s *ConversationStore) Close(ctx context.Context, conversationID, closedBy string) (domain.Conversation, error) {
	conv, err := s.convs.GetByID(ctx, conversationID)
	if err != nil {
		return domain.Conversation{}, err
	}
	if !conv.IsOpen() {
		return conv, nil
	}

	now := time.Now().UTC()
	botHandled := conv.BotFlowID != "" || conv.IsBotOwned()
	advisorID := conv.AssignedTo
	if advisorID == domain.AssignedToBot {
		advisorID = ""
	}

	conv.Status = domain.ConversationClosed
	conv.AssignedTo = ""
	conv.AssignedAt = nil
	conv.BotFlowID = ""
	conv.BotStartedAt = nil
	conv.UpdatedAt = now
	if err := s.convs.Update(ctx, conv); err != nil {
		return domain.Conversation{}, err
	}

	if err := s.sessions.EndSession(ctx, conv.ChannelConnectionID, conv.RemotePhone); err != nil {
		logrus.WithError(err).Warnf("[CRM] Failed to delete bot session for %s", conv.ID)
	}

	if s.metrics != nil {
		in, _ := s.convs.CountMessagesSince(ctx, conv.ID, domain.DirectionIn, conv.CreatedAt)
		out, _ := s.convs.CountMessagesSince(ctx, conv.ID, domain.DirectionOut, conv.CreatedAt)
		metric := &domain.ConversationMetric{
			ConversationID:      conv.ID,
			TicketNumber:        conv.TicketNumber,
			ChannelConnectionID: conv.ChannelConnectionID,
			QueueID:             conv.QueueID,
			AdvisorID:           advisorID,
			ResolutionSeconds:   int64(now.Sub(conv.CreatedAt).Seconds()),
			MessagesIn:          in,
			MessagesOut:         out,
			BotHandled:          botHandled,
			TransferredToHuman:  botHandled && len(conv.AttendedBy) > 0,
			ClosedAt:            &now,
			Day:                 timeutils.BusinessDay(now),
		}
		if err := s.metrics.SaveConversationMetric(ctx, metric); err != nil {
			logrus.WithError(err).Warn("[CRM] Failed to save conversation metric")
		}
	}

	_ = s.advisors.LogActivity(ctx, &domain.AdvisorActivityLog{
		AdvisorID: closedBy,
		Action:    "close_conversation",
		Detail:    conversationID,
	})
	logrus.Infof("[CRM] Conversation %s closed by %s", conversationID, closedBy)
	s.emitConv(conv)
	return conv, nil
}

// ListForAdvisor arma la bandeja del asesor: sus conversaciones activas más
// las encoladas de sus colas.
func (s *ConversationStore) ListForAdvisor(ctx context.Context, advisorID string) ([]domain.Conversation, error) {
	own, err := s.convs.ListAssignedTo(ctx, advisorID)
	if err != nil {
		return nil, err
	}
	queues, err := s.queues.ListForAdvisor(ctx, advisorID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(own))
	for _, c := range own {
		seen[c.ID] = true
	}
	res := own
	for _, q := range queues {
		queued, err := s.convs.ListQueued(ctx, q.ID)
		if err != nil {
			return nil, err
		}
		for _, c := range queued {
			if !seen[c.ID] {
				seen[c.ID] = true
				res = append(res, c)
			}
		}
	}
	return res, nil
}

func (s *ConversationStore) LinkAttachment(ctx context.Context, att *domain.Attachment) error {
	return s.convs.LinkAttachment(ctx, att)
}

func (s *ConversationStore) GetAttachments(ctx context.Context, messageID string) ([]domain.Attachment, error) {
	return s.convs.GetAttachments(ctx, messageID)
}

func (s *ConversationStore) ListConversationAttachments(ctx context.Context, conversationID string) ([]domain.Attachment, error) {
	return s.convs.ListConversationAttachments(ctx, conversationID)
}

// PublishTyping reenvía el indicador de escritura sin tocar almacenamiento.
func (s *ConversationStore) PublishTyping(conversationID, from string, typing bool) {
	s.events.Publish(domain.ChangeEvent{
		Kind:           domain.EventTyping,
		ConversationID: conversationID,
		Payload:        map[string]interface{}{"from": from, "typing": typing},
		At:             time.Now().UTC(),
	})
}
