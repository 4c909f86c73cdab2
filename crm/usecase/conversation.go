package usecase

import (
	"context"
	"strings"
	"time"

	"github.com/CYM-Peru/Bot-AI-V1-sub006/crm/application"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/crm/domain"
	pkgError "github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/error"
)

// IConversationUsecase es la superficie que consume la capa REST para operar
// conversaciones. Toda mutación pasa por el ConversationStore, que serializa
// escritores y publica los eventos de cambio.
type IConversationUsecase interface {
	List(ctx context.Context, filter domain.ConversationFilter) ([]domain.Conversation, error)
	Get(ctx context.Context, conversationID string) (domain.Conversation, error)
	Messages(ctx context.Context, conversationID string, limit int, before *time.Time) ([]domain.Message, error)
	Accept(ctx context.Context, conversationID, advisorID string) (domain.Conversation, error)
	TransferToQueue(ctx context.Context, conversationID, advisorID, queueID, reason string) (domain.Conversation, error)
	TransferToAdvisor(ctx context.Context, conversationID, fromAdvisorID, toAdvisorID string) (domain.Conversation, error)
	Release(ctx context.Context, conversationID, advisorID, note string) (domain.Conversation, error)
	Close(ctx context.Context, conversationID, closedBy string) (domain.Conversation, error)
	SendText(ctx context.Context, conversationID, advisorID, text string) (*domain.Message, error)
	SendMedia(ctx context.Context, conversationID, advisorID string, media MediaSend) (*domain.Message, error)
	MarkRead(ctx context.Context, conversationID string) error
	Attachments(ctx context.Context, conversationID string) ([]domain.Attachment, error)
}

// MediaSend describe un adjunto saliente ya subido a statics (o una URL
// pública directa).
type MediaSend struct {
	Kind     string `json:"kind"` // image|audio|video|document
	URL      string `json:"url"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
	Mimetype string `json:"mimetype,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

type ConversationUsecase struct {
	store      *application.ConversationStore
	convs      domain.IConversationRepository
	sender     *application.OutboundSender
	dispatcher *application.Dispatcher
}

func NewConversationUsecase(
	store *application.ConversationStore,
	convs domain.IConversationRepository,
	sender *application.OutboundSender,
	dispatcher *application.Dispatcher,
) *ConversationUsecase {
	return &ConversationUsecase{store: store, convs: convs, sender: sender, dispatcher: dispatcher}
}

func (u *ConversationUsecase) List(ctx context.Context, filter domain.ConversationFilter) ([]domain.Conversation, error) {
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	return u.convs.List(ctx, filter)
}

func (u *ConversationUsecase) Get(ctx context.Context, conversationID string) (domain.Conversation, error) {
	return u.convs.GetByID(ctx, conversationID)
}

func (u *ConversationUsecase) Messages(ctx context.Context, conversationID string, limit int, before *time.Time) ([]domain.Message, error) {
	if _, err := u.convs.GetByID(ctx, conversationID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return u.convs.ListMessages(ctx, conversationID, limit, before)
}

func (u *ConversationUsecase) Accept(ctx context.Context, conversationID, advisorID string) (domain.Conversation, error) {
	return u.store.Accept(ctx, conversationID, advisorID)
}

// TransferToQueue devuelve el chat a una cola y despierta al dispatcher para
// que lo reparta.
func (u *ConversationUsecase) TransferToQueue(ctx context.Context, conversationID, advisorID, queueID, reason string) (domain.Conversation, error) {
	conv, err := u.store.TransferToQueue(ctx, conversationID, advisorID, queueID, reason)
	if err != nil {
		return conv, err
	}
	u.dispatcher.Notify(domain.TriggerChatQueued, queueID)
	return conv, nil
}

func (u *ConversationUsecase) TransferToAdvisor(ctx context.Context, conversationID, fromAdvisorID, toAdvisorID string) (domain.Conversation, error) {
	return u.store.TransferToAdvisor(ctx, conversationID, fromAdvisorID, toAdvisorID)
}

func (u *ConversationUsecase) Release(ctx context.Context, conversationID, advisorID, note string) (domain.Conversation, error) {
	conv, err := u.store.Release(ctx, conversationID, advisorID, note)
	if err != nil {
		return conv, err
	}
	if conv.QueueID != "" {
		u.dispatcher.Notify(domain.TriggerConversationReleased, conv.QueueID)
	}
	return conv, nil
}

func (u *ConversationUsecase) Close(ctx context.Context, conversationID, closedBy string) (domain.Conversation, error) {
	conv, err := u.store.Close(ctx, conversationID, closedBy)
	if err != nil {
		return conv, err
	}
	u.dispatcher.Notify(domain.TriggerCapacityFreed, conv.QueueID)
	return conv, nil
}

func (u *ConversationUsecase) SendText(ctx context.Context, conversationID, advisorID, text string) (*domain.Message, error) {
	conv, err := u.ownedBy(ctx, conversationID, advisorID)
	if err != nil {
		return nil, err
	}
	return u.sender.SendText(ctx, &conv, text, advisorID)
}

func (u *ConversationUsecase) SendMedia(ctx context.Context, conversationID, advisorID string, media MediaSend) (*domain.Message, error) {
	conv, err := u.ownedBy(ctx, conversationID, advisorID)
	if err != nil {
		return nil, err
	}
	msg, err := u.sender.SendMedia(ctx, &conv, media.Kind, media.URL, media.Caption, media.Filename, advisorID)
	if err != nil {
		return nil, err
	}
	att := &domain.Attachment{
		MessageID: msg.ID,
		Type:      domain.AttachmentType(media.Kind),
		URL:       media.URL,
		Filename:  media.Filename,
		Mimetype:  media.Mimetype,
		Size:      media.Size,
	}
	if err := u.store.LinkAttachment(ctx, att); err != nil {
		return msg, err
	}
	return msg, nil
}

func (u *ConversationUsecase) MarkRead(ctx context.Context, conversationID string) error {
	return u.store.MarkRead(ctx, conversationID)
}

func (u *ConversationUsecase) Attachments(ctx context.Context, conversationID string) ([]domain.Attachment, error) {
	return u.store.ListConversationAttachments(ctx, conversationID)
}

// ownedBy valida que el asesor pueda escribir en la conversación: debe estar
// abierta y asignada a él (o sin dueño, caso supervisor interviniendo).
func (u *ConversationUsecase) ownedBy(ctx context.Context, conversationID, advisorID string) (domain.Conversation, error) {
	conv, err := u.convs.GetByID(ctx, conversationID)
	if err != nil {
		return conv, err
	}
	if !conv.IsOpen() {
		return conv, pkgError.ConflictError("conversation is closed")
	}
	if conv.AssignedTo != "" && !strings.EqualFold(conv.AssignedTo, advisorID) {
		return conv, pkgError.ConflictError("conversation is assigned to another advisor")
	}
	return conv, nil
}
