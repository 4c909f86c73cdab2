package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/CYM-Peru/Bot-AI-V1-sub006/crm/domain"
	pkgError "github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/error"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// --- Persistence Models ---

type conversationModel struct {
	ID                  string         `gorm:"primaryKey;column:id"`
	Channel             string         `gorm:"column:channel;not null;default:'whatsapp'"`
	ChannelConnectionID string         `gorm:"column:channel_connection_id;not null;index:idx_conv_window"`
	RemotePhone         string         `gorm:"column:remote_phone;not null;index:idx_conv_window"`
	DisplayNumber       string         `gorm:"column:display_number"`
	ContactName         sql.NullString `gorm:"column:contact_name"`
	Status              string         `gorm:"column:status;not null;index"`
	AssignedTo          sql.NullString `gorm:"column:assigned_to;index"`
	AssignedAt          *time.Time     `gorm:"column:assigned_at"`
	QueuedAt            *time.Time     `gorm:"column:queued_at"`
	QueueID             sql.NullString `gorm:"column:queue_id;index"`
	BotFlowID           sql.NullString `gorm:"column:bot_flow_id"`
	BotStartedAt        *time.Time     `gorm:"column:bot_started_at"`
	TicketNumber        int64          `gorm:"column:ticket_number;uniqueIndex"`
	AttendedBy          sql.NullString `gorm:"column:attended_by"`     // JSON
	ActiveAdvisors      sql.NullString `gorm:"column:active_advisors"` // JSON
	TransferredFrom     sql.NullString `gorm:"column:transferred_from"`
	TransferredAt       *time.Time     `gorm:"column:transferred_at"`
	Unread              int            `gorm:"column:unread;default:0"`
	LastMessagePreview  sql.NullString `gorm:"column:last_message_preview"`
	LastMessageAt       *time.Time     `gorm:"column:last_message_at;index"`
	CreatedAt           time.Time      `gorm:"column:created_at;not null"`
	UpdatedAt           time.Time      `gorm:"column:updated_at;not null"`
}

func (conversationModel) TableName() string { return "conversations" }

type messageModel struct {
	ID                string         `gorm:"primaryKey;column:id"`
	ConversationID    string         `gorm:"column:conversation_id;not null;index"`
	Direction         string         `gorm:"column:direction;not null"`
	Type              string         `gorm:"column:type;not null"`
	Text              sql.NullString `gorm:"column:text"`
	MediaURL          sql.NullString `gorm:"column:media_url"`
	MediaThumb        sql.NullString `gorm:"column:media_thumb"`
	RepliedToID       sql.NullString `gorm:"column:replied_to_id"`
	Status            string         `gorm:"column:status;not null"`
	Timestamp         time.Time      `gorm:"column:timestamp;not null;index"`
	EventType         sql.NullString `gorm:"column:event_type"`
	SentBy            sql.NullString `gorm:"column:sent_by"`
	ProviderMessageID sql.NullString `gorm:"column:provider_message_id;uniqueIndex"`
	ProviderMetadata  sql.NullString `gorm:"column:provider_metadata"` // JSON
}

func (messageModel) TableName() string { return "messages" }

type attachmentModel struct {
	ID        string         `gorm:"primaryKey;column:id"`
	MessageID string         `gorm:"column:message_id;not null;index"`
	Type      string         `gorm:"column:type;not null"`
	URL       string         `gorm:"column:url;not null"`
	Thumbnail sql.NullString `gorm:"column:thumbnail"`
	Filename  string         `gorm:"column:filename"`
	Mimetype  string         `gorm:"column:mimetype"`
	Size      int64          `gorm:"column:size"`
	CreatedAt time.Time      `gorm:"column:created_at;not null"`
}

func (attachmentModel) TableName() string { return "attachments" }

// ticketCounterModel es la fila única del contador monotónico de tickets.
type ticketCounterModel struct {
	ID      int   `gorm:"primaryKey;column:id"`
	Counter int64 `gorm:"column:counter;not null"`
}

func (ticketCounterModel) TableName() string { return "ticket_counters" }

// --- Converters ---

func toConversationModel(c domain.Conversation) conversationModel {
	return conversationModel{
		ID:                  c.ID,
		Channel:             c.Channel,
		ChannelConnectionID: c.ChannelConnectionID,
		RemotePhone:         c.RemotePhone,
		DisplayNumber:       c.DisplayNumber,
		ContactName:         nullStr(c.ContactName),
		Status:              string(c.Status),
		AssignedTo:          nullStr(c.AssignedTo),
		AssignedAt:          c.AssignedAt,
		QueuedAt:            c.QueuedAt,
		QueueID:             nullStr(c.QueueID),
		BotFlowID:           nullStr(c.BotFlowID),
		BotStartedAt:        c.BotStartedAt,
		TicketNumber:        c.TicketNumber,
		AttendedBy:          nullJSON(c.AttendedBy),
		ActiveAdvisors:      nullJSON(c.ActiveAdvisors),
		TransferredFrom:     nullStr(c.TransferredFrom),
		TransferredAt:       c.TransferredAt,
		Unread:              c.Unread,
		LastMessagePreview:  nullStr(c.LastMessagePreview),
		LastMessageAt:       c.LastMessageAt,
		CreatedAt:           c.CreatedAt,
		UpdatedAt:           c.UpdatedAt,
	}
}

func fromConversationModel(m conversationModel) domain.Conversation {
	return domain.Conversation{
		ID:                  m.ID,
		Channel:             m.Channel,
		ChannelConnectionID: m.ChannelConnectionID,
		RemotePhone:         m.RemotePhone,
		DisplayNumber:       m.DisplayNumber,
		ContactName:         m.ContactName.String,
		Status:              domain.ConversationStatus(m.Status),
		AssignedTo:          m.AssignedTo.String,
		AssignedAt:          m.AssignedAt,
		QueuedAt:            m.QueuedAt,
		QueueID:             m.QueueID.String,
		BotFlowID:           m.BotFlowID.String,
		BotStartedAt:        m.BotStartedAt,
		TicketNumber:        m.TicketNumber,
		AttendedBy:          fromJSONList(m.AttendedBy),
		ActiveAdvisors:      fromJSONList(m.ActiveAdvisors),
		TransferredFrom:     m.TransferredFrom.String,
		TransferredAt:       m.TransferredAt,
		Unread:              m.Unread,
		LastMessagePreview:  m.LastMessagePreview.String,
		LastMessageAt:       m.LastMessageAt,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
	}
}

func toMessageModel(msg domain.Message) messageModel {
	return messageModel{
		ID:                msg.ID,
		ConversationID:    msg.ConversationID,
		Direction:         string(msg.Direction),
		Type:              string(msg.Type),
		Text:              nullStr(msg.Text),
		MediaURL:          nullStr(msg.MediaURL),
		MediaThumb:        nullStr(msg.MediaThumb),
		RepliedToID:       nullStr(msg.RepliedToID),
		Status:            string(msg.Status),
		Timestamp:         msg.Timestamp,
		EventType:         nullStr(msg.EventType),
		SentBy:            nullStr(msg.SentBy),
		ProviderMessageID: nullStr(msg.ProviderMessageID),
		ProviderMetadata:  nullJSONMap(msg.ProviderMetadata),
	}
}

func fromMessageModel(m messageModel) domain.Message {
	return domain.Message{
		ID:                m.ID,
		ConversationID:    m.ConversationID,
		Direction:         domain.MessageDirection(m.Direction),
		Type:              domain.MessageType(m.Type),
		Text:              m.Text.String,
		MediaURL:          m.MediaURL.String,
		MediaThumb:        m.MediaThumb.String,
		RepliedToID:       m.RepliedToID.String,
		Status:            domain.MessageStatus(m.Status),
		Timestamp:         m.Timestamp,
		EventType:         m.EventType.String,
		SentBy:            m.SentBy.String,
		ProviderMessageID: m.ProviderMessageID.String,
		ProviderMetadata:  fromJSONMap(m.ProviderMetadata),
	}
}

func toAttachmentModel(a domain.Attachment) attachmentModel {
	return attachmentModel{
		ID:        a.ID,
		MessageID: a.MessageID,
		Type:      string(a.Type),
		URL:       a.URL,
		Thumbnail: nullStr(a.Thumbnail),
		Filename:  a.Filename,
		Mimetype:  a.Mimetype,
		Size:      a.Size,
		CreatedAt: a.CreatedAt,
	}
}

func fromAttachmentModel(m attachmentModel) domain.Attachment {
	return domain.Attachment{
		ID:        m.ID,
		MessageID: m.MessageID,
		Type:      domain.AttachmentType(m.Type),
		URL:       m.URL,
		Thumbnail: m.Thumbnail.String,
		Filename:  m.Filename,
		Mimetype:  m.Mimetype,
		Size:      m.Size,
		CreatedAt: m.CreatedAt,
	}
}

// --- Repository Implementation ---

type ConversationGormRepository struct {
	db *gorm.DB
}

func NewConversationGormRepository(db *gorm.DB) *ConversationGormRepository {
	return &ConversationGormRepository{db: db}
}

func (r *ConversationGormRepository) Init(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(
		&conversationModel{},
		&messageModel{},
		&attachmentModel{},
		&ticketCounterModel{},
	); err != nil {
		return err
	}
	// Fila semilla del contador, ignorada si ya existe
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&ticketCounterModel{ID: 1, Counter: 0}).Error
}

// Create asigna el ticket_number desde el contador monotónico dentro de la
// misma transacción que inserta la conversación.
func (r *ConversationGormRepository) Create(ctx context.Context, conv *domain.Conversation) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var counter ticketCounterModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&counter, "id = ?", 1).Error; err != nil {
			return err
		}
		counter.Counter++
		if err := tx.Save(&counter).Error; err != nil {
			return err
		}
		conv.TicketNumber = counter.Counter
		model := toConversationModel(*conv)
		return tx.Create(&model).Error
	})
}

func (r *ConversationGormRepository) GetByID(ctx context.Context, id string) (domain.Conversation, error) {
	var m conversationModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Conversation{}, pkgError.NotFoundError("conversation " + id + " not found")
		}
		return domain.Conversation{}, err
	}
	return fromConversationModel(m), nil
}

func (r *ConversationGormRepository) GetOpenByKey(ctx context.Context, key domain.ConversationKey) (domain.Conversation, error) {
	var m conversationModel
	err := r.db.WithContext(ctx).
		Where("channel_connection_id = ? AND remote_phone = ? AND status <> ?",
			key.ChannelConnectionID, key.RemotePhone, string(domain.ConversationClosed)).
		Order("last_message_at DESC").
		First(&m).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Conversation{}, pkgError.NotFoundError("no open conversation for " + key.RemotePhone)
		}
		return domain.Conversation{}, err
	}
	return fromConversationModel(m), nil
}

func (r *ConversationGormRepository) Update(ctx context.Context, conv domain.Conversation) error {
	model := toConversationModel(conv)
	// Save con Select(*) para que los campos puestos a NULL también se escriban
	return r.db.WithContext(ctx).Model(&conversationModel{ID: conv.ID}).
		Select("*").Omit("id", "created_at", "ticket_number").
		Updates(&model).Error
}

func (r *ConversationGormRepository) List(ctx context.Context, filter domain.ConversationFilter) ([]domain.Conversation, error) {
	q := r.db.WithContext(ctx).Model(&conversationModel{})
	if len(filter.Status) > 0 {
		statuses := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			statuses[i] = string(s)
		}
		q = q.Where("status IN ?", statuses)
	}
	if filter.QueueID != "" {
		q = q.Where("queue_id = ?", filter.QueueID)
	}
	if filter.AssignedTo != "" {
		q = q.Where("assigned_to = ?", filter.AssignedTo)
	}
	if filter.ChannelConnectionID != "" {
		q = q.Where("channel_connection_id = ?", filter.ChannelConnectionID)
	}
	if filter.Search != "" {
		like := "%" + strings.TrimSpace(filter.Search) + "%"
		q = q.Where("remote_phone LIKE ? OR contact_name LIKE ? OR display_number LIKE ?", like, like, like)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var models []conversationModel
	if err := q.Order("last_message_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Conversation, len(models))
	for i, m := range models {
		res[i] = fromConversationModel(m)
	}
	return res, nil
}

func (r *ConversationGormRepository) ListQueued(ctx context.Context, queueID string) ([]domain.Conversation, error) {
	var models []conversationModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND (assigned_to IS NULL OR assigned_to = '') AND queue_id = ?",
			string(domain.ConversationActive), queueID).
		Order("queued_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	res := make([]domain.Conversation, len(models))
	for i, m := range models {
		res[i] = fromConversationModel(m)
	}
	return res, nil
}

func (r *ConversationGormRepository) ListBotOwned(ctx context.Context) ([]domain.Conversation, error) {
	var models []conversationModel
	err := r.db.WithContext(ctx).
		Where("assigned_to = ? OR (bot_flow_id IS NOT NULL AND bot_started_at IS NOT NULL)", domain.AssignedToBot).
		Where("status <> ?", string(domain.ConversationClosed)).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	res := make([]domain.Conversation, len(models))
	for i, m := range models {
		res[i] = fromConversationModel(m)
	}
	return res, nil
}

func (r *ConversationGormRepository) ListAttending(ctx context.Context) ([]domain.Conversation, error) {
	var models []conversationModel
	err := r.db.WithContext(ctx).
		Where("status = ?", string(domain.ConversationAttending)).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	res := make([]domain.Conversation, len(models))
	for i, m := range models {
		res[i] = fromConversationModel(m)
	}
	return res, nil
}

func (r *ConversationGormRepository) ListAssignedTo(ctx context.Context, advisorID string) ([]domain.Conversation, error) {
	var models []conversationModel
	err := r.db.WithContext(ctx).
		Where("assigned_to = ? AND status <> ?", advisorID, string(domain.ConversationClosed)).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	res := make([]domain.Conversation, len(models))
	for i, m := range models {
		res[i] = fromConversationModel(m)
	}
	return res, nil
}

func (r *ConversationGormRepository) CountAttending(ctx context.Context, advisorID string) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&conversationModel{}).
		Where("assigned_to = ? AND status = ?", advisorID, string(domain.ConversationAttending)).
		Count(&count).Error
	return int(count), err
}

// CASAssign resuelve carreras de asignación: el UPDATE solo aplica si
// assigned_to todavía tiene el valor esperado ('' se trata como NULL).
func (r *ConversationGormRepository) CASAssign(ctx context.Context, conversationID, expectAssignedTo string, fields map[string]interface{}) (bool, error) {
	q := r.db.WithContext(ctx).Model(&conversationModel{}).Where("id = ?", conversationID)
	if expectAssignedTo == "" {
		q = q.Where("assigned_to IS NULL OR assigned_to = ''")
	} else {
		q = q.Where("assigned_to = ?", expectAssignedTo)
	}
	res := q.Updates(fields)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// RewriteChannelAlias repone el id canónico del proveedor sobre un alias
// legado. Si un mismo contacto quedó con ventana abierta bajo ambos ids, se
// conserva la más recientemente activa y los mensajes de la perdedora se
// reparentan.
func (r *ConversationGormRepository) RewriteChannelAlias(ctx context.Context, aliasID, providerID string) (int, error) {
	changed := 0
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var aliased []conversationModel
		if err := tx.Where("channel_connection_id = ?", aliasID).Find(&aliased).Error; err != nil {
			return err
		}

		for _, conv := range aliased {
			if conv.Status == string(domain.ConversationClosed) {
				if err := tx.Model(&conversationModel{ID: conv.ID}).
					Update("channel_connection_id", providerID).Error; err != nil {
					return err
				}
				changed++
				continue
			}

			var dup conversationModel
			err := tx.Where("channel_connection_id = ? AND remote_phone = ? AND status <> ? AND id <> ?",
				providerID, conv.RemotePhone, string(domain.ConversationClosed), conv.ID).
				First(&dup).Error
			switch {
			case err == gorm.ErrRecordNotFound:
				if err := tx.Model(&conversationModel{ID: conv.ID}).
					Update("channel_connection_id", providerID).Error; err != nil {
					return err
				}
				changed++
			case err != nil:
				return err
			default:
				// Duplicado: gana la más recientemente activa
				winner, loser := dup, conv
				if lastActive(conv).After(lastActive(dup)) {
					winner, loser = conv, dup
				}
				if err := tx.Model(&messageModel{}).
					Where("conversation_id = ?", loser.ID).
					Update("conversation_id", winner.ID).Error; err != nil {
					return err
				}
				if err := tx.Model(&conversationModel{ID: loser.ID}).
					Updates(map[string]interface{}{
						"status":     string(domain.ConversationClosed),
						"updated_at": time.Now().UTC(),
					}).Error; err != nil {
					return err
				}
				if err := tx.Model(&conversationModel{ID: winner.ID}).
					Update("channel_connection_id", providerID).Error; err != nil {
					return err
				}
				logrus.Infof("[MIGRATION] Merged duplicate conversation %s into %s for %s",
					loser.ID, winner.ID, conv.RemotePhone)
				changed += 2
			}
		}
		return nil
	})
	return changed, err
}

func lastActive(m conversationModel) time.Time {
	if m.LastMessageAt != nil {
		return *m.LastMessageAt
	}
	return m.CreatedAt
}

// --- Messages ---

func (r *ConversationGormRepository) AppendMessage(ctx context.Context, msg *domain.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	model := toMessageModel(*msg)
	err := r.db.WithContext(ctx).Create(&model).Error
	if err != nil && isUniqueViolation(err) {
		return pkgError.ConflictError("duplicate provider_message_id " + msg.ProviderMessageID)
	}
	return err
}

func (r *ConversationGormRepository) GetMessage(ctx context.Context, id string) (domain.Message, error) {
	var m messageModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Message{}, pkgError.NotFoundError("message " + id + " not found")
		}
		return domain.Message{}, err
	}
	return fromMessageModel(m), nil
}

func (r *ConversationGormRepository) GetMessageByProviderID(ctx context.Context, providerMessageID string) (domain.Message, error) {
	var m messageModel
	if err := r.db.WithContext(ctx).First(&m, "provider_message_id = ?", providerMessageID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Message{}, pkgError.NotFoundError("message with provider id " + providerMessageID + " not found")
		}
		return domain.Message{}, err
	}
	return fromMessageModel(m), nil
}

func (r *ConversationGormRepository) SetMessageProviderID(ctx context.Context, messageID, providerMessageID string) error {
	return r.db.WithContext(ctx).Model(&messageModel{}).
		Where("id = ?", messageID).
		Update("provider_message_id", nullStr(providerMessageID)).Error
}

func (r *ConversationGormRepository) UpdateMessageStatus(ctx context.Context, messageID string, status domain.MessageStatus) error {
	return r.db.WithContext(ctx).Model(&messageModel{}).
		Where("id = ?", messageID).
		Update("status", string(status)).Error
}

func (r *ConversationGormRepository) ListMessages(ctx context.Context, conversationID string, limit int, before *time.Time) ([]domain.Message, error) {
	q := r.db.WithContext(ctx).Where("conversation_id = ?", conversationID)
	if before != nil {
		q = q.Where("timestamp < ?", *before)
	}
	if limit <= 0 {
		limit = 50
	}
	var models []messageModel
	if err := q.Order("timestamp DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	// Se listan en orden cronológico ascendente
	res := make([]domain.Message, len(models))
	for i, m := range models {
		res[len(models)-1-i] = fromMessageModel(m)
	}
	return res, nil
}

func (r *ConversationGormRepository) CountMessagesSince(ctx context.Context, conversationID string, direction domain.MessageDirection, since time.Time) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&messageModel{}).
		Where("conversation_id = ? AND direction = ? AND timestamp >= ?", conversationID, string(direction), since).
		Count(&count).Error
	return int(count), err
}

// --- Attachments ---

func (r *ConversationGormRepository) LinkAttachment(ctx context.Context, att *domain.Attachment) error {
	if att.ID == "" {
		att.ID = uuid.NewString()
	}
	model := toAttachmentModel(*att)
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *ConversationGormRepository) GetAttachments(ctx context.Context, messageID string) ([]domain.Attachment, error) {
	var models []attachmentModel
	if err := r.db.WithContext(ctx).Where("message_id = ?", messageID).Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Attachment, len(models))
	for i, m := range models {
		res[i] = fromAttachmentModel(m)
	}
	return res, nil
}

func (r *ConversationGormRepository) ListConversationAttachments(ctx context.Context, conversationID string) ([]domain.Attachment, error) {
	var models []attachmentModel
	err := r.db.WithContext(ctx).
		Joins("JOIN messages ON messages.id = attachments.message_id").
		Where("messages.conversation_id = ?", conversationID).
		Order("attachments.created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	res := make([]domain.Attachment, len(models))
	for i, m := range models {
		res[i] = fromAttachmentModel(m)
	}
	return res, nil
}

// --- helpers ---

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullJSON(list []string) sql.NullString {
	if len(list) == 0 {
		return sql.NullString{}
	}
	data, _ := json.Marshal(list)
	return sql.NullString{String: string(data), Valid: true}
}

func fromJSONList(ns sql.NullString) []string {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	var out []string
	_ = json.Unmarshal([]byte(ns.String), &out)
	return out
}

func nullJSONMap(m map[string]string) sql.NullString {
	if len(m) == 0 {
		return sql.NullString{}
	}
	data, _ := json.Marshal(m)
	return sql.NullString{String: string(data), Valid: true}
}

func fromJSONMap(ns sql.NullString) map[string]string {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	out := map[string]string{}
	_ = json.Unmarshal([]byte(ns.String), &out)
	return out
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
