package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/CYM-Peru/Bot-AI-V1-sub006/flowengine/domain"
	"gorm.io/gorm"
)

// sessionModel persiste la sesión completa. La clave primaria es la forma
// "canal|teléfono" de la SessionKey; el estado variable va como JSON porque
// las escrituras son siempre de sesión entera bajo el lock de conversación.
type sessionModel struct {
	Key               string     `gorm:"primaryKey;column:key"`
	ConversationID    string     `gorm:"column:conversation_id;not null;index"`
	FlowID            string     `gorm:"column:flow_id;not null;index"`
	CurrentNodeID     string     `gorm:"column:current_node_id;not null"`
	Variables         string     `gorm:"column:variables"` // JSON
	History           string     `gorm:"column:history"`   // JSON
	Awaiting          string     `gorm:"column:awaiting;not null;default:'none'"`
	RetryCount        int        `gorm:"column:retry_count;default:0"`
	WakeAt            *time.Time `gorm:"column:wake_at;index"`
	WakeInterruptible bool       `gorm:"column:wake_interruptible;default:false"`
	CreatedAt         time.Time  `gorm:"column:created_at;not null"`
	LastActivityAt    time.Time  `gorm:"column:last_activity_at;not null"`
}

func (sessionModel) TableName() string { return "bot_sessions" }

func toSessionModel(s domain.Session) sessionModel {
	variables, _ := json.Marshal(s.Variables)
	history, _ := json.Marshal(s.History)
	return sessionModel{
		Key:               s.Key.String(),
		ConversationID:    s.ConversationID,
		FlowID:            s.FlowID,
		CurrentNodeID:     s.CurrentNodeID,
		Variables:         string(variables),
		History:           string(history),
		Awaiting:          string(s.Awaiting),
		RetryCount:        s.RetryCount,
		WakeAt:            s.WakeAt,
		WakeInterruptible: s.WakeInterruptible,
		CreatedAt:         s.CreatedAt,
		LastActivityAt:    s.LastActivityAt,
	}
}

func fromSessionModel(m sessionModel) (domain.Session, error) {
	key, err := domain.ParseSessionKey(m.Key)
	if err != nil {
		return domain.Session{}, err
	}
	s := domain.Session{
		Key:               key,
		ConversationID:    m.ConversationID,
		FlowID:            m.FlowID,
		CurrentNodeID:     m.CurrentNodeID,
		Awaiting:          domain.Awaiting(m.Awaiting),
		RetryCount:        m.RetryCount,
		WakeAt:            m.WakeAt,
		WakeInterruptible: m.WakeInterruptible,
		CreatedAt:         m.CreatedAt,
		LastActivityAt:    m.LastActivityAt,
	}
	if m.Variables != "" {
		_ = json.Unmarshal([]byte(m.Variables), &s.Variables)
	}
	if m.History != "" {
		_ = json.Unmarshal([]byte(m.History), &s.History)
	}
	if s.Variables == nil {
		s.Variables = map[string]string{}
	}
	return s, nil
}

type SessionGormRepository struct {
	db *gorm.DB
}

func NewSessionGormRepository(db *gorm.DB) *SessionGormRepository {
	return &SessionGormRepository{db: db}
}

func (r *SessionGormRepository) Init(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&sessionModel{})
}

func (r *SessionGormRepository) Get(ctx context.Context, key domain.SessionKey) (*domain.Session, error) {
	var m sessionModel
	err := r.db.WithContext(ctx).First(&m, "key = ?", key.String()).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s, err := fromSessionModel(m)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SessionGormRepository) Save(ctx context.Context, s *domain.Session) error {
	model := toSessionModel(*s)
	return r.db.WithContext(ctx).Save(&model).Error
}

func (r *SessionGormRepository) Delete(ctx context.Context, key domain.SessionKey) error {
	return r.db.WithContext(ctx).Delete(&sessionModel{}, "key = ?", key.String()).Error
}

func (r *SessionGormRepository) ListWakeDue(ctx context.Context, now time.Time) ([]domain.Session, error) {
	var models []sessionModel
	err := r.db.WithContext(ctx).
		Where("wake_at IS NOT NULL AND wake_at <= ?", now).
		Order("wake_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return sessionsFromModels(models)
}

func (r *SessionGormRepository) ListByFlow(ctx context.Context, flowID string) ([]domain.Session, error) {
	var models []sessionModel
	if err := r.db.WithContext(ctx).Where("flow_id = ?", flowID).Find(&models).Error; err != nil {
		return nil, err
	}
	return sessionsFromModels(models)
}

func (r *SessionGormRepository) ListAll(ctx context.Context) ([]domain.Session, error) {
	var models []sessionModel
	if err := r.db.WithContext(ctx).Find(&models).Error; err != nil {
		return nil, err
	}
	return sessionsFromModels(models)
}

func sessionsFromModels(models []sessionModel) ([]domain.Session, error) {
	res := make([]domain.Session, 0, len(models))
	for _, m := range models {
		s, err := fromSessionModel(m)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, nil
}
