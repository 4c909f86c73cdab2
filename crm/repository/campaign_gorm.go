package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/CYM-Peru/Bot-AI-V1-sub006/crm/domain"
	pkgError "github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/error"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type campaignModel struct {
	ID                  string         `gorm:"primaryKey;column:id"`
	Name                string         `gorm:"column:name;not null"`
	ChannelConnectionID string         `gorm:"column:channel_connection_id;not null"`
	QueueID             string         `gorm:"column:queue_id"`
	TemplateName        string         `gorm:"column:template_name"`
	TemplateLanguage    string         `gorm:"column:template_language"`
	Body                string         `gorm:"column:body"`
	MediaURL            string         `gorm:"column:media_url"`
	CronExpr            string         `gorm:"column:cron_expr;not null"`
	Recipients          sql.NullString `gorm:"column:recipients"` // JSON
	Status              string         `gorm:"column:status;not null;default:'draft'"`
	LastRunAt           *time.Time     `gorm:"column:last_run_at"`
	NextRunAt           *time.Time     `gorm:"column:next_run_at;index"`
	CreatedAt           time.Time      `gorm:"column:created_at;not null"`
	UpdatedAt           time.Time      `gorm:"column:updated_at;not null"`
}

func (campaignModel) TableName() string { return "campaigns" }

type campaignDetailModel struct {
	ID          string     `gorm:"primaryKey;column:id"`
	CampaignID  string     `gorm:"column:campaign_id;not null;index"`
	RemotePhone string     `gorm:"column:remote_phone;not null"`
	MessageID   string     `gorm:"column:message_id"`
	Status      string     `gorm:"column:status;not null;default:'pending'"`
	Error       string     `gorm:"column:error"`
	SentAt      *time.Time `gorm:"column:sent_at"`
}

func (campaignDetailModel) TableName() string { return "campaign_message_details" }

func toCampaignModel(c domain.Campaign) campaignModel {
	return campaignModel{
		ID:                  c.ID,
		Name:                c.Name,
		ChannelConnectionID: c.ChannelConnectionID,
		QueueID:             c.QueueID,
		TemplateName:        c.TemplateName,
		TemplateLanguage:    c.TemplateLanguage,
		Body:                c.Body,
		MediaURL:            c.MediaURL,
		CronExpr:            c.CronExpr,
		Recipients:          nullJSON(c.Recipients),
		Status:              string(c.Status),
		LastRunAt:           c.LastRunAt,
		NextRunAt:           c.NextRunAt,
		CreatedAt:           c.CreatedAt,
		UpdatedAt:           c.UpdatedAt,
	}
}

func fromCampaignModel(m campaignModel) domain.Campaign {
	return domain.Campaign{
		ID:                  m.ID,
		Name:                m.Name,
		ChannelConnectionID: m.ChannelConnectionID,
		QueueID:             m.QueueID,
		TemplateName:        m.TemplateName,
		TemplateLanguage:    m.TemplateLanguage,
		Body:                m.Body,
		MediaURL:            m.MediaURL,
		CronExpr:            m.CronExpr,
		Recipients:          fromJSONList(m.Recipients),
		Status:              domain.CampaignStatus(m.Status),
		LastRunAt:           m.LastRunAt,
		NextRunAt:           m.NextRunAt,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
	}
}

type CampaignGormRepository struct {
	db *gorm.DB
}

func NewCampaignGormRepository(db *gorm.DB) *CampaignGormRepository {
	return &CampaignGormRepository{db: db}
}

func (r *CampaignGormRepository) Init(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&campaignModel{}, &campaignDetailModel{})
}

func (r *CampaignGormRepository) Create(ctx context.Context, c *domain.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = domain.CampaignDraft
	}
	model := toCampaignModel(*c)
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *CampaignGormRepository) GetByID(ctx context.Context, id string) (domain.Campaign, error) {
	var m campaignModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Campaign{}, pkgError.NotFoundError("campaign " + id + " not found")
		}
		return domain.Campaign{}, err
	}
	return fromCampaignModel(m), nil
}

func (r *CampaignGormRepository) List(ctx context.Context) ([]domain.Campaign, error) {
	var models []campaignModel
	if err := r.db.WithContext(ctx).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Campaign, len(models))
	for i, m := range models {
		res[i] = fromCampaignModel(m)
	}
	return res, nil
}

func (r *CampaignGormRepository) Update(ctx context.Context, c domain.Campaign) error {
	model := toCampaignModel(c)
	return r.db.WithContext(ctx).Model(&campaignModel{ID: c.ID}).
		Select("*").Omit("id", "created_at").
		Updates(&model).Error
}

func (r *CampaignGormRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&campaignDetailModel{}, "campaign_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&campaignModel{}, "id = ?", id).Error
	})
}

// ListDue devuelve las campañas programadas cuyo next_run_at ya venció.
func (r *CampaignGormRepository) ListDue(ctx context.Context, now time.Time) ([]domain.Campaign, error) {
	var models []campaignModel
	err := r.db.WithContext(ctx).
		Where("status IN ? AND next_run_at IS NOT NULL AND next_run_at <= ?",
			[]string{string(domain.CampaignScheduled), string(domain.CampaignRunning)}, now).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	res := make([]domain.Campaign, len(models))
	for i, m := range models {
		res[i] = fromCampaignModel(m)
	}
	return res, nil
}

func (r *CampaignGormRepository) SaveDetail(ctx context.Context, d *domain.CampaignMessageDetail) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Status == "" {
		d.Status = domain.CampaignDetailPending
	}
	model := campaignDetailModel{
		ID:          d.ID,
		CampaignID:  d.CampaignID,
		RemotePhone: d.RemotePhone,
		MessageID:   d.MessageID,
		Status:      string(d.Status),
		Error:       d.Error,
		SentAt:      d.SentAt,
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *CampaignGormRepository) UpdateDetail(ctx context.Context, d domain.CampaignMessageDetail) error {
	return r.db.WithContext(ctx).Model(&campaignDetailModel{}).
		Where("id = ?", d.ID).
		Updates(map[string]interface{}{
			"message_id": d.MessageID,
			"status":     string(d.Status),
			"error":      d.Error,
			"sent_at":    d.SentAt,
		}).Error
}

func (r *CampaignGormRepository) ListDetails(ctx context.Context, campaignID string) ([]domain.CampaignMessageDetail, error) {
	var models []campaignDetailModel
	err := r.db.WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	res := make([]domain.CampaignMessageDetail, len(models))
	for i, m := range models {
		res[i] = domain.CampaignMessageDetail{
			ID:          m.ID,
			CampaignID:  m.CampaignID,
			RemotePhone: m.RemotePhone,
			MessageID:   m.MessageID,
			Status:      domain.CampaignDetailStatus(m.Status),
			Error:       m.Error,
			SentAt:      m.SentAt,
		}
	}
	return res, nil
}
