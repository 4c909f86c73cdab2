package repository

import (
	"context"
	"time"

	"github.com/CYM-Peru/Bot-AI-V1-sub006/crm/domain"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/crypto"
	pkgError "github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/error"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// channelModel guarda los tokens cifrados (AES-GCM). El repositorio descifra
// al leer: en memoria siempre circulan en claro, hacia afuera nunca.
type channelModel struct {
	ID                    string     `gorm:"primaryKey;column:id"`
	Alias                 string     `gorm:"column:alias"`
	ProviderPhoneNumberID string     `gorm:"column:provider_phone_number_id;uniqueIndex;not null"`
	DisplayNumber         string     `gorm:"column:display_number"`
	AccessToken           string     `gorm:"column:access_token"`
	VerifyToken           string     `gorm:"column:verify_token"`
	IsActive              bool       `gorm:"column:is_active;default:true"`
	DefaultQueueID        string     `gorm:"column:default_queue_id"`
	DefaultFlowID         string     `gorm:"column:default_flow_id"`
	LastVerifiedAt        *time.Time `gorm:"column:last_verified_at"`
	CreatedAt             time.Time  `gorm:"column:created_at;not null"`
	UpdatedAt             time.Time  `gorm:"column:updated_at;not null"`
}

func (channelModel) TableName() string { return "channel_connections" }

// encryptToken cifra un token antes de persistirlo. Sin clave configurada se
// guarda en claro con un aviso; Decrypt tolera ese caso como texto legado.
func encryptToken(plain string) string {
	if plain == "" {
		return ""
	}
	enc, err := crypto.Encrypt(plain)
	if err != nil {
		logrus.WithError(err).Warn("[CHANNEL] Storing token without encryption")
		return plain
	}
	return enc
}

func decryptToken(stored string) string {
	if stored == "" {
		return ""
	}
	plain, err := crypto.Decrypt(stored)
	if err != nil {
		logrus.WithError(err).Error("[CHANNEL] Failed to decrypt stored token")
		return ""
	}
	return plain
}

func toChannelModel(c domain.ChannelConnection) channelModel {
	return channelModel{
		ID:                    c.ID,
		Alias:                 c.Alias,
		ProviderPhoneNumberID: c.ProviderPhoneNumberID,
		DisplayNumber:         c.DisplayNumber,
		AccessToken:           encryptToken(c.AccessToken),
		VerifyToken:           encryptToken(c.VerifyToken),
		IsActive:              c.IsActive,
		DefaultQueueID:        c.DefaultQueueID,
		DefaultFlowID:         c.DefaultFlowID,
		LastVerifiedAt:        c.LastVerifiedAt,
		CreatedAt:             c.CreatedAt,
		UpdatedAt:             c.UpdatedAt,
	}
}

func fromChannelModel(m channelModel) domain.ChannelConnection {
	return domain.ChannelConnection{
		ID:                    m.ID,
		Alias:                 m.Alias,
		ProviderPhoneNumberID: m.ProviderPhoneNumberID,
		DisplayNumber:         m.DisplayNumber,
		AccessToken:           decryptToken(m.AccessToken),
		VerifyToken:           decryptToken(m.VerifyToken),
		IsActive:              m.IsActive,
		DefaultQueueID:        m.DefaultQueueID,
		DefaultFlowID:         m.DefaultFlowID,
		LastVerifiedAt:        m.LastVerifiedAt,
		CreatedAt:             m.CreatedAt,
		UpdatedAt:             m.UpdatedAt,
	}
}

type ChannelGormRepository struct {
	db *gorm.DB
}

func NewChannelGormRepository(db *gorm.DB) *ChannelGormRepository {
	return &ChannelGormRepository{db: db}
}

func (r *ChannelGormRepository) Init(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&channelModel{})
}

func (r *ChannelGormRepository) Create(ctx context.Context, ch *domain.ChannelConnection) error {
	if ch.ID == "" {
		ch.ID = uuid.NewString()
	}
	model := toChannelModel(*ch)
	err := r.db.WithContext(ctx).Create(&model).Error
	if err != nil && isUniqueViolation(err) {
		return pkgError.ConflictError("channel with provider phone id " + ch.ProviderPhoneNumberID + " already exists")
	}
	return err
}

func (r *ChannelGormRepository) GetByID(ctx context.Context, id string) (domain.ChannelConnection, error) {
	var m channelModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.ChannelConnection{}, pkgError.NotFoundError("channel " + id + " not found")
		}
		return domain.ChannelConnection{}, err
	}
	return fromChannelModel(m), nil
}

func (r *ChannelGormRepository) GetByProviderPhoneID(ctx context.Context, providerPhoneNumberID string) (domain.ChannelConnection, error) {
	var m channelModel
	if err := r.db.WithContext(ctx).First(&m, "provider_phone_number_id = ?", providerPhoneNumberID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.ChannelConnection{}, pkgError.NotFoundError("no channel for provider phone id " + providerPhoneNumberID)
		}
		return domain.ChannelConnection{}, err
	}
	return fromChannelModel(m), nil
}

func (r *ChannelGormRepository) List(ctx context.Context) ([]domain.ChannelConnection, error) {
	var models []channelModel
	if err := r.db.WithContext(ctx).Order("alias ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.ChannelConnection, len(models))
	for i, m := range models {
		res[i] = fromChannelModel(m)
	}
	return res, nil
}

func (r *ChannelGormRepository) ListActive(ctx context.Context) ([]domain.ChannelConnection, error) {
	var models []channelModel
	if err := r.db.WithContext(ctx).Where("is_active = ?", true).Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.ChannelConnection, len(models))
	for i, m := range models {
		res[i] = fromChannelModel(m)
	}
	return res, nil
}

func (r *ChannelGormRepository) Update(ctx context.Context, ch domain.ChannelConnection) error {
	model := toChannelModel(ch)
	return r.db.WithContext(ctx).Model(&channelModel{ID: ch.ID}).
		Select("*").Omit("id", "created_at").
		Updates(&model).Error
}

func (r *ChannelGormRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&channelModel{}, "id = ?", id).Error
}

func (r *ChannelGormRepository) MarkVerified(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&channelModel{}).
		Where("id = ?", id).
		Update("last_verified_at", at).Error
}
