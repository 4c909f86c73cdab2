package usecase

import (
	"context"
	"time"

	"github.com/CYM-Peru/Bot-AI-V1-sub006/crm/domain"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/infrastructure/whatsapp"
	pkgError "github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/error"
	"github.com/sirupsen/logrus"
)

// ChannelSaveRequest es el alta o edición de una conexión WhatsApp. Los
// tokens vacíos en una edición conservan los guardados.
type ChannelSaveRequest struct {
	ID                    string `json:"id,omitempty"`
	Alias                 string `json:"alias"`
	ProviderPhoneNumberID string `json:"provider_phone_number_id"`
	DisplayNumber         string `json:"display_number"`
	AccessToken           string `json:"access_token,omitempty"`
	VerifyToken           string `json:"verify_token,omitempty"`
	IsActive              *bool  `json:"is_active,omitempty"`
	DefaultQueueID        string `json:"default_queue_id,omitempty"`
	DefaultFlowID         string `json:"default_flow_id,omitempty"`
}

// PhoneChecker es la porción del cliente Cloud API que valida credenciales.
type PhoneChecker interface {
	CheckPhoneNumber(ctx context.Context, creds whatsapp.Credentials) (map[string]interface{}, error)
	SendText(ctx context.Context, creds whatsapp.Credentials, toPhone, body string) (whatsapp.SendResult, error)
}

type IChannelUsecase interface {
	List(ctx context.Context) ([]domain.ChannelConnection, error)
	Save(ctx context.Context, req ChannelSaveRequest) (domain.ChannelConnection, error)
	Delete(ctx context.Context, id string) error
	// Check valida las credenciales guardadas contra el Graph API.
	Check(ctx context.Context, id string) (map[string]interface{}, error)
	// Test envía un mensaje real de prueba por el canal.
	Test(ctx context.Context, id, toPhone, body string) (string, error)
	// Verify marca el canal como verificado tras un Check exitoso.
	Verify(ctx context.Context, id string) (domain.ChannelConnection, error)
}

type ChannelUsecase struct {
	channels domain.IChannelRepository
	convs    domain.IConversationRepository
	client   PhoneChecker
}

func NewChannelUsecase(channels domain.IChannelRepository, convs domain.IConversationRepository, client PhoneChecker) *ChannelUsecase {
	return &ChannelUsecase{channels: channels, convs: convs, client: client}
}

func (u *ChannelUsecase) List(ctx context.Context) ([]domain.ChannelConnection, error) {
	return u.channels.List(ctx)
}

func (u *ChannelUsecase) Save(ctx context.Context, req ChannelSaveRequest) (domain.ChannelConnection, error) {
	if req.ID == "" {
		ch := domain.ChannelConnection{
			Alias:                 req.Alias,
			ProviderPhoneNumberID: req.ProviderPhoneNumberID,
			DisplayNumber:         req.DisplayNumber,
			AccessToken:           req.AccessToken,
			VerifyToken:           req.VerifyToken,
			IsActive:              true,
			DefaultQueueID:        req.DefaultQueueID,
			DefaultFlowID:         req.DefaultFlowID,
		}
		if req.IsActive != nil {
			ch.IsActive = *req.IsActive
		}
		if err := u.channels.Create(ctx, &ch); err != nil {
			return domain.ChannelConnection{}, err
		}
		logrus.Infof("[CHANNEL] Connection %s created for number %s", ch.ID, ch.DisplayNumber)
		u.migrateAlias(ctx, ch)
		return ch, nil
	}

	ch, err := u.channels.GetByID(ctx, req.ID)
	if err != nil {
		return domain.ChannelConnection{}, err
	}
	ch.Alias = req.Alias
	ch.ProviderPhoneNumberID = req.ProviderPhoneNumberID
	ch.DisplayNumber = req.DisplayNumber
	ch.DefaultQueueID = req.DefaultQueueID
	ch.DefaultFlowID = req.DefaultFlowID
	if req.AccessToken != "" {
		ch.AccessToken = req.AccessToken
	}
	if req.VerifyToken != "" {
		ch.VerifyToken = req.VerifyToken
	}
	if req.IsActive != nil {
		ch.IsActive = *req.IsActive
	}
	ch.UpdatedAt = time.Now().UTC()
	if err := u.channels.Update(ctx, ch); err != nil {
		return domain.ChannelConnection{}, err
	}
	u.migrateAlias(ctx, ch)
	return ch, nil
}

// migrateAlias repone el id canónico del proveedor sobre conversaciones que
// quedaron guardadas bajo el UUID local del canal. Corre en cada alta o
// edición que fija el provider_phone_number_id; sin filas legadas es un no-op.
func (u *ChannelUsecase) migrateAlias(ctx context.Context, ch domain.ChannelConnection) {
	if u.convs == nil || ch.ProviderPhoneNumberID == "" || ch.ProviderPhoneNumberID == ch.ID {
		return
	}
	changed, err := u.convs.RewriteChannelAlias(ctx, ch.ID, ch.ProviderPhoneNumberID)
	if err != nil {
		logrus.WithError(err).Errorf("[CHANNEL] Alias migration failed for connection %s", ch.ID)
		return
	}
	if changed > 0 {
		logrus.Infof("[CHANNEL] Connection %s: %d conversations rewritten to provider id %s",
			ch.ID, changed, ch.ProviderPhoneNumberID)
	}
}

func (u *ChannelUsecase) Delete(ctx context.Context, id string) error {
	return u.channels.Delete(ctx, id)
}

func (u *ChannelUsecase) Check(ctx context.Context, id string) (map[string]interface{}, error) {
	creds, err := u.creds(ctx, id)
	if err != nil {
		return nil, err
	}
	return u.client.CheckPhoneNumber(ctx, creds)
}

func (u *ChannelUsecase) Test(ctx context.Context, id, toPhone, body string) (string, error) {
	if toPhone == "" {
		return "", pkgError.ValidationError("to_phone is required")
	}
	if body == "" {
		body = "Mensaje de prueba de la plataforma"
	}
	creds, err := u.creds(ctx, id)
	if err != nil {
		return "", err
	}
	res, err := u.client.SendText(ctx, creds, toPhone, body)
	if err != nil {
		return "", err
	}
	return res.ProviderMessageID, nil
}

func (u *ChannelUsecase) Verify(ctx context.Context, id string) (domain.ChannelConnection, error) {
	if _, err := u.Check(ctx, id); err != nil {
		return domain.ChannelConnection{}, err
	}
	if err := u.channels.MarkVerified(ctx, id, time.Now().UTC()); err != nil {
		return domain.ChannelConnection{}, err
	}
	return u.channels.GetByID(ctx, id)
}

func (u *ChannelUsecase) creds(ctx context.Context, id string) (whatsapp.Credentials, error) {
	ch, err := u.channels.GetByID(ctx, id)
	if err != nil {
		return whatsapp.Credentials{}, err
	}
	if ch.AccessToken == "" {
		return whatsapp.Credentials{}, pkgError.ConfigError("channel has no access token configured")
	}
	return whatsapp.Credentials{PhoneNumberID: ch.ProviderPhoneNumberID, AccessToken: ch.AccessToken}, nil
}
