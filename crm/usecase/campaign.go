package usecase

import (
	"context"

	"github.com/CYM-Peru/Bot-AI-V1-sub006/crm/application"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/crm/domain"
	pkgError "github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/error"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/utils"
)

type ICampaignUsecase interface {
	List(ctx context.Context) ([]domain.Campaign, error)
	Get(ctx context.Context, id string) (domain.Campaign, error)
	Save(ctx context.Context, c *domain.Campaign) error
	Delete(ctx context.Context, id string) error
	// Schedule valida el cron y deja la campaña lista para el scheduler.
	Schedule(ctx context.Context, id string) error
	Details(ctx context.Context, id string) ([]domain.CampaignMessageDetail, error)
}

type CampaignUsecase struct {
	campaigns domain.ICampaignRepository
	scheduler *application.CampaignScheduler
}

func NewCampaignUsecase(campaigns domain.ICampaignRepository, scheduler *application.CampaignScheduler) *CampaignUsecase {
	return &CampaignUsecase{campaigns: campaigns, scheduler: scheduler}
}

func (u *CampaignUsecase) List(ctx context.Context) ([]domain.Campaign, error) {
	return u.campaigns.List(ctx)
}

func (u *CampaignUsecase) Get(ctx context.Context, id string) (domain.Campaign, error) {
	return u.campaigns.GetByID(ctx, id)
}

func (u *CampaignUsecase) Save(ctx context.Context, c *domain.Campaign) error {
	if c.TemplateName == "" && c.Body == "" && c.MediaURL == "" {
		return pkgError.ValidationError("campaign needs a template, body or media")
	}
	for i, r := range c.Recipients {
		c.Recipients[i] = utils.NormalizePhone(r)
	}
	if c.Status == "" {
		c.Status = domain.CampaignDraft
	}
	if c.ID == "" {
		return u.campaigns.Create(ctx, c)
	}
	return u.campaigns.Update(ctx, *c)
}

func (u *CampaignUsecase) Delete(ctx context.Context, id string) error {
	return u.campaigns.Delete(ctx, id)
}

func (u *CampaignUsecase) Schedule(ctx context.Context, id string) error {
	return u.scheduler.Schedule(ctx, id)
}

func (u *CampaignUsecase) Details(ctx context.Context, id string) ([]domain.CampaignMessageDetail, error) {
	return u.campaigns.ListDetails(ctx, id)
}
