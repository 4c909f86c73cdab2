package application

import (
	"context"
	"time"

	"github.com/CYM-Peru/Bot-AI-V1-sub006/crm/domain"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/utils"
	"github.com/adhocore/gronx"
	"github.com/sirupsen/logrus"
)

// CampaignScheduler evalúa las expresiones cron de las campañas y ejecuta los
// lotes vencidos. El rate limit por número lo aplica el cliente de la Cloud
// API, aquí solo se serializa por campaña.
type CampaignScheduler struct {
	campaigns domain.ICampaignRepository
	channels  domain.IChannelRepository
	convs     domain.IConversationRepository
	store     *ConversationStore
	sender    *OutboundSender

	Interval time.Duration
}

func NewCampaignScheduler(
	campaigns domain.ICampaignRepository,
	channels domain.IChannelRepository,
	convs domain.IConversationRepository,
	store *ConversationStore,
	sender *OutboundSender,
) *CampaignScheduler {
	return &CampaignScheduler{
		campaigns: campaigns,
		channels:  channels,
		convs:     convs,
		store:     store,
		sender:    sender,
		Interval:  time.Minute,
	}
}

// Schedule valida el cron y calcula la próxima ejecución de la campaña.
func (s *CampaignScheduler) Schedule(ctx context.Context, campaignID string) error {
	camp, err := s.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return err
	}
	if !gronx.New().IsValid(camp.CronExpr) {
		return errInvalidCron(camp.CronExpr)
	}
	next, err := gronx.NextTick(camp.CronExpr, false)
	if err != nil {
		return err
	}
	camp.Status = domain.CampaignScheduled
	camp.NextRunAt = &next
	camp.UpdatedAt = time.Now().UTC()
	return s.campaigns.Update(ctx, camp)
}

func (s *CampaignScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	logrus.Info("[SCHEDULER] Campaign scheduler started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				logrus.WithError(err).Error("[SCHEDULER] Campaign sweep failed")
			}
		}
	}
}

func (s *CampaignScheduler) Sweep(ctx context.Context) error {
	due, err := s.campaigns.ListDue(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	for _, camp := range due {
		s.execute(ctx, camp)
	}
	return nil
}

func (s *CampaignScheduler) execute(ctx context.Context, camp domain.Campaign) {
	logrus.Infof("[SCHEDULER] Running campaign %s (%d recipients)", camp.Name, len(camp.Recipients))
	now := time.Now().UTC()

	camp.Status = domain.CampaignRunning
	camp.LastRunAt = &now
	if err := s.campaigns.Update(ctx, camp); err != nil {
		logrus.WithError(err).Errorf("[SCHEDULER] Could not mark campaign %s running", camp.ID)
		return
	}

	sent, failed := 0, 0
	for _, phone := range camp.Recipients {
		detail := &domain.CampaignMessageDetail{
			CampaignID:  camp.ID,
			RemotePhone: utils.NormalizePhone(phone),
		}
		if err := s.sendToRecipient(ctx, &camp, detail); err != nil {
			detail.Status = domain.CampaignDetailFailed
			detail.Error = err.Error()
			failed++
		} else {
			sentAt := time.Now().UTC()
			detail.Status = domain.CampaignDetailSent
			detail.SentAt = &sentAt
			sent++
		}
		if err := s.campaigns.SaveDetail(ctx, detail); err != nil {
			logrus.WithError(err).Warn("[SCHEDULER] Could not save campaign detail")
		}
	}

	// Reprogramación: campañas cron siguen; sin próxima ocurrencia terminan
	if next, err := gronx.NextTick(camp.CronExpr, false); err == nil {
		camp.Status = domain.CampaignScheduled
		camp.NextRunAt = &next
	} else {
		camp.Status = domain.CampaignDone
		camp.NextRunAt = nil
	}
	camp.UpdatedAt = time.Now().UTC()
	if err := s.campaigns.Update(ctx, camp); err != nil {
		logrus.WithError(err).Errorf("[SCHEDULER] Could not reschedule campaign %s", camp.ID)
	}
	logrus.Infof("[SCHEDULER] Campaign %s done: %d sent, %d failed", camp.Name, sent, failed)
}

func (s *CampaignScheduler) sendToRecipient(ctx context.Context, camp *domain.Campaign, detail *domain.CampaignMessageDetail) error {
	key := domain.ConversationKey{ChannelConnectionID: camp.ChannelConnectionID, RemotePhone: detail.RemotePhone}
	return s.store.WithLock(key, func() error {
		conv, _, err := s.store.UpsertOnInbound(ctx, camp.ChannelConnectionID, detail.RemotePhone, "")
		if err != nil {
			return err
		}
		if camp.QueueID != "" && conv.QueueID == "" {
			conv.QueueID = camp.QueueID
			conv.UpdatedAt = time.Now().UTC()
			if err := s.convs.Update(ctx, conv); err != nil {
				return err
			}
		}

		var msg *domain.Message
		switch {
		case camp.TemplateName != "":
			msg, err = s.sender.SendTemplate(ctx, &conv, camp.TemplateName, camp.TemplateLanguage, nil, "campaign")
		case camp.MediaURL != "":
			msg, err = s.sender.SendMedia(ctx, &conv, "image", camp.MediaURL, camp.Body, "", "campaign")
		default:
			msg, err = s.sender.SendText(ctx, &conv, camp.Body, "campaign")
		}
		if err != nil {
			return err
		}
		detail.MessageID = msg.ID
		return nil
	})
}

type errInvalidCron string

func (e errInvalidCron) Error() string { return "invalid cron expression: " + string(e) }
