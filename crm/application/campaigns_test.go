package application

import (
	"context"
	"testing"
	"time"

	"github.com/CYM-Peru/Bot-AI-V1-sub006/crm/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedCampaign(t *testing.T, repo domain.ICampaignRepository, channelID, queueID string) domain.Campaign {
	t.Helper()
	due := time.Now().UTC().Add(-time.Minute)
	camp := &domain.Campaign{
		Name:                "Promo agosto",
		ChannelConnectionID: channelID,
		QueueID:             queueID,
		Body:                "🎉 Nueva promoción disponible",
		CronExpr:            "0 9 * * 1",
		Recipients:          []string{"+51999000001", "+51 999 000 002"},
		Status:              domain.CampaignScheduled,
		NextRunAt:           &due,
	}
	require.NoError(t, repo.Create(context.Background(), camp))
	return *camp
}

func TestCampaignSweepSendsToEveryRecipient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	campaigns := f.campaigns

	ch := seedChannel(t, f)
	q := f.seedQueue(t, domain.DistributionRoundRobin)
	camp := seedCampaign(t, campaigns, ch.ID, q.ID)

	cloud := &fakeCloud{}
	sender := NewOutboundSender(f.store, f.channels, cloud)
	sched := NewCampaignScheduler(campaigns, f.channels, f.convs, f.store, sender)

	require.NoError(t, sched.Sweep(ctx))

	details, err := campaigns.ListDetails(ctx, camp.ID)
	require.NoError(t, err)
	require.Len(t, details, 2)
	for _, d := range details {
		assert.Equal(t, domain.CampaignDetailSent, d.Status)
		assert.NotEmpty(t, d.MessageID)
		require.NotNil(t, d.SentAt)
	}
	// Los destinatarios se normalizan antes de abrir la ventana
	conv, err := f.convs.GetOpenByKey(ctx, domain.ConversationKey{
		ChannelConnectionID: ch.ID, RemotePhone: "+51999000002",
	})
	require.NoError(t, err)
	assert.Equal(t, q.ID, conv.QueueID)

	got, err := campaigns.GetByID(ctx, camp.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignScheduled, got.Status)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.After(time.Now().UTC().Add(-time.Minute)))
	require.NotNil(t, got.LastRunAt)
}

func TestCampaignFailureRecordsDetailError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	campaigns := f.campaigns

	ch := seedChannel(t, f)
	camp := seedCampaign(t, campaigns, ch.ID, "")

	cloud := &fakeCloud{fail: assert.AnError}
	sender := NewOutboundSender(f.store, f.channels, cloud)
	sched := NewCampaignScheduler(campaigns, f.channels, f.convs, f.store, sender)

	require.NoError(t, sched.Sweep(ctx))

	details, err := campaigns.ListDetails(ctx, camp.ID)
	require.NoError(t, err)
	require.Len(t, details, 2)
	for _, d := range details {
		assert.Equal(t, domain.CampaignDetailFailed, d.Status)
		assert.NotEmpty(t, d.Error)
	}
}

func TestScheduleRejectsInvalidCron(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	campaigns := f.campaigns

	ch := seedChannel(t, f)
	camp := &domain.Campaign{
		Name:                "Rota",
		ChannelConnectionID: ch.ID,
		Body:                "hola",
		CronExpr:            "cada cinco minutos",
		Status:              domain.CampaignDraft,
	}
	require.NoError(t, campaigns.Create(ctx, camp))

	sched := NewCampaignScheduler(campaigns, f.channels, f.convs, f.store, nil)
	err := sched.Schedule(ctx, camp.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cron expression")
}
