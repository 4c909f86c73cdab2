package application

import (
	"context"
	"testing"
	"time"

	"github.com/CYM-Peru/Bot-AI-V1-sub006/crm/domain"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/infrastructure/whatsapp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textEvent(phoneID, from, wamid, body string) whatsapp.InboundEvent {
	return whatsapp.InboundEvent{
		ChannelConnectionID: phoneID,
		RemotePhone:         from,
		ContactName:         "María",
		MessageType:         "text",
		Text:                body,
		ProviderMessageID:   wamid,
		ProviderTimestamp:   time.Now().UTC(),
	}
}

func TestInboundCreatesConversationAndQueues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	q := f.seedQueue(t, domain.DistributionRoundRobin)
	ch := seedChannel(t, f)
	ch.DefaultQueueID = q.ID
	require.NoError(t, f.channels.Update(ctx, ch))

	pipeline := NewInboundPipeline(f.store, f.channels, f.convs, f.dispatcher, nil, nil)
	require.NoError(t, pipeline.Handle(ctx, textEvent(ch.ProviderPhoneNumberID, "+51999000001", "wamid.in.1", "hola")))

	conv, err := f.convs.GetOpenByKey(ctx, domain.ConversationKey{
		ChannelConnectionID: ch.ID, RemotePhone: "+51999000001",
	})
	require.NoError(t, err)
	assert.Equal(t, q.ID, conv.QueueID)
	assert.Equal(t, "María", conv.ContactName)
	assert.Equal(t, 1, conv.Unread)

	msgs, err := f.convs.ListMessages(ctx, conv.ID, 10, nil)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hola", msgs[0].Text)
	assert.Equal(t, domain.DirectionIn, msgs[0].Direction)
}

func TestInboundDuplicateProviderIDIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	q := f.seedQueue(t, domain.DistributionRoundRobin)
	ch := seedChannel(t, f)
	ch.DefaultQueueID = q.ID
	require.NoError(t, f.channels.Update(ctx, ch))

	pipeline := NewInboundPipeline(f.store, f.channels, f.convs, f.dispatcher, nil, nil)
	ev := textEvent(ch.ProviderPhoneNumberID, "+51999000001", "wamid.in.1", "hola")
	require.NoError(t, pipeline.Handle(ctx, ev))
	// Meta reintenta el webhook con el mismo wamid
	require.NoError(t, pipeline.Handle(ctx, ev))

	conv, err := f.convs.GetOpenByKey(ctx, domain.ConversationKey{
		ChannelConnectionID: ch.ID, RemotePhone: "+51999000001",
	})
	require.NoError(t, err)
	msgs, err := f.convs.ListMessages(ctx, conv.ID, 10, nil)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
	assert.Equal(t, 1, conv.Unread)
}

func TestInboundUnknownChannelIsDropped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pipeline := NewInboundPipeline(f.store, f.channels, f.convs, f.dispatcher, nil, nil)
	require.NoError(t, pipeline.Handle(ctx, textEvent("no-existe", "+51999000001", "wamid.in.1", "hola")))

	convs, err := f.convs.List(ctx, domain.ConversationFilter{})
	require.NoError(t, err)
	assert.Empty(t, convs)
}

func TestInboundStatusAdvancesOutboundMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ch := seedChannel(t, f)
	conv := f.seedConversation(t, ch.ID, "+51999000001")
	out := &domain.Message{
		Direction:         domain.DirectionOut,
		Type:              domain.MessageText,
		Text:              "hola",
		Status:            domain.StatusSent,
		ProviderMessageID: "wamid.out.1",
	}
	require.NoError(t, f.store.AppendMessage(ctx, &conv, out))

	pipeline := NewInboundPipeline(f.store, f.channels, f.convs, f.dispatcher, nil, nil)
	require.NoError(t, pipeline.Handle(ctx, whatsapp.InboundEvent{
		ChannelConnectionID: ch.ProviderPhoneNumberID,
		RemotePhone:         "+51999000001",
		MessageType:         "status",
		StatusUpdate: &whatsapp.StatusUpdate{
			ProviderMessageID: "wamid.out.1",
			Status:            "delivered",
			Timestamp:         time.Now().UTC(),
		},
	}))

	got, err := f.convs.GetMessage(ctx, out.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, got.Status)
}

func TestInboundButtonReplyKeepsOptionID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	q := f.seedQueue(t, domain.DistributionRoundRobin)
	ch := seedChannel(t, f)
	ch.DefaultQueueID = q.ID
	require.NoError(t, f.channels.Update(ctx, ch))

	pipeline := NewInboundPipeline(f.store, f.channels, f.convs, f.dispatcher, nil, nil)
	require.NoError(t, pipeline.Handle(ctx, whatsapp.InboundEvent{
		ChannelConnectionID: ch.ProviderPhoneNumberID,
		RemotePhone:         "+51999000001",
		MessageType:         "button",
		ButtonReply:         &whatsapp.ButtonReply{OptionID: "opt-si", Title: "Sí, quiero"},
		ProviderMessageID:   "wamid.in.1",
		ProviderTimestamp:   time.Now().UTC(),
	}))

	conv, err := f.convs.GetOpenByKey(ctx, domain.ConversationKey{
		ChannelConnectionID: ch.ID, RemotePhone: "+51999000001",
	})
	require.NoError(t, err)
	msgs, err := f.convs.ListMessages(ctx, conv.ID, 10, nil)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Sí, quiero", msgs[0].Text)
	assert.Equal(t, "opt-si", msgs[0].ProviderMetadata["option_id"])
}
