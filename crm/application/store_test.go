package application

import (
	"context"
	"testing"

	"github.com/CYM-Peru/Bot-AI-V1-sub006/crm/domain"
	pkgError "github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/error"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertOnInboundReusesOpenWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, created, err := f.store.UpsertOnInbound(ctx, "ch-1", "+51 999 000 001", "María")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "+51999000001", first.RemotePhone)

	// El mismo contacto con el número sin normalizar cae en la misma ventana
	second, created, err := f.store.UpsertOnInbound(ctx, "ch-1", "51999000001", "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

func TestAcceptRaceSecondAdvisorGetsConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ana := f.seedAdvisor(t, "ana", true)
	luis := f.seedAdvisor(t, "luis", true)
	q := f.seedQueue(t, domain.DistributionRoundRobin, ana.ID, luis.ID)
	conv := f.queueConversation(t, "ch-1", "+51999000001", q.ID)

	won, err := f.store.Accept(ctx, conv.ID, ana.ID)
	require.NoError(t, err)
	assert.Equal(t, ana.ID, won.AssignedTo)
	assert.Equal(t, domain.ConversationAttending, won.Status)
	assert.Contains(t, won.AttendedBy, ana.ID)

	_, err = f.store.Accept(ctx, conv.ID, luis.ID)
	require.Error(t, err)
	_, isConflict := err.(pkgError.ConflictError)
	assert.True(t, isConflict)

	// El perdedor no pisó la asignación
	got, err := f.convs.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, ana.ID, got.AssignedTo)
}

func TestTransferToQueueClearsBotFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	q := f.seedQueue(t, domain.DistributionRoundRobin)
	conv := f.seedConversation(t, "ch-1", "+51999000001")
	conv.AssignedTo = domain.AssignedToBot
	conv.BotFlowID = "flow-1"
	require.NoError(t, f.convs.Update(ctx, conv))

	got, err := f.store.TransferToQueue(ctx, conv.ID, domain.AssignedToBot, q.ID, "⏱️ derivada a un asesor")
	require.NoError(t, err)
	assert.Empty(t, got.AssignedTo)
	assert.Empty(t, got.BotFlowID)
	assert.Equal(t, q.ID, got.QueueID)
	assert.Equal(t, domain.ConversationActive, got.Status)

	msgs, err := f.convs.ListMessages(ctx, conv.ID, 10, nil)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.MessageSystem, msgs[0].Type)
	assert.Equal(t, "⏱️ derivada a un asesor", msgs[0].Text)
}

func TestTransferToQueueWrongOwnerConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	q := f.seedQueue(t, domain.DistributionRoundRobin)
	conv := f.seedConversation(t, "ch-1", "+51999000001")
	conv.AssignedTo = "otro-asesor"
	require.NoError(t, f.convs.Update(ctx, conv))

	_, err := f.store.TransferToQueue(ctx, conv.ID, domain.AssignedToBot, q.ID, "")
	require.Error(t, err)
	_, isConflict := err.(pkgError.ConflictError)
	assert.True(t, isConflict)
}

func TestMarkStatusIsMonotone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conv := f.seedConversation(t, "ch-1", "+51999000001")
	msg := &domain.Message{
		Direction:         domain.DirectionOut,
		Type:              domain.MessageText,
		Text:              "hola",
		Status:            domain.StatusSent,
		ProviderMessageID: "wamid.1",
	}
	require.NoError(t, f.store.AppendMessage(ctx, &conv, msg))

	require.NoError(t, f.store.MarkStatus(ctx, "wamid.1", domain.StatusRead))
	// El delivered tardío no retrocede el estado
	require.NoError(t, f.store.MarkStatus(ctx, "wamid.1", domain.StatusDelivered))

	got, err := f.convs.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRead, got.Status)

	// Acuse de un mensaje desconocido: no-op
	require.NoError(t, f.store.MarkStatus(ctx, "wamid.desconocido", domain.StatusDelivered))
}

func TestAppendMessageUpdatesPreviewAndUnread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conv := f.seedConversation(t, "ch-1", "+51999000001")
	msg := &domain.Message{Direction: domain.DirectionIn, Type: domain.MessageText, Text: "necesito ayuda"}
	require.NoError(t, f.store.AppendMessage(ctx, &conv, msg))

	got, err := f.convs.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "necesito ayuda", got.LastMessagePreview)
	assert.Equal(t, 1, got.Unread)
	require.NotNil(t, got.LastMessageAt)

	require.NoError(t, f.store.MarkRead(ctx, conv.ID))
	got, err = f.convs.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Zero(t, got.Unread)

	news := f.events.ofKind(domain.EventMsgNew)
	require.Len(t, news, 1)
	assert.Equal(t, conv.ID, news[0].ConversationID)
}

func TestCloseIsIdempotentAndEndsSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ana := f.seedAdvisor(t, "ana", true)
	conv := f.seedConversation(t, "ch-1", "+51999000001")
	_, err := f.store.TransferToAdvisor(ctx, conv.ID, "", ana.ID)
	require.NoError(t, err)

	closed, err := f.store.Close(ctx, conv.ID, ana.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ConversationClosed, closed.Status)
	assert.Empty(t, closed.AssignedTo)

	// Segundo cierre: no-op
	again, err := f.store.Close(ctx, conv.ID, ana.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ConversationClosed, again.Status)
}

func TestListForAdvisorMergesOwnAndQueued(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ana := f.seedAdvisor(t, "ana", true)
	q := f.seedQueue(t, domain.DistributionRoundRobin, ana.ID)

	own := f.seedConversation(t, "ch-1", "+51999000001")
	_, err := f.store.TransferToAdvisor(ctx, own.ID, "", ana.ID)
	require.NoError(t, err)
	queued := f.queueConversation(t, "ch-1", "+51999000002", q.ID)

	inbox, err := f.store.ListForAdvisor(ctx, ana.ID)
	require.NoError(t, err)
	ids := make([]string, len(inbox))
	for i, c := range inbox {
		ids[i] = c.ID
	}
	assert.ElementsMatch(t, []string{own.ID, queued.ID}, ids)
}
