package repository

import (
	"context"
	"testing"
	"time"

	"github.com/CYM-Peru/Bot-AI-V1-sub006/crm/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?_foreign_keys=on"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	return db
}

func newConvRepo(t *testing.T) *ConversationGormRepository {
	t.Helper()
	repo := NewConversationGormRepository(newTestDB(t))
	require.NoError(t, repo.Init(context.Background()))
	return repo
}

func makeConv(channelID, phone string) *domain.Conversation {
	now := time.Now().UTC()
	return &domain.Conversation{
		ID:                  uuid.NewString(),
		Channel:             "whatsapp",
		ChannelConnectionID: channelID,
		RemotePhone:         phone,
		Status:              domain.ConversationActive,
		CreatedAt:           now,
		UpdatedAt:           now,
		LastMessageAt:       &now,
	}
}

func TestCreateAssignsMonotonicTicketNumbers(t *testing.T) {
	repo := newConvRepo(t)
	ctx := context.Background()

	first := makeConv("ch-1", "+51999000001")
	second := makeConv("ch-1", "+51999000002")
	require.NoError(t, repo.Create(ctx, first))
	require.NoError(t, repo.Create(ctx, second))

	assert.Equal(t, int64(1), first.TicketNumber)
	assert.Equal(t, int64(2), second.TicketNumber)
}

func TestGetOpenByKeyIgnoresClosed(t *testing.T) {
	repo := newConvRepo(t)
	ctx := context.Background()

	closed := makeConv("ch-1", "+51999000001")
	closed.Status = domain.ConversationClosed
	require.NoError(t, repo.Create(ctx, closed))

	open := makeConv("ch-1", "+51999000001")
	require.NoError(t, repo.Create(ctx, open))

	got, err := repo.GetOpenByKey(ctx, domain.ConversationKey{
		ChannelConnectionID: "ch-1", RemotePhone: "+51999000001",
	})
	require.NoError(t, err)
	assert.Equal(t, open.ID, got.ID)
}

func TestCASAssignLoserDoesNotOverwrite(t *testing.T) {
	repo := newConvRepo(t)
	ctx := context.Background()

	conv := makeConv("ch-1", "+51999000001")
	require.NoError(t, repo.Create(ctx, conv))

	now := time.Now().UTC()
	won, err := repo.CASAssign(ctx, conv.ID, "", map[string]interface{}{
		"assigned_to": "advisor-a",
		"status":      string(domain.ConversationAttending),
		"assigned_at": now,
	})
	require.NoError(t, err)
	assert.True(t, won)

	// Segundo escritor esperando todavía "sin asignar": pierde la carrera
	won, err = repo.CASAssign(ctx, conv.ID, "", map[string]interface{}{
		"assigned_to": "advisor-b",
	})
	require.NoError(t, err)
	assert.False(t, won)

	got, err := repo.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "advisor-a", got.AssignedTo)
}

func TestCASAssignReleaseRequiresCurrentOwner(t *testing.T) {
	repo := newConvRepo(t)
	ctx := context.Background()

	conv := makeConv("ch-1", "+51999000001")
	conv.AssignedTo = domain.AssignedToBot
	require.NoError(t, repo.Create(ctx, conv))

	won, err := repo.CASAssign(ctx, conv.ID, domain.AssignedToBot, map[string]interface{}{
		"assigned_to": "",
		"status":      string(domain.ConversationActive),
	})
	require.NoError(t, err)
	assert.True(t, won)
}

func TestAppendMessageDuplicateProviderIDConflicts(t *testing.T) {
	repo := newConvRepo(t)
	ctx := context.Background()

	conv := makeConv("ch-1", "+51999000001")
	require.NoError(t, repo.Create(ctx, conv))

	msg := &domain.Message{
		ConversationID:    conv.ID,
		Direction:         domain.DirectionIn,
		Type:              domain.MessageText,
		Text:              "hola",
		Status:            domain.StatusDelivered,
		Timestamp:         time.Now().UTC(),
		ProviderMessageID: "wamid.AAA",
	}
	require.NoError(t, repo.AppendMessage(ctx, msg))

	dup := &domain.Message{
		ConversationID:    conv.ID,
		Direction:         domain.DirectionIn,
		Type:              domain.MessageText,
		Text:              "hola",
		Status:            domain.StatusDelivered,
		Timestamp:         time.Now().UTC(),
		ProviderMessageID: "wamid.AAA",
	}
	err := repo.AppendMessage(ctx, dup)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")

	got, err := repo.GetMessageByProviderID(ctx, "wamid.AAA")
	require.NoError(t, err)
	assert.Equal(t, msg.ID, got.ID)
}

func TestListMessagesChronologicalWithBefore(t *testing.T) {
	repo := newConvRepo(t)
	ctx := context.Background()

	conv := makeConv("ch-1", "+51999000001")
	require.NoError(t, repo.Create(ctx, conv))

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.AppendMessage(ctx, &domain.Message{
			ConversationID: conv.ID,
			Direction:      domain.DirectionIn,
			Type:           domain.MessageText,
			Text:           "m",
			Status:         domain.StatusDelivered,
			Timestamp:      base.Add(time.Duration(i) * time.Minute),
		}))
	}

	msgs, err := repo.ListMessages(ctx, conv.ID, 3, nil)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	// Los más recientes, en orden cronológico ascendente
	assert.True(t, msgs[0].Timestamp.Before(msgs[1].Timestamp))
	assert.True(t, msgs[1].Timestamp.Before(msgs[2].Timestamp))

	cut := base.Add(2 * time.Minute)
	older, err := repo.ListMessages(ctx, conv.ID, 10, &cut)
	require.NoError(t, err)
	assert.Len(t, older, 2)
}

func TestRewriteChannelAliasMergesDuplicateWindows(t *testing.T) {
	repo := newConvRepo(t)
	ctx := context.Background()

	older := time.Now().UTC().Add(-2 * time.Hour)
	newer := time.Now().UTC()

	aliased := makeConv("legacy-alias", "+51999000001")
	aliased.LastMessageAt = &older
	require.NoError(t, repo.Create(ctx, aliased))
	require.NoError(t, repo.AppendMessage(ctx, &domain.Message{
		ConversationID: aliased.ID,
		Direction:      domain.DirectionIn,
		Type:           domain.MessageText,
		Text:           "mensaje viejo",
		Status:         domain.StatusDelivered,
		Timestamp:      older,
	}))

	canonical := makeConv("123456789", "+51999000001")
	canonical.LastMessageAt = &newer
	require.NoError(t, repo.Create(ctx, canonical))

	changed, err := repo.RewriteChannelAlias(ctx, "legacy-alias", "123456789")
	require.NoError(t, err)
	assert.Equal(t, 2, changed)

	// La ganadora es la más recientemente activa y hereda los mensajes
	winner, err := repo.GetOpenByKey(ctx, domain.ConversationKey{
		ChannelConnectionID: "123456789", RemotePhone: "+51999000001",
	})
	require.NoError(t, err)
	assert.Equal(t, canonical.ID, winner.ID)

	msgs, err := repo.ListMessages(ctx, canonical.ID, 10, nil)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	loser, err := repo.GetByID(ctx, aliased.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ConversationClosed, loser.Status)
}

func TestListQueuedOrdersByQueuedAt(t *testing.T) {
	repo := newConvRepo(t)
	ctx := context.Background()

	early := time.Now().UTC().Add(-10 * time.Minute)
	late := time.Now().UTC()

	second := makeConv("ch-1", "+51999000002")
	second.QueueID = "q-1"
	second.QueuedAt = &late
	require.NoError(t, repo.Create(ctx, second))

	first := makeConv("ch-1", "+51999000001")
	first.QueueID = "q-1"
	first.QueuedAt = &early
	require.NoError(t, repo.Create(ctx, first))

	queued, err := repo.ListQueued(ctx, "q-1")
	require.NoError(t, err)
	require.Len(t, queued, 2)
	assert.Equal(t, first.ID, queued[0].ID)
}

func TestCountMessagesSince(t *testing.T) {
	repo := newConvRepo(t)
	ctx := context.Background()

	conv := makeConv("ch-1", "+51999000001")
	require.NoError(t, repo.Create(ctx, conv))

	cut := time.Now().UTC().Add(-5 * time.Minute)
	require.NoError(t, repo.AppendMessage(ctx, &domain.Message{
		ConversationID: conv.ID, Direction: domain.DirectionIn,
		Type: domain.MessageText, Status: domain.StatusDelivered,
		Timestamp: cut.Add(-time.Hour),
	}))
	require.NoError(t, repo.AppendMessage(ctx, &domain.Message{
		ConversationID: conv.ID, Direction: domain.DirectionIn,
		Type: domain.MessageText, Status: domain.StatusDelivered,
		Timestamp: cut.Add(time.Minute),
	}))

	count, err := repo.CountMessagesSince(ctx, conv.ID, domain.DirectionIn, cut)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
