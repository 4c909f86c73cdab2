package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/CYM-Peru/Bot-AI-V1-sub006/crm/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMetricsRepo(t *testing.T) *MetricsSQLiteRepository {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	db.SetMaxOpenConns(1)

	repo, err := NewMetricsSQLiteRepository(db)
	require.NoError(t, err)
	return repo
}

func TestMetricsByDayAndRange(t *testing.T) {
	repo := newMetricsRepo(t)
	ctx := context.Background()

	closed := time.Now().UTC()
	days := []string{"2026-08-20", "2026-08-21", "2026-08-22"}
	for i, day := range days {
		m := &domain.ConversationMetric{
			ConversationID:      "conv-" + day,
			TicketNumber:        int64(i + 1),
			ChannelConnectionID: "ch-1",
			QueueID:             "q-1",
			AdvisorID:           "adv-1",
			ResolutionSeconds:   120,
			MessagesIn:          4,
			MessagesOut:         5,
			BotHandled:          i == 0,
			ClosedAt:            &closed,
			Day:                 day,
		}
		require.NoError(t, repo.SaveConversationMetric(ctx, m))
		assert.NotZero(t, m.ID)
	}

	byDay, err := repo.QueryMetricsByDay(ctx, "2026-08-21")
	require.NoError(t, err)
	require.Len(t, byDay, 1)
	assert.Equal(t, "conv-2026-08-21", byDay[0].ConversationID)

	ranged, err := repo.QueryMetricsRange(ctx, "2026-08-20", "2026-08-21")
	require.NoError(t, err)
	assert.Len(t, ranged, 2)
	assert.True(t, ranged[0].BotHandled)
}

func TestRagUsageRoundTrip(t *testing.T) {
	repo := newMetricsRepo(t)
	ctx := context.Background()

	u := &domain.RagUsage{
		ConversationID: "conv-1",
		Query:          "precio mayorista de zapatillas",
		Found:          true,
		ChunksUsed:     3,
		CostUSD:        0.0021,
	}
	require.NoError(t, repo.SaveRagUsage(ctx, u))

	list, err := repo.ListRagUsage(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Found)
	assert.Equal(t, 3, list[0].ChunksUsed)
}

func TestTicketsAndAlerts(t *testing.T) {
	repo := newMetricsRepo(t)
	ctx := context.Background()

	ticket := &domain.SupportTicket{
		Subject:   "Conversación con estado inconsistente",
		CreatedBy: "reconciler",
	}
	require.NoError(t, repo.CreateTicket(ctx, ticket))
	assert.Equal(t, domain.TicketOpen, ticket.Status)

	open, err := repo.ListTickets(ctx, domain.TicketOpen)
	require.NoError(t, err)
	require.Len(t, open, 1)

	ticket.Status = domain.TicketClosed
	require.NoError(t, repo.UpdateTicket(ctx, *ticket))
	open, err = repo.ListTickets(ctx, domain.TicketOpen)
	require.NoError(t, err)
	assert.Empty(t, open)

	alert := &domain.MaintenanceAlert{Kind: "invariant_repair", Detail: "assigned_to=bot sin flujo"}
	require.NoError(t, repo.CreateAlert(ctx, alert))

	alerts, err := repo.ListAlerts(ctx, false)
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	require.NoError(t, repo.ResolveAlert(ctx, alert.ID, time.Now().UTC()))
	alerts, err = repo.ListAlerts(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, alerts)

	all, err := repo.ListAlerts(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
