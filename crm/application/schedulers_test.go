package application

import (
	"context"
	"testing"
	"time"

	"github.com/CYM-Peru/Bot-AI-V1-sub006/crm/domain"
	flowDomain "github.com/CYM-Peru/Bot-AI-V1-sub006/flowengine/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedBotConversation(t *testing.T, f *fixture, flowID string, botStarted time.Time) (domain.Conversation, *flowDomain.Session) {
	t.Helper()
	ctx := context.Background()

	conv := f.seedConversation(t, "ch-1", "+51999000001")
	conv.AssignedTo = domain.AssignedToBot
	conv.BotFlowID = flowID
	conv.BotStartedAt = &botStarted
	require.NoError(t, f.convs.Update(ctx, conv))

	session := flowDomain.NewSession(
		flowDomain.SessionKey{ChannelConnectionID: conv.ChannelConnectionID, RemotePhone: conv.RemotePhone},
		conv.ID, flowID, "start", botStarted,
	)
	require.NoError(t, f.sessions.Save(ctx, session))
	return conv, session
}

func TestBotTimeoutExpiresIdleSessionToFallbackQueue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	fallback := f.seedQueue(t, domain.DistributionRoundRobin)
	flow := &flowDomain.FlowDefinition{
		ID: "flow-1", Name: "Bienvenida", Enabled: true,
		BotTimeoutMinutes: 5, FallbackQueueID: fallback.ID,
		Nodes: []flowDomain.Node{}, Edges: []flowDomain.Edge{},
	}
	require.NoError(t, f.flows.Save(ctx, flow))

	conv, session := seedBotConversation(t, f, flow.ID, time.Now().UTC().Add(-10*time.Minute))

	sched := NewBotTimeoutScheduler(f.convs, f.channels, f.flows, f.sessions, f.store, f.dispatcher)
	require.NoError(t, sched.Sweep(ctx))

	got, err := f.convs.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, got.AssignedTo)
	assert.Empty(t, got.BotFlowID)
	assert.Equal(t, fallback.ID, got.QueueID)
	assert.Equal(t, domain.ConversationActive, got.Status)

	gone, err := f.sessions.Get(ctx, session.Key)
	require.NoError(t, err)
	assert.Nil(t, gone)

	msgs, err := f.convs.ListMessages(ctx, conv.ID, 10, nil)
	require.NoError(t, err)
	require.NotEmpty(t, msgs)
	assert.Contains(t, msgs[len(msgs)-1].Text, "El bot terminó por inactividad")
}

func TestBotTimeoutClockRunsFromBotStart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	fallback := f.seedQueue(t, domain.DistributionRoundRobin)
	flow := &flowDomain.FlowDefinition{
		ID: "flow-1", Name: "Bienvenida", Enabled: true,
		BotTimeoutMinutes: 30, FallbackQueueID: fallback.ID,
		Nodes: []flowDomain.Node{}, Edges: []flowDomain.Edge{},
	}
	require.NoError(t, f.flows.Save(ctx, flow))

	// El bot tomó el chat hace 40 min; el contacto escribió hace un minuto.
	// La actividad reciente no reinicia el reloj del timeout.
	conv, session := seedBotConversation(t, f, flow.ID, time.Now().UTC().Add(-40*time.Minute))
	session.LastActivityAt = time.Now().UTC().Add(-time.Minute)
	require.NoError(t, f.sessions.Save(ctx, session))

	sched := NewBotTimeoutScheduler(f.convs, f.channels, f.flows, f.sessions, f.store, f.dispatcher)
	require.NoError(t, sched.Sweep(ctx))

	got, err := f.convs.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, fallback.ID, got.QueueID)
	assert.Equal(t, domain.ConversationActive, got.Status)
	assert.Empty(t, got.AssignedTo)

	gone, err := f.sessions.Get(ctx, session.Key)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestBotTimeoutKeepsActiveSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	flow := &flowDomain.FlowDefinition{ID: "flow-1", Name: "Bienvenida", Enabled: true, BotTimeoutMinutes: 30}
	require.NoError(t, f.flows.Save(ctx, flow))

	conv, session := seedBotConversation(t, f, flow.ID, time.Now().UTC().Add(-2*time.Minute))

	sched := NewBotTimeoutScheduler(f.convs, f.channels, f.flows, f.sessions, f.store, f.dispatcher)
	require.NoError(t, sched.Sweep(ctx))

	got, err := f.convs.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AssignedToBot, got.AssignedTo)

	still, err := f.sessions.Get(ctx, session.Key)
	require.NoError(t, err)
	assert.NotNil(t, still)
}

func TestBotTimeoutRespectsPendingWake(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	flow := &flowDomain.FlowDefinition{ID: "flow-1", Name: "Bienvenida", Enabled: true, BotTimeoutMinutes: 5}
	require.NoError(t, f.flows.Save(ctx, flow))

	_, session := seedBotConversation(t, f, flow.ID, time.Now().UTC().Add(-10*time.Minute))
	wake := time.Now().UTC().Add(20 * time.Minute)
	session.WakeAt = &wake
	require.NoError(t, f.sessions.Save(ctx, session))

	sched := NewBotTimeoutScheduler(f.convs, f.channels, f.flows, f.sessions, f.store, f.dispatcher)
	require.NoError(t, sched.Sweep(ctx))

	// Un delay programado más largo que el timeout mantiene viva la sesión
	still, err := f.sessions.Get(ctx, session.Key)
	require.NoError(t, err)
	assert.NotNil(t, still)
}

func TestBotTimeoutRecoversFlowIDFromSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	flow := &flowDomain.FlowDefinition{ID: "flow-1", Name: "Bienvenida", Enabled: true, BotTimeoutMinutes: 30}
	require.NoError(t, f.flows.Save(ctx, flow))

	conv, _ := seedBotConversation(t, f, flow.ID, time.Now().UTC())
	conv.BotFlowID = ""
	conv.BotStartedAt = nil
	require.NoError(t, f.convs.Update(ctx, conv))

	sched := NewBotTimeoutScheduler(f.convs, f.channels, f.flows, f.sessions, f.store, f.dispatcher)
	require.NoError(t, sched.Sweep(ctx))

	got, err := f.convs.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, flow.ID, got.BotFlowID)
	assert.NotNil(t, got.BotStartedAt)
}

// seedStalledAttending deja una conversación en atención sin respuesta del
// asesor desde hace waitedMinutes.
func seedStalledAttending(t *testing.T, f *fixture, advisorID, queueID string, waitedMinutes int) domain.Conversation {
	t.Helper()
	conv := f.seedConversation(t, "ch-1", "+51999000001")
	assignedAt := time.Now().UTC().Add(-time.Duration(waitedMinutes) * time.Minute)
	conv.AssignedTo = advisorID
	conv.AssignedAt = &assignedAt
	conv.QueueID = queueID
	conv.Status = domain.ConversationAttending
	require.NoError(t, f.convs.Update(context.Background(), conv))
	return conv
}

func TestQueueTimeoutReturnsStalledChatToQueue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ana := f.seedAdvisor(t, "ana", true)
	queue := f.seedQueue(t, domain.DistributionRoundRobin)
	conv := seedStalledAttending(t, f, ana.ID, queue.ID, 35)

	sched := NewQueueTimeoutScheduler(f.convs, nil, f.store, f.dispatcher)
	require.NoError(t, sched.Sweep(ctx))

	got, err := f.convs.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ConversationActive, got.Status)
	assert.Empty(t, got.AssignedTo)
	assert.Nil(t, got.AssignedAt)
	assert.Equal(t, queue.ID, got.QueueID)
	assert.NotNil(t, got.QueuedAt)

	msgs, err := f.convs.ListMessages(ctx, conv.ID, 10, nil)
	require.NoError(t, err)
	require.NotEmpty(t, msgs)
	assert.Contains(t, msgs[len(msgs)-1].Text, "vuelve a la cola")

	// Segunda pasada: la conversación ya no está en atención, nada que hacer
	f.events.reset()
	require.NoError(t, sched.Sweep(ctx))
	assert.Empty(t, f.events.ofKind(domain.EventConvUpdate))
}

func TestQueueTimeoutKeepsChatsWithAdvisorReply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ana := f.seedAdvisor(t, "ana", true)
	queue := f.seedQueue(t, domain.DistributionRoundRobin)
	conv := seedStalledAttending(t, f, ana.ID, queue.ID, 15)

	reply := &domain.Message{Direction: domain.DirectionOut, Type: domain.MessageText, Text: "hola, te atiendo", SentBy: ana.ID}
	require.NoError(t, f.store.AppendMessage(ctx, &conv, reply))

	sched := NewQueueTimeoutScheduler(f.convs, nil, f.store, f.dispatcher)
	require.NoError(t, sched.Sweep(ctx))

	got, err := f.convs.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ConversationAttending, got.Status)
	assert.Equal(t, ana.ID, got.AssignedTo)
}

func TestQueueTimeoutBelowFirstBucketDoesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ana := f.seedAdvisor(t, "ana", true)
	queue := f.seedQueue(t, domain.DistributionRoundRobin)
	conv := seedStalledAttending(t, f, ana.ID, queue.ID, 5)

	sched := NewQueueTimeoutScheduler(f.convs, nil, f.store, f.dispatcher)
	require.NoError(t, sched.Sweep(ctx))

	got, err := f.convs.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ConversationAttending, got.Status)
	assert.Equal(t, ana.ID, got.AssignedTo)
}

func TestQueueTimeoutIgnoresBotOwned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conv := f.seedConversation(t, "ch-1", "+51999000001")
	assignedAt := time.Now().UTC().Add(-90 * time.Minute)
	conv.AssignedTo = domain.AssignedToBot
	conv.AssignedAt = &assignedAt
	conv.Status = domain.ConversationAttending
	require.NoError(t, f.convs.Update(ctx, conv))

	sched := NewQueueTimeoutScheduler(f.convs, nil, f.store, f.dispatcher)
	require.NoError(t, sched.Sweep(ctx))

	got, err := f.convs.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AssignedToBot, got.AssignedTo)
	assert.Equal(t, domain.ConversationAttending, got.Status)
}

func TestReconcilerReleasesBotFlagWithoutSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conv := f.seedConversation(t, "ch-1", "+51999000001")
	conv.AssignedTo = domain.AssignedToBot
	// Sin bot_flow_id ni sesión: divergencia
	require.NoError(t, f.convs.Update(ctx, conv))

	rec := NewReconciler(f.convs, f.sessions, nil)
	require.NoError(t, rec.Sweep(ctx))

	got, err := f.convs.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, got.AssignedTo)
	assert.Equal(t, domain.ConversationActive, got.Status)
	assert.NotNil(t, got.QueuedAt)
}

func TestReconcilerRestoresBotFieldsFromSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conv, _ := seedBotConversation(t, f, "flow-1", time.Now().UTC())
	conv.BotFlowID = ""
	conv.BotStartedAt = nil
	require.NoError(t, f.convs.Update(ctx, conv))

	rec := NewReconciler(f.convs, f.sessions, nil)
	require.NoError(t, rec.Sweep(ctx))

	got, err := f.convs.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AssignedToBot, got.AssignedTo)
	assert.Equal(t, "flow-1", got.BotFlowID)
	assert.NotNil(t, got.BotStartedAt)
}

func TestReconcilerDeletesOrphanSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conv, session := seedBotConversation(t, f, "flow-1", time.Now().UTC())
	conv.Status = domain.ConversationClosed
	conv.AssignedTo = ""
	conv.BotFlowID = ""
	conv.BotStartedAt = nil
	require.NoError(t, f.convs.Update(ctx, conv))

	rec := NewReconciler(f.convs, f.sessions, nil)
	require.NoError(t, rec.Sweep(ctx))

	gone, err := f.sessions.Get(ctx, session.Key)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestReconcilerClosesDuplicateOpenWindows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	older := f.seedConversation(t, "ch-1", "+51999000001")
	oldTS := time.Now().UTC().Add(-time.Hour)
	older.LastMessageAt = &oldTS
	require.NoError(t, f.convs.Update(ctx, older))

	newer := f.seedConversation(t, "ch-1", "+51999000001")
	newTS := time.Now().UTC()
	newer.LastMessageAt = &newTS
	require.NoError(t, f.convs.Update(ctx, newer))

	rec := NewReconciler(f.convs, f.sessions, nil)
	require.NoError(t, rec.Sweep(ctx))

	gotNewer, err := f.convs.GetByID(ctx, newer.ID)
	require.NoError(t, err)
	assert.True(t, gotNewer.IsOpen())

	gotOlder, err := f.convs.GetByID(ctx, older.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ConversationClosed, gotOlder.Status)
}
