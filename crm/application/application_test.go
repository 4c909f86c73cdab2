package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/CYM-Peru/Bot-AI-V1-sub006/crm/domain"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/crm/repository"
	flowRepo "github.com/CYM-Peru/Bot-AI-V1-sub006/flowengine/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// eventRecorder captura los change records para las aserciones.
type eventRecorder struct {
	mu     sync.Mutex
	events []domain.ChangeEvent
}

func (r *eventRecorder) Publish(ev domain.ChangeEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *eventRecorder) ofKind(kind string) []domain.ChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []domain.ChangeEvent
	for _, ev := range r.events {
		if ev.Kind == kind {
			res = append(res, ev)
		}
	}
	return res
}

func (r *eventRecorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

type fixture struct {
	db        *gorm.DB
	convs     *repository.ConversationGormRepository
	advisors  *repository.AdvisorGormRepository
	queues    *repository.QueueGormRepository
	channels  *repository.ChannelGormRepository
	campaigns *repository.CampaignGormRepository
	flows     *flowRepo.FlowGormRepository
	sessions  *flowRepo.SessionGormRepository

	store      *ConversationStore
	dispatcher *Dispatcher
	events     *eventRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?_foreign_keys=on"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	ctx := context.Background()
	f := &fixture{
		db:        db,
		convs:     repository.NewConversationGormRepository(db),
		advisors:  repository.NewAdvisorGormRepository(db),
		queues:    repository.NewQueueGormRepository(db),
		channels:  repository.NewChannelGormRepository(db),
		campaigns: repository.NewCampaignGormRepository(db),
		flows:     flowRepo.NewFlowGormRepository(db),
		sessions:  flowRepo.NewSessionGormRepository(db),
		events:    &eventRecorder{},
	}
	require.NoError(t, f.convs.Init(ctx))
	require.NoError(t, f.advisors.Init(ctx))
	require.NoError(t, f.queues.Init(ctx))
	require.NoError(t, f.channels.Init(ctx))
	require.NoError(t, f.campaigns.Init(ctx))
	require.NoError(t, f.flows.Init(ctx))
	require.NoError(t, f.sessions.Init(ctx))

	f.store = NewConversationStore(f.convs, f.advisors, f.queues, nil, NewConversationLocks(), f.events, nil)
	f.dispatcher = NewDispatcher(f.convs, f.queues, f.advisors, f.store, f.events)
	return f
}

func (f *fixture) seedQueue(t *testing.T, mode domain.DistributionMode, advisorIDs ...string) domain.Queue {
	t.Helper()
	q := &domain.Queue{
		Name:             "Ventas",
		DistributionMode: mode,
		Status:           domain.QueueEnabled,
		AssignedAdvisors: advisorIDs,
	}
	require.NoError(t, f.queues.Create(context.Background(), q))
	return *q
}

// seedAdvisor crea el asesor y, si online, le abre una sesión. Sin asignación
// explícita el estado efectivo es el default (Disponible, accept).
func (f *fixture) seedAdvisor(t *testing.T, username string, online bool) domain.Advisor {
	t.Helper()
	ctx := context.Background()
	adv := &domain.Advisor{
		Username:    username,
		DisplayName: username,
		Role:        domain.RoleAdvisor,
	}
	require.NoError(t, f.advisors.Create(ctx, adv))
	if online {
		require.NoError(t, f.advisors.OpenSession(ctx, &domain.AdvisorSession{AdvisorID: adv.ID}))
	}
	got, err := f.advisors.GetByID(ctx, adv.ID)
	require.NoError(t, err)
	return got
}

func (f *fixture) seedConversation(t *testing.T, channelID, phone string) domain.Conversation {
	t.Helper()
	now := time.Now().UTC()
	conv := &domain.Conversation{
		ID:                  uuid.NewString(),
		Channel:             "whatsapp",
		ChannelConnectionID: channelID,
		RemotePhone:         phone,
		DisplayNumber:       phone,
		Status:              domain.ConversationActive,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	require.NoError(t, f.convs.Create(context.Background(), conv))
	return *conv
}

func (f *fixture) queueConversation(t *testing.T, channelID, phone, queueID string) domain.Conversation {
	t.Helper()
	conv := f.seedConversation(t, channelID, phone)
	now := time.Now().UTC()
	conv.QueueID = queueID
	conv.QueuedAt = &now
	require.NoError(t, f.convs.Update(context.Background(), conv))
	return conv
}
