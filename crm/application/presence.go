package application

import (
	"context"
	"time"

	"github.com/CYM-Peru/Bot-AI-V1-sub006/crm/domain"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/infrastructure/valkey"
	"github.com/sirupsen/logrus"
)

const presenceTTL = 90 * time.Second

// PresenceService administra sesiones de asesor y sus efectos sobre el
// despacho: entrar dispara advisor_online, salir libera las conversaciones
// atendidas y re-despacha.
type PresenceService struct {
	advisors   domain.IAdvisorRepository
	convs      domain.IConversationRepository
	store      *ConversationStore
	dispatcher *Dispatcher
	vk         *valkey.Client
}

func NewPresenceService(
	advisors domain.IAdvisorRepository,
	convs domain.IConversationRepository,
	store *ConversationStore,
	dispatcher *Dispatcher,
	vk *valkey.Client,
) *PresenceService {
	return &PresenceService{
		advisors:   advisors,
		convs:      convs,
		store:      store,
		dispatcher: dispatcher,
		vk:         vk,
	}
}

// Login abre la sesión del asesor y re-evalúa sus colas.
func (p *PresenceService) Login(ctx context.Context, advisorID string) (*domain.AdvisorSession, error) {
	session := &domain.AdvisorSession{AdvisorID: advisorID}
	if err := p.advisors.OpenSession(ctx, session); err != nil {
		return nil, err
	}
	_ = p.advisors.LogActivity(ctx, &domain.AdvisorActivityLog{
		AdvisorID: advisorID,
		Action:    "login",
	})
	p.touchPresence(ctx, advisorID)
	if p.dispatcher != nil {
		p.dispatcher.Notify(domain.TriggerAdvisorOnline, "")
	}
	logrus.Infof("[PRESENCE] Advisor %s online (session %s)", advisorID, session.ID)
	return session, nil
}

// Logout cierra todas las sesiones del asesor, libera sus conversaciones en
// atención con la nota de despedida y dispara conversation_released.
func (p *PresenceService) Logout(ctx context.Context, advisorID string) error {
	closed, err := p.advisors.CloseAllSessions(ctx, advisorID, time.Now().UTC())
	if err != nil {
		return err
	}
	if closed == 0 {
		return nil
	}

	adv, err := p.advisors.GetByID(ctx, advisorID)
	name := advisorID
	if err == nil && adv.DisplayName != "" {
		name = adv.DisplayName
	}

	attending, err := p.convs.ListAssignedTo(ctx, advisorID)
	if err != nil {
		return err
	}
	released := 0
	for _, conv := range attending {
		if conv.Status != domain.ConversationAttending {
			continue
		}
		if _, err := p.store.Release(ctx, conv.ID, advisorID, "👋 "+name+" cerró sesión"); err != nil {
			logrus.WithError(err).Warnf("[PRESENCE] Failed to release %s on logout", conv.ID)
			continue
		}
		released++
	}

	_ = p.advisors.LogActivity(ctx, &domain.AdvisorActivityLog{
		AdvisorID: advisorID,
		Action:    "logout",
	})
	p.clearPresence(ctx, advisorID)
	if p.dispatcher != nil && released > 0 {
		p.dispatcher.Notify(domain.TriggerConversationReleased, "")
	}
	logrus.Infof("[PRESENCE] Advisor %s offline, %d conversation(s) released", advisorID, released)
	return nil
}

// SetStatus cambia el estado efectivo del asesor. Pasar a un estado accept
// dispara advisor_status_changed para drenar colas pendientes.
func (p *PresenceService) SetStatus(ctx context.Context, advisorID, statusID string, manuallyOffline bool) error {
	status, err := p.advisors.GetStatus(ctx, statusID)
	if err != nil {
		return err
	}
	if err := p.advisors.SetAssignment(ctx, domain.AdvisorStatusAssignment{
		AdvisorID:         advisorID,
		StatusID:          statusID,
		IsManuallyOffline: manuallyOffline,
		UpdatedAt:         time.Now().UTC(),
	}); err != nil {
		return err
	}
	_ = p.advisors.LogActivity(ctx, &domain.AdvisorActivityLog{
		AdvisorID: advisorID,
		Action:    "status_changed",
		Detail:    status.Name,
	})
	if p.dispatcher != nil {
		p.dispatcher.Notify(domain.TriggerAdvisorStatusChanged, "")
	}
	return nil
}

// Heartbeat refresca la marca TTL de presencia en valkey. Es solo una vista
// rápida para la UI; la verdad de online sigue siendo la sesión abierta.
func (p *PresenceService) Heartbeat(ctx context.Context, advisorID string) {
	p.touchPresence(ctx, advisorID)
}

func (p *PresenceService) touchPresence(ctx context.Context, advisorID string) {
	if p.vk == nil {
		return
	}
	key := p.vk.Key("presence", advisorID)
	cmd := p.vk.Inner().B().Set().Key(key).Value("1").Ex(presenceTTL).Build()
	if err := p.vk.Inner().Do(ctx, cmd).Error(); err != nil {
		logrus.WithError(err).Debug("[PRESENCE] Failed to refresh presence key")
	}
}

func (p *PresenceService) clearPresence(ctx context.Context, advisorID string) {
	if p.vk == nil {
		return
	}
	key := p.vk.Key("presence", advisorID)
	_ = p.vk.Inner().Do(ctx, p.vk.Inner().B().Del().Key(key).Build()).Error()
}
