package application

import (
	"context"
	"fmt"
	"time"

	"github.com/CYM-Peru/Bot-AI-V1-sub006/crm/domain"
	flowDomain "github.com/CYM-Peru/Bot-AI-V1-sub006/flowengine/domain"
	pkgError "github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/error"
	"github.com/sirupsen/logrus"
)

// Reconciler verifica invariantes y solo escribe para repararlos. Cada
// reparación deja una alerta de mantenimiento; en operación normal una pasada
// no produce ninguna escritura.
type Reconciler struct {
	convs    domain.IConversationRepository
	sessions flowDomain.ISessionRepository
	metrics  domain.IMetricsRepository

	Interval time.Duration
}

func NewReconciler(
	convs domain.IConversationRepository,
	sessions flowDomain.ISessionRepository,
	metrics domain.IMetricsRepository,
) *Reconciler {
	return &Reconciler{
		convs:    convs,
		sessions: sessions,
		metrics:  metrics,
		Interval: 5 * time.Minute,
	}
}

func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	logrus.Info("[SCHEDULER] Invariant reconciler started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil {
				logrus.WithError(err).Error("[SCHEDULER] Reconciler sweep failed")
			}
		}
	}
}

func (r *Reconciler) Sweep(ctx context.Context) error {
	repaired := 0
	repaired += r.repairBotFlagDivergence(ctx)
	repaired += r.repairDuplicateOpenWindows(ctx)
	repaired += r.cleanOrphanSessions(ctx)
	if repaired > 0 {
		logrus.Warnf("[SCHEDULER] Reconciler repaired %d inconsistency(ies)", repaired)
	}
	return nil
}

// repairBotFlagDivergence corrige conversaciones donde assigned_to="bot" y
// los campos de flujo no concuerdan (en cualquiera de los dos sentidos).
func (r *Reconciler) repairBotFlagDivergence(ctx context.Context) int {
	convs, err := r.convs.ListBotOwned(ctx)
	if err != nil {
		logrus.WithError(err).Error("[SCHEDULER] Reconciler could not list bot conversations")
		return 0
	}
	repaired := 0
	for _, conv := range convs {
		if conv.BotStateConsistent() {
			continue
		}
		session, _ := r.sessions.Get(ctx, flowDomain.SessionKey{
			ChannelConnectionID: conv.ChannelConnectionID,
			RemotePhone:         conv.RemotePhone,
		})
		now := time.Now().UTC()
		if session != nil && session.FlowID != "" {
			// La sesión es la verdad: restaurar los campos de bot
			conv.AssignedTo = domain.AssignedToBot
			conv.BotFlowID = session.FlowID
			started := session.CreatedAt
			conv.BotStartedAt = &started
		} else {
			// Sin sesión no hay bot: soltar a la cola
			conv.AssignedTo = ""
			conv.BotFlowID = ""
			conv.BotStartedAt = nil
			conv.Status = domain.ConversationActive
			conv.QueuedAt = &now
		}
		conv.UpdatedAt = now
		if err := r.convs.Update(ctx, conv); err != nil {
			logrus.WithError(err).Errorf("[SCHEDULER] Failed to repair %s", conv.ID)
			continue
		}
		r.alert(ctx, "bot_flag_divergence",
			fmt.Sprintf("conversación %s (ticket #%d) con estado de bot inconsistente, reparada",
				conv.ID, conv.TicketNumber))
		repaired++
	}
	return repaired
}

// repairDuplicateOpenWindows detecta más de una ventana abierta por clave y
// cierra las más antiguas.
func (r *Reconciler) repairDuplicateOpenWindows(ctx context.Context) int {
	open, err := r.convs.List(ctx, domain.ConversationFilter{
		Status: []domain.ConversationStatus{
			domain.ConversationActive, domain.ConversationAttending, domain.ConversationArchived,
		},
	})
	if err != nil {
		logrus.WithError(err).Error("[SCHEDULER] Reconciler could not list open conversations")
		return 0
	}

	byKey := make(map[domain.ConversationKey][]domain.Conversation)
	for _, c := range open {
		byKey[c.Key()] = append(byKey[c.Key()], c)
	}

	repaired := 0
	for key, convs := range byKey {
		if len(convs) < 2 {
			continue
		}
		// Gana la más recientemente activa; List ya viene ordenada por
		// last_message_at descendente
		for _, loser := range convs[1:] {
			loser.Status = domain.ConversationClosed
			loser.UpdatedAt = time.Now().UTC()
			if err := r.convs.Update(ctx, loser); err != nil {
				logrus.WithError(err).Errorf("[SCHEDULER] Failed to close duplicate %s", loser.ID)
				continue
			}
			repaired++
		}
		r.alert(ctx, "duplicate_open_window",
			fmt.Sprintf("%d ventanas abiertas para %s|%s, se conservó la más reciente",
				len(convs), key.ChannelConnectionID, key.RemotePhone))
	}
	return repaired
}

// cleanOrphanSessions borra sesiones de bot cuya conversación ya no está
// abierta o no existe.
func (r *Reconciler) cleanOrphanSessions(ctx context.Context) int {
	sessions, err := r.sessions.ListAll(ctx)
	if err != nil {
		logrus.WithError(err).Error("[SCHEDULER] Reconciler could not list sessions")
		return 0
	}
	repaired := 0
	for _, session := range sessions {
		conv, err := r.convs.GetByID(ctx, session.ConversationID)
		orphan := false
		if err != nil {
			if _, ok := err.(pkgError.NotFoundError); ok {
				orphan = true
			} else {
				continue
			}
		} else if !conv.IsOpen() {
			orphan = true
		}
		if !orphan {
			continue
		}
		if err := r.sessions.Delete(ctx, session.Key); err != nil {
			logrus.WithError(err).Errorf("[SCHEDULER] Failed to delete orphan session %s", session.Key)
			continue
		}
		r.alert(ctx, "orphan_session",
			fmt.Sprintf("sesión %s sin conversación abierta, eliminada", session.Key.String()))
		repaired++
	}
	return repaired
}

func (r *Reconciler) alert(ctx context.Context, kind, detail string) {
	if r.metrics == nil {
		return
	}
	if err := r.metrics.CreateAlert(ctx, &domain.MaintenanceAlert{Kind: kind, Detail: detail}); err != nil {
		logrus.WithError(err).Warn("[SCHEDULER] Failed to record maintenance alert")
	}
}
