package application

import (
	"context"
	"time"

	"github.com/CYM-Peru/Bot-AI-V1-sub006/crm/domain"
	flowDomain "github.com/CYM-Peru/Bot-AI-V1-sub006/flowengine/domain"
	"github.com/sirupsen/logrus"
)

// botTimeoutInterval es el paso del reconciliador de inactividad del bot.
const botTimeoutInterval = 60 * time.Second

// BotTimeoutScheduler corta sesiones de bot inactivas: si el contacto no
// escribe dentro del bot_timeout del flujo, la sesión termina y la
// conversación cae a la cola de respaldo.
type BotTimeoutScheduler struct {
	convs      domain.IConversationRepository
	channels   domain.IChannelRepository
	flows      flowDomain.IFlowRepository
	sessions   flowDomain.ISessionRepository
	store      *ConversationStore
	dispatcher *Dispatcher

	// DefaultTimeoutMinutes aplica cuando el flujo no fija uno propio.
	DefaultTimeoutMinutes int
}

func NewBotTimeoutScheduler(
	convs domain.IConversationRepository,
	channels domain.IChannelRepository,
	flows flowDomain.IFlowRepository,
	sessions flowDomain.ISessionRepository,
	store *ConversationStore,
	dispatcher *Dispatcher,
) *BotTimeoutScheduler {
	return &BotTimeoutScheduler{
		convs:                 convs,
		channels:              channels,
		flows:                 flows,
		sessions:              sessions,
		store:                 store,
		dispatcher:            dispatcher,
		DefaultTimeoutMinutes: 30,
	}
}

func (s *BotTimeoutScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(botTimeoutInterval)
	defer ticker.Stop()
	logrus.Info("[SCHEDULER] Bot timeout reconciler started (60s)")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				logrus.WithError(err).Error("[SCHEDULER] Bot timeout sweep failed")
			}
		}
	}
}

// Sweep revisa toda conversación en manos del bot. Idempotente: una pasada
// repetida sobre el mismo estado no produce efectos nuevos.
func (s *BotTimeoutScheduler) Sweep(ctx context.Context) error {
	convs, err := s.convs.ListBotOwned(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	for _, conv := range convs {
		session, err := s.sessions.Get(ctx, flowDomain.SessionKey{
			ChannelConnectionID: conv.ChannelConnectionID,
			RemotePhone:         conv.RemotePhone,
		})
		if err != nil {
			logrus.WithError(err).Warnf("[SCHEDULER] Session lookup failed for %s", conv.ID)
			continue
		}
		if session == nil {
			// Conversación marcada como del bot sin sesión: el reconciliador
			// de invariantes la repara, aquí solo se ignora.
			continue
		}

		// Recuperación: la conversación perdió el flow_id pero la sesión lo
		// conserva.
		if conv.BotFlowID == "" && session.FlowID != "" {
			conv.BotFlowID = session.FlowID
			if conv.BotStartedAt == nil {
				started := session.CreatedAt
				conv.BotStartedAt = &started
			}
			conv.UpdatedAt = now
			if err := s.convs.Update(ctx, conv); err != nil {
				logrus.WithError(err).Warnf("[SCHEDULER] Failed to restore flow id on %s", conv.ID)
				continue
			}
			logrus.Infof("[SCHEDULER] Restored flow %s on conversation %s", session.FlowID, conv.ID)
		}

		timeout := time.Duration(s.DefaultTimeoutMinutes) * time.Minute
		var fallbackQueue string
		if flow, err := s.flows.GetByID(ctx, session.FlowID); err == nil {
			if flow.BotTimeoutMinutes > 0 {
				timeout = time.Duration(flow.BotTimeoutMinutes) * time.Minute
			}
			fallbackQueue = flow.FallbackQueueID
		}
		if fallbackQueue == "" {
			if ch, err := s.channels.GetByID(ctx, conv.ChannelConnectionID); err == nil {
				fallbackQueue = ch.DefaultQueueID
			}
		}

		// Un delay programado más largo que el timeout no debe cortarse
		if session.WakeAt != nil && session.WakeAt.After(now) {
			continue
		}
		// El reloj corre desde que el bot tomó la conversación, no desde el
		// último mensaje: un contacto que sigue escribiendo igual expira.
		started := session.CreatedAt
		if conv.BotStartedAt != nil {
			started = *conv.BotStartedAt
		}
		if now.Sub(started) < timeout {
			continue
		}

		s.expire(ctx, conv, session, fallbackQueue)
	}
	return nil
}

func (s *BotTimeoutScheduler) expire(ctx context.Context, conv domain.Conversation, session *flowDomain.Session, fallbackQueue string) {
	key := domain.ConversationKey{ChannelConnectionID: conv.ChannelConnectionID, RemotePhone: conv.RemotePhone}
	err := s.store.WithLock(key, func() error {
		if err := s.sessions.Delete(ctx, session.Key); err != nil {
			return err
		}
		if fallbackQueue == "" {
			_, err := s.store.Close(ctx, conv.ID, "bot_timeout")
			return err
		}
		_, err := s.store.TransferToQueue(ctx, conv.ID, domain.AssignedToBot, fallbackQueue,
			"⏱️ El bot terminó por inactividad; conversación derivada a un asesor")
		return err
	})
	if err != nil {
		logrus.WithError(err).Errorf("[SCHEDULER] Failed to expire bot session for %s", conv.ID)
		return
	}
	if fallbackQueue != "" && s.dispatcher != nil {
		s.dispatcher.Notify(domain.TriggerChatQueued, fallbackQueue)
	}
	logrus.Infof("[SCHEDULER] Bot session expired for %s (fallback queue %q)", conv.ID, fallbackQueue)
}
