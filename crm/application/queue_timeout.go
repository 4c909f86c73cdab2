package application

import (
	"context"
	"fmt"
	"time"

	"github.com/CYM-Peru/Bot-AI-V1-sub006/crm/domain"
	pkgError "github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/error"
	"github.com/sirupsen/logrus"
)

// queueTimeoutBuckets son los umbrales de espera escalonados, en minutos.
var queueTimeoutBuckets = []int{10, 30, 60, 120, 240, 480, 720}

// alertBucketMinutes marca desde qué espera acumulada la devolución genera
// además una alerta de mantenimiento para el equipo de supervisión.
const alertBucketMinutes = 240

// QueueTimeoutScheduler vigila conversaciones en atención cuyo asesor no ha
// respondido desde la asignación: al cruzar un bucket la conversación vuelve
// a su cola (activa, sin asesor) con mensaje de sistema y se reintenta el
// despacho. Idempotente por construcción: la devolución saca la conversación
// de atención, así que una pasada repetida no vuelve a actuar hasta que otra
// asignación cruce un bucket.
type QueueTimeoutScheduler struct {
	convs      domain.IConversationRepository
	metrics    domain.IMetricsRepository
	store      *ConversationStore
	dispatcher *Dispatcher

	Interval time.Duration
}

func NewQueueTimeoutScheduler(
	convs domain.IConversationRepository,
	metrics domain.IMetricsRepository,
	store *ConversationStore,
	dispatcher *Dispatcher,
) *QueueTimeoutScheduler {
	return &QueueTimeoutScheduler{
		convs:      convs,
		metrics:    metrics,
		store:      store,
		dispatcher: dispatcher,
		Interval:   time.Minute,
	}
}

func (s *QueueTimeoutScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	logrus.Info("[SCHEDULER] Queue timeout watcher started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				logrus.WithError(err).Error("[SCHEDULER] Queue timeout sweep failed")
			}
		}
	}
}

func (s *QueueTimeoutScheduler) Sweep(ctx context.Context) error {
	attending, err := s.convs.ListAttending(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	for _, conv := range attending {
		if conv.AssignedAt == nil || conv.AssignedTo == "" || conv.IsBotOwned() {
			continue
		}

		// ¿Respondió el asesor después de la asignación?
		replies, err := s.convs.CountMessagesSince(ctx, conv.ID, domain.DirectionOut, *conv.AssignedAt)
		if err != nil {
			return err
		}
		if replies > 0 {
			continue
		}

		waited := int(now.Sub(*conv.AssignedAt).Minutes())
		bucket := bucketFor(waited)
		if bucket == 0 {
			continue
		}

		s.returnToQueue(ctx, conv, bucket)
	}
	return nil
}

// returnToQueue devuelve la conversación a su cola: activa, sin asesor, con
// la cola preservada y nota de sistema, y reintenta el despacho.
func (s *QueueTimeoutScheduler) returnToQueue(ctx context.Context, conv domain.Conversation, bucket int) {
	note := fmt.Sprintf("⏱️ Sin respuesta del asesor en %d min; el chat vuelve a la cola", bucket)
	if _, err := s.store.Release(ctx, conv.ID, conv.AssignedTo, note); err != nil {
		// CAS perdido: el asesor la cerró o transfirió entre el listado y aquí
		if _, conflict := err.(pkgError.ConflictError); conflict {
			logrus.Debugf("[SCHEDULER] Ticket #%d changed hands during sweep, skipping", conv.TicketNumber)
			return
		}
		logrus.WithError(err).Errorf("[SCHEDULER] Failed to return ticket #%d to queue", conv.TicketNumber)
		return
	}

	logrus.Warnf("[SCHEDULER] Ticket #%d unanswered by %s for %d min, returned to queue %q",
		conv.TicketNumber, conv.AssignedTo, bucket, conv.QueueID)

	if s.dispatcher != nil {
		s.dispatcher.Notify(domain.TriggerChatQueued, conv.QueueID)
	}

	if bucket >= alertBucketMinutes && s.metrics != nil {
		_ = s.metrics.CreateAlert(ctx, &domain.MaintenanceAlert{
			Kind: "queue_timeout",
			Detail: fmt.Sprintf("ticket #%d sin respuesta de %s hace %d minutos",
				conv.TicketNumber, conv.AssignedTo, bucket),
		})
	}
}

// bucketFor devuelve el mayor bucket alcanzado, 0 si aún no cruza el primero.
func bucketFor(waitedMinutes int) int {
	bucket := 0
	for _, b := range queueTimeoutBuckets {
		if waitedMinutes >= b {
			bucket = b
		}
	}
	return bucket
}
