package application

import (
	"context"
	"sort"
	"time"

	"github.com/CYM-Peru/Bot-AI-V1-sub006/crm/domain"
	"github.com/sirupsen/logrus"
)

// Dispatcher asigna conversaciones encoladas a asesores elegibles. Es
// puramente dirigido por eventos: cada disparador re-evalúa las colas
// afectadas; no hay polling de asignación (el reconciliador solo repara).
type Dispatcher struct {
	convs    domain.IConversationRepository
	queues   domain.IQueueRepository
	advisors domain.IAdvisorRepository
	store    *ConversationStore
	events   domain.EventPublisher

	signals chan dispatchSignal
}

type dispatchSignal struct {
	trigger domain.DispatchTrigger
	queueID string // vacío = todas las colas
}

func NewDispatcher(
	convs domain.IConversationRepository,
	queues domain.IQueueRepository,
	advisors domain.IAdvisorRepository,
	store *ConversationStore,
	events domain.EventPublisher,
) *Dispatcher {
	if events == nil {
		events = domain.NopPublisher{}
	}
	return &Dispatcher{
		convs:    convs,
		queues:   queues,
		advisors: advisors,
		store:    store,
		events:   events,
		signals:  make(chan dispatchSignal, 128),
	}
}

// Notify encola una re-evaluación. Nunca bloquea: si el canal está lleno ya
// hay una pasada pendiente que cubrirá este disparador.
func (d *Dispatcher) Notify(trigger domain.DispatchTrigger, queueID string) {
	select {
	case d.signals <- dispatchSignal{trigger: trigger, queueID: queueID}:
	default:
		logrus.Debugf("[DISPATCH] Signal buffer full, coalescing trigger %s", trigger)
	}
}

// Run consume disparadores hasta que el contexto se cancele.
func (d *Dispatcher) Run(ctx context.Context) {
	logrus.Info("[DISPATCH] Event-driven dispatcher started")
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-d.signals:
			if err := d.dispatch(ctx, sig); err != nil {
				logrus.WithError(err).Errorf("[DISPATCH] Pass for trigger %s failed", sig.trigger)
			}
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, sig dispatchSignal) error {
	if sig.queueID != "" {
		return d.DispatchQueue(ctx, sig.queueID)
	}
	queues, err := d.queues.List(ctx)
	if err != nil {
		return err
	}
	for _, q := range queues {
		if err := d.DispatchQueue(ctx, q.ID); err != nil {
			logrus.WithError(err).Errorf("[DISPATCH] Queue %s failed", q.ID)
		}
	}
	return nil
}

// DispatchQueue asigna las conversaciones pendientes de una cola en orden
// FIFO hasta agotar candidatos o pendientes.
func (d *Dispatcher) DispatchQueue(ctx context.Context, queueID string) error {
	queue, err := d.queues.GetByID(ctx, queueID)
	if err != nil {
		return err
	}
	if queue.Status != domain.QueueEnabled || queue.DistributionMode == domain.DistributionManual {
		return nil
	}

	pending, err := d.convs.ListQueued(ctx, queueID)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	for _, conv := range pending {
		advisorID, err := d.pickAdvisor(ctx, &queue)
		if err != nil {
			return err
		}
		if advisorID == "" {
			// Sin candidatos: la conversación espera al próximo disparador
			return nil
		}

		now := time.Now().UTC()
		won, err := d.convs.CASAssign(ctx, conv.ID, "", map[string]interface{}{
			"assigned_to": advisorID,
			"assigned_at": now,
			"status":      string(domain.ConversationAttending),
			"updated_at":  now,
		})
		if err != nil {
			return err
		}
		if !won {
			// Otro escritor (accept manual, otro dispatcher) se adelantó
			continue
		}

		assigned, err := d.convs.GetByID(ctx, conv.ID)
		if err == nil {
			assigned.HasAttended(advisorID)
			assigned.UpdatedAt = now
			_ = d.convs.Update(ctx, assigned)
			d.events.Publish(domain.ChangeEvent{
				Kind:           domain.EventConvUpdate,
				ConversationID: assigned.ID,
				Payload:        assigned,
				At:             now,
			})
		}
		_ = d.advisors.LogActivity(ctx, &domain.AdvisorActivityLog{
			AdvisorID: advisorID,
			Action:    "auto_assigned",
			Detail:    conv.ID,
		})
		logrus.Infof("[DISPATCH] Conversation %s -> advisor %s (queue %s, %s)",
			conv.ID, advisorID, queueID, queue.DistributionMode)
	}
	return nil
}

type candidate struct {
	advisorID        string
	attending        int
	lastAssignmentAt time.Time
}

// pickAdvisor aplica elegibilidad y el modo de distribución de la cola.
// Devuelve "" cuando nadie puede recibir.
func (d *Dispatcher) pickAdvisor(ctx context.Context, queue *domain.Queue) (string, error) {
	eligible, err := d.eligibleCandidates(ctx, queue)
	if err != nil {
		return "", err
	}
	if len(eligible) == 0 {
		return "", nil
	}

	switch queue.DistributionMode {
	case domain.DistributionLeastBusy:
		sort.SliceStable(eligible, func(i, j int) bool {
			if eligible[i].attending != eligible[j].attending {
				return eligible[i].attending < eligible[j].attending
			}
			// Empate: el que lleva más tiempo sin recibir asignación
			return eligible[i].lastAssignmentAt.Before(eligible[j].lastAssignmentAt)
		})
		return eligible[0].advisorID, nil
	default: // round_robin
		cursor := queue.RoundRobinCursor
		roster := queue.AssignedAdvisors
		for i := 0; i < len(roster); i++ {
			idx := (cursor + i) % len(roster)
			for _, c := range eligible {
				if c.advisorID == roster[idx] {
					queue.RoundRobinCursor = (idx + 1) % len(roster)
					if err := d.queues.UpdateCursor(ctx, queue.ID, queue.RoundRobinCursor); err != nil {
						logrus.WithError(err).Warn("[DISPATCH] Failed to persist round robin cursor")
					}
					return c.advisorID, nil
				}
			}
		}
		return "", nil
	}
}

// eligibleCandidates filtra el roster: online (sesión abierta), estado con
// acción accept, no desconectado manualmente y con capacidad disponible.
func (d *Dispatcher) eligibleCandidates(ctx context.Context, queue *domain.Queue) ([]candidate, error) {
	var res []candidate
	for _, advisorID := range queue.AssignedAdvisors {
		adv, err := d.advisors.GetByID(ctx, advisorID)
		if err != nil {
			logrus.WithError(err).Warnf("[DISPATCH] Roster member %s not loadable", advisorID)
			continue
		}
		online, err := d.advisors.IsOnline(ctx, advisorID)
		if err != nil {
			return nil, err
		}
		var status *domain.AdvisorStatus
		if adv.StatusID != "" {
			st, err := d.advisors.GetStatus(ctx, adv.StatusID)
			if err == nil {
				status = &st
			}
		}
		if !adv.Eligible(status, online) {
			continue
		}

		attending, err := d.convs.CountAttending(ctx, advisorID)
		if err != nil {
			return nil, err
		}
		if queue.MaxConcurrent > 0 && attending >= queue.MaxConcurrent {
			continue
		}

		res = append(res, candidate{
			advisorID:        advisorID,
			attending:        attending,
			lastAssignmentAt: d.lastAssignmentAt(ctx, advisorID),
		})
	}
	return res, nil
}

func (d *Dispatcher) lastAssignmentAt(ctx context.Context, advisorID string) time.Time {
	convs, err := d.convs.ListAssignedTo(ctx, advisorID)
	if err != nil {
		return time.Time{}
	}
	var last time.Time
	for _, c := range convs {
		if c.AssignedAt != nil && c.AssignedAt.After(last) {
			last = *c.AssignedAt
		}
	}
	return last
}
