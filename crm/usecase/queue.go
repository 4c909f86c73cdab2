package usecase

import (
	"context"

	"github.com/CYM-Peru/Bot-AI-V1-sub006/crm/domain"
)

type IQueueUsecase interface {
	List(ctx context.Context) ([]domain.Queue, error)
	Get(ctx context.Context, id string) (domain.Queue, error)
	Save(ctx context.Context, q *domain.Queue) error
	Delete(ctx context.Context, id string) error
	// Pending lista las conversaciones esperando en la cola, orden FIFO.
	Pending(ctx context.Context, queueID string) ([]domain.Conversation, error)
}

type QueueUsecase struct {
	queues domain.IQueueRepository
	convs  domain.IConversationRepository
}

func NewQueueUsecase(queues domain.IQueueRepository, convs domain.IConversationRepository) *QueueUsecase {
	return &QueueUsecase{queues: queues, convs: convs}
}

func (u *QueueUsecase) List(ctx context.Context) ([]domain.Queue, error) {
	return u.queues.List(ctx)
}

func (u *QueueUsecase) Get(ctx context.Context, id string) (domain.Queue, error) {
	return u.queues.GetByID(ctx, id)
}

func (u *QueueUsecase) Save(ctx context.Context, q *domain.Queue) error {
	if q.ID == "" {
		return u.queues.Create(ctx, q)
	}
	return u.queues.Update(ctx, *q)
}

func (u *QueueUsecase) Delete(ctx context.Context, id string) error {
	return u.queues.Delete(ctx, id)
}

func (u *QueueUsecase) Pending(ctx context.Context, queueID string) ([]domain.Conversation, error) {
	return u.convs.ListQueued(ctx, queueID)
}
