package domain

import (
	"context"
	"time"
)

type IFlowRepository interface {
	Init(ctx context.Context) error

	Save(ctx context.Context, f *FlowDefinition) error
	GetByID(ctx context.Context, id string) (FlowDefinition, error)
	GetDefault(ctx context.Context) (FlowDefinition, error)
	List(ctx context.Context) ([]FlowDefinition, error)
	Delete(ctx context.Context, id string) error
	SetDefault(ctx context.Context, id string) error
}

// ISessionRepository stores bot sessions keyed by
// (channel_connection_id, remote_phone). Whole-session writes only.
type ISessionRepository interface {
	Init(ctx context.Context) error

	Get(ctx context.Context, key SessionKey) (*Session, error) // (nil, nil) when absent
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, key SessionKey) error

	// ListWakeDue returns sessions whose persisted wake-at is in the past.
	// The delay scheduler resumes them; the valkey ZSET is only a latency
	// optimization over this durable query.
	ListWakeDue(ctx context.Context, now time.Time) ([]Session, error)
	// ListByFlow supports the bot-timeout scheduler's recovery path.
	ListByFlow(ctx context.Context, flowID string) ([]Session, error)
	ListAll(ctx context.Context) ([]Session, error)
}
