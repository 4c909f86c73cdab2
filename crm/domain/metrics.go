package domain

import "time"

// ConversationMetric is one closed-conversation summary row, written when a
// conversation closes and aggregated by the reports.
type ConversationMetric struct {
	ID                   int64      `json:"id"`
	ConversationID       string     `json:"conversation_id"`
	TicketNumber         int64      `json:"ticket_number"`
	ChannelConnectionID  string     `json:"channel_connection_id"`
	QueueID              string     `json:"queue_id,omitempty"`
	AdvisorID            string     `json:"advisor_id,omitempty"`
	FirstResponseSeconds int64      `json:"first_response_seconds"`
	ResolutionSeconds    int64      `json:"resolution_seconds"`
	MessagesIn           int        `json:"messages_in"`
	MessagesOut          int        `json:"messages_out"`
	BotHandled           bool       `json:"bot_handled"`
	TransferredToHuman   bool       `json:"transferred_to_human"`
	ClosedAt             *time.Time `json:"closed_at,omitempty"`
	Day                  string     `json:"day"` // YYYY-MM-DD in the business timezone
}

// RagUsage records one knowledge base lookup made by the agent runtime.
type RagUsage struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Query          string    `json:"query"`
	Found          bool      `json:"found"`
	ChunksUsed     int       `json:"chunks_used"`
	CostUSD        float64   `json:"cost_usd"`
	CreatedAt      time.Time `json:"created_at"`
}

type TicketStatus string

const (
	TicketOpen   TicketStatus = "open"
	TicketClosed TicketStatus = "closed"
)

// SupportTicket is raised by operators or by the reconciler when it repairs
// an inconsistency it cannot explain.
type SupportTicket struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversation_id,omitempty"`
	Subject        string       `json:"subject"`
	Detail         string       `json:"detail,omitempty"`
	Status         TicketStatus `json:"status"`
	CreatedBy      string       `json:"created_by"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// MaintenanceAlert is a system-generated operational warning (invariant
// repair, provider failures, scheduler lag).
type MaintenanceAlert struct {
	ID         string     `json:"id"`
	Kind       string     `json:"kind"`
	Detail     string     `json:"detail"`
	Resolved   bool       `json:"resolved"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}
