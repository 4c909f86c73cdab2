package domain

import (
	"context"
	"time"
)

// ConversationFilter narrows conversation listings for the operator UI.
type ConversationFilter struct {
	Status              []ConversationStatus
	QueueID             string
	AssignedTo          string
	ChannelConnectionID string
	Search              string
	Limit               int
	Offset              int
}

// IConversationRepository persists conversations, their messages and
// attachments. Serialization of writers happens above this layer; the
// repository only guarantees atomicity per call. CASAssign is the exception:
// it must be atomic against concurrent assignment attempts.
type IConversationRepository interface {
	Init(ctx context.Context) error

	// Conversations
	Create(ctx context.Context, conv *Conversation) error // assigns TicketNumber
	GetByID(ctx context.Context, id string) (Conversation, error)
	GetOpenByKey(ctx context.Context, key ConversationKey) (Conversation, error)
	Update(ctx context.Context, conv Conversation) error
	List(ctx context.Context, filter ConversationFilter) ([]Conversation, error)
	ListQueued(ctx context.Context, queueID string) ([]Conversation, error)
	ListBotOwned(ctx context.Context) ([]Conversation, error)
	ListAttending(ctx context.Context) ([]Conversation, error)
	ListAssignedTo(ctx context.Context, advisorID string) ([]Conversation, error)
	CountAttending(ctx context.Context, advisorID string) (int, error)

	// CASAssign updates assignment fields only if assigned_to still holds
	// the expected value. Returns false when another writer won the race.
	CASAssign(ctx context.Context, conversationID, expectAssignedTo string, fields map[string]interface{}) (bool, error)

	// RewriteChannelAlias repoints conversations stored under a legacy
	// alias to the canonical provider phone-number-id, merging duplicate
	// windows onto the most recently active one. Returns how many rows
	// changed.
	RewriteChannelAlias(ctx context.Context, aliasID, providerID string) (int, error)

	// Messages
	AppendMessage(ctx context.Context, msg *Message) error
	GetMessage(ctx context.Context, id string) (Message, error)
	GetMessageByProviderID(ctx context.Context, providerMessageID string) (Message, error)
	UpdateMessageStatus(ctx context.Context, messageID string, status MessageStatus) error
	// SetMessageProviderID records the provider acknowledgement id on an
	// outbound message once the send is confirmed.
	SetMessageProviderID(ctx context.Context, messageID, providerMessageID string) error
	ListMessages(ctx context.Context, conversationID string, limit int, before *time.Time) ([]Message, error)
	CountMessagesSince(ctx context.Context, conversationID string, direction MessageDirection, since time.Time) (int, error)

	// Attachments
	LinkAttachment(ctx context.Context, att *Attachment) error
	GetAttachments(ctx context.Context, messageID string) ([]Attachment, error)
	ListConversationAttachments(ctx context.Context, conversationID string) ([]Attachment, error)
}

// IAdvisorRepository persists advisors, the status catalog, per-advisor
// status assignments, login sessions and the activity log.
type IAdvisorRepository interface {
	Init(ctx context.Context) error

	Create(ctx context.Context, adv *Advisor) error
	GetByID(ctx context.Context, id string) (Advisor, error)
	GetByUsername(ctx context.Context, username string) (Advisor, error)
	List(ctx context.Context) ([]Advisor, error)
	Update(ctx context.Context, adv Advisor) error
	Delete(ctx context.Context, id string) error

	// Status catalog
	ListStatuses(ctx context.Context) ([]AdvisorStatus, error)
	GetStatus(ctx context.Context, id string) (AdvisorStatus, error)
	GetDefaultStatus(ctx context.Context) (AdvisorStatus, error)
	SaveStatus(ctx context.Context, st *AdvisorStatus) error
	DeleteStatus(ctx context.Context, id string) error

	// Effective status per advisor
	GetAssignment(ctx context.Context, advisorID string) (AdvisorStatusAssignment, error)
	SetAssignment(ctx context.Context, asg AdvisorStatusAssignment) error

	// Login sessions
	OpenSession(ctx context.Context, s *AdvisorSession) error
	CloseSession(ctx context.Context, sessionID string, endTime time.Time) error
	CloseAllSessions(ctx context.Context, advisorID string, endTime time.Time) (int, error)
	IsOnline(ctx context.Context, advisorID string) (bool, error)
	ListOnlineAdvisors(ctx context.Context) ([]string, error)

	// Activity log
	LogActivity(ctx context.Context, entry *AdvisorActivityLog) error
	ListActivity(ctx context.Context, advisorID string, limit int) ([]AdvisorActivityLog, error)
}

type IQueueRepository interface {
	Init(ctx context.Context) error

	Create(ctx context.Context, q *Queue) error
	GetByID(ctx context.Context, id string) (Queue, error)
	List(ctx context.Context) ([]Queue, error)
	ListForAdvisor(ctx context.Context, advisorID string) ([]Queue, error)
	Update(ctx context.Context, q Queue) error
	Delete(ctx context.Context, id string) error

	// UpdateCursor persists the round robin rotation point.
	UpdateCursor(ctx context.Context, queueID string, cursor int) error
}

type IChannelRepository interface {
	Init(ctx context.Context) error

	Create(ctx context.Context, ch *ChannelConnection) error
	GetByID(ctx context.Context, id string) (ChannelConnection, error)
	GetByProviderPhoneID(ctx context.Context, providerPhoneNumberID string) (ChannelConnection, error)
	List(ctx context.Context) ([]ChannelConnection, error)
	ListActive(ctx context.Context) ([]ChannelConnection, error)
	Update(ctx context.Context, ch ChannelConnection) error
	Delete(ctx context.Context, id string) error
	MarkVerified(ctx context.Context, id string, at time.Time) error
}

// IMetricsRepository is the lightweight reporting store (side sqlite DB).
type IMetricsRepository interface {
	SaveConversationMetric(ctx context.Context, m *ConversationMetric) error
	QueryMetricsByDay(ctx context.Context, day string) ([]ConversationMetric, error)
	QueryMetricsRange(ctx context.Context, fromDay, toDay string) ([]ConversationMetric, error)

	SaveRagUsage(ctx context.Context, u *RagUsage) error
	ListRagUsage(ctx context.Context, since time.Time) ([]RagUsage, error)

	CreateTicket(ctx context.Context, t *SupportTicket) error
	ListTickets(ctx context.Context, status TicketStatus) ([]SupportTicket, error)
	UpdateTicket(ctx context.Context, t SupportTicket) error

	CreateAlert(ctx context.Context, a *MaintenanceAlert) error
	ListAlerts(ctx context.Context, includeResolved bool) ([]MaintenanceAlert, error)
	ResolveAlert(ctx context.Context, id string, at time.Time) error
}

type ICampaignRepository interface {
	Init(ctx context.Context) error

	Create(ctx context.Context, c *Campaign) error
	GetByID(ctx context.Context, id string) (Campaign, error)
	List(ctx context.Context) ([]Campaign, error)
	Update(ctx context.Context, c Campaign) error
	Delete(ctx context.Context, id string) error
	ListDue(ctx context.Context, now time.Time) ([]Campaign, error)

	SaveDetail(ctx context.Context, d *CampaignMessageDetail) error
	UpdateDetail(ctx context.Context, d CampaignMessageDetail) error
	ListDetails(ctx context.Context, campaignID string) ([]CampaignMessageDetail, error)
}
