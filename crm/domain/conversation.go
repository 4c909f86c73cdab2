package domain

import "time"

// AssignedToBot is the sentinel advisor id meaning the flow engine owns the
// conversation.
const AssignedToBot = "bot"

type ConversationStatus string

const (
	ConversationActive    ConversationStatus = "active"
	ConversationAttending ConversationStatus = "attending"
	ConversationArchived  ConversationStatus = "archived"
	ConversationClosed    ConversationStatus = "closed"
)

// Conversation is the active window with a contact over one channel
// connection. At most one non-closed conversation exists per
// (channel_connection_id, remote_phone).
type Conversation struct {
	ID                  string             `json:"id"`
	Channel             string             `json:"channel"`
	ChannelConnectionID string             `json:"channel_connection_id"`
	RemotePhone         string             `json:"remote_phone"`
	DisplayNumber       string             `json:"display_number"`
	ContactName         string             `json:"contact_name,omitempty"`
	Status              ConversationStatus `json:"status"`
	AssignedTo          string             `json:"assigned_to,omitempty"` // advisor id or AssignedToBot, "" = unassigned
	AssignedAt          *time.Time         `json:"assigned_at,omitempty"`
	QueuedAt            *time.Time         `json:"queued_at,omitempty"`
	QueueID             string             `json:"queue_id,omitempty"`
	BotFlowID           string             `json:"bot_flow_id,omitempty"`
	BotStartedAt        *time.Time         `json:"bot_started_at,omitempty"`
	TicketNumber        int64              `json:"ticket_number"`
	AttendedBy          []string           `json:"attended_by"`
	ActiveAdvisors      []string           `json:"active_advisors"`
	TransferredFrom     string             `json:"transferred_from,omitempty"`
	TransferredAt       *time.Time         `json:"transferred_at,omitempty"`
	Unread              int                `json:"unread"`
	LastMessagePreview  string             `json:"last_message_preview"`
	LastMessageAt       *time.Time         `json:"last_message_at,omitempty"`
	CreatedAt           time.Time          `json:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at"`
}

// ConversationKey identifies the conversation window of a contact.
type ConversationKey struct {
	ChannelConnectionID string `json:"channel_connection_id"`
	RemotePhone         string `json:"remote_phone"`
}

func (c *Conversation) Key() ConversationKey {
	return ConversationKey{ChannelConnectionID: c.ChannelConnectionID, RemotePhone: c.RemotePhone}
}

func (c *Conversation) IsOpen() bool {
	return c.Status != ConversationClosed
}

func (c *Conversation) IsBotOwned() bool {
	return c.AssignedTo == AssignedToBot
}

func (c *Conversation) IsQueued() bool {
	return c.Status == ConversationActive && c.AssignedTo == "" && c.QueueID != ""
}

// BotStateConsistent reports whether assigned_to = "bot" and the bot flow
// fields agree. The reconciler repairs conversations where this is false.
func (c *Conversation) BotStateConsistent() bool {
	botFields := c.BotFlowID != "" && c.BotStartedAt != nil
	return c.IsBotOwned() == botFields
}

// HasAttended registers an advisor in the attended_by history without
// duplicates.
func (c *Conversation) HasAttended(advisorID string) {
	for _, a := range c.AttendedBy {
		if a == advisorID {
			return
		}
	}
	c.AttendedBy = append(c.AttendedBy, advisorID)
}
