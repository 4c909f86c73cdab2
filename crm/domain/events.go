package domain

import "time"

// Change record kinds fanned out over the realtime bus. The bus consumes
// these records; it never reads persistent state directly.
const (
	EventMsgNew     = "event.crm:msg:new"
	EventMsgUpdate  = "event.crm:msg:update"
	EventConvUpdate = "event.crm:conv:update"
	EventTyping     = "event.crm:typing"
)

// ChangeEvent is emitted by the conversation store and the dispatcher after
// every committed mutation. Events for one conversation are published in
// mutation order.
type ChangeEvent struct {
	Kind           string      `json:"type"`
	ConversationID string      `json:"conversation_id"`
	Payload        interface{} `json:"payload,omitempty"`
	At             time.Time   `json:"at"`
}

// EventPublisher decouples mutation sites from the realtime hub.
type EventPublisher interface {
	Publish(ev ChangeEvent)
}

// NopPublisher discards events, for tests and maintenance tools.
type NopPublisher struct{}

func (NopPublisher) Publish(ChangeEvent) {}

// DispatchTrigger names the reasons the queue dispatcher re-evaluates
// pending chats.
type DispatchTrigger string

const (
	TriggerChatQueued           DispatchTrigger = "chat_queued"
	TriggerAdvisorOnline        DispatchTrigger = "advisor_online"
	TriggerAdvisorStatusChanged DispatchTrigger = "advisor_status_changed"
	TriggerConversationReleased DispatchTrigger = "conversation_released"
	TriggerCapacityFreed        DispatchTrigger = "advisor_capacity_freed"
)
