package domain

import (
	"fmt"
	"strings"
	"time"
)

type Awaiting string

const (
	AwaitNone    Awaiting = "none"
	AwaitText    Awaiting = "text"
	AwaitChoice  Awaiting = "choice"
	AwaitButtons Awaiting = "buttons"
	AwaitMedia   Awaiting = "media"
	AwaitWebhook Awaiting = "webhook" // parked by a webhook_in node
)

// HistoryLimit bounds the per-session node trail.
const HistoryLimit = 50

// SessionKey identifies the bot session of a contact on one channel
// connection.
type SessionKey struct {
	ChannelConnectionID string `json:"channel_connection_id"`
	RemotePhone         string `json:"remote_phone"`
}

func (k SessionKey) String() string {
	return k.ChannelConnectionID + "|" + k.RemotePhone
}

// ParseSessionKey is the inverse of SessionKey.String.
func ParseSessionKey(s string) (SessionKey, error) {
	parts := strings.SplitN(s, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return SessionKey{}, fmt.Errorf("malformed session key: %q", s)
	}
	return SessionKey{ChannelConnectionID: parts[0], RemotePhone: parts[1]}, nil
}

// Session is the persistent bot state for one conversation. It is loaded,
// advanced and persisted under the conversation lock; it never persists
// mid-step.
type Session struct {
	Key            SessionKey        `json:"key"`
	ConversationID string            `json:"conversation_id"`
	FlowID         string            `json:"flow_id"`
	CurrentNodeID  string            `json:"current_node_id"`
	Variables      map[string]string `json:"variables"`
	History        []string          `json:"history"`
	Awaiting       Awaiting          `json:"awaiting"`
	RetryCount     int               `json:"retry_count"`
	// WakeAt persists the delay-node timer so a restart does not lose it.
	WakeAt            *time.Time `json:"wake_at,omitempty"`
	WakeInterruptible bool       `json:"wake_interruptible,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	LastActivityAt    time.Time  `json:"last_activity_at"`
}

func NewSession(key SessionKey, conversationID, flowID, startNodeID string, now time.Time) *Session {
	return &Session{
		Key:            key,
		ConversationID: conversationID,
		FlowID:         flowID,
		CurrentNodeID:  startNodeID,
		Variables:      map[string]string{},
		Awaiting:       AwaitNone,
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

// PushHistory appends a visited node keeping the trail bounded.
func (s *Session) PushHistory(nodeID string) {
	s.History = append(s.History, nodeID)
	if len(s.History) > HistoryLimit {
		s.History = s.History[len(s.History)-HistoryLimit:]
	}
}

func (s *Session) SetVar(name, value string) {
	if s.Variables == nil {
		s.Variables = map[string]string{}
	}
	s.Variables[name] = value
}

func (s *Session) Var(name string) (string, bool) {
	v, ok := s.Variables[name]
	return v, ok
}
