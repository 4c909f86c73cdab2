package domain

import "time"

type MessageDirection string

const (
	DirectionIn  MessageDirection = "in"
	DirectionOut MessageDirection = "out"
)

type MessageType string

const (
	MessageText     MessageType = "text"
	MessageButtons  MessageType = "buttons"
	MessageMedia    MessageType = "media"
	MessageTemplate MessageType = "template"
	MessageSystem   MessageType = "system"
	MessageEvent    MessageType = "event"
)

type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

var statusRank = map[MessageStatus]int{
	StatusPending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// CanAdvanceTo reports whether a status change is legal: forward-only along
// pending, sent, delivered, read; failed replaces any pending forward step
// and is terminal, as is read.
func (s MessageStatus) CanAdvanceTo(next MessageStatus) bool {
	if s == StatusFailed || s == StatusRead {
		return false
	}
	if next == StatusFailed {
		return true
	}
	nextRank, ok := statusRank[next]
	if !ok {
		return false
	}
	return nextRank > statusRank[s]
}

// Message is immutable once appended except for its status field.
type Message struct {
	ID                string            `json:"id"`
	ConversationID    string            `json:"conversation_id"`
	Direction         MessageDirection  `json:"direction"`
	Type              MessageType       `json:"type"`
	Text              string            `json:"text,omitempty"`
	MediaURL          string            `json:"media_url,omitempty"`
	MediaThumb        string            `json:"media_thumb,omitempty"`
	RepliedToID       string            `json:"replied_to_id,omitempty"`
	Status            MessageStatus     `json:"status"`
	Timestamp         time.Time         `json:"timestamp"`
	EventType         string            `json:"event_type,omitempty"`
	SentBy            string            `json:"sent_by,omitempty"`
	ProviderMessageID string            `json:"provider_message_id,omitempty"`
	ProviderMetadata  map[string]string `json:"provider_metadata,omitempty"`
}

type AttachmentType string

const (
	AttachmentImage    AttachmentType = "image"
	AttachmentAudio    AttachmentType = "audio"
	AttachmentVideo    AttachmentType = "video"
	AttachmentDocument AttachmentType = "document"
)

type Attachment struct {
	ID        string         `json:"id"`
	MessageID string         `json:"message_id"`
	Type      AttachmentType `json:"type"`
	URL       string         `json:"url"`
	Thumbnail string         `json:"thumbnail,omitempty"`
	Filename  string         `json:"filename"`
	Mimetype  string         `json:"mimetype"`
	Size      int64          `json:"size"`
	CreatedAt time.Time      `json:"created_at"`
}

// Preview returns the short text used for conversation list previews.
func (m *Message) Preview() string {
	switch m.Type {
	case MessageMedia:
		if m.Text != "" {
			return "📎 " + truncateRunes(m.Text, 80)
		}
		return "📎 Archivo adjunto"
	case MessageButtons:
		return truncateRunes(m.Text, 80)
	case MessageSystem, MessageEvent:
		return truncateRunes(m.Text, 80)
	default:
		return truncateRunes(m.Text, 80)
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
