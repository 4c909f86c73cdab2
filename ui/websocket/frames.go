package websocket

import "time"

// Tipos de frame que viajan por el socket. Todo frame es un objeto JSON con
// campo type obligatorio.
const (
	FrameWelcome = "welcome"
	FrameHello   = "hello"
	FrameSub     = "subscribe"
	FrameTyping  = "typing"
	FrameRead    = "read"
	FrameAck     = "ack"
	FrameError   = "error"
)

// clientFrame es lo que un operador puede enviar por el socket.
type clientFrame struct {
	Type            string   `json:"type"`
	ConversationIDs []string `json:"conversation_ids,omitempty"`
	ConversationID  string   `json:"conversation_id,omitempty"`
	State           string   `json:"state,omitempty"`
	UpToMessageID   string   `json:"up_to_message_id,omitempty"`
}

// serverFrame es la respuesta de control del hub (welcome, ack, error).
type serverFrame struct {
	Type       string    `json:"type"`
	ClientID   string    `json:"client_id,omitempty"`
	ServerTime time.Time `json:"server_time,omitempty"`
	For        string    `json:"for,omitempty"`
	Reason     string    `json:"reason,omitempty"`
}

// typingPayload acompaña a los eventos event.crm:typing.
type typingPayload struct {
	ConversationID string `json:"conversation_id"`
	State          string `json:"state"`
	AdvisorID      string `json:"advisor_id,omitempty"`
}
