// Package whatsapp implementa el códec de cable del WhatsApp Cloud API: el
// parseo del sobre entrante del webhook, el handshake de verificación y la
// construcción de los payloads salientes (texto, media, botones, plantillas).
package whatsapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/utils"
)

// Envelope es el sobre que Meta publica en el webhook. Un POST puede traer
// varios mensajes y varios acuses de estado mezclados.
type Envelope struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

type ChangeValue struct {
	MessagingProduct string      `json:"messaging_product"`
	Metadata         Metadata    `json:"metadata"`
	Contacts         []Contact   `json:"contacts,omitempty"`
	Messages         []WAMessage `json:"messages,omitempty"`
	Statuses         []WAStatus  `json:"statuses,omitempty"`
}

type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type Contact struct {
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
	WaID string `json:"wa_id"`
}

type WAMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`

	Text *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`

	Button *struct {
		Text    string `json:"text"`
		Payload string `json:"payload"`
	} `json:"button,omitempty"`

	Interactive *struct {
		Type        string        `json:"type"`
		ButtonReply *reply        `json:"button_reply,omitempty"`
		ListReply   *reply        `json:"list_reply,omitempty"`
	} `json:"interactive,omitempty"`

	Image    *WAMedia `json:"image,omitempty"`
	Audio    *WAMedia `json:"audio,omitempty"`
	Video    *WAMedia `json:"video,omitempty"`
	Document *WAMedia `json:"document,omitempty"`

	Context *struct {
		ID string `json:"id"`
	} `json:"context,omitempty"`
}

type reply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type WAMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type WAStatus struct {
	ID          string `json:"id"`
	Status      string `json:"status"` // sent | delivered | read | failed
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
	Errors      []struct {
		Code    int    `json:"code"`
		Title   string `json:"title"`
		Message string `json:"message,omitempty"`
	} `json:"errors,omitempty"`
}

// MediaRef referencia un adjunto entrante por id de media del proveedor. El
// binario se descarga después con el token del canal.
type MediaRef struct {
	ProviderMediaID string `json:"provider_media_id"`
	MimeType        string `json:"mime_type"`
	Kind            string `json:"kind"` // image|audio|video|document
	Caption         string `json:"caption,omitempty"`
	Filename        string `json:"filename,omitempty"`
}

// ButtonReply es la respuesta a un mensaje interactivo (botón o fila de lista).
type ButtonReply struct {
	OptionID string `json:"option_id"`
	Title    string `json:"title"`
}

// StatusUpdate es el acuse de un mensaje saliente.
type StatusUpdate struct {
	ProviderMessageID string    `json:"provider_message_id"`
	Status            string    `json:"status"`
	Timestamp         time.Time `json:"timestamp"`
	ErrorDetail       string    `json:"error_detail,omitempty"`
}

// InboundEvent es la forma canónica de un evento del webhook. El pipeline de
// entrada trabaja solo con esta estructura, nunca con el sobre crudo.
type InboundEvent struct {
	ChannelConnectionID string        `json:"channel_connection_id"` // phone_number_id del proveedor
	RemotePhone         string        `json:"remote_phone"`
	ContactName         string        `json:"contact_name,omitempty"`
	MessageType         string        `json:"message_type"` // text|button|media|status
	Text                string        `json:"text,omitempty"`
	MediaRef            *MediaRef     `json:"media_ref,omitempty"`
	ButtonReply         *ButtonReply  `json:"button_reply,omitempty"`
	RepliedToID         string        `json:"replied_to_id,omitempty"`
	ProviderMessageID   string        `json:"provider_message_id"`
	ProviderTimestamp   time.Time     `json:"provider_timestamp"`
	StatusUpdate        *StatusUpdate `json:"status_update,omitempty"`
}

// ParseEnvelope aplana el sobre del webhook en eventos canónicos. Los tipos de
// mensaje que la plataforma no maneja (stickers, ubicación, reacciones) se
// descartan en silencio: el proveedor ya recibió su 200.
func ParseEnvelope(raw []byte) ([]InboundEvent, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}

	var events []InboundEvent
	for _, entry := range env.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			phoneID := change.Value.Metadata.PhoneNumberID

			names := map[string]string{}
			for _, c := range change.Value.Contacts {
				names[c.WaID] = c.Profile.Name
			}

			for _, msg := range change.Value.Messages {
				ev, ok := canonicalMessage(phoneID, names[msg.From], msg)
				if ok {
					events = append(events, ev)
				}
			}

			for _, st := range change.Value.Statuses {
				events = append(events, InboundEvent{
					ChannelConnectionID: phoneID,
					RemotePhone:         utils.NormalizePhone(st.RecipientID),
					MessageType:         "status",
					ProviderMessageID:   st.ID,
					ProviderTimestamp:   parseUnix(st.Timestamp),
					StatusUpdate: &StatusUpdate{
						ProviderMessageID: st.ID,
						Status:            st.Status,
						Timestamp:         parseUnix(st.Timestamp),
						ErrorDetail:       statusErrorDetail(st),
					},
				})
			}
		}
	}
	return events, nil
}

func canonicalMessage(phoneID, contactName string, msg WAMessage) (InboundEvent, bool) {
	ev := InboundEvent{
		ChannelConnectionID: phoneID,
		RemotePhone:         utils.NormalizePhone(msg.From),
		ContactName:         contactName,
		ProviderMessageID:   msg.ID,
		ProviderTimestamp:   parseUnix(msg.Timestamp),
	}
	if msg.Context != nil {
		ev.RepliedToID = msg.Context.ID
	}

	switch msg.Type {
	case "text":
		if msg.Text == nil {
			return ev, false
		}
		ev.MessageType = "text"
		ev.Text = msg.Text.Body
	case "button":
		// Respuesta rápida de una plantilla
		if msg.Button == nil {
			return ev, false
		}
		ev.MessageType = "button"
		ev.Text = msg.Button.Text
		ev.ButtonReply = &ButtonReply{OptionID: msg.Button.Payload, Title: msg.Button.Text}
	case "interactive":
		if msg.Interactive == nil {
			return ev, false
		}
		var r *reply
		switch msg.Interactive.Type {
		case "button_reply":
			r = msg.Interactive.ButtonReply
		case "list_reply":
			r = msg.Interactive.ListReply
		}
		if r == nil {
			return ev, false
		}
		ev.MessageType = "button"
		ev.Text = r.Title
		ev.ButtonReply = &ButtonReply{OptionID: r.ID, Title: r.Title}
	case "image", "audio", "video", "document":
		media := msg.Image
		switch msg.Type {
		case "audio":
			media = msg.Audio
		case "video":
			media = msg.Video
		case "document":
			media = msg.Document
		}
		if media == nil {
			return ev, false
		}
		ev.MessageType = "media"
		ev.Text = media.Caption
		ev.MediaRef = &MediaRef{
			ProviderMediaID: media.ID,
			MimeType:        media.MimeType,
			Kind:            msg.Type,
			Caption:         media.Caption,
			Filename:        media.Filename,
		}
	default:
		return ev, false
	}
	return ev, true
}

func statusErrorDetail(st WAStatus) string {
	if len(st.Errors) == 0 {
		return ""
	}
	parts := make([]string, 0, len(st.Errors))
	for _, e := range st.Errors {
		parts = append(parts, strconv.Itoa(e.Code)+" "+e.Title)
	}
	return strings.Join(parts, "; ")
}

func parseUnix(s string) time.Time {
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

// VerifyChallenge resuelve el handshake GET del webhook: devuelve el
// challenge a eco solo si el modo es subscribe y el token coincide con el
// verify token del canal.
func VerifyChallenge(mode, verifyToken, challenge, storedToken string) (string, bool) {
	if mode != "subscribe" || storedToken == "" || verifyToken != storedToken {
		return "", false
	}
	return challenge, true
}

// VerifySignature valida la firma X-Hub-Signature-256 del cuerpo crudo con el
// app secret de Meta. Sin secret configurado no se valida (entornos dev).
func VerifySignature(appSecret string, body []byte, header string) bool {
	if appSecret == "" {
		return true
	}
	sig := strings.TrimPrefix(header, "sha256=")
	if sig == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(sig))
}
