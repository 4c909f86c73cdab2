package websocket

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"strings"
	"sync"
	"time"

	crmDomain "github.com/CYM-Peru/Bot-AI-V1-sub006/crm/domain"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/infrastructure/valkey"
	"github.com/gofiber/fiber/v2"
	fiberws "github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	valkeylib "github.com/valkey-io/valkey-go"
)

const (
	heartbeatInterval = 30 * time.Second
	// Un cliente sin señales de vida por más de dos latidos se desaloja.
	idleTimeout = 2 * heartbeatInterval

	// Colas acotadas: el hub nunca espera por un cliente lento.
	clientQueueSize    = 128
	broadcastQueueSize = 1024

	wsChannel = "crm:ws_broadcast"
)

// client es una conexión de operador con su cola de salida y suscripciones.
type client struct {
	id   string
	conn *fiberws.Conn
	send chan []byte

	mu       sync.Mutex
	subs     map[string]struct{}
	lastSeen time.Time
}

func (c *client) touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

func (c *client) idleSince() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastSeen)
}

func (c *client) setSubs(ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			c.subs[id] = struct{}{}
		}
	}
}

// wants decide si un evento le corresponde al cliente. Un cliente que nunca
// mandó subscribe recibe todo (modo bootstrap de los tableros); al suscribirse
// el filtro se vuelve estricto.
func (c *client) wants(conversationID string) bool {
	if conversationID == "" {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subs == nil {
		return true
	}
	_, ok := c.subs[conversationID]
	return ok
}

// valkeyEnvelope viaja por el canal pub/sub entre nodos.
type valkeyEnvelope struct {
	SenderID string                `json:"sender_id"`
	Event    crmDomain.ChangeEvent `json:"event"`
}

// Hub es el bus realtime: consume los ChangeEvent del store y el dispatcher
// y los reparte a los operadores conectados, en orden de publicación por
// conversación. Implementa crmDomain.EventPublisher.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}

	broadcast chan crmDomain.ChangeEvent
	dropped   uint64

	vk       *valkey.Client
	serverID string
	token    string
}

// NewHub crea el hub. vk puede ser nil (instancia única, sin fanout
// distribuido). token es la clave bearer del despliegue.
func NewHub(vk *valkey.Client, serverID, token string) *Hub {
	return &Hub{
		clients:   make(map[*client]struct{}),
		broadcast: make(chan crmDomain.ChangeEvent, broadcastQueueSize),
		vk:        vk,
		serverID:  serverID,
		token:     token,
	}
}

// Publish encola un evento para el fanout. Nunca bloquea al que muta: si el
// bus está saturado el evento se pierde aquí y los clientes lo recuperan por
// el bootstrap REST al reconectar.
func (h *Hub) Publish(ev crmDomain.ChangeEvent) {
	select {
	case h.broadcast <- ev:
	default:
		h.mu.Lock()
		h.dropped++
		n := h.dropped
		h.mu.Unlock()
		logrus.Warnf("[WS] Broadcast queue full, event dropped (total %d)", n)
	}
}

// Run atiende el fanout hasta que el contexto muera. Un solo goroutine
// consume la cola, lo que preserva el orden de publicación por conversación.
func (h *Hub) Run(ctx context.Context) {
	if h.vk != nil {
		go h.subscribeValkey(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-h.broadcast:
			h.fanout(ev)
			if h.vk != nil {
				h.publishValkey(ctx, ev)
			}
		}
	}
}

func (h *Hub) fanout(ev crmDomain.ChangeEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		logrus.Errorf("[WS] Marshal error: %v", err)
		return
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		if c.wants(ev.ConversationID) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- data:
		default:
			// Cliente lento: se cierra con código y que re-arranque por REST
			logrus.Warnf("[WS] Client %s too slow, dropping", c.id)
			h.evict(c, fiberws.CloseTryAgainLater, "slow consumer")
		}
	}
}

func (h *Hub) publishValkey(ctx context.Context, ev crmDomain.ChangeEvent) {
	data, err := json.Marshal(valkeyEnvelope{SenderID: h.serverID, Event: ev})
	if err != nil {
		return
	}
	cmd := h.vk.Inner().B().Publish().Channel(h.vk.Key(wsChannel)).Message(string(data)).Build()
	if err := h.vk.Inner().Do(ctx, cmd).Error(); err != nil {
		logrus.Errorf("[WS] Valkey publish failed: %v", err)
	}
}

func (h *Hub) subscribeValkey(ctx context.Context) {
	logrus.Info("[WS] Valkey subscriber started for distributed events")
	err := h.vk.Inner().Receive(ctx, h.vk.Inner().B().Subscribe().Channel(h.vk.Key(wsChannel)).Build(), func(msg valkeylib.PubSubMessage) {
		var env valkeyEnvelope
		if err := json.Unmarshal([]byte(msg.Message), &env); err != nil {
			return
		}
		// Evitar bucles: lo que publicó este nodo ya se repartió local
		if env.SenderID == h.serverID {
			return
		}
		h.fanout(env.Event)
	})
	if err != nil && ctx.Err() == nil {
		logrus.Errorf("[WS] Valkey subscriber failed: %v", err)
	}
}

func (h *Hub) join(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	logrus.Debugf("[WS] Client %s connected (%d online)", c.id, n)
}

func (h *Hub) leave(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	logrus.Debugf("[WS] Client %s disconnected", c.id)
}

func (h *Hub) evict(c *client, code int, reason string) {
	h.leave(c)
	if c.conn != nil {
		msg := fiberws.FormatCloseMessage(code, reason)
		_ = c.conn.WriteControl(fiberws.CloseMessage, msg, time.Now().Add(time.Second))
		_ = c.conn.Close()
	}
}

// ClientCount expone cuántos operadores están conectados a este nodo.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// authorize valida el bearer del despliegue, por header o query token.
func (h *Hub) authorize(authHeader, queryToken string) bool {
	if h.token == "" {
		return false
	}
	candidate := queryToken
	if candidate == "" {
		candidate = strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer"))
	}
	if candidate == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(h.token)) == 1
}

// RegisterRoutes monta el endpoint /ws sobre el router dado (normalmente
// /api/crm). El upgrade exige el bearer antes de aceptar.
func RegisterRoutes(router fiber.Router, hub *Hub) {
	router.Use("/ws", func(c *fiber.Ctx) error {
		if !fiberws.IsWebSocketUpgrade(c) {
			return c.SendStatus(fiber.StatusUpgradeRequired)
		}
		if !hub.authorize(c.Get("Authorization"), c.Query("token")) {
			return c.SendStatus(fiber.StatusUnauthorized)
		}
		return c.Next()
	})
	router.Get("/ws", fiberws.New(hub.serve))
}

func (h *Hub) serve(conn *fiberws.Conn) {
	c := &client{
		id:       uuid.NewString(),
		conn:     conn,
		send:     make(chan []byte, clientQueueSize),
		lastSeen: time.Now(),
	}
	h.join(c)
	defer func() {
		h.leave(c)
		_ = conn.Close()
	}()

	h.sendControl(c, serverFrame{Type: FrameWelcome, ClientID: c.id, ServerTime: time.Now().UTC()})

	done := make(chan struct{})
	go h.writePump(c, done)
	defer close(done)

	_ = conn.SetReadDeadline(time.Now().Add(idleTimeout))
	conn.SetPongHandler(func(string) error {
		c.touch()
		return conn.SetReadDeadline(time.Now().Add(idleTimeout))
	})

	for {
		messageType, raw, err := conn.ReadMessage()
		if err != nil {
			if fiberws.IsUnexpectedCloseError(err, fiberws.CloseGoingAway, fiberws.CloseNormalClosure, fiberws.CloseAbnormalClosure) {
				logrus.Debugf("[WS] Read error on client %s: %v", c.id, err)
			}
			return
		}
		c.touch()
		_ = conn.SetReadDeadline(time.Now().Add(idleTimeout))

		if messageType != fiberws.TextMessage {
			continue
		}
		h.handleFrame(c, raw)
	}
}

// handleFrame procesa un frame del operador. Un frame malformado responde
// error y la conexión sigue viva.
func (h *Hub) handleFrame(c *client, raw []byte) {
	var frame clientFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		h.sendControl(c, serverFrame{Type: FrameError, Reason: "malformed frame"})
		return
	}

	switch frame.Type {
	case FrameHello:
		h.sendControl(c, serverFrame{Type: FrameAck, For: FrameHello})

	case FrameSub:
		c.setSubs(frame.ConversationIDs)
		h.sendControl(c, serverFrame{Type: FrameAck, For: FrameSub})

	case FrameTyping:
		if frame.ConversationID == "" {
			h.sendControl(c, serverFrame{Type: FrameError, Reason: "typing needs conversation_id"})
			return
		}
		h.Publish(crmDomain.ChangeEvent{
			Kind:           crmDomain.EventTyping,
			ConversationID: frame.ConversationID,
			Payload:        typingPayload{ConversationID: frame.ConversationID, State: frame.State},
			At:             time.Now().UTC(),
		})
		h.sendControl(c, serverFrame{Type: FrameAck, For: FrameTyping})

	case FrameRead:
		if frame.ConversationID == "" || frame.UpToMessageID == "" {
			h.sendControl(c, serverFrame{Type: FrameError, Reason: "read needs conversation_id and up_to_message_id"})
			return
		}
		h.sendControl(c, serverFrame{Type: FrameAck, For: FrameRead})

	default:
		h.sendControl(c, serverFrame{Type: FrameError, Reason: "unknown frame type"})
	}
}

// sendControl encola un frame de control respetando la cola acotada.
func (h *Hub) sendControl(c *client, frame serverFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
		logrus.Warnf("[WS] Client %s too slow on control frame, dropping", c.id)
		h.evict(c, fiberws.CloseTryAgainLater, "slow consumer")
	}
}

func (h *Hub) writePump(c *client, done <-chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case data := <-c.send:
			if err := c.conn.WriteMessage(fiberws.TextMessage, data); err != nil {
				logrus.Debugf("[WS] Write error on client %s: %v", c.id, err)
				h.evict(c, fiberws.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			if c.idleSince() > idleTimeout {
				logrus.Debugf("[WS] Client %s idle, evicting", c.id)
				h.evict(c, fiberws.CloseGoingAway, "idle timeout")
				return
			}
			if err := c.conn.WriteControl(fiberws.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
				h.evict(c, fiberws.CloseAbnormalClosure, "ping failed")
				return
			}
		}
	}
}
