package application

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	crmapp "github.com/CYM-Peru/Bot-AI-V1-sub006/crm/application"
	crmDomain "github.com/CYM-Peru/Bot-AI-V1-sub006/crm/domain"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/flowengine/domain"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/infrastructure/whatsapp"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/integrations/bitrix"
	pkgError "github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/error"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/timeutils"
	"github.com/sirupsen/logrus"
)

// maxNodesPerStep corta ciclos de grafos mal armados dentro de un macro-paso.
const maxNodesPerStep = 64

// varUserMessage guarda la última entrada del contacto. La leen los nodos
// validation y condition (source user_message) y sobrevive a delays.
const varUserMessage = "_user_message"

// AgentOutcome es el desenlace de un turno del runtime de agente.
type AgentOutcome string

const (
	// AgentContinue: el agente respondió y espera el próximo mensaje.
	AgentContinue AgentOutcome = "continue"
	// AgentTransferred: una herramienta del agente transfirió la conversación.
	AgentTransferred AgentOutcome = "transferred"
	// AgentEnded: el agente dio por terminada la conversación.
	AgentEnded AgentOutcome = "ended"
)

// AgentRunner es el runtime de herramientas que atiende los nodos agent. El
// turno corre bajo el lock de conversación que sostiene el motor.
type AgentRunner interface {
	RunTurn(ctx context.Context, conv *crmDomain.Conversation, session *domain.Session, data domain.AgentData, userText string) (AgentOutcome, error)
}

// WakeSink es la optimización de latencia sobre los timers durables: un ZSET
// en Valkey adelanta el despertar sin reemplazar a ListWakeDue.
type WakeSink interface {
	Schedule(sessionKey string, at time.Time)
	Cancel(sessionKey string)
}

// Engine ejecuta el macro-paso de los flujos: consume la entrada en el nodo
// actual y avanza nodo a nodo hasta llegar a uno que espera al contacto o
// termina la sesión. Toda entrada llega ya serializada por el lock de
// conversación del pipeline.
type Engine struct {
	catalog    *FlowCatalog
	sessions   domain.ISessionRepository
	convs      crmDomain.IConversationRepository
	queues     crmDomain.IQueueRepository
	store      *crmapp.ConversationStore
	sender     *crmapp.OutboundSender
	dispatcher *crmapp.Dispatcher

	webhooks *WebhookCaller
	crm      bitrix.Adapter
	agent    AgentRunner
	wakes    WakeSink
}

func NewEngine(
	catalog *FlowCatalog,
	sessions domain.ISessionRepository,
	convs crmDomain.IConversationRepository,
	queues crmDomain.IQueueRepository,
	store *crmapp.ConversationStore,
	sender *crmapp.OutboundSender,
	dispatcher *crmapp.Dispatcher,
) *Engine {
	return &Engine{
		catalog:    catalog,
		sessions:   sessions,
		convs:      convs,
		queues:     queues,
		store:      store,
		sender:     sender,
		dispatcher: dispatcher,
		webhooks:   NewWebhookCaller(0),
	}
}

// WithCRM conecta el adaptador de CRM para {{entity:*}} y reglas crm_field.
func (e *Engine) WithCRM(adapter bitrix.Adapter) *Engine {
	e.crm = adapter
	return e
}

// WithAgent conecta el runtime de herramientas de los nodos agent.
func (e *Engine) WithAgent(runner AgentRunner) *Engine {
	e.agent = runner
	return e
}

func (e *Engine) WithWebhooks(caller *WebhookCaller) *Engine {
	e.webhooks = caller
	return e
}

func (e *Engine) WithWakeSink(sink WakeSink) *Engine {
	e.wakes = sink
	return e
}

// StartFlow abre la sesión de bot en el nodo start y marca la conversación
// como propiedad del motor. El primer avance lo hace el HandleInput que sigue.
func (e *Engine) StartFlow(ctx context.Context, conv *crmDomain.Conversation, flowID string) error {
	flow, err := e.catalog.Get(ctx, flowID)
	if err != nil {
		return err
	}
	if !flow.Enabled {
		return pkgError.ConflictError("flow " + flowID + " is disabled")
	}
	start, err := flow.Start()
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	session := domain.NewSession(
		domain.SessionKey{ChannelConnectionID: conv.ChannelConnectionID, RemotePhone: conv.RemotePhone},
		conv.ID, flow.ID, start.ID, now,
	)
	if err := e.sessions.Save(ctx, session); err != nil {
		return err
	}
	return e.store.AssignToBot(ctx, conv, flow.ID)
}

// HandleInput avanza la sesión con un evento entrante. El llamador (pipeline
// de entrada) sostiene el lock de conversación.
func (e *Engine) HandleInput(ctx context.Context, conv *crmDomain.Conversation, ev whatsapp.InboundEvent) error {
	session, err := e.sessions.Get(ctx, domain.SessionKey{
		ChannelConnectionID: conv.ChannelConnectionID,
		RemotePhone:         conv.RemotePhone,
	})
	if err != nil {
		return err
	}
	if session == nil {
		// Divergencia bot-sin-sesión: la repara el reconciliador
		logrus.Warnf("[FLOW] Conversation %s is bot-owned without session, skipping", conv.ID)
		return nil
	}
	_, err = e.step(ctx, conv, session, inputFromEvent(ev))
	return err
}

// EndSession borra la sesión del contacto. Lo invoca el store al cerrar la
// ventana, dentro del mismo commit lógico.
func (e *Engine) EndSession(ctx context.Context, channelConnectionID, remotePhone string) error {
	key := domain.SessionKey{ChannelConnectionID: channelConnectionID, RemotePhone: remotePhone}
	if e.wakes != nil {
		e.wakes.Cancel(key.String())
	}
	return e.sessions.Delete(ctx, key)
}

// ResumeWake reanuda una sesión cuyo timer venció. Toma el lock él mismo: lo
// llama el scheduler de delays, no el pipeline.
func (e *Engine) ResumeWake(ctx context.Context, key domain.SessionKey) error {
	return e.store.WithLock(crmDomain.ConversationKey{
		ChannelConnectionID: key.ChannelConnectionID,
		RemotePhone:         key.RemotePhone,
	}, func() error {
		session, err := e.sessions.Get(ctx, key)
		if err != nil {
			return err
		}
		if session == nil || session.WakeAt == nil || session.WakeAt.After(time.Now().UTC()) {
			return nil
		}
		conv, err := e.convs.GetByID(ctx, session.ConversationID)
		if err != nil {
			return err
		}
		if !conv.IsBotOwned() {
			// Un operador tomó la conversación durante la espera
			return e.sessions.Delete(ctx, key)
		}
		_, err = e.step(ctx, &conv, session, domain.Input{Kind: domain.InputTimer})
		return err
	})
}

// HandleCallback correlaciona un POST entrante con la sesión estacionada por
// un nodo webhook_in.
func (e *Engine) HandleCallback(ctx context.Context, conversationID string, payload map[string]string) error {
	conv, err := e.convs.GetByID(ctx, conversationID)
	if err != nil {
		return err
	}
	return e.store.WithLock(conv.Key(), func() error {
		key := domain.SessionKey{ChannelConnectionID: conv.ChannelConnectionID, RemotePhone: conv.RemotePhone}
		session, err := e.sessions.Get(ctx, key)
		if err != nil {
			return err
		}
		if session == nil || session.Awaiting != domain.AwaitWebhook {
			return pkgError.ConflictError("conversation " + conversationID + " has no parked session")
		}
		_, err = e.step(ctx, &conv, session, domain.Input{Kind: domain.InputWebhook, Payload: payload})
		return err
	})
}

func inputFromEvent(ev whatsapp.InboundEvent) domain.Input {
	switch ev.MessageType {
	case "button":
		in := domain.Input{Kind: domain.InputButton, Text: ev.Text}
		if ev.ButtonReply != nil {
			in.ButtonID = ev.ButtonReply.OptionID
			in.Text = ev.ButtonReply.Title
		}
		return in
	case "media":
		in := domain.Input{Kind: domain.InputMedia, Text: ev.Text}
		if ev.MediaRef != nil {
			in.MediaURL = ev.MediaRef.ProviderMediaID
			in.MediaType = ev.MediaRef.Kind
		}
		return in
	default:
		return domain.Input{Kind: domain.InputText, Text: ev.Text}
	}
}

// step es el macro-paso: fase de consumo sobre el nodo actual, luego el bucle
// de avance hasta un nodo que espera o termina. La sesión se persiste una sola
// vez, al final; los salientes sí se confirman uno a uno en orden de autoría.
func (e *Engine) step(ctx context.Context, conv *crmDomain.Conversation, session *domain.Session, input domain.Input) (domain.StepResult, error) {
	flow, err := e.catalog.Get(ctx, session.FlowID)
	if err != nil {
		return domain.StepResult{}, err
	}

	res := domain.StepResult{Outcome: domain.OutcomeWaiting}
	session.LastActivityAt = time.Now().UTC()

	switch input.Kind {
	case domain.InputText, domain.InputButton:
		session.SetVar(varUserMessage, input.Text)
	case domain.InputMedia:
		session.SetVar(varUserMessage, input.MediaURL)
	}

	node, ok := flow.NodeByID(session.CurrentNodeID)
	if !ok {
		orphan := &domain.Node{ID: session.CurrentNodeID}
		handle := e.routeError(ctx, conv, session, &flow, orphan, &res,
			fmt.Errorf("current node %s not in flow %s", session.CurrentNodeID, flow.ID))
		return e.advance(ctx, conv, session, &flow, orphan, handle, &res)
	}

	handle, err := e.consume(ctx, conv, session, &flow, node, input, &res)
	if err != nil {
		handle = e.routeError(ctx, conv, session, &flow, node, &res, err)
	}
	return e.advance(ctx, conv, session, &flow, node, handle, &res)
}

// advance sigue aristas y ejecuta nodos hasta que algún nodo deja handle
// vacío (espera o desenlace terminal).
func (e *Engine) advance(ctx context.Context, conv *crmDomain.Conversation, session *domain.Session, flow *domain.FlowDefinition, node *domain.Node, handle string, res *domain.StepResult) (domain.StepResult, error) {
	for hops := 0; handle != ""; hops++ {
		if hops > maxNodesPerStep {
			logrus.Errorf("[FLOW] Flow %s exceeded %d nodes in one step on conversation %s", flow.ID, maxNodesPerStep, conv.ID)
			if err := e.fallback(ctx, conv, session, flow, res); err != nil {
				return *res, err
			}
			break
		}

		nextID, ok := flow.Next(node.ID, handle)
		if !ok {
			// Sin arista para el handle: el flujo terminó aquí
			if err := e.finishFlow(ctx, conv, session, res); err != nil {
				return *res, err
			}
			break
		}
		next, ok := flow.NodeByID(nextID)
		if !ok {
			handle = e.routeError(ctx, conv, session, flow, node, res,
				fmt.Errorf("edge points to unknown node %s", nextID))
			continue
		}

		node = next
		session.CurrentNodeID = node.ID
		session.PushHistory(node.ID)

		var err error
		handle, err = e.exec(ctx, conv, session, flow, node, res)
		if err != nil {
			handle = e.routeError(ctx, conv, session, flow, node, res, err)
		}
	}
	return *res, e.persist(ctx, session, res)
}

// persist guarda la sesión salvo en desenlaces que ya la borraron.
func (e *Engine) persist(ctx context.Context, session *domain.Session, res *domain.StepResult) error {
	switch res.Outcome {
	case domain.OutcomeTransferred, domain.OutcomeEnded:
		return nil
	}
	if err := e.sessions.Save(ctx, session); err != nil {
		return err
	}
	if res.Outcome == domain.OutcomeDelayed && e.wakes != nil && session.WakeAt != nil {
		e.wakes.Schedule(session.Key.String(), *session.WakeAt)
	}
	return nil
}

// consume resuelve la entrada contra el nodo actual y devuelve el handle de
// salida. Handle vacío significa que el paso se queda aquí (res ya dice cómo).
func (e *Engine) consume(ctx context.Context, conv *crmDomain.Conversation, session *domain.Session, flow *domain.FlowDefinition, node *domain.Node, input domain.Input, res *domain.StepResult) (string, error) {
	// Timer vencido: delay cumplido o timeout de webhook_in
	if input.Kind == domain.InputTimer {
		session.WakeAt = nil
		session.WakeInterruptible = false
		if node.Type == domain.NodeWebhookIn {
			session.Awaiting = domain.AwaitNone
			return domain.HandleError, nil
		}
		return domain.HandleDefault, nil
	}

	// Sesión suspendida en un delay
	if node.Type == domain.NodeDelay && session.WakeAt != nil {
		if !session.WakeInterruptible {
			// La entrada ya quedó registrada en la conversación; la espera sigue
			res.Outcome = domain.OutcomeDelayed
			return "", nil
		}
		session.WakeAt = nil
		session.WakeInterruptible = false
		if e.wakes != nil {
			e.wakes.Cancel(session.Key.String())
		}
		return domain.HandleDefault, nil
	}

	switch node.Type {
	case domain.NodeWebhookIn:
		if input.Kind != domain.InputWebhook {
			res.Outcome = domain.OutcomeParked
			return "", nil
		}
		for k, v := range input.Payload {
			session.SetVar(k, v)
		}
		session.Awaiting = domain.AwaitNone
		session.WakeAt = nil
		return domain.HandleDefault, nil

	case domain.NodeButtons:
		var d domain.ButtonsData
		if err := node.DecodeData(&d); err != nil {
			return "", err
		}
		if idx, ok := matchOption(d.Options, input); ok {
			session.Awaiting = domain.AwaitNone
			session.RetryCount = 0
			return domain.HandleOption(idx), nil
		}
		// Respuesta que no calza con ninguna opción: se reofrece el mensaje
		return e.exec(ctx, conv, session, flow, node, res)

	case domain.NodeMenu:
		var d domain.MenuData
		if err := node.DecodeData(&d); err != nil {
			return "", err
		}
		if idx, ok := matchMenuOption(&d, input); ok {
			session.Awaiting = domain.AwaitNone
			session.RetryCount = 0
			return domain.HandleOption(idx), nil
		}
		session.RetryCount++
		if d.MaxRetries > 0 && session.RetryCount > d.MaxRetries {
			session.Awaiting = domain.AwaitNone
			session.RetryCount = 0
			return domain.HandleError, nil
		}
		if d.RetryMessage != "" {
			if _, err := e.sender.SendText(ctx, conv, d.RetryMessage, crmDomain.AssignedToBot); err != nil {
				return "", err
			}
			res.MessagesSent++
			res.Outcome = domain.OutcomeWaiting
			return "", nil
		}
		return e.exec(ctx, conv, session, flow, node, res)

	case domain.NodeQuestion:
		var d domain.QuestionData
		if err := node.DecodeData(&d); err != nil {
			return "", err
		}
		answer := strings.TrimSpace(input.Text)
		if d.InputType == "media" {
			if input.Kind != domain.InputMedia {
				return e.retryQuestion(ctx, conv, session, &d, res)
			}
			answer = input.MediaURL
		}
		if d.Validation != nil {
			ok, err := EvaluateValidation(d.Validation, answer, session.Variables)
			if err != nil {
				return "", err
			}
			if !ok {
				return e.retryQuestion(ctx, conv, session, &d, res)
			}
		}
		session.SetVar(d.VarName, answer)
		session.Awaiting = domain.AwaitNone
		session.RetryCount = 0
		return questionSuccessHandle(flow, node.ID), nil

	case domain.NodeAgent:
		return e.runAgent(ctx, conv, session, node, input.Text, res)

	case domain.NodeStart:
		// Sesión recién abierta: el start se ejecuta con la entrada que la creó
		return e.exec(ctx, conv, session, flow, node, res)

	default:
		// El nodo actual no espera entrada (estado inconsistente); se reejecuta
		logrus.Warnf("[FLOW] Input at non-waiting node %s (%s) on conversation %s", node.ID, node.Type, conv.ID)
		return e.exec(ctx, conv, session, flow, node, res)
	}
}

// retryQuestion maneja el fallo de validación de un question: reintenta con
// retry_message hasta max_retries y luego sale por out:error.
func (e *Engine) retryQuestion(ctx context.Context, conv *crmDomain.Conversation, session *domain.Session, d *domain.QuestionData, res *domain.StepResult) (string, error) {
	session.RetryCount++
	if d.MaxRetries > 0 && session.RetryCount > d.MaxRetries {
		session.Awaiting = domain.AwaitNone
		session.RetryCount = 0
		return domain.HandleError, nil
	}
	retry := d.RetryMessage
	if retry == "" {
		retry = d.Prompt
	}
	if _, err := e.sender.SendText(ctx, conv, e.substitute(ctx, conv, session, retry), crmDomain.AssignedToBot); err != nil {
		return "", err
	}
	res.MessagesSent++
	res.Outcome = domain.OutcomeWaiting
	return "", nil
}

// questionSuccessHandle prefiere out:default y acepta out:match como alias
// cuando el autor cableó la pregunta con semántica de validación.
func questionSuccessHandle(flow *domain.FlowDefinition, nodeID string) string {
	if _, ok := flow.Next(nodeID, domain.HandleDefault); ok {
		return domain.HandleDefault
	}
	return domain.HandleMatch
}

// exec ejecuta la acción de un nodo al entrar en él.
func (e *Engine) exec(ctx context.Context, conv *crmDomain.Conversation, session *domain.Session, flow *domain.FlowDefinition, node *domain.Node, res *domain.StepResult) (string, error) {
	switch node.Type {
	case domain.NodeStart:
		return domain.HandleDefault, nil

	case domain.NodeMessage:
		var d domain.MessageData
		if err := node.DecodeData(&d); err != nil {
			return "", err
		}
		if _, err := e.sender.SendText(ctx, conv, e.substitute(ctx, conv, session, d.Text), crmDomain.AssignedToBot); err != nil {
			return "", err
		}
		res.MessagesSent++
		return domain.HandleDefault, nil

	case domain.NodeButtons:
		var d domain.ButtonsData
		if err := node.DecodeData(&d); err != nil {
			return "", err
		}
		if _, err := e.sender.SendButtons(ctx, conv, e.substitute(ctx, conv, session, d.Text), outboundOptions(d.Options), crmDomain.AssignedToBot); err != nil {
			return "", err
		}
		res.MessagesSent++
		session.Awaiting = domain.AwaitButtons
		res.Outcome = domain.OutcomeWaiting
		return "", nil

	case domain.NodeQuestion:
		var d domain.QuestionData
		if err := node.DecodeData(&d); err != nil {
			return "", err
		}
		if _, err := e.sender.SendText(ctx, conv, e.substitute(ctx, conv, session, d.Prompt), crmDomain.AssignedToBot); err != nil {
			return "", err
		}
		res.MessagesSent++
		session.RetryCount = 0
		if d.InputType == "media" {
			session.Awaiting = domain.AwaitMedia
		} else {
			session.Awaiting = domain.AwaitText
		}
		res.Outcome = domain.OutcomeWaiting
		return "", nil

	case domain.NodeValidation:
		var d domain.ValidationData
		if err := node.DecodeData(&d); err != nil {
			return "", err
		}
		ok, err := EvaluateValidation(&d, session.Variables[varUserMessage], session.Variables)
		if err != nil {
			return "", err
		}
		if ok {
			return domain.HandleMatch, nil
		}
		return domain.HandleNoMatch, nil

	case domain.NodeCondition:
		var d domain.ConditionData
		if err := node.DecodeData(&d); err != nil {
			return "", err
		}
		ok, err := e.evalCondition(ctx, conv, session, &d)
		if err != nil {
			return "", err
		}
		if ok {
			return domain.HandleDefault, nil
		}
		return domain.HandleNoMatch, nil

	case domain.NodeMenu:
		var d domain.MenuData
		if err := node.DecodeData(&d); err != nil {
			return "", err
		}
		text := e.substitute(ctx, conv, session, d.Text)
		if d.Mode == "text" {
			var b strings.Builder
			b.WriteString(text)
			for i, opt := range d.Options {
				b.WriteString(fmt.Sprintf("\n%d. %s", i+1, opt.Label))
			}
			if _, err := e.sender.SendText(ctx, conv, b.String(), crmDomain.AssignedToBot); err != nil {
				return "", err
			}
		} else {
			if _, err := e.sender.SendButtons(ctx, conv, text, outboundOptions(d.Options), crmDomain.AssignedToBot); err != nil {
				return "", err
			}
		}
		res.MessagesSent++
		session.Awaiting = domain.AwaitChoice
		res.Outcome = domain.OutcomeWaiting
		return "", nil

	case domain.NodeAttachment:
		var d domain.AttachmentData
		if err := node.DecodeData(&d); err != nil {
			return "", err
		}
		urlOrID := d.URL
		if urlOrID == "" {
			urlOrID = d.MediaID
		}
		if _, err := e.sender.SendMedia(ctx, conv, d.MediaType, urlOrID, e.substitute(ctx, conv, session, d.Caption), d.Filename, crmDomain.AssignedToBot); err != nil {
			return "", err
		}
		res.MessagesSent++
		return domain.HandleDefault, nil

	case domain.NodeDelay:
		var d domain.DelayData
		if err := node.DecodeData(&d); err != nil {
			return "", err
		}
		wake := time.Now().UTC().Add(time.Duration(d.Seconds) * time.Second)
		session.WakeAt = &wake
		session.WakeInterruptible = d.Interruptible
		session.Awaiting = domain.AwaitNone
		res.Outcome = domain.OutcomeDelayed
		return "", nil

	case domain.NodeScheduler:
		var d domain.SchedulerData
		if err := node.DecodeData(&d); err != nil {
			return "", err
		}
		open, err := e.inHours(ctx, &d)
		if err != nil {
			return "", err
		}
		if open {
			return domain.HandleInHours, nil
		}
		return domain.HandleOutOfHours, nil

	case domain.NodeWebhookOut:
		var d domain.WebhookOutData
		if err := node.DecodeData(&d); err != nil {
			return "", err
		}
		body := e.substitute(ctx, conv, session, d.Body)
		resp, err := e.webhooks.Call(ctx, &d, body)
		if err != nil {
			logrus.WithError(err).Warnf("[FLOW] Webhook node %s failed on conversation %s", node.ID, conv.ID)
			return domain.HandleError, nil
		}
		if d.ResponseVar != "" {
			if raw, err := json.Marshal(resp); err == nil {
				session.SetVar(d.ResponseVar, string(raw))
			}
		}
		for varName, field := range d.Extract {
			if v, ok := resp[field]; ok {
				session.SetVar(varName, stringify(v))
			}
		}
		return domain.HandleSuccess, nil

	case domain.NodeWebhookIn:
		var d domain.WebhookInData
		if node.Action != nil && len(node.Action.Data) > 0 {
			if err := node.DecodeData(&d); err != nil {
				return "", err
			}
		}
		session.Awaiting = domain.AwaitWebhook
		if d.TimeoutSeconds > 0 {
			wake := time.Now().UTC().Add(time.Duration(d.TimeoutSeconds) * time.Second)
			session.WakeAt = &wake
			session.WakeInterruptible = false
			if e.wakes != nil {
				e.wakes.Schedule(session.Key.String(), wake)
			}
		}
		res.Outcome = domain.OutcomeParked
		return "", nil

	case domain.NodeTransfer:
		var d domain.TransferData
		if err := node.DecodeData(&d); err != nil {
			return "", err
		}
		return "", e.transfer(ctx, conv, session, &d, res)

	case domain.NodeAgent:
		var d domain.AgentData
		if node.Action != nil && len(node.Action.Data) > 0 {
			if err := node.DecodeData(&d); err != nil {
				return "", err
			}
		}
		return e.runAgent(ctx, conv, session, node, session.Variables[varUserMessage], res)

	case domain.NodeEnd:
		var d domain.EndData
		if node.Action != nil && len(node.Action.Data) > 0 {
			if err := node.DecodeData(&d); err != nil {
				return "", err
			}
		}
		if d.Farewell != "" {
			if _, err := e.sender.SendText(ctx, conv, e.substitute(ctx, conv, session, d.Farewell), crmDomain.AssignedToBot); err != nil {
				logrus.WithError(err).Warnf("[FLOW] Farewell send failed on conversation %s", conv.ID)
			} else {
				res.MessagesSent++
			}
		}
		if err := e.deleteSession(ctx, session); err != nil {
			return "", err
		}
		if d.CloseConversation {
			if _, err := e.store.Close(ctx, conv.ID, crmDomain.AssignedToBot); err != nil {
				return "", err
			}
		} else {
			if err := e.store.ReleaseBot(ctx, conv); err != nil {
				return "", err
			}
		}
		res.Outcome = domain.OutcomeEnded
		return "", nil

	default:
		return "", fmt.Errorf("node %s has unknown type %s", node.ID, node.Type)
	}
}

// transfer entrega la conversación a una cola o a un asesor y borra la sesión.
// Es el punto de handoff: después de esto ningún nodo más se ejecuta.
func (e *Engine) transfer(ctx context.Context, conv *crmDomain.Conversation, session *domain.Session, d *domain.TransferData, res *domain.StepResult) error {
	if err := e.deleteSession(ctx, session); err != nil {
		return err
	}

	if d.AdvisorID != "" {
		if _, err := e.store.TransferToAdvisor(ctx, conv.ID, crmDomain.AssignedToBot, d.AdvisorID); err != nil {
			return err
		}
		res.Outcome = domain.OutcomeTransferred
		return nil
	}

	note := "📨 Chat transferido a la cola " + e.queueName(ctx, d.QueueID)
	if d.Reason != "" {
		note += " (" + d.Reason + ")"
	}
	if _, err := e.store.TransferToQueue(ctx, conv.ID, crmDomain.AssignedToBot, d.QueueID, note); err != nil {
		return err
	}
	if e.dispatcher != nil {
		e.dispatcher.Notify(crmDomain.TriggerChatQueued, d.QueueID)
	}
	res.Outcome = domain.OutcomeTransferred
	return nil
}

func (e *Engine) queueName(ctx context.Context, queueID string) string {
	if q, err := e.queues.GetByID(ctx, queueID); err == nil && q.Name != "" {
		return q.Name
	}
	return queueID
}

// runAgent delega el turno al runtime de herramientas y traduce su desenlace.
func (e *Engine) runAgent(ctx context.Context, conv *crmDomain.Conversation, session *domain.Session, node *domain.Node, userText string, res *domain.StepResult) (string, error) {
	if e.agent == nil {
		return "", fmt.Errorf("node %s needs an agent runtime and none is configured", node.ID)
	}
	var d domain.AgentData
	if node.Action != nil && len(node.Action.Data) > 0 {
		if err := node.DecodeData(&d); err != nil {
			return "", err
		}
	}

	outcome, err := e.agent.RunTurn(ctx, conv, session, d, userText)
	if err != nil {
		return "", err
	}
	switch outcome {
	case AgentTransferred:
		if err := e.deleteSession(ctx, session); err != nil {
			return "", err
		}
		res.Outcome = domain.OutcomeTransferred
		return "", nil
	case AgentEnded:
		return domain.HandleDefault, nil
	default:
		session.Awaiting = domain.AwaitText
		res.Outcome = domain.OutcomeWaiting
		return "", nil
	}
}

// routeError convierte un fallo de nodo en node_error: sale por out:error si
// existe; si no, la conversación cae a la cola de respaldo del flujo.
func (e *Engine) routeError(ctx context.Context, conv *crmDomain.Conversation, session *domain.Session, flow *domain.FlowDefinition, node *domain.Node, res *domain.StepResult, cause error) string {
	logrus.WithError(cause).Errorf("[FLOW] Node %s failed on conversation %s", node.ID, conv.ID)

	if _, ok := flow.Next(node.ID, domain.HandleError); ok {
		session.Awaiting = domain.AwaitNone
		return domain.HandleError
	}

	if err := e.fallback(ctx, conv, session, flow, res); err != nil {
		logrus.WithError(err).Errorf("[FLOW] Fallback failed on conversation %s", conv.ID)
	}
	return ""
}

// fallback saca la conversación del bot tras un error sin ruta: cola de
// respaldo si el flujo la define, si no queda libre sin cola.
func (e *Engine) fallback(ctx context.Context, conv *crmDomain.Conversation, session *domain.Session, flow *domain.FlowDefinition, res *domain.StepResult) error {
	if err := e.deleteSession(ctx, session); err != nil {
		return err
	}
	if flow.FallbackQueueID == "" {
		res.Outcome = domain.OutcomeEnded
		return e.store.ReleaseBot(ctx, conv)
	}
	if _, err := e.store.TransferToQueue(ctx, conv.ID, crmDomain.AssignedToBot, flow.FallbackQueueID,
		"⚠️ El bot encontró un problema; un asesor continuará la conversación"); err != nil {
		return err
	}
	if e.dispatcher != nil {
		e.dispatcher.Notify(crmDomain.TriggerChatQueued, flow.FallbackQueueID)
	}
	res.Outcome = domain.OutcomeTransferred
	return nil
}

// finishFlow cierra la sesión cuando el grafo no tiene más aristas que seguir.
func (e *Engine) finishFlow(ctx context.Context, conv *crmDomain.Conversation, session *domain.Session, res *domain.StepResult) error {
	switch res.Outcome {
	case domain.OutcomeTransferred, domain.OutcomeEnded:
		return nil
	}
	if err := e.deleteSession(ctx, session); err != nil {
		return err
	}
	res.Outcome = domain.OutcomeEnded
	return e.store.ReleaseBot(ctx, conv)
}

func (e *Engine) deleteSession(ctx context.Context, session *domain.Session) error {
	if e.wakes != nil {
		e.wakes.Cancel(session.Key.String())
	}
	return e.sessions.Delete(ctx, session.Key)
}

// evalCondition evalúa las reglas de un nodo condition combinadas all/any.
func (e *Engine) evalCondition(ctx context.Context, conv *crmDomain.Conversation, session *domain.Session, d *domain.ConditionData) (bool, error) {
	var contact *bitrix.Contact
	needsCRM := false
	for _, r := range d.Rules {
		if r.Source == "crm_field" {
			needsCRM = true
			break
		}
	}
	if needsCRM {
		contact = e.contact(ctx, conv)
	}

	for _, rule := range d.Rules {
		hit, err := evalRule(&rule, session, contact)
		if err != nil {
			return false, err
		}
		if d.Combine == "any" && hit {
			return true, nil
		}
		if d.Combine == "all" && !hit {
			return false, nil
		}
	}
	return d.Combine == "all", nil
}

func evalRule(rule *domain.ConditionRule, session *domain.Session, contact *bitrix.Contact) (bool, error) {
	var value string
	switch rule.Source {
	case "user_message":
		value = session.Variables[varUserMessage]
	case "variable":
		value = session.Variables[rule.Field]
	case "keyword":
		folded := strings.ToLower(session.Variables[varUserMessage])
		return strings.Contains(folded, strings.ToLower(rule.Value)), nil
	case "crm_field":
		if contact == nil {
			return false, nil
		}
		switch strings.ToUpper(rule.Field) {
		case "NAME":
			value = contact.Name
		case "PHONE":
			value = contact.Phone
		default:
			value = contact.Fields[strings.ToUpper(rule.Field)]
		}
	default:
		return false, fmt.Errorf("unknown condition source %q", rule.Source)
	}

	switch rule.Op {
	case "equals":
		return strings.EqualFold(strings.TrimSpace(value), strings.TrimSpace(rule.Value)), nil
	case "contains":
		return strings.Contains(strings.ToLower(value), strings.ToLower(rule.Value)), nil
	case "not_empty":
		return strings.TrimSpace(value) != "", nil
	default:
		return false, fmt.Errorf("unknown condition op %q", rule.Op)
	}
}

// defaultBusinessHours aplica a los scheduler con fuente CRM, que no exponen
// horario propio: L-V 09:00-18:00, sábado 09:00-13:00 en la zona de negocio.
var defaultBusinessHours = timeutils.WeeklySchedule{
	1: {Open: "09:00", Close: "18:00"},
	2: {Open: "09:00", Close: "18:00"},
	3: {Open: "09:00", Close: "18:00"},
	4: {Open: "09:00", Close: "18:00"},
	5: {Open: "09:00", Close: "18:00"},
	6: {Open: "09:00", Close: "13:00"},
}

func (e *Engine) inHours(ctx context.Context, d *domain.SchedulerData) (bool, error) {
	if d.Source == "crm" {
		return defaultBusinessHours.IsOpenAt(time.Now()), nil
	}
	q, err := e.queues.GetByID(ctx, d.QueueID)
	if err != nil {
		return false, err
	}
	if len(q.Schedule) == 0 {
		// Cola sin horario definido: siempre abierta
		return true, nil
	}
	return q.Schedule.IsOpenAt(time.Now()), nil
}

// contact busca el contacto del CRM por teléfono; nil cuando no hay adaptador
// o el CRM no responde (las escrituras y lecturas CRM son best-effort).
func (e *Engine) contact(ctx context.Context, conv *crmDomain.Conversation) *bitrix.Contact {
	if e.crm == nil {
		return nil
	}
	c, err := e.crm.FindContactByPhone(ctx, conv.RemotePhone)
	if err != nil {
		logrus.WithError(err).Debugf("[FLOW] CRM lookup failed for %s", conv.RemotePhone)
		return nil
	}
	return c
}

// substitute materializa tokens; el contacto solo se consulta si el texto usa
// tokens de entidad.
func (e *Engine) substitute(ctx context.Context, conv *crmDomain.Conversation, session *domain.Session, text string) string {
	var contact *bitrix.Contact
	if strings.Contains(text, "{{entity:") {
		contact = e.contact(ctx, conv)
	}
	return Substitute(text, session.Variables, contact)
}

func outboundOptions(opts []domain.Option) []whatsapp.OutboundOption {
	out := make([]whatsapp.OutboundOption, len(opts))
	for i, o := range opts {
		out[i] = whatsapp.OutboundOption{ID: o.ID, Label: o.Label}
	}
	return out
}

// matchOption calza la respuesta contra las opciones: por id del botón o por
// texto igual a la etiqueta (contactos que escriben en vez de tocar).
func matchOption(opts []domain.Option, input domain.Input) (int, bool) {
	for i, o := range opts {
		if input.ButtonID != "" && input.ButtonID == o.ID {
			return i, true
		}
	}
	text := strings.TrimSpace(input.Text)
	if text == "" {
		return 0, false
	}
	for i, o := range opts {
		if strings.EqualFold(text, o.Label) {
			return i, true
		}
	}
	return 0, false
}

// matchMenuOption acepta además el dígito 1..n de los menús.
func matchMenuOption(d *domain.MenuData, input domain.Input) (int, bool) {
	if idx, ok := matchOption(d.Options, input); ok {
		return idx, true
	}
	if n, err := strconv.Atoi(strings.TrimSpace(input.Text)); err == nil {
		if n >= 1 && n <= len(d.Options) {
			return n - 1, true
		}
	}
	return 0, false
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		raw, _ := json.Marshal(t)
		return string(raw)
	}
}
