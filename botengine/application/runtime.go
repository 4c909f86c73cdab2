package application

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/CYM-Peru/Bot-AI-V1-sub006/botengine/domain"
	crmDomain "github.com/CYM-Peru/Bot-AI-V1-sub006/crm/domain"
	flowapp "github.com/CYM-Peru/Bot-AI-V1-sub006/flowengine/application"
	flowDomain "github.com/CYM-Peru/Bot-AI-V1-sub006/flowengine/domain"
	"github.com/sirupsen/logrus"
)

const (
	// Tope de herramientas por turno de cliente. Al excederlo la conversación
	// se deriva a soporte en vez de seguir quemando llamadas.
	maxToolCallsPerTurn = 8
	maxIterations       = 10
	maxHistoryTurns     = 24

	historyVar = "_agent_history"

	defaultSystemPrompt = "Eres el asistente comercial de la empresa. Atiendes por WhatsApp en español, " +
		"con respuestas breves y cordiales. Usa las herramientas disponibles para consultar la base de " +
		"conocimiento, enviar catálogos, registrar datos del cliente y derivar a un asesor humano cuando " +
		"haga falta. Nunca inventes precios ni condiciones."
)

// Runtime ejecuta los nodos agent: orquesta el ciclo modelo-herramientas y
// traduce el desenlace al contrato del motor de flujos.
type Runtime struct {
	providers       map[string]domain.ChatProvider
	defaultProvider string
	tools           []*domain.NativeTool
	byName          map[string]*domain.NativeTool
	deps            ToolDeps
}

func NewRuntime(deps ToolDeps) *Runtime {
	r := &Runtime{
		providers: make(map[string]domain.ChatProvider),
		byName:    make(map[string]*domain.NativeTool),
		deps:      deps,
	}
	for _, t := range nativeTools(deps) {
		r.RegisterTool(t)
	}
	return r
}

// RegisterProvider registra un proveedor de chat. El primero registrado queda
// como proveedor por defecto.
func (r *Runtime) RegisterProvider(name string, p domain.ChatProvider) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || p == nil {
		return
	}
	r.providers[name] = p
	if r.defaultProvider == "" {
		r.defaultProvider = name
	}
	logrus.Infof("[AGENT] Provider registered: %s", name)
}

// RegisterTool agrega o reemplaza una herramienta nativa.
func (r *Runtime) RegisterTool(t *domain.NativeTool) {
	if t == nil || t.Name == "" {
		return
	}
	if _, exists := r.byName[t.Name]; !exists {
		r.tools = append(r.tools, t)
	} else {
		for i := range r.tools {
			if r.tools[i].Name == t.Name {
				r.tools[i] = t
				break
			}
		}
	}
	r.byName[t.Name] = t
}

func (r *Runtime) provider(name string) domain.ChatProvider {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = r.defaultProvider
	}
	return r.providers[name]
}

func (r *Runtime) toolDefs() []domain.Tool {
	defs := make([]domain.Tool, len(r.tools))
	for i, t := range r.tools {
		defs[i] = t.Tool
	}
	return defs
}

// RunTurn atiende un mensaje del cliente dentro de un nodo agent. Implementa
// el contrato AgentRunner del motor de flujos.
func (r *Runtime) RunTurn(ctx context.Context, conv *crmDomain.Conversation, session *flowDomain.Session, data flowDomain.AgentData, userText string) (flowapp.AgentOutcome, error) {
	provider := r.provider(data.Provider)
	if provider == nil {
		return "", fmt.Errorf("no chat provider registered for %q", data.Provider)
	}

	systemPrompt := data.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}

	history := loadHistory(session)
	if userText != "" {
		history = append(history, domain.ChatTurn{Role: domain.RoleUser, Text: userText})
	}

	toolCtx := domain.ToolContext{
		Conversation:      conv,
		Session:           session,
		KnowledgeCategory: data.KnowledgeCategory,
	}
	req := domain.ChatRequest{
		Model:        data.Model,
		SystemPrompt: systemPrompt,
		Tools:        r.toolDefs(),
	}

	var totalUsage domain.UsageStats
	var finalText string
	ended := false
	toolBudget := 0

	for iter := 0; iter < maxIterations; iter++ {
		req.History = history
		res, err := provider.Chat(ctx, req)
		if err != nil {
			return "", err
		}
		totalUsage.Add(res.Usage)

		if len(res.ToolCalls) == 0 {
			finalText = res.Text
			history = append(history, domain.ChatTurn{Role: domain.RoleAssistant, Text: res.Text})
			break
		}

		history = append(history, domain.ChatTurn{
			Role:       domain.RoleAssistant,
			Text:       res.Text,
			ToolCalls:  res.ToolCalls,
			RawContent: res.RawContent,
		})

		toolBudget += len(res.ToolCalls)
		if toolBudget > maxToolCallsPerTurn {
			return r.forceTransfer(ctx, conv)
		}

		responses := make([]domain.ToolResponse, 0, len(res.ToolCalls))
		transferred := false
		for _, tc := range res.ToolCalls {
			result := r.execTool(ctx, toolCtx, tc)
			switch result[domain.ActionKey] {
			case domain.ActionTransfer:
				transferred = true
			case domain.ActionEnd:
				ended = true
			}
			responses = append(responses, domain.ToolResponse{ID: tc.ID, Name: tc.Name, Data: result})
		}
		if transferred {
			// La herramienta ya movió la conversación; el motor borra la sesión
			logrus.Infof("[AGENT] Conversation %s transferred by tool", conv.ID)
			return flowapp.AgentTransferred, nil
		}

		// Todas las respuestas del lote van en un solo turno user
		history = append(history, domain.ChatTurn{Role: domain.RoleUser, ToolResponses: responses})
		if ended {
			finalText = res.Text
			break
		}
	}

	if finalText != "" {
		if _, err := r.deps.Sender.SendText(ctx, conv, finalText, crmDomain.AssignedToBot); err != nil {
			return "", err
		}
	}

	saveHistory(session, history)

	logrus.WithFields(logrus.Fields{
		"conversation":  conv.ID,
		"input_tokens":  totalUsage.InputTokens,
		"output_tokens": totalUsage.OutputTokens,
		"cost_usd":      fmt.Sprintf("$%.6f", totalUsage.CostUSD),
		"tool_calls":    toolBudget,
		"ended":         ended,
	}).Debug("[AGENT] Turn completed")

	if ended {
		return flowapp.AgentEnded, nil
	}
	return flowapp.AgentContinue, nil
}

// execTool resuelve una llamada de herramienta. Un fallo interno vuelve al
// modelo como resultado de error genérico, nunca al cliente.
func (r *Runtime) execTool(ctx context.Context, tc domain.ToolContext, call domain.ToolCall) map[string]any {
	tool, ok := r.byName[call.Name]
	if !ok {
		return map[string]any{"error": fmt.Sprintf("unknown tool %q", call.Name)}
	}
	result, err := tool.Handler(ctx, tc, call.Args)
	if err != nil {
		logrus.WithError(err).Warnf("[AGENT] Tool %s failed on conversation %s", call.Name, tc.Conversation.ID)
		return map[string]any{"error": "tool execution failed"}
	}
	if result == nil {
		result = map[string]any{}
	}
	return result
}

// forceTransfer saca la conversación del agente cuando revienta el tope de
// herramientas del turno.
func (r *Runtime) forceTransfer(ctx context.Context, conv *crmDomain.Conversation) (flowapp.AgentOutcome, error) {
	queueID := r.deps.QueueMap[QueueTypeSupport]
	if queueID == "" {
		return "", fmt.Errorf("tool budget exceeded and no support queue configured")
	}
	logrus.Warnf("[AGENT] Tool budget exceeded on conversation %s, transferring to support", conv.ID)
	if _, err := r.deps.Store.TransferToQueue(ctx, conv.ID, crmDomain.AssignedToBot, queueID,
		"El asistente derivó la conversación tras exceder el límite de herramientas del turno"); err != nil {
		return "", err
	}
	if r.deps.Dispatcher != nil {
		r.deps.Dispatcher.Notify(crmDomain.TriggerChatQueued, queueID)
	}
	return flowapp.AgentTransferred, nil
}

// loadHistory recupera el historial persistido en la sesión. Solo sobreviven
// entre mensajes los turnos de texto plano; el cableado de herramientas es
// efímero dentro de cada turno.
func loadHistory(session *flowDomain.Session) []domain.ChatTurn {
	raw, ok := session.Var(historyVar)
	if !ok || raw == "" {
		return nil
	}
	var history []domain.ChatTurn
	if err := json.Unmarshal([]byte(raw), &history); err != nil {
		logrus.WithError(err).Warn("[AGENT] Corrupt agent history, starting fresh")
		return nil
	}
	return history
}

func saveHistory(session *flowDomain.Session, history []domain.ChatTurn) {
	var keep []domain.ChatTurn
	for _, t := range history {
		if t.Text != "" && len(t.ToolCalls) == 0 && len(t.ToolResponses) == 0 {
			keep = append(keep, domain.ChatTurn{Role: t.Role, Text: t.Text})
		}
	}
	if len(keep) > maxHistoryTurns {
		keep = keep[len(keep)-maxHistoryTurns:]
	}
	data, err := json.Marshal(keep)
	if err != nil {
		return
	}
	session.SetVar(historyVar, string(data))
}
