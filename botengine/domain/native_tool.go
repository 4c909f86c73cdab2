package domain

import (
	"context"

	crmDomain "github.com/CYM-Peru/Bot-AI-V1-sub006/crm/domain"
	flowDomain "github.com/CYM-Peru/Bot-AI-V1-sub006/flowengine/domain"
)

// Claves y valores de control que las herramientas devuelven en su resultado.
// El orquestador las lee para decidir el desenlace del turno; nunca llegan
// al cliente final.
const (
	ActionKey      = "action"
	ActionTransfer = "transfer_to_queue"
	ActionEnd      = "end_conversation"
)

// ToolContext es el contexto de conversación que recibe cada herramienta.
type ToolContext struct {
	Conversation *crmDomain.Conversation
	Session      *flowDomain.Session
	// KnowledgeCategory es la categoría por defecto del nodo agent, usada
	// cuando el modelo no pasa una propia.
	KnowledgeCategory string
}

// NativeTool es una herramienta ejecutada en proceso: definición anunciada
// al modelo más el handler que la resuelve.
type NativeTool struct {
	Tool
	Handler func(ctx context.Context, tc ToolContext, args map[string]any) (map[string]any, error)
}
