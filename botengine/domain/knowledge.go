package domain

import (
	"context"
	"time"
)

// KnowledgeChunk es un fragmento indexado de la base de conocimiento.
type KnowledgeChunk struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Category  string    `json:"category"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"embedding"`
	CreatedAt time.Time `json:"created_at"`
}

// RagUsage registra una consulta del agente contra la base de conocimiento.
type RagUsage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Query          string    `json:"query"`
	Category       string    `json:"category"`
	ChunksUsed     int       `json:"chunks_used"`
	CostUSD        float64   `json:"cost_usd"`
	Found          bool      `json:"found"`
	CreatedAt      time.Time `json:"created_at"`
}

// SearchResult es lo que el buscador entrega a la herramienta del agente.
type SearchResult struct {
	Found      bool
	Answer     string
	ChunksUsed int
	CostUSD    float64
}

// IKnowledgeRepository persiste los fragmentos indexados y la bitácora de
// consultas RAG.
type IKnowledgeRepository interface {
	Init(ctx context.Context) error

	// ReplaceSource reemplaza de forma atómica todos los fragmentos de un
	// documento fuente por la versión recién indexada.
	ReplaceSource(ctx context.Context, source string, chunks []KnowledgeChunk) error
	ListByCategory(ctx context.Context, category string) ([]KnowledgeChunk, error)
	DeleteSource(ctx context.Context, source string) error

	RecordUsage(ctx context.Context, usage *RagUsage) error
	ListUsage(ctx context.Context, since time.Time, limit int) ([]RagUsage, error)
}
