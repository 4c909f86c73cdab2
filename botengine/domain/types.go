package domain

// Roles de los turnos del historial agnóstico.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ToolCall es una invocación de herramienta pedida por el modelo.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// ToolResponse es el resultado de una herramienta, de vuelta al modelo.
type ToolResponse struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Data map[string]any `json:"data,omitempty"`
}

// ChatTurn es un turno del historial en formato neutral. Cada proveedor lo
// traduce a su propio esquema de mensajes. RawContent guarda el bloque nativo
// del proveedor para reinyectarlo sin pérdida dentro del mismo turno de
// orquestación; no se persiste entre mensajes del cliente.
type ChatTurn struct {
	Role          string         `json:"role"`
	Text          string         `json:"text,omitempty"`
	ToolCalls     []ToolCall     `json:"tool_calls,omitempty"`
	ToolResponses []ToolResponse `json:"tool_responses,omitempty"`
	RawContent    interface{}    `json:"-"`
}

// Tool es la definición que se anuncia al modelo. Parameters es un JSON
// Schema en forma de mapa.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ChatRequest es la petición neutral de un turno de chat.
type ChatRequest struct {
	Model        string
	SystemPrompt string
	History      []ChatTurn
	Tools        []Tool
	MaxTokens    int
}

// UsageStats acumula consumo y costo estimado de una o varias llamadas.
type UsageStats struct {
	InputTokens  int
	OutputTokens int
	CostUSD      float64
}

// Add suma otro consumo sobre el acumulado.
func (u *UsageStats) Add(other UsageStats) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CostUSD += other.CostUSD
}

// ChatResponse es la respuesta neutral de un proveedor.
type ChatResponse struct {
	Text       string
	ToolCalls  []ToolCall
	RawContent interface{}
	Usage      UsageStats
}
