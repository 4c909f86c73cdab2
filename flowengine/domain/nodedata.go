package domain

// Typed payloads for each node kind. The catalog validates that a node's
// action.kind matches its type and that the payload decodes strictly.

// ActionKindFor maps a node type to its canonical action kind.
func ActionKindFor(t NodeType) string {
	switch t {
	case NodeMessage:
		return "send_message"
	case NodeButtons:
		return "send_buttons"
	case NodeQuestion:
		return "ask_question"
	case NodeValidation:
		return "validate_input"
	case NodeCondition:
		return "evaluate_condition"
	case NodeMenu:
		return "show_menu"
	case NodeAttachment:
		return "send_attachment"
	case NodeDelay:
		return "wait"
	case NodeScheduler:
		return "check_hours"
	case NodeWebhookOut:
		return "call_webhook"
	case NodeWebhookIn:
		return "wait_webhook"
	case NodeTransfer:
		return "transfer"
	case NodeAgent:
		return "run_agent"
	case NodeEnd:
		return "end"
	default:
		return ""
	}
}

type MessageData struct {
	Text string `json:"text"`
}

type Option struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type ButtonsData struct {
	Text    string   `json:"text"`
	Options []Option `json:"options"`
}

type QuestionData struct {
	Prompt       string          `json:"prompt"`
	VarName      string          `json:"var_name"`
	InputType    string          `json:"input_type,omitempty"` // text (default) | media
	Validation   *ValidationData `json:"validation,omitempty"`
	RetryMessage string          `json:"retry_message,omitempty"`
	MaxRetries   int             `json:"max_retries,omitempty"`
}

type KeywordGroup struct {
	Mode  string   `json:"mode"` // contains | exact
	Terms []string `json:"terms"`
}

// ValidationData selects one predicate mode; only the fields of the active
// mode are read.
type ValidationData struct {
	Mode string `json:"mode"` // keywords|format|variable|range|length|regex|options_list

	Keywords []KeywordGroup `json:"keywords,omitempty"`
	Combine  string         `json:"combine,omitempty"` // and | or (keywords mode)

	Format string `json:"format,omitempty"` // email|phone|dni|ruc

	Variable string `json:"variable,omitempty"`

	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`

	MinLength int `json:"min_length,omitempty"`
	MaxLength int `json:"max_length,omitempty"`

	Regex string `json:"regex,omitempty"`

	Options []string `json:"options,omitempty"`
}

type ConditionRule struct {
	Source string `json:"source"` // user_message|variable|keyword|crm_field
	Field  string `json:"field,omitempty"`
	Op     string `json:"op,omitempty"` // equals|contains|not_empty
	Value  string `json:"value,omitempty"`
}

type ConditionData struct {
	Rules   []ConditionRule `json:"rules"`
	Combine string          `json:"combine"` // all | any
}

type MenuData struct {
	Text         string   `json:"text"`
	Options      []Option `json:"options"`
	Mode         string   `json:"mode,omitempty"` // interactive (default) | text
	RetryMessage string   `json:"retry_message,omitempty"`
	MaxRetries   int      `json:"max_retries,omitempty"`
}

type AttachmentData struct {
	URL       string `json:"url,omitempty"`
	MediaID   string `json:"media_id,omitempty"`
	MediaType string `json:"media_type"` // image|audio|video|document
	Caption   string `json:"caption,omitempty"`
	Filename  string `json:"filename,omitempty"`
}

type DelayData struct {
	Seconds       int  `json:"seconds"`
	Interruptible bool `json:"interruptible,omitempty"`
}

type SchedulerData struct {
	Source  string `json:"source,omitempty"` // queue (default) | crm
	QueueID string `json:"queue_id,omitempty"`
}

type WebhookOutData struct {
	URL         string            `json:"url"`
	Method      string            `json:"method,omitempty"` // GET | POST (default)
	Headers     map[string]string `json:"headers,omitempty"`
	Body        string            `json:"body,omitempty"` // template, token substitution applies
	ResponseVar string            `json:"response_var,omitempty"`
	Extract     map[string]string `json:"extract,omitempty"` // var name -> top level response field
}

type WebhookInData struct {
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}

type TransferData struct {
	QueueID   string `json:"queue_id,omitempty"`
	AdvisorID string `json:"advisor_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type AgentData struct {
	Provider          string `json:"provider,omitempty"` // openai|gemini|anthropic
	Model             string `json:"model,omitempty"`
	SystemPrompt      string `json:"system_prompt,omitempty"`
	KnowledgeCategory string `json:"knowledge_category,omitempty"`
}

type EndData struct {
	CloseConversation bool   `json:"close_conversation,omitempty"`
	Farewell          string `json:"farewell,omitempty"`
}

// DelayBounds: a delay node suspends between 1 second and 4 days.
const (
	DelayMinSeconds = 1
	DelayMaxSeconds = 345_600
)
