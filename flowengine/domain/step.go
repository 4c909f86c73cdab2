package domain

// InputKind classifies the event that wakes a session.
type InputKind string

const (
	InputText    InputKind = "text"
	InputButton  InputKind = "button"
	InputMedia   InputKind = "media"
	InputTimer   InputKind = "timer"   // delay expired
	InputWebhook InputKind = "webhook" // webhook_in correlation arrived
	InputStart   InputKind = "start"   // first contact, no prior session
)

// Input is the engine-facing view of one inbound event. The inbound
// pipeline builds it from the wire codec's canonical event.
type Input struct {
	Kind      InputKind         `json:"kind"`
	Text      string            `json:"text,omitempty"`
	ButtonID  string            `json:"button_id,omitempty"`
	MediaURL  string            `json:"media_url,omitempty"`
	MediaType string            `json:"media_type,omitempty"`
	Payload   map[string]string `json:"payload,omitempty"` // webhook_in body fields
}

// StepOutcome is the terminal disposition of one macro-step.
type StepOutcome string

const (
	// OutcomeWaiting: the session stopped at a node that needs user input.
	OutcomeWaiting StepOutcome = "waiting"
	// OutcomeDelayed: a delay node persisted a wake-at timer and suspended.
	OutcomeDelayed StepOutcome = "delayed"
	// OutcomeParked: a webhook_in node parked the session.
	OutcomeParked StepOutcome = "parked"
	// OutcomeTransferred: the conversation was handed to a queue or advisor;
	// the session is gone.
	OutcomeTransferred StepOutcome = "transferred"
	// OutcomeEnded: an end node terminated the session.
	OutcomeEnded StepOutcome = "ended"
)

// StepResult reports what a macro-step did.
type StepResult struct {
	Outcome      StepOutcome `json:"outcome"`
	NodesVisited []string    `json:"nodes_visited"`
	MessagesSent int         `json:"messages_sent"`
}
