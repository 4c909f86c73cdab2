package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

type NodeType string

const (
	NodeStart      NodeType = "start"
	NodeMessage    NodeType = "message"
	NodeButtons    NodeType = "buttons"
	NodeQuestion   NodeType = "question"
	NodeValidation NodeType = "validation"
	NodeCondition  NodeType = "condition"
	NodeMenu       NodeType = "menu"
	NodeAttachment NodeType = "attachment"
	NodeDelay      NodeType = "delay"
	NodeScheduler  NodeType = "scheduler"
	NodeWebhookOut NodeType = "webhook_out"
	NodeWebhookIn  NodeType = "webhook_in"
	NodeTransfer   NodeType = "transfer"
	NodeAgent      NodeType = "agent"
	NodeEnd        NodeType = "end"
)

// Symbolic edge handles. Every edge leaves its source node through one of
// these; option handles are generated per button/menu option.
const (
	HandleDefault    = "out:default"
	HandleMatch      = "out:match"
	HandleNoMatch    = "out:no_match"
	HandleError      = "out:error"
	HandleSuccess    = "out:success"
	HandleInHours    = "out:in_hours"
	HandleOutOfHours = "out:out_of_hours"
)

// HandleOption returns the handle for the nth option of a buttons/menu node.
func HandleOption(n int) string {
	return fmt.Sprintf("out:option:%d", n)
}

type NodeAction struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

type Node struct {
	ID           string      `json:"id"`
	Type         NodeType    `json:"type"`
	Label        string      `json:"label,omitempty"`
	Action       *NodeAction `json:"action,omitempty"`
	DelaySeconds int         `json:"delay_seconds,omitempty"`
}

// DecodeData unmarshals the node's action payload into the typed struct for
// its node type. Unknown fields are rejected so a malformed flow fails at
// load time, not mid-conversation.
func (n *Node) DecodeData(v interface{}) error {
	if n.Action == nil || len(n.Action.Data) == 0 {
		return fmt.Errorf("node %s (%s) has no action data", n.ID, n.Type)
	}
	dec := json.NewDecoder(bytes.NewReader(n.Action.Data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("node %s (%s): %w", n.ID, n.Type, err)
	}
	return nil
}

type Edge struct {
	FromNode   string `json:"from_node"`
	FromHandle string `json:"from_handle"`
	ToNode     string `json:"to_node"`
}

// FlowDefinition is a validated conversational graph. BotTimeoutMinutes and
// FallbackQueueID drive the bot-timeout scheduler and error handoff.
type FlowDefinition struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Version           int       `json:"version"`
	Nodes             []Node    `json:"nodes"`
	Edges             []Edge    `json:"edges"`
	BotTimeoutMinutes int       `json:"bot_timeout_minutes"`
	FallbackQueueID   string    `json:"fallback_queue_id"`
	IsDefault         bool      `json:"is_default"`
	AllowUnreachable  bool      `json:"allow_unreachable,omitempty"`
	Enabled           bool      `json:"enabled"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (f *FlowDefinition) NodeByID(id string) (*Node, bool) {
	for i := range f.Nodes {
		if f.Nodes[i].ID == id {
			return &f.Nodes[i], true
		}
	}
	return nil, false
}

// Start returns the unique start node. Validation guarantees exactly one
// exists on loaded flows.
func (f *FlowDefinition) Start() (*Node, error) {
	var found *Node
	for i := range f.Nodes {
		if f.Nodes[i].Type == NodeStart {
			if found != nil {
				return nil, fmt.Errorf("flow %s has more than one start node", f.ID)
			}
			found = &f.Nodes[i]
		}
	}
	if found == nil {
		return nil, fmt.Errorf("flow %s has no start node", f.ID)
	}
	return found, nil
}

// Next resolves the edge leaving fromNode through handle.
func (f *FlowDefinition) Next(fromNode, handle string) (string, bool) {
	for _, e := range f.Edges {
		if e.FromNode == fromNode && e.FromHandle == handle {
			return e.ToNode, true
		}
	}
	return "", false
}

// HandlesFrom lists the handles that have outgoing edges from a node.
func (f *FlowDefinition) HandlesFrom(nodeID string) []string {
	var out []string
	for _, e := range f.Edges {
		if e.FromNode == nodeID {
			out = append(out, e.FromHandle)
		}
	}
	return out
}
