package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleFlow() FlowDefinition {
	return FlowDefinition{
		ID: "flow1",
		Nodes: []Node{
			{ID: "n1", Type: NodeStart},
			{ID: "n2", Type: NodeMessage, Action: &NodeAction{
				Kind: "send_message",
				Data: json.RawMessage(`{"text":"Hola {{contact_name}}"}`),
			}},
			{ID: "n3", Type: NodeButtons, Action: &NodeAction{
				Kind: "send_buttons",
				Data: json.RawMessage(`{"text":"¿En qué te ayudo?","options":[{"id":"ventas","label":"Ventas"},{"id":"soporte","label":"Soporte"}]}`),
			}},
		},
		Edges: []Edge{
			{FromNode: "n1", FromHandle: HandleDefault, ToNode: "n2"},
			{FromNode: "n2", FromHandle: HandleDefault, ToNode: "n3"},
			{FromNode: "n3", FromHandle: HandleOption(0), ToNode: "n2"},
		},
	}
}

func TestFlow_StartNode(t *testing.T) {
	f := sampleFlow()
	start, err := f.Start()
	require.NoError(t, err)
	assert.Equal(t, "n1", start.ID)

	// Dos nodos start es un grafo inválido
	f.Nodes = append(f.Nodes, Node{ID: "n9", Type: NodeStart})
	_, err = f.Start()
	assert.Error(t, err)

	// Ninguno tampoco
	f.Nodes = f.Nodes[1 : len(f.Nodes)-1]
	_, err = f.Start()
	assert.Error(t, err)
}

func TestFlow_NextResolvesHandles(t *testing.T) {
	f := sampleFlow()

	next, ok := f.Next("n1", HandleDefault)
	require.True(t, ok)
	assert.Equal(t, "n2", next)

	next, ok = f.Next("n3", HandleOption(0))
	require.True(t, ok)
	assert.Equal(t, "n2", next)

	_, ok = f.Next("n3", HandleOption(1))
	assert.False(t, ok, "opción sin arista no debe resolver")

	_, ok = f.Next("nx", HandleDefault)
	assert.False(t, ok)
}

func TestNode_DecodeData_Strict(t *testing.T) {
	f := sampleFlow()
	n2, _ := f.NodeByID("n2")

	var msg MessageData
	require.NoError(t, n2.DecodeData(&msg))
	assert.Equal(t, "Hola {{contact_name}}", msg.Text)

	// Campos desconocidos se rechazan al cargar, no en plena conversación
	bad := Node{ID: "x", Type: NodeMessage, Action: &NodeAction{
		Kind: "send_message",
		Data: json.RawMessage(`{"text":"hola","typo_field":true}`),
	}}
	assert.Error(t, bad.DecodeData(&msg))

	// Sin data también es error
	empty := Node{ID: "y", Type: NodeMessage}
	assert.Error(t, empty.DecodeData(&msg))
}

func TestNode_DecodeValidationData(t *testing.T) {
	n := Node{ID: "v1", Type: NodeValidation, Action: &NodeAction{
		Kind: "validate_input",
		Data: json.RawMessage(`{"mode":"keywords","combine":"or","keywords":[{"mode":"contains","terms":["precio","costo"]},{"mode":"exact","terms":["si"]}]}`),
	}}

	var v ValidationData
	require.NoError(t, n.DecodeData(&v))
	assert.Equal(t, "keywords", v.Mode)
	assert.Len(t, v.Keywords, 2)
	assert.Equal(t, []string{"precio", "costo"}, v.Keywords[0].Terms)
}

func TestActionKindFor(t *testing.T) {
	assert.Equal(t, "send_message", ActionKindFor(NodeMessage))
	assert.Equal(t, "wait", ActionKindFor(NodeDelay))
	assert.Equal(t, "run_agent", ActionKindFor(NodeAgent))
	assert.Equal(t, "", ActionKindFor(NodeStart))
}
