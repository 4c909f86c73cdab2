package application

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	crmapp "github.com/CYM-Peru/Bot-AI-V1-sub006/crm/application"
	crmDomain "github.com/CYM-Peru/Bot-AI-V1-sub006/crm/domain"
	crmRepo "github.com/CYM-Peru/Bot-AI-V1-sub006/crm/repository"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/flowengine/domain"
	flowRepo "github.com/CYM-Peru/Bot-AI-V1-sub006/flowengine/repository"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/infrastructure/whatsapp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// stubCloud acusa los envíos con wamids secuenciales y registra los cuerpos.
type stubCloud struct {
	mu    sync.Mutex
	sent  []string
	calls int
}

func (c *stubCloud) ack(body string) (whatsapp.SendResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.sent = append(c.sent, body)
	return whatsapp.SendResult{ProviderMessageID: fmt.Sprintf("wamid.%d", c.calls)}, nil
}

func (c *stubCloud) SendText(_ context.Context, _ whatsapp.Credentials, _, body string) (whatsapp.SendResult, error) {
	return c.ack(body)
}

func (c *stubCloud) SendInteractive(_ context.Context, _ whatsapp.Credentials, _, body string, _ []whatsapp.OutboundOption) (whatsapp.SendResult, error) {
	return c.ack("[interactive] " + body)
}

func (c *stubCloud) SendMedia(_ context.Context, _ whatsapp.Credentials, _, _, urlOrID, _, _ string) (whatsapp.SendResult, error) {
	return c.ack("[media] " + urlOrID)
}

func (c *stubCloud) SendTemplate(_ context.Context, _ whatsapp.Credentials, _, name, _ string, _ []string) (whatsapp.SendResult, error) {
	return c.ack("[template] " + name)
}

func (c *stubCloud) bodies() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

type fixture struct {
	convs    *crmRepo.ConversationGormRepository
	queues   *crmRepo.QueueGormRepository
	advisors *crmRepo.AdvisorGormRepository
	channels *crmRepo.ChannelGormRepository
	flows    *flowRepo.FlowGormRepository
	sessions *flowRepo.SessionGormRepository

	cloud   *stubCloud
	store   *crmapp.ConversationStore
	sender  *crmapp.OutboundSender
	catalog *FlowCatalog
	engine  *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?_foreign_keys=on"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	ctx := context.Background()
	f := &fixture{
		convs:    crmRepo.NewConversationGormRepository(db),
		queues:   crmRepo.NewQueueGormRepository(db),
		advisors: crmRepo.NewAdvisorGormRepository(db),
		channels: crmRepo.NewChannelGormRepository(db),
		flows:    flowRepo.NewFlowGormRepository(db),
		sessions: flowRepo.NewSessionGormRepository(db),
		cloud:    &stubCloud{},
	}
	require.NoError(t, f.convs.Init(ctx))
	require.NoError(t, f.queues.Init(ctx))
	require.NoError(t, f.advisors.Init(ctx))
	require.NoError(t, f.channels.Init(ctx))
	require.NoError(t, f.flows.Init(ctx))
	require.NoError(t, f.sessions.Init(ctx))

	f.store = crmapp.NewConversationStore(f.convs, f.advisors, f.queues, nil, crmapp.NewConversationLocks(), nil, nil)
	f.sender = crmapp.NewOutboundSender(f.store, f.channels, f.cloud)
	f.catalog = NewFlowCatalog(f.flows)
	f.engine = NewEngine(f.catalog, f.sessions, f.convs, f.queues, f.store, f.sender, nil)
	f.store.BindSessionCloser(f.engine)
	return f
}

func (f *fixture) seedChannel(t *testing.T) crmDomain.ChannelConnection {
	t.Helper()
	ch := &crmDomain.ChannelConnection{
		Alias:                 "Principal",
		ProviderPhoneNumberID: "1055501",
		DisplayNumber:         "+51999888777",
		AccessToken:           "token-secreto",
		VerifyToken:           "verify-secreto",
		IsActive:              true,
	}
	require.NoError(t, f.channels.Create(context.Background(), ch))
	return *ch
}

func (f *fixture) seedConversation(t *testing.T, channelID string) crmDomain.Conversation {
	t.Helper()
	now := time.Now().UTC()
	conv := &crmDomain.Conversation{
		ID:                  uuid.NewString(),
		Channel:             "whatsapp",
		ChannelConnectionID: channelID,
		RemotePhone:         "+51999000001",
		DisplayNumber:       "+51999000001",
		Status:              crmDomain.ConversationActive,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	require.NoError(t, f.convs.Create(context.Background(), conv))
	return *conv
}

func (f *fixture) seedQueue(t *testing.T, name string) crmDomain.Queue {
	t.Helper()
	q := &crmDomain.Queue{
		Name:             name,
		DistributionMode: crmDomain.DistributionManual,
		Status:           crmDomain.QueueEnabled,
	}
	require.NoError(t, f.queues.Create(context.Background(), q))
	return *q
}

func (f *fixture) saveFlow(t *testing.T, flow *domain.FlowDefinition) {
	t.Helper()
	flow.Enabled = true
	require.NoError(t, f.flows.Save(context.Background(), flow))
}

func (f *fixture) session(t *testing.T, conv crmDomain.Conversation) *domain.Session {
	t.Helper()
	s, err := f.sessions.Get(context.Background(), domain.SessionKey{
		ChannelConnectionID: conv.ChannelConnectionID,
		RemotePhone:         conv.RemotePhone,
	})
	require.NoError(t, err)
	return s
}

func node(id string, typ domain.NodeType, data interface{}) domain.Node {
	n := domain.Node{ID: id, Type: typ}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			panic(err)
		}
		n.Action = &domain.NodeAction{Kind: domain.ActionKindFor(typ), Data: raw}
	}
	return n
}

func edge(from, handle, to string) domain.Edge {
	return domain.Edge{FromNode: from, FromHandle: handle, ToNode: to}
}

func textIn(body string) whatsapp.InboundEvent {
	return whatsapp.InboundEvent{
		RemotePhone:       "+51999000001",
		MessageType:       "text",
		Text:              body,
		ProviderMessageID: uuid.NewString(),
		ProviderTimestamp: time.Now().UTC(),
	}
}

func buttonIn(optionID, title string) whatsapp.InboundEvent {
	return whatsapp.InboundEvent{
		RemotePhone:       "+51999000001",
		MessageType:       "button",
		ButtonReply:       &whatsapp.ButtonReply{OptionID: optionID, Title: title},
		ProviderMessageID: uuid.NewString(),
		ProviderTimestamp: time.Now().UTC(),
	}
}

func TestWelcomeThenMenu(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ch := f.seedChannel(t)
	conv := f.seedConversation(t, ch.ID)

	flow := &domain.FlowDefinition{
		ID: "f1", Name: "Bienvenida",
		Nodes: []domain.Node{
			node("start", domain.NodeStart, nil),
			node("hola", domain.NodeMessage, domain.MessageData{Text: "Hola"}),
			node("elige", domain.NodeButtons, domain.ButtonsData{Text: "Elige", Options: []domain.Option{
				{ID: "a", Label: "Opción A"}, {ID: "b", Label: "Opción B"},
			}}),
			node("resp-a", domain.NodeMessage, domain.MessageData{Text: "Elegiste A"}),
			node("resp-b", domain.NodeMessage, domain.MessageData{Text: "Elegiste B"}),
		},
		Edges: []domain.Edge{
			edge("start", domain.HandleDefault, "hola"),
			edge("hola", domain.HandleDefault, "elige"),
			edge("elige", domain.HandleOption(0), "resp-a"),
			edge("elige", domain.HandleOption(1), "resp-b"),
		},
	}
	f.saveFlow(t, flow)

	require.NoError(t, f.engine.StartFlow(ctx, &conv, flow.ID))
	assert.Equal(t, crmDomain.AssignedToBot, conv.AssignedTo)
	require.NoError(t, f.engine.HandleInput(ctx, &conv, textIn("hola")))

	// Dos salientes en orden de autoría: texto y luego botones
	require.Equal(t, []string{"Hola", "[interactive] Elige"}, f.cloud.bodies())

	session := f.session(t, conv)
	require.NotNil(t, session)
	assert.Equal(t, domain.AwaitButtons, session.Awaiting)
	assert.Equal(t, "elige", session.CurrentNodeID)

	// La respuesta del botón rutea por su handle y el flujo termina
	require.NoError(t, f.engine.HandleInput(ctx, &conv, buttonIn("b", "Opción B")))
	assert.Contains(t, f.cloud.bodies(), "Elegiste B")

	assert.Nil(t, f.session(t, conv))
	got, err := f.convs.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, got.AssignedTo)
	assert.Empty(t, got.BotFlowID)
}

func TestQuestionValidationRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ch := f.seedChannel(t)
	conv := f.seedConversation(t, ch.ID)

	flow := &domain.FlowDefinition{
		ID: "f2", Name: "Captura correo",
		Nodes: []domain.Node{
			node("start", domain.NodeStart, nil),
			node("correo", domain.NodeQuestion, domain.QuestionData{
				Prompt:       "¿Cuál es tu correo?",
				VarName:      "email",
				Validation:   &domain.ValidationData{Mode: "format", Format: "email"},
				RetryMessage: "Ese correo no parece válido, intenta de nuevo",
				MaxRetries:   3,
			}),
			node("gracias", domain.NodeMessage, domain.MessageData{Text: "Gracias, te escribimos a {{email}}"}),
		},
		Edges: []domain.Edge{
			edge("start", domain.HandleDefault, "correo"),
			edge("correo", domain.HandleMatch, "gracias"),
		},
	}
	f.saveFlow(t, flow)

	require.NoError(t, f.engine.StartFlow(ctx, &conv, flow.ID))
	require.NoError(t, f.engine.HandleInput(ctx, &conv, textIn("hola")))
	assert.Equal(t, []string{"¿Cuál es tu correo?"}, f.cloud.bodies())

	// Respuesta inválida: reintento con mensaje propio
	require.NoError(t, f.engine.HandleInput(ctx, &conv, textIn("no")))
	session := f.session(t, conv)
	require.NotNil(t, session)
	assert.Equal(t, 1, session.RetryCount)
	assert.Contains(t, f.cloud.bodies(), "Ese correo no parece válido, intenta de nuevo")

	// Respuesta válida: captura la variable y avanza por out:match
	require.NoError(t, f.engine.HandleInput(ctx, &conv, textIn("ok@example.com")))
	assert.Contains(t, f.cloud.bodies(), "Gracias, te escribimos a ok@example.com")
	assert.Nil(t, f.session(t, conv))
}

func TestQuestionRetriesExhaustedFollowErrorEdge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ch := f.seedChannel(t)
	conv := f.seedConversation(t, ch.ID)

	flow := &domain.FlowDefinition{
		ID: "f3", Name: "DNI",
		Nodes: []domain.Node{
			node("start", domain.NodeStart, nil),
			node("dni", domain.NodeQuestion, domain.QuestionData{
				Prompt:       "Tu DNI",
				VarName:      "dni",
				Validation:   &domain.ValidationData{Mode: "format", Format: "dni"},
				RetryMessage: "El DNI tiene 8 dígitos",
				MaxRetries:   1,
			}),
			node("sin-dni", domain.NodeMessage, domain.MessageData{Text: "Seguimos sin DNI"}),
		},
		Edges: []domain.Edge{
			edge("start", domain.HandleDefault, "dni"),
			edge("dni", domain.HandleError, "sin-dni"),
		},
	}
	f.saveFlow(t, flow)

	require.NoError(t, f.engine.StartFlow(ctx, &conv, flow.ID))
	require.NoError(t, f.engine.HandleInput(ctx, &conv, textIn("hola")))
	require.NoError(t, f.engine.HandleInput(ctx, &conv, textIn("abc")))
	require.NoError(t, f.engine.HandleInput(ctx, &conv, textIn("xyz")))

	assert.Contains(t, f.cloud.bodies(), "Seguimos sin DNI")
}

func TestTransferNodeHandsOffToQueue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ch := f.seedChannel(t)
	conv := f.seedConversation(t, ch.ID)
	q := f.seedQueue(t, "Ventas")

	flow := &domain.FlowDefinition{
		ID: "f4", Name: "Derivación",
		Nodes: []domain.Node{
			node("start", domain.NodeStart, nil),
			node("derivar", domain.NodeTransfer, domain.TransferData{QueueID: q.ID, Reason: "pide humano"}),
		},
		Edges: []domain.Edge{edge("start", domain.HandleDefault, "derivar")},
	}
	f.saveFlow(t, flow)

	require.NoError(t, f.engine.StartFlow(ctx, &conv, flow.ID))
	require.NoError(t, f.engine.HandleInput(ctx, &conv, textIn("asesor por favor")))

	got, err := f.convs.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, got.AssignedTo)
	assert.Equal(t, q.ID, got.QueueID)
	assert.Empty(t, got.BotFlowID)
	assert.Nil(t, got.BotStartedAt)
	assert.NotNil(t, got.QueuedAt)

	assert.Nil(t, f.session(t, conv))

	msgs, err := f.convs.ListMessages(ctx, conv.ID, 10, nil)
	require.NoError(t, err)
	require.NotEmpty(t, msgs)
	last := msgs[len(msgs)-1]
	assert.Equal(t, crmDomain.MessageSystem, last.Type)
	assert.Contains(t, last.Text, "Chat transferido a la cola Ventas")
}

func TestMenuTextModeAcceptsDigitsAndRetries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ch := f.seedChannel(t)
	conv := f.seedConversation(t, ch.ID)

	flow := &domain.FlowDefinition{
		ID: "f5", Name: "Menú",
		Nodes: []domain.Node{
			node("start", domain.NodeStart, nil),
			node("menu", domain.NodeMenu, domain.MenuData{
				Text: "¿Qué necesitas?",
				Mode: "text",
				Options: []domain.Option{
					{ID: "ventas", Label: "Ventas"},
					{ID: "soporte", Label: "Soporte"},
				},
				RetryMessage: "Responde con el número de la opción",
				MaxRetries:   2,
			}),
			node("ventas-msg", domain.NodeMessage, domain.MessageData{Text: "Te atiende ventas"}),
			node("soporte-msg", domain.NodeMessage, domain.MessageData{Text: "Te atiende soporte"}),
		},
		Edges: []domain.Edge{
			edge("start", domain.HandleDefault, "menu"),
			edge("menu", domain.HandleOption(0), "ventas-msg"),
			edge("menu", domain.HandleOption(1), "soporte-msg"),
		},
	}
	f.saveFlow(t, flow)

	require.NoError(t, f.engine.StartFlow(ctx, &conv, flow.ID))
	require.NoError(t, f.engine.HandleInput(ctx, &conv, textIn("hola")))
	assert.Contains(t, f.cloud.bodies()[0], "1. Ventas")
	assert.Contains(t, f.cloud.bodies()[0], "2. Soporte")

	// Fuera de rango: reintento
	require.NoError(t, f.engine.HandleInput(ctx, &conv, textIn("9")))
	assert.Contains(t, f.cloud.bodies(), "Responde con el número de la opción")
	session := f.session(t, conv)
	require.NotNil(t, session)
	assert.Equal(t, 1, session.RetryCount)

	// El dígito elige la opción
	require.NoError(t, f.engine.HandleInput(ctx, &conv, textIn("2")))
	assert.Contains(t, f.cloud.bodies(), "Te atiende soporte")
}

func TestConditionRoutesOnUserMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ch := f.seedChannel(t)
	conv := f.seedConversation(t, ch.ID)

	flow := &domain.FlowDefinition{
		ID: "f6", Name: "Condición",
		Nodes: []domain.Node{
			node("start", domain.NodeStart, nil),
			node("cond", domain.NodeCondition, domain.ConditionData{
				Combine: "any",
				Rules: []domain.ConditionRule{
					{Source: "user_message", Op: "contains", Value: "precio"},
				},
			}),
			node("precios", domain.NodeMessage, domain.MessageData{Text: "Aquí va la lista de precios"}),
			node("saludo", domain.NodeMessage, domain.MessageData{Text: "¡Hola! ¿En qué te ayudo?"}),
		},
		Edges: []domain.Edge{
			edge("start", domain.HandleDefault, "cond"),
			edge("cond", domain.HandleDefault, "precios"),
			edge("cond", domain.HandleNoMatch, "saludo"),
		},
	}
	f.saveFlow(t, flow)

	require.NoError(t, f.engine.StartFlow(ctx, &conv, flow.ID))
	require.NoError(t, f.engine.HandleInput(ctx, &conv, textIn("me pasas el PRECIO?")))
	assert.Contains(t, f.cloud.bodies(), "Aquí va la lista de precios")
}

func TestDelayInterruptibleAdvancesOnUserMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ch := f.seedChannel(t)
	conv := f.seedConversation(t, ch.ID)

	flow := &domain.FlowDefinition{
		ID: "f7", Name: "Espera corta",
		Nodes: []domain.Node{
			node("start", domain.NodeStart, nil),
			node("aviso", domain.NodeMessage, domain.MessageData{Text: "Dame un momento"}),
			node("espera", domain.NodeDelay, domain.DelayData{Seconds: 600, Interruptible: true}),
			node("sigue", domain.NodeMessage, domain.MessageData{Text: "Seguimos"}),
		},
		Edges: []domain.Edge{
			edge("start", domain.HandleDefault, "aviso"),
			edge("aviso", domain.HandleDefault, "espera"),
			edge("espera", domain.HandleDefault, "sigue"),
		},
	}
	f.saveFlow(t, flow)

	require.NoError(t, f.engine.StartFlow(ctx, &conv, flow.ID))
	require.NoError(t, f.engine.HandleInput(ctx, &conv, textIn("hola")))

	session := f.session(t, conv)
	require.NotNil(t, session)
	require.NotNil(t, session.WakeAt)
	assert.True(t, session.WakeInterruptible)
	assert.NotContains(t, f.cloud.bodies(), "Seguimos")

	// El mensaje del contacto interrumpe la espera
	require.NoError(t, f.engine.HandleInput(ctx, &conv, textIn("sigo aquí")))
	assert.Contains(t, f.cloud.bodies(), "Seguimos")
}

func TestDelayNonInterruptibleResumesByTimer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ch := f.seedChannel(t)
	conv := f.seedConversation(t, ch.ID)

	flow := &domain.FlowDefinition{
		ID: "f8", Name: "Espera fija",
		Nodes: []domain.Node{
			node("start", domain.NodeStart, nil),
			node("espera", domain.NodeDelay, domain.DelayData{Seconds: 600}),
			node("sigue", domain.NodeMessage, domain.MessageData{Text: "Seguimos"}),
		},
		Edges: []domain.Edge{
			edge("start", domain.HandleDefault, "espera"),
			edge("espera", domain.HandleDefault, "sigue"),
		},
	}
	f.saveFlow(t, flow)

	require.NoError(t, f.engine.StartFlow(ctx, &conv, flow.ID))
	require.NoError(t, f.engine.HandleInput(ctx, &conv, textIn("hola")))

	// Un mensaje del contacto no interrumpe la espera
	require.NoError(t, f.engine.HandleInput(ctx, &conv, textIn("apúrate")))
	assert.NotContains(t, f.cloud.bodies(), "Seguimos")
	session := f.session(t, conv)
	require.NotNil(t, session)
	require.NotNil(t, session.WakeAt)

	// Vence el timer: el scheduler reanuda la sesión
	past := time.Now().UTC().Add(-time.Second)
	session.WakeAt = &past
	require.NoError(t, f.sessions.Save(ctx, session))

	sched := NewWakeScheduler(f.engine, f.sessions, nil)
	require.NoError(t, sched.Sweep(ctx))
	assert.Contains(t, f.cloud.bodies(), "Seguimos")
}

func TestWebhookInParksUntilCallback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ch := f.seedChannel(t)
	conv := f.seedConversation(t, ch.ID)

	flow := &domain.FlowDefinition{
		ID: "f9", Name: "Aprobación externa",
		Nodes: []domain.Node{
			node("start", domain.NodeStart, nil),
			node("aviso", domain.NodeMessage, domain.MessageData{Text: "Validando tu solicitud"}),
			node("parking", domain.NodeWebhookIn, nil),
			node("listo", domain.NodeMessage, domain.MessageData{Text: "Tu solicitud quedó {{estado}}"}),
		},
		Edges: []domain.Edge{
			edge("start", domain.HandleDefault, "aviso"),
			edge("aviso", domain.HandleDefault, "parking"),
			edge("parking", domain.HandleDefault, "listo"),
		},
	}
	f.saveFlow(t, flow)

	require.NoError(t, f.engine.StartFlow(ctx, &conv, flow.ID))
	require.NoError(t, f.engine.HandleInput(ctx, &conv, textIn("hola")))

	session := f.session(t, conv)
	require.NotNil(t, session)
	assert.Equal(t, domain.AwaitWebhook, session.Awaiting)

	// Mensajes del contacto no despiertan la sesión estacionada
	require.NoError(t, f.engine.HandleInput(ctx, &conv, textIn("¿ya está?")))
	assert.NotContains(t, f.cloud.bodies(), "Tu solicitud quedó aprobada")

	// El POST correlacionado sí
	require.NoError(t, f.engine.HandleCallback(ctx, conv.ID, map[string]string{"estado": "aprobada"}))
	assert.Contains(t, f.cloud.bodies(), "Tu solicitud quedó aprobada")
	assert.Nil(t, f.session(t, conv))
}

func TestNodeErrorWithoutErrorEdgeFallsBackToQueue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ch := f.seedChannel(t)
	conv := f.seedConversation(t, ch.ID)
	q := f.seedQueue(t, "Soporte")

	// Regex rota: el catálogo la rechazaría, pero una definición vieja puede
	// llegar igual desde el almacén
	flow := &domain.FlowDefinition{
		ID: "f10", Name: "Roto", FallbackQueueID: q.ID,
		Nodes: []domain.Node{
			node("start", domain.NodeStart, nil),
			node("val", domain.NodeValidation, domain.ValidationData{Mode: "regex", Regex: "("}),
		},
		Edges: []domain.Edge{edge("start", domain.HandleDefault, "val")},
	}
	f.saveFlow(t, flow)

	require.NoError(t, f.engine.StartFlow(ctx, &conv, flow.ID))
	require.NoError(t, f.engine.HandleInput(ctx, &conv, textIn("hola")))

	got, err := f.convs.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, q.ID, got.QueueID)
	assert.Empty(t, got.AssignedTo)
	assert.Nil(t, f.session(t, conv))

	msgs, err := f.convs.ListMessages(ctx, conv.ID, 10, nil)
	require.NoError(t, err)
	require.NotEmpty(t, msgs)
	assert.Contains(t, msgs[len(msgs)-1].Text, "El bot encontró un problema")
}

func TestEndNodeClosesConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ch := f.seedChannel(t)
	conv := f.seedConversation(t, ch.ID)

	flow := &domain.FlowDefinition{
		ID: "f11", Name: "Despedida",
		Nodes: []domain.Node{
			node("start", domain.NodeStart, nil),
			node("fin", domain.NodeEnd, domain.EndData{CloseConversation: true, Farewell: "¡Gracias por escribirnos!"}),
		},
		Edges: []domain.Edge{edge("start", domain.HandleDefault, "fin")},
	}
	f.saveFlow(t, flow)

	require.NoError(t, f.engine.StartFlow(ctx, &conv, flow.ID))
	require.NoError(t, f.engine.HandleInput(ctx, &conv, textIn("chau")))

	assert.Contains(t, f.cloud.bodies(), "¡Gracias por escribirnos!")
	got, err := f.convs.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, crmDomain.ConversationClosed, got.Status)
	assert.Nil(t, f.session(t, conv))
}

func TestSchedulerNodeBranchesInHours(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ch := f.seedChannel(t)
	conv := f.seedConversation(t, ch.ID)
	// Cola sin horario definido: siempre abierta
	q := f.seedQueue(t, "Ventas")

	flow := &domain.FlowDefinition{
		ID: "f12", Name: "Horario",
		Nodes: []domain.Node{
			node("start", domain.NodeStart, nil),
			node("horario", domain.NodeScheduler, domain.SchedulerData{QueueID: q.ID}),
			node("abierto", domain.NodeMessage, domain.MessageData{Text: "Estamos atendiendo"}),
			node("cerrado", domain.NodeMessage, domain.MessageData{Text: "Te respondemos mañana"}),
		},
		Edges: []domain.Edge{
			edge("start", domain.HandleDefault, "horario"),
			edge("horario", domain.HandleInHours, "abierto"),
			edge("horario", domain.HandleOutOfHours, "cerrado"),
		},
	}
	f.saveFlow(t, flow)

	require.NoError(t, f.engine.StartFlow(ctx, &conv, flow.ID))
	require.NoError(t, f.engine.HandleInput(ctx, &conv, textIn("hola")))
	assert.Contains(t, f.cloud.bodies(), "Estamos atendiendo")
	assert.NotContains(t, f.cloud.bodies(), "Te respondemos mañana")
}

func TestStartFlowRejectsDisabledFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ch := f.seedChannel(t)
	conv := f.seedConversation(t, ch.ID)

	flow := &domain.FlowDefinition{
		ID: "f13", Name: "Apagado",
		Nodes: []domain.Node{
			node("start", domain.NodeStart, nil),
			node("fin", domain.NodeEnd, nil),
		},
		Edges: []domain.Edge{edge("start", domain.HandleDefault, "fin")},
	}
	require.NoError(t, f.flows.Save(ctx, flow)) // Enabled=false

	err := f.engine.StartFlow(ctx, &conv, flow.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disabled")
}
