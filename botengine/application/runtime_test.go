package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/CYM-Peru/Bot-AI-V1-sub006/botengine/domain"
	crmapp "github.com/CYM-Peru/Bot-AI-V1-sub006/crm/application"
	crmDomain "github.com/CYM-Peru/Bot-AI-V1-sub006/crm/domain"
	crmRepo "github.com/CYM-Peru/Bot-AI-V1-sub006/crm/repository"
	flowapp "github.com/CYM-Peru/Bot-AI-V1-sub006/flowengine/application"
	flowDomain "github.com/CYM-Peru/Bot-AI-V1-sub006/flowengine/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// scriptedProvider devuelve respuestas en orden y registra cada petición.
type scriptedProvider struct {
	mu       sync.Mutex
	script   []domain.ChatResponse
	requests []domain.ChatRequest
}

func (p *scriptedProvider) Chat(_ context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if len(p.script) == 0 {
		return domain.ChatResponse{Text: "sin guion"}, nil
	}
	res := p.script[0]
	if len(p.script) > 1 {
		p.script = p.script[1:]
	}
	return res, nil
}

// stubSender registra los envíos sin tocar WhatsApp.
type stubSender struct {
	mu    sync.Mutex
	texts []string
	media []string
}

func (s *stubSender) SendText(_ context.Context, _ *crmDomain.Conversation, text, _ string) (*crmDomain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
	return &crmDomain.Message{ID: uuid.NewString(), Text: text}, nil
}

func (s *stubSender) SendMedia(_ context.Context, _ *crmDomain.Conversation, _, urlOrID, caption, _, _ string) (*crmDomain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.media = append(s.media, urlOrID+"|"+caption)
	return &crmDomain.Message{ID: uuid.NewString(), Text: caption}, nil
}

type stubKnowledge struct {
	result  domain.SearchResult
	queries []string
}

func (k *stubKnowledge) Search(_ context.Context, _, query, _ string) (domain.SearchResult, error) {
	k.queries = append(k.queries, query)
	return k.result, nil
}

type runtimeFixture struct {
	convs    *crmRepo.ConversationGormRepository
	queues   *crmRepo.QueueGormRepository
	advisors *crmRepo.AdvisorGormRepository

	store     *crmapp.ConversationStore
	sender    *stubSender
	knowledge *stubKnowledge
	provider  *scriptedProvider
	runtime   *Runtime

	salesQueue   crmDomain.Queue
	supportQueue crmDomain.Queue
}

func newRuntimeFixture(t *testing.T) *runtimeFixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?_foreign_keys=on"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	ctx := context.Background()
	f := &runtimeFixture{
		convs:     crmRepo.NewConversationGormRepository(db),
		queues:    crmRepo.NewQueueGormRepository(db),
		advisors:  crmRepo.NewAdvisorGormRepository(db),
		sender:    &stubSender{},
		knowledge: &stubKnowledge{},
		provider:  &scriptedProvider{},
	}
	require.NoError(t, f.convs.Init(ctx))
	require.NoError(t, f.queues.Init(ctx))
	require.NoError(t, f.advisors.Init(ctx))

	f.store = crmapp.NewConversationStore(f.convs, f.advisors, f.queues, nil, crmapp.NewConversationLocks(), nil, nil)

	sales := &crmDomain.Queue{Name: "Ventas", DistributionMode: crmDomain.DistributionManual, Status: crmDomain.QueueEnabled}
	require.NoError(t, f.queues.Create(ctx, sales))
	support := &crmDomain.Queue{Name: "Soporte", DistributionMode: crmDomain.DistributionManual, Status: crmDomain.QueueEnabled}
	require.NoError(t, f.queues.Create(ctx, support))
	f.salesQueue = *sales
	f.supportQueue = *support

	f.runtime = NewRuntime(ToolDeps{
		Store:     f.store,
		Sender:    f.sender,
		Queues:    f.queues,
		Knowledge: f.knowledge,
		QueueMap: map[string]string{
			QueueTypeSales:   sales.ID,
			QueueTypeSupport: support.ID,
		},
		Catalogs: []CatalogAsset{
			{Brand: "Andina", URL: "https://files.example.com/andina.pdf", URLWithPrices: "https://files.example.com/andina-precios.pdf", Filename: "andina.pdf"},
			{Brand: "Costa", URL: "https://files.example.com/costa.pdf", Filename: "costa.pdf"},
		},
	})
	f.runtime.RegisterProvider("openai", f.provider)
	return f
}

func (f *runtimeFixture) seedConversation(t *testing.T) crmDomain.Conversation {
	t.Helper()
	now := time.Now().UTC()
	conv := &crmDomain.Conversation{
		ID:                  uuid.NewString(),
		Channel:             "whatsapp",
		ChannelConnectionID: "ch1",
		RemotePhone:         "+51999000001",
		DisplayNumber:       "+51999000001",
		Status:              crmDomain.ConversationActive,
		AssignedTo:          crmDomain.AssignedToBot,
		BotFlowID:           "flujo-agente",
		BotStartedAt:        &now,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	require.NoError(t, f.convs.Create(context.Background(), conv))
	return *conv
}

func agentSession(conv crmDomain.Conversation) *flowDomain.Session {
	key := flowDomain.SessionKey{ChannelConnectionID: conv.ChannelConnectionID, RemotePhone: conv.RemotePhone}
	return flowDomain.NewSession(key, conv.ID, "flujo-agente", "agente", time.Now().UTC())
}

func TestRunTurnPlainReply(t *testing.T) {
	f := newRuntimeFixture(t)
	conv := f.seedConversation(t)
	session := agentSession(conv)
	f.provider.script = []domain.ChatResponse{{Text: "¡Hola! ¿En qué te ayudo?"}}

	outcome, err := f.runtime.RunTurn(context.Background(), &conv, session, flowDomain.AgentData{Provider: "openai"}, "hola")
	require.NoError(t, err)
	assert.Equal(t, flowapp.AgentContinue, outcome)
	assert.Equal(t, []string{"¡Hola! ¿En qué te ayudo?"}, f.sender.texts)

	// El historial persistido guarda ambos turnos de texto
	raw, ok := session.Var("_agent_history")
	require.True(t, ok)
	assert.Contains(t, raw, "hola")
	assert.Contains(t, raw, "¿En qué te ayudo?")

	// El turno siguiente arranca con el historial previo
	f.provider.script = []domain.ChatResponse{{Text: "Claro, dime"}}
	_, err = f.runtime.RunTurn(context.Background(), &conv, session, flowDomain.AgentData{Provider: "openai"}, "una consulta")
	require.NoError(t, err)
	last := f.provider.requests[len(f.provider.requests)-1]
	require.Len(t, last.History, 3)
	assert.Equal(t, "hola", last.History[0].Text)
	assert.Equal(t, domain.RoleAssistant, last.History[1].Role)
}

func TestRunTurnKnowledgeToolRoundTrip(t *testing.T) {
	f := newRuntimeFixture(t)
	conv := f.seedConversation(t)
	session := agentSession(conv)
	f.knowledge.result = domain.SearchResult{Found: true, Answer: "Envíos a todo el Perú", ChunksUsed: 2, CostUSD: 0.00001}
	f.provider.script = []domain.ChatResponse{
		{ToolCalls: []domain.ToolCall{{ID: "t1", Name: "search_knowledge_base", Args: map[string]any{"query": "cobertura de envíos"}}}},
		{Text: "Hacemos envíos a todo el Perú"},
	}

	outcome, err := f.runtime.RunTurn(context.Background(), &conv, session, flowDomain.AgentData{Provider: "openai", KnowledgeCategory: "logistica"}, "¿hacen envíos?")
	require.NoError(t, err)
	assert.Equal(t, flowapp.AgentContinue, outcome)
	assert.Equal(t, []string{"cobertura de envíos"}, f.knowledge.queries)
	assert.Equal(t, []string{"Hacemos envíos a todo el Perú"}, f.sender.texts)

	// La segunda petición lleva la llamada y su resultado en el historial
	require.Len(t, f.provider.requests, 2)
	second := f.provider.requests[1]
	require.Len(t, second.History, 3)
	assert.Equal(t, "search_knowledge_base", second.History[1].ToolCalls[0].Name)
	require.Len(t, second.History[2].ToolResponses, 1)
	assert.Equal(t, true, second.History[2].ToolResponses[0].Data["found"])
}

func TestRunTurnSendCatalogsFiltersBrands(t *testing.T) {
	f := newRuntimeFixture(t)
	conv := f.seedConversation(t)
	session := agentSession(conv)
	f.provider.script = []domain.ChatResponse{
		{ToolCalls: []domain.ToolCall{{ID: "t1", Name: "send_catalogs", Args: map[string]any{
			"with_prices": true,
			"brands":      []any{"andina"},
		}}}},
		{Text: "Te envié el catálogo de Andina con precios"},
	}

	outcome, err := f.runtime.RunTurn(context.Background(), &conv, session, flowDomain.AgentData{Provider: "openai"}, "pásame el catálogo de andina con precios")
	require.NoError(t, err)
	assert.Equal(t, flowapp.AgentContinue, outcome)
	require.Len(t, f.sender.media, 1)
	assert.Contains(t, f.sender.media[0], "andina-precios.pdf")
	assert.Contains(t, f.sender.media[0], "Catálogo Andina")
}

func TestRunTurnTransferToolMovesConversation(t *testing.T) {
	f := newRuntimeFixture(t)
	conv := f.seedConversation(t)
	session := agentSession(conv)
	f.provider.script = []domain.ChatResponse{
		{ToolCalls: []domain.ToolCall{{ID: "t1", Name: "transfer_to_queue", Args: map[string]any{
			"queue_type": "sales",
			"reason":     "Cliente quiere cotizar al por mayor",
		}}}},
	}

	outcome, err := f.runtime.RunTurn(context.Background(), &conv, session, flowDomain.AgentData{Provider: "openai"}, "quiero hablar con ventas")
	require.NoError(t, err)
	assert.Equal(t, flowapp.AgentTransferred, outcome)

	got, err := f.convs.GetByID(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, f.salesQueue.ID, got.QueueID)
	assert.Empty(t, got.AssignedTo)
	assert.Empty(t, got.BotFlowID)

	// Tras derivar no se envía ningún texto del modelo
	assert.Empty(t, f.sender.texts)
}

func TestRunTurnEndToolEndsAgent(t *testing.T) {
	f := newRuntimeFixture(t)
	conv := f.seedConversation(t)
	session := agentSession(conv)
	f.provider.script = []domain.ChatResponse{
		{Text: "¡Gracias por escribirnos!", ToolCalls: []domain.ToolCall{{ID: "t1", Name: "end_conversation", Args: map[string]any{
			"reason":             "cliente satisfecho",
			"customer_satisfied": true,
		}}}},
	}

	outcome, err := f.runtime.RunTurn(context.Background(), &conv, session, flowDomain.AgentData{Provider: "openai"}, "gracias, eso era todo")
	require.NoError(t, err)
	assert.Equal(t, flowapp.AgentEnded, outcome)
	assert.Equal(t, []string{"¡Gracias por escribirnos!"}, f.sender.texts)
}

func TestRunTurnToolBudgetForcesTransfer(t *testing.T) {
	f := newRuntimeFixture(t)
	conv := f.seedConversation(t)
	session := agentSession(conv)
	// El guion repite la última respuesta: el modelo insiste con herramientas
	f.provider.script = []domain.ChatResponse{
		{ToolCalls: []domain.ToolCall{{ID: "t", Name: "check_business_hours", Args: map[string]any{"queue_type": "sales"}}}},
	}

	outcome, err := f.runtime.RunTurn(context.Background(), &conv, session, flowDomain.AgentData{Provider: "openai"}, "hola")
	require.NoError(t, err)
	assert.Equal(t, flowapp.AgentTransferred, outcome)

	got, err := f.convs.GetByID(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, f.supportQueue.ID, got.QueueID)
}

func TestRunTurnUnknownToolFeedsErrorBack(t *testing.T) {
	f := newRuntimeFixture(t)
	conv := f.seedConversation(t)
	session := agentSession(conv)
	f.provider.script = []domain.ChatResponse{
		{ToolCalls: []domain.ToolCall{{ID: "t1", Name: "fly_to_the_moon", Args: map[string]any{}}}},
		{Text: "Eso no puedo hacerlo, pero te ayudo con tu pedido"},
	}

	outcome, err := f.runtime.RunTurn(context.Background(), &conv, session, flowDomain.AgentData{Provider: "openai"}, "llévame a la luna")
	require.NoError(t, err)
	assert.Equal(t, flowapp.AgentContinue, outcome)

	second := f.provider.requests[1]
	data := second.History[2].ToolResponses[0].Data
	assert.Contains(t, data["error"], "unknown tool")
}

func TestRunTurnUnknownProviderFails(t *testing.T) {
	f := newRuntimeFixture(t)
	conv := f.seedConversation(t)
	session := agentSession(conv)

	_, err := f.runtime.RunTurn(context.Background(), &conv, session, flowDomain.AgentData{Provider: "telepatia"}, "hola")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no chat provider")
}

func TestCheckBusinessHoursReadsQueueSchedule(t *testing.T) {
	f := newRuntimeFixture(t)
	conv := f.seedConversation(t)

	tool := f.runtime.byName["check_business_hours"]
	require.NotNil(t, tool)

	// Cola sin horario configurado atiende siempre
	res, err := tool.Handler(context.Background(), domain.ToolContext{Conversation: &conv}, map[string]any{"queue_type": "sales"})
	require.NoError(t, err)
	assert.Equal(t, true, res["is_open"])
	assert.Equal(t, "Ventas", res["queue"])
	assert.NotEmpty(t, res["current_day"])
	assert.NotEmpty(t, res["current_time"])
}
