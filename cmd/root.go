package cmd

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	botApp "github.com/CYM-Peru/Bot-AI-V1-sub006/botengine/application"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/botengine/knowledge"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/botengine/providers"
	botRepo "github.com/CYM-Peru/Bot-AI-V1-sub006/botengine/repository"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/core/config"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/core/database"
	crmApp "github.com/CYM-Peru/Bot-AI-V1-sub006/crm/application"
	crmRepo "github.com/CYM-Peru/Bot-AI-V1-sub006/crm/repository"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/crm/usecase"
	flowApp "github.com/CYM-Peru/Bot-AI-V1-sub006/flowengine/application"
	flowRepo "github.com/CYM-Peru/Bot-AI-V1-sub006/flowengine/repository"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/infrastructure/valkey"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/infrastructure/whatsapp"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/integrations/bitrix"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/integrations/vision"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/crypto"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/logredact"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/msgworker"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/utils"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/ui/websocket"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Componentes construidos en initApp y compartidos por los subcomandos.
var (
	cfg *config.Config

	metricsDB *sql.DB
	vkClient  *valkey.Client

	convRepo     *crmRepo.ConversationGormRepository
	advisorRepo  *crmRepo.AdvisorGormRepository
	queueRepo    *crmRepo.QueueGormRepository
	channelRepo  *crmRepo.ChannelGormRepository
	campaignRepo *crmRepo.CampaignGormRepository
	metricsRepo  *crmRepo.MetricsSQLiteRepository
	flowRepoImpl *flowRepo.FlowGormRepository
	sessionRepo  *flowRepo.SessionGormRepository
	kbRepo       *botRepo.KnowledgeGormRepository

	hub        *websocket.Hub
	store      *crmApp.ConversationStore
	dispatcher *crmApp.Dispatcher
	presence   *crmApp.PresenceService
	sender     *crmApp.OutboundSender
	mediaCache *crmApp.MediaCache
	pipeline   *crmApp.InboundPipeline
	pool       *msgworker.MessageWorkerPool

	flowCatalog   *flowApp.FlowCatalog
	flowEngine    *flowApp.Engine
	wakeScheduler *flowApp.WakeScheduler

	agentRuntime *botApp.Runtime
	kbIndexer    *knowledge.Indexer
	kbSearcher   *knowledge.Searcher

	reconciler     *crmApp.Reconciler
	botTimeout     *crmApp.BotTimeoutScheduler
	queueTimeout   *crmApp.QueueTimeoutScheduler
	campaignWorker *crmApp.CampaignScheduler

	tokenIssuer *usecase.TokenIssuer
	convUC      usecase.IConversationUsecase
	advisorUC   usecase.IAdvisorUsecase
	channelUC   usecase.IChannelUsecase
	queueUC     usecase.IQueueUsecase
	campaignUC  usecase.ICampaignUsecase
	reportUC    usecase.IReportUsecase

	appCancel context.CancelFunc
)

var rootCmd = &cobra.Command{
	Use:   "crmcore",
	Short: "Multi-channel conversational CRM over the WhatsApp Cloud API",
}

func init() {
	// .env primero: LoadConfig lee todo de variables de entorno
	_ = godotenv.Load()
	time.Local = time.UTC

	rootCmd.CompletionOptions.DisableDefaultCmd = true
	cobra.OnInitialize(initApp)
}

func initApp() {
	var err error
	cfg, err = config.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if cfg.App.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.AddHook(logredact.NewHook())

	if err := crypto.SetEncryptionKey(cfg.Security.SecretKey); err != nil {
		logrus.Fatalf("[APP] Failed to derive encryption key: %v", err)
	}

	if err := utils.EnsureStorageDirectories(); err != nil {
		logrus.Fatalf("[APP] Storage layout init failed: %v", err)
	}
	cfg.App.ServerID = utils.GetPersistentServerID(cfg.App.ServerID, cfg.Paths.Storages)

	ctx := context.Background()

	db, err := database.NewDatabase(cfg)
	if err != nil {
		logrus.Fatalf("[APP] Database connection failed: %v", err)
	}

	metricsDriver := "sqlite3"
	if strings.HasPrefix(cfg.Database.MetricsURI, "postgres://") {
		metricsDriver = "postgres"
	}
	metricsDB, err = sql.Open(metricsDriver, cfg.Database.MetricsURI)
	if err != nil {
		logrus.Fatalf("[APP] Metrics database open failed: %v", err)
	}
	if metricsDriver == "sqlite3" {
		metricsDB.SetMaxOpenConns(1)
	}
	metricsRepo, err = crmRepo.NewMetricsSQLiteRepository(metricsDB)
	if err != nil {
		logrus.Fatalf("[APP] Metrics schema init failed: %v", err)
	}

	if cfg.Database.ValkeyEnabled {
		vkClient, err = valkey.NewClient(valkey.Config{
			Address:   cfg.Database.ValkeyAddress,
			Password:  cfg.Database.ValkeyPassword,
			DB:        cfg.Database.ValkeyDB,
			KeyPrefix: cfg.Database.ValkeyKeyPrefix,
		})
		if err != nil {
			// Valkey es acelerador, no dependencia dura
			logrus.WithError(err).Warn("[APP] Valkey unavailable, running without it")
			vkClient = nil
		}
	}

	convRepo = crmRepo.NewConversationGormRepository(db)
	advisorRepo = crmRepo.NewAdvisorGormRepository(db)
	queueRepo = crmRepo.NewQueueGormRepository(db)
	channelRepo = crmRepo.NewChannelGormRepository(db)
	campaignRepo = crmRepo.NewCampaignGormRepository(db)
	flowRepoImpl = flowRepo.NewFlowGormRepository(db)
	sessionRepo = flowRepo.NewSessionGormRepository(db)
	kbRepo = botRepo.NewKnowledgeGormRepository(db)

	for name, r := range map[string]interface{ Init(context.Context) error }{
		"conversations": convRepo,
		"advisors":      advisorRepo,
		"queues":        queueRepo,
		"channels":      channelRepo,
		"campaigns":     campaignRepo,
		"flows":         flowRepoImpl,
		"sessions":      sessionRepo,
		"knowledge":     kbRepo,
	} {
		if err := r.Init(ctx); err != nil {
			logrus.Fatalf("[APP] Migration failed for %s: %v", name, err)
		}
	}

	hub = websocket.NewHub(vkClient, cfg.App.ServerID, cfg.Realtime.AuthKey)

	store = crmApp.NewConversationStore(convRepo, advisorRepo, queueRepo, metricsRepo,
		crmApp.NewConversationLocks(), hub, nil)
	dispatcher = crmApp.NewDispatcher(convRepo, queueRepo, advisorRepo, store, hub)
	presence = crmApp.NewPresenceService(advisorRepo, convRepo, store, dispatcher, vkClient)

	waClient := whatsapp.NewClient(whatsapp.ClientConfig{
		APIVersion:    cfg.Provider.APIVersion,
		BaseURL:       cfg.Provider.GraphBaseURL,
		Timeout:       time.Duration(cfg.Provider.SendTimeoutSeconds) * time.Second,
		HTTPSProxy:    cfg.Provider.HTTPSProxy,
		RatePerSecond: cfg.Provider.RatePerSecond,
		RateBurst:     cfg.Provider.RateBurst,
	})
	sender = crmApp.NewOutboundSender(store, channelRepo, waClient)
	mediaCache = crmApp.NewMediaCache(channelRepo, waClient, cfg.Paths.Statics, cfg.Provider.MaxDownloadSize)

	flowCatalog = flowApp.NewFlowCatalog(flowRepoImpl)
	flowEngine = flowApp.NewEngine(flowCatalog, sessionRepo, convRepo, queueRepo, store, sender, dispatcher)

	bitrixClient := bitrix.NewClient(cfg.Integrations.BitrixBaseURL, cfg.Integrations.BitrixAuthToken)
	visionClient := vision.NewClient(cfg.APIKeys.Gemini, "")

	embedder := providers.NewOpenAIProvider(cfg.APIKeys.OpenAI)
	kbIndexer = knowledge.NewIndexer(kbRepo, embedder)
	kbSearcher = knowledge.NewSearcher(kbRepo, embedder)

	agentRuntime = botApp.NewRuntime(botApp.ToolDeps{
		Store:      store,
		Sender:     sender,
		Queues:     queueRepo,
		Knowledge:  kbSearcher,
		CRM:        bitrixClient,
		Vision:     visionClient,
		Dispatcher: dispatcher,
		QueueMap:   loadQueueMap(),
		Catalogs:   loadCatalogs(filepath.Join(cfg.Paths.Storages, "catalogs.json")),
	})
	registerChatProviders(agentRuntime, embedder)

	flowEngine.WithCRM(bitrixClient).WithAgent(agentRuntime)
	wakeScheduler = flowApp.NewWakeScheduler(flowEngine, sessionRepo, vkClient)
	flowEngine.WithWakeSink(wakeScheduler)
	store.BindSessionCloser(flowEngine)

	pipeline = crmApp.NewInboundPipeline(store, channelRepo, convRepo, dispatcher, flowEngine, mediaCache)
	pool = msgworker.NewMessageWorkerPool(cfg.WorkerPool.Size, cfg.WorkerPool.QueueSize)

	reconciler = crmApp.NewReconciler(convRepo, sessionRepo, metricsRepo)
	botTimeout = crmApp.NewBotTimeoutScheduler(convRepo, channelRepo, flowRepoImpl, sessionRepo, store, dispatcher)
	queueTimeout = crmApp.NewQueueTimeoutScheduler(convRepo, metricsRepo, store, dispatcher)
	campaignWorker = crmApp.NewCampaignScheduler(campaignRepo, channelRepo, convRepo, store, sender)

	tokenIssuer = usecase.NewTokenIssuer(cfg.Security.JWTSecret, time.Duration(cfg.Security.TokenTTLHours)*time.Hour)
	convUC = usecase.NewConversationUsecase(store, convRepo, sender, dispatcher)
	advisorUC = usecase.NewAdvisorUsecase(advisorRepo, presence, tokenIssuer)
	channelUC = usecase.NewChannelUsecase(channelRepo, convRepo, waClient)
	queueUC = usecase.NewQueueUsecase(queueRepo, convRepo)
	campaignUC = usecase.NewCampaignUsecase(campaignRepo, campaignWorker)
	reportUC = usecase.NewReportUsecase(metricsRepo)
}

// registerChatProviders registra cada proveedor con API key configurada. El
// primero registrado queda como default, en el orden openai, gemini, claude.
func registerChatProviders(rt *botApp.Runtime, openaiProvider *providers.OpenAIProvider) {
	if cfg.APIKeys.OpenAI != "" {
		rt.RegisterProvider("openai", openaiProvider)
	}
	if cfg.APIKeys.Gemini != "" {
		rt.RegisterProvider("gemini", providers.NewGeminiProvider(cfg.APIKeys.Gemini))
	}
	if cfg.APIKeys.Claude != "" {
		rt.RegisterProvider("anthropic", providers.NewAnthropicProvider(cfg.APIKeys.Claude))
	}
}

// loadQueueMap resuelve los queue_type lógicos del agente a IDs de cola.
func loadQueueMap() map[string]string {
	m := map[string]string{}
	if v := os.Getenv("AGENT_QUEUE_SALES"); v != "" {
		m[botApp.QueueTypeSales] = v
	}
	if v := os.Getenv("AGENT_QUEUE_SUPPORT"); v != "" {
		m[botApp.QueueTypeSupport] = v
	}
	if v := os.Getenv("AGENT_QUEUE_PROSPECTS"); v != "" {
		m[botApp.QueueTypeProspects] = v
	}
	return m
}

// loadCatalogs lee los catálogos de marca desde un JSON opcional en storages.
func loadCatalogs(path string) []botApp.CatalogAsset {
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logrus.WithError(err).Warnf("[APP] Could not read catalogs file %s", path)
		}
		return nil
	}
	var assets []botApp.CatalogAsset
	if err := json.Unmarshal(raw, &assets); err != nil {
		logrus.WithError(err).Warnf("[APP] Invalid catalogs file %s", path)
		return nil
	}
	return assets
}

// startBackground lanza el hub, el pool, el dispatcher y los schedulers. El
// context devuelto por esta vía se cancela en StopApp.
func startBackground() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	appCancel = cancel

	pool.Start(ctx)
	go hub.Run(ctx)
	go dispatcher.Run(ctx)
	go wakeScheduler.Run(ctx)
	go botTimeout.Run(ctx)
	go queueTimeout.Run(ctx)
	go campaignWorker.Run(ctx)
	go reconciler.Run(ctx)
	return ctx
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// StopApp apaga los subsistemas en orden: primero dejan de entrar trabajos,
// después se cierran las conexiones.
func StopApp() {
	logrus.Info("[APP] Stopping application...")

	if appCancel != nil {
		appCancel()
	}
	if pool != nil {
		pool.Stop()
	}
	if metricsDB != nil {
		_ = metricsDB.Close()
	}
	if vkClient != nil {
		vkClient.Close()
	}

	logrus.Info("[APP] Application stopped cleanly.")
}
