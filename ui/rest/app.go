package rest

import (
	"strings"
	"time"

	botDomain "github.com/CYM-Peru/Bot-AI-V1-sub006/botengine/domain"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/botengine/knowledge"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/core/config"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/crm/application"
	crmDomain "github.com/CYM-Peru/Bot-AI-V1-sub006/crm/domain"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/crm/usecase"
	flowApp "github.com/CYM-Peru/Bot-AI-V1-sub006/flowengine/application"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/infrastructure/valkey"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/msgworker"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/ui/rest/middleware"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/ui/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/requestid"
)

// AppDeps agrupa todo lo que la capa HTTP necesita ya construido. El wiring
// vive en cmd; aquí solo se monta.
type AppDeps struct {
	Issuer        *usecase.TokenIssuer
	Conversations usecase.IConversationUsecase
	Advisors      usecase.IAdvisorUsecase
	Channels      usecase.IChannelUsecase
	Queues        usecase.IQueueUsecase
	Campaigns     usecase.ICampaignUsecase
	Reports       usecase.IReportUsecase
	FlowCatalog   *flowApp.FlowCatalog
	FlowEngine    *flowApp.Engine
	ChannelRepo   crmDomain.IChannelRepository
	Pipeline      *application.InboundPipeline
	Pool          *msgworker.MessageWorkerPool
	Metrics       crmDomain.IMetricsRepository
	MediaCache    *application.MediaCache
	Indexer       *knowledge.Indexer
	Searcher      *knowledge.Searcher
	Knowledge     botDomain.IKnowledgeRepository
	Hub           *websocket.Hub
	Valkey        *valkey.Client
	Version       string
}

// NewApp arma el servidor Fiber completo: middleware de seguridad, rutas
// públicas de webhooks y el grupo /api protegido por JWT.
func NewApp(cfg *config.Config, deps AppDeps) *fiber.App {
	fiberConfig := fiber.Config{
		EnableTrustedProxyCheck: true,
		BodyLimit:               maxUploadBytes,
		Network:                 "tcp",
		AppName:                 "Conversational CRM",
		ServerHeader:            "Hidden",
	}
	if len(cfg.App.TrustedProxies) > 0 {
		fiberConfig.TrustedProxies = cfg.App.TrustedProxies
		fiberConfig.ProxyHeader = fiber.HeaderXForwardedHost
	}

	app := fiber.New(fiberConfig)

	app.Use(requestid.New())

	origins := strings.Join(cfg.App.CorsAllowedOrigins, ", ")
	if !strings.Contains(origins, cfg.App.BaseUrl) {
		origins += ", " + cfg.App.BaseUrl
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.Recovery())
	app.Use(helmet.New(helmet.Config{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
		HSTSMaxAge:         31536000,
		ReferrerPolicy:     "strict-origin-when-cross-origin",
	}))
	app.Use(limiter.New(limiter.Config{
		Max:        1000,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
	}))
	if cfg.App.Debug {
		app.Use(logger.New())
	}

	base := cfg.App.BasePath

	// Adjuntos subidos y media cacheada se sirven como estáticos.
	app.Static(base+"/statics", cfg.Paths.Statics)

	// Rutas públicas: el proveedor y los webhooks de flows no llevan JWT.
	root := app.Group(base)
	NewHealthHandler(deps.Version, deps.Valkey).Register(root)
	NewWebhookHandler(deps.ChannelRepo, deps.Pipeline, deps.Pool, cfg.Provider.AppSecret).Register(root)
	NewFlowHandler(deps.FlowCatalog, deps.FlowEngine).RegisterPublic(root)

	api := app.Group(base + "/api")

	// Login queda fuera del guard; el resto del grupo exige bearer.
	NewAuthHandler(deps.Advisors, deps.Issuer).Register(api)

	protected := api.Group("/", middleware.RequireAuth(deps.Issuer))
	adminOnly := middleware.RequireRole("admin", "supervisor")

	NewConversationHandler(deps.Conversations).Register(protected)
	NewAdvisorHandler(deps.Advisors).Register(protected, adminOnly)
	NewQueueHandler(deps.Queues).Register(protected, adminOnly)
	NewChannelHandler(deps.Channels).Register(protected, adminOnly)
	NewFlowHandler(deps.FlowCatalog, deps.FlowEngine).Register(protected, adminOnly)
	NewCampaignHandler(deps.Campaigns).Register(protected, adminOnly)
	NewReportHandler(deps.Reports).Register(protected)
	NewMediaHandler(deps.MediaCache, cfg.Paths.Statics, base).Register(protected)
	NewKnowledgeHandler(deps.Indexer, deps.Searcher, deps.Knowledge).Register(protected, adminOnly)
	NewMonitoringHandler(deps.Pool).Register(protected)
	NewMaintenanceHandler(deps.Metrics).Register(protected)

	// El upgrade de websocket valida su propio token contra el hub.
	crm := api.Group("/crm")
	websocket.RegisterRoutes(crm, deps.Hub)

	api.All("/*", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "API endpoint not found",
			"path":  c.Path(),
		})
	})

	return app
}
