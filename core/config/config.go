package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config holds all application configuration in a structured way.
type Config struct {
	App          AppConfig
	MCP          MCPConfig
	Paths        PathsConfig
	Database     DatabaseConfig
	Provider     ProviderConfig
	AI           AIConfig
	WorkerPool   WorkerPoolConfig
	Scheduler    SchedulerConfig
	Realtime     RealtimeConfig
	Security     SecurityConfig
	APIKeys      APIKeysConfig
	Integrations IntegrationsConfig
}

type AppConfig struct {
	Version            string
	Port               string
	Debug              bool
	Environment        string
	BasePath           string
	TrustedProxies     []string
	BaseUrl            string
	CorsAllowedOrigins []string
	ServerID           string
	Locale             string
	Timezone           string
	Maintenance        bool
}

type MCPConfig struct {
	Port string
	Host string
}

type PathsConfig struct {
	BaseDir   string
	Statics   string
	SendItems string
	Storages  string
}

type DatabaseConfig struct {
	Driver          string
	Host            string
	Port            int
	User            string
	Password        string
	Name            string // File path for SQLite, DB Name for Postgres
	SSLMode         string
	ValkeyEnabled   bool
	ValkeyAddress   string
	ValkeyPassword  string
	ValkeyDB        int
	ValkeyKeyPrefix string
	// Metrics/campaign side tables (database/sql)
	MetricsURI string
}

// ProviderConfig covers the WhatsApp Cloud API surface. Per-channel
// credentials (access token, phone_number_id, verify token) live encrypted
// in channel_connections; only deployment-wide knobs live here.
type ProviderConfig struct {
	APIVersion         string
	GraphBaseURL       string
	AppSecret          string // Meta app secret, validates X-Hub-Signature-256
	HTTPSProxy         string
	SendTimeoutSeconds int
	RatePerSecond      float64
	RateBurst          int
	MaxImageSize       int64
	MaxFileSize        int64
	MaxVideoSize       int64
	MaxDownloadSize    int64
}

type AIConfig struct {
	GlobalSystemPrompt string
	DebounceMs         int
	WaitContactIdleMs  int
	TypingEnabled      bool
	MaxAudioBytes      int64
	MaxImageBytes      int64
}

type WorkerPoolConfig struct {
	Size      int
	QueueSize int
}

type SchedulerConfig struct {
	IntervalSeconds int
	LeaderLockTTL   int
}

type RealtimeConfig struct {
	AuthKey          string // optional static bearer key, advisor JWTs always accepted
	HeartbeatSeconds int
	ClientQueueSize  int
}

type SecurityConfig struct {
	SecretKey     string // process secret, derives the at-rest encryption key
	JWTSecret     string
	TokenTTLHours int
}

type APIKeysConfig struct {
	Gemini string
	OpenAI string
	Claude string
	AI     string // Generic/Fallback
}

// IntegrationsConfig son adaptadores opcionales; vacíos degradan a no-op.
type IntegrationsConfig struct {
	BitrixBaseURL   string
	BitrixAuthToken string
}

const insecureDefaultSecret = "changeme_please_change_me_in_prod_12345"

var apiVersionRe = regexp.MustCompile(`^v[0-9]+(\.[0-9]+)?$`)

// Global provides access to the loaded configuration globally.
var Global *Config

// LoadConfig loads configuration from environment variables, applies
// development defaults and validates the result. On validation failure it
// returns a single error whose message lists every problem found.
func LoadConfig() (*Config, error) {
	baseDir := getEnv("APP_BASE_DIR", "storages")

	debug := false
	if v := os.Getenv("APP_DEBUG"); v == "true" || v == "1" || v == "on" {
		debug = true
	} else if v := os.Getenv("DEBUG"); v == "true" || v == "1" {
		debug = true
	}

	corsOrigins := []string{"http://localhost:3000", "http://localhost:5173"}
	if v := os.Getenv("APP_CORS_ALLOWED_ORIGINS"); v != "" {
		corsOrigins = strings.Split(v, ",")
	}

	appCfg := AppConfig{
		Version:            "v1.0.0",
		Port:               getEnv("APP_PORT", "3000"),
		Debug:              debug,
		Environment:        getEnv("APP_ENV", "development"),
		BasePath:           getEnv("APP_BASE_PATH", ""),
		BaseUrl:            getEnv("APP_BASE_URL", "http://localhost:3000"),
		CorsAllowedOrigins: corsOrigins,
		ServerID:           getEnv("SERVER_ID", ""),
		Locale:             getEnv("APP_LOCALE", "es_PE"),
		Timezone:           getEnv("APP_TIMEZONE", "America/Lima"),
		Maintenance:        getEnvBool("APP_MAINTENANCE", false),
	}
	if v := os.Getenv("APP_TRUSTED_PROXIES"); v != "" {
		appCfg.TrustedProxies = strings.Split(v, ",")
	}

	pathsCfg := PathsConfig{
		BaseDir:   baseDir,
		Statics:   getEnv("PATH_STATICS", "statics"),
		SendItems: getEnv("PATH_SEND_ITEMS", filepath.Join("statics", "senditems")),
		Storages:  baseDir,
	}

	dbCfg := DatabaseConfig{
		Driver:          getEnv("DB_DRIVER", "sqlite"),
		Name:            os.Getenv("DB_NAME"),
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "postgres"),
		Password:        getEnv("DB_PASSWORD", ""),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		ValkeyEnabled:   getEnvBool("VALKEY_ENABLED", false),
		ValkeyAddress:   getEnv("VALKEY_ADDRESS", "localhost:6379"),
		ValkeyPassword:  getEnv("VALKEY_PASSWORD", ""),
		ValkeyDB:        getEnvInt("VALKEY_DB", 0),
		ValkeyKeyPrefix: getEnv("VALKEY_KEY_PREFIX", "crmcore:"),
		MetricsURI:      getEnv("DB_METRICS_URI", fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on", filepath.Join(pathsCfg.Storages, "metrics.db"))),
	}
	if dbCfg.Driver == "sqlite" && dbCfg.Name == "" {
		dbCfg.Name = filepath.Join(pathsCfg.Storages, "crm.db")
	}

	providerCfg := ProviderConfig{
		APIVersion:         getEnv("WHATSAPP_API_VERSION", ""),
		GraphBaseURL:       getEnv("WHATSAPP_GRAPH_BASE_URL", "https://graph.facebook.com"),
		AppSecret:          getEnv("WHATSAPP_APP_SECRET", ""),
		HTTPSProxy:         getEnv("HTTPS_PROXY_URL", ""),
		SendTimeoutSeconds: getEnvInt("WHATSAPP_SEND_TIMEOUT_SECONDS", 15),
		RatePerSecond:      getEnvFloat("WHATSAPP_RATE_PER_SECOND", 20),
		RateBurst:          getEnvInt("WHATSAPP_RATE_BURST", 20),
		MaxImageSize:       getEnvInt64("WHATSAPP_MAX_IMAGE_SIZE", 20000000),
		MaxFileSize:        getEnvInt64("WHATSAPP_MAX_FILE_SIZE", 50000000),
		MaxVideoSize:       getEnvInt64("WHATSAPP_MAX_VIDEO_SIZE", 50000000),
		MaxDownloadSize:    getEnvInt64("WHATSAPP_MAX_DOWNLOAD_SIZE", 50000000),
	}

	aiCfg := AIConfig{
		GlobalSystemPrompt: getEnv("AI_GLOBAL_SYSTEM_PROMPT", ""),
		DebounceMs:         getEnvInt("AI_DEBOUNCE_MS", 3500),
		WaitContactIdleMs:  getEnvInt("AI_WAIT_CONTACT_IDLE_MS", 10000),
		TypingEnabled:      getEnvBool("AI_TYPING_ENABLED", true),
		MaxAudioBytes:      getEnvInt64("AI_MAX_AUDIO_BYTES", 4*1024*1024),
		MaxImageBytes:      getEnvInt64("AI_MAX_IMAGE_BYTES", 4*1024*1024),
	}

	cfg := &Config{
		App:      appCfg,
		MCP:      MCPConfig{Port: getEnv("MCP_PORT", "8080"), Host: getEnv("MCP_HOST", "localhost")},
		Paths:    pathsCfg,
		Database: dbCfg,
		Provider: providerCfg,
		AI:       aiCfg,
		WorkerPool: WorkerPoolConfig{
			Size:      getEnvInt("MESSAGE_WORKER_POOL_SIZE", 20),
			QueueSize: getEnvInt("MESSAGE_WORKER_QUEUE_SIZE", 1000),
		},
		Scheduler: SchedulerConfig{
			IntervalSeconds: getEnvInt("SCHEDULER_INTERVAL_SECONDS", 60),
			LeaderLockTTL:   getEnvInt("SCHEDULER_LEADER_LOCK_TTL", 55),
		},
		Realtime: RealtimeConfig{
			AuthKey:          getEnv("REALTIME_AUTH_KEY", ""),
			HeartbeatSeconds: getEnvInt("REALTIME_HEARTBEAT_SECONDS", 30),
			ClientQueueSize:  getEnvInt("REALTIME_CLIENT_QUEUE_SIZE", 64),
		},
		Security: SecurityConfig{
			SecretKey:     getEnv("APP_SECRET_KEY", insecureDefaultSecret),
			JWTSecret:     getEnv("AUTH_JWT_SECRET", ""),
			TokenTTLHours: getEnvInt("AUTH_TOKEN_TTL_HOURS", 12),
		},
		APIKeys: APIKeysConfig{
			Gemini: getEnv("GEMINI_API_KEY", ""),
			OpenAI: getEnv("OPENAI_API_KEY", ""),
			Claude: getEnv("CLAUDE_API_KEY", ""),
			AI:     getEnv("AI_API_KEY", ""),
		},
		Integrations: IntegrationsConfig{
			BitrixBaseURL:   getEnv("BITRIX_BASE_URL", ""),
			BitrixAuthToken: getEnv("BITRIX_AUTH_TOKEN", ""),
		},
	}

	// En desarrollo aceptamos defaults; en producción exigimos todo explícito
	if cfg.App.Environment == "development" && cfg.Provider.APIVersion == "" {
		cfg.Provider.APIVersion = "v20.0"
	}
	if cfg.Security.JWTSecret == "" {
		cfg.Security.JWTSecret = cfg.Security.SecretKey
	}

	if problems := cfg.validate(); len(problems) > 0 {
		return nil, fmt.Errorf("invalid configuration:\n  - %s", strings.Join(problems, "\n  - "))
	}

	Global = cfg
	return cfg, nil
}

// validate collects every problem instead of stopping at the first one so a
// misconfigured deployment gets a single complete report.
func (c *Config) validate() []string {
	var problems []string

	if c.Provider.APIVersion == "" {
		problems = append(problems, "WHATSAPP_API_VERSION is required (e.g. v20.0)")
	} else if !apiVersionRe.MatchString(c.Provider.APIVersion) {
		problems = append(problems, fmt.Sprintf("WHATSAPP_API_VERSION %q is not a valid Graph API version (expected vNN or vNN.N)", c.Provider.APIVersion))
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Name == "" {
			problems = append(problems, "DB_NAME is required for the sqlite driver (database file path)")
		}
	case "postgres":
		if c.Database.Name == "" {
			problems = append(problems, "DB_NAME is required for the postgres driver")
		}
	default:
		problems = append(problems, fmt.Sprintf("DB_DRIVER %q is not supported (sqlite, postgres)", c.Database.Driver))
	}

	if c.Security.SecretKey == "" {
		problems = append(problems, "APP_SECRET_KEY is required (derives the at-rest encryption key)")
	} else if c.App.Environment == "production" && c.Security.SecretKey == insecureDefaultSecret {
		problems = append(problems, "APP_SECRET_KEY must be changed from its default value in production")
	}

	if c.App.Timezone == "" {
		problems = append(problems, "APP_TIMEZONE is required (e.g. America/Lima)")
	}
	if c.App.Locale == "" {
		problems = append(problems, "APP_LOCALE is required (e.g. es_PE)")
	}

	if c.WorkerPool.Size < 1 {
		problems = append(problems, "MESSAGE_WORKER_POOL_SIZE must be >= 1")
	}
	if c.WorkerPool.QueueSize < 1 {
		problems = append(problems, "MESSAGE_WORKER_QUEUE_SIZE must be >= 1")
	}
	if c.Scheduler.IntervalSeconds < 1 {
		problems = append(problems, "SCHEDULER_INTERVAL_SECONDS must be >= 1")
	}
	if c.Provider.SendTimeoutSeconds < 1 {
		problems = append(problems, "WHATSAPP_SEND_TIMEOUT_SECONDS must be >= 1")
	}

	return problems
}

// PostgresDSN builds the lib/pq style DSN for the configured database.
func (c *DatabaseConfig) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// SQLiteDSN builds the sqlite DSN with WAL and foreign keys enabled.
func (c *DatabaseConfig) SQLiteDSN() string {
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on", c.Name)
}
