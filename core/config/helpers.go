package config

import (
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

func init() {
	// las claves se consultan ya en mayúsculas, estilo APP_PORT
	viper.AutomaticEnv()
}

// GetAllSettings returns a map of the dynamic settings currently loaded in
// memory, for the admin settings endpoint.
func GetAllSettings() map[string]any {
	if Global == nil {
		return map[string]any{}
	}
	return map[string]any{
		"provider_api_version":      Global.Provider.APIVersion,
		"provider_max_file_size":    Global.Provider.MaxFileSize,
		"provider_max_video_size":   Global.Provider.MaxVideoSize,
		"ai_global_system_prompt":   Global.AI.GlobalSystemPrompt,
		"ai_debounce_ms":            Global.AI.DebounceMs,
		"ai_wait_contact_idle_ms":   Global.AI.WaitContactIdleMs,
		"ai_typing_enabled":         Global.AI.TypingEnabled,
		"app_timezone":              Global.App.Timezone,
		"app_locale":                Global.App.Locale,
		"app_maintenance":           Global.App.Maintenance,
		"app_debug":                 Global.App.Debug,
		"app_version":               Global.App.Version,
		"scheduler_interval_second": Global.Scheduler.IntervalSeconds,
	}
}

// Helpers
func getEnv(key, fallback string) string {
	if v := viper.GetString(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := viper.GetString(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v := viper.GetString(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := viper.GetString(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := viper.GetString(key); v != "" {
		vLower := strings.ToLower(v)
		return vLower == "1" || vLower == "true" || vLower == "yes" || vLower == "on"
	}
	return fallback
}
