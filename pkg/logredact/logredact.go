package logredact

import (
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
)

const mask = "[REDACTED]"

// Claves cuyo valor nunca debe llegar a un log, en campo o en mensaje.
var sensitiveKeys = []string{
	"access_token",
	"refresh_token",
	"verify_token",
	"authorization",
	"password",
	"password_hash",
	"api_key",
	"apikey",
	"secret",
	"token",
}

var (
	// Authorization: Bearer xxxx / "bearer xxxx" en texto libre
	bearerRe = regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/=-]{8,}`)
	// Cualquier cosa con forma de JWT (tres segmentos base64url)
	jwtRe = regexp.MustCompile(`eyJ[A-Za-z0-9_-]{4,}\.[A-Za-z0-9_-]{4,}\.[A-Za-z0-9_-]*`)
)

// Mask limpia un string libre de tokens bearer y JWTs.
func Mask(s string) string {
	s = bearerRe.ReplaceAllString(s, "Bearer "+mask)
	s = jwtRe.ReplaceAllString(s, mask)
	return s
}

// IsSensitiveKey reporta si el nombre de campo corresponde a un secreto.
func IsSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if k == s || strings.HasSuffix(k, "_"+s) {
			return true
		}
	}
	return false
}

// Hook es un logrus.Hook que enmascara campos sensibles y tokens embebidos en
// el mensaje antes de que cualquier formatter los emita.
type Hook struct{}

func NewHook() *Hook { return &Hook{} }

func (h *Hook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *Hook) Fire(entry *logrus.Entry) error {
	for k, v := range entry.Data {
		if IsSensitiveKey(k) {
			entry.Data[k] = mask
			continue
		}
		if s, ok := v.(string); ok {
			entry.Data[k] = Mask(s)
		}
	}
	entry.Message = Mask(entry.Message)
	return nil
}
