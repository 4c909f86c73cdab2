package application

import (
	"regexp"
	"strings"

	"github.com/CYM-Peru/Bot-AI-V1-sub006/integrations/bitrix"
)

// tokenPattern cubre {{entity:CAMPO}} y {{variable}}. La sustitución ocurre
// solo al materializar el saliente; el mensaje guardado ya lleva el texto
// sustituido.
var tokenPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+(?::[A-Za-z0-9_]+)?)\s*\}\}`)

// Substitute reemplaza tokens con variables de sesión y campos del contacto
// del CRM. Un token sin valor se deja literal, nunca se borra: el autor del
// flujo lo ve en el chat y corrige la definición.
func Substitute(text string, vars map[string]string, contact *bitrix.Contact) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	return tokenPattern.ReplaceAllStringFunc(text, func(match string) string {
		token := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(match, "{{"), "}}"))

		if field, ok := strings.CutPrefix(token, "entity:"); ok {
			if contact == nil {
				return match
			}
			switch strings.ToUpper(field) {
			case "NAME":
				if contact.Name != "" {
					return contact.Name
				}
			case "PHONE":
				if contact.Phone != "" {
					return contact.Phone
				}
			default:
				if v, ok := contact.Fields[strings.ToUpper(field)]; ok && v != "" {
					return v
				}
			}
			return match
		}

		if v, ok := vars[token]; ok && v != "" {
			return v
		}
		return match
	})
}
