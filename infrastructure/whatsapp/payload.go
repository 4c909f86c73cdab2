package whatsapp

import (
	"strings"

	"github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/utils"
	"github.com/sirupsen/logrus"
)

// Límites del Cloud API para mensajes interactivos.
const (
	MaxButtons        = 3
	MaxButtonTitleLen = 20
	MaxListRows       = 10
	MaxListRowTitle   = 24
)

// OutboundOption es una opción de botones o de lista en forma neutra.
type OutboundOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// TextPayload arma el payload de texto con vista previa de enlaces
// deshabilitada.
func TextPayload(toPhone, body string) map[string]interface{} {
	return map[string]interface{}{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                utils.DigitsOnly(toPhone),
		"type":              "text",
		"text": map[string]interface{}{
			"body":        body,
			"preview_url": false,
		},
	}
}

// InteractivePayload arma botones o lista según la cantidad de opciones: hasta
// MaxButtons salen como botones con título truncado a 20 caracteres; con más
// opciones todo el mensaje se convierte en una única lista.
func InteractivePayload(toPhone, body string, options []OutboundOption) map[string]interface{} {
	if len(options) <= MaxButtons {
		return buttonsPayload(toPhone, body, options)
	}
	return listPayload(toPhone, body, options)
}

func buttonsPayload(toPhone, body string, options []OutboundOption) map[string]interface{} {
	buttons := make([]map[string]interface{}, 0, len(options))
	for _, opt := range options {
		buttons = append(buttons, map[string]interface{}{
			"type": "reply",
			"reply": map[string]interface{}{
				"id":    opt.ID,
				"title": TruncateLabel(opt.Label, MaxButtonTitleLen),
			},
		})
	}
	return map[string]interface{}{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                utils.DigitsOnly(toPhone),
		"type":              "interactive",
		"interactive": map[string]interface{}{
			"type":   "button",
			"body":   map[string]interface{}{"text": body},
			"action": map[string]interface{}{"buttons": buttons},
		},
	}
}

func listPayload(toPhone, body string, options []OutboundOption) map[string]interface{} {
	if len(options) > MaxListRows {
		logrus.Warnf("[CLOUDAPI] List message capped at %d rows, dropping %d options", MaxListRows, len(options)-MaxListRows)
		options = options[:MaxListRows]
	}
	rows := make([]map[string]interface{}, 0, len(options))
	for _, opt := range options {
		rows = append(rows, map[string]interface{}{
			"id":    opt.ID,
			"title": TruncateLabel(opt.Label, MaxListRowTitle),
		})
	}
	return map[string]interface{}{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                utils.DigitsOnly(toPhone),
		"type":              "interactive",
		"interactive": map[string]interface{}{
			"type": "list",
			"body": map[string]interface{}{"text": body},
			"action": map[string]interface{}{
				"button":   "Ver opciones",
				"sections": []map[string]interface{}{{"rows": rows}},
			},
		},
	}
}

// MediaPayload arma el envío de media: por link si la URL es HTTPS pública, o
// por id de media ya subido al proveedor. Caption aplica a image/video/document.
func MediaPayload(toPhone, mediaType, urlOrID, caption, filename string) map[string]interface{} {
	media := map[string]interface{}{}
	if strings.HasPrefix(urlOrID, "https://") {
		media["link"] = urlOrID
	} else {
		media["id"] = urlOrID
	}
	switch mediaType {
	case "image", "video", "document":
		if caption != "" {
			media["caption"] = caption
		}
	}
	if mediaType == "document" && filename != "" {
		media["filename"] = filename
	}
	return map[string]interface{}{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                utils.DigitsOnly(toPhone),
		"type":              mediaType,
		mediaType:           media,
	}
}

// TemplatePayload arma el envío de plantilla para reenganchar fuera de la
// ventana de 24 horas de servicio al cliente.
func TemplatePayload(toPhone, name, language string, bodyParams []string) map[string]interface{} {
	tmpl := map[string]interface{}{
		"name":     name,
		"language": map[string]interface{}{"code": language},
	}
	if len(bodyParams) > 0 {
		params := make([]map[string]interface{}, 0, len(bodyParams))
		for _, p := range bodyParams {
			params = append(params, map[string]interface{}{"type": "text", "text": p})
		}
		tmpl["components"] = []map[string]interface{}{
			{"type": "body", "parameters": params},
		}
	}
	return map[string]interface{}{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                utils.DigitsOnly(toPhone),
		"type":              "template",
		"template":          tmpl,
	}
}

// TruncateLabel corta una etiqueta al límite del canal respetando runas.
func TruncateLabel(label string, max int) string {
	r := []rune(strings.TrimSpace(label))
	if len(r) <= max {
		return string(r)
	}
	return string(r[:max-1]) + "…"
}
