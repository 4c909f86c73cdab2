package application

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/CYM-Peru/Bot-AI-V1-sub006/botengine/domain"
	crmDomain "github.com/CYM-Peru/Bot-AI-V1-sub006/crm/domain"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/integrations/bitrix"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/integrations/vision"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/timeutils"
	"github.com/sirupsen/logrus"
)

// Tipos de cola que el modelo puede nombrar en transfer_to_queue y
// check_business_hours. QueueMap los resuelve a IDs reales.
const (
	QueueTypeSales     = "sales"
	QueueTypeSupport   = "support"
	QueueTypeProspects = "prospects"
)

// ConversationTransferrer es lo que las herramientas necesitan del store.
type ConversationTransferrer interface {
	TransferToQueue(ctx context.Context, conversationID, expectOwner, queueID, reason string) (crmDomain.Conversation, error)
}

// MessageSender es el recorte del OutboundSender que usa el agente.
type MessageSender interface {
	SendText(ctx context.Context, conv *crmDomain.Conversation, text, sentBy string) (*crmDomain.Message, error)
	SendMedia(ctx context.Context, conv *crmDomain.Conversation, mediaType, urlOrID, caption, filename, sentBy string) (*crmDomain.Message, error)
}

// KnowledgeSearcher responde consultas contra la base de conocimiento.
type KnowledgeSearcher interface {
	Search(ctx context.Context, conversationID, query, category string) (domain.SearchResult, error)
}

// QueueNotifier despierta la asignación cuando una conversación entra en cola.
type QueueNotifier interface {
	Notify(trigger crmDomain.DispatchTrigger, queueID string)
}

// CatalogAsset es un catálogo de marca listo para enviar como documento.
type CatalogAsset struct {
	Brand         string
	URL           string
	URLWithPrices string
	Filename      string
}

// ToolDeps reúne las dependencias de las herramientas nativas. Los campos
// opcionales (CRM, Vision, Dispatcher) pueden quedar en nil y la herramienta
// correspondiente degrada con un resultado de error hacia el modelo.
type ToolDeps struct {
	Store      ConversationTransferrer
	Sender     MessageSender
	Queues     crmDomain.IQueueRepository
	Knowledge  KnowledgeSearcher
	CRM        bitrix.Adapter
	Vision     vision.Adapter
	Dispatcher QueueNotifier

	// QueueMap resuelve queue_type lógico a ID de cola del CRM.
	QueueMap map[string]string
	Catalogs []CatalogAsset
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// nativeTools arma las siete herramientas del agente comercial.
func nativeTools(deps ToolDeps) []*domain.NativeTool {
	return []*domain.NativeTool{
		searchKnowledgeBaseTool(deps),
		sendCatalogsTool(deps),
		transferToQueueTool(deps),
		checkBusinessHoursTool(deps),
		saveLeadInfoTool(deps),
		extractTextOCRTool(deps),
		endConversationTool(),
	}
}

func searchKnowledgeBaseTool(deps ToolDeps) *domain.NativeTool {
	return &domain.NativeTool{
		Tool: domain.Tool{
			Name:        "search_knowledge_base",
			Description: "Busca en la base de conocimiento de la empresa (productos, precios, políticas, cobertura). Úsala antes de responder preguntas de negocio.",
			Parameters: objectSchema(map[string]any{
				"query":    map[string]any{"type": "string", "description": "Pregunta o tema a buscar"},
				"category": map[string]any{"type": "string", "description": "Categoría opcional para acotar la búsqueda"},
			}, "query"),
		},
		Handler: func(ctx context.Context, tc domain.ToolContext, args map[string]any) (map[string]any, error) {
			query := argString(args, "query")
			if query == "" {
				return map[string]any{"found": false, "error": "query is required"}, nil
			}
			if deps.Knowledge == nil {
				return map[string]any{"found": false, "error": "knowledge base not configured"}, nil
			}
			category := argString(args, "category")
			if category == "" {
				category = tc.KnowledgeCategory
			}
			res, err := deps.Knowledge.Search(ctx, tc.Conversation.ID, query, category)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"found":       res.Found,
				"answer":      res.Answer,
				"chunks_used": res.ChunksUsed,
				"cost":        res.CostUSD,
			}, nil
		},
	}
}

func sendCatalogsTool(deps ToolDeps) *domain.NativeTool {
	return &domain.NativeTool{
		Tool: domain.Tool{
			Name:        "send_catalogs",
			Description: "Envía al cliente los catálogos de producto como documentos. Puede filtrar por marca e incluir la versión con precios.",
			Parameters: objectSchema(map[string]any{
				"with_prices":   map[string]any{"type": "boolean", "description": "Enviar la versión con precios"},
				"brands":        map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Marcas a enviar; vacío envía todas"},
				"customer_note": map[string]any{"type": "string", "description": "Nota breve para acompañar el envío"},
			}),
		},
		Handler: func(ctx context.Context, tc domain.ToolContext, args map[string]any) (map[string]any, error) {
			if len(deps.Catalogs) == 0 {
				return map[string]any{"sent": 0, "error": "no catalogs configured"}, nil
			}
			withPrices := argBool(args, "with_prices")
			brands := argStrings(args, "brands")
			note := argString(args, "customer_note")

			sent := []string{}
			for _, asset := range deps.Catalogs {
				if len(brands) > 0 && !containsFold(brands, asset.Brand) {
					continue
				}
				url := asset.URL
				if withPrices && asset.URLWithPrices != "" {
					url = asset.URLWithPrices
				}
				caption := "Catálogo " + asset.Brand
				if note != "" {
					caption += "\n" + note
				}
				if _, err := deps.Sender.SendMedia(ctx, tc.Conversation, "document", url, caption, asset.Filename, crmDomain.AssignedToBot); err != nil {
					logrus.WithError(err).Warnf("[AGENT] Could not send catalog %s", asset.Brand)
					continue
				}
				sent = append(sent, asset.Brand)
			}
			return map[string]any{"sent": len(sent), "brands": sent}, nil
		},
	}
}

func transferToQueueTool(deps ToolDeps) *domain.NativeTool {
	return &domain.NativeTool{
		Tool: domain.Tool{
			Name:        "transfer_to_queue",
			Description: "Deriva la conversación a un equipo humano. Úsala cuando el cliente lo pida o cuando el caso exceda tus capacidades.",
			Parameters: objectSchema(map[string]any{
				"queue_type":    map[string]any{"type": "string", "enum": []string{QueueTypeSales, QueueTypeSupport, QueueTypeProspects}},
				"reason":        map[string]any{"type": "string", "description": "Motivo de la derivación"},
				"customer_info": map[string]any{"type": "string", "description": "Resumen del cliente para el asesor"},
			}, "queue_type", "reason"),
		},
		Handler: func(ctx context.Context, tc domain.ToolContext, args map[string]any) (map[string]any, error) {
			queueType := argString(args, "queue_type")
			queueID, ok := deps.QueueMap[queueType]
			if !ok || queueID == "" {
				return map[string]any{"error": fmt.Sprintf("unknown queue_type %q", queueType)}, nil
			}
			reason := argString(args, "reason")
			if info := argString(args, "customer_info"); info != "" {
				reason = strings.TrimSpace(reason + " | " + info)
			}
			if _, err := deps.Store.TransferToQueue(ctx, tc.Conversation.ID, crmDomain.AssignedToBot, queueID, reason); err != nil {
				return nil, err
			}
			if deps.Dispatcher != nil {
				deps.Dispatcher.Notify(crmDomain.TriggerChatQueued, queueID)
			}
			return map[string]any{
				domain.ActionKey: domain.ActionTransfer,
				"queue_type":     queueType,
				"queue_id":       queueID,
			}, nil
		},
	}
}

func checkBusinessHoursTool(deps ToolDeps) *domain.NativeTool {
	return &domain.NativeTool{
		Tool: domain.Tool{
			Name:        "check_business_hours",
			Description: "Consulta si un equipo está en horario de atención antes de ofrecer una derivación.",
			Parameters: objectSchema(map[string]any{
				"queue_type": map[string]any{"type": "string", "enum": []string{QueueTypeSales, QueueTypeSupport, QueueTypeProspects}},
			}, "queue_type"),
		},
		Handler: func(ctx context.Context, tc domain.ToolContext, args map[string]any) (map[string]any, error) {
			queueType := argString(args, "queue_type")
			var sched timeutils.WeeklySchedule
			queueName := queueType
			if queueID := deps.QueueMap[queueType]; queueID != "" && deps.Queues != nil {
				if q, err := deps.Queues.GetByID(ctx, queueID); err == nil {
					sched = q.Schedule
					queueName = q.Name
				}
			}
			now := time.Now()
			day, clock := timeutils.Describe(now)
			// Cola sin horario configurado atiende siempre
			isOpen := len(sched) == 0 || sched.IsOpenAt(now)
			return map[string]any{
				"is_open":      isOpen,
				"current_day":  day,
				"current_time": clock,
				"schedule":     describeSchedule(sched),
				"queue":        queueName,
			}, nil
		},
	}
}

func saveLeadInfoTool(deps ToolDeps) *domain.NativeTool {
	return &domain.NativeTool{
		Tool: domain.Tool{
			Name:        "save_lead_info",
			Description: "Guarda en el CRM los datos de un prospecto a medida que los entrega. Llámala apenas tengas datos nuevos.",
			Parameters: objectSchema(map[string]any{
				"phone":         map[string]any{"type": "string", "description": "Teléfono del cliente"},
				"name":          map[string]any{"type": "string"},
				"location":      map[string]any{"type": "string"},
				"business_type": map[string]any{"type": "string"},
				"interest":      map[string]any{"type": "string"},
				"notes":         map[string]any{"type": "string"},
			}, "phone"),
		},
		Handler: func(ctx context.Context, tc domain.ToolContext, args map[string]any) (map[string]any, error) {
			if deps.CRM == nil {
				return map[string]any{"saved": false, "error": "crm not configured"}, nil
			}
			phone := argString(args, "phone")
			if phone == "" {
				phone = tc.Conversation.RemotePhone
			}
			lead := bitrix.Lead{
				Phone:        phone,
				Name:         argString(args, "name"),
				Location:     argString(args, "location"),
				BusinessType: argString(args, "business_type"),
				Interest:     argString(args, "interest"),
				Notes:        argString(args, "notes"),
			}
			// Mejor esfuerzo: un CRM caído no debe tumbar el turno del agente
			if err := deps.CRM.SaveLead(ctx, lead); err != nil {
				logrus.WithError(err).Warnf("[AGENT] Could not save lead for conversation %s", tc.Conversation.ID)
				return map[string]any{"saved": false}, nil
			}
			return map[string]any{"saved": true}, nil
		},
	}
}

func extractTextOCRTool(deps ToolDeps) *domain.NativeTool {
	return &domain.NativeTool{
		Tool: domain.Tool{
			Name:        "extract_text_ocr",
			Description: "Extrae el texto de una imagen enviada por el cliente (vouchers, DNI, recetas, documentos).",
			Parameters: objectSchema(map[string]any{
				"image_url":     map[string]any{"type": "string", "description": "URL de la imagen a procesar"},
				"document_type": map[string]any{"type": "string", "description": "Tipo de documento esperado (voucher, dni, receta, otro)"},
				"purpose":       map[string]any{"type": "string", "description": "Qué dato se busca en el documento"},
			}, "image_url", "document_type"),
		},
		Handler: func(ctx context.Context, tc domain.ToolContext, args map[string]any) (map[string]any, error) {
			if deps.Vision == nil {
				return map[string]any{"found": false, "error": "ocr not configured"}, nil
			}
			imageURL := argString(args, "image_url")
			if imageURL == "" {
				return map[string]any{"found": false, "error": "image_url is required"}, nil
			}
			res, err := deps.Vision.ExtractText(ctx, imageURL, argString(args, "document_type"), argString(args, "purpose"))
			if err != nil {
				logrus.WithError(err).Warnf("[AGENT] OCR failed on conversation %s", tc.Conversation.ID)
				return map[string]any{"found": false}, nil
			}
			return map[string]any{
				"found":   res.Text != "",
				"text":    res.Text,
				"context": res.Context,
			}, nil
		},
	}
}

func endConversationTool() *domain.NativeTool {
	return &domain.NativeTool{
		Tool: domain.Tool{
			Name:        "end_conversation",
			Description: "Cierra el turno del asistente cuando el cliente ya fue atendido o se despide.",
			Parameters: objectSchema(map[string]any{
				"reason":             map[string]any{"type": "string"},
				"customer_satisfied": map[string]any{"type": "boolean"},
			}, "reason"),
		},
		Handler: func(ctx context.Context, tc domain.ToolContext, args map[string]any) (map[string]any, error) {
			return map[string]any{
				domain.ActionKey:     domain.ActionEnd,
				"reason":             argString(args, "reason"),
				"customer_satisfied": argBool(args, "customer_satisfied"),
			}, nil
		},
	}
}

// describeSchedule arma el horario semanal legible que se entrega al modelo,
// de lunes a domingo.
func describeSchedule(sched timeutils.WeeklySchedule) string {
	if len(sched) == 0 {
		return "atención continua"
	}
	dayNames := map[int]string{
		0: "domingo", 1: "lunes", 2: "martes", 3: "miércoles",
		4: "jueves", 5: "viernes", 6: "sábado",
	}
	order := []int{1, 2, 3, 4, 5, 6, 0}
	var parts []string
	for _, d := range order {
		ds, ok := sched[d]
		if !ok || ds.Closed {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s %s-%s", dayNames[d], ds.Open, ds.Close))
	}
	if len(parts) == 0 {
		return "cerrado toda la semana"
	}
	return strings.Join(parts, ", ")
}

func argString(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	if v, ok := args[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func argBool(args map[string]any, key string) bool {
	if args == nil {
		return false
	}
	v, _ := args[key].(bool)
	return v
}

func argStrings(args map[string]any, key string) []string {
	if args == nil {
		return nil
	}
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range raw {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

func containsFold(list []string, target string) bool {
	for _, item := range list {
		if strings.EqualFold(item, target) {
			return true
		}
	}
	return false
}
