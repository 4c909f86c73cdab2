package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/CYM-Peru/Bot-AI-V1-sub006/crm/domain"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/crm/usecase"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/timeutils"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/utils"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// QueryHandler expone consultas de solo lectura del CRM como tools MCP para
// agentes externos (supervisión, análisis).
type QueryHandler struct {
	convs    domain.IConversationRepository
	queues   domain.IQueueRepository
	advisors domain.IAdvisorRepository
	reports  usecase.IReportUsecase
}

func InitMcpQuery(
	convs domain.IConversationRepository,
	queues domain.IQueueRepository,
	advisors domain.IAdvisorRepository,
	reports usecase.IReportUsecase,
) *QueryHandler {
	return &QueryHandler{convs: convs, queues: queues, advisors: advisors, reports: reports}
}

func (h *QueryHandler) AddQueryTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(h.toolFindConversation(), h.handleFindConversation)
	mcpServer.AddTool(h.toolConversationMessages(), h.handleConversationMessages)
	mcpServer.AddTool(h.toolQueueStats(), h.handleQueueStats)
	mcpServer.AddTool(h.toolBusinessHours(), h.handleBusinessHours)
	mcpServer.AddTool(h.toolDailyReport(), h.handleDailyReport)
}

func (h *QueryHandler) toolFindConversation() mcp.Tool {
	return mcp.NewTool(
		"crm_find_conversation",
		mcp.WithDescription("Find CRM conversations by contact phone number. Returns ticket number, status, queue and assignment."),
		mcp.WithTitleAnnotation("Find Conversation"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithString("phone",
			mcp.Description("Contact phone number in any format; it will be normalized to digits."),
			mcp.Required(),
		),
	)
}

func (h *QueryHandler) handleFindConversation(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	phone, err := request.RequireString("phone")
	if err != nil {
		return nil, err
	}

	convs, err := h.convs.List(ctx, domain.ConversationFilter{
		Search: utils.NormalizePhone(phone),
		Limit:  20,
	})
	if err != nil {
		return nil, err
	}

	fallback := fmt.Sprintf("Found %d conversations for %s", len(convs), phone)
	return mcp.NewToolResultStructured(map[string]interface{}{"conversations": convs}, fallback), nil
}

func (h *QueryHandler) toolConversationMessages() mcp.Tool {
	return mcp.NewTool(
		"crm_conversation_messages",
		mcp.WithDescription("Retrieve the most recent messages of a conversation, newest last."),
		mcp.WithTitleAnnotation("Conversation Messages"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithString("conversation_id",
			mcp.Description("The conversation id returned by crm_find_conversation."),
			mcp.Required(),
		),
	)
}

func (h *QueryHandler) handleConversationMessages(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	conversationID, err := request.RequireString("conversation_id")
	if err != nil {
		return nil, err
	}

	msgs, err := h.convs.ListMessages(ctx, conversationID, 50, nil)
	if err != nil {
		return nil, err
	}

	fallback := fmt.Sprintf("Conversation %s has %d recent messages", conversationID, len(msgs))
	return mcp.NewToolResultStructured(map[string]interface{}{"messages": msgs}, fallback), nil
}

func (h *QueryHandler) toolQueueStats() mcp.Tool {
	return mcp.NewTool(
		"crm_queue_stats",
		mcp.WithDescription("Current state of every queue: pending chats waiting for a human and advisors online."),
		mcp.WithTitleAnnotation("Queue Stats"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
	)
}

type queueStat struct {
	QueueID        string `json:"queue_id"`
	Name           string `json:"name"`
	Pending        int    `json:"pending"`
	AdvisorsOnline int    `json:"advisors_online"`
}

func (h *QueryHandler) handleQueueStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	_ = request
	queues, err := h.queues.List(ctx)
	if err != nil {
		return nil, err
	}
	online, err := h.advisors.ListOnlineAdvisors(ctx)
	if err != nil {
		return nil, err
	}
	onlineSet := make(map[string]bool, len(online))
	for _, id := range online {
		onlineSet[id] = true
	}

	stats := make([]queueStat, 0, len(queues))
	totalPending := 0
	for _, q := range queues {
		pending, err := h.convs.ListQueued(ctx, q.ID)
		if err != nil {
			return nil, err
		}
		connected := 0
		for _, advisorID := range q.AssignedAdvisors {
			if onlineSet[advisorID] {
				connected++
			}
		}
		stats = append(stats, queueStat{
			QueueID:        q.ID,
			Name:           q.Name,
			Pending:        len(pending),
			AdvisorsOnline: connected,
		})
		totalPending += len(pending)
	}

	fallback := fmt.Sprintf("%d queues, %d chats pending", len(stats), totalPending)
	return mcp.NewToolResultStructured(map[string]interface{}{"queues": stats}, fallback), nil
}

func (h *QueryHandler) toolBusinessHours() mcp.Tool {
	return mcp.NewTool(
		"crm_business_hours",
		mcp.WithDescription("Whether each queue is inside its attention window right now, in the business timezone."),
		mcp.WithTitleAnnotation("Business Hours"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
	)
}

type queueHours struct {
	QueueID string `json:"queue_id"`
	Name    string `json:"name"`
	Open    bool   `json:"open"`
}

func (h *QueryHandler) handleBusinessHours(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	_ = request
	queues, err := h.queues.List(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	day, clock := timeutils.Describe(now)
	hours := make([]queueHours, 0, len(queues))
	openCount := 0
	for _, q := range queues {
		open := len(q.Schedule) == 0 || q.Schedule.IsOpenAt(now)
		hours = append(hours, queueHours{QueueID: q.ID, Name: q.Name, Open: open})
		if open {
			openCount++
		}
	}

	fallback := fmt.Sprintf("%s %s: %d of %d queues open", day, clock, openCount, len(hours))
	return mcp.NewToolResultStructured(map[string]interface{}{
		"day":    day,
		"time":   clock,
		"queues": hours,
	}, fallback), nil
}

func (h *QueryHandler) toolDailyReport() mcp.Tool {
	return mcp.NewTool(
		"crm_daily_report",
		mcp.WithDescription("Operational report for one business day in TOON text format (closed chats, response times, per queue breakdown)."),
		mcp.WithTitleAnnotation("Daily Report"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithString("day",
			mcp.Description("Business day as YYYY-MM-DD. Defaults to today."),
		),
	)
}

func (h *QueryHandler) handleDailyReport(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	day := request.GetString("day", "")

	report, err := h.reports.Daily(ctx, day)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(report), nil
}
