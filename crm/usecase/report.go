package usecase

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/CYM-Peru/Bot-AI-V1-sub006/crm/domain"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/activitymon"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/timeutils"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/toon"
)

// IReportUsecase renderiza los reportes operativos en formato TOON. El
// consumidor principal es un agente de IA, así que el texto es estable y
// parseable, no prosa.
type IReportUsecase interface {
	Daily(ctx context.Context, day string) (string, error)
	Weekly(ctx context.Context, toDay string) (string, error)
	Performance(ctx context.Context, days int) (string, error)
	Problems(ctx context.Context) (string, error)
}

type ReportUsecase struct {
	metrics domain.IMetricsRepository
}

func NewReportUsecase(metrics domain.IMetricsRepository) *ReportUsecase {
	return &ReportUsecase{metrics: metrics}
}

// Daily resume las conversaciones cerradas de un día de negocio. day viene
// como YYYY-MM-DD; vacío significa hoy.
func (u *ReportUsecase) Daily(ctx context.Context, day string) (string, error) {
	if day == "" {
		day = timeutils.BusinessDay(time.Now())
	}
	rows, err := u.metrics.QueryMetricsByDay(ctx, day)
	if err != nil {
		return "", err
	}

	agg := aggregate(rows)
	b := toon.NewBuilder()
	b.Section("daily_report").
		KV("day", day).
		KV("conversations_closed", len(rows)).
		KV("bot_handled", agg.botHandled).
		KV("transferred_to_human", agg.transferred).
		KV("messages_in", agg.messagesIn).
		KV("messages_out", agg.messagesOut).
		KV("avg_first_response_seconds", agg.avgFirstResponse).
		KV("avg_resolution_seconds", agg.avgResolution)

	b.Table("by_queue", []string{"queue_id", "closed", "avg_resolution_s"}, queueRows(rows))
	b.End()
	return b.String(), nil
}

// Weekly cubre los 7 días de negocio que terminan en toDay (hoy por defecto).
func (u *ReportUsecase) Weekly(ctx context.Context, toDay string) (string, error) {
	end := time.Now()
	if toDay != "" {
		parsed, err := time.Parse("2006-01-02", toDay)
		if err != nil {
			return "", fmt.Errorf("invalid day %q: %w", toDay, err)
		}
		end = parsed
	}
	from := timeutils.BusinessDay(end.AddDate(0, 0, -6))
	to := timeutils.BusinessDay(end)

	rows, err := u.metrics.QueryMetricsRange(ctx, from, to)
	if err != nil {
		return "", err
	}

	byDay := map[string][]domain.ConversationMetric{}
	for _, m := range rows {
		byDay[m.Day] = append(byDay[m.Day], m)
	}
	days := make([]string, 0, len(byDay))
	for d := range byDay {
		days = append(days, d)
	}
	sort.Strings(days)

	var tableRows [][]string
	for _, d := range days {
		agg := aggregate(byDay[d])
		tableRows = append(tableRows, []string{
			d,
			strconv.Itoa(len(byDay[d])),
			strconv.FormatInt(agg.botHandled, 10),
			strconv.FormatInt(agg.transferred, 10),
			strconv.FormatInt(agg.avgResolution, 10),
		})
	}

	agg := aggregate(rows)
	b := toon.NewBuilder()
	b.Section("weekly_report").
		KV("from", from).
		KV("to", to).
		KV("conversations_closed", len(rows)).
		KV("avg_first_response_seconds", agg.avgFirstResponse).
		KV("avg_resolution_seconds", agg.avgResolution)
	b.Table("by_day", []string{"day", "closed", "bot_handled", "transferred", "avg_resolution_s"}, tableRows)
	b.End()
	return b.String(), nil
}

// Performance agrupa por asesor los cierres de los últimos N días.
func (u *ReportUsecase) Performance(ctx context.Context, days int) (string, error) {
	if days <= 0 || days > 90 {
		days = 7
	}
	now := time.Now()
	from := timeutils.BusinessDay(now.AddDate(0, 0, -(days - 1)))
	to := timeutils.BusinessDay(now)

	rows, err := u.metrics.QueryMetricsRange(ctx, from, to)
	if err != nil {
		return "", err
	}

	type advisorAgg struct {
		closed        int
		firstResponse int64
		resolution    int64
		messagesOut   int
	}
	byAdvisor := map[string]*advisorAgg{}
	for _, m := range rows {
		if m.AdvisorID == "" {
			continue
		}
		a, ok := byAdvisor[m.AdvisorID]
		if !ok {
			a = &advisorAgg{}
			byAdvisor[m.AdvisorID] = a
		}
		a.closed++
		a.firstResponse += m.FirstResponseSeconds
		a.resolution += m.ResolutionSeconds
		a.messagesOut += m.MessagesOut
	}

	ids := make([]string, 0, len(byAdvisor))
	for id := range byAdvisor {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var tableRows [][]string
	for _, id := range ids {
		a := byAdvisor[id]
		tableRows = append(tableRows, []string{
			id,
			strconv.Itoa(a.closed),
			strconv.FormatInt(a.firstResponse/int64(a.closed), 10),
			strconv.FormatInt(a.resolution/int64(a.closed), 10),
			strconv.Itoa(a.messagesOut),
		})
	}

	b := toon.NewBuilder()
	b.Section("performance_report").
		KV("from", from).
		KV("to", to).
		KV("advisors", len(tableRows))
	b.Table("by_advisor", []string{"advisor_id", "closed", "avg_first_response_s", "avg_resolution_s", "messages_out"}, tableRows)
	b.End()
	return b.String(), nil
}

// Problems junta las señales de deterioro: errores recientes del monitor de
// actividad, consultas RAG sin respuesta, tickets abiertos y alertas sin
// resolver.
func (u *ReportUsecase) Problems(ctx context.Context) (string, error) {
	stats := activitymon.GetStats()

	since := time.Now().Add(-24 * time.Hour)
	rag, err := u.metrics.ListRagUsage(ctx, since)
	if err != nil {
		return "", err
	}
	ragMisses := 0
	for _, r := range rag {
		if !r.Found {
			ragMisses++
		}
	}

	tickets, err := u.metrics.ListTickets(ctx, domain.TicketOpen)
	if err != nil {
		return "", err
	}
	alerts, err := u.metrics.ListAlerts(ctx, false)
	if err != nil {
		return "", err
	}

	var errorRows [][]string
	for _, e := range stats.RecentEvents {
		if e.Status != "error" {
			continue
		}
		errorRows = append(errorRows, []string{
			e.Timestamp.Format(time.RFC3339),
			e.Stage,
			e.Kind,
			e.ConversationID,
			e.Error,
		})
	}

	var alertRows [][]string
	for _, a := range alerts {
		alertRows = append(alertRows, []string{a.CreatedAt.Format(time.RFC3339), a.Kind, a.Detail})
	}
	var ticketRows [][]string
	for _, t := range tickets {
		ticketRows = append(ticketRows, []string{t.CreatedAt.Format(time.RFC3339), t.Subject, t.CreatedBy})
	}

	b := toon.NewBuilder()
	b.Section("problems_report").
		KV("generated_at", time.Now().UTC().Format(time.RFC3339)).
		KV("total_errors", stats.TotalErrors).
		KV("rag_queries_24h", len(rag)).
		KV("rag_misses_24h", ragMisses).
		KV("open_tickets", len(tickets)).
		KV("unresolved_alerts", len(alerts))
	b.Table("recent_errors", []string{"at", "stage", "kind", "conversation_id", "error"}, errorRows)
	b.Table("alerts", []string{"at", "kind", "detail"}, alertRows)
	b.Table("tickets", []string{"at", "subject", "created_by"}, ticketRows)
	b.End()
	return b.String(), nil
}

type metricAgg struct {
	botHandled       int64
	transferred      int64
	messagesIn       int
	messagesOut      int
	avgFirstResponse int64
	avgResolution    int64
}

func aggregate(rows []domain.ConversationMetric) metricAgg {
	var agg metricAgg
	if len(rows) == 0 {
		return agg
	}
	var firstResponse, resolution int64
	for _, m := range rows {
		if m.BotHandled {
			agg.botHandled++
		}
		if m.TransferredToHuman {
			agg.transferred++
		}
		agg.messagesIn += m.MessagesIn
		agg.messagesOut += m.MessagesOut
		firstResponse += m.FirstResponseSeconds
		resolution += m.ResolutionSeconds
	}
	agg.avgFirstResponse = firstResponse / int64(len(rows))
	agg.avgResolution = resolution / int64(len(rows))
	return agg
}

func queueRows(rows []domain.ConversationMetric) [][]string {
	type queueAgg struct {
		closed     int
		resolution int64
	}
	byQueue := map[string]*queueAgg{}
	for _, m := range rows {
		q := m.QueueID
		if q == "" {
			q = "sin_cola"
		}
		a, ok := byQueue[q]
		if !ok {
			a = &queueAgg{}
			byQueue[q] = a
		}
		a.closed++
		a.resolution += m.ResolutionSeconds
	}
	ids := make([]string, 0, len(byQueue))
	for id := range byQueue {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out [][]string
	for _, id := range ids {
		a := byQueue[id]
		out = append(out, []string{id, strconv.Itoa(a.closed), strconv.FormatInt(a.resolution/int64(a.closed), 10)})
	}
	return out
}
