package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/CYM-Peru/Bot-AI-V1-sub006/crm/domain"
	pkgError "github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/error"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// MetricsSQLiteRepository implementa IMetricsRepository sobre la base SQLite
// lateral de reportes. Vive aparte del almacén principal para que los reportes
// pesados no compitan con el tráfico de conversaciones.
type MetricsSQLiteRepository struct {
	db *sql.DB
}

func NewMetricsSQLiteRepository(db *sql.DB) (*MetricsSQLiteRepository, error) {
	repo := &MetricsSQLiteRepository{db: db}
	if err := repo.Init(context.Background()); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *MetricsSQLiteRepository) Init(ctx context.Context) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS conversation_metrics (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT NOT NULL,
			ticket_number INTEGER NOT NULL,
			channel_connection_id TEXT NOT NULL,
			queue_id TEXT,
			advisor_id TEXT,
			first_response_seconds INTEGER NOT NULL DEFAULT 0,
			resolution_seconds INTEGER NOT NULL DEFAULT 0,
			messages_in INTEGER NOT NULL DEFAULT 0,
			messages_out INTEGER NOT NULL DEFAULT 0,
			bot_handled INTEGER NOT NULL DEFAULT 0,
			transferred_to_human INTEGER NOT NULL DEFAULT 0,
			closed_at TIMESTAMP,
			day TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_metrics_day ON conversation_metrics(day);`,
		`CREATE TABLE IF NOT EXISTS rag_usage (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT NOT NULL,
			query TEXT NOT NULL,
			found INTEGER NOT NULL DEFAULT 0,
			chunks_used INTEGER NOT NULL DEFAULT 0,
			cost_usd REAL NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS support_tickets (
			id TEXT PRIMARY KEY,
			conversation_id TEXT,
			subject TEXT NOT NULL,
			detail TEXT,
			status TEXT NOT NULL DEFAULT 'open',
			created_by TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS maintenance_alerts (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			detail TEXT NOT NULL,
			resolved INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			resolved_at TIMESTAMP
		);`,
	}
	for _, stmt := range schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return r.runMigrations(ctx)
}

func (r *MetricsSQLiteRepository) runMigrations(ctx context.Context) error {
	rows, err := r.db.QueryContext(ctx, `PRAGMA table_info(conversation_metrics)`)
	if err != nil {
		return err
	}
	defer rows.Close()

	columns := make(map[string]bool)
	for rows.Next() {
		var (
			cid        int
			name       string
			typeName   string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &typeName, &notNull, &defaultVal, &pk); err != nil {
			return err
		}
		columns[name] = true
	}

	migrations := []struct {
		column string
		ddl    string
	}{
		{"transferred_to_human", "ALTER TABLE conversation_metrics ADD COLUMN transferred_to_human INTEGER NOT NULL DEFAULT 0"},
		{"bot_handled", "ALTER TABLE conversation_metrics ADD COLUMN bot_handled INTEGER NOT NULL DEFAULT 0"},
	}
	for _, m := range migrations {
		if !columns[m.column] {
			if _, err := r.db.ExecContext(ctx, m.ddl); err != nil {
				logrus.WithError(err).Warnf("[MetricsRepo] Failed to add column %s", m.column)
			}
		}
	}
	return nil
}

func (r *MetricsSQLiteRepository) SaveConversationMetric(ctx context.Context, m *domain.ConversationMetric) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO conversation_metrics (
			conversation_id, ticket_number, channel_connection_id, queue_id, advisor_id,
			first_response_seconds, resolution_seconds, messages_in, messages_out,
			bot_handled, transferred_to_human, closed_at, day
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ConversationID, m.TicketNumber, m.ChannelConnectionID, m.QueueID, m.AdvisorID,
		m.FirstResponseSeconds, m.ResolutionSeconds, m.MessagesIn, m.MessagesOut,
		boolToInt(m.BotHandled), boolToInt(m.TransferredToHuman), m.ClosedAt, m.Day,
	)
	if err != nil {
		return err
	}
	m.ID, _ = res.LastInsertId()
	return nil
}

func (r *MetricsSQLiteRepository) QueryMetricsByDay(ctx context.Context, day string) ([]domain.ConversationMetric, error) {
	return r.queryMetrics(ctx, `SELECT id, conversation_id, ticket_number, channel_connection_id,
		queue_id, advisor_id, first_response_seconds, resolution_seconds, messages_in,
		messages_out, bot_handled, transferred_to_human, closed_at, day
		FROM conversation_metrics WHERE day = ? ORDER BY id ASC`, day)
}

func (r *MetricsSQLiteRepository) QueryMetricsRange(ctx context.Context, fromDay, toDay string) ([]domain.ConversationMetric, error) {
	return r.queryMetrics(ctx, `SELECT id, conversation_id, ticket_number, channel_connection_id,
		queue_id, advisor_id, first_response_seconds, resolution_seconds, messages_in,
		messages_out, bot_handled, transferred_to_human, closed_at, day
		FROM conversation_metrics WHERE day >= ? AND day <= ? ORDER BY day ASC, id ASC`, fromDay, toDay)
}

func (r *MetricsSQLiteRepository) queryMetrics(ctx context.Context, query string, args ...interface{}) ([]domain.ConversationMetric, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.ConversationMetric
	for rows.Next() {
		var (
			m          domain.ConversationMetric
			queueID    sql.NullString
			advisorID  sql.NullString
			botHandled int
			transfer   int
			closedAt   sql.NullTime
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.TicketNumber, &m.ChannelConnectionID,
			&queueID, &advisorID, &m.FirstResponseSeconds, &m.ResolutionSeconds,
			&m.MessagesIn, &m.MessagesOut, &botHandled, &transfer, &closedAt, &m.Day); err != nil {
			return nil, err
		}
		m.QueueID = queueID.String
		m.AdvisorID = advisorID.String
		m.BotHandled = botHandled != 0
		m.TransferredToHuman = transfer != 0
		if closedAt.Valid {
			t := closedAt.Time
			m.ClosedAt = &t
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r *MetricsSQLiteRepository) SaveRagUsage(ctx context.Context, u *domain.RagUsage) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO rag_usage (conversation_id, query, found, chunks_used, cost_usd, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		u.ConversationID, u.Query, boolToInt(u.Found), u.ChunksUsed, u.CostUSD, u.CreatedAt,
	)
	if err != nil {
		return err
	}
	u.ID, _ = res.LastInsertId()
	return nil
}

func (r *MetricsSQLiteRepository) ListRagUsage(ctx context.Context, since time.Time) ([]domain.RagUsage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, conversation_id, query, found, chunks_used, cost_usd, created_at
		FROM rag_usage WHERE created_at >= ? ORDER BY created_at ASC`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.RagUsage
	for rows.Next() {
		var (
			u     domain.RagUsage
			found int
		)
		if err := rows.Scan(&u.ID, &u.ConversationID, &u.Query, &found, &u.ChunksUsed, &u.CostUSD, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.Found = found != 0
		res = append(res, u)
	}
	return res, rows.Err()
}

func (r *MetricsSQLiteRepository) CreateTicket(ctx context.Context, t *domain.SupportTicket) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = domain.TicketOpen
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO support_tickets (id, conversation_id, subject, detail, status, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ConversationID, t.Subject, t.Detail, string(t.Status), t.CreatedBy, t.CreatedAt, t.UpdatedAt,
	)
	return err
}

func (r *MetricsSQLiteRepository) ListTickets(ctx context.Context, status domain.TicketStatus) ([]domain.SupportTicket, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, conversation_id, subject, detail, status, created_by, created_at, updated_at
		FROM support_tickets WHERE status = ? ORDER BY created_at DESC`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.SupportTicket
	for rows.Next() {
		var (
			t      domain.SupportTicket
			convID sql.NullString
			detail sql.NullString
			status string
		)
		if err := rows.Scan(&t.ID, &convID, &t.Subject, &detail, &status, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		t.ConversationID = convID.String
		t.Detail = detail.String
		t.Status = domain.TicketStatus(status)
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r *MetricsSQLiteRepository) UpdateTicket(ctx context.Context, t domain.SupportTicket) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE support_tickets SET subject = ?, detail = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		t.Subject, t.Detail, string(t.Status), time.Now().UTC(), t.ID,
	)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return pkgError.NotFoundError("support ticket " + t.ID + " not found")
	}
	return nil
}

func (r *MetricsSQLiteRepository) CreateAlert(ctx context.Context, a *domain.MaintenanceAlert) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO maintenance_alerts (id, kind, detail, resolved, created_at)
		VALUES (?, ?, ?, 0, ?)`,
		a.ID, a.Kind, a.Detail, a.CreatedAt,
	)
	return err
}

func (r *MetricsSQLiteRepository) ListAlerts(ctx context.Context, includeResolved bool) ([]domain.MaintenanceAlert, error) {
	query := `SELECT id, kind, detail, resolved, created_at, resolved_at
		FROM maintenance_alerts`
	if !includeResolved {
		query += ` WHERE resolved = 0`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.MaintenanceAlert
	for rows.Next() {
		var (
			a          domain.MaintenanceAlert
			resolved   int
			resolvedAt sql.NullTime
		)
		if err := rows.Scan(&a.ID, &a.Kind, &a.Detail, &resolved, &a.CreatedAt, &resolvedAt); err != nil {
			return nil, err
		}
		a.Resolved = resolved != 0
		if resolvedAt.Valid {
			t := resolvedAt.Time
			a.ResolvedAt = &t
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r *MetricsSQLiteRepository) ResolveAlert(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE maintenance_alerts SET resolved = 1, resolved_at = ? WHERE id = ?`, at, id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return pkgError.NotFoundError("maintenance alert " + id + " not found")
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
