package domain

import "time"

type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignRunning   CampaignStatus = "running"
	CampaignPaused    CampaignStatus = "paused"
	CampaignDone      CampaignStatus = "done"
)

// Campaign is a scheduled outbound batch (template or media) to a list of
// recipients, evaluated against a cron expression.
type Campaign struct {
	ID                  string         `json:"id"`
	Name                string         `json:"name"`
	ChannelConnectionID string         `json:"channel_connection_id"`
	QueueID             string         `json:"queue_id,omitempty"`
	TemplateName        string         `json:"template_name,omitempty"`
	TemplateLanguage    string         `json:"template_language,omitempty"`
	Body                string         `json:"body,omitempty"`
	MediaURL            string         `json:"media_url,omitempty"`
	CronExpr            string         `json:"cron_expr"`
	Recipients          []string       `json:"recipients"`
	Status              CampaignStatus `json:"status"`
	LastRunAt           *time.Time     `json:"last_run_at,omitempty"`
	NextRunAt           *time.Time     `json:"next_run_at,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

type CampaignDetailStatus string

const (
	CampaignDetailPending CampaignDetailStatus = "pending"
	CampaignDetailSent    CampaignDetailStatus = "sent"
	CampaignDetailFailed  CampaignDetailStatus = "failed"
)

// CampaignMessageDetail is one recipient row of a campaign run.
type CampaignMessageDetail struct {
	ID          string               `json:"id"`
	CampaignID  string               `json:"campaign_id"`
	RemotePhone string               `json:"remote_phone"`
	MessageID   string               `json:"message_id,omitempty"`
	Status      CampaignDetailStatus `json:"status"`
	Error       string               `json:"error,omitempty"`
	SentAt      *time.Time           `json:"sent_at,omitempty"`
}
