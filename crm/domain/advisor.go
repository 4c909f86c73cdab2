package domain

import "time"

type AdvisorRole string

const (
	RoleAdmin      AdvisorRole = "admin"
	RoleSupervisor AdvisorRole = "supervisor"
	RoleAdvisor    AdvisorRole = "advisor"
)

type Advisor struct {
	ID           string            `json:"id"`
	Username     string            `json:"username"`
	DisplayName  string            `json:"display_name"`
	Role         AdvisorRole       `json:"role"`
	PasswordHash string            `json:"-"`
	ThemePrefs   map[string]string `json:"theme_prefs,omitempty"`
	// Effective status, hydrated from advisor_status_assignments
	StatusID          string    `json:"status_id,omitempty"`
	IsManuallyOffline bool      `json:"is_manually_offline"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type StatusAction string

const (
	StatusActionAccept   StatusAction = "accept"
	StatusActionRedirect StatusAction = "redirect"
	StatusActionPause    StatusAction = "pause"
)

// AdvisorStatus is a catalog entry (Disponible, En pausa, Almuerzo...).
// Exactly one entry has IsDefault = true.
type AdvisorStatus struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Color         string       `json:"color"`
	Action        StatusAction `json:"action"`
	RedirectQueue string       `json:"redirect_queue,omitempty"`
	IsDefault     bool         `json:"is_default"`
}

// AdvisorStatusAssignment is the effective status of one advisor.
type AdvisorStatusAssignment struct {
	AdvisorID         string    `json:"advisor_id"`
	StatusID          string    `json:"status_id"`
	IsManuallyOffline bool      `json:"is_manually_offline"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// AdvisorSession is one login window. An advisor is online iff at least one
// session has EndTime = nil.
type AdvisorSession struct {
	ID              string     `json:"id"`
	AdvisorID       string     `json:"advisor_id"`
	ConversationID  string     `json:"conversation_id,omitempty"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	DurationSeconds int64      `json:"duration_seconds,omitempty"`
}

type AdvisorActivityLog struct {
	ID        string    `json:"id"`
	AdvisorID string    `json:"advisor_id"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Eligible reports whether the advisor can receive assignments given their
// effective status catalog entry and online state.
func (a *Advisor) Eligible(status *AdvisorStatus, online bool) bool {
	if !online || a.IsManuallyOffline {
		return false
	}
	if status == nil {
		return false
	}
	return status.Action == StatusActionAccept
}
