package domain

import (
	"time"

	"github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/timeutils"
)

type DistributionMode string

const (
	DistributionRoundRobin DistributionMode = "round_robin"
	DistributionLeastBusy  DistributionMode = "least_busy"
	DistributionManual     DistributionMode = "manual"
)

type QueueStatus string

const (
	QueueEnabled  QueueStatus = "enabled"
	QueueDisabled QueueStatus = "disabled"
)

type Queue struct {
	ID               string                   `json:"id"`
	Name             string                   `json:"name"`
	DistributionMode DistributionMode         `json:"distribution_mode"`
	MaxConcurrent    int                      `json:"max_concurrent"`
	AssignedAdvisors []string                 `json:"assigned_advisors"`
	Supervisors      []string                 `json:"supervisors"`
	Status           QueueStatus              `json:"status"`
	Schedule         timeutils.WeeklySchedule `json:"schedule,omitempty"`
	// RoundRobinCursor persists the rotation point across restarts.
	RoundRobinCursor int       `json:"round_robin_cursor"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (q *Queue) HasAdvisor(advisorID string) bool {
	for _, a := range q.AssignedAdvisors {
		if a == advisorID {
			return true
		}
	}
	return false
}

// Category groups catalogs and knowledge base entries (brands, product
// lines).
type Category struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
