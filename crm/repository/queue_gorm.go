package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/CYM-Peru/Bot-AI-V1-sub006/crm/domain"
	pkgError "github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/error"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/timeutils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type queueModel struct {
	ID               string         `gorm:"primaryKey;column:id"`
	Name             string         `gorm:"column:name;not null"`
	DistributionMode string         `gorm:"column:distribution_mode;not null;default:'round_robin'"`
	MaxConcurrent    int            `gorm:"column:max_concurrent;default:0"`
	AssignedAdvisors sql.NullString `gorm:"column:assigned_advisors"` // JSON
	Supervisors      sql.NullString `gorm:"column:supervisors"`       // JSON
	Status           string         `gorm:"column:status;not null;default:'enabled'"`
	Schedule         sql.NullString `gorm:"column:schedule"` // JSON
	RoundRobinCursor int            `gorm:"column:round_robin_cursor;default:0"`
	CreatedAt        time.Time      `gorm:"column:created_at;not null"`
	UpdatedAt        time.Time      `gorm:"column:updated_at;not null"`
}

func (queueModel) TableName() string { return "queues" }

type categoryModel struct {
	ID          string    `gorm:"primaryKey;column:id"`
	Name        string    `gorm:"column:name;not null"`
	Description string    `gorm:"column:description"`
	CreatedAt   time.Time `gorm:"column:created_at;not null"`
}

func (categoryModel) TableName() string { return "categories" }

func toQueueModel(q domain.Queue) queueModel {
	return queueModel{
		ID:               q.ID,
		Name:             q.Name,
		DistributionMode: string(q.DistributionMode),
		MaxConcurrent:    q.MaxConcurrent,
		AssignedAdvisors: nullJSON(q.AssignedAdvisors),
		Supervisors:      nullJSON(q.Supervisors),
		Status:           string(q.Status),
		Schedule:         nullSchedule(q.Schedule),
		RoundRobinCursor: q.RoundRobinCursor,
		CreatedAt:        q.CreatedAt,
		UpdatedAt:        q.UpdatedAt,
	}
}

func fromQueueModel(m queueModel) domain.Queue {
	return domain.Queue{
		ID:               m.ID,
		Name:             m.Name,
		DistributionMode: domain.DistributionMode(m.DistributionMode),
		MaxConcurrent:    m.MaxConcurrent,
		AssignedAdvisors: fromJSONList(m.AssignedAdvisors),
		Supervisors:      fromJSONList(m.Supervisors),
		Status:           domain.QueueStatus(m.Status),
		Schedule:         fromSchedule(m.Schedule),
		RoundRobinCursor: m.RoundRobinCursor,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func nullSchedule(s timeutils.WeeklySchedule) sql.NullString {
	if len(s) == 0 {
		return sql.NullString{}
	}
	data, _ := json.Marshal(s)
	return sql.NullString{String: string(data), Valid: true}
}

func fromSchedule(ns sql.NullString) timeutils.WeeklySchedule {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	var out timeutils.WeeklySchedule
	_ = json.Unmarshal([]byte(ns.String), &out)
	return out
}

type QueueGormRepository struct {
	db *gorm.DB
}

func NewQueueGormRepository(db *gorm.DB) *QueueGormRepository {
	return &QueueGormRepository{db: db}
}

func (r *QueueGormRepository) Init(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&queueModel{}, &categoryModel{})
}

func (r *QueueGormRepository) Create(ctx context.Context, q *domain.Queue) error {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if q.DistributionMode == "" {
		q.DistributionMode = domain.DistributionRoundRobin
	}
	if q.Status == "" {
		q.Status = domain.QueueEnabled
	}
	model := toQueueModel(*q)
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *QueueGormRepository) GetByID(ctx context.Context, id string) (domain.Queue, error) {
	var m queueModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Queue{}, pkgError.NotFoundError("queue " + id + " not found")
		}
		return domain.Queue{}, err
	}
	return fromQueueModel(m), nil
}

func (r *QueueGormRepository) List(ctx context.Context) ([]domain.Queue, error) {
	var models []queueModel
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Queue, len(models))
	for i, m := range models {
		res[i] = fromQueueModel(m)
	}
	return res, nil
}

// ListForAdvisor filtra en memoria: la lista de asesores vive como JSON y las
// colas son pocas.
func (r *QueueGormRepository) ListForAdvisor(ctx context.Context, advisorID string) ([]domain.Queue, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	var res []domain.Queue
	for _, q := range all {
		if q.HasAdvisor(advisorID) {
			res = append(res, q)
		}
	}
	return res, nil
}

func (r *QueueGormRepository) Update(ctx context.Context, q domain.Queue) error {
	model := toQueueModel(q)
	return r.db.WithContext(ctx).Model(&queueModel{ID: q.ID}).
		Select("*").Omit("id", "created_at").
		Updates(&model).Error
}

func (r *QueueGormRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&queueModel{}, "id = ?", id).Error
}

func (r *QueueGormRepository) UpdateCursor(ctx context.Context, queueID string, cursor int) error {
	return r.db.WithContext(ctx).Model(&queueModel{}).
		Where("id = ?", queueID).
		Update("round_robin_cursor", cursor).Error
}
