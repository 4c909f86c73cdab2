package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/CYM-Peru/Bot-AI-V1-sub006/crm/domain"
	pkgError "github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/error"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type advisorModel struct {
	ID                string         `gorm:"primaryKey;column:id"`
	Username          string         `gorm:"column:username;uniqueIndex;not null"`
	DisplayName       string         `gorm:"column:display_name"`
	Role              string         `gorm:"column:role;not null;default:'advisor'"`
	PasswordHash      string         `gorm:"column:password_hash;not null"`
	ThemePrefs        sql.NullString `gorm:"column:theme_prefs"` // JSON
	IsManuallyOffline bool           `gorm:"column:is_manually_offline;default:false"`
	CreatedAt         time.Time      `gorm:"column:created_at;not null"`
	UpdatedAt         time.Time      `gorm:"column:updated_at;not null"`
}

func (advisorModel) TableName() string { return "advisors" }

type advisorStatusModel struct {
	ID            string `gorm:"primaryKey;column:id"`
	Name          string `gorm:"column:name;not null"`
	Color         string `gorm:"column:color"`
	Action        string `gorm:"column:action;not null;default:'accept'"`
	RedirectQueue string `gorm:"column:redirect_queue"`
	IsDefault     bool   `gorm:"column:is_default;default:false"`
}

func (advisorStatusModel) TableName() string { return "advisor_statuses" }

type advisorStatusAssignmentModel struct {
	AdvisorID         string    `gorm:"primaryKey;column:advisor_id"`
	StatusID          string    `gorm:"column:status_id;not null"`
	IsManuallyOffline bool      `gorm:"column:is_manually_offline;default:false"`
	UpdatedAt         time.Time `gorm:"column:updated_at;not null"`
}

func (advisorStatusAssignmentModel) TableName() string { return "advisor_status_assignments" }

type advisorSessionModel struct {
	ID              string     `gorm:"primaryKey;column:id"`
	AdvisorID       string     `gorm:"column:advisor_id;not null;index"`
	ConversationID  string     `gorm:"column:conversation_id"`
	StartTime       time.Time  `gorm:"column:start_time;not null"`
	EndTime         *time.Time `gorm:"column:end_time;index"`
	DurationSeconds int64      `gorm:"column:duration_seconds;default:0"`
}

func (advisorSessionModel) TableName() string { return "advisor_sessions" }

type advisorActivityLogModel struct {
	ID        string    `gorm:"primaryKey;column:id"`
	AdvisorID string    `gorm:"column:advisor_id;not null;index"`
	Action    string    `gorm:"column:action;not null"`
	Detail    string    `gorm:"column:detail"`
	CreatedAt time.Time `gorm:"column:created_at;not null;index"`
}

func (advisorActivityLogModel) TableName() string { return "advisor_activity_logs" }

func toAdvisorModel(a domain.Advisor) advisorModel {
	return advisorModel{
		ID:                a.ID,
		Username:          a.Username,
		DisplayName:       a.DisplayName,
		Role:              string(a.Role),
		PasswordHash:      a.PasswordHash,
		ThemePrefs:        nullJSONMap(a.ThemePrefs),
		IsManuallyOffline: a.IsManuallyOffline,
		CreatedAt:         a.CreatedAt,
		UpdatedAt:         a.UpdatedAt,
	}
}

func fromAdvisorModel(m advisorModel) domain.Advisor {
	return domain.Advisor{
		ID:                m.ID,
		Username:          m.Username,
		DisplayName:       m.DisplayName,
		Role:              domain.AdvisorRole(m.Role),
		PasswordHash:      m.PasswordHash,
		ThemePrefs:        fromJSONMap(m.ThemePrefs),
		IsManuallyOffline: m.IsManuallyOffline,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

type AdvisorGormRepository struct {
	db *gorm.DB
}

func NewAdvisorGormRepository(db *gorm.DB) *AdvisorGormRepository {
	return &AdvisorGormRepository{db: db}
}

func (r *AdvisorGormRepository) Init(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(
		&advisorModel{},
		&advisorStatusModel{},
		&advisorStatusAssignmentModel{},
		&advisorSessionModel{},
		&advisorActivityLogModel{},
	); err != nil {
		return err
	}
	return r.seedStatuses(ctx)
}

// seedStatuses crea el catálogo inicial si la tabla está vacía. Exactamente
// una entrada con is_default.
func (r *AdvisorGormRepository) seedStatuses(ctx context.Context) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&advisorStatusModel{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	seed := []advisorStatusModel{
		{ID: uuid.NewString(), Name: "Disponible", Color: "#22c55e", Action: string(domain.StatusActionAccept), IsDefault: true},
		{ID: uuid.NewString(), Name: "En pausa", Color: "#f59e0b", Action: string(domain.StatusActionPause)},
		{ID: uuid.NewString(), Name: "Almuerzo", Color: "#f97316", Action: string(domain.StatusActionRedirect)},
	}
	return r.db.WithContext(ctx).Create(&seed).Error
}

func (r *AdvisorGormRepository) Create(ctx context.Context, adv *domain.Advisor) error {
	if adv.ID == "" {
		adv.ID = uuid.NewString()
	}
	model := toAdvisorModel(*adv)
	err := r.db.WithContext(ctx).Create(&model).Error
	if err != nil && isUniqueViolation(err) {
		return pkgError.ConflictError("username " + adv.Username + " already exists")
	}
	return err
}

func (r *AdvisorGormRepository) GetByID(ctx context.Context, id string) (domain.Advisor, error) {
	var m advisorModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Advisor{}, pkgError.NotFoundError("advisor " + id + " not found")
		}
		return domain.Advisor{}, err
	}
	return r.hydrate(ctx, fromAdvisorModel(m))
}

func (r *AdvisorGormRepository) GetByUsername(ctx context.Context, username string) (domain.Advisor, error) {
	var m advisorModel
	if err := r.db.WithContext(ctx).First(&m, "username = ?", username).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Advisor{}, pkgError.NotFoundError("advisor " + username + " not found")
		}
		return domain.Advisor{}, err
	}
	return r.hydrate(ctx, fromAdvisorModel(m))
}

func (r *AdvisorGormRepository) List(ctx context.Context) ([]domain.Advisor, error) {
	var models []advisorModel
	if err := r.db.WithContext(ctx).Order("display_name ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Advisor, len(models))
	for i, m := range models {
		adv, err := r.hydrate(ctx, fromAdvisorModel(m))
		if err != nil {
			return nil, err
		}
		res[i] = adv
	}
	return res, nil
}

// hydrate pone el estado efectivo de la asignación sobre el Advisor.
func (r *AdvisorGormRepository) hydrate(ctx context.Context, adv domain.Advisor) (domain.Advisor, error) {
	asg, err := r.GetAssignment(ctx, adv.ID)
	if err != nil {
		return adv, err
	}
	adv.StatusID = asg.StatusID
	if asg.IsManuallyOffline {
		adv.IsManuallyOffline = true
	}
	return adv, nil
}

func (r *AdvisorGormRepository) Update(ctx context.Context, adv domain.Advisor) error {
	model := toAdvisorModel(adv)
	return r.db.WithContext(ctx).Model(&advisorModel{ID: adv.ID}).
		Select("*").Omit("id", "created_at").
		Updates(&model).Error
}

func (r *AdvisorGormRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&advisorStatusAssignmentModel{}, "advisor_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&advisorModel{}, "id = ?", id).Error
	})
}

// --- Status catalog ---

func (r *AdvisorGormRepository) ListStatuses(ctx context.Context) ([]domain.AdvisorStatus, error) {
	var models []advisorStatusModel
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.AdvisorStatus, len(models))
	for i, m := range models {
		res[i] = domain.AdvisorStatus{
			ID: m.ID, Name: m.Name, Color: m.Color,
			Action:        domain.StatusAction(m.Action),
			RedirectQueue: m.RedirectQueue,
			IsDefault:     m.IsDefault,
		}
	}
	return res, nil
}

func (r *AdvisorGormRepository) GetStatus(ctx context.Context, id string) (domain.AdvisorStatus, error) {
	var m advisorStatusModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.AdvisorStatus{}, pkgError.NotFoundError("advisor status " + id + " not found")
		}
		return domain.AdvisorStatus{}, err
	}
	return domain.AdvisorStatus{
		ID: m.ID, Name: m.Name, Color: m.Color,
		Action:        domain.StatusAction(m.Action),
		RedirectQueue: m.RedirectQueue,
		IsDefault:     m.IsDefault,
	}, nil
}

func (r *AdvisorGormRepository) GetDefaultStatus(ctx context.Context) (domain.AdvisorStatus, error) {
	var m advisorStatusModel
	if err := r.db.WithContext(ctx).First(&m, "is_default = ?", true).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.AdvisorStatus{}, pkgError.NotFoundError("no default advisor status configured")
		}
		return domain.AdvisorStatus{}, err
	}
	return domain.AdvisorStatus{
		ID: m.ID, Name: m.Name, Color: m.Color,
		Action:        domain.StatusAction(m.Action),
		RedirectQueue: m.RedirectQueue,
		IsDefault:     true,
	}, nil
}

// SaveStatus inserta o actualiza. Marcar uno como default desmarca el resto en
// la misma transacción.
func (r *AdvisorGormRepository) SaveStatus(ctx context.Context, st *domain.AdvisorStatus) error {
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if st.IsDefault {
			if err := tx.Model(&advisorStatusModel{}).
				Where("id <> ?", st.ID).
				Update("is_default", false).Error; err != nil {
				return err
			}
		}
		model := advisorStatusModel{
			ID: st.ID, Name: st.Name, Color: st.Color,
			Action:        string(st.Action),
			RedirectQueue: st.RedirectQueue,
			IsDefault:     st.IsDefault,
		}
		return tx.Save(&model).Error
	})
}

func (r *AdvisorGormRepository) DeleteStatus(ctx context.Context, id string) error {
	var m advisorStatusModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return pkgError.NotFoundError("advisor status " + id + " not found")
		}
		return err
	}
	if m.IsDefault {
		return pkgError.ValidationError("cannot delete the default advisor status")
	}
	return r.db.WithContext(ctx).Delete(&advisorStatusModel{}, "id = ?", id).Error
}

// --- Effective status per advisor ---

// GetAssignment devuelve la asignación del asesor; sin fila, cae al estado
// default del catálogo.
func (r *AdvisorGormRepository) GetAssignment(ctx context.Context, advisorID string) (domain.AdvisorStatusAssignment, error) {
	var m advisorStatusAssignmentModel
	err := r.db.WithContext(ctx).First(&m, "advisor_id = ?", advisorID).Error
	if err == gorm.ErrRecordNotFound {
		def, derr := r.GetDefaultStatus(ctx)
		if derr != nil {
			return domain.AdvisorStatusAssignment{AdvisorID: advisorID}, nil
		}
		return domain.AdvisorStatusAssignment{AdvisorID: advisorID, StatusID: def.ID}, nil
	}
	if err != nil {
		return domain.AdvisorStatusAssignment{}, err
	}
	return domain.AdvisorStatusAssignment{
		AdvisorID:         m.AdvisorID,
		StatusID:          m.StatusID,
		IsManuallyOffline: m.IsManuallyOffline,
		UpdatedAt:         m.UpdatedAt,
	}, nil
}

func (r *AdvisorGormRepository) SetAssignment(ctx context.Context, asg domain.AdvisorStatusAssignment) error {
	if asg.UpdatedAt.IsZero() {
		asg.UpdatedAt = time.Now().UTC()
	}
	model := advisorStatusAssignmentModel{
		AdvisorID:         asg.AdvisorID,
		StatusID:          asg.StatusID,
		IsManuallyOffline: asg.IsManuallyOffline,
		UpdatedAt:         asg.UpdatedAt,
	}
	return r.db.WithContext(ctx).Save(&model).Error
}

// --- Login sessions ---

func (r *AdvisorGormRepository) OpenSession(ctx context.Context, s *domain.AdvisorSession) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.StartTime.IsZero() {
		s.StartTime = time.Now().UTC()
	}
	model := advisorSessionModel{
		ID:             s.ID,
		AdvisorID:      s.AdvisorID,
		ConversationID: s.ConversationID,
		StartTime:      s.StartTime,
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *AdvisorGormRepository) CloseSession(ctx context.Context, sessionID string, endTime time.Time) error {
	var m advisorSessionModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", sessionID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return pkgError.NotFoundError("advisor session " + sessionID + " not found")
		}
		return err
	}
	return r.db.WithContext(ctx).Model(&advisorSessionModel{}).
		Where("id = ?", sessionID).
		Updates(map[string]interface{}{
			"end_time":         endTime,
			"duration_seconds": int64(endTime.Sub(m.StartTime).Seconds()),
		}).Error
}

// CloseAllSessions cierra toda sesión abierta del asesor. Se usa en logout y
// cuando el reconciliador encuentra sesiones colgadas.
func (r *AdvisorGormRepository) CloseAllSessions(ctx context.Context, advisorID string, endTime time.Time) (int, error) {
	var open []advisorSessionModel
	if err := r.db.WithContext(ctx).
		Where("advisor_id = ? AND end_time IS NULL", advisorID).
		Find(&open).Error; err != nil {
		return 0, err
	}
	for _, s := range open {
		if err := r.db.WithContext(ctx).Model(&advisorSessionModel{}).
			Where("id = ?", s.ID).
			Updates(map[string]interface{}{
				"end_time":         endTime,
				"duration_seconds": int64(endTime.Sub(s.StartTime).Seconds()),
			}).Error; err != nil {
			return 0, err
		}
	}
	return len(open), nil
}

func (r *AdvisorGormRepository) IsOnline(ctx context.Context, advisorID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&advisorSessionModel{}).
		Where("advisor_id = ? AND end_time IS NULL", advisorID).
		Count(&count).Error
	return count > 0, err
}

func (r *AdvisorGormRepository) ListOnlineAdvisors(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&advisorSessionModel{}).
		Where("end_time IS NULL").
		Distinct("advisor_id").
		Pluck("advisor_id", &ids).Error
	return ids, err
}

// --- Activity log ---

func (r *AdvisorGormRepository) LogActivity(ctx context.Context, entry *domain.AdvisorActivityLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	model := advisorActivityLogModel{
		ID:        entry.ID,
		AdvisorID: entry.AdvisorID,
		Action:    entry.Action,
		Detail:    entry.Detail,
		CreatedAt: entry.CreatedAt,
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *AdvisorGormRepository) ListActivity(ctx context.Context, advisorID string, limit int) ([]domain.AdvisorActivityLog, error) {
	if limit <= 0 {
		limit = 100
	}
	var models []advisorActivityLogModel
	err := r.db.WithContext(ctx).
		Where("advisor_id = ?", advisorID).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	res := make([]domain.AdvisorActivityLog, len(models))
	for i, m := range models {
		res[i] = domain.AdvisorActivityLog{
			ID:        m.ID,
			AdvisorID: m.AdvisorID,
			Action:    m.Action,
			Detail:    m.Detail,
			CreatedAt: m.CreatedAt,
		}
	}
	return res, nil
}
