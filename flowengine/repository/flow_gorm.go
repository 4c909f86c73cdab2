package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/CYM-Peru/Bot-AI-V1-sub006/flowengine/domain"
	pkgError "github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/error"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// flowModel guarda nodos y aristas como JSON: el grafo siempre se lee y
// escribe completo, nunca por partes.
type flowModel struct {
	ID                string    `gorm:"primaryKey;column:id"`
	Name              string    `gorm:"column:name;not null"`
	Version           int       `gorm:"column:version;not null;default:1"`
	Nodes             string    `gorm:"column:nodes;not null"` // JSON
	Edges             string    `gorm:"column:edges;not null"` // JSON
	BotTimeoutMinutes int       `gorm:"column:bot_timeout_minutes;default:0"`
	FallbackQueueID   string    `gorm:"column:fallback_queue_id"`
	IsDefault         bool      `gorm:"column:is_default;default:false;index"`
	AllowUnreachable  bool      `gorm:"column:allow_unreachable;default:false"`
	Enabled           bool      `gorm:"column:enabled;default:true"`
	CreatedAt         time.Time `gorm:"column:created_at;not null"`
	UpdatedAt         time.Time `gorm:"column:updated_at;not null"`
}

func (flowModel) TableName() string { return "flows" }

func toFlowModel(f domain.FlowDefinition) (flowModel, error) {
	nodes, err := json.Marshal(f.Nodes)
	if err != nil {
		return flowModel{}, err
	}
	edges, err := json.Marshal(f.Edges)
	if err != nil {
		return flowModel{}, err
	}
	return flowModel{
		ID:                f.ID,
		Name:              f.Name,
		Version:           f.Version,
		Nodes:             string(nodes),
		Edges:             string(edges),
		BotTimeoutMinutes: f.BotTimeoutMinutes,
		FallbackQueueID:   f.FallbackQueueID,
		IsDefault:         f.IsDefault,
		AllowUnreachable:  f.AllowUnreachable,
		Enabled:           f.Enabled,
		CreatedAt:         f.CreatedAt,
		UpdatedAt:         f.UpdatedAt,
	}, nil
}

func fromFlowModel(m flowModel) (domain.FlowDefinition, error) {
	f := domain.FlowDefinition{
		ID:                m.ID,
		Name:              m.Name,
		Version:           m.Version,
		BotTimeoutMinutes: m.BotTimeoutMinutes,
		FallbackQueueID:   m.FallbackQueueID,
		IsDefault:         m.IsDefault,
		AllowUnreachable:  m.AllowUnreachable,
		Enabled:           m.Enabled,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(m.Nodes), &f.Nodes); err != nil {
		return f, err
	}
	if err := json.Unmarshal([]byte(m.Edges), &f.Edges); err != nil {
		return f, err
	}
	return f, nil
}

type FlowGormRepository struct {
	db *gorm.DB
}

func NewFlowGormRepository(db *gorm.DB) *FlowGormRepository {
	return &FlowGormRepository{db: db}
}

func (r *FlowGormRepository) Init(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&flowModel{})
}

// Save inserta o reemplaza la definición completa, incrementando la versión
// en cada escritura sobre un flujo existente.
func (r *FlowGormRepository) Save(ctx context.Context, f *domain.FlowDefinition) error {
	now := time.Now().UTC()
	if f.ID == "" {
		f.ID = uuid.NewString()
		f.Version = 1
		f.CreatedAt = now
	} else {
		var existing flowModel
		err := r.db.WithContext(ctx).First(&existing, "id = ?", f.ID).Error
		switch {
		case err == gorm.ErrRecordNotFound:
			if f.Version == 0 {
				f.Version = 1
			}
			if f.CreatedAt.IsZero() {
				f.CreatedAt = now
			}
		case err != nil:
			return err
		default:
			f.Version = existing.Version + 1
			f.CreatedAt = existing.CreatedAt
		}
	}
	f.UpdatedAt = now

	model, err := toFlowModel(*f)
	if err != nil {
		return pkgError.ValidationError("flow definition is not serializable: " + err.Error())
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if f.IsDefault {
			if err := tx.Model(&flowModel{}).
				Where("id <> ?", f.ID).
				Update("is_default", false).Error; err != nil {
				return err
			}
		}
		return tx.Save(&model).Error
	})
}

func (r *FlowGormRepository) GetByID(ctx context.Context, id string) (domain.FlowDefinition, error) {
	var m flowModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.FlowDefinition{}, pkgError.NotFoundError("flow " + id + " not found")
		}
		return domain.FlowDefinition{}, err
	}
	return fromFlowModel(m)
}

func (r *FlowGormRepository) GetDefault(ctx context.Context) (domain.FlowDefinition, error) {
	var m flowModel
	err := r.db.WithContext(ctx).First(&m, "is_default = ? AND enabled = ?", true, true).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.FlowDefinition{}, pkgError.NotFoundError("no default flow configured")
		}
		return domain.FlowDefinition{}, err
	}
	return fromFlowModel(m)
}

func (r *FlowGormRepository) List(ctx context.Context) ([]domain.FlowDefinition, error) {
	var models []flowModel
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.FlowDefinition, 0, len(models))
	for _, m := range models {
		f, err := fromFlowModel(m)
		if err != nil {
			return nil, err
		}
		res = append(res, f)
	}
	return res, nil
}

func (r *FlowGormRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&flowModel{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgError.NotFoundError("flow " + id + " not found")
	}
	return nil
}

func (r *FlowGormRepository) SetDefault(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m flowModel
		if err := tx.First(&m, "id = ?", id).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgError.NotFoundError("flow " + id + " not found")
			}
			return err
		}
		if err := tx.Model(&flowModel{}).
			Where("id <> ?", id).
			Update("is_default", false).Error; err != nil {
			return err
		}
		return tx.Model(&flowModel{}).
			Where("id = ?", id).
			Update("is_default", true).Error
	})
}
