package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/CYM-Peru/Bot-AI-V1-sub006/botengine/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type knowledgeChunkModel struct {
	ID        string         `gorm:"primaryKey;column:id"`
	Source    string         `gorm:"column:source;not null;index"`
	Category  string         `gorm:"column:category;index"`
	Content   string         `gorm:"column:content;not null"`
	Embedding sql.NullString `gorm:"column:embedding"` // JSON []float32
	CreatedAt time.Time      `gorm:"column:created_at;not null"`
}

func (knowledgeChunkModel) TableName() string { return "knowledge_chunks" }

type ragUsageModel struct {
	ID             string    `gorm:"primaryKey;column:id"`
	ConversationID string    `gorm:"column:conversation_id;index"`
	Query          string    `gorm:"column:query;not null"`
	Category       string    `gorm:"column:category"`
	ChunksUsed     int       `gorm:"column:chunks_used;default:0"`
	CostUSD        float64   `gorm:"column:cost_usd;default:0"`
	Found          bool      `gorm:"column:found;default:false"`
	CreatedAt      time.Time `gorm:"column:created_at;not null;index"`
}

func (ragUsageModel) TableName() string { return "rag_usage" }

func toChunkModel(c domain.KnowledgeChunk) knowledgeChunkModel {
	return knowledgeChunkModel{
		ID:        c.ID,
		Source:    c.Source,
		Category:  c.Category,
		Content:   c.Content,
		Embedding: nullVector(c.Embedding),
		CreatedAt: c.CreatedAt,
	}
}

func fromChunkModel(m knowledgeChunkModel) domain.KnowledgeChunk {
	return domain.KnowledgeChunk{
		ID:        m.ID,
		Source:    m.Source,
		Category:  m.Category,
		Content:   m.Content,
		Embedding: fromVector(m.Embedding),
		CreatedAt: m.CreatedAt,
	}
}

func nullVector(v []float32) sql.NullString {
	if len(v) == 0 {
		return sql.NullString{}
	}
	data, _ := json.Marshal(v)
	return sql.NullString{String: string(data), Valid: true}
}

func fromVector(ns sql.NullString) []float32 {
	if !ns.Valid {
		return nil
	}
	var out []float32
	_ = json.Unmarshal([]byte(ns.String), &out)
	return out
}

type KnowledgeGormRepository struct {
	db *gorm.DB
}

func NewKnowledgeGormRepository(db *gorm.DB) *KnowledgeGormRepository {
	return &KnowledgeGormRepository{db: db}
}

func (r *KnowledgeGormRepository) Init(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&knowledgeChunkModel{}, &ragUsageModel{})
}

func (r *KnowledgeGormRepository) ReplaceSource(ctx context.Context, source string, chunks []domain.KnowledgeChunk) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("source = ?", source).Delete(&knowledgeChunkModel{}).Error; err != nil {
			return err
		}
		now := time.Now().UTC()
		for i := range chunks {
			if chunks[i].ID == "" {
				chunks[i].ID = uuid.NewString()
			}
			if chunks[i].CreatedAt.IsZero() {
				chunks[i].CreatedAt = now
			}
			chunks[i].Source = source
			model := toChunkModel(chunks[i])
			if err := tx.Create(&model).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *KnowledgeGormRepository) ListByCategory(ctx context.Context, category string) ([]domain.KnowledgeChunk, error) {
	q := r.db.WithContext(ctx).Order("source ASC, created_at ASC")
	if category != "" {
		q = q.Where("category = ?", category)
	}
	var models []knowledgeChunkModel
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.KnowledgeChunk, len(models))
	for i, m := range models {
		res[i] = fromChunkModel(m)
	}
	return res, nil
}

func (r *KnowledgeGormRepository) DeleteSource(ctx context.Context, source string) error {
	return r.db.WithContext(ctx).Where("source = ?", source).Delete(&knowledgeChunkModel{}).Error
}

func (r *KnowledgeGormRepository) RecordUsage(ctx context.Context, usage *domain.RagUsage) error {
	if usage.ID == "" {
		usage.ID = uuid.NewString()
	}
	if usage.CreatedAt.IsZero() {
		usage.CreatedAt = time.Now().UTC()
	}
	model := ragUsageModel{
		ID:             usage.ID,
		ConversationID: usage.ConversationID,
		Query:          usage.Query,
		Category:       usage.Category,
		ChunksUsed:     usage.ChunksUsed,
		CostUSD:        usage.CostUSD,
		Found:          usage.Found,
		CreatedAt:      usage.CreatedAt,
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *KnowledgeGormRepository) ListUsage(ctx context.Context, since time.Time, limit int) ([]domain.RagUsage, error) {
	if limit <= 0 {
		limit = 100
	}
	var models []ragUsageModel
	if err := r.db.WithContext(ctx).
		Where("created_at >= ?", since).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.RagUsage, len(models))
	for i, m := range models {
		res[i] = domain.RagUsage{
			ID:             m.ID,
			ConversationID: m.ConversationID,
			Query:          m.Query,
			Category:       m.Category,
			ChunksUsed:     m.ChunksUsed,
			CostUSD:        m.CostUSD,
			Found:          m.Found,
			CreatedAt:      m.CreatedAt,
		}
	}
	return res, nil
}
