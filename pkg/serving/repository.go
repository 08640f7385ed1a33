package serving

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/phenoscope/platform/pkg/common/models"
)

// PredictionLog is the persistence model for serving analytics.
type PredictionLog struct {
	ID             uuid.UUID         `gorm:"primaryKey;column:id"`
	RecordID       string            `gorm:"column:record_id"`
	PatientID      string            `gorm:"column:patient_id"`
	ModelVersion   int               `gorm:"column:model_version"`
	Posterior      datatypes.JSONMap `gorm:"column:posterior"`
	TopPhenotype   int               `gorm:"column:top_phenotype"`
	TopProbability float64           `gorm:"column:top_probability"`
	LatencyMs      float64           `gorm:"column:latency_ms"`
	CreatedAt      time.Time         `gorm:"column:created_at"`
}

// TableName overrides gorm naming.
func (PredictionLog) TableName() string {
	return "prediction_logs"
}

// Repository handles prediction log queries.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&PredictionLog{})
}

func (r *Repository) RecordPrediction(ctx context.Context, patientID string, modelVersion int, post models.PosteriorAssignment, latency time.Duration) error {
	topPhenotype := 0
	topProbability := 0.0
	for k, p := range post.Probabilities {
		if p > topProbability {
			topPhenotype = k
			topProbability = p
		}
	}
	log := PredictionLog{
		ID:           uuid.New(),
		RecordID:     post.RecordID,
		PatientID:    patientID,
		ModelVersion: modelVersion,
		Posterior: datatypes.JSONMap{
			"probabilities": post.Probabilities,
		},
		TopPhenotype:   topPhenotype,
		TopProbability: topProbability,
		LatencyMs:      float64(latency.Microseconds()) / 1000.0,
		CreatedAt:      time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Create(&log).Error
}

// Recent returns the most recent prediction logs up to limit.
func (r *Repository) Recent(ctx context.Context, limit int) ([]PredictionLog, error) {
	if limit <= 0 {
		limit = 50
	}
	var logs []PredictionLog
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}
