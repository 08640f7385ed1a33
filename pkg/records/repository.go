package records

import (
	"context"
	"errors"
	"time"

	"github.com/phenoscope/platform/pkg/common/models"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("patient record not found")

// Repository is the DbReader/DbWriter boundary for structured storage: the
// engine never parses raw bytes, it reads PatientRecords from here.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&RecordModel{})
}

func (r *Repository) Create(ctx context.Context, record *models.PatientRecord) error {
	model, err := toModel(record)
	if err != nil {
		return err
	}
	model.CreatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).Create(model).Error
}

func (r *Repository) Get(ctx context.Context, id string) (*models.PatientRecord, error) {
	var model RecordModel
	result := r.db.WithContext(ctx).First(&model, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return toDomain(&model)
}

// ListCorpus pages through the stored corpus for batch training.
func (r *Repository) ListCorpus(ctx context.Context, limit, offset int) ([]*models.PatientRecord, error) {
	if limit <= 0 {
		limit = 500
	}
	var rows []RecordModel
	result := r.db.WithContext(ctx).Order("created_at asc").Limit(limit).Offset(offset).Find(&rows)
	if result.Error != nil {
		return nil, result.Error
	}
	corpus := make([]*models.PatientRecord, 0, len(rows))
	for i := range rows {
		record, err := toDomain(&rows[i])
		if err != nil {
			return nil, err
		}
		corpus = append(corpus, record)
	}
	return corpus, nil
}

func (r *Repository) Count(ctx context.Context) (int64, error) {
	var count int64
	result := r.db.WithContext(ctx).Model(&RecordModel{}).Count(&count)
	return count, result.Error
}
