package phenostore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/phenoscope/platform/pkg/common/logger"
	"github.com/phenoscope/platform/pkg/summary"
)

var ErrNotFound = errors.New("summary not found")

// SummaryRow is the persisted projection of a phenotype summary. The full
// summary lives in Payload; the top phenotype and its probability are lifted
// into columns so cohort queries can filter without unpacking JSON.
type SummaryRow struct {
	RecordID       string         `gorm:"primaryKey;column:record_id"`
	PatientID      string         `gorm:"column:patient_id;index"`
	TopPhenotype   int            `gorm:"column:top_phenotype;index"`
	TopProbability float64        `gorm:"column:top_probability"`
	Payload        datatypes.JSON `gorm:"column:payload"`
	CreatedAt      time.Time      `gorm:"column:created_at"`
	UpdatedAt      time.Time      `gorm:"column:updated_at"`
}

func (SummaryRow) TableName() string {
	return "phenotype_summaries"
}

// Store persists summaries in Postgres and keeps the hot read path in Redis.
type Store struct {
	db       *gorm.DB
	cache    *redis.Client
	cacheTTL time.Duration
}

func NewStore(db *gorm.DB, cache *redis.Client, cacheTTL time.Duration) *Store {
	return &Store{db: db, cache: cache, cacheTTL: cacheTTL}
}

func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&SummaryRow{})
}

func cacheKey(recordID string) string {
	return fmt.Sprintf("phenoscope:summary:%s", recordID)
}

// Put upserts a summary and refreshes the cache entry.
func (s *Store) Put(ctx context.Context, patientID string, sum summary.Summary) error {
	payload, err := json.Marshal(sum)
	if err != nil {
		return fmt.Errorf("marshal summary %s: %w", sum.RecordID, err)
	}

	row := SummaryRow{
		RecordID:  sum.RecordID,
		PatientID: patientID,
		Payload:   payload,
		UpdatedAt: time.Now().UTC(),
	}
	if len(sum.TopPhenotypes) > 0 {
		row.TopPhenotype = sum.TopPhenotypes[0].PhenotypeID
		row.TopProbability = sum.TopPhenotypes[0].Probability
	}

	err = s.db.WithContext(ctx).Save(&row).Error
	if err != nil {
		return err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey(sum.RecordID), payload, s.cacheTTL).Err(); err != nil {
			logger.WithComponent("phenostore").WithError(err).Warn("cache write failed")
		}
	}
	return nil
}

// Get serves from Redis when it can, falling back to Postgres on a miss.
func (s *Store) Get(ctx context.Context, recordID string) (summary.Summary, error) {
	if s.cache != nil {
		payload, err := s.cache.Get(ctx, cacheKey(recordID)).Bytes()
		if err == nil {
			var sum summary.Summary
			if err := json.Unmarshal(payload, &sum); err == nil {
				return sum, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			logger.WithComponent("phenostore").WithError(err).Warn("cache read failed")
		}
	}

	var row SummaryRow
	err := s.db.WithContext(ctx).First(&row, "record_id = ?", recordID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return summary.Summary{}, ErrNotFound
	}
	if err != nil {
		return summary.Summary{}, err
	}

	var sum summary.Summary
	if err := json.Unmarshal(row.Payload, &sum); err != nil {
		return summary.Summary{}, fmt.Errorf("unmarshal summary %s: %w", recordID, err)
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey(recordID), []byte(row.Payload), s.cacheTTL).Err(); err != nil {
			logger.WithComponent("phenostore").WithError(err).Warn("cache backfill failed")
		}
	}
	return sum, nil
}

// ListByTopPhenotype returns rows whose leading phenotype matches, newest
// first, for cohort selection.
func (s *Store) ListByTopPhenotype(ctx context.Context, phenotype int, minProbability float64, limit int) ([]SummaryRow, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []SummaryRow
	err := s.db.WithContext(ctx).
		Where("top_phenotype = ? AND top_probability >= ?", phenotype, minProbability).
		Order("updated_at desc").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// List pages over all stored summaries.
func (s *Store) List(ctx context.Context, limit, offset int) ([]SummaryRow, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []SummaryRow
	err := s.db.WithContext(ctx).
		Order("record_id").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	return rows, err
}

// Unpack decodes the stored payload back into a summary.
func (r SummaryRow) Unpack() (summary.Summary, error) {
	var sum summary.Summary
	if err := json.Unmarshal(r.Payload, &sum); err != nil {
		return summary.Summary{}, fmt.Errorf("unmarshal summary %s: %w", r.RecordID, err)
	}
	return sum, nil
}
