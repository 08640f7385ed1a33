package training

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/phenoscope/platform/pkg/engine"
)

const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

type JobModel struct {
	ID           uuid.UUID         `gorm:"type:uuid;primaryKey;column:id"`
	Config       datatypes.JSONMap `gorm:"column:config"`
	Status       string            `gorm:"column:status"`
	Metrics      datatypes.JSONMap `gorm:"column:metrics"`
	ArtifactPath string            `gorm:"column:artifact_path"`
	ErrorMessage string            `gorm:"column:error_message"`
	CreatedAt    time.Time         `gorm:"column:created_at"`
	UpdatedAt    time.Time         `gorm:"column:updated_at"`
	StartedAt    *time.Time        `gorm:"column:started_at"`
	CompletedAt  *time.Time        `gorm:"column:completed_at"`
}

func (JobModel) TableName() string {
	return "training_jobs"
}

// CreateJobInput carries the mixture-model configuration for one fit plus
// the corpus bound. CorpusLimit of zero means the whole store.
type CreateJobInput struct {
	Engine      engine.Config `json:"engine"`
	CorpusLimit int           `json:"corpus_limit"`
}

// Job is the API-facing view of a training job.
type Job struct {
	ID           uuid.UUID              `json:"id"`
	Status       string                 `json:"status"`
	Config       map[string]interface{} `json:"config,omitempty"`
	Metrics      map[string]interface{} `json:"metrics,omitempty"`
	ArtifactPath string                 `json:"artifact_path,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	StartedAt    *time.Time             `json:"started_at,omitempty"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty"`
}

func toDomain(job *JobModel) Job {
	result := Job{
		ID:           job.ID,
		Status:       job.Status,
		ArtifactPath: job.ArtifactPath,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt,
		StartedAt:    job.StartedAt,
		CompletedAt:  job.CompletedAt,
	}
	if job.Config != nil {
		result.Config = map[string]interface{}(job.Config)
	}
	if job.Metrics != nil {
		result.Metrics = map[string]interface{}(job.Metrics)
	}
	return result
}
