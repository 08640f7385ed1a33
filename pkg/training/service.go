package training

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/phenoscope/platform/pkg/common/logger"
	"github.com/phenoscope/platform/pkg/common/models"
	"github.com/phenoscope/platform/pkg/engine"
	"github.com/phenoscope/platform/pkg/features"
)

// CorpusSource pages patient records out of storage.
type CorpusSource interface {
	ListCorpus(ctx context.Context, limit, offset int) ([]*models.PatientRecord, error)
}

// Annotator labels the spans of a section in place.
type Annotator interface {
	Annotate(section *models.Section)
}

const corpusPageSize = 500

// Service owns the training job lifecycle: queue, fit, persist the
// parameter snapshot, record metrics.
type Service struct {
	repo        *Repository
	corpus      CorpusSource
	detector    Annotator
	extractor   *features.Extractor
	artifactDir string
	workerSem   chan struct{}
	log         *logrus.Entry
}

func NewService(repo *Repository, corpus CorpusSource, detector Annotator, extractor *features.Extractor, artifactDir string, maxWorkers int) (*Service, error) {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	if err := os.MkdirAll(artifactDir, 0o755); err != nil {
		return nil, err
	}
	return &Service{
		repo:        repo,
		corpus:      corpus,
		detector:    detector,
		extractor:   extractor,
		artifactDir: artifactDir,
		workerSem:   make(chan struct{}, maxWorkers),
		log:         logger.WithComponent("training"),
	}, nil
}

// Create validates the configuration up front so a bad request fails at the
// API instead of inside a queued job, then kicks off the fit asynchronously.
func (s *Service) Create(ctx context.Context, input CreateJobInput) (Job, error) {
	if _, err := engine.NewTrainer(input.Engine); err != nil {
		return Job{}, err
	}

	jobID := uuid.New()
	job := &JobModel{
		ID: jobID,
		Config: datatypes.JSONMap{
			"phenotype_count":       input.Engine.PhenotypeCount,
			"max_iterations":        input.Engine.MaxIterations,
			"convergence_threshold": input.Engine.ConvergenceThreshold,
			"smoothing":             input.Engine.SmoothingPseudocount,
			"seed":                  input.Engine.Seed,
			"corpus_limit":          input.CorpusLimit,
		},
		Status:    StatusQueued,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return Job{}, err
	}
	go s.run(jobID, input)
	return toDomain(job), nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (Job, error) {
	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return Job{}, err
	}
	return toDomain(job), nil
}

func (s *Service) List(ctx context.Context, limit int) ([]Job, error) {
	jobs, err := s.repo.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	results := make([]Job, 0, len(jobs))
	for _, job := range jobs {
		copy := job
		results = append(results, toDomain(&copy))
	}
	return results, nil
}

func (s *Service) run(jobID uuid.UUID, input CreateJobInput) {
	s.workerSem <- struct{}{}
	defer func() { <-s.workerSem }()

	ctx := context.Background()
	start := time.Now().UTC()
	if err := s.repo.UpdateStatus(ctx, jobID, StatusRunning, nil, "", ""); err != nil {
		s.log.WithError(err).Error("failed to mark job running")
	}
	if err := s.repo.SetTimestamps(ctx, jobID, &start, nil); err != nil {
		s.log.WithError(err).Error("failed to set start timestamp")
	}

	evidence, skipped, err := s.buildEvidence(ctx, input.CorpusLimit)
	if err != nil {
		s.failJob(ctx, jobID, fmt.Errorf("corpus load failed: %w", err))
		return
	}

	trainer, err := engine.NewTrainer(input.Engine)
	if err != nil {
		s.failJob(ctx, jobID, err)
		return
	}
	result, err := trainer.Fit(ctx, evidence, s.extractor.Vocabulary())
	if err != nil {
		s.failJob(ctx, jobID, fmt.Errorf("fit failed: %w", err))
		return
	}

	artifactPath, err := engine.Save(result.Parameters, s.artifactDir, jobID.String())
	if err != nil {
		s.failJob(ctx, jobID, fmt.Errorf("artifact write failed: %w", err))
		return
	}

	metrics := map[string]interface{}{
		"records":              len(evidence),
		"records_skipped":      skipped,
		"iterations":           result.Iterations,
		"converged":            result.Converged,
		"final_log_likelihood": finalLogLikelihood(result.LogLikelihoods),
		"log_likelihoods":      result.LogLikelihoods,
		"duration_seconds":     time.Since(start).Seconds(),
	}

	if err := s.repo.UpdateStatus(ctx, jobID, StatusCompleted, metrics, artifactPath, ""); err != nil {
		s.log.WithError(err).Error("failed to mark job complete")
	}
	completed := time.Now().UTC()
	if err := s.repo.SetTimestamps(ctx, jobID, nil, &completed); err != nil {
		s.log.WithError(err).Error("failed to set completion timestamp")
	}
	s.log.WithFields(logrus.Fields{
		"job_id":     jobID,
		"records":    len(evidence),
		"iterations": result.Iterations,
		"converged":  result.Converged,
	}).Info("training job complete")
}

// buildEvidence pages through the corpus, annotating and extracting each
// record. Records the extractor rejects are skipped and counted rather than
// failing the job.
func (s *Service) buildEvidence(ctx context.Context, limit int) ([]models.EvidenceVector, int, error) {
	var evidence []models.EvidenceVector
	skipped := 0
	offset := 0
	for {
		page := corpusPageSize
		if limit > 0 && limit-offset < page {
			page = limit - offset
		}
		if page <= 0 {
			break
		}
		records, err := s.corpus.ListCorpus(ctx, page, offset)
		if err != nil {
			return nil, 0, err
		}
		if len(records) == 0 {
			break
		}
		for _, record := range records {
			for i := range record.Sections {
				s.detector.Annotate(&record.Sections[i])
			}
			ev, _, err := s.extractor.Extract(record)
			if err != nil {
				s.log.WithFields(logrus.Fields{"record_id": record.ID}).WithError(err).Warn("record excluded from training")
				skipped++
				continue
			}
			evidence = append(evidence, ev)
		}
		offset += len(records)
	}
	return evidence, skipped, nil
}

func (s *Service) failJob(ctx context.Context, jobID uuid.UUID, err error) {
	s.log.WithError(err).Error("training job failed")
	_ = s.repo.UpdateStatus(ctx, jobID, StatusFailed, nil, "", err.Error())
	completed := time.Now().UTC()
	_ = s.repo.SetTimestamps(ctx, jobID, nil, &completed)
}

func finalLogLikelihood(trace []float64) float64 {
	if len(trace) == 0 {
		return 0
	}
	return trace[len(trace)-1]
}
