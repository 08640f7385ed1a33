package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/phenoscope/platform/pkg/common/logger"
	"github.com/phenoscope/platform/pkg/common/models"
	"github.com/phenoscope/platform/pkg/engine"
	"github.com/phenoscope/platform/pkg/features"
	"github.com/phenoscope/platform/pkg/phi"
	"github.com/phenoscope/platform/pkg/summary"
)

// Runner drives a record through valence annotation, feature extraction,
// posterior inference and summary building.
type Runner struct {
	detector  Annotator
	extractor *features.Extractor
	params    *engine.ModelParameters
	builder   *summary.Builder
	scrubber  *phi.Scrubber
	log       *logrus.Entry
}

// Annotator labels the spans of a section in place.
type Annotator interface {
	Annotate(section *models.Section)
}

// SkippedRecord reports a record dropped from a batch. Reason is scrubbed
// before it leaves the pipeline so log sinks never see raw note text.
type SkippedRecord struct {
	RecordID string `json:"record_id"`
	Reason   string `json:"reason"`
}

// BatchResult is the outcome of a corpus run.
type BatchResult struct {
	Summaries   []summary.Summary    `json:"summaries"`
	Skipped     []SkippedRecord      `json:"skipped"`
	Diagnostics features.Diagnostics `json:"diagnostics"`
}

func NewRunner(det Annotator, extractor *features.Extractor, params *engine.ModelParameters, builder *summary.Builder, scrubber *phi.Scrubber) *Runner {
	return &Runner{
		detector:  det,
		extractor: extractor,
		params:    params,
		builder:   builder,
		scrubber:  scrubber,
		log:       logger.WithComponent("pipeline"),
	}
}

// Process pushes a single record through the full pipeline.
func (r *Runner) Process(record *models.PatientRecord) (summary.Summary, features.Diagnostics, error) {
	for i := range record.Sections {
		r.detector.Annotate(&record.Sections[i])
	}

	evidence, diags, err := r.extractor.Extract(record)
	if err != nil {
		return summary.Summary{}, diags, fmt.Errorf("extract %s: %w", record.ID, err)
	}

	post, err := engine.Infer(r.params, evidence)
	if err != nil {
		return summary.Summary{}, diags, fmt.Errorf("infer %s: %w", record.ID, err)
	}

	return r.builder.Build(post), diags, nil
}

// Run processes a corpus with per-record isolation: a bad record is skipped
// and reported, a configuration problem aborts the whole batch because every
// remaining record would fail the same way.
func (r *Runner) Run(ctx context.Context, corpus []*models.PatientRecord) (BatchResult, error) {
	result := BatchResult{Diagnostics: features.Diagnostics{OutOfVocabulary: map[models.Modality]int{}}}

	for _, record := range corpus {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		built, diags, err := r.Process(record)
		result.Diagnostics.Merge(diags)
		if err != nil {
			if errors.Is(err, engine.ErrConfigurationMismatch) || errors.Is(err, engine.ErrInvalidConfiguration) {
				return result, err
			}
			reason := err.Error()
			if r.scrubber != nil {
				reason = r.scrubber.Scrub(reason)
			}
			r.log.WithFields(logrus.Fields{"record_id": record.ID, "reason": reason}).Warn("record skipped")
			result.Skipped = append(result.Skipped, SkippedRecord{RecordID: record.ID, Reason: reason})
			continue
		}
		result.Summaries = append(result.Summaries, built)
	}

	r.log.WithFields(logrus.Fields{
		"records":   len(corpus),
		"summaries": len(result.Summaries),
		"skipped":   len(result.Skipped),
	}).Info("batch complete")
	return result, nil
}
