package pipeline

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/phenoscope/platform/pkg/common/logger"
	"github.com/phenoscope/platform/pkg/common/models"
	"github.com/phenoscope/platform/pkg/engine"
	"github.com/phenoscope/platform/pkg/features"
	"github.com/phenoscope/platform/pkg/phi"
	"github.com/phenoscope/platform/pkg/summary"
	"github.com/phenoscope/platform/pkg/valence"
)

func init() {
	logger.Init()
}

func codeVocabulary(codes ...string) *features.Vocabulary {
	v := &features.Vocabulary{Terms: map[models.Modality][]string{
		models.ModalityDiagnosis: codes,
	}}
	v.Rebuild()
	return v
}

func codeRecord(id string, codes ...string) *models.PatientRecord {
	rec := &models.PatientRecord{ID: id, PatientID: id}
	for _, code := range codes {
		rec.Diagnoses = append(rec.Diagnoses, models.CodedEvent{System: "icd10", Code: code})
	}
	return rec
}

func trainedRunner(t *testing.T, vocab *features.Vocabulary) *Runner {
	t.Helper()
	trainer, err := engine.NewTrainer(engine.Config{
		PhenotypeCount:       2,
		MaxIterations:        50,
		ConvergenceThreshold: 1e-5,
		SmoothingPseudocount: 0.01,
		Seed:                 11,
		Workers:              2,
	})
	if err != nil {
		t.Fatalf("NewTrainer: %v", err)
	}
	extractor := features.NewExtractor(vocab, features.DefaultReferenceTable())
	corpus := []*models.PatientRecord{
		codeRecord("t1", "e11", "e11"),
		codeRecord("t2", "i10", "i10"),
		codeRecord("t3", "e11"),
	}
	evidence := make([]models.EvidenceVector, 0, len(corpus))
	for _, rec := range corpus {
		ev, _, err := extractor.Extract(rec)
		if err != nil {
			t.Fatalf("Extract: %v", err)
		}
		evidence = append(evidence, ev)
	}
	result, err := trainer.Fit(context.Background(), evidence, vocab)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	scrubber, err := phi.NewScrubber(phi.DefaultRules())
	if err != nil {
		t.Fatalf("NewScrubber: %v", err)
	}
	builder := summary.NewBuilder(summary.DefaultConfig(), vocab)
	detector := valence.NewDetector(valence.DefaultLexicon())
	return NewRunner(detector, extractor, result.Parameters, builder, scrubber)
}

func TestRunProducesSummaries(t *testing.T) {
	vocab := codeVocabulary("icd10:e11", "icd10:i10")
	runner := trainedRunner(t, vocab)

	result, err := runner.Run(context.Background(), []*models.PatientRecord{
		codeRecord("p1", "e11"),
		codeRecord("p2", "i10"),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Summaries) != 2 || len(result.Skipped) != 0 {
		t.Fatalf("got %d summaries, %d skipped", len(result.Summaries), len(result.Skipped))
	}
	for _, s := range result.Summaries {
		total := 0.0
		for _, p := range s.PhenotypeProbabilities {
			total += p
		}
		if math.Abs(total-1) > 1e-6 {
			t.Fatalf("summary %s probabilities sum to %v", s.RecordID, total)
		}
	}
}

func TestRunIsolatesBadRecords(t *testing.T) {
	vocab := codeVocabulary("icd10:e11", "icd10:i10")
	runner := trainedRunner(t, vocab)

	bad := codeRecord("p-bad", "e11")
	bad.Labs = append(bad.Labs, models.LabResult{TestCode: "glucose", Value: math.NaN()})

	result, err := runner.Run(context.Background(), []*models.PatientRecord{
		bad,
		codeRecord("p-good", "i10"),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Summaries) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(result.Summaries))
	}
	if len(result.Skipped) != 1 || result.Skipped[0].RecordID != "p-bad" {
		t.Fatalf("expected p-bad skipped, got %+v", result.Skipped)
	}
}

func TestRunAbortsOnConfigurationMismatch(t *testing.T) {
	trainVocab := codeVocabulary("icd10:e11", "icd10:i10")
	runner := trainedRunner(t, trainVocab)

	// Wider vocabulary than the model was trained with.
	wide := codeVocabulary("icd10:e11", "icd10:i10", "icd10:j45")
	runner.extractor = features.NewExtractor(wide, features.DefaultReferenceTable())

	_, err := runner.Run(context.Background(), []*models.PatientRecord{
		codeRecord("p1", "j45"),
	})
	if !errors.Is(err, engine.ErrConfigurationMismatch) {
		t.Fatalf("expected configuration mismatch, got %v", err)
	}
}

func TestRunHonorsContextCancellation(t *testing.T) {
	vocab := codeVocabulary("icd10:e11", "icd10:i10")
	runner := trainedRunner(t, vocab)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := runner.Run(ctx, []*models.PatientRecord{codeRecord("p1", "e11")})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
