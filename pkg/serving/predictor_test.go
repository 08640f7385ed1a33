package serving

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/phenoscope/platform/pkg/common/logger"
	"github.com/phenoscope/platform/pkg/common/models"
	"github.com/phenoscope/platform/pkg/engine"
	"github.com/phenoscope/platform/pkg/features"
)

func init() {
	logger.Init()
}

func trainParams(t *testing.T, seed int64) (*engine.ModelParameters, *features.Vocabulary) {
	t.Helper()
	vocab := &features.Vocabulary{Terms: map[models.Modality][]string{
		models.ModalityDiagnosis: {"icd10:e11", "icd10:i10"},
	}}
	vocab.Rebuild()

	trainer, err := engine.NewTrainer(engine.Config{
		PhenotypeCount:       2,
		MaxIterations:        30,
		ConvergenceThreshold: 1e-5,
		SmoothingPseudocount: 0.01,
		Seed:                 seed,
		Workers:              1,
	})
	if err != nil {
		t.Fatalf("NewTrainer: %v", err)
	}
	corpus := []models.EvidenceVector{
		{RecordID: "a", Counts: map[models.Modality]map[int]float64{models.ModalityDiagnosis: {0: 3}}},
		{RecordID: "b", Counts: map[models.Modality]map[int]float64{models.ModalityDiagnosis: {1: 3}}},
	}
	result, err := trainer.Fit(context.Background(), corpus, vocab)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	return result.Parameters, vocab
}

func TestPredictorServesLatestArtifact(t *testing.T) {
	dir := t.TempDir()
	params, _ := trainParams(t, 3)
	if _, err := engine.Save(params, dir, "job-1"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	predictor := NewPredictor(dir)
	ev := models.EvidenceVector{RecordID: "r1", Counts: map[models.Modality]map[int]float64{
		models.ModalityDiagnosis: {0: 2},
	}}
	post, err := predictor.Predict(ev)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if len(post.Probabilities) != 2 {
		t.Fatalf("expected 2 probabilities, got %d", len(post.Probabilities))
	}
}

func TestPredictorReloadsOnNewArtifact(t *testing.T) {
	dir := t.TempDir()
	first, _ := trainParams(t, 3)
	if _, err := engine.Save(first, dir, "job-1"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	predictor := NewPredictor(dir)
	loaded, err := predictor.Parameters()
	if err != nil {
		t.Fatalf("Parameters: %v", err)
	}
	firstSeed := loaded.Seed

	second, _ := trainParams(t, 99)
	if _, err := engine.Save(second, dir, "job-2"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	// Filesystem mtime granularity can hide a rewrite inside the same tick.
	future := time.Now().Add(2 * time.Second)
	latest := filepath.Join(dir, "phenotype_latest.json")
	if err := os.Chtimes(latest, future, future); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	reloaded, err := predictor.Parameters()
	if err != nil {
		t.Fatalf("Parameters after update: %v", err)
	}
	if reloaded.Seed == firstSeed {
		t.Fatal("predictor did not pick up new artifact")
	}
}

func TestPredictorMissingArtifact(t *testing.T) {
	predictor := NewPredictor(t.TempDir())
	if _, err := predictor.Parameters(); err == nil {
		t.Fatal("expected error with no artifact on disk")
	}
}
