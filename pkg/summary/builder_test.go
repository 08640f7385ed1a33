package summary

import (
	"testing"

	"github.com/phenoscope/platform/pkg/common/models"
)

func testPosterior() models.PosteriorAssignment {
	return models.PosteriorAssignment{
		RecordID:      "rec-1",
		Probabilities: []float64{0.08, 0.72, 0.15, 0.05},
		Contributions: [][]models.FeatureContribution{
			{},
			{
				{Modality: models.ModalityDiagnosis, FeatureID: 0, Weight: 0.4},
				{Modality: models.ModalityText, FeatureID: 3, Weight: 0.9},
				{Modality: models.ModalityLab, FeatureID: 1, Weight: -0.2},
				{Modality: models.ModalityText, FeatureID: 5, Weight: 0.1},
			},
			{
				{Modality: models.ModalityDiagnosis, FeatureID: 1, Weight: 0.3},
			},
			{},
		},
	}
}

func TestBuilderSelectsTopPhenotypes(t *testing.T) {
	builder := NewBuilder(Config{TopPhenotypes: 2, TopFeatures: 2, ProbabilityFloor: 0.1}, nil)
	result := builder.Build(testPosterior())

	if result.RecordID != "rec-1" {
		t.Fatalf("unexpected record id %s", result.RecordID)
	}
	if len(result.PhenotypeProbabilities) != 4 {
		t.Fatal("full distribution must be preserved")
	}
	if len(result.TopPhenotypes) != 2 {
		t.Fatalf("expected 2 top phenotypes, got %d", len(result.TopPhenotypes))
	}
	if result.TopPhenotypes[0].PhenotypeID != 1 || result.TopPhenotypes[1].PhenotypeID != 2 {
		t.Fatalf("unexpected ordering: %+v", result.TopPhenotypes)
	}
}

func TestBuilderProbabilityFloor(t *testing.T) {
	builder := NewBuilder(Config{TopPhenotypes: 10, TopFeatures: 2, ProbabilityFloor: 0.1}, nil)
	result := builder.Build(testPosterior())

	for _, score := range result.TopPhenotypes {
		if score.Probability < 0.1 {
			t.Fatalf("phenotype %d below floor included", score.PhenotypeID)
		}
	}
}

func TestBuilderTopFeatures(t *testing.T) {
	builder := NewBuilder(Config{TopPhenotypes: 1, TopFeatures: 2, ProbabilityFloor: 0}, nil)
	result := builder.Build(testPosterior())

	top := result.TopPhenotypes[0].TopFeatures
	if len(top) != 2 {
		t.Fatalf("expected 2 features, got %d", len(top))
	}
	if top[0].FeatureID != 3 || top[0].Modality != models.ModalityText {
		t.Fatalf("expected strongest feature first, got %+v", top[0])
	}
	if top[1].FeatureID != 0 || top[1].Modality != models.ModalityDiagnosis {
		t.Fatalf("unexpected second feature %+v", top[1])
	}
	for _, fw := range top {
		if fw.Weight <= 0 {
			t.Fatal("negative contributions must not surface as top features")
		}
	}
}

func TestBuilderDefaultsOnZeroConfig(t *testing.T) {
	builder := NewBuilder(Config{}, nil)
	result := builder.Build(testPosterior())

	if len(result.TopPhenotypes) == 0 {
		t.Fatal("expected defaults to produce output")
	}
}
