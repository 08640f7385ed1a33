package engine

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/phenoscope/platform/pkg/common/logger"
	"github.com/phenoscope/platform/pkg/common/models"
	"github.com/phenoscope/platform/pkg/features"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.Init()
}

func diagVocabulary(t *testing.T, codes ...string) *features.Vocabulary {
	t.Helper()
	vocab := &features.Vocabulary{Terms: map[models.Modality][]string{
		models.ModalityDiagnosis: codes,
	}}
	vocab.Rebuild()
	return vocab
}

func diagEvidence(recordID string, counts map[int]float64) models.EvidenceVector {
	return models.EvidenceVector{
		RecordID: recordID,
		Counts: map[models.Modality]map[int]float64{
			models.ModalityDiagnosis: counts,
		},
	}
}

func testConfig(k int) Config {
	return Config{
		PhenotypeCount:       k,
		MaxIterations:        200,
		ConvergenceThreshold: 1e-6,
		SmoothingPseudocount: 0.01,
		Seed:                 7,
		Workers:              2,
	}
}

func trainedOnCodes(t *testing.T) (*Result, *features.Vocabulary, []models.EvidenceVector) {
	t.Helper()
	vocab := diagVocabulary(t, "icd10:a", "icd10:b")
	// Feature 0 is code A, feature 1 is code B.
	corpus := []models.EvidenceVector{
		diagEvidence("rec-1", map[int]float64{0: 2, 1: 1}),
		diagEvidence("rec-2", map[int]float64{0: 3}),
		diagEvidence("rec-3", map[int]float64{1: 3}),
	}

	trainer, err := NewTrainer(testConfig(2))
	require.NoError(t, err)
	result, err := trainer.Fit(context.Background(), corpus, vocab)
	require.NoError(t, err)
	return result, vocab, corpus
}

func TestTrainerSeparatesPhenotypes(t *testing.T) {
	result, _, corpus := trainedOnCodes(t)

	post3, err := Infer(result.Parameters, corpus[2])
	require.NoError(t, err)
	post2, err := Infer(result.Parameters, corpus[1])
	require.NoError(t, err)

	argmax := func(p []float64) int {
		best := 0
		for i := range p {
			if p[i] > p[best] {
				best = i
			}
		}
		return best
	}

	bPhenotype := argmax(post3.Probabilities)
	aPhenotype := argmax(post2.Probabilities)
	assert.NotEqual(t, aPhenotype, bPhenotype, "pure-A and pure-B records should land in different phenotypes")
	assert.Greater(t, post3.Probabilities[bPhenotype], 0.9, "pure-B record should be confidently assigned")

	emissions := result.Parameters.LogEmissions[models.ModalityDiagnosis]
	assert.Greater(t, math.Exp(emissions[bPhenotype][1]), math.Exp(emissions[bPhenotype][0]),
		"the B phenotype should emit code B more readily than code A")
	assert.Greater(t, math.Exp(emissions[aPhenotype][0]), math.Exp(emissions[aPhenotype][1]),
		"the A phenotype should emit code A more readily than code B")
}

func TestTrainerLogLikelihoodMonotone(t *testing.T) {
	result, _, _ := trainedOnCodes(t)

	require.NotEmpty(t, result.LogLikelihoods)
	for i := 1; i < len(result.LogLikelihoods); i++ {
		assert.GreaterOrEqual(t, result.LogLikelihoods[i], result.LogLikelihoods[i-1]-1e-9,
			"log-likelihood decreased at iteration %d", i)
	}
}

func TestPosteriorSumsToOne(t *testing.T) {
	result, _, corpus := trainedOnCodes(t)

	for _, ev := range corpus {
		post, err := Infer(result.Parameters, ev)
		require.NoError(t, err)
		sum := 0.0
		for _, p := range post.Probabilities {
			require.GreaterOrEqual(t, p, 0.0)
			sum += p
		}
		assert.InDelta(t, 1.0, sum, 1e-6)
	}
}

func TestEmptyEvidenceFallsBackToPrior(t *testing.T) {
	result, _, _ := trainedOnCodes(t)

	post, err := Infer(result.Parameters, diagEvidence("rec-empty", map[int]float64{}))
	require.NoError(t, err)

	prior := result.Parameters.Prior()
	require.Len(t, post.Probabilities, len(prior))
	for k := range prior {
		assert.InDelta(t, prior[k], post.Probabilities[k], 1e-12)
	}
}

func TestOnlineInferenceIsPure(t *testing.T) {
	result, _, corpus := trainedOnCodes(t)

	before, err := Encode(result.Parameters)
	require.NoError(t, err)

	first, err := Infer(result.Parameters, corpus[0])
	require.NoError(t, err)
	second, err := Infer(result.Parameters, corpus[0])
	require.NoError(t, err)
	assert.Equal(t, first, second, "identical inputs should yield identical posteriors")

	after, err := Encode(result.Parameters)
	require.NoError(t, err)
	assert.Equal(t, before, after, "inference must not mutate model parameters")
}

func TestArtifactRoundTrip(t *testing.T) {
	result, _, corpus := trainedOnCodes(t)

	dir := t.TempDir()
	path, err := Save(result.Parameters, dir, "job-1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "job-1.json"), path)

	restored, err := Load(filepath.Join(dir, "phenotype_latest.json"))
	require.NoError(t, err)

	want, err := Infer(result.Parameters, corpus[0])
	require.NoError(t, err)
	got, err := Infer(restored, corpus[0])
	require.NoError(t, err)
	assert.Equal(t, want.Probabilities, got.Probabilities, "round-tripped parameters must infer identically")
}

func TestArtifactVersionRejected(t *testing.T) {
	result, _, _ := trainedOnCodes(t)
	result.Parameters.Version = ArtifactVersion + 1

	payload, err := Encode(result.Parameters)
	require.NoError(t, err)
	_, err = Decode(payload)
	assert.ErrorIs(t, err, ErrArtifactVersion)
}

func TestInvalidConfiguration(t *testing.T) {
	_, err := NewTrainer(Config{PhenotypeCount: 0, MaxIterations: 10})
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = NewTrainer(Config{PhenotypeCount: 2, MaxIterations: 10, ConvergenceThreshold: -1})
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestConfigurationMismatch(t *testing.T) {
	result, _, _ := trainedOnCodes(t)

	// Feature id beyond the diagnosis vocabulary.
	_, err := Infer(result.Parameters, diagEvidence("rec-x", map[int]float64{99: 1}))
	assert.ErrorIs(t, err, ErrConfigurationMismatch)

	// Unknown modality.
	_, err = Infer(result.Parameters, models.EvidenceVector{
		RecordID: "rec-y",
		Counts:   map[models.Modality]map[int]float64{"imaging": {0: 1}},
	})
	assert.ErrorIs(t, err, ErrConfigurationMismatch)
}

func TestNumericInstabilitySurfaced(t *testing.T) {
	result, _, corpus := trainedOnCodes(t)

	result.Parameters.LogEmissions[models.ModalityDiagnosis][0][0] = math.NaN()
	_, err := Infer(result.Parameters, corpus[0])
	assert.ErrorIs(t, err, ErrNumericInstability)
}

func TestTrainingStopsBetweenIterations(t *testing.T) {
	vocab := diagVocabulary(t, "icd10:a", "icd10:b")
	corpus := []models.EvidenceVector{
		diagEvidence("rec-1", map[int]float64{0: 1}),
		diagEvidence("rec-2", map[int]float64{1: 1}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	trainer, err := NewTrainer(testConfig(2))
	require.NoError(t, err)
	_, err = trainer.Fit(ctx, corpus, vocab)
	assert.ErrorIs(t, err, context.Canceled)
}
