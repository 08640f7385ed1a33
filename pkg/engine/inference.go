package engine

import (
	"fmt"
	"math"
	"sort"

	"github.com/phenoscope/platform/pkg/common/models"
)

// sortedFeatureIDs fixes the iteration order over a sparse count map.
// Floating-point accumulation is order dependent, and inference must be
// bit-identical for identical inputs.
func sortedFeatureIDs(counts map[int]float64) []int {
	ids := make([]int, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// logSumExp computes log(Σ exp(x)) with the max shifted out to avoid
// underflow.
func logSumExp(values []float64) float64 {
	maxVal := math.Inf(-1)
	for _, v := range values {
		if v > maxVal {
			maxVal = v
		}
	}
	if math.IsInf(maxVal, -1) {
		return maxVal
	}
	sum := 0.0
	for _, v := range values {
		sum += math.Exp(v - maxVal)
	}
	return maxVal + math.Log(sum)
}

// responsibilities runs one E-step over a single record: the posterior over
// phenotypes given the snapshot, plus the record's log-likelihood. Pure with
// respect to the snapshot.
func responsibilities(params *ModelParameters, ev models.EvidenceVector) ([]float64, float64, error) {
	logPost := make([]float64, params.K)
	copy(logPost, params.LogMixture)

	for _, modality := range models.Modalities() {
		counts := ev.Counts[modality]
		if len(counts) == 0 {
			continue
		}
		weight := params.ModalityWeights[modality]
		if weight == 0 {
			continue
		}
		table := params.LogEmissions[modality]
		for _, featureID := range sortedFeatureIDs(counts) {
			count := counts[featureID]
			for k := 0; k < params.K; k++ {
				logPost[k] += weight * count * table[k][featureID]
			}
		}
	}

	norm := logSumExp(logPost)
	if math.IsNaN(norm) || math.IsInf(norm, 0) {
		return nil, 0, fmt.Errorf("%w: record %s log-likelihood %v", ErrNumericInstability, ev.RecordID, norm)
	}

	post := make([]float64, params.K)
	total := 0.0
	for k := range post {
		post[k] = math.Exp(logPost[k] - norm)
		total += post[k]
	}
	// Renormalize so the distribution sums to 1 within tolerance after
	// exponentiation.
	for k := range post {
		post[k] /= total
	}
	return post, norm, nil
}

// Infer is the online inference path: a single E-step over one record
// against a fixed snapshot. It is a pure function of (params, ev) and is
// O(K × distinct features in the record). A record with no evidence falls
// back to the prior mixture weights.
func Infer(params *ModelParameters, ev models.EvidenceVector) (models.PosteriorAssignment, error) {
	if params == nil {
		return models.PosteriorAssignment{}, fmt.Errorf("%w: nil model parameters", ErrInvalidConfiguration)
	}
	if err := params.ValidateEvidence(ev); err != nil {
		return models.PosteriorAssignment{}, err
	}

	if ev.Empty() {
		return models.PosteriorAssignment{
			RecordID:      ev.RecordID,
			Probabilities: params.Prior(),
			Contributions: make([][]models.FeatureContribution, params.K),
		}, nil
	}

	post, _, err := responsibilities(params, ev)
	if err != nil {
		return models.PosteriorAssignment{}, err
	}

	return models.PosteriorAssignment{
		RecordID:      ev.RecordID,
		Probabilities: post,
		Contributions: contributions(params, ev, post),
	}, nil
}

// contributions scores each present feature's pull toward each phenotype:
// the responsibility-weighted log-odds of the feature under that phenotype
// against its average across phenotypes.
func contributions(params *ModelParameters, ev models.EvidenceVector, post []float64) [][]models.FeatureContribution {
	result := make([][]models.FeatureContribution, params.K)

	for _, modality := range models.Modalities() {
		counts := ev.Counts[modality]
		weight := params.ModalityWeights[modality]
		if weight == 0 || len(counts) == 0 {
			continue
		}
		table := params.LogEmissions[modality]
		for _, featureID := range sortedFeatureIDs(counts) {
			count := counts[featureID]
			mean := 0.0
			for k := 0; k < params.K; k++ {
				mean += table[k][featureID]
			}
			mean /= float64(params.K)

			for k := 0; k < params.K; k++ {
				delta := weight * count * (table[k][featureID] - mean)
				result[k] = append(result[k], models.FeatureContribution{
					Modality:  modality,
					FeatureID: featureID,
					Weight:    post[k] * delta,
				})
			}
		}
	}
	return result
}
