package engine

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/phenoscope/platform/pkg/common/models"
	"github.com/phenoscope/platform/pkg/features"
)

// Config is the engine's tuning surface. Modality weights fix the open
// question of how modalities combine in the likelihood: they are explicit
// configuration, defaulting to equal weighting.
type Config struct {
	PhenotypeCount       int                         `json:"phenotype_count"`
	MaxIterations        int                         `json:"max_iterations"`
	ConvergenceThreshold float64                     `json:"convergence_threshold"`
	SmoothingPseudocount float64                     `json:"smoothing_pseudocount"`
	Seed                 int64                       `json:"seed"`
	Workers              int                         `json:"workers"`
	ModalityWeights      map[models.Modality]float64 `json:"modality_weights,omitempty"`
}

func (c Config) validate() error {
	if c.PhenotypeCount < 1 {
		return fmt.Errorf("%w: phenotype count %d < 1", ErrInvalidConfiguration, c.PhenotypeCount)
	}
	if c.MaxIterations < 1 {
		return fmt.Errorf("%w: max iterations %d < 1", ErrInvalidConfiguration, c.MaxIterations)
	}
	if c.ConvergenceThreshold < 0 {
		return fmt.Errorf("%w: negative convergence threshold", ErrInvalidConfiguration)
	}
	if c.SmoothingPseudocount < 0 {
		return fmt.Errorf("%w: negative smoothing pseudocount", ErrInvalidConfiguration)
	}
	for modality, weight := range c.ModalityWeights {
		if weight < 0 {
			return fmt.Errorf("%w: negative weight for modality %s", ErrInvalidConfiguration, modality)
		}
	}
	return nil
}

// weights fills in the default equal weighting for unspecified modalities.
func (c Config) weights() map[models.Modality]float64 {
	weights := make(map[models.Modality]float64, len(models.Modalities()))
	for _, modality := range models.Modalities() {
		weights[modality] = 1.0
	}
	for modality, w := range c.ModalityWeights {
		weights[modality] = w
	}
	return weights
}

// ModelParameters is an immutable snapshot of the mixture model: global
// mixture weights plus per-phenotype per-modality emission distributions,
// everything held in log space. Training produces new snapshots rather than
// mutating in place, so concurrent readers never observe a partial update.
type ModelParameters struct {
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	K         int       `json:"k"`
	Seed      int64     `json:"seed"`

	LogMixture   []float64                       `json:"log_mixture"`
	LogEmissions map[models.Modality][][]float64 `json:"log_emissions"`

	ModalityWeights map[models.Modality]float64 `json:"modality_weights"`
	Vocabulary      *features.Vocabulary        `json:"vocabulary"`
}

// newRandomParameters seeds a snapshot for EM: uniform mixture, near-uniform
// emissions with seeded jitter to break symmetry. Runs are initialization
// sensitive, so the seed is part of the snapshot.
func newRandomParameters(cfg Config, vocab *features.Vocabulary) (*ModelParameters, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if vocab == nil {
		return nil, fmt.Errorf("%w: nil vocabulary", ErrInvalidConfiguration)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	k := cfg.PhenotypeCount

	logMixture := make([]float64, k)
	uniform := math.Log(1.0 / float64(k))
	for i := range logMixture {
		logMixture[i] = uniform
	}

	logEmissions := make(map[models.Modality][][]float64, len(models.Modalities()))
	for _, modality := range models.Modalities() {
		size := vocab.Size(modality)
		table := make([][]float64, k)
		for ki := 0; ki < k; ki++ {
			row := make([]float64, size)
			total := 0.0
			for f := range row {
				row[f] = 1.0 + 0.1*rng.Float64()
				total += row[f]
			}
			for f := range row {
				row[f] = math.Log(row[f] / total)
			}
			table[ki] = row
		}
		logEmissions[modality] = table
	}

	return &ModelParameters{
		Version:         ArtifactVersion,
		CreatedAt:       time.Now().UTC(),
		K:               k,
		Seed:            cfg.Seed,
		LogMixture:      logMixture,
		LogEmissions:    logEmissions,
		ModalityWeights: cfg.weights(),
		Vocabulary:      vocab,
	}, nil
}

// Prior is the mixture distribution itself; a record with no evidence falls
// back to it.
func (p *ModelParameters) Prior() []float64 {
	prior := make([]float64, p.K)
	total := 0.0
	for k, lw := range p.LogMixture {
		prior[k] = math.Exp(lw)
		total += prior[k]
	}
	for k := range prior {
		prior[k] /= total
	}
	return prior
}

// ValidateEvidence checks an evidence vector against the snapshot's modality
// shapes before inference.
func (p *ModelParameters) ValidateEvidence(ev models.EvidenceVector) error {
	for modality, counts := range ev.Counts {
		table, ok := p.LogEmissions[modality]
		if !ok {
			return fmt.Errorf("%w: unknown modality %s", ErrConfigurationMismatch, modality)
		}
		size := 0
		if len(table) > 0 {
			size = len(table[0])
		}
		for featureID := range counts {
			if featureID < 0 || featureID >= size {
				return fmt.Errorf("%w: feature %d out of range for modality %s (vocabulary size %d)",
					ErrConfigurationMismatch, featureID, modality, size)
			}
		}
	}
	return nil
}
