package summary

import (
	"sort"

	"github.com/phenoscope/platform/pkg/common/models"
	"github.com/phenoscope/platform/pkg/features"
)

// Config bounds the report: top-N phenotypes above the probability floor,
// top-M contributing features per phenotype.
type Config struct {
	TopPhenotypes    int     `json:"top_phenotypes"`
	TopFeatures      int     `json:"top_features"`
	ProbabilityFloor float64 `json:"probability_floor"`
}

func DefaultConfig() Config {
	return Config{TopPhenotypes: 5, TopFeatures: 5, ProbabilityFloor: 0.01}
}

// FeatureWeight is one contributing feature in the report, with the
// human-readable term resolved from the vocabulary when available.
type FeatureWeight struct {
	FeatureID int             `json:"feature_id"`
	Modality  models.Modality `json:"modality"`
	Term      string          `json:"term,omitempty"`
	Weight    float64         `json:"weight"`
}

type PhenotypeScore struct {
	PhenotypeID int             `json:"phenotype_id"`
	Probability float64         `json:"probability"`
	TopFeatures []FeatureWeight `json:"top_features"`
}

// Summary is the structured output record consumed downstream: the full
// distribution plus the interpretable top slice.
type Summary struct {
	RecordID               string           `json:"record_id"`
	PhenotypeProbabilities []float64        `json:"phenotype_probabilities"`
	TopPhenotypes          []PhenotypeScore `json:"top_phenotypes"`
}

// Builder is a pure projection over a PosteriorAssignment: sorting and
// filtering only, no computation.
type Builder struct {
	cfg   Config
	vocab *features.Vocabulary
}

func NewBuilder(cfg Config, vocab *features.Vocabulary) *Builder {
	if cfg.TopPhenotypes <= 0 {
		cfg.TopPhenotypes = DefaultConfig().TopPhenotypes
	}
	if cfg.TopFeatures <= 0 {
		cfg.TopFeatures = DefaultConfig().TopFeatures
	}
	return &Builder{cfg: cfg, vocab: vocab}
}

func (b *Builder) Build(post models.PosteriorAssignment) Summary {
	result := Summary{
		RecordID:               post.RecordID,
		PhenotypeProbabilities: post.Probabilities,
	}

	order := make([]int, len(post.Probabilities))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return post.Probabilities[order[i]] > post.Probabilities[order[j]]
	})

	for _, phenotype := range order {
		if len(result.TopPhenotypes) >= b.cfg.TopPhenotypes {
			break
		}
		probability := post.Probabilities[phenotype]
		if probability < b.cfg.ProbabilityFloor {
			break
		}
		result.TopPhenotypes = append(result.TopPhenotypes, PhenotypeScore{
			PhenotypeID: phenotype,
			Probability: probability,
			TopFeatures: b.topFeatures(post, phenotype),
		})
	}
	return result
}

func (b *Builder) topFeatures(post models.PosteriorAssignment, phenotype int) []FeatureWeight {
	if phenotype >= len(post.Contributions) {
		return nil
	}
	contribs := make([]models.FeatureContribution, len(post.Contributions[phenotype]))
	copy(contribs, post.Contributions[phenotype])

	sort.SliceStable(contribs, func(i, j int) bool {
		return contribs[i].Weight > contribs[j].Weight
	})

	var top []FeatureWeight
	for _, c := range contribs {
		if len(top) >= b.cfg.TopFeatures {
			break
		}
		if c.Weight <= 0 {
			break
		}
		fw := FeatureWeight{
			FeatureID: c.FeatureID,
			Modality:  c.Modality,
			Weight:    c.Weight,
		}
		if b.vocab != nil {
			fw.Term = b.vocab.Term(c.Modality, c.FeatureID)
		}
		top = append(top, fw)
	}
	return top
}
