package features

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/phenoscope/platform/pkg/common/models"
	"gopkg.in/yaml.v3"
)

// NegatedPrefix scopes negated text mentions to their own feature ids.
// Negation is evidence in its own right, not the absence of it.
const NegatedPrefix = "neg:"

var labBuckets = []string{"low", "normal", "high", "measured"}

// Vocabulary fixes the feature-id space per modality. Feature ids are the
// positions in the per-modality term list, so identical YAML input always
// yields identical ids.
type Vocabulary struct {
	Terms map[models.Modality][]string `yaml:"terms" json:"terms"`

	index map[models.Modality]map[string]int
}

// LoadVocabulary reads a vocabulary from YAML and expands the derived
// namespaces (negated text terms, lab bucket terms). An empty path yields
// the built-in default.
func LoadVocabulary(path string) (*Vocabulary, error) {
	if path == "" {
		return DefaultVocabulary(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var vocab Vocabulary
	if err := yaml.Unmarshal(content, &vocab); err != nil {
		return nil, err
	}
	if len(vocab.Terms) == 0 {
		return nil, fmt.Errorf("vocabulary empty")
	}
	vocab.normalize()
	return &vocab, nil
}

// normalize lowercases terms, appends the negated-text namespace after the
// base terms, replaces lab test codes with their bucket terms, and rebuilds
// the lookup index.
func (v *Vocabulary) normalize() {
	if v.Terms == nil {
		v.Terms = make(map[models.Modality][]string)
	}

	for modality, terms := range v.Terms {
		lowered := make([]string, 0, len(terms))
		seen := make(map[string]struct{}, len(terms))
		for _, term := range terms {
			t := strings.ToLower(strings.TrimSpace(term))
			if t == "" {
				continue
			}
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			lowered = append(lowered, t)
		}
		v.Terms[modality] = lowered
	}

	if base := v.Terms[models.ModalityText]; len(base) > 0 {
		expanded := make([]string, 0, 2*len(base))
		var negated []string
		for _, term := range base {
			if strings.HasPrefix(term, NegatedPrefix) {
				continue
			}
			expanded = append(expanded, term)
			negated = append(negated, NegatedPrefix+term)
		}
		v.Terms[models.ModalityText] = append(expanded, negated...)
	}

	if codes := v.Terms[models.ModalityLab]; len(codes) > 0 {
		expanded := make([]string, 0, len(codes)*len(labBuckets))
		for _, code := range codes {
			if strings.Contains(code, ":") {
				// Already a bucket term (rebuilt vocabulary); keep as is.
				expanded = append(expanded, code)
				continue
			}
			for _, bucket := range labBuckets {
				expanded = append(expanded, code+":"+bucket)
			}
		}
		v.Terms[models.ModalityLab] = expanded
	}

	v.index = make(map[models.Modality]map[string]int, len(v.Terms))
	for modality, terms := range v.Terms {
		lookup := make(map[string]int, len(terms))
		for id, term := range terms {
			lookup[term] = id
		}
		v.index[modality] = lookup
	}
}

// FeatureID resolves a term to its modality-scoped feature id.
func (v *Vocabulary) FeatureID(modality models.Modality, term string) (int, bool) {
	if v == nil || v.index == nil {
		return 0, false
	}
	id, ok := v.index[modality][strings.ToLower(strings.TrimSpace(term))]
	return id, ok
}

// Term is the inverse of FeatureID, used for interpretable summaries.
func (v *Vocabulary) Term(modality models.Modality, id int) string {
	terms := v.Terms[modality]
	if id < 0 || id >= len(terms) {
		return ""
	}
	return terms[id]
}

func (v *Vocabulary) Size(modality models.Modality) int {
	return len(v.Terms[modality])
}

// Sizes snapshots the per-modality vocabulary sizes, the shape a model's
// emission tables must match.
func (v *Vocabulary) Sizes() map[models.Modality]int {
	sizes := make(map[models.Modality]int, len(v.Terms))
	for _, modality := range models.Modalities() {
		sizes[modality] = len(v.Terms[modality])
	}
	return sizes
}

// Rebuild restores the lookup index after deserialization.
func (v *Vocabulary) Rebuild() {
	v.normalize()
}

// DefaultVocabulary is a small surveillance vocabulary for development and
// tests.
func DefaultVocabulary() *Vocabulary {
	vocab := &Vocabulary{Terms: map[models.Modality][]string{
		models.ModalityText: {
			"fever", "cough", "dyspnea", "fatigue", "chest pain",
			"polyuria", "polydipsia", "edema", "wheezing", "palpitations",
		},
		models.ModalityDiagnosis: {
			"icd10:e11.9", "icd10:i10", "icd10:j18.9", "icd10:j44.9",
			"icd10:i50.9", "icd10:n18.3", "icd10:e78.5",
		},
		models.ModalityMedication: {
			"rxnorm:860975", "rxnorm:29046", "rxnorm:6809", "rxnorm:197361",
			"rxnorm:312961", "rxnorm:866924",
		},
		models.ModalityLab: {
			"glucose", "hba1c", "creatinine", "wbc", "bnp",
		},
	}}
	vocab.normalize()
	return vocab
}
