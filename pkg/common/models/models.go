package models

import (
	"time"
)

// Valence is the polarity/context of a clinical mention.
type Valence string

const (
	ValenceAffirmed     Valence = "affirmed"
	ValenceNegated      Valence = "negated"
	ValenceHypothetical Valence = "hypothetical"
	ValenceHistorical   Valence = "historical"
	ValenceFamily       Valence = "family"
)

// Precedence returns the conflict-resolution rank of a valence label.
// Higher wins when two trigger scopes cover the same token.
func (v Valence) Precedence() int {
	switch v {
	case ValenceNegated:
		return 4
	case ValenceHypothetical:
		return 3
	case ValenceHistorical:
		return 2
	case ValenceFamily:
		return 1
	default:
		return 0
	}
}

// Modality is a category of evidence source with its own feature vocabulary.
type Modality string

const (
	ModalityText       Modality = "text_ngram"
	ModalityDiagnosis  Modality = "diagnosis_code"
	ModalityMedication Modality = "medication_code"
	ModalityLab        Modality = "lab_abnormality"
)

// Modalities returns all evidence modalities in their fixed iteration order.
func Modalities() []Modality {
	return []Modality{ModalityText, ModalityDiagnosis, ModalityMedication, ModalityLab}
}

// TextSpan is a tokenized span within a section, produced by the upstream
// tokenizer and labeled by the valence detector.
type TextSpan struct {
	Start         int     `json:"start"`
	End           int     `json:"end"`
	Surface       string  `json:"surface"`
	SentenceStart bool    `json:"sentence_start,omitempty"`
	Valence       Valence `json:"valence,omitempty"`
}

// Section is a labeled block of a clinical note (history, medications, ...).
type Section struct {
	Label string     `json:"label"`
	Spans []TextSpan `json:"spans"`
}

type CodedEvent struct {
	System    string    `json:"system"` // ICD10, SNOMED, RxNorm, ATC
	Code      string    `json:"code"`
	Timestamp time.Time `json:"timestamp"`
}

type LabResult struct {
	TestCode  string    `json:"test_code"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit"`
	Timestamp time.Time `json:"timestamp"`
}

// PatientRecord is the unit of phenotyping. Immutable once ingested.
type PatientRecord struct {
	ID          string       `json:"id"`
	PatientID   string       `json:"patient_id"`
	Sections    []Section    `json:"sections"`
	Diagnoses   []CodedEvent `json:"diagnoses"`
	Medications []CodedEvent `json:"medications"`
	Labs        []LabResult  `json:"labs"`
	IngestedAt  time.Time    `json:"ingested_at"`
}

// EvidenceVector is the sparse per-modality feature-count representation of
// one record. Feature ids are modality-scoped and never collide across
// modalities. Regenerated each run, never mutated after creation.
type EvidenceVector struct {
	RecordID string                       `json:"record_id"`
	Counts   map[Modality]map[int]float64 `json:"counts"`
}

// Empty reports whether the vector carries no evidence in any modality.
func (ev EvidenceVector) Empty() bool {
	for _, counts := range ev.Counts {
		if len(counts) > 0 {
			return false
		}
	}
	return true
}

// TotalFeatures is the number of distinct (modality, feature) pairs present.
func (ev EvidenceVector) TotalFeatures() int {
	total := 0
	for _, counts := range ev.Counts {
		total += len(counts)
	}
	return total
}

// FeatureContribution records how much one feature pushed posterior mass
// toward one phenotype.
type FeatureContribution struct {
	Modality  Modality `json:"modality"`
	FeatureID int      `json:"feature_id"`
	Weight    float64  `json:"weight"`
}

// PosteriorAssignment is the per-record inference output: a distribution
// over phenotypes (non-negative, sums to 1 within 1e-6) plus per-phenotype
// evidence attributions.
type PosteriorAssignment struct {
	RecordID      string                  `json:"record_id"`
	Probabilities []float64               `json:"probabilities"`
	Contributions [][]FeatureContribution `json:"contributions,omitempty"`
}

// Event is the bus envelope shared by the ingestion and phenotyping workers.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // record.ingested, phenotype.summarized
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}
