package features

import (
	"fmt"
	"math"
	"strings"

	"github.com/phenoscope/platform/pkg/common/models"
)

// Diagnostics reports non-fatal extraction fallout. Out-of-vocabulary codes
// are dropped, never raised, but callers can see how much signal was lost.
type Diagnostics struct {
	OutOfVocabulary map[models.Modality]int `json:"out_of_vocabulary"`
	SpansSeen       int                     `json:"spans_seen"`
	SpansUsed       int                     `json:"spans_used"`
}

func newDiagnostics() Diagnostics {
	return Diagnostics{OutOfVocabulary: make(map[models.Modality]int)}
}

// Merge folds another record's diagnostics into a run-level total.
func (d *Diagnostics) Merge(other Diagnostics) {
	for modality, n := range other.OutOfVocabulary {
		d.OutOfVocabulary[modality] += n
	}
	d.SpansSeen += other.SpansSeen
	d.SpansUsed += other.SpansUsed
}

// Extractor converts a valence-labeled PatientRecord into one EvidenceVector
// per run. Output is deterministic for identical input and vocabulary.
type Extractor struct {
	vocab  *Vocabulary
	ranges ReferenceTable
}

func NewExtractor(vocab *Vocabulary, ranges ReferenceTable) *Extractor {
	return &Extractor{vocab: vocab, ranges: ranges}
}

func (e *Extractor) Vocabulary() *Vocabulary {
	return e.vocab
}

// Extract builds the record's evidence vector across all modalities.
// A malformed lab value fails the whole record; the caller decides whether
// to skip it and continue the batch.
func (e *Extractor) Extract(record *models.PatientRecord) (models.EvidenceVector, Diagnostics, error) {
	diags := newDiagnostics()
	vector := models.EvidenceVector{
		RecordID: record.ID,
		Counts:   make(map[models.Modality]map[int]float64, len(models.Modalities())),
	}
	for _, modality := range models.Modalities() {
		vector.Counts[modality] = make(map[int]float64)
	}

	e.extractText(record, &vector, &diags)
	e.extractCodes(models.ModalityDiagnosis, record.Diagnoses, &vector, &diags)
	e.extractCodes(models.ModalityMedication, record.Medications, &vector, &diags)
	if err := e.extractLabs(record, &vector, &diags); err != nil {
		return models.EvidenceVector{}, diags, err
	}

	return vector, diags, nil
}

// extractText counts affirmed mentions under their base feature id and
// negated mentions under the negated namespace. Hypothetical, historical
// and family mentions carry no weight for present-state phenotyping.
func (e *Extractor) extractText(record *models.PatientRecord, vector *models.EvidenceVector, diags *Diagnostics) {
	counts := vector.Counts[models.ModalityText]
	for _, section := range record.Sections {
		for _, span := range section.Spans {
			diags.SpansSeen++
			var term string
			switch span.Valence {
			case models.ValenceAffirmed, "":
				term = strings.ToLower(span.Surface)
			case models.ValenceNegated:
				term = NegatedPrefix + strings.ToLower(span.Surface)
			default:
				continue
			}
			if id, ok := e.vocab.FeatureID(models.ModalityText, term); ok {
				counts[id]++
				diags.SpansUsed++
			}
		}
	}
}

func (e *Extractor) extractCodes(modality models.Modality, events []models.CodedEvent, vector *models.EvidenceVector, diags *Diagnostics) {
	counts := vector.Counts[modality]
	for _, event := range events {
		term := strings.ToLower(event.System) + ":" + strings.ToLower(event.Code)
		id, ok := e.vocab.FeatureID(modality, term)
		if !ok {
			diags.OutOfVocabulary[modality]++
			continue
		}
		counts[id]++
	}
}

func (e *Extractor) extractLabs(record *models.PatientRecord, vector *models.EvidenceVector, diags *Diagnostics) error {
	counts := vector.Counts[models.ModalityLab]
	for _, lab := range record.Labs {
		if math.IsNaN(lab.Value) || math.IsInf(lab.Value, 0) {
			return fmt.Errorf("record %s: malformed lab value for %s", record.ID, lab.TestCode)
		}

		code := strings.ToLower(strings.TrimSpace(lab.TestCode))
		bucket, bucketed := e.ranges.Bucket(code, lab.Value)
		if bucketed {
			if id, ok := e.vocab.FeatureID(models.ModalityLab, code+":"+bucket); ok {
				counts[id]++
			} else {
				diags.OutOfVocabulary[models.ModalityLab]++
				continue
			}
		}

		// Every known test also counts as measured; with no reference range
		// that is the only signal it contributes.
		if id, ok := e.vocab.FeatureID(models.ModalityLab, code+":measured"); ok {
			counts[id]++
		} else if !bucketed {
			diags.OutOfVocabulary[models.ModalityLab]++
		}
	}
	return nil
}
