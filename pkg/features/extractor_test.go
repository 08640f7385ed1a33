package features

import (
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/phenoscope/platform/pkg/common/models"
)

func testRecord() *models.PatientRecord {
	return &models.PatientRecord{
		ID:        "rec-1",
		PatientID: "pat-1",
		Sections: []models.Section{
			{
				Label: "history",
				Spans: []models.TextSpan{
					{Surface: "fever", Valence: models.ValenceAffirmed, SentenceStart: true},
					{Surface: "cough", Valence: models.ValenceNegated},
					{Surface: "dyspnea", Valence: models.ValenceHypothetical},
				},
			},
		},
		Diagnoses: []models.CodedEvent{
			{System: "ICD10", Code: "E11.9", Timestamp: time.Now()},
			{System: "ICD10", Code: "Z99.99", Timestamp: time.Now()}, // not in vocabulary
		},
		Medications: []models.CodedEvent{
			{System: "RxNorm", Code: "860975", Timestamp: time.Now()},
		},
		Labs: []models.LabResult{
			{TestCode: "glucose", Value: 180, Unit: "mg/dL", Timestamp: time.Now()},
		},
	}
}

func TestExtractorModalities(t *testing.T) {
	vocab := DefaultVocabulary()
	extractor := NewExtractor(vocab, DefaultReferenceTable())

	vector, diags, err := extractor.Extract(testRecord())
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}

	feverID, ok := vocab.FeatureID(models.ModalityText, "fever")
	if !ok {
		t.Fatal("fever missing from vocabulary")
	}
	if vector.Counts[models.ModalityText][feverID] != 1 {
		t.Fatalf("expected one affirmed fever, got %v", vector.Counts[models.ModalityText])
	}

	negCoughID, ok := vocab.FeatureID(models.ModalityText, NegatedPrefix+"cough")
	if !ok {
		t.Fatal("negated cough missing from vocabulary")
	}
	if vector.Counts[models.ModalityText][negCoughID] != 1 {
		t.Fatal("expected negated cough in negated namespace")
	}

	// Hypothetical spans contribute nothing.
	dyspneaID, _ := vocab.FeatureID(models.ModalityText, "dyspnea")
	if vector.Counts[models.ModalityText][dyspneaID] != 0 {
		t.Fatal("hypothetical span should not contribute")
	}

	if diags.OutOfVocabulary[models.ModalityDiagnosis] != 1 {
		t.Fatalf("expected one OOV diagnosis, got %d", diags.OutOfVocabulary[models.ModalityDiagnosis])
	}

	highID, ok := vocab.FeatureID(models.ModalityLab, "glucose:high")
	if !ok {
		t.Fatal("glucose:high missing from vocabulary")
	}
	if vector.Counts[models.ModalityLab][highID] != 1 {
		t.Fatal("expected glucose bucketed high")
	}
	measuredID, _ := vocab.FeatureID(models.ModalityLab, "glucose:measured")
	if vector.Counts[models.ModalityLab][measuredID] != 1 {
		t.Fatal("expected glucose measured indicator")
	}
}

func TestExtractorDeterminism(t *testing.T) {
	extractor := NewExtractor(DefaultVocabulary(), DefaultReferenceTable())

	first, _, err := extractor.Extract(testRecord())
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	second, _, err := extractor.Extract(testRecord())
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Fatal("expected bit-identical evidence vectors")
	}
}

func TestExtractorMalformedLab(t *testing.T) {
	extractor := NewExtractor(DefaultVocabulary(), DefaultReferenceTable())

	record := testRecord()
	record.Labs = append(record.Labs, models.LabResult{TestCode: "wbc", Value: math.NaN()})

	if _, _, err := extractor.Extract(record); err == nil {
		t.Fatal("expected malformed lab to fail the record")
	}
}

func TestExtractorMissingReferenceRange(t *testing.T) {
	vocab := DefaultVocabulary()
	extractor := NewExtractor(vocab, ReferenceTable{Ranges: map[string]ReferenceRange{}})

	record := &models.PatientRecord{
		ID:   "rec-2",
		Labs: []models.LabResult{{TestCode: "glucose", Value: 300}},
	}
	vector, _, err := extractor.Extract(record)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}

	measuredID, _ := vocab.FeatureID(models.ModalityLab, "glucose:measured")
	if vector.Counts[models.ModalityLab][measuredID] != 1 {
		t.Fatal("expected measured indicator without bucketing")
	}
	highID, _ := vocab.FeatureID(models.ModalityLab, "glucose:high")
	if vector.Counts[models.ModalityLab][highID] != 0 {
		t.Fatal("expected no bucket feature without a reference range")
	}
}
