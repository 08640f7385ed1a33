package records

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestCSVReaderAggregatesByPatient(t *testing.T) {
	dir := t.TempDir()
	reader := CSVReader{
		NotesPath:       writeFile(t, dir, "notes.csv", "patient_id,section,text\np2,assessment,Denies chest pain.\np1,history,Known diabetes mellitus.\np1,plan,Start metformin.\n"),
		DiagnosesPath:   writeFile(t, dir, "diagnoses.csv", "patient_id,system,code,timestamp\np1,icd10,e11,2023-01-05T00:00:00Z\n"),
		MedicationsPath: writeFile(t, dir, "medications.csv", "patient_id,system,code,timestamp\np1,rxnorm,6809,2023-01-06T00:00:00Z\n"),
		LabsPath:        writeFile(t, dir, "labs.csv", "patient_id,test_code,value,unit,timestamp\np1,glucose,182,mg/dL,2023-01-05T08:00:00Z\n"),
	}

	corpus, err := reader.ReadCorpus()
	if err != nil {
		t.Fatalf("ReadCorpus: %v", err)
	}
	if len(corpus) != 2 {
		t.Fatalf("expected 2 records, got %d", len(corpus))
	}
	if corpus[0].PatientID != "p1" || corpus[1].PatientID != "p2" {
		t.Fatalf("corpus not sorted by patient id: %s, %s", corpus[0].PatientID, corpus[1].PatientID)
	}
	p1 := corpus[0]
	if len(p1.Sections) != 2 || len(p1.Diagnoses) != 1 || len(p1.Medications) != 1 || len(p1.Labs) != 1 {
		t.Fatalf("p1 aggregation wrong: %d sections, %d dx, %d meds, %d labs",
			len(p1.Sections), len(p1.Diagnoses), len(p1.Medications), len(p1.Labs))
	}
	if p1.Labs[0].Value != 182 {
		t.Fatalf("lab value = %v", p1.Labs[0].Value)
	}
	if p1.Diagnoses[0].Timestamp.IsZero() {
		t.Fatal("diagnosis timestamp not parsed")
	}
}

func TestCSVReaderMalformedLabBecomesNaN(t *testing.T) {
	dir := t.TempDir()
	reader := CSVReader{
		LabsPath: writeFile(t, dir, "labs.csv", "patient_id,test_code,value,unit,timestamp\np1,glucose,not-a-number,mg/dL,\n"),
	}
	corpus, err := reader.ReadCorpus()
	if err != nil {
		t.Fatalf("ReadCorpus: %v", err)
	}
	if len(corpus) != 1 || len(corpus[0].Labs) != 1 {
		t.Fatalf("unexpected corpus shape")
	}
	if !math.IsNaN(corpus[0].Labs[0].Value) {
		t.Fatalf("expected NaN, got %v", corpus[0].Labs[0].Value)
	}
}

func TestCSVReaderMissingFilesAreSkipped(t *testing.T) {
	corpus, err := (CSVReader{}).ReadCorpus()
	if err != nil {
		t.Fatalf("ReadCorpus: %v", err)
	}
	if len(corpus) != 0 {
		t.Fatalf("expected empty corpus, got %d", len(corpus))
	}
}

func TestTokenizeSentenceStarts(t *testing.T) {
	spans := Tokenize("No edema. Denies pain,\nfever")
	if len(spans) != 5 {
		t.Fatalf("expected 5 spans, got %d", len(spans))
	}
	wantStarts := []bool{true, false, true, false, false}
	wantSurfaces := []string{"No", "edema", "Denies", "pain", "fever"}
	for i, span := range spans {
		if span.Surface != wantSurfaces[i] {
			t.Fatalf("span %d surface = %q, want %q", i, span.Surface, wantSurfaces[i])
		}
		if span.SentenceStart != wantStarts[i] {
			t.Fatalf("span %d sentence start = %v", i, span.SentenceStart)
		}
	}
}
