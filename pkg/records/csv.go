package records

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/phenoscope/platform/pkg/common/models"
)

// CSVReader loads a corpus from the four-file CSV layout (notes, diagnoses,
// medications, labs), one patient-record per patient id. It is the
// file-based edge of the pipeline; structured deployments use Repository
// instead.
type CSVReader struct {
	NotesPath       string
	DiagnosesPath   string
	MedicationsPath string
	LabsPath        string
}

// ReadCorpus aggregates all four sources into records sorted by patient id.
// A malformed lab value is carried through as NaN so the extractor can
// isolate the affected record without losing the rest of the batch.
func (r CSVReader) ReadCorpus() ([]*models.PatientRecord, error) {
	byPatient := make(map[string]*models.PatientRecord)
	record := func(patientID string) *models.PatientRecord {
		rec, ok := byPatient[patientID]
		if !ok {
			rec = &models.PatientRecord{
				ID:         patientID,
				PatientID:  patientID,
				IngestedAt: time.Now().UTC(),
			}
			byPatient[patientID] = rec
		}
		return rec
	}

	if err := readRows(r.NotesPath, 3, func(row []string) error {
		rec := record(row[0])
		rec.Sections = append(rec.Sections, models.Section{
			Label: strings.ToLower(strings.TrimSpace(row[1])),
			Spans: Tokenize(row[2]),
		})
		return nil
	}); err != nil {
		return nil, fmt.Errorf("notes: %w", err)
	}

	if err := readRows(r.DiagnosesPath, 4, func(row []string) error {
		rec := record(row[0])
		rec.Diagnoses = append(rec.Diagnoses, models.CodedEvent{
			System:    row[1],
			Code:      row[2],
			Timestamp: parseTime(row[3]),
		})
		return nil
	}); err != nil {
		return nil, fmt.Errorf("diagnoses: %w", err)
	}

	if err := readRows(r.MedicationsPath, 4, func(row []string) error {
		rec := record(row[0])
		rec.Medications = append(rec.Medications, models.CodedEvent{
			System:    row[1],
			Code:      row[2],
			Timestamp: parseTime(row[3]),
		})
		return nil
	}); err != nil {
		return nil, fmt.Errorf("medications: %w", err)
	}

	if err := readRows(r.LabsPath, 4, func(row []string) error {
		rec := record(row[0])
		value, err := strconv.ParseFloat(strings.TrimSpace(row[2]), 64)
		if err != nil {
			value = math.NaN()
		}
		unit := ""
		if len(row) > 3 {
			unit = row[3]
		}
		ts := time.Time{}
		if len(row) > 4 {
			ts = parseTime(row[4])
		}
		rec.Labs = append(rec.Labs, models.LabResult{
			TestCode:  row[1],
			Value:     value,
			Unit:      unit,
			Timestamp: ts,
		})
		return nil
	}); err != nil {
		return nil, fmt.Errorf("labs: %w", err)
	}

	corpus := make([]*models.PatientRecord, 0, len(byPatient))
	for _, rec := range byPatient {
		corpus = append(corpus, rec)
	}
	sort.Slice(corpus, func(i, j int) bool { return corpus[i].PatientID < corpus[j].PatientID })
	return corpus, nil
}

// readRows streams a CSV file, skipping the header row, and hands each data
// row to fn. Missing optional files are not an error when path is empty.
func readRows(path string, minFields int, fn func(row []string) error) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	first := true
	for {
		row, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if first {
			first = false
			continue
		}
		if len(row) < minFields {
			continue
		}
		if err := fn(row); err != nil {
			return err
		}
	}
}

// Tokenize is the whitespace stand-in for the external tokenizer: spans with
// byte offsets, sentence starts after terminal punctuation, punctuation
// stripped from surfaces.
func Tokenize(text string) []models.TextSpan {
	var spans []models.TextSpan
	sentenceStart := true
	offset := 0
	for offset < len(text) {
		for offset < len(text) && unicode.IsSpace(rune(text[offset])) {
			offset++
		}
		if offset >= len(text) {
			break
		}
		end := offset
		for end < len(text) && !unicode.IsSpace(rune(text[end])) {
			end++
		}
		raw := text[offset:end]
		surface := strings.TrimFunc(raw, func(r rune) bool {
			return unicode.IsPunct(r)
		})
		if surface != "" {
			spans = append(spans, models.TextSpan{
				Start:         offset,
				End:           end,
				Surface:       surface,
				SentenceStart: sentenceStart,
			})
			sentenceStart = false
		}
		if strings.HasSuffix(raw, ".") || strings.HasSuffix(raw, "!") || strings.HasSuffix(raw, "?") {
			sentenceStart = true
		}
		offset = end
	}
	return spans
}

func parseTime(value string) time.Time {
	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}
	}
	return ts
}
