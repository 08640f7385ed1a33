package features

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ReferenceRange brackets the normal interval for one lab test.
type ReferenceRange struct {
	Low  float64 `yaml:"low" json:"low"`
	High float64 `yaml:"high" json:"high"`
	Unit string  `yaml:"unit" json:"unit"`
}

// ReferenceTable maps lab test codes to their reference ranges. Tests
// without a range are still recorded as "measured" by the extractor, just
// not bucketed.
type ReferenceTable struct {
	Ranges map[string]ReferenceRange `yaml:"ranges" json:"ranges"`
}

func LoadReferenceTable(path string) (ReferenceTable, error) {
	if path == "" {
		return DefaultReferenceTable(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return DefaultReferenceTable(), err
	}
	var table ReferenceTable
	if err := yaml.Unmarshal(content, &table); err != nil {
		return ReferenceTable{}, err
	}
	return table, nil
}

// Bucket discretizes a lab value against the test's reference range.
// The second return is false when no range is configured for the test.
func (t ReferenceTable) Bucket(testCode string, value float64) (string, bool) {
	rr, ok := t.Ranges[strings.ToLower(strings.TrimSpace(testCode))]
	if !ok {
		return "", false
	}
	switch {
	case value < rr.Low:
		return "low", true
	case value > rr.High:
		return "high", true
	default:
		return "normal", true
	}
}

func DefaultReferenceTable() ReferenceTable {
	return ReferenceTable{Ranges: map[string]ReferenceRange{
		"glucose":    {Low: 70, High: 110, Unit: "mg/dL"},
		"hba1c":      {Low: 4.0, High: 5.6, Unit: "%"},
		"creatinine": {Low: 0.6, High: 1.2, Unit: "mg/dL"},
		"wbc":        {Low: 4.0, High: 11.0, Unit: "10^9/L"},
		"bnp":        {Low: 0, High: 100, Unit: "pg/mL"},
	}}
}
