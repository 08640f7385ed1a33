package valence

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/phenoscope/platform/pkg/common/models"
	"gopkg.in/yaml.v3"
)

const (
	DirectionForward  = "forward"
	DirectionBackward = "backward"
)

// Trigger is one cue phrase with its scope. Window is measured in tokens
// from the end of the phrase (forward) or its start (backward).
type Trigger struct {
	Phrase    string         `yaml:"phrase" json:"phrase"`
	Type      models.Valence `yaml:"type" json:"type"`
	Direction string         `yaml:"direction" json:"direction"`
	Window    int            `yaml:"window" json:"window"`
}

type Lexicon struct {
	Triggers []Trigger `yaml:"triggers" json:"triggers"`
}

// tokens splits the cue phrase for multi-token matching.
func (t Trigger) tokens() []string {
	return strings.Fields(strings.ToLower(t.Phrase))
}

// valid reports whether the trigger can ever fire. Invalid entries are
// skipped silently so a partially malformed lexicon degrades to fewer
// triggers rather than failing the detector.
func (t Trigger) valid() bool {
	if len(t.tokens()) == 0 || t.Window <= 0 {
		return false
	}
	if t.Direction != DirectionForward && t.Direction != DirectionBackward {
		return false
	}
	switch t.Type {
	case models.ValenceNegated, models.ValenceHypothetical, models.ValenceHistorical, models.ValenceFamily:
		return true
	}
	return false
}

// LoadLexicon reads a trigger lexicon from YAML. An empty path yields the
// built-in default. A missing or unparseable file falls back to the default
// and reports the error so callers can log it.
func LoadLexicon(path string) (Lexicon, error) {
	if path == "" {
		return DefaultLexicon(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return DefaultLexicon(), err
	}
	var lex Lexicon
	if err := yaml.Unmarshal(content, &lex); err != nil {
		return DefaultLexicon(), err
	}
	return lex, nil
}

// DefaultLexicon covers the common negation/hypothetical/historical/family
// cues seen in clinical notes.
func DefaultLexicon() Lexicon {
	return Lexicon{Triggers: []Trigger{
		{Phrase: "no", Type: models.ValenceNegated, Direction: DirectionForward, Window: 3},
		{Phrase: "not", Type: models.ValenceNegated, Direction: DirectionForward, Window: 3},
		{Phrase: "denies", Type: models.ValenceNegated, Direction: DirectionForward, Window: 5},
		{Phrase: "without", Type: models.ValenceNegated, Direction: DirectionForward, Window: 4},
		{Phrase: "no evidence of", Type: models.ValenceNegated, Direction: DirectionForward, Window: 4},
		{Phrase: "negative for", Type: models.ValenceNegated, Direction: DirectionForward, Window: 4},
		{Phrase: "ruled out", Type: models.ValenceNegated, Direction: DirectionBackward, Window: 4},
		{Phrase: "if", Type: models.ValenceHypothetical, Direction: DirectionForward, Window: 5},
		{Phrase: "rule out", Type: models.ValenceHypothetical, Direction: DirectionForward, Window: 4},
		{Phrase: "possible", Type: models.ValenceHypothetical, Direction: DirectionForward, Window: 3},
		{Phrase: "suspected", Type: models.ValenceHypothetical, Direction: DirectionForward, Window: 3},
		{Phrase: "history of", Type: models.ValenceHistorical, Direction: DirectionForward, Window: 3},
		{Phrase: "prior", Type: models.ValenceHistorical, Direction: DirectionForward, Window: 3},
		{Phrase: "previous", Type: models.ValenceHistorical, Direction: DirectionForward, Window: 3},
		{Phrase: "family history of", Type: models.ValenceFamily, Direction: DirectionForward, Window: 4},
		{Phrase: "mother", Type: models.ValenceFamily, Direction: DirectionForward, Window: 4},
		{Phrase: "father", Type: models.ValenceFamily, Direction: DirectionForward, Window: 4},
	}}
}
