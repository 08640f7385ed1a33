package phi

import (
	"regexp"

	"github.com/phenoscope/platform/pkg/common/models"
)

type compiledRule struct {
	rule Rule
	re   *regexp.Regexp
}

// Scrubber masks protected identifiers in any note text that leaves the
// phenotyping pipeline through diagnostics or summaries.
type Scrubber struct {
	rules []compiledRule
}

func NewScrubber(cfg RulesConfig) (*Scrubber, error) {
	var compiled []compiledRule
	for _, rule := range cfg.Rules {
		if !rule.Enabled {
			continue
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, compiledRule{rule: rule, re: re})
	}
	return &Scrubber{rules: compiled}, nil
}

// Scrub masks every rule match in the text.
func (s *Scrubber) Scrub(text string) string {
	if s == nil {
		return text
	}
	masked := text
	for _, rule := range s.rules {
		masked = rule.re.ReplaceAllString(masked, rule.rule.Mask)
	}
	return masked
}

// ScrubRecord returns a copy of the record with every span surface masked.
// The original record is never mutated.
func (s *Scrubber) ScrubRecord(record *models.PatientRecord) *models.PatientRecord {
	if s == nil || record == nil {
		return record
	}
	clean := *record
	clean.Sections = make([]models.Section, len(record.Sections))
	for i, section := range record.Sections {
		spans := make([]models.TextSpan, len(section.Spans))
		copy(spans, section.Spans)
		for j := range spans {
			spans[j].Surface = s.Scrub(spans[j].Surface)
		}
		clean.Sections[i] = models.Section{Label: section.Label, Spans: spans}
	}
	return &clean
}

// Detected reports which rule types fire on the text.
func (s *Scrubber) Detected(text string) []string {
	if s == nil {
		return nil
	}
	var types []string
	for _, rule := range s.rules {
		if rule.re.MatchString(text) {
			types = append(types, rule.rule.Type)
		}
	}
	return types
}
