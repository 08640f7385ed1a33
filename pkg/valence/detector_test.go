package valence

import (
	"testing"

	"github.com/phenoscope/platform/pkg/common/models"
)

func sectionFromWords(label string, words ...string) models.Section {
	spans := make([]models.TextSpan, len(words))
	offset := 0
	for i, w := range words {
		spans[i] = models.TextSpan{
			Start:         offset,
			End:           offset + len(w),
			Surface:       w,
			SentenceStart: i == 0,
		}
		offset += len(w) + 1
	}
	return models.Section{Label: label, Spans: spans}
}

func TestDetectorNegationScope(t *testing.T) {
	detector := NewDetector(Lexicon{Triggers: []Trigger{
		{Phrase: "no evidence of", Type: models.ValenceNegated, Direction: DirectionForward, Window: 4},
	}})

	section := sectionFromWords("assessment", "no", "evidence", "of", "pneumonia")
	detector.Annotate(&section)

	if got := section.Spans[3].Valence; got != models.ValenceNegated {
		t.Fatalf("expected pneumonia negated, got %s", got)
	}
}

func TestDetectorHistoricalScope(t *testing.T) {
	detector := NewDetector(Lexicon{Triggers: []Trigger{
		{Phrase: "history of", Type: models.ValenceHistorical, Direction: DirectionForward, Window: 3},
	}})

	section := sectionFromWords("history", "history", "of", "pneumonia")
	detector.Annotate(&section)

	if got := section.Spans[2].Valence; got != models.ValenceHistorical {
		t.Fatalf("expected pneumonia historical, got %s", got)
	}
}

func TestDetectorWindowExpires(t *testing.T) {
	detector := NewDetector(Lexicon{Triggers: []Trigger{
		{Phrase: "no", Type: models.ValenceNegated, Direction: DirectionForward, Window: 2},
	}})

	section := sectionFromWords("assessment", "no", "fever", "or", "fatigue")
	detector.Annotate(&section)

	if section.Spans[1].Valence != models.ValenceNegated {
		t.Fatalf("expected fever negated, got %s", section.Spans[1].Valence)
	}
	if section.Spans[2].Valence != models.ValenceNegated {
		t.Fatalf("expected or negated, got %s", section.Spans[2].Valence)
	}
	if section.Spans[3].Valence != models.ValenceAffirmed {
		t.Fatalf("expected fatigue outside window, got %s", section.Spans[3].Valence)
	}
}

func TestDetectorPrecedenceOverRecency(t *testing.T) {
	detector := NewDetector(Lexicon{Triggers: []Trigger{
		{Phrase: "no", Type: models.ValenceNegated, Direction: DirectionForward, Window: 5},
		{Phrase: "prior", Type: models.ValenceHistorical, Direction: DirectionForward, Window: 3},
	}})

	// "prior" opens inside the negation window; negated outranks historical
	// where both scopes cover the same token.
	section := sectionFromWords("assessment", "no", "prior", "stroke")
	detector.Annotate(&section)

	if got := section.Spans[2].Valence; got != models.ValenceNegated {
		t.Fatalf("expected stroke negated by precedence, got %s", got)
	}
}

func TestDetectorSentenceBoundaryClosesScopes(t *testing.T) {
	detector := NewDetector(Lexicon{Triggers: []Trigger{
		{Phrase: "no", Type: models.ValenceNegated, Direction: DirectionForward, Window: 5},
	}})

	section := sectionFromWords("assessment", "no", "fever", "reports", "cough")
	section.Spans[2].SentenceStart = true
	detector.Annotate(&section)

	if section.Spans[1].Valence != models.ValenceNegated {
		t.Fatalf("expected fever negated, got %s", section.Spans[1].Valence)
	}
	for _, idx := range []int{2, 3} {
		if got := section.Spans[idx].Valence; got != models.ValenceAffirmed {
			t.Fatalf("expected span %d affirmed after sentence break, got %s", idx, got)
		}
	}
}

func TestDetectorBackwardScope(t *testing.T) {
	detector := NewDetector(Lexicon{Triggers: []Trigger{
		{Phrase: "ruled out", Type: models.ValenceNegated, Direction: DirectionBackward, Window: 3},
	}})

	section := sectionFromWords("assessment", "pneumonia", "was", "ruled", "out")
	detector.Annotate(&section)

	if got := section.Spans[0].Valence; got != models.ValenceNegated {
		t.Fatalf("expected pneumonia negated by backward trigger, got %s", got)
	}
}

func TestDetectorEmptyLexiconDefaultsAffirmed(t *testing.T) {
	detector := NewDetector(Lexicon{})

	section := sectionFromWords("assessment", "no", "fever")
	detector.Annotate(&section)

	for i, span := range section.Spans {
		if span.Valence != models.ValenceAffirmed {
			t.Fatalf("span %d: expected affirmed, got %s", i, span.Valence)
		}
	}
}

func TestDetectorSkipsMalformedTriggers(t *testing.T) {
	detector := NewDetector(Lexicon{Triggers: []Trigger{
		{Phrase: "", Type: models.ValenceNegated, Direction: DirectionForward, Window: 3},
		{Phrase: "no", Type: models.ValenceNegated, Direction: "sideways", Window: 3},
		{Phrase: "no", Type: models.ValenceNegated, Direction: DirectionForward, Window: 0},
	}})

	section := sectionFromWords("assessment", "no", "fever")
	detector.Annotate(&section)

	if section.Spans[1].Valence != models.ValenceAffirmed {
		t.Fatalf("malformed lexicon should degrade to affirmed, got %s", section.Spans[1].Valence)
	}
}
