package valence

import (
	"sort"
	"strings"

	"github.com/phenoscope/platform/pkg/common/models"
)

type compiledTrigger struct {
	tokens  []string
	trigger Trigger
}

// Detector assigns a valence label to every token span in a section by
// scanning left-to-right with an active-scope stack. A detector built from
// an empty or fully malformed lexicon labels everything affirmed.
type Detector struct {
	triggers []compiledTrigger
}

func NewDetector(lex Lexicon) *Detector {
	var compiled []compiledTrigger
	for _, trigger := range lex.Triggers {
		if !trigger.valid() {
			continue
		}
		compiled = append(compiled, compiledTrigger{tokens: trigger.tokens(), trigger: trigger})
	}
	// Longest phrase wins when two cues share a prefix ("no evidence of"
	// before "no").
	sort.SliceStable(compiled, func(i, j int) bool {
		return len(compiled[i].tokens) > len(compiled[j].tokens)
	})
	return &Detector{triggers: compiled}
}

// scope is one open trigger window. seq orders scopes by opening time so
// the closest-opened scope wins among equal-precedence candidates.
type scope struct {
	valence   models.Valence
	remaining int
	seq       int
}

// Annotate labels every span in the section in place. Scopes never cross
// sentence or section boundaries.
func (d *Detector) Annotate(section *models.Section) {
	if section == nil {
		return
	}
	spans := section.Spans
	for i := range spans {
		spans[i].Valence = models.ValenceAffirmed
	}
	if d == nil || len(d.triggers) == 0 {
		return
	}

	var active []scope
	seq := 0

	i := 0
	for i < len(spans) {
		if spans[i].SentenceStart {
			active = active[:0]
		}

		if matched, length := d.matchAt(spans, i); matched != nil {
			// Older scopes still pay for the cue tokens; the new scope's
			// window starts after its own phrase.
			active = decrement(active, length)
			if matched.trigger.Direction == DirectionForward {
				seq++
				active = append(active, scope{
					valence:   matched.trigger.Type,
					remaining: matched.trigger.Window,
					seq:       seq,
				})
			} else {
				applyBackward(spans, i, matched.trigger)
			}
			i += length
			continue
		}

		if label, ok := resolve(active); ok {
			spans[i].Valence = label
		}
		active = decrement(active, 1)
		i++
	}
}

// matchAt tries every trigger phrase at position i, longest first.
func (d *Detector) matchAt(spans []models.TextSpan, i int) (*compiledTrigger, int) {
	for idx := range d.triggers {
		tokens := d.triggers[idx].tokens
		if i+len(tokens) > len(spans) {
			continue
		}
		hit := true
		for j, tok := range tokens {
			if j > 0 && spans[i+j].SentenceStart {
				hit = false
				break
			}
			if strings.ToLower(spans[i+j].Surface) != tok {
				hit = false
				break
			}
		}
		if hit {
			return &d.triggers[idx], len(tokens)
		}
	}
	return nil, 0
}

// resolve picks the covering scope: precedence order first, then the
// closest-opened scope among equals.
func resolve(active []scope) (models.Valence, bool) {
	if len(active) == 0 {
		return models.ValenceAffirmed, false
	}
	best := active[0]
	for _, s := range active[1:] {
		if s.valence.Precedence() > best.valence.Precedence() {
			best = s
		} else if s.valence.Precedence() == best.valence.Precedence() && s.seq > best.seq {
			best = s
		}
	}
	return best.valence, true
}

// applyBackward relabels up to window tokens before the trigger, stopping at
// the sentence boundary. Precedence decides conflicts with labels already
// assigned on the left-to-right pass.
func applyBackward(spans []models.TextSpan, triggerStart int, trigger Trigger) {
	labeled := 0
	for j := triggerStart - 1; j >= 0 && labeled < trigger.Window; j-- {
		if trigger.Type.Precedence() > spans[j].Valence.Precedence() {
			spans[j].Valence = trigger.Type
		}
		labeled++
		if spans[j].SentenceStart {
			break
		}
	}
}

// decrement consumes n tokens of budget from every open scope and drops the
// expired ones.
func decrement(active []scope, n int) []scope {
	kept := active[:0]
	for _, s := range active {
		s.remaining -= n
		if s.remaining > 0 {
			kept = append(kept, s)
		}
	}
	return kept
}
