package phi

import "testing"

func TestScrubberMasksIdentifiers(t *testing.T) {
	scrubber, err := NewScrubber(DefaultRules())
	if err != nil {
		t.Fatalf("failed to create scrubber: %v", err)
	}

	text := "Patient MRN: 12345678 called from (555) 123-4567"
	masked := scrubber.Scrub(text)
	if masked == text {
		t.Fatal("expected masked text to differ from original")
	}

	types := scrubber.Detected(text)
	if len(types) < 2 {
		t.Fatalf("expected at least two PHI types, got %v", types)
	}
}

func TestScrubberNilSafe(t *testing.T) {
	var scrubber *Scrubber
	if scrubber.Scrub("unchanged") != "unchanged" {
		t.Fatal("nil scrubber must pass text through")
	}
}
