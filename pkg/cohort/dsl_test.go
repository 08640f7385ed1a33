package cohort

import "testing"

func TestParseBasicQuery(t *testing.T) {
	query, err := Parse("SELECT patient_id, probability WHERE phenotype = 3, probability >= 0.8 LIMIT 50")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(query.SelectFields) != 2 {
		t.Fatalf("expected 2 select fields, got %d", len(query.SelectFields))
	}
	if len(query.Filters) != 2 {
		t.Fatalf("expected 2 filters, got %d", len(query.Filters))
	}
	if query.Limit != 50 {
		t.Fatalf("expected limit 50, got %d", query.Limit)
	}
}

func TestParseRequiresSelect(t *testing.T) {
	if _, err := Parse("WHERE phenotype = 1"); err == nil {
		t.Fatal("expected error for missing select")
	}
}

func TestParseRejectsUnknownField(t *testing.T) {
	if _, err := Parse("SELECT ssn WHERE phenotype = 1"); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestCriteriaFromQuery(t *testing.T) {
	query, err := Parse("SELECT record_id WHERE phenotype = 2, probability >= 0.75 LIMIT 10")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	criteria, err := criteriaFromQuery(query)
	if err != nil {
		t.Fatalf("criteriaFromQuery: %v", err)
	}
	if criteria.Phenotype == nil || *criteria.Phenotype != 2 {
		t.Fatalf("phenotype = %v", criteria.Phenotype)
	}
	if criteria.MinProbability != 0.75 {
		t.Fatalf("min probability = %v", criteria.MinProbability)
	}
	if criteria.Limit != 10 {
		t.Fatalf("limit = %d", criteria.Limit)
	}
}

func TestCriteriaRejectsBadOperator(t *testing.T) {
	query, err := Parse("SELECT record_id WHERE phenotype > 2")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := criteriaFromQuery(query); err == nil {
		t.Fatal("expected error for phenotype range filter")
	}
}
