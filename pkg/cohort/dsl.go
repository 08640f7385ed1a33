package cohort

import (
	"fmt"
	"regexp"
	"strings"
)

// Clause is a single where-condition over the summary columns.
type Clause struct {
	Field    string
	Operator string
	Value    string
}

// Query is a parsed cohort selection expression, e.g.
// "select patient_id, record_id where phenotype = 3, probability >= 0.8 limit 100".
type Query struct {
	SelectFields []string
	Filters      []Clause
	Limit        int
}

var (
	selectRegex = regexp.MustCompile(`^select\s+(.+?)(?:\s+where\s|\s+limit\s|$)`)
	whereRegex  = regexp.MustCompile(`where\s+(.+?)(?:\s+limit|$)`)
	limitRegex  = regexp.MustCompile(`limit\s+(\d+)`)
	filterRegex = regexp.MustCompile(`([a-zA-Z0-9_]+)\s*(>=|<=|!=|=|>|<)\s*([^,]+)`)
)

var allowedFields = map[string]bool{
	"patient_id":  true,
	"record_id":   true,
	"phenotype":   true,
	"probability": true,
}

func Parse(input string) (Query, error) {
	input = strings.TrimSpace(strings.ToLower(input))
	if !strings.HasPrefix(input, "select") {
		return Query{}, fmt.Errorf("query must start with select")
	}

	var query Query

	selectMatch := selectRegex.FindStringSubmatch(input)
	if len(selectMatch) < 2 {
		return Query{}, fmt.Errorf("missing select fields")
	}
	for _, field := range strings.Split(selectMatch[1], ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		if !allowedFields[field] {
			return Query{}, fmt.Errorf("unknown field %q", field)
		}
		query.SelectFields = append(query.SelectFields, field)
	}
	if len(query.SelectFields) == 0 {
		return Query{}, fmt.Errorf("at least one field must be selected")
	}

	if whereMatch := whereRegex.FindStringSubmatch(input); len(whereMatch) >= 2 {
		for _, match := range filterRegex.FindAllStringSubmatch(whereMatch[1], -1) {
			if len(match) < 4 {
				continue
			}
			field := strings.TrimSpace(match[1])
			if !allowedFields[field] {
				return Query{}, fmt.Errorf("unknown filter field %q", field)
			}
			query.Filters = append(query.Filters, Clause{
				Field:    field,
				Operator: match[2],
				Value:    strings.TrimSpace(match[3]),
			})
		}
	}

	if limitMatch := limitRegex.FindStringSubmatch(input); len(limitMatch) >= 2 {
		fmt.Sscanf(limitMatch[1], "%d", &query.Limit)
	}

	return query, nil
}
