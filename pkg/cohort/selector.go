package cohort

import (
	"context"
	"fmt"
	"strconv"

	"github.com/phenoscope/platform/pkg/phenostore"
)

// Criteria is the executable form of a parsed query.
type Criteria struct {
	Fields         []string
	Phenotype      *int
	MinProbability float64
	Limit          int
}

// criteriaFromQuery maps where-clauses onto the summary columns. Only
// phenotype equality and probability lower bounds are pushed down.
func criteriaFromQuery(query Query) (Criteria, error) {
	criteria := Criteria{Fields: query.SelectFields, Limit: query.Limit}
	for _, clause := range query.Filters {
		switch clause.Field {
		case "phenotype":
			if clause.Operator != "=" {
				return Criteria{}, fmt.Errorf("phenotype filter supports only =, got %s", clause.Operator)
			}
			k, err := strconv.Atoi(clause.Value)
			if err != nil {
				return Criteria{}, fmt.Errorf("phenotype filter value %q: %w", clause.Value, err)
			}
			criteria.Phenotype = &k
		case "probability":
			if clause.Operator != ">=" && clause.Operator != ">" {
				return Criteria{}, fmt.Errorf("probability filter supports only >= and >, got %s", clause.Operator)
			}
			p, err := strconv.ParseFloat(clause.Value, 64)
			if err != nil {
				return Criteria{}, fmt.Errorf("probability filter value %q: %w", clause.Value, err)
			}
			criteria.MinProbability = p
		default:
			return Criteria{}, fmt.Errorf("field %q cannot be filtered", clause.Field)
		}
	}
	return criteria, nil
}

// Member is one row of a selected cohort, projected to the requested fields.
type Member map[string]interface{}

// Selector runs cohort queries against the summary store.
type Selector struct {
	store *phenostore.Store
}

func NewSelector(store *phenostore.Store) *Selector {
	return &Selector{store: store}
}

// Select parses and executes a cohort expression.
func (s *Selector) Select(ctx context.Context, expression string) ([]Member, error) {
	query, err := Parse(expression)
	if err != nil {
		return nil, err
	}
	criteria, err := criteriaFromQuery(query)
	if err != nil {
		return nil, err
	}

	var rows []phenostore.SummaryRow
	if criteria.Phenotype != nil {
		rows, err = s.store.ListByTopPhenotype(ctx, *criteria.Phenotype, criteria.MinProbability, criteria.Limit)
	} else {
		rows, err = s.store.List(ctx, criteria.Limit, 0)
	}
	if err != nil {
		return nil, err
	}

	members := make([]Member, 0, len(rows))
	for _, row := range rows {
		if criteria.Phenotype == nil && row.TopProbability < criteria.MinProbability {
			continue
		}
		members = append(members, project(row, criteria.Fields))
	}
	return members, nil
}

func project(row phenostore.SummaryRow, fields []string) Member {
	member := make(Member, len(fields))
	for _, field := range fields {
		switch field {
		case "patient_id":
			member[field] = row.PatientID
		case "record_id":
			member[field] = row.RecordID
		case "phenotype":
			member[field] = row.TopPhenotype
		case "probability":
			member[field] = row.TopProbability
		}
	}
	return member
}
