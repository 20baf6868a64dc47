// Package access builds the visibility predicate applied to every read path.
//
// One Filter value is constructed per request from the resolved authorization
// context and renders the same predicate two ways: as a SQL clause for ledger
// queries and as a bleve query for the search index. List, count, fetch-by-id,
// vote and delete authorization all flow through this type; no operation
// builds its own filter.
//
// A filter that can match nothing (explicit team without team access, explicit
// private without credentials) is Empty, never an error: callers return an
// empty page instead of leaking the boundary condition.
package access

import (
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/lib/pq"

	"github.com/context8/context8-docker/internal/db/models"
)

// Filter is the inclusion predicate over solution rows for one request.
type Filter struct {
	apiKeyIDs  []string
	allowTeam  bool
	allowAdmin bool
	explicit   string // "", private, team
}

// New builds a filter from resolved authorization facts and an optional
// explicit visibility filter (already normalized by the caller).
func New(apiKeyIDs []string, allowTeam, allowAdmin bool, explicit string) Filter {
	return Filter{
		apiKeyIDs:  apiKeyIDs,
		allowTeam:  allowTeam,
		allowAdmin: allowAdmin,
		explicit:   explicit,
	}
}

// Empty reports whether the predicate can never match a row.
func (f Filter) Empty() bool {
	if f.allowAdmin {
		return false
	}
	switch f.explicit {
	case models.VisibilityTeam:
		return !f.allowTeam
	case models.VisibilityPrivate:
		return len(f.apiKeyIDs) == 0
	default:
		return !f.allowTeam && len(f.apiKeyIDs) == 0
	}
}

// SQL renders the predicate as a WHERE fragment with positional arguments
// starting at $startArg. Callers must check Empty first; an empty filter
// renders as FALSE so a missed check still cannot widen access.
func (f Filter) SQL(startArg int) (string, []any) {
	if f.Empty() {
		return "FALSE", nil
	}
	if f.allowAdmin {
		if f.explicit != "" {
			return fmt.Sprintf("visibility = $%d", startArg), []any{f.explicit}
		}
		return "TRUE", nil
	}

	switch f.explicit {
	case models.VisibilityTeam:
		return fmt.Sprintf("visibility = '%s'", models.VisibilityTeam), nil
	case models.VisibilityPrivate:
		return fmt.Sprintf("(visibility = '%s' AND api_key_id = ANY($%d))",
			models.VisibilityPrivate, startArg), []any{pq.Array(f.apiKeyIDs)}
	}

	var clauses []string
	var args []any
	if len(f.apiKeyIDs) > 0 {
		clauses = append(clauses, fmt.Sprintf("(visibility = '%s' AND api_key_id = ANY($%d))",
			models.VisibilityPrivate, startArg))
		args = append(args, pq.Array(f.apiKeyIDs))
	}
	if f.allowTeam {
		clauses = append(clauses, fmt.Sprintf("visibility = '%s'", models.VisibilityTeam))
	}
	return "(" + strings.Join(clauses, " OR ") + ")", args
}

// IndexQuery renders the predicate as a bleve filter clause. An empty filter
// renders as a match-none query.
func (f Filter) IndexQuery() query.Query {
	if f.Empty() {
		return query.NewMatchNoneQuery()
	}
	if f.allowAdmin {
		if f.explicit != "" {
			return termQuery("visibility", f.explicit)
		}
		return query.NewMatchAllQuery()
	}

	switch f.explicit {
	case models.VisibilityTeam:
		return termQuery("visibility", models.VisibilityTeam)
	case models.VisibilityPrivate:
		return f.privateClause()
	}

	var clauses []query.Query
	if len(f.apiKeyIDs) > 0 {
		clauses = append(clauses, f.privateClause())
	}
	if f.allowTeam {
		clauses = append(clauses, termQuery("visibility", models.VisibilityTeam))
	}
	if len(clauses) == 1 {
		return clauses[0]
	}
	return query.NewDisjunctionQuery(clauses)
}

// privateClause matches private rows owned by one of the caller's keys.
func (f Filter) privateClause() query.Query {
	keys := make([]query.Query, 0, len(f.apiKeyIDs))
	for _, id := range f.apiKeyIDs {
		keys = append(keys, termQuery("api_key_id", id))
	}
	conj := query.NewConjunctionQuery([]query.Query{
		termQuery("visibility", models.VisibilityPrivate),
		query.NewDisjunctionQuery(keys),
	})
	return conj
}

func termQuery(field, term string) query.Query {
	q := query.NewTermQuery(term)
	q.SetField(field)
	return q
}
