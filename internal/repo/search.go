package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/fhirstack/fhirstack/internal/accesspolicy"
	"github.com/fhirstack/fhirstack/internal/platform/fhir"
	"github.com/fhirstack/fhirstack/internal/search"
)

// Search compiles and executes a search request, returning a searchset
// bundle. One extra row beyond the page size is fetched and discarded to
// decide next-link presence without a count query.
func (r *Repository) Search(ctx context.Context, req *Requester, sr *search.SearchRequest, baseURL string) (*fhir.Bundle, error) {
	if !fhir.IsKnownResourceType(sr.ResourceType) {
		return nil, fhir.ErrorStructure("Unknown resource type: " + sr.ResourceType)
	}
	constraint, err := accesspolicy.Evaluate(req.Policy, accesspolicy.ActionSearch, sr.ResourceType)
	if err != nil {
		return nil, err
	}

	scoped := *sr
	if len(constraint.Filters) > 0 {
		scoped.Filters = append(append([]search.Filter{}, sr.Filters...), constraint.Filters...)
	}
	scope := search.Scope{Compartment: constraint.Compartment}
	if !req.Privileged {
		scope.ProjectID = req.ProjectID
	}

	if r.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.queryTimeout)
		defer cancel()
	}

	var total *int
	switch scoped.Total {
	case search.TotalAccurate:
		n, err := r.countMatches(ctx, &scoped, scope)
		if err != nil {
			return nil, err
		}
		total = &n
	case search.TotalEstimate:
		n, err := r.estimateMatches(ctx, &scoped, scope)
		if err != nil {
			return nil, err
		}
		total = &n
	}

	pageSize := r.compiler.PageSize(&scoped)
	var resources []fhir.Resource
	hasMore := false
	if pageSize > 0 {
		q, err := r.compiler.Compile(&scoped, scope)
		if err != nil {
			return nil, err
		}
		rows, err := r.conn(ctx).Query(ctx, q.SQL, q.Args...)
		if err != nil {
			return nil, fmt.Errorf("search %s: %w", scoped.ResourceType, err)
		}
		defer rows.Close()
		for rows.Next() {
			var content []byte
			if err := rows.Scan(&content); err != nil {
				return nil, fmt.Errorf("scan search row: %w", err)
			}
			var resource fhir.Resource
			if err := json.Unmarshal(content, &resource); err != nil {
				return nil, fmt.Errorf("decode search row: %w", err)
			}
			resources = append(resources, resource)
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
		if len(resources) > q.Limit {
			hasMore = true
			resources = resources[:q.Limit]
		}
	}

	return fhir.NewSearchBundle(resources, fhir.SearchBundleParams{
		BaseURL:      baseURL,
		ResourceType: sr.ResourceType,
		QueryStr:     filterQueryString(sr),
		Count:        pageSize,
		Offset:       sr.Offset,
		Total:        total,
		HasMore:      hasMore,
	}), nil
}

// countMatches runs the exact count query for _total=accurate.
func (r *Repository) countMatches(ctx context.Context, sr *search.SearchRequest, scope search.Scope) (int, error) {
	q, err := r.compiler.CompileCount(sr, scope)
	if err != nil {
		return 0, err
	}
	var n int
	if err := r.conn(ctx).QueryRow(ctx, q.SQL, q.Args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", sr.ResourceType, err)
	}
	return n, nil
}

// estimateMatches reads the planner's row estimate for _total=estimate.
func (r *Repository) estimateMatches(ctx context.Context, sr *search.SearchRequest, scope search.Scope) (int, error) {
	q, err := r.compiler.CompileEstimate(sr, scope)
	if err != nil {
		return 0, err
	}
	var plan []byte
	if err := r.conn(ctx).QueryRow(ctx, q.SQL, q.Args...).Scan(&plan); err != nil {
		return 0, fmt.Errorf("estimate %s: %w", sr.ResourceType, err)
	}
	return parsePlanRows(plan)
}

// parsePlanRows extracts "Plan Rows" from an EXPLAIN (FORMAT JSON) result.
func parsePlanRows(plan []byte) (int, error) {
	var parsed []struct {
		Plan struct {
			PlanRows float64 `json:"Plan Rows"`
		} `json:"Plan"`
	}
	if err := json.Unmarshal(plan, &parsed); err != nil {
		return 0, fmt.Errorf("parse plan: %w", err)
	}
	if len(parsed) == 0 {
		return 0, fmt.Errorf("empty plan")
	}
	return int(parsed[0].Plan.PlanRows), nil
}

// filterQueryString re-renders the caller's filters for pagination links.
// Control parameters are appended by the bundle builder.
func filterQueryString(sr *search.SearchRequest) string {
	values := url.Values{}
	for _, f := range sr.Filters {
		key := f.Code
		val := f.Value
		switch f.Operator {
		case search.OpMissing:
			key += ":missing"
		case search.OpNotEquals:
			key += ":not"
		case search.OpExact:
			key += ":exact"
		case search.OpContains:
			key += ":contains"
		case search.OpText:
			key += ":text"
		case search.OpGreaterThan, search.OpGreaterThanOrEquals,
			search.OpLessThan, search.OpLessThanOrEquals,
			search.OpStartsAfter, search.OpEndsBefore:
			val = string(f.Operator) + f.Value
		}
		values.Add(key, val)
	}
	for _, s := range sr.Sort {
		code := s.Code
		if s.Descending {
			code = "-" + code
		}
		values.Add("_sort", code)
	}
	return values.Encode()
}
