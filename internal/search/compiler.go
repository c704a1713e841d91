package search

import (
	"fmt"
	"strings"

	"github.com/fhirstack/fhirstack/internal/platform/fhir"
)

// Scope narrows every compiled query beyond the caller's filters. It
// carries the project isolation and compartment restriction derived from
// the requester's access policy, never from user input.
type Scope struct {
	// ProjectID restricts results to one project. Empty means
	// unrestricted (privileged requesters only).
	ProjectID string

	// Compartment restricts results to resources tagged with the given
	// compartment reference, e.g. "Patient/123". Empty means no
	// compartment restriction.
	Compartment string
}

// Query is a compiled search: one parameterized SQL statement plus its
// arguments. Limit carries the effective page size before the extra row
// fetched for next-link detection.
type Query struct {
	SQL   string
	Args  []interface{}
	Limit int
}

// Compiler translates SearchRequests into parameterized SQL using the
// parameter registry. Values never enter the SQL text.
type Compiler struct {
	registry    *Registry
	defaultPage int
	maxPage     int
}

// NewCompiler creates a compiler over the given registry with the
// configured default and maximum page sizes.
func NewCompiler(registry *Registry, defaultPage, maxPage int) *Compiler {
	return &Compiler{registry: registry, defaultPage: defaultPage, maxPage: maxPage}
}

// PageSize resolves the effective page size for a request, applying the
// default and the upper bound. An explicit _count=0 is preserved
// (count-only searches).
func (c *Compiler) PageSize(req *SearchRequest) int {
	if !req.CountSet {
		return c.defaultPage
	}
	if req.Count > c.maxPage {
		return c.maxPage
	}
	return req.Count
}

// Compile builds the row-fetching query for a search. The statement
// selects one extra row beyond the page size so the executor can detect
// whether a next page exists.
func (c *Compiler) Compile(req *SearchRequest, scope Scope) (*Query, error) {
	where, args, idx, err := c.compileWhere(req, scope, 1)
	if err != nil {
		return nil, err
	}

	orderBy, err := c.compileOrder(req)
	if err != nil {
		return nil, err
	}

	limit := c.PageSize(req)
	var b strings.Builder
	b.WriteString("SELECT r.content FROM resource r WHERE ")
	b.WriteString(strings.Join(where, " AND "))
	b.WriteString(orderBy)
	b.WriteString(fmt.Sprintf(" LIMIT $%d OFFSET $%d", idx, idx+1))
	args = append(args, limit+1, req.Offset)

	return &Query{SQL: b.String(), Args: args, Limit: limit}, nil
}

// CompileCount builds the counting query for _total=accurate, sharing the
// WHERE clause of the row query without ordering or pagination.
func (c *Compiler) CompileCount(req *SearchRequest, scope Scope) (*Query, error) {
	where, args, _, err := c.compileWhere(req, scope, 1)
	if err != nil {
		return nil, err
	}
	sql := "SELECT COUNT(*) FROM resource r WHERE " + strings.Join(where, " AND ")
	return &Query{SQL: sql, Args: args}, nil
}

// CompileEstimate builds the EXPLAIN form of the row query for
// _total=estimate. The executor reads the planner's row estimate from the
// JSON plan.
func (c *Compiler) CompileEstimate(req *SearchRequest, scope Scope) (*Query, error) {
	where, args, _, err := c.compileWhere(req, scope, 1)
	if err != nil {
		return nil, err
	}
	sql := "EXPLAIN (FORMAT JSON) SELECT r.id FROM resource r WHERE " + strings.Join(where, " AND ")
	return &Query{SQL: sql, Args: args}, nil
}

func (c *Compiler) compileWhere(req *SearchRequest, scope Scope, startIdx int) ([]string, []interface{}, int, error) {
	idx := startIdx
	var args []interface{}

	where := []string{fmt.Sprintf("r.resource_type = $%d", idx), "r.deleted = FALSE"}
	args = append(args, req.ResourceType)
	idx++

	if scope.ProjectID != "" {
		where = append(where, fmt.Sprintf("r.project_id = $%d", idx))
		args = append(args, scope.ProjectID)
		idx++
	}
	if scope.Compartment != "" {
		where = append(where, fmt.Sprintf("$%d = ANY(r.compartments)", idx))
		args = append(args, scope.Compartment)
		idx++
	}

	for _, f := range req.Filters {
		clause, clauseArgs, nextIdx, err := c.compileFilter(req.ResourceType, f, idx)
		if err != nil {
			return nil, nil, 0, err
		}
		where = append(where, clause)
		args = append(args, clauseArgs...)
		idx = nextIdx
	}

	return where, args, idx, nil
}

func (c *Compiler) compileFilter(resourceType string, f Filter, startIdx int) (string, []interface{}, int, error) {
	impl, err := c.registry.Resolve(resourceType, f.Code)
	if err != nil {
		return "", nil, 0, err
	}
	if f.Operator == OpMissing {
		return missingClause(impl, f.Value, startIdx)
	}
	switch impl.Type {
	case ParamToken:
		return tokenClause(impl, f, startIdx)
	case ParamString:
		return stringClause(impl, f, startIdx)
	case ParamDate:
		return dateClause(impl, f, startIdx)
	case ParamNumber, ParamQuantity:
		return numberClause(impl, f, startIdx)
	case ParamReference:
		return referenceClause(impl, f, startIdx)
	case ParamURI:
		return uriClause(impl, f, startIdx)
	}
	return "", nil, 0, fhir.ErrorInvalid(fmt.Sprintf("Unsupported search parameter type for %q", f.Code))
}

// compileOrder renders the ORDER BY clause. Sorting is supported on
// column-backed and scalar JSONB parameters; lookup table parameters have
// no single sort key and are rejected.
func (c *Compiler) compileOrder(req *SearchRequest) (string, error) {
	if len(req.Sort) == 0 {
		return " ORDER BY r.last_updated DESC, r.id", nil
	}
	exprs := make([]string, 0, len(req.Sort)+1)
	for _, rule := range req.Sort {
		impl, err := c.registry.Resolve(req.ResourceType, rule.Code)
		if err != nil {
			return "", err
		}
		var expr string
		switch impl.Strategy {
		case StrategyColumn:
			expr = "r." + impl.Column
		case StrategyJSONB:
			if impl.Array {
				return "", fhir.ErrorInvalid(fmt.Sprintf("Cannot sort by search parameter %q", rule.Code))
			}
			expr = jsonbExpr(impl.Path)
		default:
			return "", fhir.ErrorInvalid(fmt.Sprintf("Cannot sort by search parameter %q", rule.Code))
		}
		if rule.Descending {
			expr += " DESC"
		}
		exprs = append(exprs, expr)
	}
	exprs = append(exprs, "r.id")
	return " ORDER BY " + strings.Join(exprs, ", "), nil
}
