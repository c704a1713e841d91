// Package graphql implements the FHIR $graphql operation: a small query
// engine resolving resource reads and searches through the repository,
// with nested reference traversal bounded by a maximum depth.
package graphql

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// MaxDepth bounds nested resource/list selections to keep query cost
// predictable.
const MaxDepth = 8

// Resolver fetches resources for the engine. Implementations enforce
// authorization; the engine never touches storage directly.
type Resolver interface {
	ResolveByID(ctx context.Context, resourceType, id string) (map[string]interface{}, error)
	ResolveSearch(ctx context.Context, resourceType string, params map[string]string, limit int) ([]map[string]interface{}, error)
}

// Request is an incoming GraphQL query.
type Request struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

// Response is the result of executing a query.
type Response struct {
	Data   map[string]interface{} `json:"data,omitempty"`
	Errors []Error                `json:"errors,omitempty"`
}

// Error is a single GraphQL execution error.
type Error struct {
	Message string   `json:"message"`
	Path    []string `json:"path,omitempty"`
}

// Engine executes FHIR GraphQL queries against one resolver.
type Engine struct {
	resolver Resolver
}

func NewEngine(resolver Resolver) *Engine {
	return &Engine{resolver: resolver}
}

// Execute parses and runs a query. Parse and depth errors surface in the
// errors array, as do per-field resolution failures.
func (e *Engine) Execute(ctx context.Context, req Request) *Response {
	query := req.Query
	if len(req.Variables) > 0 {
		query = substituteVariables(query, req.Variables)
	}

	selections, err := parseQuery(query)
	if err != nil {
		return &Response{Errors: []Error{{Message: err.Error()}}}
	}

	data := make(map[string]interface{})
	var errs []Error
	for _, sel := range selections {
		value, err := e.executeRoot(ctx, sel)
		if err != nil {
			errs = append(errs, Error{Message: err.Error(), Path: []string{sel.Name}})
			continue
		}
		data[sel.Name] = value
	}
	return &Response{Data: data, Errors: errs}
}

// executeRoot resolves one top-level selection: TypeName(id: ...) for a
// single read or TypeNameList(params) for a search.
func (e *Engine) executeRoot(ctx context.Context, sel selection) (interface{}, error) {
	if strings.HasSuffix(sel.Name, "List") {
		resourceType := strings.TrimSuffix(sel.Name, "List")
		limit := 100
		params := make(map[string]string, len(sel.Args))
		for k, v := range sel.Args {
			if k == "_count" {
				if n, err := strconv.Atoi(v); err == nil {
					limit = n
				}
				continue
			}
			params[k] = v
		}
		results, err := e.resolver.ResolveSearch(ctx, resourceType, params, limit)
		if err != nil {
			return nil, err
		}
		out := make([]interface{}, 0, len(results))
		for _, r := range results {
			projected, err := e.project(ctx, r, sel.Fields)
			if err != nil {
				return nil, err
			}
			out = append(out, projected)
		}
		return out, nil
	}

	id := sel.Args["id"]
	if id == "" {
		return nil, fmt.Errorf("%s requires an id argument", sel.Name)
	}
	resource, err := e.resolver.ResolveByID(ctx, sel.Name, id)
	if err != nil {
		return nil, err
	}
	return e.project(ctx, resource, sel.Fields)
}

// project applies a field selection to a resource, resolving nested
// "resource" selections on references through the resolver.
func (e *Engine) project(ctx context.Context, value map[string]interface{}, fields []selection) (map[string]interface{}, error) {
	if len(fields) == 0 {
		return value, nil
	}
	out := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		raw, ok := value[f.Name]
		if !ok {
			continue
		}
		projected, err := e.projectValue(ctx, raw, f.Fields)
		if err != nil {
			return nil, err
		}
		out[f.Name] = projected
	}
	return out, nil
}

func (e *Engine) projectValue(ctx context.Context, raw interface{}, fields []selection) (interface{}, error) {
	if len(fields) == 0 {
		return raw, nil
	}
	switch v := raw.(type) {
	case map[string]interface{}:
		if isReference(v) && selectsResource(fields) {
			return e.projectReference(ctx, v, fields)
		}
		return e.project(ctx, v, fields)
	case []interface{}:
		out := make([]interface{}, 0, len(v))
		for _, item := range v {
			projected, err := e.projectValue(ctx, item, fields)
			if err != nil {
				return nil, err
			}
			out = append(out, projected)
		}
		return out, nil
	default:
		return raw, nil
	}
}

// projectReference resolves the target of a reference field and projects
// the nested "resource" selection onto it.
func (e *Engine) projectReference(ctx context.Context, ref map[string]interface{}, fields []selection) (interface{}, error) {
	out := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		if f.Name != "resource" {
			if raw, ok := ref[f.Name]; ok {
				out[f.Name] = raw
			}
			continue
		}
		refStr, _ := ref["reference"].(string)
		i := strings.Index(refStr, "/")
		if i <= 0 {
			continue
		}
		target, err := e.resolver.ResolveByID(ctx, refStr[:i], refStr[i+1:])
		if err != nil {
			return nil, err
		}
		projected, err := e.project(ctx, target, f.Fields)
		if err != nil {
			return nil, err
		}
		out["resource"] = projected
	}
	return out, nil
}

func isReference(m map[string]interface{}) bool {
	_, ok := m["reference"].(string)
	return ok
}

func selectsResource(fields []selection) bool {
	for _, f := range fields {
		if f.Name == "resource" {
			return true
		}
	}
	return false
}

// substituteVariables replaces $name references with variable values.
func substituteVariables(query string, variables map[string]interface{}) string {
	for name, val := range variables {
		var strVal string
		switch v := val.(type) {
		case string:
			strVal = `"` + v + `"`
		default:
			strVal = fmt.Sprintf("%v", v)
		}
		query = strings.ReplaceAll(query, "$"+name, strVal)
	}
	return query
}
