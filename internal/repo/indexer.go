package repo

import (
	"context"
	"fmt"

	"github.com/fhirstack/fhirstack/internal/platform/fhir"
	"github.com/fhirstack/fhirstack/internal/search"
)

// Lookup table rows derived from one resource body. The indexers keep
// these tables in lockstep with resource writes inside the same
// transaction; reindexing replaces all rows for a resource.

type codingRow struct {
	paramCode string
	system    string
	code      string
	display   string
}

type identifierRow struct {
	paramCode string
	system    string
	value     string
}

type referenceRow struct {
	paramCode  string
	targetType string
	targetID   string
}

type indexRows struct {
	codings     []codingRow
	identifiers []identifierRow
	references  []referenceRow
}

// extractIndexRows derives all lookup table rows for a resource from the
// registry's lookup-strategy parameters.
func extractIndexRows(reg *search.Registry, resource fhir.Resource) indexRows {
	var rows indexRows
	for _, impl := range reg.CodesFor(resource.Type()) {
		if impl.Strategy != search.StrategyLookup {
			continue
		}
		switch impl.Table {
		case search.TableCoding:
			rows.codings = append(rows.codings, extractCodings(impl, resource)...)
		case search.TableIdentifier:
			rows.identifiers = append(rows.identifiers, extractIdentifiers(impl, resource)...)
		case search.TableReference:
			rows.references = append(rows.references, extractReferences(impl, resource)...)
		}
	}
	return rows
}

// valueAt walks a JSON path through the resource body.
func valueAt(resource fhir.Resource, path []string) interface{} {
	var cur interface{} = map[string]interface{}(resource)
	for _, seg := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur = m[seg]
	}
	return cur
}

// asSlice normalizes a scalar-or-array JSON value to a slice.
func asSlice(v interface{}) []interface{} {
	if v == nil {
		return nil
	}
	if s, ok := v.([]interface{}); ok {
		return s
	}
	return []interface{}{v}
}

func asString(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

// extractCodings pulls coding rows from CodeableConcept-shaped values.
// CodeSystem concept definitions are indexed against the system's own url,
// and only when the declared content is complete: fragments are excluded.
func extractCodings(impl search.ParamImpl, resource fhir.Resource) []codingRow {
	if resource.Type() == "CodeSystem" && len(impl.Path) == 1 && impl.Path[0] == "concept" {
		if content, _ := resource["content"].(string); content != "complete" {
			return nil
		}
		system, _ := resource["url"].(string)
		return collectConcepts(impl.Code, system, asSlice(resource["concept"]))
	}

	var rows []codingRow
	for _, v := range asSlice(valueAt(resource, impl.Path)) {
		cc, ok := v.(map[string]interface{})
		if !ok {
			continue
		}
		for _, c := range asSlice(cc["coding"]) {
			coding, ok := c.(map[string]interface{})
			if !ok {
				continue
			}
			rows = append(rows, codingRow{
				paramCode: impl.Code,
				system:    asString(coding, "system"),
				code:      asString(coding, "code"),
				display:   asString(coding, "display"),
			})
		}
		if text := asString(cc, "text"); text != "" {
			rows = append(rows, codingRow{paramCode: impl.Code, display: text})
		}
	}
	return rows
}

// collectConcepts flattens a CodeSystem concept tree into coding rows.
func collectConcepts(paramCode, system string, concepts []interface{}) []codingRow {
	var rows []codingRow
	for _, v := range concepts {
		concept, ok := v.(map[string]interface{})
		if !ok {
			continue
		}
		rows = append(rows, codingRow{
			paramCode: paramCode,
			system:    system,
			code:      asString(concept, "code"),
			display:   asString(concept, "display"),
		})
		rows = append(rows, collectConcepts(paramCode, system, asSlice(concept["concept"]))...)
	}
	return rows
}

func extractIdentifiers(impl search.ParamImpl, resource fhir.Resource) []identifierRow {
	var rows []identifierRow
	for _, v := range asSlice(valueAt(resource, impl.Path)) {
		ident, ok := v.(map[string]interface{})
		if !ok {
			continue
		}
		value := asString(ident, "value")
		if value == "" {
			continue
		}
		rows = append(rows, identifierRow{
			paramCode: impl.Code,
			system:    asString(ident, "system"),
			value:     value,
		})
	}
	return rows
}

func extractReferences(impl search.ParamImpl, resource fhir.Resource) []referenceRow {
	var rows []referenceRow
	for _, v := range asSlice(valueAt(resource, impl.Path)) {
		ref, ok := v.(map[string]interface{})
		if !ok {
			continue
		}
		targetType, targetID := fhir.SplitReference(asString(ref, "reference"))
		if targetID == "" {
			continue
		}
		rows = append(rows, referenceRow{
			paramCode:  impl.Code,
			targetType: targetType,
			targetID:   targetID,
		})
	}
	return rows
}

// deriveCompartments computes the compartment references for a resource:
// every Patient reference the registry indexes places the resource in that
// patient's compartment.
func deriveCompartments(reg *search.Registry, resource fhir.Resource) []fhir.Reference {
	seen := make(map[string]bool)
	var out []fhir.Reference
	for _, impl := range reg.CodesFor(resource.Type()) {
		if impl.Strategy != search.StrategyLookup || impl.Table != search.TableReference {
			continue
		}
		for _, row := range extractReferences(impl, resource) {
			if row.targetType != "Patient" {
				continue
			}
			ref := fhir.FormatReference(row.targetType, row.targetID)
			if !seen[ref] {
				seen[ref] = true
				out = append(out, fhir.Reference{Reference: ref})
			}
		}
	}
	if resource.Type() == "Patient" && resource.ID() != "" {
		ref := fhir.FormatReference("Patient", resource.ID())
		if !seen[ref] {
			out = append(out, fhir.Reference{Reference: ref})
		}
	}
	return out
}

// writeIndexRows replaces all lookup table rows for a resource. Delete
// then insert keeps reindexing idempotent.
func writeIndexRows(ctx context.Context, q querier, resourceType, id string, rows indexRows) error {
	for _, table := range []string{search.TableCoding, search.TableIdentifier, search.TableReference} {
		sql := fmt.Sprintf("DELETE FROM %s WHERE resource_type = $1 AND resource_id = $2", table)
		if _, err := q.Exec(ctx, sql, resourceType, id); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	for _, r := range rows.codings {
		_, err := q.Exec(ctx,
			`INSERT INTO coding_idx (resource_type, resource_id, param_code, system, code, display)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			resourceType, id, r.paramCode, r.system, r.code, r.display)
		if err != nil {
			return fmt.Errorf("index coding: %w", err)
		}
	}
	for _, r := range rows.identifiers {
		_, err := q.Exec(ctx,
			`INSERT INTO identifier_idx (resource_type, resource_id, param_code, system, value)
			 VALUES ($1, $2, $3, $4, $5)`,
			resourceType, id, r.paramCode, r.system, r.value)
		if err != nil {
			return fmt.Errorf("index identifier: %w", err)
		}
	}
	for _, r := range rows.references {
		_, err := q.Exec(ctx,
			`INSERT INTO reference_idx (resource_type, resource_id, param_code, target_type, target_id)
			 VALUES ($1, $2, $3, $4, $5)`,
			resourceType, id, r.paramCode, r.targetType, r.targetID)
		if err != nil {
			return fmt.Errorf("index reference: %w", err)
		}
	}
	return nil
}
