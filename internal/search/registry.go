package search

import (
	"fmt"

	"github.com/fhirstack/fhirstack/internal/platform/fhir"
)

// ParamType defines the FHIR search parameter value type.
type ParamType int

const (
	ParamToken ParamType = iota
	ParamString
	ParamDate
	ParamReference
	ParamNumber
	ParamQuantity
	ParamURI
)

// Strategy selects how a parameter is resolved against the relational
// schema: a projected column on the resource table, a JSONB expression on
// the document body, or an auxiliary lookup table.
type Strategy int

const (
	StrategyColumn Strategy = iota
	StrategyJSONB
	StrategyLookup
)

// ParamImpl maps one search parameter code to its database representation.
// It is the single source of truth consumed by both the query compiler and
// the lookup table indexers.
type ParamImpl struct {
	Code     string
	Type     ParamType
	Strategy Strategy

	// Column is the resource table column for StrategyColumn.
	Column string

	// Path is the JSONB path (field segments from the document root) for
	// StrategyJSONB and for indexer extraction under StrategyLookup.
	Path []string

	// Array marks a Path whose terminal element is a JSON array.
	Array bool

	// Table is the lookup table name for StrategyLookup.
	Table string
}

// Lookup table names shared by the compiler and the indexers.
const (
	TableCoding     = "coding_idx"
	TableIdentifier = "identifier_idx"
	TableReference  = "reference_idx"
)

// Registry holds the static search parameter definitions: resource type ×
// code → implementation. Synthetic meta-level parameters (_id,
// _lastUpdated, _project) are available on every resource type.
type Registry struct {
	byType    map[string]map[string]ParamImpl
	synthetic map[string]ParamImpl
}

// NewRegistry creates an empty registry with only the synthetic
// parameters.
func NewRegistry() *Registry {
	return &Registry{
		byType: make(map[string]map[string]ParamImpl),
		synthetic: map[string]ParamImpl{
			"_id":          {Code: "_id", Type: ParamToken, Strategy: StrategyColumn, Column: "id"},
			"_lastUpdated": {Code: "_lastUpdated", Type: ParamDate, Strategy: StrategyColumn, Column: "last_updated"},
			"_project":     {Code: "_project", Type: ParamToken, Strategy: StrategyColumn, Column: "project_id"},
		},
	}
}

// Register adds a parameter implementation for a resource type.
func (r *Registry) Register(resourceType string, impl ParamImpl) {
	if r.byType[resourceType] == nil {
		r.byType[resourceType] = make(map[string]ParamImpl)
	}
	r.byType[resourceType][impl.Code] = impl
}

// Resolve finds the implementation for a search code on a resource type.
// Unknown codes fail with an invalid outcome naming the offending code;
// there is no fuzzy matching ("basedOn" does not resolve to "based-on").
func (r *Registry) Resolve(resourceType, code string) (ParamImpl, error) {
	if impl, ok := r.synthetic[code]; ok {
		return impl, nil
	}
	if byCode, ok := r.byType[resourceType]; ok {
		if impl, ok := byCode[code]; ok {
			return impl, nil
		}
	}
	return ParamImpl{}, fhir.ErrorInvalid(
		fmt.Sprintf("Unknown search parameter %q for resource type %s", code, resourceType))
}

// CodesFor returns the registered codes for a resource type, excluding
// synthetic parameters. Used by the indexers to enumerate extraction
// rules.
func (r *Registry) CodesFor(resourceType string) []ParamImpl {
	byCode, ok := r.byType[resourceType]
	if !ok {
		return nil
	}
	impls := make([]ParamImpl, 0, len(byCode))
	for _, impl := range byCode {
		impls = append(impls, impl)
	}
	return impls
}

// DefaultRegistry returns the registry for the supported resource types.
// Definitions follow the FHIR R4 search parameter definitions for each
// type, mapped onto the storage schema.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	// Patient
	r.Register("Patient", ParamImpl{Code: "identifier", Type: ParamToken, Strategy: StrategyLookup, Table: TableIdentifier, Path: []string{"identifier"}, Array: true})
	r.Register("Patient", ParamImpl{Code: "name", Type: ParamString, Strategy: StrategyJSONB, Path: []string{"name"}, Array: true})
	r.Register("Patient", ParamImpl{Code: "family", Type: ParamString, Strategy: StrategyJSONB, Path: []string{"name"}, Array: true})
	r.Register("Patient", ParamImpl{Code: "gender", Type: ParamToken, Strategy: StrategyJSONB, Path: []string{"gender"}})
	r.Register("Patient", ParamImpl{Code: "birthdate", Type: ParamDate, Strategy: StrategyJSONB, Path: []string{"birthDate"}})
	r.Register("Patient", ParamImpl{Code: "organization", Type: ParamReference, Strategy: StrategyLookup, Table: TableReference, Path: []string{"managingOrganization"}})
	r.Register("Patient", ParamImpl{Code: "active", Type: ParamToken, Strategy: StrategyJSONB, Path: []string{"active"}})

	// Practitioner
	r.Register("Practitioner", ParamImpl{Code: "identifier", Type: ParamToken, Strategy: StrategyLookup, Table: TableIdentifier, Path: []string{"identifier"}, Array: true})
	r.Register("Practitioner", ParamImpl{Code: "name", Type: ParamString, Strategy: StrategyJSONB, Path: []string{"name"}, Array: true})

	// Organization
	r.Register("Organization", ParamImpl{Code: "identifier", Type: ParamToken, Strategy: StrategyLookup, Table: TableIdentifier, Path: []string{"identifier"}, Array: true})
	r.Register("Organization", ParamImpl{Code: "name", Type: ParamString, Strategy: StrategyJSONB, Path: []string{"name"}})

	// Observation
	r.Register("Observation", ParamImpl{Code: "code", Type: ParamToken, Strategy: StrategyLookup, Table: TableCoding, Path: []string{"code"}})
	r.Register("Observation", ParamImpl{Code: "category", Type: ParamToken, Strategy: StrategyLookup, Table: TableCoding, Path: []string{"category"}, Array: true})
	r.Register("Observation", ParamImpl{Code: "status", Type: ParamToken, Strategy: StrategyJSONB, Path: []string{"status"}})
	r.Register("Observation", ParamImpl{Code: "subject", Type: ParamReference, Strategy: StrategyLookup, Table: TableReference, Path: []string{"subject"}})
	r.Register("Observation", ParamImpl{Code: "patient", Type: ParamReference, Strategy: StrategyLookup, Table: TableReference, Path: []string{"subject"}})
	r.Register("Observation", ParamImpl{Code: "encounter", Type: ParamReference, Strategy: StrategyLookup, Table: TableReference, Path: []string{"encounter"}})
	r.Register("Observation", ParamImpl{Code: "date", Type: ParamDate, Strategy: StrategyJSONB, Path: []string{"effectiveDateTime"}})
	r.Register("Observation", ParamImpl{Code: "value-quantity", Type: ParamQuantity, Strategy: StrategyJSONB, Path: []string{"valueQuantity", "value"}})
	r.Register("Observation", ParamImpl{Code: "based-on", Type: ParamReference, Strategy: StrategyLookup, Table: TableReference, Path: []string{"basedOn"}, Array: true})

	// Condition
	r.Register("Condition", ParamImpl{Code: "code", Type: ParamToken, Strategy: StrategyLookup, Table: TableCoding, Path: []string{"code"}})
	r.Register("Condition", ParamImpl{Code: "subject", Type: ParamReference, Strategy: StrategyLookup, Table: TableReference, Path: []string{"subject"}})
	r.Register("Condition", ParamImpl{Code: "patient", Type: ParamReference, Strategy: StrategyLookup, Table: TableReference, Path: []string{"subject"}})
	r.Register("Condition", ParamImpl{Code: "clinical-status", Type: ParamToken, Strategy: StrategyLookup, Table: TableCoding, Path: []string{"clinicalStatus"}})
	r.Register("Condition", ParamImpl{Code: "onset-date", Type: ParamDate, Strategy: StrategyJSONB, Path: []string{"onsetDateTime"}})

	// Encounter
	r.Register("Encounter", ParamImpl{Code: "status", Type: ParamToken, Strategy: StrategyJSONB, Path: []string{"status"}})
	r.Register("Encounter", ParamImpl{Code: "class", Type: ParamToken, Strategy: StrategyJSONB, Path: []string{"class", "code"}})
	r.Register("Encounter", ParamImpl{Code: "subject", Type: ParamReference, Strategy: StrategyLookup, Table: TableReference, Path: []string{"subject"}})
	r.Register("Encounter", ParamImpl{Code: "patient", Type: ParamReference, Strategy: StrategyLookup, Table: TableReference, Path: []string{"subject"}})
	r.Register("Encounter", ParamImpl{Code: "date", Type: ParamDate, Strategy: StrategyJSONB, Path: []string{"period", "start"}})

	// ServiceRequest
	r.Register("ServiceRequest", ParamImpl{Code: "code", Type: ParamToken, Strategy: StrategyLookup, Table: TableCoding, Path: []string{"code"}})
	r.Register("ServiceRequest", ParamImpl{Code: "subject", Type: ParamReference, Strategy: StrategyLookup, Table: TableReference, Path: []string{"subject"}})
	r.Register("ServiceRequest", ParamImpl{Code: "patient", Type: ParamReference, Strategy: StrategyLookup, Table: TableReference, Path: []string{"subject"}})
	r.Register("ServiceRequest", ParamImpl{Code: "based-on", Type: ParamReference, Strategy: StrategyLookup, Table: TableReference, Path: []string{"basedOn"}, Array: true})
	r.Register("ServiceRequest", ParamImpl{Code: "status", Type: ParamToken, Strategy: StrategyJSONB, Path: []string{"status"}})
	r.Register("ServiceRequest", ParamImpl{Code: "authored", Type: ParamDate, Strategy: StrategyJSONB, Path: []string{"authoredOn"}})

	// DiagnosticReport
	r.Register("DiagnosticReport", ParamImpl{Code: "code", Type: ParamToken, Strategy: StrategyLookup, Table: TableCoding, Path: []string{"code"}})
	r.Register("DiagnosticReport", ParamImpl{Code: "subject", Type: ParamReference, Strategy: StrategyLookup, Table: TableReference, Path: []string{"subject"}})
	r.Register("DiagnosticReport", ParamImpl{Code: "status", Type: ParamToken, Strategy: StrategyJSONB, Path: []string{"status"}})
	r.Register("DiagnosticReport", ParamImpl{Code: "issued", Type: ParamDate, Strategy: StrategyJSONB, Path: []string{"issued"}})

	// MedicationRequest
	r.Register("MedicationRequest", ParamImpl{Code: "subject", Type: ParamReference, Strategy: StrategyLookup, Table: TableReference, Path: []string{"subject"}})
	r.Register("MedicationRequest", ParamImpl{Code: "patient", Type: ParamReference, Strategy: StrategyLookup, Table: TableReference, Path: []string{"subject"}})
	r.Register("MedicationRequest", ParamImpl{Code: "status", Type: ParamToken, Strategy: StrategyJSONB, Path: []string{"status"}})
	r.Register("MedicationRequest", ParamImpl{Code: "intent", Type: ParamToken, Strategy: StrategyJSONB, Path: []string{"intent"}})
	r.Register("MedicationRequest", ParamImpl{Code: "authoredon", Type: ParamDate, Strategy: StrategyJSONB, Path: []string{"authoredOn"}})

	// CodeSystem / ValueSet
	r.Register("CodeSystem", ParamImpl{Code: "url", Type: ParamURI, Strategy: StrategyJSONB, Path: []string{"url"}})
	r.Register("CodeSystem", ParamImpl{Code: "name", Type: ParamString, Strategy: StrategyJSONB, Path: []string{"name"}})
	r.Register("CodeSystem", ParamImpl{Code: "status", Type: ParamToken, Strategy: StrategyJSONB, Path: []string{"status"}})
	r.Register("CodeSystem", ParamImpl{Code: "code", Type: ParamToken, Strategy: StrategyLookup, Table: TableCoding, Path: []string{"concept"}, Array: true})
	r.Register("ValueSet", ParamImpl{Code: "url", Type: ParamURI, Strategy: StrategyJSONB, Path: []string{"url"}})
	r.Register("ValueSet", ParamImpl{Code: "name", Type: ParamString, Strategy: StrategyJSONB, Path: []string{"name"}})
	r.Register("ValueSet", ParamImpl{Code: "status", Type: ParamToken, Strategy: StrategyJSONB, Path: []string{"status"}})

	// Task
	r.Register("Task", ParamImpl{Code: "status", Type: ParamToken, Strategy: StrategyJSONB, Path: []string{"status"}})
	r.Register("Task", ParamImpl{Code: "owner", Type: ParamReference, Strategy: StrategyLookup, Table: TableReference, Path: []string{"owner"}})
	r.Register("Task", ParamImpl{Code: "subject", Type: ParamReference, Strategy: StrategyLookup, Table: TableReference, Path: []string{"for"}})
	r.Register("Task", ParamImpl{Code: "authored-on", Type: ParamDate, Strategy: StrategyJSONB, Path: []string{"authoredOn"}})
	r.Register("Task", ParamImpl{Code: "priority", Type: ParamToken, Strategy: StrategyJSONB, Path: []string{"priority"}})

	// ProjectMembership
	r.Register("ProjectMembership", ParamImpl{Code: "project", Type: ParamReference, Strategy: StrategyLookup, Table: TableReference, Path: []string{"project"}})
	r.Register("ProjectMembership", ParamImpl{Code: "profile", Type: ParamReference, Strategy: StrategyLookup, Table: TableReference, Path: []string{"profile"}})
	r.Register("ProjectMembership", ParamImpl{Code: "user", Type: ParamReference, Strategy: StrategyLookup, Table: TableReference, Path: []string{"user"}})

	return r
}
