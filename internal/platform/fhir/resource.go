package fhir

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// Resource is a schema-less FHIR resource: a typed JSON document identified
// by (resourceType, id). The body is kept as a generic map so that any R4
// resource type can flow through the repository unchanged.
type Resource map[string]interface{}

// Meta is the server-maintained envelope on every stored resource.
type Meta struct {
	VersionID   string     `json:"versionId,omitempty"`
	LastUpdated *time.Time `json:"lastUpdated,omitempty"`
	Author      *Reference `json:"author,omitempty"`
	OnBehalfOf  *Reference `json:"onBehalfOf,omitempty"`
	Project     string     `json:"project,omitempty"`
	Account     *Reference `json:"account,omitempty"`
	Compartment []Reference `json:"compartment,omitempty"`
	Profile     []string   `json:"profile,omitempty"`
}

type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

type Reference struct {
	Reference string `json:"reference,omitempty"`
	Type      string `json:"type,omitempty"`
	Display   string `json:"display,omitempty"`
}

type Identifier struct {
	Use    string           `json:"use,omitempty"`
	Type   *CodeableConcept `json:"type,omitempty"`
	System string           `json:"system,omitempty"`
	Value  string           `json:"value,omitempty"`
}

type Period struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// idPattern is the FHIR id grammar: 1..64 of [A-Za-z0-9.-].
var idPattern = regexp.MustCompile(`^[A-Za-z0-9\-.]{1,64}$`)

// IsValidID reports whether s is a well-formed FHIR resource id.
func IsValidID(s string) bool {
	return idPattern.MatchString(s)
}

// Type returns the resourceType of the resource, or "".
func (r Resource) Type() string {
	t, _ := r["resourceType"].(string)
	return t
}

// ID returns the resource id, or "".
func (r Resource) ID() string {
	id, _ := r["id"].(string)
	return id
}

// SetID sets the resource id.
func (r Resource) SetID(id string) {
	r["id"] = id
}

// Meta decodes the resource meta envelope. A missing or malformed meta
// yields a zero Meta rather than an error: callers stamp it on write.
func (r Resource) Meta() Meta {
	raw, ok := r["meta"]
	if !ok {
		return Meta{}
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return Meta{}
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return Meta{}
	}
	return m
}

// SetMeta replaces the resource meta envelope.
func (r Resource) SetMeta(m Meta) {
	data, _ := json.Marshal(m)
	var generic map[string]interface{}
	_ = json.Unmarshal(data, &generic)
	r["meta"] = generic
}

// Clone returns a deep copy of the resource.
func (r Resource) Clone() Resource {
	data, _ := json.Marshal(r)
	var out Resource
	_ = json.Unmarshal(data, &out)
	return out
}

// ParseResource decodes a raw JSON body into a Resource, requiring a
// non-empty resourceType.
func ParseResource(body []byte) (Resource, error) {
	var r Resource
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if r.Type() == "" {
		return nil, fmt.Errorf("resourceType is required")
	}
	return r, nil
}

// FormatReference creates a FHIR reference string.
func FormatReference(resourceType, id string) string {
	return fmt.Sprintf("%s/%s", resourceType, id)
}

// SplitReference splits "Type/id" into its parts. A bare id returns
// ("", id).
func SplitReference(ref string) (resourceType, id string) {
	for i := 0; i < len(ref); i++ {
		if ref[i] == '/' {
			return ref[:i], ref[i+1:]
		}
	}
	return "", ref
}
