package repo

import (
	"reflect"

	"github.com/fhirstack/fhirstack/internal/platform/fhir"
)

// contentUnchanged reports whether two resource bodies are semantically
// equal, ignoring the volatile meta fields the server rewrites on every
// version (versionId and lastUpdated). An update whose content is
// unchanged returns the existing version instead of writing a new one.
func contentUnchanged(current, next fhir.Resource) bool {
	return reflect.DeepEqual(stripVolatileMeta(current), stripVolatileMeta(next))
}

// stripVolatileMeta returns a copy of the resource with meta.versionId and
// meta.lastUpdated removed. An emptied meta map is dropped entirely so
// that a resource without meta compares equal to one with only volatile
// fields.
func stripVolatileMeta(r fhir.Resource) fhir.Resource {
	out := r.Clone()
	raw, ok := out["meta"].(map[string]interface{})
	if !ok {
		return out
	}
	delete(raw, "versionId")
	delete(raw, "lastUpdated")
	if len(raw) == 0 {
		delete(out, "meta")
	}
	return out
}
