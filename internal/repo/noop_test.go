package repo

import (
	"testing"

	"github.com/fhirstack/fhirstack/internal/platform/fhir"
)

func TestContentUnchanged(t *testing.T) {
	base := fhir.Resource{
		"resourceType": "Patient",
		"id":           "p1",
		"name": []interface{}{
			map[string]interface{}{"family": "Smith", "given": []interface{}{"Jane"}},
		},
		"meta": map[string]interface{}{
			"versionId":   "3",
			"lastUpdated": "2026-01-01T00:00:00Z",
			"project":     "proj1",
		},
	}

	t.Run("identical content differing only in volatile meta", func(t *testing.T) {
		next := base.Clone()
		next["meta"].(map[string]interface{})["versionId"] = "4"
		next["meta"].(map[string]interface{})["lastUpdated"] = "2026-02-01T00:00:00Z"
		if !contentUnchanged(base, next) {
			t.Error("expected unchanged")
		}
	})

	t.Run("deep change in nested array", func(t *testing.T) {
		next := base.Clone()
		next["name"].([]interface{})[0].(map[string]interface{})["family"] = "Jones"
		if contentUnchanged(base, next) {
			t.Error("expected changed")
		}
	})

	t.Run("non-volatile meta change", func(t *testing.T) {
		next := base.Clone()
		next["meta"].(map[string]interface{})["project"] = "proj2"
		if contentUnchanged(base, next) {
			t.Error("expected changed: project is not volatile")
		}
	})

	t.Run("missing meta equals volatile-only meta", func(t *testing.T) {
		a := fhir.Resource{"resourceType": "Patient", "id": "p1"}
		b := fhir.Resource{
			"resourceType": "Patient",
			"id":           "p1",
			"meta":         map[string]interface{}{"versionId": "1"},
		}
		if !contentUnchanged(a, b) {
			t.Error("expected unchanged")
		}
	})

	t.Run("original is not mutated", func(t *testing.T) {
		next := base.Clone()
		contentUnchanged(base, next)
		if base.Meta().VersionID != "3" {
			t.Error("comparison must not mutate its inputs")
		}
	})
}
