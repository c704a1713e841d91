package accesspolicy

import (
	"strings"

	"github.com/fhirstack/fhirstack/internal/platform/fhir"
)

// FromResource converts a stored AccessPolicy resource into its evaluated
// form. The resource carries one entry per granted type:
//
//	{"resourceType": "AccessPolicy",
//	 "resource": [{"resourceType": "Observation",
//	               "readonly": true,
//	               "compartment": {"reference": "Patient/p1"},
//	               "criteria": "Observation?status=final"}]}
//
// A criteria of the form "Type?query" is reduced to its query string.
func FromResource(resource fhir.Resource) *Policy {
	if resource == nil || resource.Type() != "AccessPolicy" {
		return nil
	}
	entries, _ := resource["resource"].([]interface{})
	policy := &Policy{}
	for _, e := range entries {
		m, ok := e.(map[string]interface{})
		if !ok {
			continue
		}
		rt, _ := m["resourceType"].(string)
		if rt == "" {
			continue
		}
		rule := Rule{ResourceType: rt}
		rule.ReadOnly, _ = m["readonly"].(bool)
		if comp, ok := m["compartment"].(map[string]interface{}); ok {
			rule.Compartment, _ = comp["reference"].(string)
		}
		if criteria, _ := m["criteria"].(string); criteria != "" {
			if i := strings.Index(criteria, "?"); i >= 0 {
				criteria = criteria[i+1:]
			}
			rule.Criteria = criteria
		}
		policy.Rules = append(policy.Rules, rule)
	}
	if len(policy.Rules) == 0 {
		return nil
	}
	return policy
}
