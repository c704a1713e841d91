package fhir

// knownResourceTypes is the set of FHIR R4 resource types accepted by the
// repository. A create or search against a type outside this set fails
// with a structure outcome before touching storage.
var knownResourceTypes = map[string]bool{
	"Account":             true,
	"AccessPolicy":        true,
	"AllergyIntolerance":  true,
	"Appointment":         true,
	"AuditEvent":          true,
	"Basic":               true,
	"Binary":              true,
	"Bundle":              true,
	"CarePlan":            true,
	"CareTeam":            true,
	"Claim":               true,
	"ClientApplication":   true,
	"CodeSystem":          true,
	"Communication":       true,
	"Composition":         true,
	"Condition":           true,
	"Consent":             true,
	"Coverage":            true,
	"Device":              true,
	"DiagnosticReport":    true,
	"DocumentReference":   true,
	"Encounter":           true,
	"Endpoint":            true,
	"EpisodeOfCare":       true,
	"Goal":                true,
	"Group":               true,
	"HealthcareService":   true,
	"Immunization":        true,
	"Location":            true,
	"Media":               true,
	"Medication":          true,
	"MedicationRequest":   true,
	"MedicationStatement": true,
	"Observation":         true,
	"OperationOutcome":    true,
	"Organization":        true,
	"Patient":             true,
	"Practitioner":        true,
	"PractitionerRole":    true,
	"Procedure":           true,
	"Project":             true,
	"ProjectMembership":   true,
	"Provenance":          true,
	"Questionnaire":       true,
	"QuestionnaireResponse": true,
	"RelatedPerson":       true,
	"RequestGroup":        true,
	"RiskAssessment":      true,
	"Schedule":            true,
	"SearchParameter":     true,
	"ServiceRequest":      true,
	"Slot":                true,
	"Specimen":            true,
	"StructureDefinition": true,
	"Subscription":        true,
	"Task":                true,
	"User":                true,
	"ValueSet":            true,
}

// IsKnownResourceType returns true if the resource type is recognized.
func IsKnownResourceType(rt string) bool {
	return knownResourceTypes[rt]
}

// KnownResourceTypes returns all recognized resource type names.
// The order is unspecified.
func KnownResourceTypes() []string {
	types := make([]string, 0, len(knownResourceTypes))
	for rt := range knownResourceTypes {
		types = append(types, rt)
	}
	return types
}
