package repo

import (
	"testing"
	"time"

	"github.com/fhirstack/fhirstack/internal/platform/fhir"
)

func TestStampCreateNormalActor(t *testing.T) {
	req := &Requester{
		Author:    fhir.Reference{Reference: "Practitioner/dr1"},
		ProjectID: "proj1",
	}
	forged := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	resource := fhir.Resource{
		"resourceType": "Patient",
		"meta": map[string]interface{}{
			"author":      map[string]interface{}{"reference": "Practitioner/someone-else"},
			"lastUpdated": forged.Format(time.RFC3339),
			"project":     "other-project",
		},
	}
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	if err := stampCreate(req, resource, now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	meta := resource.Meta()
	if meta.Author == nil || meta.Author.Reference != "Practitioner/dr1" {
		t.Errorf("author must be overwritten with the requester, got %+v", meta.Author)
	}
	if meta.LastUpdated == nil || !meta.LastUpdated.Equal(now) {
		t.Errorf("lastUpdated must be server-assigned, got %v", meta.LastUpdated)
	}
	if meta.Project != "proj1" {
		t.Errorf("project must be the requester's project, got %q", meta.Project)
	}
}

func TestStampCreatePrivilegedActor(t *testing.T) {
	req := SystemRequester()
	custom := time.Date(2020, 5, 1, 0, 0, 0, 0, time.UTC)
	resource := fhir.Resource{
		"resourceType": "Patient",
		"meta": map[string]interface{}{
			"author":      map[string]interface{}{"reference": "Practitioner/import-source"},
			"lastUpdated": custom.Format(time.RFC3339),
			"project":     "proj9",
		},
	}
	if err := stampCreate(req, resource, time.Now().UTC()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	meta := resource.Meta()
	if meta.Author.Reference != "Practitioner/import-source" {
		t.Errorf("privileged author override must stick, got %+v", meta.Author)
	}
	if !meta.LastUpdated.Equal(custom) {
		t.Errorf("privileged lastUpdated override must stick, got %v", meta.LastUpdated)
	}
	if meta.Project != "proj9" {
		t.Errorf("privileged project override must stick, got %q", meta.Project)
	}
}

func TestStampCreateDelegation(t *testing.T) {
	delegate := fhir.Reference{Reference: "Practitioner/delegate"}

	t.Run("admin", func(t *testing.T) {
		req := &Requester{
			Author:     fhir.Reference{Reference: "ClientApplication/c1"},
			ProjectID:  "proj1",
			Admin:      true,
			OnBehalfOf: &delegate,
		}
		resource := fhir.Resource{"resourceType": "Patient"}
		if err := stampCreate(req, resource, time.Now().UTC()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		meta := resource.Meta()
		if meta.OnBehalfOf == nil || meta.OnBehalfOf.Reference != "Practitioner/delegate" {
			t.Errorf("expected onBehalfOf stamped, got %+v", meta.OnBehalfOf)
		}
		if meta.Author.Reference != "ClientApplication/c1" {
			t.Errorf("author must remain the acting client, got %+v", meta.Author)
		}
	})

	t.Run("non-admin", func(t *testing.T) {
		req := &Requester{
			Author:     fhir.Reference{Reference: "ClientApplication/c1"},
			ProjectID:  "proj1",
			OnBehalfOf: &delegate,
		}
		resource := fhir.Resource{"resourceType": "Patient"}
		if err := stampCreate(req, resource, time.Now().UTC()); err == nil {
			t.Error("delegation without admin membership must fail")
		}
	})
}
