package repo

import (
	"time"

	"github.com/fhirstack/fhirstack/internal/accesspolicy"
	"github.com/fhirstack/fhirstack/internal/platform/fhir"
)

// Requester is the authenticated identity an operation runs as. It is
// resolved by the HTTP layer from the access token and project membership
// and passed explicitly to every repository operation.
type Requester struct {
	// Author is the acting identity stamped into meta.author.
	Author fhir.Reference

	// ProjectID scopes every operation to one project. Empty only for
	// privileged requesters.
	ProjectID string

	// OnBehalfOf is the delegate a project admin acts for. Stamped into
	// meta.onBehalfOf while meta.author remains the acting identity.
	OnBehalfOf *fhir.Reference

	// Admin marks project-admin membership, required for delegation.
	Admin bool

	// Privileged marks the system actor: may assign ids, override meta
	// fields, cross projects, and trigger reindexing.
	Privileged bool

	// Policy is the effective access policy. Nil means unrestricted
	// within the project.
	Policy *accesspolicy.Policy
}

// SystemRequester returns the privileged system identity used for
// server-internal operations.
func SystemRequester() *Requester {
	return &Requester{
		Author:     fhir.Reference{Reference: "system"},
		Privileged: true,
	}
}

// stampCreate fills the meta envelope for a new resource version. A
// non-privileged requester cannot choose author, lastUpdated, or project;
// the server substitutes the real values. Delegation requires admin
// membership.
func stampCreate(r *Requester, resource fhir.Resource, now time.Time) error {
	meta := resource.Meta()

	if !r.Privileged {
		meta.Author = &r.Author
		meta.LastUpdated = &now
		meta.Project = r.ProjectID
	} else {
		if meta.Author == nil {
			meta.Author = &r.Author
		}
		if meta.LastUpdated == nil {
			meta.LastUpdated = &now
		}
		if meta.Project == "" {
			meta.Project = r.ProjectID
		}
	}

	meta.OnBehalfOf = nil
	if r.OnBehalfOf != nil {
		if !r.Admin && !r.Privileged {
			return fhir.ErrorForbidden("Delegation requires project admin membership")
		}
		meta.OnBehalfOf = r.OnBehalfOf
	}

	resource.SetMeta(meta)
	return nil
}

// canAssignID reports whether the requester may create a resource with a
// client-supplied id.
func (r *Requester) canAssignID() bool {
	return r.Privileged
}
