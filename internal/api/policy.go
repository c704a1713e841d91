package api

import (
	"context"

	"github.com/fhirstack/fhirstack/internal/accesspolicy"
	"github.com/fhirstack/fhirstack/internal/platform/auth"
	"github.com/fhirstack/fhirstack/internal/platform/fhir"
	"github.com/fhirstack/fhirstack/internal/repo"
)

// membershipPolicyResolver loads the requester's access policy from their
// ProjectMembership resource. Membership and policy are read with the
// system identity: the requester may not have read access to either.
type membershipPolicyResolver struct {
	repo *repo.Repository
}

func NewPolicyResolver(repository *repo.Repository) auth.PolicyResolver {
	return &membershipPolicyResolver{repo: repository}
}

func (r *membershipPolicyResolver) ResolvePolicy(ctx context.Context, claims *auth.Claims) (*accesspolicy.Policy, error) {
	if claims.Membership == "" {
		return nil, nil
	}
	system := repo.SystemRequester()
	membership, err := r.repo.ReadResource(ctx, system, "ProjectMembership", claims.Membership)
	if err != nil {
		return nil, fhir.ErrorForbidden("Project membership not found")
	}

	policyRef, ok := membership["accessPolicy"].(map[string]interface{})
	if !ok {
		return nil, nil
	}
	refStr, _ := policyRef["reference"].(string)
	resourceType, id := fhir.SplitReference(refStr)
	if resourceType != "AccessPolicy" || id == "" {
		return nil, nil
	}
	policyResource, err := r.repo.ReadResource(ctx, system, resourceType, id)
	if err != nil {
		return nil, fhir.ErrorForbidden("Access policy not found")
	}
	return accesspolicy.FromResource(policyResource), nil
}
