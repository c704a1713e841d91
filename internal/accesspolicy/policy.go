// Package accesspolicy narrows repository operations according to the
// requester's effective access policy. Policies are resolved from project
// membership per request and never persisted as derived state.
package accesspolicy

import (
	"fmt"
	"net/url"

	"github.com/fhirstack/fhirstack/internal/platform/fhir"
	"github.com/fhirstack/fhirstack/internal/search"
)

// Action is the repository operation class being authorized.
type Action int

const (
	ActionRead Action = iota
	ActionSearch
	ActionCreate
	ActionUpdate
	ActionDelete
)

func (a Action) isWrite() bool {
	return a == ActionCreate || a == ActionUpdate || a == ActionDelete
}

func (a Action) String() string {
	switch a {
	case ActionRead:
		return "read"
	case ActionSearch:
		return "search"
	case ActionCreate:
		return "create"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	}
	return "unknown"
}

// Rule grants access to one resource type. The zero Compartment and
// Criteria impose no row-level restriction.
type Rule struct {
	// ResourceType names the granted type. "*" grants all types.
	ResourceType string

	// ReadOnly permits read and search but rejects writes.
	ReadOnly bool

	// Compartment restricts all matching rows to one compartment
	// reference, e.g. "Patient/123".
	Compartment string

	// Criteria is an optional query-string filter (e.g. "status=active")
	// folded into every search and checked on direct access.
	Criteria string
}

// Policy is the allow-list of rules for a requester. A type not named by
// any rule is inaccessible.
type Policy struct {
	Rules []Rule
}

// Constraint is the row-level narrowing produced by a granted rule: a
// compartment reference for the compiler's scope and extra filters from
// the rule's criteria.
type Constraint struct {
	Compartment string
	Filters     []search.Filter
}

// ruleFor finds the most specific rule for a resource type: an exact
// match wins over the wildcard.
func (p *Policy) ruleFor(resourceType string) (Rule, bool) {
	var wildcard Rule
	haveWildcard := false
	for _, r := range p.Rules {
		if r.ResourceType == resourceType {
			return r, true
		}
		if r.ResourceType == "*" {
			wildcard = r
			haveWildcard = true
		}
	}
	return wildcard, haveWildcard
}

// Evaluate authorizes an operation on a resource type. A nil policy means
// the requester is unrestricted within their project. A non-nil policy is
// default-deny: types outside the allow-list are forbidden, and ReadOnly
// rules reject writes.
func Evaluate(policy *Policy, action Action, resourceType string) (Constraint, error) {
	if policy == nil {
		return Constraint{}, nil
	}
	rule, ok := policy.ruleFor(resourceType)
	if !ok {
		return Constraint{}, fhir.ErrorForbidden(
			fmt.Sprintf("Access denied for resource type %s", resourceType))
	}
	if rule.ReadOnly && action.isWrite() {
		return Constraint{}, fhir.ErrorForbidden(
			fmt.Sprintf("Cannot %s read-only resource type %s", action, resourceType))
	}
	c := Constraint{Compartment: rule.Compartment}
	if rule.Criteria != "" {
		values, err := url.ParseQuery(rule.Criteria)
		if err != nil {
			return Constraint{}, fhir.ErrorInvalid("Invalid access policy criteria: " + rule.Criteria)
		}
		req, err := search.ParseQuery(resourceType, values)
		if err != nil {
			return Constraint{}, err
		}
		c.Filters = req.Filters
	}
	return c, nil
}

// CheckResource verifies a fetched or to-be-written resource against the
// constraint's compartment. Write-time mismatch is an authorization
// failure, never a silent bypass.
func (c Constraint) CheckResource(resource fhir.Resource) error {
	if c.Compartment == "" {
		return nil
	}
	meta := resource.Meta()
	for _, ref := range meta.Compartment {
		if ref.Reference == c.Compartment {
			return nil
		}
	}
	return fhir.ErrorForbidden(
		fmt.Sprintf("Resource is outside compartment %s", c.Compartment))
}
