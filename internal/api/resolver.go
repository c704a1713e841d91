package api

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/fhirstack/fhirstack/internal/platform/fhir"
	"github.com/fhirstack/fhirstack/internal/repo"
	"github.com/fhirstack/fhirstack/internal/search"
)

// repoResolver backs the GraphQL engine with repository reads and
// searches. The requester travels in the context, so every resolution is
// subject to the same authorization as a REST call.
type repoResolver struct {
	repo    *repo.Repository
	baseURL string
}

func (r *repoResolver) ResolveByID(ctx context.Context, resourceType, id string) (map[string]interface{}, error) {
	req := repo.RequesterFromContext(ctx)
	if req == nil {
		return nil, fhir.ErrorUnauthorized("Not authenticated")
	}
	resource, err := r.repo.ReadResource(ctx, req, resourceType, id)
	if err != nil {
		return nil, err
	}
	return resource, nil
}

func (r *repoResolver) ResolveSearch(ctx context.Context, resourceType string, params map[string]string, limit int) ([]map[string]interface{}, error) {
	req := repo.RequesterFromContext(ctx)
	if req == nil {
		return nil, fhir.ErrorUnauthorized("Not authenticated")
	}
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	values.Set("_count", strconv.Itoa(limit))
	sr, err := search.ParseQuery(resourceType, values)
	if err != nil {
		return nil, err
	}
	bundle, err := r.repo.Search(ctx, req, sr, r.baseURL)
	if err != nil {
		return nil, err
	}

	out := make([]map[string]interface{}, 0, len(bundle.Entry))
	for _, entry := range bundle.Entry {
		var resource map[string]interface{}
		if err := json.Unmarshal(entry.Resource, &resource); err != nil {
			return nil, err
		}
		out = append(out, resource)
	}
	return out, nil
}
