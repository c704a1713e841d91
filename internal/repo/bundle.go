package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/fhirstack/fhirstack/internal/platform/db"
	"github.com/fhirstack/fhirstack/internal/platform/fhir"
	"github.com/fhirstack/fhirstack/internal/search"
)

// ProcessBundle executes a batch or transaction bundle. Batch entries
// succeed or fail independently; a transaction bundle runs inside one
// database transaction and any entry failure rolls back the whole bundle.
// urn:uuid fullUrl placeholders are resolved to server-assigned
// references as entries are created.
func (r *Repository) ProcessBundle(ctx context.Context, req *Requester, bundle *fhir.Bundle, baseURL string) (*fhir.Bundle, error) {
	switch bundle.Type {
	case "batch":
		entries := make([]fhir.BundleEntry, len(bundle.Entry))
		refs := make(map[string]string)
		for i, entry := range bundle.Entry {
			result, err := r.executeEntry(ctx, req, entry, refs, baseURL)
			if err != nil {
				result = errorEntry(err)
			}
			entries[i] = result
		}
		return fhir.NewBatchResponse(entries), nil

	case "transaction":
		var entries []fhir.BundleEntry
		err := r.WithTransaction(ctx, db.TxOptions{}, func(ctx context.Context) error {
			entries = make([]fhir.BundleEntry, len(bundle.Entry))
			refs := make(map[string]string)
			for i, entry := range bundle.Entry {
				result, err := r.executeEntry(ctx, req, entry, refs, baseURL)
				if err != nil {
					return err
				}
				entries[i] = result
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return fhir.NewTransactionResponse(entries), nil

	default:
		return nil, fhir.ErrorStructure("Bundle type must be batch or transaction, got " + bundle.Type)
	}
}

// executeEntry runs one bundle entry against the repository.
func (r *Repository) executeEntry(ctx context.Context, req *Requester, entry fhir.BundleEntry, refs map[string]string, baseURL string) (fhir.BundleEntry, error) {
	if entry.Request == nil {
		return fhir.BundleEntry{}, fhir.ErrorStructure("Bundle entry is missing a request")
	}
	method := strings.ToUpper(entry.Request.Method)
	target := entry.Request.URL

	switch method {
	case "POST":
		resource, err := decodeEntryResource(entry, refs)
		if err != nil {
			return fhir.BundleEntry{}, err
		}
		if resource.Type() != target {
			return fhir.BundleEntry{}, fhir.ErrorStructure(
				fmt.Sprintf("Entry resourceType %s does not match request url %s", resource.Type(), target))
		}
		created, err := r.CreateResource(ctx, req, resource)
		if err != nil {
			return fhir.BundleEntry{}, err
		}
		if strings.HasPrefix(entry.FullURL, "urn:uuid:") {
			refs[entry.FullURL] = fhir.FormatReference(created.Type(), created.ID())
		}
		return resourceEntry(created, "201 Created"), nil

	case "PUT":
		resource, err := decodeEntryResource(entry, refs)
		if err != nil {
			return fhir.BundleEntry{}, err
		}
		resourceType, id := fhir.SplitReference(target)
		if resource.Type() != resourceType || resource.ID() != id {
			return fhir.BundleEntry{}, fhir.ErrorStructure(
				"Entry resource does not match request url " + target)
		}
		updated, err := r.UpdateResource(ctx, req, resource)
		if err != nil {
			return fhir.BundleEntry{}, err
		}
		return resourceEntry(updated, "200 OK"), nil

	case "DELETE":
		resourceType, id := fhir.SplitReference(target)
		if err := r.DeleteResource(ctx, req, resourceType, id); err != nil {
			return fhir.BundleEntry{}, err
		}
		return fhir.BundleEntry{Response: &fhir.BundleResponse{Status: "204 No Content"}}, nil

	case "GET":
		return r.executeGet(ctx, req, target, baseURL)

	default:
		return fhir.BundleEntry{}, fhir.ErrorStructure("Unsupported bundle entry method " + method)
	}
}

// executeGet handles read and search entries inside a bundle.
func (r *Repository) executeGet(ctx context.Context, req *Requester, target, baseURL string) (fhir.BundleEntry, error) {
	if i := strings.Index(target, "?"); i >= 0 {
		resourceType := target[:i]
		values, err := url.ParseQuery(target[i+1:])
		if err != nil {
			return fhir.BundleEntry{}, fhir.ErrorStructure("Invalid search url " + target)
		}
		sr, err := search.ParseQuery(resourceType, values)
		if err != nil {
			return fhir.BundleEntry{}, err
		}
		result, err := r.Search(ctx, req, sr, baseURL)
		if err != nil {
			return fhir.BundleEntry{}, err
		}
		raw, _ := json.Marshal(result)
		return fhir.BundleEntry{
			Resource: raw,
			Response: &fhir.BundleResponse{Status: "200 OK"},
		}, nil
	}

	resourceType, id := fhir.SplitReference(target)
	resource, err := r.ReadResource(ctx, req, resourceType, id)
	if err != nil {
		return fhir.BundleEntry{}, err
	}
	return resourceEntry(resource, "200 OK"), nil
}

// decodeEntryResource parses the entry body after substituting resolved
// urn:uuid placeholders.
func decodeEntryResource(entry fhir.BundleEntry, refs map[string]string) (fhir.Resource, error) {
	if len(entry.Resource) == 0 {
		return nil, fhir.ErrorStructure("Bundle entry is missing a resource")
	}
	raw := string(entry.Resource)
	for placeholder, ref := range refs {
		raw = strings.ReplaceAll(raw, placeholder, ref)
	}
	resource, err := fhir.ParseResource([]byte(raw))
	if err != nil {
		return nil, fhir.ErrorStructure(err.Error())
	}
	return resource, nil
}

func resourceEntry(resource fhir.Resource, status string) fhir.BundleEntry {
	raw, _ := json.Marshal(resource)
	meta := resource.Meta()
	resp := &fhir.BundleResponse{Status: status}
	if meta.VersionID != "" {
		resp.ETag = fmt.Sprintf(`W/%q`, meta.VersionID)
	}
	if meta.LastUpdated != nil {
		resp.LastModified = meta.LastUpdated
	}
	if resource.Type() != "" && resource.ID() != "" {
		resp.Location = fhir.FormatReference(resource.Type(), resource.ID())
	}
	return fhir.BundleEntry{Resource: raw, Response: resp}
}

// errorEntry shapes a failed batch entry.
func errorEntry(err error) fhir.BundleEntry {
	outcome := fhir.OutcomeForError(err)
	return fhir.BundleEntry{
		Response: &fhir.BundleResponse{
			Status:  fmt.Sprintf("%d", fhir.StatusForError(err)),
			Outcome: outcome,
		},
	}
}
