package fhir

import (
	"encoding/json"
	"fmt"
	"time"
)

// Bundle represents a FHIR Bundle resource.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id,omitempty"`
	Type         string        `json:"type"`
	Total        *int          `json:"total,omitempty"`
	Link         []BundleLink  `json:"link,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
	Timestamp    *time.Time    `json:"timestamp,omitempty"`
}

type BundleLink struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}

type BundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
	Search   *BundleSearch   `json:"search,omitempty"`
	Request  *BundleRequest  `json:"request,omitempty"`
	Response *BundleResponse `json:"response,omitempty"`
}

type BundleSearch struct {
	Mode  string   `json:"mode,omitempty"`
	Score *float64 `json:"score,omitempty"`
}

type BundleRequest struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

type BundleResponse struct {
	Status       string      `json:"status"`
	Location     string      `json:"location,omitempty"`
	ETag         string      `json:"etag,omitempty"`
	LastModified *time.Time  `json:"lastModified,omitempty"`
	Outcome      interface{} `json:"outcome,omitempty"`
}

// SearchBundleParams holds pagination and link information for a searchset
// Bundle. HasMore is decided by the repository's count+1 fetch: it is true
// when a row beyond the requested page existed and was discarded.
type SearchBundleParams struct {
	BaseURL      string
	ResourceType string
	QueryStr     string
	Count        int
	Offset       int
	Total        *int
	HasMore      bool
}

// NewSearchBundle creates a searchset Bundle from matched resources.
// Total is included only when a total mode requested it. The next link is
// present iff HasMore; the previous link iff the page is not the first.
func NewSearchBundle(resources []Resource, params SearchBundleParams) *Bundle {
	now := time.Now().UTC()
	entries := make([]BundleEntry, len(resources))
	for i, r := range resources {
		raw, _ := json.Marshal(r)
		fullURL := ""
		if r.Type() != "" && r.ID() != "" {
			fullURL = fmt.Sprintf("%s/%s/%s", params.BaseURL, r.Type(), r.ID())
		}
		entries[i] = BundleEntry{
			FullURL:  fullURL,
			Resource: raw,
			Search:   &BundleSearch{Mode: "match"},
		}
	}

	bundle := &Bundle{
		ResourceType: "Bundle",
		Type:         "searchset",
		Total:        params.Total,
		Timestamp:    &now,
		Link:         buildPaginationLinks(params),
	}
	if len(entries) > 0 {
		bundle.Entry = entries
	}
	return bundle
}

// buildPaginationLinks creates self, next, and previous links.
func buildPaginationLinks(params SearchBundleParams) []BundleLink {
	links := []BundleLink{
		{
			Relation: "self",
			URL:      pageURL(params, params.Offset),
		},
	}

	if params.HasMore && params.Count > 0 {
		links = append(links, BundleLink{
			Relation: "next",
			URL:      pageURL(params, params.Offset+params.Count),
		})
	}

	if params.Offset > 0 {
		prev := params.Offset - params.Count
		if prev < 0 {
			prev = 0
		}
		links = append(links, BundleLink{
			Relation: "previous",
			URL:      pageURL(params, prev),
		})
	}

	return links
}

func pageURL(params SearchBundleParams, offset int) string {
	base := params.BaseURL
	if params.ResourceType != "" {
		base += "/" + params.ResourceType
	}
	qs := params.QueryStr
	if qs != "" {
		qs += "&"
	}
	return fmt.Sprintf("%s?%s_count=%d&_offset=%d", base, qs, params.Count, offset)
}

// NewHistoryBundle creates a history Bundle from version entries,
// newest-first. Tombstone versions carry no body and a DELETE request.
func NewHistoryBundle(entries []BundleEntry, total int) *Bundle {
	now := time.Now().UTC()
	return &Bundle{
		ResourceType: "Bundle",
		Type:         "history",
		Total:        &total,
		Timestamp:    &now,
		Entry:        entries,
	}
}

// NewTransactionResponse creates a transaction-response Bundle.
func NewTransactionResponse(entries []BundleEntry) *Bundle {
	now := time.Now().UTC()
	return &Bundle{
		ResourceType: "Bundle",
		Type:         "transaction-response",
		Timestamp:    &now,
		Entry:        entries,
	}
}

// NewBatchResponse creates a batch-response Bundle.
func NewBatchResponse(entries []BundleEntry) *Bundle {
	now := time.Now().UTC()
	return &Bundle{
		ResourceType: "Bundle",
		Type:         "batch-response",
		Timestamp:    &now,
		Entry:        entries,
	}
}
