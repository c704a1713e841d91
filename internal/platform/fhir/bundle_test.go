package fhir

import (
	"strings"
	"testing"
)

func TestSearchBundleNextLink(t *testing.T) {
	page := []Resource{
		{"resourceType": "Patient", "id": "p1"},
		{"resourceType": "Patient", "id": "p2"},
	}

	t.Run("next link present when more rows exist", func(t *testing.T) {
		b := NewSearchBundle(page, SearchBundleParams{
			BaseURL: "http://example.com/fhir/R4/Patient",
			Count:   2,
			HasMore: true,
		})
		if link := findLink(b, "next"); link == "" {
			t.Fatal("expected next link")
		} else if !strings.Contains(link, "_offset=2") {
			t.Errorf("next link should advance offset: %s", link)
		}
	})

	t.Run("no next link on exact page", func(t *testing.T) {
		b := NewSearchBundle(page, SearchBundleParams{
			BaseURL: "http://example.com/fhir/R4/Patient",
			Count:   2,
			HasMore: false,
		})
		if link := findLink(b, "next"); link != "" {
			t.Errorf("unexpected next link: %s", link)
		}
	})

	t.Run("previous link after first page", func(t *testing.T) {
		b := NewSearchBundle(page, SearchBundleParams{
			BaseURL: "http://example.com/fhir/R4/Patient",
			Count:   2,
			Offset:  4,
			HasMore: true,
		})
		if link := findLink(b, "previous"); !strings.Contains(link, "_offset=2") {
			t.Errorf("previous link should step back one page: %s", link)
		}
	})
}

func TestSearchBundleCountZero(t *testing.T) {
	total := 7
	b := NewSearchBundle(nil, SearchBundleParams{
		BaseURL: "http://example.com/fhir/R4/Patient",
		Count:   0,
		Total:   &total,
	})

	if b.Entry != nil {
		t.Error("count=0 should suppress entries")
	}
	if findLink(b, "self") == "" {
		t.Error("count=0 should still return a self link")
	}
	if findLink(b, "next") != "" {
		t.Error("count=0 should not produce a next link")
	}
	if b.Total == nil || *b.Total != 7 {
		t.Errorf("expected total 7, got %v", b.Total)
	}
}

func TestSearchBundleOmitsTotalByDefault(t *testing.T) {
	b := NewSearchBundle(nil, SearchBundleParams{
		BaseURL: "http://example.com/fhir/R4/Patient",
		Count:   10,
	})
	if b.Total != nil {
		t.Errorf("total should be omitted unless requested, got %v", *b.Total)
	}
}

func findLink(b *Bundle, relation string) string {
	for _, l := range b.Link {
		if l.Relation == relation {
			return l.URL
		}
	}
	return ""
}
