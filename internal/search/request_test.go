package search

import (
	"net/url"
	"testing"
)

func TestParseQueryControlParams(t *testing.T) {
	values := url.Values{}
	values.Set("_count", "50")
	values.Set("_offset", "100")
	values.Set("_sort", "-_lastUpdated,name")
	values.Set("_total", "accurate")

	req, err := ParseQuery("Patient", values)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Count != 50 || !req.CountSet {
		t.Errorf("expected count 50 (set), got %d set=%v", req.Count, req.CountSet)
	}
	if req.Offset != 100 {
		t.Errorf("expected offset 100, got %d", req.Offset)
	}
	if len(req.Sort) != 2 {
		t.Fatalf("expected 2 sort rules, got %d", len(req.Sort))
	}
	if req.Sort[0].Code != "_lastUpdated" || !req.Sort[0].Descending {
		t.Errorf("expected descending _lastUpdated, got %+v", req.Sort[0])
	}
	if req.Sort[1].Code != "name" || req.Sort[1].Descending {
		t.Errorf("expected ascending name, got %+v", req.Sort[1])
	}
	if req.Total != TotalAccurate {
		t.Errorf("expected total accurate, got %q", req.Total)
	}
	if len(req.Filters) != 0 {
		t.Errorf("control params must not produce filters, got %d", len(req.Filters))
	}
}

func TestParseQueryDefaults(t *testing.T) {
	req, err := ParseQuery("Patient", url.Values{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.CountSet {
		t.Error("count must not be marked set without _count")
	}
	if req.Total != TotalNone {
		t.Errorf("expected total none by default, got %q", req.Total)
	}
}

func TestParseQueryInvalidCount(t *testing.T) {
	for _, val := range []string{"abc", "-1"} {
		values := url.Values{}
		values.Set("_count", val)
		if _, err := ParseQuery("Patient", values); err == nil {
			t.Errorf("_count=%s: expected error", val)
		}
	}
}

func TestParseFilterModifiers(t *testing.T) {
	tests := []struct {
		key   string
		value string
		code  string
		op    Operator
		want  string
	}{
		{"gender", "male", "gender", OpEquals, "male"},
		{"gender:not", "unknown", "gender", OpNotEquals, "unknown"},
		{"name:exact", "Alice", "name", OpExact, "Alice"},
		{"name:contains", "lic", "name", OpContains, "lic"},
		{"birthdate:missing", "true", "birthdate", OpMissing, "true"},
		{"birthdate", "ge1990-01-01", "birthdate", OpGreaterThanOrEquals, "1990-01-01"},
		{"date", "lt2024-06", "date", OpLessThan, "2024-06"},
		{"code", "gt-codes", "code", OpEquals, "gt-codes"},
		{"status", "generated", "status", OpEquals, "generated"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			f := parseFilter(tt.key, tt.value)
			if f.Code != tt.code || f.Operator != tt.op || f.Value != tt.want {
				t.Errorf("got %+v, want code=%s op=%s value=%s", f, tt.code, tt.op, tt.want)
			}
		})
	}
}

func TestParseQueryRepeatedFilters(t *testing.T) {
	values := url.Values{}
	values.Add("date", "ge2024-01-01")
	values.Add("date", "lt2025-01-01")

	req, err := ParseQuery("Observation", values)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(req.Filters) != 2 {
		t.Fatalf("expected 2 filters, got %d", len(req.Filters))
	}
}
