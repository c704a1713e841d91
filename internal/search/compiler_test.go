package search

import (
	"regexp"
	"strconv"
	"strings"
	"testing"
)

func newTestCompiler() *Compiler {
	return NewCompiler(DefaultRegistry(), 20, 100)
}

var placeholderPattern = regexp.MustCompile(`\$(\d+)`)

// checkPlaceholders verifies that the highest placeholder index matches
// the argument count and that no index is skipped.
func checkPlaceholders(t *testing.T, q *Query) {
	t.Helper()
	seen := make(map[int]bool)
	max := 0
	for _, m := range placeholderPattern.FindAllStringSubmatch(q.SQL, -1) {
		n, _ := strconv.Atoi(m[1])
		seen[n] = true
		if n > max {
			max = n
		}
	}
	if max != len(q.Args) {
		t.Errorf("highest placeholder $%d does not match %d args\nsql: %s", max, len(q.Args), q.SQL)
	}
	for i := 1; i <= max; i++ {
		if !seen[i] {
			t.Errorf("placeholder $%d is skipped\nsql: %s", i, q.SQL)
		}
	}
}

func TestCompileBasic(t *testing.T) {
	c := newTestCompiler()
	req := &SearchRequest{
		ResourceType: "Patient",
		Filters:      []Filter{{Code: "gender", Operator: OpEquals, Value: "male"}},
	}
	q, err := c.Compile(req, Scope{ProjectID: "p1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checkPlaceholders(t, q)
	for _, want := range []string{
		"SELECT r.content FROM resource r WHERE",
		"r.resource_type = $1",
		"r.deleted = FALSE",
		"r.project_id = $2",
		"r.content->>'gender' = $3",
		"ORDER BY r.last_updated DESC, r.id",
		"LIMIT $4 OFFSET $5",
	} {
		if !strings.Contains(q.SQL, want) {
			t.Errorf("missing %q in sql: %s", want, q.SQL)
		}
	}
	if q.Limit != 20 {
		t.Errorf("expected default page size 20, got %d", q.Limit)
	}
	// one extra row is fetched for next-link detection
	if q.Args[3] != 21 {
		t.Errorf("expected limit arg 21, got %v", q.Args[3])
	}
	if q.Args[0] != "Patient" || q.Args[1] != "p1" || q.Args[2] != "male" {
		t.Errorf("unexpected args: %v", q.Args)
	}
}

func TestCompileUnknownParameter(t *testing.T) {
	c := newTestCompiler()
	req := &SearchRequest{
		ResourceType: "Patient",
		Filters:      []Filter{{Code: "basedOn", Operator: OpEquals, Value: "x"}},
	}
	_, err := c.Compile(req, Scope{})
	if err == nil {
		t.Fatal("expected error for unknown parameter")
	}
	if !strings.Contains(err.Error(), "Unknown search parameter") {
		t.Errorf("expected unknown-parameter diagnostics, got %v", err)
	}
	if !strings.Contains(err.Error(), "basedOn") {
		t.Errorf("diagnostics must name the offending code, got %v", err)
	}
}

func TestCompileTokenLookupCommaOr(t *testing.T) {
	c := newTestCompiler()
	req := &SearchRequest{
		ResourceType: "Observation",
		Filters:      []Filter{{Code: "code", Operator: OpEquals, Value: "http://loinc.org|8480-6,8462-4"}},
	}
	q, err := c.Compile(req, Scope{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checkPlaceholders(t, q)
	if !strings.Contains(q.SQL, "EXISTS (SELECT 1 FROM coding_idx t") {
		t.Errorf("expected coding_idx subquery, got %s", q.SQL)
	}
	if !strings.Contains(q.SQL, " OR ") {
		t.Errorf("comma alternatives must OR together, got %s", q.SQL)
	}
	found := 0
	for _, a := range q.Args {
		switch a {
		case "http://loinc.org", "8480-6", "8462-4":
			found++
		}
	}
	if found != 3 {
		t.Errorf("expected system and both codes bound as args, got %v", q.Args)
	}
}

func TestCompileRepeatedFiltersAnd(t *testing.T) {
	c := newTestCompiler()
	req := &SearchRequest{
		ResourceType: "Observation",
		Filters: []Filter{
			{Code: "date", Operator: OpGreaterThanOrEquals, Value: "2024-01-01"},
			{Code: "date", Operator: OpLessThan, Value: "2025-01-01"},
		},
	}
	q, err := c.Compile(req, Scope{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checkPlaceholders(t, q)
	if strings.Count(q.SQL, "effectiveDateTime") != 2 {
		t.Errorf("expected both date filters compiled, got %s", q.SQL)
	}
}

func TestCompileNotLookup(t *testing.T) {
	c := newTestCompiler()
	req := &SearchRequest{
		ResourceType: "Observation",
		Filters:      []Filter{{Code: "code", Operator: OpNotEquals, Value: "8480-6"}},
	}
	q, err := c.Compile(req, Scope{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(q.SQL, "NOT EXISTS (SELECT 1 FROM coding_idx t") {
		t.Errorf("expected NOT EXISTS for :not on lookup parameter, got %s", q.SQL)
	}
}

func TestCompileNotScalar(t *testing.T) {
	c := newTestCompiler()
	req := &SearchRequest{
		ResourceType: "Observation",
		Filters:      []Filter{{Code: "status", Operator: OpNotEquals, Value: "final"}},
	}
	q, err := c.Compile(req, Scope{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// rows without the field still match :not
	if !strings.Contains(q.SQL, "r.content->>'status' IS DISTINCT FROM $") {
		t.Errorf("expected IS DISTINCT FROM for scalar :not, got %s", q.SQL)
	}
}

func TestCompileMissing(t *testing.T) {
	c := newTestCompiler()

	t.Run("jsonb true", func(t *testing.T) {
		req := &SearchRequest{
			ResourceType: "Patient",
			Filters:      []Filter{{Code: "gender", Operator: OpMissing, Value: "true"}},
		}
		q, err := c.Compile(req, Scope{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(q.SQL, "r.content->>'gender' IS NULL") {
			t.Errorf("expected IS NULL, got %s", q.SQL)
		}
	})

	t.Run("lookup false", func(t *testing.T) {
		req := &SearchRequest{
			ResourceType: "Patient",
			Filters:      []Filter{{Code: "identifier", Operator: OpMissing, Value: "false"}},
		}
		q, err := c.Compile(req, Scope{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(q.SQL, "EXISTS (SELECT 1 FROM identifier_idx t") {
			t.Errorf("expected EXISTS on identifier_idx, got %s", q.SQL)
		}
	})

	t.Run("bad value", func(t *testing.T) {
		req := &SearchRequest{
			ResourceType: "Patient",
			Filters:      []Filter{{Code: "gender", Operator: OpMissing, Value: "yes"}},
		}
		if _, err := c.Compile(req, Scope{}); err == nil {
			t.Error("expected error for invalid :missing value")
		}
	})
}

func TestCompileSort(t *testing.T) {
	c := newTestCompiler()

	req := &SearchRequest{
		ResourceType: "Patient",
		Sort:         []SortRule{{Code: "birthdate", Descending: true}},
	}
	q, err := c.Compile(req, Scope{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(q.SQL, "ORDER BY r.content->>'birthDate' DESC, r.id") {
		t.Errorf("unexpected order by: %s", q.SQL)
	}

	req.Sort = []SortRule{{Code: "identifier"}}
	if _, err := c.Compile(req, Scope{}); err == nil {
		t.Error("expected error sorting by lookup parameter")
	}
}

func TestCompileCompartmentScope(t *testing.T) {
	c := newTestCompiler()
	req := &SearchRequest{ResourceType: "Observation"}
	q, err := c.Compile(req, Scope{Compartment: "Patient/p1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checkPlaceholders(t, q)
	if !strings.Contains(q.SQL, "= ANY(r.compartments)") {
		t.Errorf("expected compartment predicate, got %s", q.SQL)
	}
}

func TestCompileCount(t *testing.T) {
	c := newTestCompiler()
	req := &SearchRequest{
		ResourceType: "Patient",
		Filters:      []Filter{{Code: "gender", Operator: OpEquals, Value: "female"}},
	}
	q, err := c.CompileCount(req, Scope{ProjectID: "p1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checkPlaceholders(t, q)
	if !strings.HasPrefix(q.SQL, "SELECT COUNT(*) FROM resource r WHERE") {
		t.Errorf("unexpected count sql: %s", q.SQL)
	}
	if strings.Contains(q.SQL, "LIMIT") || strings.Contains(q.SQL, "ORDER BY") {
		t.Errorf("count query must not order or paginate: %s", q.SQL)
	}
}

func TestCompileEstimate(t *testing.T) {
	c := newTestCompiler()
	req := &SearchRequest{ResourceType: "Patient"}
	q, err := c.CompileEstimate(req, Scope{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(q.SQL, "EXPLAIN (FORMAT JSON)") {
		t.Errorf("unexpected estimate sql: %s", q.SQL)
	}
}

func TestPageSize(t *testing.T) {
	c := newTestCompiler()
	tests := []struct {
		name string
		req  SearchRequest
		want int
	}{
		{"default", SearchRequest{}, 20},
		{"explicit", SearchRequest{Count: 5, CountSet: true}, 5},
		{"zero", SearchRequest{Count: 0, CountSet: true}, 0},
		{"clamped", SearchRequest{Count: 5000, CountSet: true}, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.PageSize(&tt.req); got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCompileNotDateIncludesAbsent(t *testing.T) {
	c := newTestCompiler()
	req := &SearchRequest{
		ResourceType: "Patient",
		Filters:      []Filter{{Code: "birthdate", Operator: OpNotEquals, Value: "1990"}},
	}
	q, err := c.Compile(req, Scope{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checkPlaceholders(t, q)
	if !strings.Contains(q.SQL, "(r.content->>'birthDate')::timestamptz IS NULL OR") {
		t.Errorf("date ne must match resources without the value: %s", q.SQL)
	}
}

func TestCompileNotNumberIncludesAbsent(t *testing.T) {
	c := newTestCompiler()
	req := &SearchRequest{
		ResourceType: "Observation",
		Filters:      []Filter{{Code: "value-quantity", Operator: OpNotEquals, Value: "2.5"}},
	}
	q, err := c.Compile(req, Scope{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checkPlaceholders(t, q)
	if !strings.Contains(q.SQL, "r.content #>> '{valueQuantity,value}' IS NULL OR") {
		t.Errorf("number ne must match resources without the value: %s", q.SQL)
	}
}

func TestCompileExactStringArray(t *testing.T) {
	c := newTestCompiler()
	req := &SearchRequest{
		ResourceType: "Patient",
		Filters:      []Filter{{Code: "name", Operator: OpExact, Value: "Smith"}},
	}
	q, err := c.Compile(req, Scope{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checkPlaceholders(t, q)
	if !strings.Contains(q.SQL, "el #>> '{}' = $") {
		t.Errorf("exact array match must compare the element text verbatim: %s", q.SQL)
	}
	if strings.Contains(q.SQL, "LIKE") {
		t.Errorf("exact match must not use pattern matching: %s", q.SQL)
	}
}
