package graphql

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

type fakeResolver struct {
	resources map[string]map[string]interface{}
	searches  map[string][]map[string]interface{}
	reads     int
}

func (f *fakeResolver) ResolveByID(ctx context.Context, resourceType, id string) (map[string]interface{}, error) {
	f.reads++
	if r, ok := f.resources[resourceType+"/"+id]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("%s/%s not found", resourceType, id)
}

func (f *fakeResolver) ResolveSearch(ctx context.Context, resourceType string, params map[string]string, limit int) ([]map[string]interface{}, error) {
	return f.searches[resourceType], nil
}

func TestParseQueryDepthLimit(t *testing.T) {
	shallow := "{ Patient(id: \"p1\") { id } }"
	if _, err := parseQuery(shallow); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// nine nested selection sets
	deep := strings.Repeat("{ a ", 9) + "{ id }" + strings.Repeat(" }", 9)
	if _, err := parseQuery(deep); err == nil {
		t.Fatal("expected depth error")
	} else if !strings.Contains(err.Error(), "maximum depth") {
		t.Errorf("expected depth diagnostics, got %v", err)
	}

	// exactly at the limit
	atLimit := strings.Repeat("{ a ", MaxDepth-1) + "{ id }" + strings.Repeat(" }", MaxDepth-1)
	if _, err := parseQuery(atLimit); err != nil {
		t.Errorf("depth %d must be allowed, got %v", MaxDepth, err)
	}
}

func TestParseQueryArguments(t *testing.T) {
	sels, err := parseQuery(`{ ObservationList(code: "8480-6", _count: 5) { id, status } }`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sels) != 1 {
		t.Fatalf("expected 1 selection, got %d", len(sels))
	}
	sel := sels[0]
	if sel.Name != "ObservationList" {
		t.Errorf("unexpected name %q", sel.Name)
	}
	if sel.Args["code"] != "8480-6" || sel.Args["_count"] != "5" {
		t.Errorf("unexpected args %v", sel.Args)
	}
	if len(sel.Fields) != 2 || sel.Fields[0].Name != "id" || sel.Fields[1].Name != "status" {
		t.Errorf("unexpected fields %+v", sel.Fields)
	}
}

func TestExecuteSingle(t *testing.T) {
	resolver := &fakeResolver{resources: map[string]map[string]interface{}{
		"Patient/p1": {"resourceType": "Patient", "id": "p1", "gender": "female", "birthDate": "1980-01-01"},
	}}
	engine := NewEngine(resolver)

	resp := engine.Execute(context.Background(), Request{Query: `{ Patient(id: "p1") { id gender } }`})
	if len(resp.Errors) != 0 {
		t.Fatalf("unexpected errors: %+v", resp.Errors)
	}
	patient, ok := resp.Data["Patient"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected Patient in data, got %+v", resp.Data)
	}
	if patient["gender"] != "female" {
		t.Errorf("unexpected projection: %+v", patient)
	}
	if _, present := patient["birthDate"]; present {
		t.Error("unselected field must be dropped")
	}
}

func TestExecuteList(t *testing.T) {
	resolver := &fakeResolver{searches: map[string][]map[string]interface{}{
		"Observation": {
			{"resourceType": "Observation", "id": "o1", "status": "final"},
			{"resourceType": "Observation", "id": "o2", "status": "amended"},
		},
	}}
	engine := NewEngine(resolver)

	resp := engine.Execute(context.Background(), Request{Query: `{ ObservationList(status: "final") { id status } }`})
	if len(resp.Errors) != 0 {
		t.Fatalf("unexpected errors: %+v", resp.Errors)
	}
	list, ok := resp.Data["ObservationList"].([]interface{})
	if !ok || len(list) != 2 {
		t.Fatalf("expected 2 observations, got %+v", resp.Data)
	}
}

func TestExecuteNestedReference(t *testing.T) {
	resolver := &fakeResolver{resources: map[string]map[string]interface{}{
		"Observation/o1": {
			"resourceType": "Observation",
			"id":           "o1",
			"subject":      map[string]interface{}{"reference": "Patient/p1"},
		},
		"Patient/p1": {"resourceType": "Patient", "id": "p1", "gender": "male"},
	}}
	engine := NewEngine(resolver)

	resp := engine.Execute(context.Background(), Request{
		Query: `{ Observation(id: "o1") { id subject { resource { gender } } } }`,
	})
	if len(resp.Errors) != 0 {
		t.Fatalf("unexpected errors: %+v", resp.Errors)
	}
	obs := resp.Data["Observation"].(map[string]interface{})
	subject, ok := obs["subject"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected subject, got %+v", obs)
	}
	target, ok := subject["resource"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected resolved resource, got %+v", subject)
	}
	if target["gender"] != "male" {
		t.Errorf("unexpected target projection: %+v", target)
	}
}

func TestExecuteVariables(t *testing.T) {
	resolver := &fakeResolver{resources: map[string]map[string]interface{}{
		"Patient/p9": {"resourceType": "Patient", "id": "p9"},
	}}
	engine := NewEngine(resolver)

	resp := engine.Execute(context.Background(), Request{
		Query:     `{ Patient(id: $pid) { id } }`,
		Variables: map[string]interface{}{"pid": "p9"},
	})
	if len(resp.Errors) != 0 {
		t.Fatalf("unexpected errors: %+v", resp.Errors)
	}
	if resolver.reads != 1 {
		t.Errorf("expected one read, got %d", resolver.reads)
	}
}

func TestExecuteErrors(t *testing.T) {
	engine := NewEngine(&fakeResolver{})

	resp := engine.Execute(context.Background(), Request{Query: "{"})
	if len(resp.Errors) == 0 {
		t.Error("expected parse error")
	}

	resp = engine.Execute(context.Background(), Request{Query: `{ Patient(id: "missing") { id } }`})
	if len(resp.Errors) == 0 {
		t.Error("expected resolution error")
	}
	if len(resp.Errors) > 0 && resp.Errors[0].Path[0] != "Patient" {
		t.Errorf("expected error path, got %+v", resp.Errors[0])
	}
}
