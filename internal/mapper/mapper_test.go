package mapper

import (
	"context"
	"testing"

	"tasksync.app/tasksync/internal/domain"
)

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{name: "exact after normalization", a: "priority", b: "Priority", want: 1.0},
		{name: "containment", a: "priority", b: "Task Priority", want: 0.8},
		{name: "no overlap", a: "assignee", b: "Due Date", want: 0},
		{name: "shared prefix", a: "assign", b: "assignee", want: 0.8}, // containment wins over prefix
		{name: "empty", a: "", b: "Priority", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Similarity(tt.a, tt.b); got != tt.want {
				t.Errorf("Similarity(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestProposeMapping(t *testing.T) {
	schema := []Property{
		{Name: "Priority", Type: domain.PropertySelect, Options: []string{"P1", "P2", "P3"}},
		{Name: "Assignee", Type: domain.PropertyPerson},
		{Name: "Due Date", Type: domain.PropertyDate},
	}

	mapping := ProposeMapping(schema, AIFields)

	pm, ok := mapping["priority"]
	if !ok {
		t.Fatal("priority not mapped")
	}
	if pm.Property != "Priority" || pm.PropertyType != domain.PropertySelect {
		t.Errorf("priority mapped to %+v", pm)
	}
	if pm.ValueMap["high"] != "P2" || pm.ValueMap["urgent"] != "P1" {
		t.Errorf("priority value map = %v, want high→P2 urgent→P1", pm.ValueMap)
	}

	if got := mapping["assignee"].Property; got != "Assignee" {
		t.Errorf("assignee mapped to %q", got)
	}

	// No schema property resembles routing_category; it must stay unmapped.
	if _, ok := mapping["routing_category"]; ok {
		t.Error("routing_category should be unmapped below threshold")
	}
}

func TestProposeMappingDeterministic(t *testing.T) {
	schema := []Property{
		{Name: "Priority", Type: domain.PropertySelect, Options: []string{"P1", "P2", "P3"}},
	}
	first := ProposeMapping(schema, AIFields)
	for i := 0; i < 10; i++ {
		again := ProposeMapping(schema, AIFields)
		if len(again) != len(first) {
			t.Fatalf("proposal changed between runs: %v vs %v", again, first)
		}
		for k, v := range first {
			got := again[k]
			if got.Property != v.Property {
				t.Fatalf("proposal for %q changed: %v vs %v", k, got, v)
			}
			for vk, vv := range v.ValueMap {
				if got.ValueMap[vk] != vv {
					t.Fatalf("value map for %q changed", vk)
				}
			}
		}
	}
}

func TestProposeValueMapping(t *testing.T) {
	got := ProposeValueMapping([]string{"bug", "feature", "chore"}, []string{"Bug", "Feature Request", "Maintenance"})
	if got["bug"] != "Bug" {
		t.Errorf("bug → %q, want Bug", got["bug"])
	}
	if got["feature"] != "Feature Request" {
		t.Errorf("feature → %q, want Feature Request", got["feature"])
	}
	if _, ok := got["chore"]; ok {
		t.Error("chore should have no mapping against this vocabulary")
	}
}

func TestApplySkipsUnknownFields(t *testing.T) {
	mapping := domain.FieldMapping{
		"priority": {Property: "Priority", PropertyType: domain.PropertySelect, ValueMap: map[string]string{"high": "P2"}},
		"assignee": {Property: "Assignee", PropertyType: domain.PropertyPerson},
	}

	task := domain.DetectedTask{
		Title:    "Fix login flow",
		Priority: domain.Unknown[domain.TaskPriority](),
		Assignee: domain.Unknown[string](),
	}

	props, warnings, err := Apply(context.Background(), task, mapping, nil)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(props) != 0 {
		t.Errorf("unknown fields must not populate properties, got %v", props)
	}
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}
}

func TestApplyResolvesPerson(t *testing.T) {
	mapping := domain.FieldMapping{
		"assignee": {Property: "Assignee", PropertyType: domain.PropertyPerson},
	}
	task := domain.DetectedTask{Assignee: domain.Known("alice@example.com")}

	lookup := func(ctx context.Context, id string) (string, bool, error) {
		if id == "alice@example.com" {
			return "notion-user-1", true, nil
		}
		return "", false, nil
	}

	props, warnings, err := Apply(context.Background(), task, mapping, lookup)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}
	got := props["Assignee"]
	if len(got.People) != 1 || got.People[0] != "notion-user-1" {
		t.Errorf("Assignee = %+v, want resolved person", got)
	}
}

func TestApplyUnresolvedPersonWarns(t *testing.T) {
	mapping := domain.FieldMapping{
		"assignee": {Property: "Assignee", PropertyType: domain.PropertyPerson},
	}
	task := domain.DetectedTask{Assignee: domain.Known("ghost@example.com")}

	lookup := func(ctx context.Context, id string) (string, bool, error) {
		return "", false, nil
	}

	props, warnings, err := Apply(context.Background(), task, mapping, lookup)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if _, ok := props["Assignee"]; ok {
		t.Error("unresolved identity must not populate the property")
	}
	if len(warnings) != 1 {
		t.Errorf("want one warning, got %v", warnings)
	}
}
