package engine

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/shaiso/stepflow/internal/document"
)

func TestBuildInput_LiteralsAndReferences(t *testing.T) {
	doc := map[string]any{"body": "text", "message": "Hello world"}

	ctx := NewExecutionContext(uuid.New(), "main", doc)
	ctx.EnterState("Parallel Task")

	params := map[string]any{
		"parallel_no":    1.0,
		"first_result.$": "$",
		"message.$":      "$.message",
		"context_name.$": "$$.State.Name",
		"const_value":    "ham",
		"ignore_value":   "ignore",
	}

	got, err := BuildInput(doc, "", params, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := map[string]any{
		"parallel_no":  1.0,
		"first_result": doc,
		"message":      "Hello world",
		"context_name": "Parallel Task",
		"const_value":  "ham",
		"ignore_value": "ignore",
	}
	if !document.Equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestBuildInput_NoParametersIsSelect(t *testing.T) {
	doc := map[string]any{"a": map[string]any{"b": 1.0}}

	got, err := BuildInput(doc, "$.a", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !document.Equal(got, map[string]any{"b": 1.0}) {
		t.Errorf("unexpected input: %v", got)
	}
}

func TestBuildInput_NestedTemplates(t *testing.T) {
	doc := map[string]any{"id": "42", "tags": []any{"x"}}

	params := map[string]any{
		"outer": map[string]any{
			"id.$":  "$.id",
			"fixed": 1.0,
		},
		"list": []any{
			map[string]any{"first.$": "$.tags[0]"},
			"literal",
		},
	}

	got, err := BuildInput(doc, "$", params, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := map[string]any{
		"outer": map[string]any{"id": "42", "fixed": 1.0},
		"list":  []any{map[string]any{"first": "x"}, "literal"},
	}
	if !document.Equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestBuildInput_ResolvedValuesAreCopies(t *testing.T) {
	inner := map[string]any{"k": "v"}
	doc := map[string]any{"inner": inner}

	got, err := BuildInput(doc, "$", map[string]any{"copy.$": "$.inner"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got.(map[string]any)["copy"].(map[string]any)["k"] = "changed"
	if inner["k"] != "v" {
		t.Error("resolved reference shares structure with the source document")
	}
}

func TestBuildInput_Errors(t *testing.T) {
	doc := map[string]any{"a": 1.0}

	tests := []struct {
		name    string
		params  map[string]any
		wantErr error
	}{
		{"unresolved reference", map[string]any{"x.$": "$.missing"}, ErrPathUnresolved},
		{"malformed reference", map[string]any{"x.$": "$.."}, ErrPathSyntax},
		{"non-string reference", map[string]any{"x.$": 1.0}, ErrPathSyntax},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildInput(doc, "$", tt.params, nil)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestExecutionContext_Document(t *testing.T) {
	id := uuid.New()
	ctx := NewExecutionContext(id, "sub", map[string]any{"x": 1.0})
	ctx.EnterState("Second Task")
	ctx.SetRetryCount(2)

	doc := ctx.Document()

	name, err := Select(doc, "$.State.Name")
	if err != nil || name != "Second Task" {
		t.Errorf("expected State.Name=Second Task, got %v (%v)", name, err)
	}
	execID, err := Select(doc, "$.Execution.Id")
	if err != nil || execID != id.String() {
		t.Errorf("expected Execution.Id=%s, got %v (%v)", id, execID, err)
	}
	retry, err := Select(doc, "$.State.RetryCount")
	if err != nil || retry != 2.0 {
		t.Errorf("expected RetryCount=2, got %v (%v)", retry, err)
	}

	ctx.EnterState("Third Task")
	retry, _ = Select(ctx.Document(), "$.State.RetryCount")
	if retry != 0.0 {
		t.Errorf("expected RetryCount reset to 0, got %v", retry)
	}
}
