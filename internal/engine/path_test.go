package engine

import (
	"errors"
	"testing"

	"github.com/shaiso/stepflow/internal/document"
)

func sampleDoc() map[string]any {
	return map[string]any{
		"message": "Hello world",
		"nested": map[string]any{
			"value": 1.0,
			"list":  []any{"a", "b", "c"},
		},
		"odd key": true,
	}
}

// --- ParsePath Tests ---

func TestParsePath_Valid(t *testing.T) {
	tests := []string{
		"$",
		"$$",
		"$.message",
		"$.nested.value",
		"$.nested.list[2]",
		"$['odd key']",
		"$[\"odd key\"]",
		"$['message', 'nested']",
		"$$.State.Name",
		"$.nested['list'][0]",
	}

	for _, raw := range tests {
		t.Run(raw, func(t *testing.T) {
			p, err := ParsePath(raw)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.String() != raw {
				t.Errorf("expected String()=%q, got %q", raw, p.String())
			}
		})
	}
}

func TestParsePath_SyntaxErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"no dollar", "message"},
		{"empty", ""},
		{"trailing dot", "$."},
		{"double dot", "$..a"},
		{"unterminated bracket", "$['a'"},
		{"unterminated quote", "$['a]"},
		{"bad index", "$[x]"},
		{"garbage after root", "$abc"},
		{"projection not last", "$['a','b'].c"},
		{"empty quoted name", "$['']"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePath(tt.raw)
			if err == nil {
				t.Fatal("expected error, got nil")
			}

			var pErr *PathError
			if !errors.As(err, &pErr) {
				t.Fatalf("expected PathError, got %T", err)
			}
			if !errors.Is(err, ErrPathSyntax) {
				t.Errorf("expected ErrPathSyntax, got %v", err)
			}
		})
	}
}

// --- Select Tests ---

func TestSelect_Identity(t *testing.T) {
	docs := []any{
		sampleDoc(),
		[]any{1.0, "two"},
		"scalar",
		nil,
		3.5,
	}

	for _, doc := range docs {
		got, err := Select(doc, "$")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !document.Equal(got, doc) {
			t.Errorf("select($) = %v, want %v", got, doc)
		}
	}
}

func TestSelect_Fields(t *testing.T) {
	doc := sampleDoc()

	tests := []struct {
		path string
		want any
	}{
		{"$.message", "Hello world"},
		{"$.nested.value", 1.0},
		{"$.nested.list[1]", "b"},
		{"$['odd key']", true},
		{"$.nested['list'][0]", "a"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := Select(doc, tt.path)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !document.Equal(got, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestSelect_ProjectionBestEffort(t *testing.T) {
	doc := map[string]any{"a": 1.0, "b": 2.0, "c": 3.0}

	got, err := Select(doc, "$['a','zz','c']")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := map[string]any{"a": 1.0, "c": 3.0}
	if !document.Equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestSelect_ProjectionAllMissing(t *testing.T) {
	got, err := Select(map[string]any{"a": 1.0}, "$['x','y']")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !document.Equal(got, map[string]any{}) {
		t.Errorf("expected empty object, got %v", got)
	}
}

func TestSelect_Unresolved(t *testing.T) {
	doc := sampleDoc()

	tests := []struct {
		name string
		path string
	}{
		{"missing field", "$.missing"},
		{"field of scalar", "$.message.length"},
		{"index out of range", "$.nested.list[10]"},
		{"index on object", "$.nested[0]"},
		{"projection on array", "$.nested.list['a','b']"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Select(doc, tt.path)
			if !errors.Is(err, ErrPathUnresolved) {
				t.Errorf("expected ErrPathUnresolved, got %v", err)
			}
		})
	}
}

func TestSelect_ContextPathOnContextDocument(t *testing.T) {
	ctxDoc := map[string]any{"State": map[string]any{"Name": "Parallel Task"}}

	got, err := Select(ctxDoc, "$$.State.Name")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Parallel Task" {
		t.Errorf("expected 'Parallel Task', got %v", got)
	}
}

// --- Merge Tests ---

func TestMerge_RootReplaces(t *testing.T) {
	got, err := Merge(sampleDoc(), "$", "replacement")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "replacement" {
		t.Errorf("expected replacement, got %v", got)
	}
}

func TestMerge_SetsFieldWithoutMutating(t *testing.T) {
	orig := sampleDoc()

	got, err := Merge(orig, "$.result", map[string]any{"ok": true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m := got.(map[string]any)
	if !document.Equal(m["result"], map[string]any{"ok": true}) {
		t.Errorf("expected result to be set, got %v", m["result"])
	}
	if m["message"] != "Hello world" {
		t.Errorf("expected other fields preserved, got %v", m["message"])
	}
	if _, exists := orig["result"]; exists {
		t.Error("original document was modified")
	}
}

func TestMerge_CreatesIntermediateObjects(t *testing.T) {
	got, err := Merge(map[string]any{}, "$.a.b.c", 1.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := map[string]any{"a": map[string]any{"b": map[string]any{"c": 1.0}}}
	if !document.Equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestMerge_NestedCopyOnWrite(t *testing.T) {
	orig := sampleDoc()

	if _, err := Merge(orig, "$.nested.value", 42.0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if orig["nested"].(map[string]any)["value"] != 1.0 {
		t.Error("nested object of original was modified")
	}
}

func TestMerge_Errors(t *testing.T) {
	tests := []struct {
		name    string
		doc     any
		path    string
		wantErr error
	}{
		{"into scalar", map[string]any{"message": "x"}, "$.message.inner", ErrPathUnresolved},
		{"index segment", map[string]any{}, "$.list[0]", ErrPathSyntax},
		{"projection", map[string]any{}, "$['a','b']", ErrPathSyntax},
		{"context path", map[string]any{}, "$$.State", ErrPathSyntax},
		{"malformed", map[string]any{}, "$.", ErrPathSyntax},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Merge(tt.doc, tt.path, 1.0)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestParsePath_NotRetained(t *testing.T) {
	first, err := ParsePath("$.order.id")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, _ := ParsePath("$.order.id")
	if first == second {
		t.Error("parsed paths must not be shared through a global cache")
	}
	if first.String() != second.String() {
		t.Errorf("String() = %q and %q", first.String(), second.String())
	}
}
