package document

import (
	"encoding/json"
	"testing"
)

// --- Normalize Tests ---

func TestNormalize_Struct(t *testing.T) {
	type payload struct {
		Message string `json:"message"`
		Count   int    `json:"count"`
	}

	doc, err := Normalize(payload{Message: "hi", Count: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m, ok := doc.(map[string]any)
	if !ok {
		t.Fatalf("expected map, got %T", doc)
	}
	if m["message"] != "hi" {
		t.Errorf("expected message=hi, got %v", m["message"])
	}
	if m["count"] != float64(3) {
		t.Errorf("expected count=3 as float64, got %v (%T)", m["count"], m["count"])
	}
}

func TestNormalize_CanonicalUnchanged(t *testing.T) {
	in := map[string]any{"a": []any{1.0, "x", nil, true}}

	doc, err := Normalize(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !Equal(doc, in) {
		t.Errorf("expected %v, got %v", in, doc)
	}
}

func TestNormalize_Unsupported(t *testing.T) {
	if _, err := Normalize(make(chan int)); err == nil {
		t.Fatal("expected error for channel")
	}
}

// --- Clone Tests ---

func TestClone_Independent(t *testing.T) {
	orig := map[string]any{
		"nested": map[string]any{"k": "v"},
		"list":   []any{"a", "b"},
	}

	cp := Clone(orig).(map[string]any)
	cp["nested"].(map[string]any)["k"] = "changed"
	cp["list"].([]any)[0] = "z"

	if orig["nested"].(map[string]any)["k"] != "v" {
		t.Error("nested map of original was modified")
	}
	if orig["list"].([]any)[0] != "a" {
		t.Error("list of original was modified")
	}
}

// --- Equal Tests ---

func TestEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{"int vs float", map[string]any{"n": 1}, map[string]any{"n": 1.0}, true},
		{"different values", map[string]any{"n": 1}, map[string]any{"n": 2}, false},
		{"nil", nil, nil, true},
		{"array order", []any{1, 2}, []any{2, 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Equal(tt.a, tt.b); got != tt.want {
				t.Errorf("Equal(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestDecode_Empty(t *testing.T) {
	doc, err := Decode([]byte("  "))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc != nil {
		t.Errorf("expected nil, got %v", doc)
	}
}

func TestDecode_LargeIntegersExact(t *testing.T) {
	doc, err := Decode([]byte(`{"order_id": 9007199254740993, "neg": -12345678901234567890, "qty": 2, "ratio": 0.5, "edge": 9007199254740992}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := doc.(map[string]any)

	if m["order_id"] != json.Number("9007199254740993") {
		t.Errorf("order_id = %#v, want exact json.Number", m["order_id"])
	}
	if m["neg"] != json.Number("-12345678901234567890") {
		t.Errorf("neg = %#v, want exact json.Number", m["neg"])
	}
	if m["qty"] != float64(2) || m["ratio"] != 0.5 || m["edge"] != float64(9007199254740992) {
		t.Errorf("small numbers must stay float64: %#v", m)
	}

	want := `{"edge":9007199254740992,"neg":-12345678901234567890,"order_id":9007199254740993,"qty":2,"ratio":0.5}`
	if got := String(doc); got != want {
		t.Errorf("String() = %s, want %s", got, want)
	}
}

func TestNormalize_Numbers(t *testing.T) {
	doc, err := Normalize(map[string]any{
		"big":   int64(9007199254740993),
		"small": json.Number("7"),
		"exact": json.Number("9007199254740993"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := doc.(map[string]any)
	if m["big"] != json.Number("9007199254740993") || m["exact"] != json.Number("9007199254740993") {
		t.Errorf("large integers lost precision: %#v", m)
	}
	if m["small"] != float64(7) {
		t.Errorf("small = %#v, want float64(7)", m["small"])
	}

	if !Equal(Clone(doc), doc) {
		t.Error("clone of a document with exact integers must be equal")
	}
}

func TestUnmarshal_TrailingData(t *testing.T) {
	var v any
	if err := Unmarshal([]byte(`{"a":1} {"b":2}`), &v); err == nil {
		t.Error("expected error for trailing data")
	}
	if err := Unmarshal([]byte(`{"a":1}`+"\n"), &v); err != nil {
		t.Errorf("trailing whitespace: %v", err)
	}
}
