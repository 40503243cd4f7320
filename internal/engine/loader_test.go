package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shaiso/stepflow/internal/document"
	"github.com/shaiso/stepflow/internal/domain"
)

const subYAML = `
name: sub
start_at: Second Task
states:
  Second Task:
    type: Task
    resource: second
    input_path: "$['first_result','parallel_no','message','context_name','const_value']"
    result_path: $.second_result
    output_path: "$['second_result','parallel_no']"
    catch:
      - errors: ["*"]
        next: Error Task
    next: Third Task
  Third Task:
    type: Task
    resource: third
    result_path: $
  Error Task:
    type: Task
    resource: error
`

const mainJSON = `{
  "name": "main",
  "start_at": "First",
  "states": {
    "First": {
      "type": "Task",
      "resource": "first",
      "parameters": {"message": "Hello world", "count": 3},
      "next": "Fan Out"
    },
    "Fan Out": {
      "type": "Parallel",
      "branches": [
        {"start_at": "Call", "states": {"Call": {"type": "Task", "state_machine": "sub"}}}
      ]
    }
  }
}`

func TestParseDefinition_YAML(t *testing.T) {
	sm, err := ParseDefinition([]byte(subYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if sm.Name != "sub" || sm.StartAt != "Second Task" {
		t.Errorf("unexpected header: %s / %s", sm.Name, sm.StartAt)
	}

	second := sm.States["Second Task"]
	if second == nil {
		t.Fatal("Second Task not parsed")
	}
	if second.Type != domain.StateTypeTask || second.Resource != "second" {
		t.Errorf("unexpected state: %+v", second)
	}
	if second.ResultPath != "$.second_result" {
		t.Errorf("unexpected result_path: %s", second.ResultPath)
	}
	if len(second.Catch) != 1 || second.Catch[0].Next != "Error Task" || second.Catch[0].Errors[0] != "*" {
		t.Errorf("unexpected catch: %+v", second.Catch)
	}

	if err := Validate(sm); err != nil {
		t.Errorf("parsed definition must be valid: %v", err)
	}
}

func TestParseDefinition_JSONNormalizesLiterals(t *testing.T) {
	sm, err := ParseDefinition([]byte(mainJSON))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	params := sm.States["First"].Parameters
	if params["count"] != 3.0 {
		t.Errorf("expected count as float64, got %v (%T)", params["count"], params["count"])
	}
	if len(sm.States["Fan Out"].Branches) != 1 {
		t.Errorf("expected one branch")
	}
}

func TestParseDefinition_YAMLNormalizesLiterals(t *testing.T) {
	src := `
start_at: P
states:
  P:
    type: Pass
    result:
      n: 1
      nested: {k: [1, 2]}
`
	sm, err := ParseDefinition([]byte(src))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := map[string]any{"n": 1.0, "nested": map[string]any{"k": []any{1.0, 2.0}}}
	if !document.Equal(sm.States["P"].Result, want) {
		t.Errorf("unexpected result: %#v", sm.States["P"].Result)
	}
}

func TestParseDefinition_Malformed(t *testing.T) {
	for _, src := range []string{"{not json", "states: [unclosed"} {
		_, err := ParseDefinition([]byte(src))
		if !errors.Is(err, ErrMalformedDefinition) {
			t.Errorf("expected ErrMalformedDefinition for %q, got %v", src, err)
		}
	}
}

func TestLoadDir_RegisterAllInDependencyOrder(t *testing.T) {
	dir := t.TempDir()

	// main.json сортируется раньше sub.yaml, но зависит от него.
	writeFile(t, filepath.Join(dir, "main.json"), mainJSON)
	writeFile(t, filepath.Join(dir, "sub.yaml"), subYAML)
	writeFile(t, filepath.Join(dir, "README.md"), "ignored")

	defs, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(defs) != 2 {
		t.Fatalf("expected 2 definitions, got %d", len(defs))
	}

	c := NewCatalog(nil)
	if err := RegisterAll(c, defs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !c.Has("main") || !c.Has("sub") {
		t.Errorf("expected both definitions, got %v", c.Names())
	}
}

func TestRegisterAll_ReportsMissingReferences(t *testing.T) {
	main, err := ParseDefinition([]byte(mainJSON))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c := NewCatalog(nil)
	err = RegisterAll(c, []*domain.StateMachine{main})
	if !errors.Is(err, ErrUnknownSubWorkflow) {
		t.Errorf("expected ErrUnknownSubWorkflow, got %v", err)
	}
}

func TestParseDefinitionFile_NameFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "unnamed.yml")
	writeFile(t, path, "start_at: A\nstates:\n  A:\n    type: Pass\n")

	sm, err := ParseDefinitionFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sm.Name != "unnamed" {
		t.Errorf("expected name from file, got %q", sm.Name)
	}
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	c := NewCatalog(nil)

	w := NewWatcher(dir, c, nil)
	w.debounce = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Даём watcher'у подписаться на каталог
	time.Sleep(100 * time.Millisecond)
	writeFile(t, filepath.Join(dir, "sub.yaml"), subYAML)

	deadline := time.Now().Add(3 * time.Second)
	for !c.Has("sub") && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if !c.Has("sub") {
		t.Fatal("expected sub to be loaded by watcher")
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
