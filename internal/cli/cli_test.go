package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"
)

// fakeAPI — минимальный stepflow API поверх httptest.
type fakeAPI struct {
	mu       sync.Mutex
	bodies   map[string][]byte
	polls    int
	finalAt  int
	finalSts string
}

func newFakeAPI(t *testing.T) (*fakeAPI, *httptest.Server) {
	t.Helper()

	api := &fakeAPI{bodies: make(map[string][]byte), finalAt: 2, finalSts: "SUCCEEDED"}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/state-machines", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"data": []map[string]any{
				{"name": "main", "start_at": "First", "states": 2, "sub_workflows": []string{"sub"}},
				{"name": "sub", "start_at": "Second", "states": 3},
			},
			"total": 2,
		})
	})
	mux.HandleFunc("POST /api/v1/state-machines", func(w http.ResponseWriter, r *http.Request) {
		api.record("create", r)
		writeJSON(w, http.StatusCreated, map[string]any{"data": map[string]any{"name": "main"}})
	})
	mux.HandleFunc("GET /api/v1/state-machines/{name}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error": map[string]any{"code": "NOT_FOUND", "message": "state machine not found"},
		})
	})
	mux.HandleFunc("POST /api/v1/state-machines/{name}/executions", func(w http.ResponseWriter, r *http.Request) {
		api.record("start", r)
		writeJSON(w, http.StatusAccepted, map[string]any{
			"data": map[string]any{"id": "exec-1", "state_machine": r.PathValue("name")},
		})
	})
	mux.HandleFunc("POST /api/v1/executions", func(w http.ResponseWriter, r *http.Request) {
		api.record("inline", r)
		writeJSON(w, http.StatusAccepted, map[string]any{
			"data": map[string]any{"id": "exec-2", "state_machine": "inline"},
		})
	})
	mux.HandleFunc("GET /api/v1/executions", func(w http.ResponseWriter, r *http.Request) {
		api.record("list?"+r.URL.RawQuery, r)
		writeJSON(w, http.StatusOK, map[string]any{
			"data": []map[string]any{
				{"id": "exec-1", "state_machine": "main", "status": "RUNNING", "created_at": "2026-01-01T00:00:00Z"},
			},
			"total": 1,
		})
	})
	mux.HandleFunc("GET /api/v1/executions/{id}", func(w http.ResponseWriter, r *http.Request) {
		api.mu.Lock()
		api.polls++
		status := "RUNNING"
		if api.polls >= api.finalAt {
			status = api.finalSts
		}
		api.mu.Unlock()

		exec := map[string]any{
			"id": r.PathValue("id"), "state_machine": "main", "status": status,
			"created_at": "2026-01-01T00:00:00Z",
		}
		switch status {
		case "SUCCEEDED":
			exec["output"] = map[string]any{"result": "ok"}
		case "FAILED":
			exec["failure"] = map[string]any{"error": "ExecutorFailure", "cause": "boom"}
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": exec})
	})
	mux.HandleFunc("POST /api/v1/executions/{id}/stop", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusAccepted, map[string]any{
			"data": map[string]any{"id": r.PathValue("id"), "state_machine": "main", "status": "CANCELLED"},
		})
	})
	mux.HandleFunc("GET /api/v1/schedules", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"data": []map[string]any{
				{"name": "nightly", "state_machine": "main", "cron_expr": "0 3 * * *", "timezone": "UTC", "enabled": true},
			},
			"total": 1,
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return api, srv
}

func (a *fakeAPI) record(key string, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	a.mu.Lock()
	a.bodies[key] = body
	a.mu.Unlock()
}

func (a *fakeAPI) body(key string) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bodies[key]
}

func (a *fakeAPI) has(key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.bodies[key]
	return ok
}

func (a *fakeAPI) pollCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.polls
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// runCmd выполняет команду CLI и возвращает stdout и stderr.
func runCmd(t *testing.T, baseURL string, args ...string) (string, string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	var jsonOutput bool

	root := &cobra.Command{Use: "stepflow", SilenceUsage: true, SilenceErrors: true}
	root.PersistentFlags().BoolVar(&jsonOutput, "json", false, "")

	clientFn := func() *Client { return NewClient(baseURL) }
	outputFn := func() *Output { return NewOutputTo(jsonOutput, &stdout, &stderr) }

	root.AddCommand(
		NewStateMachineCmd(clientFn, outputFn),
		NewExecutionCmd(clientFn, outputFn),
		NewScheduleCmd(clientFn, outputFn),
	)
	root.SetArgs(args)

	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestClient_ListStateMachines(t *testing.T) {
	_, srv := newFakeAPI(t)

	machines, err := NewClient(srv.URL).ListStateMachines()
	if err != nil {
		t.Fatalf("ListStateMachines: %v", err)
	}
	if len(machines) != 2 {
		t.Fatalf("len = %d, want 2", len(machines))
	}
	if machines[0].Name != "main" || !reflect.DeepEqual(machines[0].SubWorkflows, []string{"sub"}) {
		t.Errorf("machines[0] = %+v", machines[0])
	}
}

func TestClient_ErrorEnvelope(t *testing.T) {
	_, srv := newFakeAPI(t)

	_, err := NewClient(srv.URL).GetStateMachine("missing")
	if err == nil {
		t.Fatal("expected error")
	}
	if got := err.Error(); got != "NOT_FOUND: state machine not found" {
		t.Errorf("error = %q", got)
	}
}

func TestClient_CreateStateMachineSendsRawBody(t *testing.T) {
	api, srv := newFakeAPI(t)

	def := []byte("name: main\nstart_at: A\n")
	if _, err := NewClient(srv.URL).CreateStateMachine(def); err != nil {
		t.Fatalf("CreateStateMachine: %v", err)
	}
	if got := api.body("create"); !bytes.Equal(got, def) {
		t.Errorf("body = %q, want %q", got, def)
	}
}

func TestClient_WaitExecution(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.finalAt = 3

	exec, err := NewClient(srv.URL).WaitExecution("exec-1", time.Millisecond, time.Second)
	if err != nil {
		t.Fatalf("WaitExecution: %v", err)
	}
	if exec.Status != "SUCCEEDED" {
		t.Errorf("status = %s", exec.Status)
	}
	if n := api.pollCount(); n != 3 {
		t.Errorf("polls = %d, want 3", n)
	}
}

func TestClient_WaitExecutionTimeout(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.finalAt = 1 << 30

	exec, err := NewClient(srv.URL).WaitExecution("exec-1", time.Millisecond, 20*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if exec == nil || exec.Status != "RUNNING" {
		t.Errorf("exec = %+v", exec)
	}
}

func TestBuildInput(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "input.json")
	if err := os.WriteFile(file, []byte(`{"from":"file"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		json    string
		file    string
		sets    []string
		want    any
		wantErr bool
	}{
		{name: "empty", want: map[string]any{}},
		{name: "json", json: `{"a":1}`, want: map[string]any{"a": 1.0}},
		{name: "array", json: `[1,2]`, want: []any{1.0, 2.0}},
		{name: "file", file: file, want: map[string]any{"from": "file"}},
		{name: "sets", json: `{"a":1}`, sets: []string{"b=2", "c=x=y"}, want: map[string]any{"a": 1.0, "b": "2", "c": "x=y"}},
		{name: "both sources", json: `{}`, file: file, wantErr: true},
		{name: "invalid json", json: `{`, wantErr: true},
		{name: "set on array", json: `[]`, sets: []string{"a=1"}, wantErr: true},
		{name: "bad set", sets: []string{"novalue"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildInput(tt.json, tt.file, tt.sets)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("buildInput: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestReadDefinitionJSON_ConvertsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "def.yaml")
	src := "name: inline\nstart_at: A\nstates:\n  A:\n    type: Pass\n    result: {x: 1}\n"
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}

	raw, err := readDefinitionJSON(path)
	if err != nil {
		t.Fatalf("readDefinitionJSON: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("result is not JSON: %v", err)
	}
	if got["name"] != "inline" || got["start_at"] != "A" {
		t.Errorf("got %v", got)
	}
}

func TestExecutionStart_Wait(t *testing.T) {
	api, srv := newFakeAPI(t)

	stdout, stderr, err := runCmd(t, srv.URL, "execution", "start", "main", "--input", `{"k":"v"}`, "--wait")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	var req map[string]any
	if err := json.Unmarshal(api.body("start"), &req); err != nil {
		t.Fatalf("request body: %v", err)
	}
	if !reflect.DeepEqual(req["input"], map[string]any{"k": "v"}) {
		t.Errorf("input = %v", req["input"])
	}

	if !strings.Contains(stderr, "Execution started: exec-1") {
		t.Errorf("stderr = %q", stderr)
	}
	if !strings.Contains(stdout, "SUCCEEDED") || !strings.Contains(stdout, `"result": "ok"`) {
		t.Errorf("stdout = %q", stdout)
	}
}

func TestExecutionStart_WaitFailed(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.finalAt = 1
	api.finalSts = "FAILED"

	stdout, _, err := runCmd(t, srv.URL, "execution", "start", "main", "--wait")
	if err == nil {
		t.Fatal("expected error for failed execution")
	}
	if !strings.Contains(stdout, "ExecutorFailure") {
		t.Errorf("stdout = %q", stdout)
	}
}

func TestExecutionStart_Inline(t *testing.T) {
	api, srv := newFakeAPI(t)

	path := filepath.Join(t.TempDir(), "def.yaml")
	if err := os.WriteFile(path, []byte("start_at: A\nstates:\n  A:\n    type: Pass\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, _, err := runCmd(t, srv.URL, "execution", "start", "-d", path); err != nil {
		t.Fatalf("execute: %v", err)
	}

	var req struct {
		Definition map[string]any `json:"definition"`
		Input      any            `json:"input"`
	}
	if err := json.Unmarshal(api.body("inline"), &req); err != nil {
		t.Fatalf("request body: %v", err)
	}
	if req.Definition["start_at"] != "A" {
		t.Errorf("definition = %v", req.Definition)
	}
}

func TestExecutionStart_RequiresOneSource(t *testing.T) {
	_, srv := newFakeAPI(t)

	if _, _, err := runCmd(t, srv.URL, "execution", "start"); err == nil {
		t.Error("expected error without NAME and --definition")
	}
}

func TestExecutionList_StatusFilter(t *testing.T) {
	api, srv := newFakeAPI(t)

	stdout, _, err := runCmd(t, srv.URL, "execution", "list", "--status", "running")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !api.has("list?status=RUNNING") {
		t.Error("status filter not sent")
	}
	if !strings.Contains(stdout, "exec-1") {
		t.Errorf("stdout = %q", stdout)
	}
}

func TestExecutionStop(t *testing.T) {
	_, srv := newFakeAPI(t)

	_, stderr, err := runCmd(t, srv.URL, "execution", "stop", "exec-1")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(stderr, "CANCELLED") {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestScheduleList_JSON(t *testing.T) {
	_, srv := newFakeAPI(t)

	stdout, _, err := runCmd(t, srv.URL, "--json", "schedule", "list")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	var schedules []ScheduleResponse
	if err := json.Unmarshal([]byte(stdout), &schedules); err != nil {
		t.Fatalf("stdout is not JSON: %v\n%s", err, stdout)
	}
	if len(schedules) != 1 || schedules[0].CronExpr != "0 3 * * *" {
		t.Errorf("schedules = %+v", schedules)
	}
}

func TestStateMachineValidate(t *testing.T) {
	dir := t.TempDir()
	write := func(name, src string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
			t.Fatal(err)
		}
		return path
	}

	sub := write("sub.yaml", "start_at: A\nstates:\n  A:\n    type: Pass\n")
	mainDef := write("main.yaml", "start_at: Call\nstates:\n  Call:\n    type: Task\n    state_machine: sub\n")
	broken := write("broken.yaml", "start_at: Missing\nstates:\n  A:\n    type: Pass\n")

	t.Run("valid with sub-workflow", func(t *testing.T) {
		_, stderr, err := runCmd(t, "http://unused", "state-machine", "validate", mainDef, sub)
		if err != nil {
			t.Fatalf("validate: %v", err)
		}
		if !strings.Contains(stderr, "main: ok, 1 states, ends at Call") || !strings.Contains(stderr, "sub: ok, 1 states, ends at A") {
			t.Errorf("stderr = %q", stderr)
		}
	})

	t.Run("missing sub-workflow", func(t *testing.T) {
		if _, _, err := runCmd(t, "http://unused", "sm", "validate", mainDef); err == nil {
			t.Error("expected error for unregistered sub-workflow")
		}
	})

	t.Run("broken definition", func(t *testing.T) {
		if _, _, err := runCmd(t, "http://unused", "sm", "validate", broken); err == nil {
			t.Error("expected error for unknown start_at")
		}
	})
}

func TestOutput_FieldsSkipEmpty(t *testing.T) {
	var stdout, stderr bytes.Buffer
	out := NewOutputTo(false, &stdout, &stderr)

	out.Fields([][2]string{{"ID", "exec-1"}, {"ERROR", ""}, {"STATUS", "RUNNING"}})

	got := stdout.String()
	if strings.Contains(got, "ERROR") {
		t.Errorf("empty field printed: %q", got)
	}
	if !strings.Contains(got, "ID:") || !strings.Contains(got, "RUNNING") {
		t.Errorf("stdout = %q", got)
	}
}

func TestOutput_PrintEmptyList(t *testing.T) {
	var stdout, stderr bytes.Buffer
	NewOutputTo(false, &stdout, &stderr).Print([]string{"NAME"}, nil, []string{})

	if stdout.Len() != 0 || !strings.Contains(stderr.String(), "(none)") {
		t.Errorf("stdout = %q, stderr = %q", stdout.String(), stderr.String())
	}

	stdout.Reset()
	NewOutputTo(true, &stdout, &stderr).Print([]string{"NAME"}, nil, []string{})
	if strings.TrimSpace(stdout.String()) != "[]" {
		t.Errorf("json stdout = %q", stdout.String())
	}
}
