package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shaiso/stepflow/internal/document"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// StateMachineSummary — state machine из списка API.
type StateMachineSummary struct {
	Name         string   `json:"name"`
	Comment      string   `json:"comment,omitempty"`
	StartAt      string   `json:"start_at"`
	States       int      `json:"states"`
	SubWorkflows []string `json:"sub_workflows,omitempty"`
}

// StartExecutionResponse — ответ на запуск выполнения.
type StartExecutionResponse struct {
	ID           string `json:"id"`
	StateMachine string `json:"state_machine"`
}

// ExecutionSummary — выполнение из списка API.
type ExecutionSummary struct {
	ID           string `json:"id"`
	StateMachine string `json:"state_machine"`
	Status       string `json:"status"`
	CurrentState string `json:"current_state,omitempty"`
	Error        string `json:"error,omitempty"`
	StartedAt    string `json:"started_at,omitempty"`
	FinishedAt   string `json:"finished_at,omitempty"`
	CreatedAt    string `json:"created_at"`
}

// Failure — ошибка, завершившая выполнение.
type Failure struct {
	Error string `json:"error"`
	Cause any    `json:"cause,omitempty"`
}

// Event — запись трассы выполнения.
type Event struct {
	Type      string `json:"type"`
	State     string `json:"state"`
	Branch    string `json:"branch,omitempty"`
	Error     string `json:"error,omitempty"`
	Next      string `json:"next,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Execution — выполнение со входом, выходом и трассой.
type Execution struct {
	ID           string   `json:"id"`
	StateMachine string   `json:"state_machine"`
	Status       string   `json:"status"`
	Input        any      `json:"input,omitempty"`
	Output       any      `json:"output,omitempty"`
	Failure      *Failure `json:"failure,omitempty"`
	CurrentState string   `json:"current_state,omitempty"`
	Events       []Event  `json:"events,omitempty"`
	StartedAt    string   `json:"started_at,omitempty"`
	FinishedAt   string   `json:"finished_at,omitempty"`
	CreatedAt    string   `json:"created_at"`
}

// IsFinished проверяет, завершено ли выполнение.
func (e *Execution) IsFinished() bool {
	switch e.Status {
	case "SUCCEEDED", "FAILED", "CANCELLED":
		return true
	}
	return false
}

// ScheduleResponse — schedule из API.
type ScheduleResponse struct {
	Name            string `json:"name"`
	StateMachine    string `json:"state_machine"`
	CronExpr        string `json:"cron_expr,omitempty"`
	IntervalSec     int    `json:"interval_sec,omitempty"`
	Timezone        string `json:"timezone"`
	Enabled         bool   `json:"enabled"`
	NextDueAt       string `json:"next_due_at,omitempty"`
	LastRunAt       string `json:"last_run_at,omitempty"`
	LastExecutionID string `json:"last_execution_id,omitempty"`
}

// --- Request types ---

type startExecutionRequest struct {
	Input any `json:"input"`
}

type startInlineExecutionRequest struct {
	Definition json.RawMessage `json:"definition"`
	Input      any             `json:"input"`
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для stepflow API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- State machines ---

// ListStateMachines возвращает зарегистрированные state machines.
func (c *Client) ListStateMachines() ([]StateMachineSummary, error) {
	var machines []StateMachineSummary
	err := c.list("/api/v1/state-machines", nil, &machines)
	return machines, err
}

// CreateStateMachine регистрирует определение (YAML или JSON).
func (c *Client) CreateStateMachine(definition []byte) (json.RawMessage, error) {
	resp, err := c.doRaw(http.MethodPost, "/api/v1/state-machines", definition)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var sm json.RawMessage
	err = c.decodeData(resp, &sm)
	return sm, err
}

// GetStateMachine возвращает определение state machine.
func (c *Client) GetStateMachine(name string) (json.RawMessage, error) {
	var sm json.RawMessage
	err := c.get("/api/v1/state-machines/"+url.PathEscape(name), &sm)
	return sm, err
}

// DeleteStateMachine удаляет state machine.
func (c *Client) DeleteStateMachine(name string) error {
	return c.delete("/api/v1/state-machines/" + url.PathEscape(name))
}

// --- Executions ---

// StartExecution запускает выполнение зарегистрированной state machine.
func (c *Client) StartExecution(name string, input any) (*StartExecutionResponse, error) {
	var res StartExecutionResponse
	err := c.post("/api/v1/state-machines/"+url.PathEscape(name)+"/executions",
		startExecutionRequest{Input: input}, &res)
	return &res, err
}

// StartInlineExecution запускает выполнение определения без регистрации.
func (c *Client) StartInlineExecution(definition json.RawMessage, input any) (*StartExecutionResponse, error) {
	var res StartExecutionResponse
	err := c.post("/api/v1/executions",
		startInlineExecutionRequest{Definition: definition, Input: input}, &res)
	return &res, err
}

// ListExecutions возвращает выполнения. Пустой status — все.
func (c *Client) ListExecutions(status string) ([]ExecutionSummary, error) {
	params := url.Values{}
	if status != "" {
		params.Set("status", status)
	}

	var executions []ExecutionSummary
	err := c.list("/api/v1/executions", params, &executions)
	return executions, err
}

// GetExecution возвращает выполнение по ID.
func (c *Client) GetExecution(id string) (*Execution, error) {
	var exec Execution
	err := c.get("/api/v1/executions/"+id, &exec)
	return &exec, err
}

// StopExecution останавливает выполнение.
func (c *Client) StopExecution(id string) (*ExecutionSummary, error) {
	var exec ExecutionSummary
	err := c.post("/api/v1/executions/"+id+"/stop", nil, &exec)
	return &exec, err
}

// WaitExecution опрашивает выполнение, пока оно не завершится или не истечёт timeout.
func (c *Client) WaitExecution(id string, interval, timeout time.Duration) (*Execution, error) {
	deadline := time.Now().Add(timeout)
	for {
		exec, err := c.GetExecution(id)
		if err != nil {
			return nil, err
		}
		if exec.IsFinished() {
			return exec, nil
		}
		if time.Now().After(deadline) {
			return exec, fmt.Errorf("execution %s is still %s after %s", id, exec.Status, timeout)
		}
		time.Sleep(interval)
	}
}

// --- Schedules ---

// ListSchedules возвращает расписания.
func (c *Client) ListSchedules() ([]ScheduleResponse, error) {
	var schedules []ScheduleResponse
	err := c.list("/api/v1/schedules", nil, &schedules)
	return schedules, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) delete(path string) error {
	resp, err := c.do(http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.checkError(resp)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return document.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return c.decodeData(resp, result)
}

func (c *Client) decodeData(resp *http.Response, result any) error {
	if err := c.checkError(resp); err != nil {
		return err
	}

	// 204 No Content
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return document.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

// doRaw отправляет тело как есть (определения в YAML).
func (c *Client) doRaw(method, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
