package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/shaiso/stepflow/internal/domain"
	"github.com/shaiso/stepflow/internal/engine"
	"github.com/shaiso/stepflow/internal/telemetry"
)

// StartExecution запускает выполнение зарегистрированной state machine.
// Пустое тело — вход null.
// POST /api/v1/state-machines/{name}/executions
func (h *Handler) StartExecution(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req StartExecutionRequest
	if err := decodeBody(r, &req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	id, err := h.orch.StartByName(r.Context(), name, req.Input)
	if HandleError(w, h.logger, err) {
		return
	}

	telemetry.FromContext(r.Context()).Info("execution started",
		"execution_id", id,
		"state_machine", name,
	)

	Accepted(w, StartExecutionResponse{ID: id, StateMachine: name})
}

// StartInlineExecution запускает выполнение определения из тела запроса.
// Определение не регистрируется в каталоге; его sub-workflows должны быть
// зарегистрированы.
// POST /api/v1/executions
func (h *Handler) StartInlineExecution(w http.ResponseWriter, r *http.Request) {
	var req StartInlineExecutionRequest
	if err := decodeBody(r, &req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if len(req.Definition) == 0 {
		BadRequest(w, "definition is required")
		return
	}

	sm, err := engine.ParseDefinition(req.Definition)
	if HandleError(w, h.logger, err) {
		return
	}

	id, err := h.orch.StartExecution(r.Context(), sm, req.Input)
	if HandleError(w, h.logger, err) {
		return
	}

	telemetry.FromContext(r.Context()).Info("inline execution started",
		"execution_id", id,
		"state_machine", sm.Name,
	)

	Accepted(w, StartExecutionResponse{ID: id, StateMachine: sm.Name})
}

// ListExecutions возвращает выполнения.
// GET /api/v1/executions?status=...
func (h *Handler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	var status domain.ExecutionStatus
	if s := r.URL.Query().Get("status"); s != "" {
		status = domain.ParseExecutionStatus(s)
		if status == "" {
			BadRequest(w, "invalid status")
			return
		}
	}

	executions := h.orch.List(status)

	result := make([]ExecutionSummary, len(executions))
	for i, exec := range executions {
		result[i] = ExecutionSummaryFromDomain(exec)
	}

	List(w, result, len(result))
}

// GetExecution возвращает выполнение со входом, выходом и трассой.
// GET /api/v1/executions/{id}
func (h *Handler) GetExecution(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid execution id")
		return
	}

	exec, err := h.orch.Status(id)
	if HandleError(w, h.logger, err) {
		return
	}

	Success(w, exec)
}

// StopExecution останавливает выполнение.
// POST /api/v1/executions/{id}/stop
func (h *Handler) StopExecution(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid execution id")
		return
	}

	if err := h.orch.StopExecution(id); HandleError(w, h.logger, err) {
		return
	}

	exec, err := h.orch.Status(id)
	if HandleError(w, h.logger, err) {
		return
	}

	Accepted(w, ExecutionSummaryFromDomain(exec))
}

// decodeBody разбирает JSON тело запроса. Пустое тело не является ошибкой.
// Числа остаются json.Number: большие целые доходят до выполнения без потерь.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	err := dec.Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
