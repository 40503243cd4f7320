package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/shaiso/stepflow/internal/engine"
	"github.com/shaiso/stepflow/internal/repo"
	"github.com/shaiso/stepflow/internal/telemetry"
)

// maxDefinitionSize — ограничение размера тела с определением.
const maxDefinitionSize = 1 << 20

// ListStateMachines возвращает зарегистрированные state machines.
// GET /api/v1/state-machines
func (h *Handler) ListStateMachines(w http.ResponseWriter, r *http.Request) {
	machines := h.orch.Catalog().List()

	result := make([]StateMachineSummary, len(machines))
	for i, sm := range machines {
		result[i] = StateMachineSummaryFromDomain(sm)
	}

	List(w, result, len(result))
}

// CreateStateMachine регистрирует определение (YAML или JSON в теле запроса).
// Определение с тем же именем заменяется.
// POST /api/v1/state-machines
func (h *Handler) CreateStateMachine(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxDefinitionSize))
	if err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	sm, err := engine.ParseDefinition(body)
	if HandleError(w, h.logger, err) {
		return
	}

	if err := h.orch.Catalog().Register(sm); HandleError(w, h.logger, err) {
		return
	}

	if h.definitions != nil {
		if err := h.definitions.Save(r.Context(), sm); err != nil {
			InternalError(w, telemetry.FromContext(r.Context()), err)
			return
		}
	}

	telemetry.FromContext(r.Context()).Info("state machine created",
		"state_machine", sm.Name,
		"states", len(sm.States),
	)

	Created(w, sm)
}

// GetStateMachine возвращает определение state machine.
// GET /api/v1/state-machines/{name}
func (h *Handler) GetStateMachine(w http.ResponseWriter, r *http.Request) {
	sm, err := h.orch.Catalog().Get(r.PathValue("name"))
	if HandleError(w, h.logger, err) {
		return
	}
	Success(w, sm)
}

// DeleteStateMachine удаляет state machine.
// Определение, на которое ссылаются другие, не удаляется (409).
// DELETE /api/v1/state-machines/{name}
func (h *Handler) DeleteStateMachine(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	if err := h.orch.Catalog().Remove(name); HandleError(w, h.logger, err) {
		return
	}

	if h.definitions != nil {
		// Определение могло прийти из каталога файлов и не храниться в БД
		if err := h.definitions.Delete(r.Context(), name); err != nil && !errors.Is(err, repo.ErrNotFound) {
			InternalError(w, telemetry.FromContext(r.Context()), err)
			return
		}
	}

	NoContent(w)
}
