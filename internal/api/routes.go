package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// AccessLog снаружи Recovery, чтобы видеть 500 после паники
	chain := Chain(
		RequestLogger(h.logger),
		AccessLog(h.metrics),
		Recovery(h.logger),
	)

	// State machines
	mux.Handle("GET /api/v1/state-machines", chain(http.HandlerFunc(h.ListStateMachines)))
	mux.Handle("POST /api/v1/state-machines", chain(http.HandlerFunc(h.CreateStateMachine)))
	mux.Handle("GET /api/v1/state-machines/{name}", chain(http.HandlerFunc(h.GetStateMachine)))
	mux.Handle("DELETE /api/v1/state-machines/{name}", chain(http.HandlerFunc(h.DeleteStateMachine)))

	// Executions
	mux.Handle("POST /api/v1/state-machines/{name}/executions", chain(http.HandlerFunc(h.StartExecution)))
	mux.Handle("POST /api/v1/executions", chain(http.HandlerFunc(h.StartInlineExecution)))
	mux.Handle("GET /api/v1/executions", chain(http.HandlerFunc(h.ListExecutions)))
	mux.Handle("GET /api/v1/executions/{id}", chain(http.HandlerFunc(h.GetExecution)))
	mux.Handle("POST /api/v1/executions/{id}/stop", chain(http.HandlerFunc(h.StopExecution)))

	// Schedules
	mux.Handle("GET /api/v1/schedules", chain(http.HandlerFunc(h.ListSchedules)))
}
