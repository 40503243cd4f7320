package api

import (
	"net/http"
)

// ListSchedules возвращает расписания и время их следующего запуска.
// GET /api/v1/schedules
func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	if h.scheduler == nil {
		List(w, []ScheduleResponse{}, 0)
		return
	}

	schedules, err := h.scheduler.List(r.Context())
	if HandleError(w, h.logger, err) {
		return
	}

	result := make([]ScheduleResponse, len(schedules))
	for i := range schedules {
		result[i] = ScheduleFromDomain(&schedules[i])
	}

	List(w, result, len(result))
}
