package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/stepflow/internal/domain"
)

// State machine DTOs

// StateMachineSummary — краткое описание state machine для списка.
type StateMachineSummary struct {
	Name         string   `json:"name"`
	Comment      string   `json:"comment,omitempty"`
	StartAt      string   `json:"start_at"`
	States       int      `json:"states"`
	SubWorkflows []string `json:"sub_workflows,omitempty"`
}

// StateMachineSummaryFromDomain конвертирует domain.StateMachine в StateMachineSummary.
func StateMachineSummaryFromDomain(sm *domain.StateMachine) StateMachineSummary {
	return StateMachineSummary{
		Name:         sm.Name,
		Comment:      sm.Comment,
		StartAt:      sm.StartAt,
		States:       len(sm.States),
		SubWorkflows: sm.SubWorkflows(),
	}
}

// Execution DTOs

// StartExecutionRequest — запрос на запуск зарегистрированной state machine.
type StartExecutionRequest struct {
	Input any `json:"input"`
}

// StartInlineExecutionRequest — запрос на запуск определения из тела запроса.
type StartInlineExecutionRequest struct {
	Definition json.RawMessage `json:"definition"`
	Input      any             `json:"input"`
}

// StartExecutionResponse — ответ на запуск выполнения.
type StartExecutionResponse struct {
	ID           uuid.UUID `json:"id"`
	StateMachine string    `json:"state_machine"`
}

// ExecutionSummary — выполнение без документов и трассы, для списка.
type ExecutionSummary struct {
	ID           uuid.UUID  `json:"id"`
	StateMachine string     `json:"state_machine"`
	Status       string     `json:"status"`
	CurrentState string     `json:"current_state,omitempty"`
	Error        string     `json:"error,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// ExecutionSummaryFromDomain конвертирует domain.Execution в ExecutionSummary.
func ExecutionSummaryFromDomain(e domain.Execution) ExecutionSummary {
	s := ExecutionSummary{
		ID:           e.ID,
		StateMachine: e.StateMachine,
		Status:       string(e.Status),
		CurrentState: e.CurrentState,
		StartedAt:    e.StartedAt,
		FinishedAt:   e.FinishedAt,
		CreatedAt:    e.CreatedAt,
	}
	if e.Failure != nil {
		s.Error = e.Failure.Kind
	}
	return s
}

// Schedule DTOs

// ScheduleResponse — ответ с schedule.
type ScheduleResponse struct {
	Name            string     `json:"name"`
	StateMachine    string     `json:"state_machine"`
	CronExpr        string     `json:"cron_expr,omitempty"`
	IntervalSec     int        `json:"interval_sec,omitempty"`
	Timezone        string     `json:"timezone"`
	Enabled         bool       `json:"enabled"`
	NextDueAt       *time.Time `json:"next_due_at,omitempty"`
	LastRunAt       *time.Time `json:"last_run_at,omitempty"`
	LastExecutionID *uuid.UUID `json:"last_execution_id,omitempty"`
	Input           any        `json:"input,omitempty"`
}

// ScheduleFromDomain конвертирует domain.Schedule в ScheduleResponse.
func ScheduleFromDomain(s *domain.Schedule) ScheduleResponse {
	if s == nil {
		return ScheduleResponse{}
	}
	return ScheduleResponse{
		Name:            s.Name,
		StateMachine:    s.StateMachine,
		CronExpr:        s.CronExpr,
		IntervalSec:     s.IntervalSec,
		Timezone:        s.Timezone,
		Enabled:         s.Enabled,
		NextDueAt:       s.NextDueAt,
		LastRunAt:       s.LastRunAt,
		LastExecutionID: s.LastExecutionID,
		Input:           s.Input,
	}
}
