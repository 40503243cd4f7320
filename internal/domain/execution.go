package domain

import (
	"time"

	"github.com/google/uuid"
)

// Execution — экземпляр выполнения state machine.
//
// Execution создаётся когда:
// - Пользователь запускает state machine через API/CLI
// - Scheduler запускает её по расписанию
//
// Вложенные выполнения (sub-workflow, ветки Parallel) получают собственные
// execution id, но не регистрируются как самостоятельные Execution.
type Execution struct {
	// ID — уникальный идентификатор выполнения.
	ID uuid.UUID `json:"id"`

	// StateMachine — имя выполняемой state machine.
	StateMachine string `json:"state_machine"`

	// Status — текущий статус выполнения.
	Status ExecutionStatus `json:"status"`

	// Input — исходный документ.
	Input any `json:"input,omitempty"`

	// Output — итоговый документ (только для SUCCEEDED).
	Output any `json:"output,omitempty"`

	// Failure — ошибка, завершившая выполнение (FAILED/CANCELLED).
	Failure *Failure `json:"failure,omitempty"`

	// CurrentState — имя состояния, выполняющегося в данный момент.
	CurrentState string `json:"current_state,omitempty"`

	// Events — трасса выполнения: собственные состояния и состояния веток Parallel.
	// Внутренние состояния sub-workflow сюда не попадают.
	Events []Event `json:"events,omitempty"`

	// StartedAt — время начала выполнения (когда статус стал RUNNING).
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// CreatedAt — время создания выполнения.
	CreatedAt time.Time `json:"created_at"`
}

// Event — запись трассы выполнения.
type Event struct {
	Type EventType `json:"type"`

	// State — имя состояния.
	State string `json:"state"`

	// Branch — путь ветки для состояний внутри Parallel, например "Fan Out[1]".
	Branch string `json:"branch,omitempty"`

	// Error — вид ошибки (для StateFailed, FailureCaught, RetryScheduled).
	Error string `json:"error,omitempty"`

	// Next — состояние-обработчик (для FailureCaught).
	Next string `json:"next,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если выполнение ещё не завершено.
func (e *Execution) Duration() time.Duration {
	if e.StartedAt == nil || e.FinishedAt == nil {
		return 0
	}
	return e.FinishedAt.Sub(*e.StartedAt)
}

// IsFinished возвращает true, если выполнение завершено (в любом статусе).
func (e *Execution) IsFinished() bool {
	return e.Status.IsTerminal()
}

// MarkRunning переводит выполнение в статус RUNNING.
func (e *Execution) MarkRunning() {
	now := time.Now()
	e.Status = ExecutionStatusRunning
	e.StartedAt = &now
}

// MarkSucceeded переводит выполнение в статус SUCCEEDED.
func (e *Execution) MarkSucceeded(output any) {
	now := time.Now()
	e.Status = ExecutionStatusSucceeded
	e.Output = output
	e.CurrentState = ""
	e.FinishedAt = &now
}

// MarkFailed переводит выполнение в статус FAILED с ошибкой.
func (e *Execution) MarkFailed(f *Failure) {
	now := time.Now()
	e.Status = ExecutionStatusFailed
	e.Failure = f
	e.CurrentState = ""
	e.FinishedAt = &now
}

// MarkCancelled переводит выполнение в статус CANCELLED.
func (e *Execution) MarkCancelled() {
	now := time.Now()
	e.Status = ExecutionStatusCancelled
	e.Failure = NewFailure(ErrorCancelled, nil)
	e.CurrentState = ""
	e.FinishedAt = &now
}

// Snapshot возвращает копию выполнения, безопасную для чтения в другой горутине.
func (e *Execution) Snapshot() Execution {
	cp := *e
	cp.Events = append([]Event(nil), e.Events...)
	return cp
}
