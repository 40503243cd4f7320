package domain

// ExecutionStatus — статус выполнения state machine.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → SUCCEEDED
//	                  ↘ FAILED
//	          (или) → CANCELLED (из PENDING или RUNNING)
type ExecutionStatus string

const (
	// ExecutionStatusPending — выполнение создано, но ещё не началось.
	ExecutionStatusPending ExecutionStatus = "PENDING"

	// ExecutionStatusRunning — выполнение в процессе.
	ExecutionStatusRunning ExecutionStatus = "RUNNING"

	// ExecutionStatusSucceeded — выполнение успешно завершено.
	ExecutionStatusSucceeded ExecutionStatus = "SUCCEEDED"

	// ExecutionStatusFailed — выполнение завершилось ошибкой, не перехваченной правилами Catch.
	ExecutionStatusFailed ExecutionStatus = "FAILED"

	// ExecutionStatusCancelled — выполнение остановлено пользователем.
	ExecutionStatusCancelled ExecutionStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус финальный (выполнение завершено).
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusSucceeded, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	default:
		return false
	}
}

// String возвращает строковое представление ExecutionStatus.
func (s ExecutionStatus) String() string {
	return string(s)
}

// ParseExecutionStatus парсит строку в ExecutionStatus.
// Неизвестные значения возвращают пустой статус.
func ParseExecutionStatus(s string) ExecutionStatus {
	switch s {
	case "PENDING":
		return ExecutionStatusPending
	case "RUNNING":
		return ExecutionStatusRunning
	case "SUCCEEDED":
		return ExecutionStatusSucceeded
	case "FAILED":
		return ExecutionStatusFailed
	case "CANCELLED":
		return ExecutionStatusCancelled
	default:
		return ""
	}
}

// EventType — тип события в трассе выполнения.
type EventType string

const (
	EventStateEntered   EventType = "StateEntered"
	EventStateSucceeded EventType = "StateSucceeded"
	EventStateFailed    EventType = "StateFailed"
	EventFailureCaught  EventType = "FailureCaught"
	EventRetryScheduled EventType = "RetryScheduled"
)
