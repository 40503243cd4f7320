package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrExecutionNotFound — выполнение не найдено (или уже вытеснено из памяти).
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrExecutionFinished — выполнение уже завершено.
	ErrExecutionFinished = errors.New("execution already finished")

	// ErrInvalidInput — входной документ не является JSON-документом.
	ErrInvalidInput = errors.New("invalid execution input")

	// ErrOrchestratorStopped — оркестратор остановлен.
	ErrOrchestratorStopped = errors.New("orchestrator stopped")
)
