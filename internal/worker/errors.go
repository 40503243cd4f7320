package worker

import "errors"

// Ошибки воркера.
var (
	// ErrEmptyTaskID — executor регистрируется без идентификатора задачи.
	ErrEmptyTaskID = errors.New("empty task id")

	// ErrDuplicateTask — executor для задачи уже зарегистрирован.
	ErrDuplicateTask = errors.New("executor already registered")

	// ErrWorkerStopped — воркер остановлен.
	ErrWorkerStopped = errors.New("worker stopped")

	// ErrHTTPRequest — HTTP-запрос завершился ошибкой.
	ErrHTTPRequest = errors.New("http request failed")

	// ErrInvalidOutput — результат executor'а не сериализуется в документ.
	ErrInvalidOutput = errors.New("invalid executor output")
)
