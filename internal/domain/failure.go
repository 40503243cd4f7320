package domain

import (
	"errors"
	"fmt"

	"github.com/shaiso/stepflow/internal/document"
)

// Виды ошибок выполнения.
const (
	// ErrorAll — шаблон, совпадающий с любым видом ошибки.
	ErrorAll = "*"

	// ErrorExecutorFailure — executor вернул ошибку без собственного вида.
	ErrorExecutorFailure = "ExecutorFailure"

	// ErrorPath — путь не разобран или не разрешился на документе.
	ErrorPath = "PathError"

	// ErrorTimeout — задача не завершилась за отведённое время.
	ErrorTimeout = "Timeout"

	// ErrorCancelled — выполнение отменено. Не перехватывается правилами Catch.
	ErrorCancelled = "Cancelled"

	// ErrorTaskNotFound — в реестре нет executor'а для задачи.
	ErrorTaskNotFound = "TaskNotFound"

	// ErrorRuntime — определение нарушено во время выполнения
	// (например, переход в несуществующее состояние).
	ErrorRuntime = "RuntimeError"
)

// Failure — ошибка выполнения состояния.
//
// Kind — машиночитаемый вид ошибки, по нему работают правила Catch/Retry.
// Cause — структурированная причина; сохраняется как есть и передаётся
// обработчику ошибки без повторной сериализации в строку.
type Failure struct {
	Kind  string `json:"error"`
	Cause any    `json:"cause,omitempty"`
}

// NewFailure создаёт Failure.
func NewFailure(kind string, cause any) *Failure {
	return &Failure{Kind: kind, Cause: cause}
}

// Failuref создаёт Failure с причиной {"errorMessage": "..."}.
func Failuref(kind, format string, args ...any) *Failure {
	return &Failure{
		Kind:  kind,
		Cause: map[string]any{"errorMessage": fmt.Sprintf(format, args...)},
	}
}

// Error реализует интерфейс error.
func (f *Failure) Error() string {
	if f.Cause == nil {
		return f.Kind
	}
	return f.Kind + ": " + document.String(f.Cause)
}

// Document возвращает запись об ошибке в виде документа:
// {"error": <вид>, "cause": <причина>}.
func (f *Failure) Document() map[string]any {
	return map[string]any{
		"error": f.Kind,
		"cause": document.Clone(f.Cause),
	}
}

// AsFailure приводит произвольную ошибку к Failure.
//
// Если в цепочке ошибок уже есть *Failure, возвращается он.
// Иначе создаётся Failure вида kind с текстом ошибки в причине.
func AsFailure(err error, kind string) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return Failuref(kind, "%s", err.Error())
}
