package engine

import (
	"errors"
	"fmt"
)

// Ошибки валидации определения state machine.
var (
	// ErrEmptyDefinition — определение отсутствует или не содержит состояний.
	ErrEmptyDefinition = errors.New("state machine has no states")

	// ErrInvalidField — поле не прошло проверку struct-тегов.
	ErrInvalidField = errors.New("invalid field")

	// ErrUnknownState — переход ссылается на несуществующее состояние.
	ErrUnknownState = errors.New("transition to unknown state")

	// ErrUnreachableState — состояние недостижимо из StartAt.
	ErrUnreachableState = errors.New("state is unreachable")

	// ErrCyclicTransition — обнаружен цикл в переходах next.
	ErrCyclicTransition = errors.New("cyclic transition detected")

	// ErrTaskTarget — Task должен задавать ровно одно из resource / state_machine.
	ErrTaskTarget = errors.New("task must reference exactly one of resource or state_machine")

	// ErrFieldNotAllowed — поле недопустимо для данного типа состояния.
	ErrFieldNotAllowed = errors.New("field is not allowed for state type")

	// ErrEmptyBranches — Parallel-состояние не содержит веток.
	ErrEmptyBranches = errors.New("parallel state has no branches")

	// ErrUnknownSubWorkflow — sub-workflow ссылается на незарегистрированную state machine.
	ErrUnknownSubWorkflow = errors.New("reference to unregistered state machine")

	// ErrSelfReference — state machine вызывает саму себя как sub-workflow.
	ErrSelfReference = errors.New("state machine references itself")
)

// Ошибки каталога.
var (
	// ErrNotFound — state machine не найдена в каталоге.
	ErrNotFound = errors.New("state machine not found")

	// ErrEmptyName — state machine без имени не может быть зарегистрирована.
	ErrEmptyName = errors.New("state machine has empty name")

	// ErrInUse — state machine используется другими определениями.
	ErrInUse = errors.New("state machine is referenced by other state machines")
)

// Ошибки вычисления путей.
var (
	// ErrPathSyntax — путь синтаксически некорректен.
	ErrPathSyntax = errors.New("path syntax error")

	// ErrPathUnresolved — путь не разрешается на документе.
	ErrPathUnresolved = errors.New("path does not resolve")
)

// DefinitionError — ошибка загрузки определения с контекстом.
//
// Возвращается при регистрации/валидации и никогда не попадает в правила Catch:
// некорректное определение не может быть запущено.
type DefinitionError struct {
	StateMachine string // имя state machine (может быть пустым)
	State        string // состояние, где произошла ошибка
	Field        string // поле, вызвавшее ошибку
	Message      string // описание ошибки
	Err          error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *DefinitionError) Error() string {
	prefix := ""
	if e.StateMachine != "" {
		prefix = "state machine " + e.StateMachine + ": "
	}
	if e.State != "" {
		prefix += "state " + e.State + ": "
	}
	return prefix + e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *DefinitionError) Unwrap() error {
	return e.Err
}

// NewDefinitionError создаёт новую ошибку определения.
func NewDefinitionError(state, field, message string, err error) *DefinitionError {
	return &DefinitionError{
		State:   state,
		Field:   field,
		Message: message,
		Err:     err,
	}
}

// PathError — ошибка разбора или вычисления пути.
type PathError struct {
	Path    string // исходный путь
	Pos     int    // позиция ошибки синтаксиса (-1, если не применимо)
	Message string // описание
	Err     error  // ErrPathSyntax или ErrPathUnresolved
}

// Error реализует интерфейс error.
func (e *PathError) Error() string {
	if e.Pos >= 0 {
		return fmt.Sprintf("path %q at %d: %s", e.Path, e.Pos, e.Message)
	}
	return fmt.Sprintf("path %q: %s", e.Path, e.Message)
}

// Unwrap возвращает базовую ошибку.
func (e *PathError) Unwrap() error {
	return e.Err
}

func syntaxError(path string, pos int, msg string) *PathError {
	return &PathError{Path: path, Pos: pos, Message: msg, Err: ErrPathSyntax}
}

func unresolvedError(path, msg string) *PathError {
	return &PathError{Path: path, Pos: -1, Message: msg, Err: ErrPathUnresolved}
}

// ErrMalformedDefinition — файл определения не разбирается как YAML/JSON.
var ErrMalformedDefinition = errors.New("malformed definition")
