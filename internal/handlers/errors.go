package handlers

import "errors"

// Ошибки обработчиков.
var (
	// ErrInvalidInput — вход задачи не соответствует ожидаемой форме.
	ErrInvalidInput = errors.New("invalid task input")

	// ErrObjectNotFound — объект отсутствует в хранилище.
	ErrObjectNotFound = errors.New("object not found")
)

// ErrorKindException — вид ошибки, которую возвращает обработчик second.
const ErrorKindException = "Exception"
