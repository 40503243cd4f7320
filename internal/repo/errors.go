package repo

import "errors"

// Общие ошибки репозиториев.
var (
	// ErrNotFound — запись не найдена в БД.
	ErrNotFound = errors.New("not found")

	// ErrInvalidDefinition — сохранённое определение не удалось разобрать.
	ErrInvalidDefinition = errors.New("invalid stored definition")
)
