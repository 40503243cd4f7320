package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shaiso/stepflow/internal/engine"
	"github.com/shaiso/stepflow/internal/orchestrator"
	"github.com/shaiso/stepflow/internal/repo"
)

// ErrorCode — машиночитаемый код ошибки API.
type ErrorCode string

const (
	ErrCodeBadRequest    ErrorCode = "BAD_REQUEST"
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeConflict      ErrorCode = "CONFLICT"
	ErrCodeInvalidState  ErrorCode = "INVALID_STATE"
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrCodeUnavailable   ErrorCode = "UNAVAILABLE"
)

// ErrorResponse — тело ответа с ошибкой: {"error": {"code", "message"}}.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail — код и текст ошибки.
type ErrorDetail struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// DataResponse — тело успешного ответа: {"data": ...}.
type DataResponse struct {
	Data any `json:"data"`
}

// ListResponse — тело ответа со списком: {"data": [...], "total": n}.
type ListResponse struct {
	Data  any `json:"data"`
	Total int `json:"total"`
}

// JSON пишет v со статусом status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Заголовок уже отправлен, остаётся только записать в лог
		slog.Default().Warn("encode response", "error", err)
	}
}

// Success — 200 с данными.
func Success(w http.ResponseWriter, data any) { JSON(w, http.StatusOK, DataResponse{Data: data}) }

// Accepted — 202: выполнение запущено асинхронно.
func Accepted(w http.ResponseWriter, data any) { JSON(w, http.StatusAccepted, DataResponse{Data: data}) }

// Created — 201 с созданным ресурсом.
func Created(w http.ResponseWriter, data any) { JSON(w, http.StatusCreated, DataResponse{Data: data}) }

// NoContent — 204.
func NoContent(w http.ResponseWriter) { w.WriteHeader(http.StatusNoContent) }

// List — 200 со списком и общим количеством.
func List(w http.ResponseWriter, data any, total int) {
	JSON(w, http.StatusOK, ListResponse{Data: data, Total: total})
}

// Error пишет ответ с ошибкой.
func Error(w http.ResponseWriter, status int, code ErrorCode, message string) {
	JSON(w, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

// BadRequest — 400.
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// NotFound — 404.
func NotFound(w http.ResponseWriter, message string) {
	Error(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// InternalError — 500. Текст err попадает только в лог.
func InternalError(w http.ResponseWriter, logger *slog.Logger, err error) {
	logger.Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")
}

// errorRule сопоставляет ошибку домена с HTTP-статусом.
type errorRule struct {
	match  func(error) bool
	status int
	code   ErrorCode
}

func is(target error) func(error) bool {
	return func(err error) bool { return errors.Is(err, target) }
}

func isDefinitionError(err error) bool {
	var defErr *engine.DefinitionError
	return errors.As(err, &defErr)
}

// errorRules проверяются по порядку; первое совпадение побеждает.
var errorRules = []errorRule{
	{isDefinitionError, http.StatusBadRequest, ErrCodeBadRequest},
	{is(orchestrator.ErrInvalidInput), http.StatusBadRequest, ErrCodeBadRequest},
	{is(engine.ErrNotFound), http.StatusNotFound, ErrCodeNotFound},
	{is(orchestrator.ErrExecutionNotFound), http.StatusNotFound, ErrCodeNotFound},
	{is(repo.ErrNotFound), http.StatusNotFound, ErrCodeNotFound},
	{is(engine.ErrInUse), http.StatusConflict, ErrCodeConflict},
	{is(orchestrator.ErrExecutionFinished), http.StatusUnprocessableEntity, ErrCodeInvalidState},
	{is(orchestrator.ErrOrchestratorStopped), http.StatusServiceUnavailable, ErrCodeUnavailable},
}

// classify возвращает статус и код для err. ok=false — ошибка внутренняя.
func classify(err error) (status int, code ErrorCode, ok bool) {
	for _, rule := range errorRules {
		if rule.match(err) {
			return rule.status, rule.code, true
		}
	}
	return http.StatusInternalServerError, ErrCodeInternalError, false
}

// HandleError пишет ответ для ошибки движка, каталога или репозитория.
// Возвращает false, если err == nil.
func HandleError(w http.ResponseWriter, logger *slog.Logger, err error) bool {
	if err == nil {
		return false
	}
	status, code, ok := classify(err)
	if !ok {
		InternalError(w, logger, err)
		return true
	}
	Error(w, status, code, err.Error())
	return true
}
