// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go            — Handler с DI (orchestrator, хранилище определений, scheduler)
//   - routes.go             — регистрация маршрутов
//   - middleware.go         — middleware (logging, request id, recovery)
//   - response.go           — унифицированные JSON-ответы и обработка ошибок
//   - dto.go                — Data Transfer Objects (request/response)
//   - definition_handler.go — обработчики для /state-machines
//   - execution_handler.go  — обработчики для /executions
//   - schedule_handler.go   — обработчики для /schedules
//
// API предоставляет REST endpoints для регистрации state machines,
// запуска, просмотра и остановки выполнений.
package api
