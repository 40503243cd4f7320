// Package repo хранит данные сервиса в PostgreSQL (pgx/v5).
//
// Таблицы:
//   - state_machines — определения state machines (JSONB)
//   - objects        — объекты обработчиков задач (bucket, key, body)
//   - schedules      — состояние расписаний (next_due_at, последний запуск)
//
// Выполнения хранятся в памяти orchestrator'а и в БД не попадают.
package repo
