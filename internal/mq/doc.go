// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — Dial с повторами, переподключение, общий канал публикаций
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация событий выполнений и ответов RPC
//   - consumer.go   — потребление очереди на своём канале, до Prefetch обработчиков параллельно
//   - rpc.go        — RPC-клиент для удалённого вызова задач (direct reply-to)
//   - errors.go     — ErrNotConnected, ErrRequeue, ErrMalformedMessage
//
// Исход обработки сообщения определяется ошибкой Handler: nil — ack,
// ErrRequeue — возврат в очередь, иначе — в DLX.
//
// Типы сообщений:
//   - task.invoke          — запрос на выполнение задачи воркером
//   - task.result          — ответ воркера (в reply-to запроса)
//   - execution.<status>   — событие жизненного цикла выполнения
//
// Exchanges:
//   - stepflow.executions  — события выполнений (topic)
//   - stepflow.tasks       — запросы на выполнение задач
//   - stepflow.dlq         — dead letter queue
package mq
