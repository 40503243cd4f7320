// Package config загружает конфигурацию сервисов stepflow.
//
// Порядок: значения по умолчанию → YAML-файл → переменные окружения.
// Результат проверяется go-playground/validator.
//
// Переменные окружения:
//
//	API_PORT                    порт REST API
//	WORKER_PORT                 порт /metrics воркера
//	DB_URL                      PostgreSQL
//	RABBITMQ_URL                RabbitMQ
//	BUCKET_NAME                 bucket объектов обработчиков
//	STEPFLOW_DEFINITIONS_DIR    каталог определений
//	STEPFLOW_DEFINITIONS_WATCH  перечитывать каталог при изменениях
//	STEPFLOW_TASK_TIMEOUT_SEC   таймаут задачи по умолчанию
//	STEPFLOW_MAX_BRANCHES       ограничение веток Parallel
//	STEPFLOW_RETAIN_FINISHED    завершённые выполнения в памяти
//	WORKER_PREFETCH             параллелизм воркера
package config
