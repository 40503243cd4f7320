// Package cli реализует инструмент командной строки stepflow.
//
// # Обзор
//
// CLI — клиентская утилита для stepflow API. Работает через HTTP и
// используется для регистрации state machines, запуска и остановки
// выполнений и просмотра расписаний.
//
// Единственная офлайн-команда — state-machine validate: она разбирает
// файлы определений и проверяет их тем же каталогом, что и сервер.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для stepflow API. Инкапсулирует запросы, разбор ответов
// (data, list, error) и обработку ошибок.
//
//	client := cli.NewClient("http://localhost:8080")
//	res, err := client.StartExecution("main", map[string]any{"key": "value"})
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: stepflow execution list --json | jq .
//
// ## Commands
//
// Cobra-команды организованы по ресурсам:
//   - state-machine: list, create, show, delete, validate
//   - execution: list, start, show, stop
//   - schedule: list
//
// Каждая группа создаётся фабричной функцией (NewStateMachineCmd и т.д.),
// принимающей clientFn и outputFn — замыкания для ленивого создания
// Client и Output после парсинга PersistentFlags.
package cli
