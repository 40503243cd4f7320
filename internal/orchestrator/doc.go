// Package orchestrator управляет выполнениями state machines.
//
// Orchestrator отвечает за:
//   - Запуск выполнения по определению или по имени из каталога
//   - Интерпретацию состояний Task, Parallel и Pass
//   - Применение правил Retry и Catch
//   - Вызов sub-workflows как одной задачи
//   - Хранение статуса и трассы выполнений в памяти
//   - Остановку выполнений (CANCELLED)
//
// Ветки Parallel выполняются конкурентно; результат собирается в порядке
// объявления веток, а при нескольких ошибках побеждает ветка с меньшим индексом.
package orchestrator
