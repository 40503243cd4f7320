// Package engine содержит всё, что нужно для понимания определения state machine.
//
// Включает:
//   - path.go       — Path Expression Evaluator: разбор и вычисление путей ($.a, $['a','b'])
//   - parameters.go — шаблоны Parameters (литералы и ссылки "*.$")
//   - context.go    — ExecutionContext, доступный через "$$"
//   - resolver.go   — разрешение правил Catch/Retry и задержки повторов
//   - parser.go     — валидация определений (DefinitionError)
//   - graph.go      — граф переходов, проверка циклов и достижимости
//   - catalog.go    — каталог именованных определений
//   - loader.go     — загрузка YAML/JSON и перезагрузка каталога по fsnotify
//
// Engine не выполняет состояния: этим занимается пакет orchestrator.
package engine
