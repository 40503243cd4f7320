// Package document содержит операции над JSON-документами,
// которые передаются между состояниями state machine.
//
// Документ — это дерево из map[string]any, []any, string, float64, bool и nil,
// то есть ровно то, что возвращает encoding/json при декодировании в any.
// Исключение — целые числа за пределами ±2^53: они хранятся как json.Number,
// чтобы не терять точность между состояниями.
// Все компоненты движка работают с документами только в этой форме.
package document
