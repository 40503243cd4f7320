package engine

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// segmentKind — тип сегмента пути.
type segmentKind int

const (
	segField      segmentKind = iota // .name или ['name']
	segIndex                         // [n]
	segProjection                    // ['a','b'] — только последним сегментом
)

type segment struct {
	kind  segmentKind
	name  string
	index int
	names []string
}

// Path — разобранный путь в документе.
//
// Поддерживаемый синтаксис:
//
//	$                   весь документ
//	$.a.b               поле объекта
//	$.list[0]           элемент массива
//	$['a b']            поле с произвольным именем
//	$['a','b','c']      проекция: объект только с перечисленными ключами
//	$$.State.Name       то же самое по документу ExecutionContext
//
// Проекция допустима только последним сегментом и работает в режиме best-effort:
// отсутствующие ключи пропускаются.
type Path struct {
	raw      string
	context  bool
	segments []segment
}

// ParsePath разбирает строку пути.
// Возвращает *PathError с ErrPathSyntax, если путь некорректен.
func ParsePath(raw string) (*Path, error) {
	if !strings.HasPrefix(raw, "$") {
		return nil, syntaxError(raw, 0, "path must start with '$'")
	}

	p := &Path{raw: raw}
	i := 1
	if strings.HasPrefix(raw, "$$") {
		p.context = true
		i = 2
	}

	for i < len(raw) {
		switch raw[i] {
		case '.':
			i++
			start := i
			for i < len(raw) && raw[i] != '.' && raw[i] != '[' {
				if raw[i] == ']' || raw[i] == '\'' || raw[i] == '"' {
					return nil, syntaxError(raw, i, fmt.Sprintf("unexpected character %q in field name", raw[i]))
				}
				i++
			}
			if i == start {
				return nil, syntaxError(raw, start, "empty field name")
			}
			p.segments = append(p.segments, segment{kind: segField, name: raw[start:i]})

		case '[':
			seg, next, err := parseBracket(raw, i)
			if err != nil {
				return nil, err
			}
			p.segments = append(p.segments, seg)
			i = next

		default:
			return nil, syntaxError(raw, i, fmt.Sprintf("unexpected character %q", raw[i]))
		}
	}

	for idx, seg := range p.segments {
		if seg.kind == segProjection && idx != len(p.segments)-1 {
			return nil, syntaxError(raw, -1, "multi-key projection must be the last segment")
		}
	}

	return p, nil
}

// parseBracket разбирает сегмент в квадратных скобках, начиная с позиции '['.
// Возвращает сегмент и позицию сразу после ']'.
func parseBracket(raw string, open int) (segment, int, error) {
	i := skipSpaces(raw, open+1)
	if i >= len(raw) {
		return segment{}, 0, syntaxError(raw, open, "unterminated '['")
	}

	// Индекс массива
	if raw[i] >= '0' && raw[i] <= '9' {
		start := i
		for i < len(raw) && raw[i] >= '0' && raw[i] <= '9' {
			i++
		}
		n, err := strconv.Atoi(raw[start:i])
		if err != nil {
			return segment{}, 0, syntaxError(raw, start, "invalid index")
		}
		i = skipSpaces(raw, i)
		if i >= len(raw) || raw[i] != ']' {
			return segment{}, 0, syntaxError(raw, i, "expected ']' after index")
		}
		return segment{kind: segIndex, index: n}, i + 1, nil
	}

	// Список имён в кавычках
	var names []string
	for {
		if i >= len(raw) || (raw[i] != '\'' && raw[i] != '"') {
			return segment{}, 0, syntaxError(raw, i, "expected quoted field name or index")
		}
		name, next, err := parseQuoted(raw, i)
		if err != nil {
			return segment{}, 0, err
		}
		names = append(names, name)

		i = skipSpaces(raw, next)
		if i >= len(raw) {
			return segment{}, 0, syntaxError(raw, open, "unterminated '['")
		}
		if raw[i] == ']' {
			i++
			break
		}
		if raw[i] != ',' {
			return segment{}, 0, syntaxError(raw, i, "expected ',' or ']'")
		}
		i = skipSpaces(raw, i+1)
	}

	if len(names) == 1 {
		return segment{kind: segField, name: names[0]}, i, nil
	}
	return segment{kind: segProjection, names: names}, i, nil
}

// parseQuoted читает строку в кавычках; поддерживается экранирование обратным слэшем.
func parseQuoted(raw string, start int) (string, int, error) {
	quote := raw[start]
	var b strings.Builder
	for i := start + 1; i < len(raw); i++ {
		switch raw[i] {
		case '\\':
			if i+1 < len(raw) {
				i++
				b.WriteByte(raw[i])
			}
		case quote:
			if b.Len() == 0 {
				return "", 0, syntaxError(raw, start, "empty field name")
			}
			return b.String(), i + 1, nil
		default:
			b.WriteByte(raw[i])
		}
	}
	return "", 0, syntaxError(raw, start, "unterminated quoted name")
}

func skipSpaces(raw string, i int) int {
	for i < len(raw) && raw[i] == ' ' {
		i++
	}
	return i
}

// String возвращает исходную строку пути.
func (p *Path) String() string {
	return p.raw
}

// IsContext возвращает true для путей "$$...", вычисляемых по ExecutionContext.
func (p *Path) IsContext() bool {
	return p.context
}

// IsRoot возвращает true для "$" (и "$$").
func (p *Path) IsRoot() bool {
	return len(p.segments) == 0
}

// Select вычисляет путь на документе.
//
// Отсутствующее поле, индекс вне диапазона или обращение к полю не-объекта
// возвращают *PathError с ErrPathUnresolved. Проекция пропускает отсутствующие ключи.
// Результат разделяет структуру с doc; вызывающий не должен его модифицировать.
func (p *Path) Select(doc any) (any, error) {
	cur := doc
	for _, seg := range p.segments {
		switch seg.kind {
		case segField:
			obj, ok := cur.(map[string]any)
			if !ok {
				return nil, unresolvedError(p.raw, fmt.Sprintf("field %q: value is %s, not an object", seg.name, kindOf(cur)))
			}
			v, ok := obj[seg.name]
			if !ok {
				return nil, unresolvedError(p.raw, fmt.Sprintf("field %q not found", seg.name))
			}
			cur = v

		case segIndex:
			arr, ok := cur.([]any)
			if !ok {
				return nil, unresolvedError(p.raw, fmt.Sprintf("index %d: value is %s, not an array", seg.index, kindOf(cur)))
			}
			if seg.index >= len(arr) {
				return nil, unresolvedError(p.raw, fmt.Sprintf("index %d out of range (len %d)", seg.index, len(arr)))
			}
			cur = arr[seg.index]

		case segProjection:
			obj, ok := cur.(map[string]any)
			if !ok {
				return nil, unresolvedError(p.raw, fmt.Sprintf("projection: value is %s, not an object", kindOf(cur)))
			}
			out := make(map[string]any, len(seg.names))
			for _, name := range seg.names {
				if v, ok := obj[name]; ok {
					out[name] = v
				}
			}
			cur = out
		}
	}
	return cur, nil
}

// Merge записывает value в doc по пути и возвращает новый документ.
//
// "$" заменяет документ целиком. Для "$.a.b" недостающие промежуточные
// объекты создаются; исходный документ не модифицируется (copy-on-write
// вдоль пути). Путь результата может состоять только из полей.
func (p *Path) Merge(doc, value any) (any, error) {
	if p.context {
		return nil, syntaxError(p.raw, 0, "result path cannot reference the execution context")
	}
	for _, seg := range p.segments {
		if seg.kind != segField {
			return nil, syntaxError(p.raw, -1, "result path may contain only field segments")
		}
	}
	if p.IsRoot() {
		return value, nil
	}
	return p.setField(doc, p.segments, value)
}

func (p *Path) setField(node any, segs []segment, value any) (any, error) {
	var obj map[string]any
	switch n := node.(type) {
	case map[string]any:
		obj = n
	case nil:
	default:
		return nil, unresolvedError(p.raw, fmt.Sprintf("cannot set field %q on %s", segs[0].name, kindOf(node)))
	}

	out := make(map[string]any, len(obj)+1)
	for k, v := range obj {
		out[k] = v
	}

	name := segs[0].name
	if len(segs) == 1 {
		out[name] = value
		return out, nil
	}

	child, err := p.setField(obj[name], segs[1:], value)
	if err != nil {
		return nil, err
	}
	out[name] = child
	return out, nil
}

// Select разбирает путь и вычисляет его на документе.
func Select(doc any, path string) (any, error) {
	p, err := ParsePath(path)
	if err != nil {
		return nil, err
	}
	return p.Select(doc)
}

// Merge разбирает путь и записывает value в doc.
func Merge(doc any, path string, value any) (any, error) {
	p, err := ParsePath(path)
	if err != nil {
		return nil, err
	}
	return p.Merge(doc, value)
}

func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "an object"
	case []any:
		return "an array"
	case string:
		return "a string"
	case float64, json.Number:
		return "a number"
	case bool:
		return "a boolean"
	default:
		return fmt.Sprintf("%T", v)
	}
}
