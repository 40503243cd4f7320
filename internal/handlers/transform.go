package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/shaiso/stepflow/internal/document"
)

// TaskTransform — встроенная задача преобразования документа шаблонами.
const TaskTransform = "transform"

// transformFuncs — дополнительные функции для шаблонов.
var transformFuncs = template.FuncMap{
	// json — сериализует значение в JSON строку
	"json": func(v any) string {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("error: %v", err)
		}
		return string(b)
	},

	// default — возвращает значение по умолчанию, если второй аргумент пустой
	"default": func(def, val any) any {
		if val == nil {
			return def
		}
		if s, ok := val.(string); ok && s == "" {
			return def
		}
		return val
	},

	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"join": func(sep string, items []any) string {
		parts := make([]string, len(items))
		for i, it := range items {
			parts[i] = fmt.Sprint(it)
		}
		return strings.Join(parts, sep)
	},
}

// Transform строит объект из Go-шаблонов.
//
// Вход: {"mappings": {"key": "{{ .data.field }}"}, "data": <документ>}.
// Шаблон выполняется над всем входом. Результат рендеринга, являющийся
// JSON-значением (объект, массив, число, bool), раскодируется; остальное
// остаётся строкой.
//
// Выход: {"key": <значение>, ...}
func Transform(ctx context.Context, input any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	obj, err := asObject(input)
	if err != nil {
		return nil, err
	}

	mappings := getMap(obj, "mappings")
	if mappings == nil {
		return nil, fmt.Errorf("%w: mappings required", ErrInvalidInput)
	}

	out := make(map[string]any, len(mappings))
	for key, raw := range mappings {
		tmpl, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("%w: mapping %s must be a string", ErrInvalidInput, key)
		}
		rendered, err := render(key, tmpl, obj)
		if err != nil {
			return nil, err
		}
		out[key] = parseRendered(rendered)
	}
	return out, nil
}

func render(name, tmpl string, data any) (string, error) {
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}

	t, err := template.New(name).Funcs(transformFuncs).Option("missingkey=zero").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("%w: mapping %s: %v", ErrInvalidInput, name, err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

// parseRendered раскодирует JSON-значения по правилам документа.
func parseRendered(s string) any {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return s
	}
	switch trimmed[0] {
	case '{', '[', 't', 'f', '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		if v, err := document.Decode([]byte(trimmed)); err == nil {
			return v
		}
	}
	return s
}
