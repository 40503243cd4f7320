package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// maxExactInt — граница, до которой float64 хранит целые числа точно (2^53).
const maxExactInt = 1 << 53

// Normalize приводит произвольное Go-значение к канонической форме документа.
//
// Значения уже канонического вида возвращаются без сериализации.
// Остальные (структуры, int, map[string]string, yaml-узлы и т.п.)
// проходят через JSON round-trip.
func Normalize(v any) (any, error) {
	if isCanonical(v) {
		return v, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}

	return Decode(data)
}

// Decode разбирает JSON в документ.
// Целые числа за пределами ±2^53 сохраняются точно, как json.Number.
func Decode(data []byte) (any, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var doc any
	if err := Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return canonicalNumbers(doc), nil
}

// Unmarshal — json.Unmarshal, сохраняющий числа как json.Number.
//
// Поля типа any в dst получают json.Number вместо float64; перед
// использованием как документ их нужно пропустить через Normalize.
func Unmarshal(data []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("unexpected data after top-level value")
	}
	return nil
}

// canonicalNumbers заменяет json.Number на float64 везде, где это не теряет точности.
func canonicalNumbers(v any) any {
	switch val := v.(type) {
	case json.Number:
		return number(val)
	case map[string]any:
		for k, item := range val {
			val[k] = canonicalNumbers(item)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = canonicalNumbers(item)
		}
		return val
	default:
		return val
	}
}

// number возвращает float64, либо json.Number для целых, не представимых в float64 точно.
func number(n json.Number) any {
	if isBigInt(n) {
		return n
	}
	f, err := n.Float64()
	if err != nil {
		// Переполнение float64: оставляем литерал как есть
		return n
	}
	return f
}

// isBigInt проверяет, что n — целый литерал вне диапазона ±2^53.
func isBigInt(n json.Number) bool {
	s := string(n)
	if s == "" || strings.ContainsAny(s, ".eE") {
		return false
	}
	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return errors.Is(err, strconv.ErrRange)
	}
	return i > maxExactInt || i < -maxExactInt
}

// Clone возвращает глубокую копию документа.
// Изменения копии не видны в оригинале и наоборот.
func Clone(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = Clone(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Clone(item)
		}
		return out
	default:
		return val
	}
}

// Equal сравнивает два документа структурно.
// Числа сравниваются после нормализации, поэтому 1 и 1.0 равны.
func Equal(a, b any) bool {
	na, err := Normalize(a)
	if err != nil {
		return false
	}
	nb, err := Normalize(b)
	if err != nil {
		return false
	}
	return reflect.DeepEqual(na, nb)
}

// String возвращает компактное JSON-представление документа (для логов и ошибок).
func String(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// isCanonical проверяет, что значение уже имеет форму документа.
func isCanonical(v any) bool {
	switch val := v.(type) {
	case nil, string, float64, bool:
		return true
	case json.Number:
		return isBigInt(val)
	case map[string]any:
		for _, item := range val {
			if !isCanonical(item) {
				return false
			}
		}
		return true
	case []any:
		for _, item := range val {
			if !isCanonical(item) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
