package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shaiso/stepflow/internal/document"
)

// ReferenceSuffix — суффикс ключа, значение которого является путём.
const ReferenceSuffix = ".$"

// Template — скомпилированный шаблон Parameters.
//
// Каждое поле шаблона — либо литерал (копируется как есть), либо ссылка
// (путь по документу "$..." или по ExecutionContext "$$...").
// Вложенные объекты и массивы компилируются рекурсивно.
type Template struct {
	root node
}

// node — узел шаблона.
type node interface {
	resolve(doc, ctxDoc any) (any, error)
}

type literalNode struct {
	value any
}

type referenceNode struct {
	path *Path
}

type objectNode struct {
	fields []fieldNode
}

type fieldNode struct {
	key  string
	node node
}

type arrayNode struct {
	items []node
}

// CompileParameters компилирует шаблон Parameters.
//
// Ошибки синтаксиса путей возвращаются как *PathError с ErrPathSyntax.
func CompileParameters(params map[string]any) (*Template, error) {
	root, err := compileObject(params)
	if err != nil {
		return nil, err
	}
	return &Template{root: root}, nil
}

func compileObject(obj map[string]any) (node, error) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := &objectNode{fields: make([]fieldNode, 0, len(keys))}
	for _, key := range keys {
		value := obj[key]

		if strings.HasSuffix(key, ReferenceSuffix) {
			raw, ok := value.(string)
			if !ok {
				return nil, syntaxError(fmt.Sprint(value), -1,
					fmt.Sprintf("reference field %q must be a path string", key))
			}
			p, err := ParsePath(raw)
			if err != nil {
				return nil, err
			}
			out.fields = append(out.fields, fieldNode{
				key:  strings.TrimSuffix(key, ReferenceSuffix),
				node: &referenceNode{path: p},
			})
			continue
		}

		n, err := compileValue(value)
		if err != nil {
			return nil, err
		}
		out.fields = append(out.fields, fieldNode{key: key, node: n})
	}
	return out, nil
}

func compileValue(value any) (node, error) {
	switch v := value.(type) {
	case map[string]any:
		return compileObject(v)
	case []any:
		arr := &arrayNode{items: make([]node, 0, len(v))}
		for _, item := range v {
			n, err := compileValue(item)
			if err != nil {
				return nil, err
			}
			arr.items = append(arr.items, n)
		}
		return arr, nil
	default:
		return &literalNode{value: v}, nil
	}
}

// Resolve строит документ по шаблону.
// doc — вход состояния после InputPath, ctxDoc — документ ExecutionContext.
func (t *Template) Resolve(doc, ctxDoc any) (any, error) {
	return t.root.resolve(doc, ctxDoc)
}

func (n *literalNode) resolve(_, _ any) (any, error) {
	return document.Clone(n.value), nil
}

func (n *referenceNode) resolve(doc, ctxDoc any) (any, error) {
	src := doc
	if n.path.IsContext() {
		src = ctxDoc
	}
	v, err := n.path.Select(src)
	if err != nil {
		return nil, err
	}
	return document.Clone(v), nil
}

func (n *objectNode) resolve(doc, ctxDoc any) (any, error) {
	out := make(map[string]any, len(n.fields))
	for _, f := range n.fields {
		v, err := f.node.resolve(doc, ctxDoc)
		if err != nil {
			return nil, err
		}
		out[f.key] = v
	}
	return out, nil
}

func (n *arrayNode) resolve(doc, ctxDoc any) (any, error) {
	out := make([]any, 0, len(n.items))
	for _, item := range n.items {
		v, err := item.resolve(doc, ctxDoc)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// BuildInput вычисляет вход состояния: InputPath, затем Parameters (если заданы).
//
// ctx может быть nil, тогда ссылки "$$..." не разрешаются.
func BuildInput(doc any, inputPath string, params map[string]any, ctx *ExecutionContext) (any, error) {
	if inputPath == "" {
		inputPath = "$"
	}
	input, err := Select(doc, inputPath)
	if err != nil {
		return nil, err
	}
	if params == nil {
		return input, nil
	}

	tmpl, err := CompileParameters(params)
	if err != nil {
		return nil, err
	}

	var ctxDoc any
	if ctx != nil {
		ctxDoc = ctx.Document()
	}
	return tmpl.Resolve(input, ctxDoc)
}
