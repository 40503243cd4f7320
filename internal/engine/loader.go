package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/shaiso/stepflow/internal/document"
	"github.com/shaiso/stepflow/internal/domain"
)

// definitionExts — расширения файлов определений.
var definitionExts = map[string]bool{
	".yaml": true,
	".yml":  true,
	".json": true,
}

// ParseDefinition разбирает определение из YAML или JSON.
//
// Литералы Parameters и Result приводятся к форме документа
// (числа — float64 или точный json.Number, объекты — map[string]any).
func ParseDefinition(data []byte) (*domain.StateMachine, error) {
	var sm domain.StateMachine

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		if err := document.Unmarshal(trimmed, &sm); err != nil {
			return nil, &DefinitionError{Message: fmt.Sprintf("decode json: %v", err), Err: ErrMalformedDefinition}
		}
	} else {
		if err := yaml.Unmarshal(data, &sm); err != nil {
			return nil, &DefinitionError{Message: fmt.Sprintf("decode yaml: %v", err), Err: ErrMalformedDefinition}
		}
	}

	if err := normalizeLiterals(&sm); err != nil {
		return nil, withMachine(err, sm.Name)
	}

	return &sm, nil
}

// ParseDefinitionFile читает определение из файла.
// Если имя не задано в файле, используется имя файла без расширения.
func ParseDefinitionFile(path string) (*domain.StateMachine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definition %s: %w", path, err)
	}

	sm, err := ParseDefinition(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	if sm.Name == "" {
		base := filepath.Base(path)
		sm.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return sm, nil
}

// LoadDir читает все определения из каталога (без рекурсии), отсортированные по имени файла.
func LoadDir(dir string) ([]*domain.StateMachine, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read definitions dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !definitionExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)

	defs := make([]*domain.StateMachine, 0, len(files))
	for _, f := range files {
		sm, err := ParseDefinitionFile(f)
		if err != nil {
			return nil, err
		}
		defs = append(defs, sm)
	}
	return defs, nil
}

// RegisterAll регистрирует определения в порядке зависимостей:
// sub-workflow регистрируется раньше тех, кто его вызывает.
//
// Определения, которые не удалось зарегистрировать, возвращаются
// одной объединённой ошибкой; остальные остаются в каталоге.
func RegisterAll(c *Catalog, defs []*domain.StateMachine) error {
	pending := append([]*domain.StateMachine(nil), defs...)
	var errs []error

	for len(pending) > 0 {
		var next []*domain.StateMachine
		progressed := false

		for _, sm := range pending {
			if !refsSatisfied(c, sm) {
				next = append(next, sm)
				continue
			}
			if err := c.Register(sm); err != nil {
				errs = append(errs, err)
			}
			progressed = true
		}

		if !progressed {
			// Оставшиеся ссылаются на отсутствующие определения:
			// Register вернёт для них DefinitionError.
			for _, sm := range next {
				errs = append(errs, c.Register(sm))
			}
			break
		}
		pending = next
	}
	return errors.Join(errs...)
}

func refsSatisfied(c *Catalog, sm *domain.StateMachine) bool {
	for _, ref := range sm.SubWorkflows() {
		if ref != sm.Name && !c.Has(ref) {
			return false
		}
	}
	return true
}

// normalizeLiterals приводит Parameters и Result всех состояний к форме документа.
func normalizeLiterals(sm *domain.StateMachine) error {
	for name, st := range sm.States {
		if st == nil {
			continue
		}
		if st.Parameters != nil {
			doc, err := document.Normalize(st.Parameters)
			if err != nil {
				return NewDefinitionError(name, "parameters", err.Error(), ErrMalformedDefinition)
			}
			params, ok := doc.(map[string]any)
			if !ok {
				return NewDefinitionError(name, "parameters", "parameters must be an object", ErrMalformedDefinition)
			}
			st.Parameters = params
		}
		if st.Result != nil {
			doc, err := document.Normalize(st.Result)
			if err != nil {
				return NewDefinitionError(name, "result", err.Error(), ErrMalformedDefinition)
			}
			st.Result = doc
		}
		for i := range st.Branches {
			if err := normalizeLiterals(&st.Branches[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

// Watcher перезагружает определения из каталога при изменении файлов.
type Watcher struct {
	dir      string
	catalog  *Catalog
	logger   *slog.Logger
	debounce time.Duration
}

// NewWatcher создаёт Watcher для каталога определений.
func NewWatcher(dir string, catalog *Catalog, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		dir:      dir,
		catalog:  catalog,
		logger:   logger,
		debounce: 250 * time.Millisecond,
	}
}

// Run следит за каталогом до отмены контекста.
// Серия событий объединяется (debounce) в одну перезагрузку.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	w.logger.Info("watching definitions", "dir", w.dir)

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !definitionExts[strings.ToLower(filepath.Ext(ev.Name))] {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			w.logger.Debug("definition changed", "file", ev.Name, "op", ev.Op.String())
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)

		case <-fire:
			fire = nil
			w.Reload()
		}
	}
}

// Reload перечитывает каталог и регистрирует определения.
// Ошибки логируются: некорректный файл не удаляет ранее загруженные определения.
func (w *Watcher) Reload() {
	defs, err := LoadDir(w.dir)
	if err != nil {
		w.logger.Error("failed to load definitions", "dir", w.dir, "error", err)
		return
	}
	if err := RegisterAll(w.catalog, defs); err != nil {
		w.logger.Error("failed to register definitions", "dir", w.dir, "error", err)
		return
	}
	w.logger.Info("definitions reloaded", "dir", w.dir, "count", len(defs))
}
