package engine

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/shaiso/stepflow/internal/domain"
)

// Catalog — потокобезопасный реестр именованных state machines.
//
// Определение попадает в каталог только после валидации. Ссылки на
// sub-workflow должны указывать на уже зарегистрированные определения,
// а граф ссылок не может содержать циклов. Зарегистрированные
// определения не модифицируются.
type Catalog struct {
	mu       sync.RWMutex
	machines map[string]*domain.StateMachine
	logger   *slog.Logger
}

// NewCatalog создаёт пустой каталог.
func NewCatalog(logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		machines: make(map[string]*domain.StateMachine),
		logger:   logger,
	}
}

// Register валидирует и регистрирует определение.
// Определение с тем же именем заменяется.
func (c *Catalog) Register(sm *domain.StateMachine) error {
	if sm == nil || sm.Name == "" {
		return &DefinitionError{Field: "name", Message: "state machine has empty name", Err: ErrEmptyName}
	}

	if err := Validate(sm); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ref := range sm.SubWorkflows() {
		if ref == sm.Name {
			return &DefinitionError{StateMachine: sm.Name, Field: "state_machine",
				Message: "state machine invokes itself", Err: ErrSelfReference}
		}
		if _, ok := c.machines[ref]; !ok {
			return &DefinitionError{StateMachine: sm.Name, Field: "state_machine",
				Message: fmt.Sprintf("sub-workflow %s is not registered", ref), Err: ErrUnknownSubWorkflow}
		}
		if c.reachesLocked(ref, sm.Name, make(map[string]bool)) {
			return &DefinitionError{StateMachine: sm.Name, Field: "state_machine",
				Message: fmt.Sprintf("sub-workflow %s invokes %s back", ref, sm.Name), Err: ErrSelfReference}
		}
	}

	_, replaced := c.machines[sm.Name]
	c.machines[sm.Name] = sm

	c.logger.Info("state machine registered",
		"state_machine", sm.Name,
		"states", len(sm.States),
		"replaced", replaced,
	)

	return nil
}

// reachesLocked проверяет, вызывает ли from (транзитивно) target.
func (c *Catalog) reachesLocked(from, target string, visited map[string]bool) bool {
	if from == target {
		return true
	}
	if visited[from] {
		return false
	}
	visited[from] = true

	sm, ok := c.machines[from]
	if !ok {
		return false
	}
	for _, ref := range sm.SubWorkflows() {
		if c.reachesLocked(ref, target, visited) {
			return true
		}
	}
	return false
}

// Get возвращает определение по имени.
func (c *Catalog) Get(name string) (*domain.StateMachine, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	sm, ok := c.machines[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return sm, nil
}

// Has проверяет, зарегистрировано ли определение.
func (c *Catalog) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.machines[name]
	return ok
}

// List возвращает все определения, отсортированные по имени.
func (c *Catalog) List() []*domain.StateMachine {
	c.mu.RLock()
	defer c.mu.RUnlock()

	list := make([]*domain.StateMachine, 0, len(c.machines))
	for _, sm := range c.machines {
		list = append(list, sm)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

// Names возвращает имена всех определений.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.machines))
	for name := range c.machines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Remove удаляет определение.
// Возвращает ErrInUse, если на него ссылаются другие определения.
func (c *Catalog) Remove(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.machines[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	for other, sm := range c.machines {
		if other == name {
			continue
		}
		for _, ref := range sm.SubWorkflows() {
			if ref == name {
				return fmt.Errorf("%w: %s is used by %s", ErrInUse, name, other)
			}
		}
	}

	delete(c.machines, name)
	c.logger.Info("state machine removed", "state_machine", name)
	return nil
}

// Len возвращает количество определений.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.machines)
}
