package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shaiso/stepflow/internal/document"
	"github.com/shaiso/stepflow/internal/domain"
)

// Executor — реализация одной задачи.
//
// input — документ, построенный движком (InputPath + Parameters).
// Результат должен сериализоваться в JSON.
// Ошибка типа *domain.Failure сохраняет свой вид и причину; любая другая
// ошибка становится Failure вида ExecutorFailure.
type Executor interface {
	Execute(ctx context.Context, input any) (any, error)
}

// ExecutorFunc — адаптер функции к Executor.
type ExecutorFunc func(ctx context.Context, input any) (any, error)

// Execute вызывает f(ctx, input).
func (f ExecutorFunc) Execute(ctx context.Context, input any) (any, error) {
	return f(ctx, input)
}

// Dispatcher выполняет задачу вне процесса (например, на удалённом воркере).
// Используется для задач, не зарегистрированных в локальном реестре.
type Dispatcher interface {
	Dispatch(ctx context.Context, taskID string, input any) (any, error)
}

// Registry — Task Executor Registry: executor'ы по идентификатору задачи.
//
// Реестр потокобезопасен и может вызываться одновременно из многих веток Parallel.
type Registry struct {
	mu         sync.RWMutex
	executors  map[string]Executor
	dispatcher Dispatcher
	logger     *slog.Logger
}

// NewRegistry создаёт пустой реестр.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		executors: make(map[string]Executor),
		logger:    logger,
	}
}

// Register добавляет executor для задачи.
// Возвращает ошибку, если executor с таким ID уже зарегистрирован.
func (r *Registry) Register(taskID string, executor Executor) error {
	if taskID == "" {
		return ErrEmptyTaskID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.executors[taskID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, taskID)
	}
	r.executors[taskID] = executor
	return nil
}

// MustRegister регистрирует executor, паникуя при ошибке.
// Используется при инициализации.
func (r *Registry) MustRegister(taskID string, executor Executor) {
	if err := r.Register(taskID, executor); err != nil {
		panic(err)
	}
}

// RegisterFunc регистрирует функцию как executor.
func (r *Registry) RegisterFunc(taskID string, fn func(ctx context.Context, input any) (any, error)) error {
	return r.Register(taskID, ExecutorFunc(fn))
}

// SetDispatcher задаёт обработчик задач, отсутствующих в реестре.
func (r *Registry) SetDispatcher(d Dispatcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispatcher = d
}

// Get возвращает executor по ID задачи.
func (r *Registry) Get(taskID string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	executor, ok := r.executors[taskID]
	return executor, ok
}

// Has проверяет наличие executor'а.
func (r *Registry) Has(taskID string) bool {
	_, ok := r.Get(taskID)
	return ok
}

// TaskIDs возвращает отсортированный список зарегистрированных задач.
func (r *Registry) TaskIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.executors))
	for id := range r.executors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Invoke выполняет задачу taskID с таймаутом.
//
// Все ошибки возвращаются как *domain.Failure:
//   - TaskNotFound — нет executor'а и нет dispatcher'а
//   - Timeout — истёк timeout (если он > 0)
//   - вид из *domain.Failure executor'а или ExecutorFailure
//
// Вход и результат приводятся к форме документа.
func (r *Registry) Invoke(ctx context.Context, taskID string, input any, timeout time.Duration) (any, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	input, err := document.Normalize(input)
	if err != nil {
		return nil, domain.Failuref(domain.ErrorExecutorFailure, "task %s: invalid input: %v", taskID, err)
	}

	r.mu.RLock()
	executor, ok := r.executors[taskID]
	dispatcher := r.dispatcher
	r.mu.RUnlock()

	var out any
	switch {
	case ok:
		out, err = executor.Execute(ctx, input)
	case dispatcher != nil:
		out, err = dispatcher.Dispatch(ctx, taskID, input)
	default:
		return nil, domain.Failuref(domain.ErrorTaskNotFound, "no executor registered for task %s", taskID)
	}

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, domain.Failuref(domain.ErrorTimeout, "task %s timed out after %s", taskID, timeout)
		}
		f := domain.AsFailure(err, domain.ErrorExecutorFailure)
		r.logger.Debug("task failed", "task", taskID, "error", f.Kind)
		return nil, f
	}

	doc, err := document.Normalize(out)
	if err != nil {
		return nil, domain.Failuref(domain.ErrorExecutorFailure, "%v: %v", ErrInvalidOutput, err)
	}
	return doc, nil
}
