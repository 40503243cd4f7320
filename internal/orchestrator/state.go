package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/stepflow/internal/domain"
)

// RunState — состояние одного выполнения в памяти.
//
// RunState создаётся при запуске выполнения и хранится, пока выполнение
// активно, а после завершения — пока не будет вытеснено политикой хранения.
//
// Содержит:
//   - Execution (статус, результат, трассу)
//   - Определение, по которому идёт выполнение
//   - Функцию отмены и канал завершения
type RunState struct {
	execution  *domain.Execution
	definition *domain.StateMachine

	cancel context.CancelFunc
	done   chan struct{}

	// mu — мьютекс для потокобезопасного доступа.
	mu sync.RWMutex
}

// newRunState создаёт RunState для нового выполнения.
func newRunState(exec *domain.Execution, sm *domain.StateMachine, cancel context.CancelFunc) *RunState {
	return &RunState{
		execution:  exec,
		definition: sm,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// ID возвращает ID выполнения.
func (s *RunState) ID() uuid.UUID {
	return s.execution.ID
}

// Done закрывается, когда выполнение завершено.
func (s *RunState) Done() <-chan struct{} {
	return s.done
}

// Snapshot возвращает копию выполнения.
func (s *RunState) Snapshot() domain.Execution {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.execution.Snapshot()
}

// markRunning переводит выполнение в RUNNING.
func (s *RunState) markRunning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execution.MarkRunning()
}

// record добавляет событие в трассу.
// Вход в состояние верхнего уровня меняет CurrentState.
func (s *RunState) record(ev domain.Event) {
	ev.Timestamp = time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.execution.Events = append(s.execution.Events, ev)
	if ev.Type == domain.EventStateEntered && ev.Branch == "" {
		s.execution.CurrentState = ev.State
	}
}

// finish фиксирует результат выполнения.
func (s *RunState) finish(output any, f *domain.Failure) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case f == nil:
		s.execution.MarkSucceeded(output)
	case f.Kind == domain.ErrorCancelled:
		s.execution.MarkCancelled()
	default:
		s.execution.MarkFailed(f)
	}
}

// complete закрывает Done. Вызывается после публикации итогового события.
func (s *RunState) complete() {
	close(s.done)
}

// isFinished проверяет, завершено ли выполнение.
func (s *RunState) isFinished() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// recorder принимает события трассы выполнения.
type recorder func(ev domain.Event)

// branch возвращает recorder для ветки Parallel: события получают путь ветки.
func (r recorder) branch(path string) recorder {
	return func(ev domain.Event) {
		if ev.Branch == "" {
			ev.Branch = path
		} else {
			ev.Branch = path + "/" + ev.Branch
		}
		r(ev)
	}
}

// discard — recorder для sub-workflow: его внутренние состояния не видны родителю.
func discard(domain.Event) {}
