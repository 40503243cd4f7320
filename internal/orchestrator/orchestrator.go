package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/shaiso/stepflow/internal/document"
	"github.com/shaiso/stepflow/internal/domain"
	"github.com/shaiso/stepflow/internal/engine"
	"github.com/shaiso/stepflow/internal/telemetry"
)

// Default configuration values.
const (
	defaultTaskTimeout    = 60 * time.Second
	defaultRetainFinished = 1000
	publishTimeout        = 5 * time.Second
)

// ExecutionPublisher публикует события жизненного цикла выполнения
// (реализуется mq.Publisher).
type ExecutionPublisher interface {
	PublishExecutionEvent(ctx context.Context, exec *domain.Execution) error
}

// Orchestrator управляет выполнениями state machines.
//
// Orchestrator — центральный компонент системы, который:
//   - Запускает выполнения по определению или по имени из каталога
//   - Интерпретирует state machine (Task, Parallel, Pass, Retry/Catch)
//   - Хранит статус и трассу выполнений в памяти
//   - Останавливает выполнения по запросу
//   - Публикует события жизненного цикла (если настроен publisher)
type Orchestrator struct {
	interp    *interpreter
	catalog   *engine.Catalog
	publisher ExecutionPublisher
	metrics   *telemetry.Metrics
	tracer    trace.Tracer

	// Executions — выполнения в памяти (executionID → state)
	executions map[uuid.UUID]*RunState
	finished   []uuid.UUID
	retain     int
	mu         sync.RWMutex

	// Lifecycle
	logger     *slog.Logger
	baseCtx    context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Orchestrator.
type Config struct {
	// Catalog — зарегистрированные state machines (обязательно).
	Catalog *engine.Catalog

	// Invoker — Task Executor Registry (обязательно).
	Invoker TaskInvoker

	// Publisher — публикация событий выполнения (опционально).
	Publisher ExecutionPublisher

	// DefaultTaskTimeout — таймаут задачи без timeout_sec (default: 60s).
	DefaultTaskTimeout time.Duration

	// MaxParallelBranches — ограничение одновременно выполняемых веток
	// одного Parallel-состояния (0 — без ограничения).
	MaxParallelBranches int

	// RetainFinished — сколько завершённых выполнений хранить в памяти (default: 1000).
	RetainFinished int

	// Metrics — Prometheus метрики (опционально).
	Metrics *telemetry.Metrics

	// Tracer — OpenTelemetry tracer (default: telemetry.Tracer()).
	Tracer trace.Tracer

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	timeout := cfg.DefaultTaskTimeout
	if timeout <= 0 {
		timeout = defaultTaskTimeout
	}

	retain := cfg.RetainFinished
	if retain <= 0 {
		retain = defaultRetainFinished
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tracer := cfg.Tracer
	if tracer == nil {
		tracer = telemetry.Tracer()
	}

	catalog := cfg.Catalog
	if catalog == nil {
		catalog = engine.NewCatalog(logger)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Orchestrator{
		interp: &interpreter{
			catalog:        catalog,
			invoker:        cfg.Invoker,
			defaultTimeout: timeout,
			maxBranches:    cfg.MaxParallelBranches,
			metrics:        cfg.Metrics,
			tracer:         tracer,
			logger:         logger,
		},
		catalog:    catalog,
		publisher:  cfg.Publisher,
		metrics:    cfg.Metrics,
		tracer:     tracer,
		executions: make(map[uuid.UUID]*RunState),
		retain:     retain,
		logger:     logger,
		baseCtx:    ctx,
		cancelFunc: cancel,
	}
}

// Catalog возвращает каталог state machines.
func (o *Orchestrator) Catalog() *engine.Catalog {
	return o.catalog
}

// StartExecution запускает выполнение определения sm и возвращает его ID.
//
// Определение валидируется; sub-workflows должны быть зарегистрированы
// в каталоге. Выполнение идёт в фоне и не зависит от ctx вызывающего.
func (o *Orchestrator) StartExecution(_ context.Context, sm *domain.StateMachine, input any) (uuid.UUID, error) {
	if err := engine.Validate(sm); err != nil {
		return uuid.Nil, err
	}
	for _, ref := range sm.SubWorkflows() {
		if !o.catalog.Has(ref) {
			return uuid.Nil, &engine.DefinitionError{
				StateMachine: sm.Name,
				Field:        "state_machine",
				Message:      fmt.Sprintf("sub-workflow %s is not registered", ref),
				Err:          engine.ErrUnknownSubWorkflow,
			}
		}
	}
	return o.launch(sm, input)
}

// StartByName запускает выполнение зарегистрированной state machine.
func (o *Orchestrator) StartByName(_ context.Context, name string, input any) (uuid.UUID, error) {
	sm, err := o.catalog.Get(name)
	if err != nil {
		return uuid.Nil, err
	}
	return o.launch(sm, input)
}

// Execute запускает выполнение и ждёт его завершения.
// Отмена ctx останавливает выполнение.
func (o *Orchestrator) Execute(ctx context.Context, sm *domain.StateMachine, input any) (domain.Execution, error) {
	id, err := o.StartExecution(ctx, sm, input)
	if err != nil {
		return domain.Execution{}, err
	}

	exec, err := o.Wait(ctx, id)
	if err != nil {
		_ = o.StopExecution(id)
		return domain.Execution{}, err
	}
	return exec, nil
}

// Status возвращает снимок выполнения.
func (o *Orchestrator) Status(id uuid.UUID) (domain.Execution, error) {
	state := o.getExecution(id)
	if state == nil {
		return domain.Execution{}, fmt.Errorf("%w: %s", ErrExecutionNotFound, id)
	}
	return state.Snapshot(), nil
}

// Wait ждёт завершения выполнения и возвращает его снимок.
func (o *Orchestrator) Wait(ctx context.Context, id uuid.UUID) (domain.Execution, error) {
	state := o.getExecution(id)
	if state == nil {
		return domain.Execution{}, fmt.Errorf("%w: %s", ErrExecutionNotFound, id)
	}

	select {
	case <-state.Done():
		return state.Snapshot(), nil
	case <-ctx.Done():
		return domain.Execution{}, ctx.Err()
	}
}

// StopExecution отменяет выполнение. Выполнение завершится со статусом
// CANCELLED; побочные эффекты уже вызванных задач не откатываются.
func (o *Orchestrator) StopExecution(id uuid.UUID) error {
	state := o.getExecution(id)
	if state == nil {
		return fmt.Errorf("%w: %s", ErrExecutionNotFound, id)
	}
	if state.isFinished() {
		return fmt.Errorf("%w: %s", ErrExecutionFinished, id)
	}

	o.logger.Info("stopping execution", "execution_id", id)
	state.cancel()
	return nil
}

// List возвращает снимки выполнений в порядке создания.
// Пустой status — все выполнения.
func (o *Orchestrator) List(status domain.ExecutionStatus) []domain.Execution {
	o.mu.RLock()
	states := make([]*RunState, 0, len(o.executions))
	for _, s := range o.executions {
		states = append(states, s)
	}
	o.mu.RUnlock()

	result := make([]domain.Execution, 0, len(states))
	for _, s := range states {
		snap := s.Snapshot()
		if status != "" && snap.Status != status {
			continue
		}
		result = append(result, snap)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

// ActiveCount возвращает количество незавершённых выполнений.
func (o *Orchestrator) ActiveCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()

	count := 0
	for _, s := range o.executions {
		if !s.isFinished() {
			count++
		}
	}
	return count
}

// Stop отменяет все выполнения и ждёт их завершения.
func (o *Orchestrator) Stop() {
	o.stoppedMu.Lock()
	o.stopped = true
	o.stoppedMu.Unlock()

	o.logger.Info("stopping orchestrator...")

	o.cancelFunc()
	o.wg.Wait()

	o.logger.Info("orchestrator stopped")
}

// IsStopped проверяет, остановлен ли Orchestrator.
func (o *Orchestrator) IsStopped() bool {
	o.stoppedMu.RLock()
	defer o.stoppedMu.RUnlock()
	return o.stopped
}

// launch создаёт выполнение и запускает его в фоне.
//
// Проверка остановки и wg.Add выполняются под stoppedMu: после того как Stop
// выставил stopped, новых выполнений нет и wg.Wait дожидается всех принятых.
func (o *Orchestrator) launch(sm *domain.StateMachine, input any) (uuid.UUID, error) {
	doc, err := document.Normalize(input)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	exec := &domain.Execution{
		ID:           uuid.New(),
		StateMachine: sm.Name,
		Status:       domain.ExecutionStatusPending,
		Input:        doc,
		CreatedAt:    time.Now().UTC(),
	}

	o.stoppedMu.RLock()
	defer o.stoppedMu.RUnlock()
	if o.stopped {
		return uuid.Nil, ErrOrchestratorStopped
	}

	ctx, cancel := context.WithCancel(o.baseCtx)
	state := newRunState(exec, sm, cancel)

	o.mu.Lock()
	o.executions[exec.ID] = state
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.runExecution(ctx, state)
	}()

	return exec.ID, nil
}

// runExecution выполняет state machine и фиксирует результат.
func (o *Orchestrator) runExecution(ctx context.Context, state *RunState) {
	defer state.cancel()

	sm := state.definition
	id := state.ID()
	input := state.execution.Input

	logger := telemetry.WithStateMachine(telemetry.WithExecutionID(o.logger, id.String()), sm.Name)

	state.markRunning()
	o.metrics.ExecutionStarted(sm.Name)
	o.publish(state)
	logger.Info("execution started")

	ctx, span := o.tracer.Start(ctx, "execution "+sm.Name,
		trace.WithAttributes(
			attribute.String("stepflow.state_machine", sm.Name),
			attribute.String("stepflow.execution_id", id.String()),
		),
	)

	output, f := o.interp.run(ctx, sm, sm.Name, input, id, state.record)
	state.finish(output, f)

	snap := state.Snapshot()
	if f != nil {
		span.SetStatus(codes.Error, f.Kind)
	}
	span.End()

	o.metrics.ExecutionFinished(sm.Name, snap.Status.String(), snap.Duration())
	o.publish(state)
	o.markFinished(id)
	state.complete()

	if f != nil {
		logger.InfoContext(ctx, "execution finished",
			"status", snap.Status,
			"error", f.Kind,
			"duration", snap.Duration(),
		)
		return
	}
	logger.InfoContext(ctx, "execution finished", "status", snap.Status, "duration", snap.Duration())
}

// publish отправляет событие о текущем статусе выполнения.
func (o *Orchestrator) publish(state *RunState) {
	if o.publisher == nil {
		return
	}

	snap := state.Snapshot()
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := o.publisher.PublishExecutionEvent(ctx, &snap); err != nil {
		o.logger.Warn("failed to publish execution event",
			"execution_id", snap.ID,
			"status", snap.Status,
			"error", err,
		)
	}
}

// markFinished добавляет выполнение в очередь хранения и вытесняет самые старые.
func (o *Orchestrator) markFinished(id uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.finished = append(o.finished, id)
	for len(o.finished) > o.retain {
		oldest := o.finished[0]
		o.finished = o.finished[1:]
		delete(o.executions, oldest)
	}
}

// getExecution возвращает RunState.
func (o *Orchestrator) getExecution(id uuid.UUID) *RunState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.executions[id]
}
