package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/stepflow/internal/document"
	"github.com/shaiso/stepflow/internal/domain"
	"github.com/shaiso/stepflow/internal/engine"
	"github.com/shaiso/stepflow/internal/telemetry"
	"github.com/shaiso/stepflow/internal/worker"
)

// TaskInvoker — Task Executor Registry с точки зрения движка.
//
// Реализация должна быть безопасна для одновременных вызовов из веток Parallel.
// Ошибки типа *domain.Failure сохраняют вид и причину.
type TaskInvoker interface {
	Invoke(ctx context.Context, taskID string, input any, timeout time.Duration) (any, error)
}

// interpreter выполняет state machine: проходит состояния, вызывает задачи,
// разветвляет Parallel и применяет правила Retry/Catch.
type interpreter struct {
	catalog        *engine.Catalog
	invoker        TaskInvoker
	defaultTimeout time.Duration
	maxBranches    int

	metrics *telemetry.Metrics
	tracer  trace.Tracer
	logger  *slog.Logger
}

// run выполняет sm от StartAt до терминального состояния.
//
// name — имя state machine для ExecutionContext (ветки Parallel получают
// имя владельца). Возвращает итоговый документ или Failure, не перехваченную
// ни одним правилом Catch.
func (in *interpreter) run(ctx context.Context, sm *domain.StateMachine, name string, input any, id uuid.UUID, rec recorder) (any, *domain.Failure) {
	execCtx := engine.NewExecutionContext(id, name, input)
	logger := telemetry.WithExecutionID(in.logger, id.String())

	doc := input
	current := sm.StartAt
	for {
		if ctx.Err() != nil {
			return nil, cancelled()
		}

		state, ok := sm.States[current]
		if !ok || state == nil {
			return nil, domain.Failuref(domain.ErrorRuntime, "state %s is not defined", current)
		}

		execCtx.EnterState(current)
		rec(domain.Event{Type: domain.EventStateEntered, State: current})
		stateCtx, span := in.tracer.Start(ctx, "state "+current,
			trace.WithAttributes(
				attribute.String("stepflow.state", current),
				attribute.String("stepflow.state_type", string(state.Type)),
			),
		)
		logger.DebugContext(stateCtx, "state entered", "state", current, "type", state.Type)
		out, f := in.runState(stateCtx, state, current, doc, execCtx, rec)

		if f != nil {
			span.SetStatus(codes.Error, f.Kind)
			span.End()

			if f.Kind == domain.ErrorCancelled {
				rec(domain.Event{Type: domain.EventStateFailed, State: current, Error: f.Kind})
				return nil, f
			}

			next, caught := engine.ResolveCatch(state.Catch, f)
			if !caught {
				rec(domain.Event{Type: domain.EventStateFailed, State: current, Error: f.Kind})
				in.metrics.StateCompleted(string(state.Type), "failed")
				logger.DebugContext(stateCtx, "state failed", "state", current, "error", f.Kind)
				return nil, f
			}

			rec(domain.Event{Type: domain.EventFailureCaught, State: current, Error: f.Kind, Next: next})
			in.metrics.StateCompleted(string(state.Type), "caught")
			logger.DebugContext(stateCtx, "failure caught", "state", current, "error", f.Kind, "next", next)

			// Обработчик получает запись об ошибке, а не документ до ошибки
			doc = f.Document()
			current = next
			continue
		}

		span.End()
		rec(domain.Event{Type: domain.EventStateSucceeded, State: current})
		in.metrics.StateCompleted(string(state.Type), "succeeded")

		if state.IsTerminal() {
			return out, nil
		}
		doc = out
		current = state.Next
	}
}

// runState выполняет состояние с учётом правил Retry.
func (in *interpreter) runState(ctx context.Context, state *domain.State, name string, doc any, execCtx *engine.ExecutionContext, rec recorder) (any, *domain.Failure) {
	attempts := make(map[int]int)
	retries := 0
	for {
		out, f := in.attempt(ctx, state, name, doc, execCtx, rec)
		if f == nil || f.Kind == domain.ErrorCancelled {
			return out, f
		}

		_, delay, ok := engine.ResolveRetry(state.Retry, f, attempts)
		if !ok {
			return nil, f
		}

		rec(domain.Event{Type: domain.EventRetryScheduled, State: name, Error: f.Kind})

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, cancelled()
		case <-timer.C:
		}

		retries++
		execCtx.SetRetryCount(retries)
	}
}

// attempt выполняет одну попытку состояния:
// InputPath/Parameters → действие → ResultPath → OutputPath.
func (in *interpreter) attempt(ctx context.Context, state *domain.State, name string, doc any, execCtx *engine.ExecutionContext, rec recorder) (any, *domain.Failure) {
	input, err := engine.BuildInput(doc, state.InputPath, state.Parameters, execCtx)
	if err != nil {
		return nil, pathFailure(err)
	}

	var (
		result any
		f      *domain.Failure
	)
	switch state.Type {
	case domain.StateTypePass:
		result = input
		if state.Result != nil {
			result = document.Clone(state.Result)
		}
	case domain.StateTypeTask:
		result, f = in.invokeTask(ctx, state, input, execCtx)
	case domain.StateTypeParallel:
		result, f = in.runParallel(ctx, state, name, input, execCtx, rec)
	default:
		f = domain.Failuref(domain.ErrorRuntime, "unsupported state type %s", state.Type)
	}
	if f != nil {
		return nil, f
	}

	merged, err := engine.Merge(doc, state.EffectiveResultPath(), result)
	if err != nil {
		return nil, pathFailure(err)
	}
	out, err := engine.Select(merged, state.EffectiveOutputPath())
	if err != nil {
		return nil, pathFailure(err)
	}
	return out, nil
}

// invokeTask вызывает задачу или sub-workflow.
func (in *interpreter) invokeTask(ctx context.Context, state *domain.State, input any, execCtx *engine.ExecutionContext) (any, *domain.Failure) {
	// Executor получает собственную копию входа
	input = document.Clone(input)

	if state.IsSubWorkflow() {
		return in.runSubWorkflow(ctx, state.StateMachine, input, state.Timeout(0))
	}

	ctx = worker.WithExecutionID(ctx, execCtx.ExecutionID)
	timeout := state.Timeout(in.defaultTimeout)
	start := time.Now()
	out, f := callWithTimeout(ctx, timeout, func(ctx context.Context) (any, error) {
		return in.invoker.Invoke(ctx, state.Resource, input, timeout)
	})

	outcome := "succeeded"
	if f != nil {
		outcome = f.Kind
	}
	in.metrics.TaskInvoked(state.Resource, outcome, time.Since(start))

	return out, f
}

// runSubWorkflow выполняет вложенную state machine как одну задачу.
// Родитель видит только итоговый документ или Failure.
func (in *interpreter) runSubWorkflow(ctx context.Context, name string, input any, timeout time.Duration) (any, *domain.Failure) {
	sub, err := in.catalog.Get(name)
	if err != nil {
		return nil, domain.Failuref(domain.ErrorTaskNotFound, "state machine %s is not registered", name)
	}

	id := uuid.New()
	ctx, span := in.tracer.Start(ctx, "sub-workflow "+name,
		trace.WithAttributes(
			attribute.String("stepflow.state_machine", name),
			attribute.String("stepflow.execution_id", id.String()),
		),
	)
	defer span.End()

	return callWithTimeout(ctx, timeout, func(ctx context.Context) (any, error) {
		out, f := in.run(ctx, sub, sub.Name, input, id, discard)
		if f != nil {
			return nil, f
		}
		return out, nil
	})
}

// runParallel выполняет ветки Parallel конкурентно.
//
// Каждая ветка получает копию входа и собственный ExecutionContext.
// Результат — массив выходов в порядке объявления веток. При ошибке ветки i
// отменяются только ветки с большим индексом: ветки с меньшим индексом
// доигрывают, и возвращается ошибка ветки с наименьшим индексом, независимо
// от порядка завершения.
func (in *interpreter) runParallel(ctx context.Context, state *domain.State, name string, input any, execCtx *engine.ExecutionContext, rec recorder) (any, *domain.Failure) {
	n := len(state.Branches)
	results := make([]any, n)
	failures := make([]*domain.Failure, n)

	branchCtxs := make([]context.Context, n)
	cancels := make([]context.CancelFunc, n)
	for i := range n {
		branchCtxs[i], cancels[i] = context.WithCancel(ctx)
	}
	defer func() {
		for _, cancel := range cancels {
			cancel()
		}
	}()

	var g errgroup.Group
	if in.maxBranches > 0 {
		g.SetLimit(in.maxBranches)
	}

	for i := range state.Branches {
		branch := &state.Branches[i]
		branchInput := document.Clone(input)
		branchRec := rec.branch(fmt.Sprintf("%s[%d]", name, i))

		g.Go(func() error {
			if branchCtxs[i].Err() != nil {
				failures[i] = cancelled()
				return nil
			}

			out, f := in.run(branchCtxs[i], branch, execCtx.StateMachine, branchInput, uuid.New(), branchRec)
			if f != nil {
				failures[i] = f
				if f.Kind != domain.ErrorCancelled {
					for j := i + 1; j < n; j++ {
						cancels[j]()
					}
				}
				return nil
			}
			results[i] = out
			return nil
		})
	}
	_ = g.Wait()

	for _, f := range failures {
		if f != nil {
			return nil, f
		}
	}
	return results, nil
}

// callWithTimeout вызывает fn и ждёт результата не дольше timeout (0 — без ограничения).
//
// Истечение таймаута даёт Failure Timeout, отмена ctx — Cancelled.
// Если fn не реагирует на отмену, её результат отбрасывается.
func callWithTimeout(ctx context.Context, timeout time.Duration, fn func(context.Context) (any, error)) (any, *domain.Failure) {
	var (
		callCtx context.Context
		cancel  context.CancelFunc
	)
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		callCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	type result struct {
		out any
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := fn(callCtx)
		done <- result{out: out, err: err}
	}()

	select {
	case r := <-done:
		if r.err == nil {
			return r.out, nil
		}
		if ctx.Err() != nil {
			return nil, cancelled()
		}
		// Вложенный запуск, прерванный нашим дедлайном, сообщает Cancelled
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && !ownFailure(r.err) {
			return nil, timeoutFailure(timeout)
		}
		return nil, domain.AsFailure(r.err, domain.ErrorExecutorFailure)

	case <-callCtx.Done():
		if ctx.Err() != nil {
			return nil, cancelled()
		}
		return nil, timeoutFailure(timeout)
	}
}

// ownFailure — err несёт собственный вид ошибки задачи, а не следствие отмены.
func ownFailure(err error) bool {
	var f *domain.Failure
	return errors.As(err, &f) && f.Kind != domain.ErrorCancelled
}

func cancelled() *domain.Failure {
	return domain.NewFailure(domain.ErrorCancelled, nil)
}

func timeoutFailure(timeout time.Duration) *domain.Failure {
	return domain.Failuref(domain.ErrorTimeout, "task did not complete within %s", timeout)
}

// pathFailure приводит ошибку вычисления пути к Failure PathError.
func pathFailure(err error) *domain.Failure {
	var pe *engine.PathError
	if errors.As(err, &pe) {
		return domain.NewFailure(domain.ErrorPath, map[string]any{
			"errorMessage": pe.Error(),
			"path":         pe.Path,
		})
	}
	return domain.Failuref(domain.ErrorPath, "%v", err)
}

var _ TaskInvoker = (*worker.Registry)(nil)
