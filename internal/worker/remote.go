package worker

import (
	"context"

	"github.com/google/uuid"

	"github.com/shaiso/stepflow/internal/document"
	"github.com/shaiso/stepflow/internal/domain"
	"github.com/shaiso/stepflow/internal/mq"
)

// Caller — RPC-вызов задачи (реализуется mq.RPCClient).
type Caller interface {
	Call(ctx context.Context, req mq.TaskInvokePayload) (*mq.TaskResultPayload, error)
}

// RemoteDispatcher выполняет задачи на удалённых воркерах через RabbitMQ RPC.
type RemoteDispatcher struct {
	caller Caller
}

// NewRemoteDispatcher создаёт RemoteDispatcher.
func NewRemoteDispatcher(caller Caller) *RemoteDispatcher {
	return &RemoteDispatcher{caller: caller}
}

// Dispatch отправляет задачу воркеру и возвращает его результат.
func (d *RemoteDispatcher) Dispatch(ctx context.Context, taskID string, input any) (any, error) {
	res, err := d.caller.Call(ctx, mq.TaskInvokePayload{
		TaskID:      taskID,
		ExecutionID: executionIDFrom(ctx),
		Input:       input,
	})
	if err != nil {
		return nil, err
	}
	return fromResult(res)
}

// fromResult преобразует ответ воркера в результат или Failure.
func fromResult(res *mq.TaskResultPayload) (any, error) {
	if res.Error != "" {
		cause, err := document.Normalize(res.Cause)
		if err != nil {
			cause = res.Cause
		}
		return nil, domain.NewFailure(res.Error, cause)
	}
	return res.Output, nil
}

// toResult преобразует результат локального вызова в ответ воркера.
func toResult(out any, err error) mq.TaskResultPayload {
	if err != nil {
		f := domain.AsFailure(err, domain.ErrorExecutorFailure)
		return mq.TaskResultPayload{Error: f.Kind, Cause: f.Cause}
	}
	return mq.TaskResultPayload{Output: out}
}

type executionIDKey struct{}

// WithExecutionID добавляет ID выполнения в контекст вызова задачи.
func WithExecutionID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, executionIDKey{}, id)
}

func executionIDFrom(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(executionIDKey{}).(uuid.UUID)
	return id
}
