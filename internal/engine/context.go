package engine

import (
	"time"

	"github.com/google/uuid"
)

// ExecutionContext — метаданные выполнения, доступные через пути "$$...".
//
// Каждое выполнение (включая ветки Parallel и sub-workflow) имеет собственный
// контекст. Контекст принадлежит циклу интерпретации своего выполнения и
// не разделяется между горутинами.
type ExecutionContext struct {
	ExecutionID  uuid.UUID
	StateMachine string
	Input        any
	StartTime    time.Time

	stateName   string
	enteredTime time.Time
	retryCount  int
}

// NewExecutionContext создаёт контекст нового выполнения.
func NewExecutionContext(id uuid.UUID, stateMachine string, input any) *ExecutionContext {
	return &ExecutionContext{
		ExecutionID:  id,
		StateMachine: stateMachine,
		Input:        input,
		StartTime:    time.Now().UTC(),
	}
}

// EnterState фиксирует вход в состояние и сбрасывает счётчик повторов.
func (c *ExecutionContext) EnterState(name string) {
	c.stateName = name
	c.enteredTime = time.Now().UTC()
	c.retryCount = 0
}

// SetRetryCount устанавливает номер текущего повтора состояния.
func (c *ExecutionContext) SetRetryCount(n int) {
	c.retryCount = n
}

// Document возвращает контекст в виде документа:
//
//	{
//	  "Execution":    {"Id", "Name", "Input", "StartTime"},
//	  "State":        {"Name", "EnteredTime", "RetryCount"},
//	  "StateMachine": {"Name"}
//	}
func (c *ExecutionContext) Document() map[string]any {
	return map[string]any{
		"Execution": map[string]any{
			"Id":        c.ExecutionID.String(),
			"Name":      c.ExecutionID.String(),
			"Input":     c.Input,
			"StartTime": c.StartTime.Format(time.RFC3339Nano),
		},
		"State": map[string]any{
			"Name":        c.stateName,
			"EnteredTime": c.enteredTime.Format(time.RFC3339Nano),
			"RetryCount":  float64(c.retryCount),
		},
		"StateMachine": map[string]any{
			"Name": c.StateMachine,
		},
	}
}
