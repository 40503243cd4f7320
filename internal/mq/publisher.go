package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/stepflow/internal/domain"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeTaskInvoke      MessageType = "task.invoke"
	MessageTypeTaskResult      MessageType = "task.result"
	MessageTypeExecutionPrefix MessageType = "execution."
)

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Message — сообщение для публикации.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// TaskInvokePayload — payload запроса на выполнение задачи.
type TaskInvokePayload struct {
	TaskID      string    `json:"task_id"`
	ExecutionID uuid.UUID `json:"execution_id,omitempty"`
	Input       any       `json:"input"`
	TimeoutMs   int64     `json:"timeout_ms,omitempty"`
}

// TaskResultPayload — payload ответа воркера.
// Error пустой — задача успешна и Output содержит результат.
type TaskResultPayload struct {
	Output any    `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
	Cause  any    `json:"cause,omitempty"`
}

// ExecutionEventPayload — payload события жизненного цикла выполнения.
type ExecutionEventPayload struct {
	ExecutionID  uuid.UUID              `json:"execution_id"`
	StateMachine string                 `json:"state_machine"`
	Status       domain.ExecutionStatus `json:"status"`
	Output       any                    `json:"output,omitempty"`
	Failure      *domain.Failure        `json:"failure,omitempty"`
	StartedAt    *time.Time             `json:"started_at,omitempty"`
	FinishedAt   *time.Time             `json:"finished_at,omitempty"`
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent, // сообщение переживёт рестарт RabbitMQ
				MessageId:    msg.ID,
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)

		return nil
	})
}

// PublishExecutionEvent публикует событие о смене статуса выполнения.
// Routing key: execution.<status>, например execution.succeeded.
// Потребители: внешние подписчики очереди executions.events.
func (p *Publisher) PublishExecutionEvent(ctx context.Context, exec *domain.Execution) error {
	status := strings.ToLower(string(exec.Status))
	msg := &Message{
		ID:   uuid.New().String(),
		Type: MessageTypeExecutionPrefix + MessageType(status),
		Payload: ExecutionEventPayload{
			ExecutionID:  exec.ID,
			StateMachine: exec.StateMachine,
			Status:       exec.Status,
			Output:       exec.Output,
			Failure:      exec.Failure,
			StartedAt:    exec.StartedAt,
			FinishedAt:   exec.FinishedAt,
		},
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeExecutions, RoutingKeyExecutionPrefix+RoutingKey(status), msg)
}

// Reply публикует ответ на RPC-запрос в очередь replyTo через default exchange.
// Ответ не persistent: запрашивающая сторона ждёт его только в рамках таймаута.
func (p *Publisher) Reply(ctx context.Context, replyTo, correlationID string, payload TaskResultPayload) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeTaskResult,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal reply: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			"",      // default exchange
			replyTo, // routing key = имя очереди ответа
			false,
			false,
			amqp.Publishing{
				ContentType:   "application/json",
				CorrelationId: correlationID,
				MessageId:     msg.ID,
				Timestamp:     msg.Timestamp,
				Body:          body,
			},
		)
		if err != nil {
			return fmt.Errorf("reply to %s: %w", replyTo, err)
		}

		p.logger.Debug("published reply",
			"reply_to", replyTo,
			"correlation_id", correlationID,
		)
		return nil
	})
}
