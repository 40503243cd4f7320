package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/stepflow/internal/document"
)

// DirectReplyTo — псевдо-очередь RabbitMQ для ответов без объявления очереди.
// Публикация и потребление ответов должны идти через один и тот же канал.
const DirectReplyTo = "amq.rabbitmq.reply-to"

// RPCClient вызывает задачи на воркерах через RabbitMQ.
//
// Запрос публикуется в stepflow.tasks/invoke с ReplyTo = amq.rabbitmq.reply-to
// и уникальным CorrelationId; ответ сопоставляется с ожидающим вызовом
// по CorrelationId. Канал открывается лениво и переоткрывается после разрыва.
type RPCClient struct {
	conn   *Connection
	logger *slog.Logger

	mu      sync.Mutex
	ch      *amqp.Channel
	pending map[string]chan TaskResultPayload
}

// NewRPCClient создаёт RPC-клиент.
func NewRPCClient(conn *Connection, logger *slog.Logger) *RPCClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &RPCClient{
		conn:    conn,
		logger:  logger,
		pending: make(map[string]chan TaskResultPayload),
	}
}

// Call публикует запрос на выполнение задачи и ждёт ответа.
//
// Таймаут задаётся через ctx: по его истечении вызов возвращает ctx.Err(),
// а сообщение запроса истекает в очереди (Expiration).
func (c *RPCClient) Call(ctx context.Context, req TaskInvokePayload) (*TaskResultPayload, error) {
	ch, err := c.channel()
	if err != nil {
		return nil, err
	}

	corrID := uuid.New().String()
	reply := make(chan TaskResultPayload, 1)

	c.mu.Lock()
	c.pending[corrID] = reply
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, corrID)
		c.mu.Unlock()
	}()

	var expiration string
	if deadline, ok := ctx.Deadline(); ok {
		ms := time.Until(deadline).Milliseconds()
		if ms <= 0 {
			return nil, context.DeadlineExceeded
		}
		req.TimeoutMs = ms
		expiration = strconv.FormatInt(ms, 10)
	}

	msg := &Message{
		ID:        corrID,
		Type:      MessageTypeTaskInvoke,
		Payload:   req,
		Timestamp: time.Now(),
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	err = ch.PublishWithContext(
		ctx,
		string(ExchangeTasks),
		string(RoutingKeyInvoke),
		false,
		false,
		amqp.Publishing{
			ContentType:   "application/json",
			CorrelationId: corrID,
			ReplyTo:       DirectReplyTo,
			MessageId:     msg.ID,
			Timestamp:     msg.Timestamp,
			Expiration:    expiration,
			Body:          body,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("publish invoke %s: %w", req.TaskID, err)
	}

	c.logger.Debug("task invoke published",
		"task", req.TaskID,
		"correlation_id", corrID,
	)

	select {
	case res := <-reply:
		return &res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// channel возвращает канал RPC, открывая его при необходимости.
func (c *RPCClient) channel() (*amqp.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ch != nil && !c.ch.IsClosed() {
		return c.ch, nil
	}

	ch, err := c.conn.OpenChannel()
	if err != nil {
		return nil, err
	}

	deliveries, err := ch.Consume(
		DirectReplyTo, // queue
		"",            // consumer tag
		true,          // auto-ack (обязательно для direct reply-to)
		false,         // exclusive
		false,         // no-local
		false,         // no-wait
		nil,           // args
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("consume replies: %w", err)
	}

	c.ch = ch
	go c.dispatch(deliveries)

	return ch, nil
}

// dispatch доставляет ответы ожидающим вызовам до закрытия канала.
func (c *RPCClient) dispatch(deliveries <-chan amqp.Delivery) {
	for d := range deliveries {
		res, err := decodeResult(d.Body)
		if err != nil {
			c.logger.Warn("invalid task result", "correlation_id", d.CorrelationId, "error", err)
			continue
		}

		c.mu.Lock()
		reply, ok := c.pending[d.CorrelationId]
		c.mu.Unlock()

		if !ok {
			// Вызов уже завершился по таймауту
			c.logger.Debug("late task result dropped", "correlation_id", d.CorrelationId)
			continue
		}

		select {
		case reply <- res:
		default:
		}
	}

	c.logger.Debug("rpc reply channel closed")
}

// Close закрывает канал RPC.
func (c *RPCClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ch == nil {
		return nil
	}
	err := c.ch.Close()
	c.ch = nil
	return err
}

func decodeResult(body []byte) (TaskResultPayload, error) {
	var msg Message
	if err := document.Unmarshal(body, &msg); err != nil {
		return TaskResultPayload{}, fmt.Errorf("unmarshal message: %w", err)
	}
	return ParsePayload[TaskResultPayload](&msg)
}
