package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/stepflow/internal/document"
)

// Handler обрабатывает одно сообщение.
//
// nil — сообщение подтверждается. Ошибка, обёрнутая в ErrRequeue, —
// сообщение возвращается в очередь. Любая другая ошибка отклоняет
// сообщение без повтора (в DLX очереди, если он настроен).
type Handler func(ctx context.Context, d *Delivery) error

// Delivery — декодированное сообщение очереди.
type Delivery struct {
	Message Message

	replyTo       string
	correlationID string
	redelivered   bool
}

// ReplyTo возвращает очередь для ответа RPC.
func (d *Delivery) ReplyTo() string { return d.replyTo }

// CorrelationID возвращает correlation id запроса.
func (d *Delivery) CorrelationID() string { return d.correlationID }

// Redelivered сообщает, что брокер уже доставлял это сообщение.
func (d *Delivery) Redelivered() bool { return d.redelivered }

// ConsumerConfig — конфигурация Consumer.
type ConsumerConfig struct {
	// Queue — имя очереди (обязательно).
	Queue string

	// Handler — обработчик сообщений (обязательно).
	Handler Handler

	// Prefetch — Qos канала и число одновременно выполняемых
	// обработчиков (default: 1).
	Prefetch int

	Logger *slog.Logger
}

// Consumer потребляет очередь на собственном канале и обрабатывает до
// Prefetch сообщений параллельно. После разрыва соединения подписка
// восстанавливается по сигналу Connection.Reconnected.
type Consumer struct {
	conn     *Connection
	logger   *slog.Logger
	queue    string
	handler  Handler
	prefetch int

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewConsumer создаёт Consumer.
func NewConsumer(conn *Connection, cfg ConsumerConfig) *Consumer {
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Consumer{
		conn:     conn,
		logger:   logger.With("queue", cfg.Queue),
		queue:    cfg.Queue,
		handler:  cfg.Handler,
		prefetch: prefetch,
	}
}

// Start потребляет очередь до отмены ctx, Stop или Close соединения.
// Перед возвратом дожидается завершения начатых обработчиков.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	c.mu.Lock()
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	defer close(done)
	defer cancel()

	for {
		// Запоминаем сигнал до подписки, чтобы не пропустить
		// переподключение, случившееся во время subscribe.
		reconnected := c.conn.Reconnected()

		err := c.subscribe(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("consumer interrupted, waiting for reconnect", "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.conn.Done():
			return ErrNotConnected
		case <-reconnected:
			c.logger.Info("reconnected, restarting consumer")
		}
	}
}

// subscribe открывает канал, подписывается и обрабатывает доставки,
// пока канал жив. Начатые обработчики дожидаются до возврата.
func (c *Consumer) subscribe(ctx context.Context) error {
	ch, err := c.conn.OpenChannel()
	if err != nil {
		return err
	}
	defer func() {
		if !ch.IsClosed() {
			ch.Close()
		}
	}()

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx,
		c.queue, // queue
		"",      // consumer tag
		false,   // auto-ack
		false,   // exclusive
		false,   // no-local
		false,   // no-wait
		nil,     // args
	)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}

	c.logger.Info("consumer started", "prefetch", c.prefetch)

	// Ошибки обработчиков не останавливают группу: каждая доставка
	// подтверждается или отклоняется сама по себе.
	var g errgroup.Group
	g.SetLimit(c.prefetch)
	defer g.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-deliveries:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			g.Go(func() error {
				c.handle(ctx, raw)
				return nil
			})
		}
	}
}

// handle декодирует доставку, вызывает обработчик и подтверждает или
// отклоняет сообщение по результату.
func (c *Consumer) handle(ctx context.Context, raw amqp.Delivery) {
	msg, err := decodeMessage(raw.Body)
	if err != nil {
		c.logger.Error("dropping malformed message", "error", err, "message_id", raw.MessageId)
		c.settle(raw, err)
		return
	}

	d := &Delivery{
		Message:       msg,
		replyTo:       raw.ReplyTo,
		correlationID: raw.CorrelationId,
		redelivered:   raw.Redelivered,
	}

	c.logger.Debug("received message", "message_id", msg.ID, "type", msg.Type, "redelivered", raw.Redelivered)

	err = c.handler(ctx, d)
	if err != nil && !errors.Is(err, ErrRequeue) {
		c.logger.Error("handler failed", "message_id", msg.ID, "type", msg.Type, "error", err)
	}
	c.settle(raw, err)
}

// settle подтверждает доставку по результату обработки.
func (c *Consumer) settle(raw amqp.Delivery, err error) {
	var serr error
	switch {
	case err == nil:
		serr = raw.Ack(false)
	case errors.Is(err, ErrRequeue):
		serr = raw.Nack(false, true)
	default:
		serr = raw.Nack(false, false)
	}
	if serr != nil {
		// Канал уже закрыт: брокер вернёт сообщение в очередь сам
		c.logger.Warn("failed to settle delivery", "delivery_tag", raw.DeliveryTag, "error", serr)
	}
}

// Stop прерывает Start и ждёт его завершения.
func (c *Consumer) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func decodeMessage(body []byte) (Message, error) {
	var msg Message
	if err := document.Unmarshal(body, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if msg.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}
	return msg, nil
}

// ParsePayload приводит Payload сообщения к типу T.
//
// После декодирования Payload — это map[string]any, поэтому значение
// перекодируется через JSON. Числа остаются json.Number, поля-документы
// приводятся к канонической форме получателем (document.Normalize).
func ParsePayload[T any](msg *Message) (T, error) {
	var result T

	data, err := json.Marshal(msg.Payload)
	if err != nil {
		return result, fmt.Errorf("marshal payload: %w", err)
	}
	if err := document.Unmarshal(data, &result); err != nil {
		return result, fmt.Errorf("unmarshal payload: %w", err)
	}
	return result, nil
}
