package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/stepflow/internal/mq"
)

// Default configuration values.
const (
	defaultPrefetch    = 5
	defaultTaskTimeout = 5 * time.Minute
)

// Worker выполняет задачи по запросам из очереди tasks.invoke.
//
// Worker — stateless компонент, который:
//   - Получает запросы task.invoke из RabbitMQ
//   - Выполняет задачу локальным executor'ом из Registry
//   - Отправляет результат в reply-to запроса
//
// Workers масштабируются горизонтально — несколько экземпляров
// могут потреблять из одной очереди.
type Worker struct {
	// MQ
	publisher *mq.Publisher
	conn      *mq.Connection

	// Executor registry
	registry *Registry

	// Consumer
	consumer *mq.Consumer

	// Configuration
	prefetch       int
	defaultTimeout time.Duration

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Worker.
type Config struct {
	// MQ
	Publisher *mq.Publisher
	Conn      *mq.Connection

	// Registry — локальные executor'ы (обязательно).
	Registry *Registry

	// Prefetch — количество одновременно обрабатываемых запросов (default: 5).
	Prefetch int

	// DefaultTimeout — таймаут задачи, если запрос его не содержит (default: 5m).
	DefaultTimeout time.Duration

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Worker.
func New(cfg Config) *Worker {
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = defaultPrefetch
	}

	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = defaultTaskTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry(logger)
	}

	return &Worker{
		publisher:      cfg.Publisher,
		conn:           cfg.Conn,
		registry:       registry,
		prefetch:       prefetch,
		defaultTimeout: timeout,
		logger:         logger,
	}
}

// Start запускает Worker.
func (w *Worker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	w.logger.Info("starting worker",
		"prefetch", w.prefetch,
		"tasks", w.registry.TaskIDs(),
	)

	w.consumer = mq.NewConsumer(w.conn, mq.ConsumerConfig{
		Queue:    string(mq.QueueTasksInvoke),
		Handler:  w.handleTaskInvoke,
		Prefetch: w.prefetch,
		Logger:   w.logger,
	})

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("task consumer error", "error", err)
		}
	}()

	w.logger.Info("worker started")
	return nil
}

// Stop останавливает Worker.
func (w *Worker) Stop() {
	w.stoppedMu.Lock()
	w.stopped = true
	w.stoppedMu.Unlock()

	w.logger.Info("stopping worker...")

	if w.cancelFunc != nil {
		w.cancelFunc()
	}

	if w.consumer != nil {
		w.consumer.Stop()
	}

	w.wg.Wait()

	w.logger.Info("worker stopped")
}

// IsStopped проверяет, остановлен ли Worker.
func (w *Worker) IsStopped() bool {
	w.stoppedMu.RLock()
	defer w.stoppedMu.RUnlock()
	return w.stopped
}

// handleTaskInvoke обрабатывает запрос task.invoke.
//
// Ошибка задачи — это нормальный ответ (Error/Cause), а не ошибка обработки:
// сообщение подтверждается в любом случае, кроме некорректного payload.
// Остановленный воркер возвращает запрос в очередь для другого экземпляра.
func (w *Worker) handleTaskInvoke(ctx context.Context, delivery *mq.Delivery) error {
	if w.IsStopped() {
		return fmt.Errorf("%w: %w", mq.ErrRequeue, ErrWorkerStopped)
	}

	payload, err := mq.ParsePayload[mq.TaskInvokePayload](&delivery.Message)
	if err != nil {
		w.logger.Error("failed to parse task.invoke payload", "error", err)
		return err
	}

	res := w.invoke(ctx, payload)

	if delivery.ReplyTo() == "" {
		w.logger.Warn("task.invoke without reply-to, result dropped", "task", payload.TaskID)
		return nil
	}

	if err := w.publisher.Reply(ctx, delivery.ReplyTo(), delivery.CorrelationID(), res); err != nil {
		// Вызывающая сторона получит Timeout; повторять задачу не нужно
		w.logger.Warn("failed to publish task result",
			"task", payload.TaskID,
			"correlation_id", delivery.CorrelationID(),
			"error", err,
		)
	}
	return nil
}

// invoke выполняет задачу из запроса локальным реестром.
func (w *Worker) invoke(ctx context.Context, payload mq.TaskInvokePayload) mq.TaskResultPayload {
	timeout := w.defaultTimeout
	if payload.TimeoutMs > 0 {
		timeout = time.Duration(payload.TimeoutMs) * time.Millisecond
	}

	logger := w.logger.With("task", payload.TaskID, "execution_id", payload.ExecutionID)
	logger.Debug("executing task", "timeout", timeout)

	ctx = WithExecutionID(ctx, payload.ExecutionID)
	start := time.Now()
	out, err := w.registry.Invoke(ctx, payload.TaskID, payload.Input, timeout)

	res := toResult(out, err)
	if res.Error != "" {
		logger.Info("task failed", "error", res.Error, "duration", time.Since(start))
	} else {
		logger.Debug("task succeeded", "duration", time.Since(start))
	}
	return res
}
