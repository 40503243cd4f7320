package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/shaiso/stepflow/internal/document"
	"github.com/shaiso/stepflow/internal/domain"
	"github.com/shaiso/stepflow/internal/worker"
)

// Идентификаторы задач.
const (
	TaskFirst  = "first"
	TaskSecond = "second"
	TaskThird  = "third"
	TaskError  = "error"
	TaskDelay  = "delay"
)

// FirstObjectKey — ключ объекта, который записывает обработчик first.
const FirstObjectKey = "sfn_first.txt"

// DefaultBucket используется, если бакет не задан.
const DefaultBucket = "stepflow"

// Config — зависимости обработчиков.
type Config struct {
	// Store — объектное хранилище. Default: MemoryStore.
	Store ObjectStore

	// Bucket — бакет для объектов. Default: "stepflow"
	Bucket string

	// Rand — источник случайного значения для first. Default: rand.Float64
	Rand func() float64

	// Logger
	Logger *slog.Logger
}

// Handlers — обработчики задач демонстрационного пайплайна.
type Handlers struct {
	store  ObjectStore
	bucket string
	rand   func() float64
	logger *slog.Logger
}

// New создаёт обработчики.
func New(cfg Config) *Handlers {
	h := &Handlers{
		store:  cfg.Store,
		bucket: cfg.Bucket,
		rand:   cfg.Rand,
		logger: cfg.Logger,
	}
	if h.store == nil {
		h.store = NewMemoryStore()
	}
	if h.bucket == "" {
		h.bucket = DefaultBucket
	}
	if h.rand == nil {
		h.rand = rand.Float64
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h
}

// Register регистрирует все обработчики в реестре.
func (h *Handlers) Register(r *worker.Registry) error {
	for id, fn := range map[string]worker.ExecutorFunc{
		TaskFirst:     h.First,
		TaskSecond:    h.Second,
		TaskThird:     h.Third,
		TaskError:     h.Error,
		TaskDelay:     Delay,
		TaskTransform: Transform,
	} {
		if err := r.Register(id, fn); err != nil {
			return err
		}
	}
	return nil
}

// First записывает сообщение со случайным значением в хранилище.
//
// Вход: {"message": "..."}
// Выход: {"body": "<message> \n value: <rand>", "message": "..."}
func (h *Handlers) First(ctx context.Context, input any) (any, error) {
	obj, err := asObject(input)
	if err != nil {
		return nil, err
	}
	message := getString(obj, "message")
	body := fmt.Sprintf("%s \n value: %v", message, h.rand())

	if err := h.store.PutObject(ctx, h.bucket, FirstObjectKey, []byte(body)); err != nil {
		return nil, fmt.Errorf("put object %s: %w", FirstObjectKey, err)
	}
	h.logger.Debug("object stored", "bucket", h.bucket, "key", FirstObjectKey)

	return map[string]any{
		"body":    body,
		"message": message,
	}, nil
}

// Second падает с ошибкой Exception на чётном parallel_no.
//
// Вход: {"parallel_no": n, "message": "...", "const_value": ...}
// Выход: {"message": "...", "const_value": ...}
func (h *Handlers) Second(_ context.Context, input any) (any, error) {
	obj, err := asObject(input)
	if err != nil {
		return nil, err
	}
	n, ok := getInt(obj, "parallel_no")
	if !ok {
		return nil, fmt.Errorf("%w: parallel_no is required", ErrInvalidInput)
	}
	if n%2 == 0 {
		return nil, domain.NewFailure(ErrorKindException, map[string]any{
			"errorMessage": fmt.Sprintf("parallel_no %d is even", n),
			"errorType":    ErrorKindException,
		})
	}
	return map[string]any{
		"message":     obj["message"],
		"const_value": obj["const_value"],
	}, nil
}

// Third возвращает результат second вместе с номером ветки.
//
// Вход: {"second_result": {...}, "parallel_no": n}
// Выход: поля second_result и "parallel_no"
func (h *Handlers) Third(_ context.Context, input any) (any, error) {
	obj, err := asObject(input)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any)
	for k, v := range getMap(obj, "second_result") {
		out[k] = v
	}
	if n, ok := obj["parallel_no"]; ok {
		out["parallel_no"] = n
	}
	return out, nil
}

// Error возвращает причину перехваченной ошибки.
//
// Вход — запись об ошибке {"error": ..., "cause": ...}.
// Причина-строка с JSON внутри раскодируется.
// Выход: {"error_message": <cause>}
func (h *Handlers) Error(_ context.Context, input any) (any, error) {
	obj, err := asObject(input)
	if err != nil {
		return nil, err
	}
	cause := obj["cause"]
	if s, ok := cause.(string); ok {
		if decoded, err := document.Decode([]byte(s)); err == nil && decoded != nil {
			cause = decoded
		}
	}
	return map[string]any{"error_message": cause}, nil
}

// Delay приостанавливает выполнение и возвращает вход без изменений.
//
// Вход: {"duration_ms": N} или {"duration_sec": N}.
func Delay(ctx context.Context, input any) (any, error) {
	obj, err := asObject(input)
	if err != nil {
		return nil, err
	}

	var duration time.Duration
	if sec, ok := getInt(obj, "duration_sec"); ok && sec > 0 {
		duration = time.Duration(sec) * time.Second
	} else if ms, ok := getInt(obj, "duration_ms"); ok && ms > 0 {
		duration = time.Duration(ms) * time.Millisecond
	} else {
		return nil, fmt.Errorf("%w: duration_sec or duration_ms required", ErrInvalidInput)
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return input, nil
	}
}
